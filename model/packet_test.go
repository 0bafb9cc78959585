package model

import "testing"

func TestObservedPacketPathPrefersForwarded(t *testing.T) {
	p := ObservedPacket{ForwardedPath: []string{"AA", "BB"}, OriginalPath: []string{"AA"}}
	if got := p.Path(); len(got) != 2 {
		t.Fatalf("Path() = %v, want forwarded path", got)
	}
	p.ForwardedPath = nil
	if got := p.Path(); len(got) != 1 || got[0] != "AA" {
		t.Fatalf("Path() = %v, want original path", got)
	}
}

func TestObservedPacketCloneIsDeep(t *testing.T) {
	snr := 4.5
	p := ObservedPacket{PacketHash: "p1", ForwardedPath: []string{"AA"}, SNR: &snr}
	c := p.Clone()
	c.ForwardedPath[0] = "ZZ"
	*c.SNR = -1
	if p.ForwardedPath[0] != "AA" {
		t.Fatalf("clone shares path slice")
	}
	if *p.SNR != 4.5 {
		t.Fatalf("clone shares SNR pointer")
	}
}

func TestParseNodeRole(t *testing.T) {
	cases := map[string]NodeRole{
		"repeater":    RoleRepeater,
		"room-server": RoleRoomServer,
		"chat":        RoleCompanion,
		"sensor":      RoleSensor,
		"":            RoleUnknown,
		"bogus":       RoleUnknown,
	}
	for in, want := range cases {
		if got := ParseNodeRole(in); got != want {
			t.Fatalf("ParseNodeRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNeighborDirectoryClone(t *testing.T) {
	lat, lon := 1.0, 2.0
	d := NeighborDirectory{"H1": {Hash: "H1", Latitude: &lat, Longitude: &lon}}
	c := d.Clone()
	*c["H1"].Latitude = 9
	if *d["H1"].Latitude != 1 {
		t.Fatalf("directory clone shares coordinates")
	}
}
