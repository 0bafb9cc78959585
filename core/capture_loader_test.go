package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/meshtopo/model"
)

const sampleCapture = `{
  "local": {"hash": "f0000000", "latitude": 47.0, "longitude": 8.0},
  "packets": [
    {"packet_hash": "p1", "src_hash": "A1000001", "forwarded_path": ["B2"], "timestamp": 1000, "snr": 6.5, "route_type": 1},
    {"id": "p2", "src": "N1", "original_path": "A1,B2", "timestamp": 1010, "type": "ADVERT", "lat": 47.1, "lon": 8.1},
    {"packet_hash": "p3", "forwarded_path": 42},
    {"src_hash": "A1000001"},
    "garbage"
  ],
  "neighbors": {
    "a1000001": {"name": "N1", "role": 2, "latitude": 47.01, "longitude": 8.0, "advert_count": 4, "last_seen": 990},
    "B2000002": {"role": "room_server", "snr": -3.5},
    "C3000003": {"role": {"nested": true}}
  }
}`

func TestLoadCaptureJSON(t *testing.T) {
	c, sum, err := LoadCaptureJSON(strings.NewReader(sampleCapture))
	if err != nil {
		t.Fatalf("LoadCaptureJSON() error = %v", err)
	}
	if sum.Packets != 2 || sum.SkippedPackets != 3 {
		t.Fatalf("packet summary = %+v", sum)
	}
	if sum.Neighbors != 2 || sum.SkippedNeighbors != 1 {
		t.Fatalf("neighbor summary = %+v", sum)
	}
	if c.LocalHash != "F0000000" || c.LocalPosition == nil || c.LocalPosition.Lat != 47.0 {
		t.Fatalf("local = %q %v", c.LocalHash, c.LocalPosition)
	}

	p1 := c.Input.Packets[0]
	if p1.RouteType != "1" || p1.SNR == nil || *p1.SNR != 6.5 {
		t.Fatalf("p1 = %+v", p1)
	}
	p2 := c.Input.Packets[1]
	if p2.PacketHash != "p2" || p2.SrcHash != "N1" || len(p2.OriginalPath) != 2 || p2.OriginalPath[1] != "B2" {
		t.Fatalf("p2 = %+v", p2)
	}
	if !p2.HasPosition() || p2.PayloadType != "ADVERT" {
		t.Fatalf("p2 position/type not decoded: %+v", p2)
	}

	a1, ok := c.Input.Directory["A1000001"]
	if !ok || a1.Role != model.RoleRepeater || a1.Name != "N1" || a1.AdvertCount != 4 {
		t.Fatalf("A1000001 = %+v (found %v)", a1, ok)
	}
	if c.Input.Directory["B2000002"].Role != model.RoleRoomServer {
		t.Fatalf("B2000002 role = %q", c.Input.Directory["B2000002"].Role)
	}
}

func TestLoadCaptureJSONNeighborList(t *testing.T) {
	doc := `{"neighbors": [{"public_key": "abcd1234"}, {"name": "no hash"}]}`
	c, sum, err := LoadCaptureJSON(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadCaptureJSON() error = %v", err)
	}
	if _, ok := c.Input.Directory["ABCD1234"]; !ok || sum.SkippedNeighbors != 1 {
		t.Fatalf("directory = %v, summary = %+v", c.Input.Directory, sum)
	}
}

func TestLoadCaptureJSONRejectsNonJSON(t *testing.T) {
	_, _, err := LoadCaptureJSON(strings.NewReader("not json"))
	if !errors.Is(err, ErrInvalidCapture) {
		t.Fatalf("error = %v, want ErrInvalidCapture", err)
	}
	_, _, err = LoadCaptureJSON(strings.NewReader(`{"neighbors": 7}`))
	if !errors.Is(err, ErrInvalidCapture) {
		t.Fatalf("error = %v, want ErrInvalidCapture", err)
	}
}

func TestLoadCaptureJSONCaseFoldedKeysAreDeterministic(t *testing.T) {
	const doc = `{"neighbors": {
  "a1000001": {"latitude": 47.1, "longitude": 8.1},
  "A1000001": {"latitude": 47.2, "longitude": 8.2}
}}`
	for i := 0; i < 25; i++ {
		c, sum, err := LoadCaptureJSON(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadCaptureJSON() error = %v", err)
		}
		if sum.Neighbors != 1 {
			t.Fatalf("Neighbors = %d, want keys folded to 1", sum.Neighbors)
		}
		n := c.Input.Directory["A1000001"]
		if n.Latitude == nil || *n.Latitude != 47.1 {
			t.Fatalf("run %d kept latitude %v, want 47.1 from the last sorted key", i, n.Latitude)
		}
	}
}
