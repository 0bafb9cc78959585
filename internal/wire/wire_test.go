package wire

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/model"
)

const local = "F0000000"

func ringInput() core.Input {
	dir := model.NeighborDirectory{}
	hashes := []string{"A1000001", "B2000002", "C3000003"}
	for _, h := range hashes {
		dir[h] = model.Neighbor{Hash: h}
	}
	var packets []model.ObservedPacket
	add := func(tag, src string, path ...string) {
		for i := 0; i < 6; i++ {
			snr := 4.0 + float64(i)
			packets = append(packets, model.ObservedPacket{
				PacketHash:    fmt.Sprintf("%s-%d", tag, i),
				SrcHash:       src,
				ForwardedPath: path,
				Timestamp:     float64(100 * i),
				SNR:           &snr,
			})
		}
	}
	add("a", "A1000001")
	add("b", "B2000002")
	add("ab", "A1000001", "B2")
	add("ca", "C3000003", "A1")
	add("cb", "C3000003", "B2")
	return core.Input{Packets: packets, Directory: dir}
}

func TestPairsAreKeyOrdered(t *testing.T) {
	got := Pairs(map[string]int{"b": 2, "c": 3, "a": 1})
	want := []Pair[int]{{"a", 1}, {"b", 2}, {"c", 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Pairs = %v, want %v", got, want)
	}
	if m := Map(got); len(m) != 3 || m["c"] != 3 {
		t.Fatalf("Map = %v", m)
	}
}

func TestSetListSorted(t *testing.T) {
	got := SetList(map[string]struct{}{"z": {}, "m": {}, "a": {}})
	if !reflect.DeepEqual(got, []string{"a", "m", "z"}) {
		t.Fatalf("SetList = %v", got)
	}
	if s := Set(got); len(s) != 3 {
		t.Fatalf("Set = %v", s)
	}
}

func TestEncodeIsByteStable(t *testing.T) {
	cfg := core.DefaultConfig(local)
	var prev []byte
	for i := 0; i < 3; i++ {
		res, err := core.Compute(ringInput(), cfg)
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		b, err := Marshal(Encode(res))
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if prev != nil && !bytes.Equal(prev, b) {
			t.Fatalf("run %d encoded differently", i)
		}
		prev = b
	}
}

func TestRoundTripRebuildsNativeContainers(t *testing.T) {
	res, err := core.Compute(ringInput(), core.DefaultConfig(local))
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	b, err := Marshal(Encode(res))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	w, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	got := Decode(w)

	if !reflect.DeepEqual(got.NodeHops, res.NodeHops) {
		t.Fatalf("NodeHops = %v, want %v", got.NodeHops, res.NodeHops)
	}
	if !reflect.DeepEqual(got.EdgeBetweenness, res.EdgeBetweenness) {
		t.Fatalf("EdgeBetweenness differs after round trip")
	}
	if !reflect.DeepEqual(got.LoopEdgeKeys, res.LoopEdgeKeys) || len(got.LoopEdgeKeys) != 5 {
		t.Fatalf("LoopEdgeKeys = %v, want %v", got.LoopEdgeKeys, res.LoopEdgeKeys)
	}
	if !reflect.DeepEqual(got.Loops, res.Loops) {
		t.Fatalf("Loops = %+v, want %+v", got.Loops, res.Loops)
	}
	for k, e := range res.EdgeIndex {
		ge, ok := got.EdgeIndex[k]
		if !ok {
			t.Fatalf("EdgeIndex missing %s", k)
		}
		if ge.CertainCount != e.CertainCount || ge.SNR.Mean != e.SNR.Mean || ge.HopDistance != e.HopDistance {
			t.Fatalf("edge %s = %+v, want %+v", k, ge, e)
		}
	}
}

func TestEncodeEmptyResultHasNoNullLists(t *testing.T) {
	res, err := core.Compute(core.Input{}, core.DefaultConfig(local))
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	b, _ := Marshal(Encode(res))
	if bytes.Contains(b, []byte(`"hubs":null`)) || bytes.Contains(b, []byte(`"loop_edge_keys":null`)) {
		t.Fatalf("empty result encoded null lists: %s", b)
	}
	if Encode(nil) != nil || Decode(nil) != nil {
		t.Fatalf("nil results should stay nil")
	}
}
