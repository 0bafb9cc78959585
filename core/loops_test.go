package core

import (
	"reflect"
	"testing"
)

func TestDetectLoopsLineHasNone(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	topo := validatedGraph(cfg, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "D"}, [2]string{"D", "E"})
	r := DetectLoops(topo, cfg.MaxLoopLength, cfg.MaxLoops)
	if len(r.Loops) != 0 || len(r.EdgeKeys) != 0 {
		t.Fatalf("line topology produced loops: %+v", r)
	}
}

func TestDetectLoopsRingOfFour(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	topo := validatedGraph(cfg, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "D"}, [2]string{"D", "A"})
	r := DetectLoops(topo, cfg.MaxLoopLength, cfg.MaxLoops)
	if len(r.Loops) != 1 {
		t.Fatalf("len(Loops) = %d, want 1", len(r.Loops))
	}
	l := r.Loops[0]
	if l.Length != 4 || !reflect.DeepEqual(l.Nodes, []string{"A", "B", "C", "D"}) {
		t.Fatalf("loop = %+v", l)
	}
	wantKeys := []string{"A|B", "A|D", "B|C", "C|D"}
	if !reflect.DeepEqual(r.EdgeKeys, wantKeys) {
		t.Fatalf("EdgeKeys = %v, want %v", r.EdgeKeys, wantKeys)
	}
	if l.WeakestCertain != cfg.ValidationThreshold {
		t.Fatalf("WeakestCertain = %d", l.WeakestCertain)
	}
}

func TestDetectLoopsIgnoresWeakEdges(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	paths := append(repeatPath(certainPath("A", "B"), 5), repeatPath(certainPath("B", "C"), 5)...)
	paths = append(paths, certainPath("C", "A"))
	topo := BuildTopology(paths, cfg)
	if r := DetectLoops(topo, 6, 10); len(r.Loops) != 0 {
		t.Fatalf("loop closed over a weak edge: %+v", r.Loops)
	}
}

func TestDetectLoopsSharedEdgeKeepsCyclesSeparate(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	topo := validatedGraph(cfg,
		[2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "D"}, [2]string{"D", "A"},
		[2]string{"B", "E"}, [2]string{"E", "F"}, [2]string{"F", "C"},
	)

	r := DetectLoops(topo, 6, 100)
	ids := make([]string, len(r.Loops))
	for i, l := range r.Loops {
		ids[i] = l.ID
	}
	want := []string{"A>B>C>D", "B>C>F>E", "A>B>E>F>C>D"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("loop IDs = %v, want %v", ids, want)
	}

	short := DetectLoops(topo, 5, 100)
	if len(short.Loops) != 2 {
		t.Fatalf("depth 5 found %d loops, want 2", len(short.Loops))
	}
}

func TestDetectLoopsTruncates(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	// K4 has four triangles and three squares.
	topo := validatedGraph(cfg,
		[2]string{"A", "B"}, [2]string{"A", "C"}, [2]string{"A", "D"},
		[2]string{"B", "C"}, [2]string{"B", "D"}, [2]string{"C", "D"},
	)
	full := DetectLoops(topo, 6, 100)
	if len(full.Loops) != 7 || full.Truncated {
		t.Fatalf("K4 loops = %d (truncated %v), want 7", len(full.Loops), full.Truncated)
	}
	capped := DetectLoops(topo, 6, 3)
	if len(capped.Loops) != 3 || !capped.Truncated {
		t.Fatalf("capped loops = %d (truncated %v), want 3 truncated", len(capped.Loops), capped.Truncated)
	}
}

func TestDetectLoopsCapReachedExactlyIsNotTruncated(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	topo := validatedGraph(cfg, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"A", "C"})

	r := DetectLoops(topo, 6, 1)
	if len(r.Loops) != 1 || r.Truncated {
		t.Fatalf("triangle with cap 1: loops = %d (truncated %v), want 1 complete", len(r.Loops), r.Truncated)
	}

	// K4 holds exactly seven loops.
	k4 := validatedGraph(cfg,
		[2]string{"A", "B"}, [2]string{"A", "C"}, [2]string{"A", "D"},
		[2]string{"B", "C"}, [2]string{"B", "D"}, [2]string{"C", "D"},
	)
	if r := DetectLoops(k4, 6, 7); len(r.Loops) != 7 || r.Truncated {
		t.Fatalf("K4 with cap 7: loops = %d (truncated %v), want 7 complete", len(r.Loops), r.Truncated)
	}
}

func TestCanonicalCycle(t *testing.T) {
	cases := [][]string{
		{"C", "D", "A", "B"},
		{"A", "D", "C", "B"},
		{"B", "A", "D", "C"},
	}
	for _, in := range cases {
		got := canonicalCycle(in)
		if !reflect.DeepEqual(got, []string{"A", "B", "C", "D"}) {
			t.Fatalf("canonicalCycle(%v) = %v", in, got)
		}
	}
}
