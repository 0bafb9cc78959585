package core

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAnalyzeCentralityLine(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	topo := validatedGraph(cfg, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "D"}, [2]string{"D", "E"})
	r := AnalyzeCentrality(topo, 2)

	wantNode := map[string]float64{"A": 0, "B": 0.5, "C": 4.0 / 6.0, "D": 0.5, "E": 0}
	for n, want := range wantNode {
		if !approx(r.Betweenness[n], want) {
			t.Fatalf("Betweenness[%s] = %v, want %v", n, r.Betweenness[n], want)
		}
	}
	wantEdge := map[string]float64{"A|B": 0.4, "B|C": 0.6, "C|D": 0.6, "D|E": 0.4}
	for k, want := range wantEdge {
		if !approx(r.EdgeBetweenness[k], want) {
			t.Fatalf("EdgeBetweenness[%s] = %v, want %v", k, r.EdgeBetweenness[k], want)
		}
	}
	if len(r.Backbone) != 2 || r.Backbone[0].Key != "B|C" || r.Backbone[1].Key != "C|D" {
		t.Fatalf("Backbone = %+v", r.Backbone)
	}
	if !approx(r.Degree["C"], 0.5) || !approx(r.Degree["A"], 0.25) {
		t.Fatalf("Degree = %v", r.Degree)
	}
}

func TestAnalyzeCentralityRingIsUniform(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	topo := validatedGraph(cfg, [2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "D"}, [2]string{"D", "A"})
	r := AnalyzeCentrality(topo, 10)
	first := r.Betweenness["A"]
	for n, v := range r.Betweenness {
		if !approx(v, first) {
			t.Fatalf("Betweenness[%s] = %v, want %v", n, v, first)
		}
	}
	if len(r.Backbone) != 4 || r.Backbone[0].Key != "A|B" {
		t.Fatalf("Backbone = %+v", r.Backbone)
	}
}

func TestAnalyzeCentralityEmpty(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	r := AnalyzeCentrality(BuildTopology(nil, cfg), 5)
	if len(r.Betweenness) != 0 || len(r.Backbone) != 0 {
		t.Fatalf("empty graph produced scores: %+v", r)
	}
}
