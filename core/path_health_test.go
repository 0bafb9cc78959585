package core

import "testing"

func TestEdgeHealthLevels(t *testing.T) {
	strong := &TopologyEdge{Key: "A|B", CertainCount: 10}
	strong.SNR.Add(8, 0)
	strong.SNR.Add(8, 60)

	fair := &TopologyEdge{Key: "A|C", CertainCount: 3, UncertainCount: 3}
	fair.SNR.Add(0, 0)

	broken := &TopologyEdge{Key: "A|D", UncertainCount: 4}

	cases := []struct {
		e    *TopologyEdge
		want HealthLevel
	}{
		{strong, HealthExcellent},
		{fair, HealthFair},
		{broken, HealthCritical},
	}
	for _, tc := range cases {
		s := EdgeHealthScore(tc.e, 5)
		if got := classifyHealth(s); got != tc.want {
			t.Fatalf("%s score %.2f = %q, want %q", tc.e.Key, s, got, tc.want)
		}
	}
}

func TestEdgeHealthFallingTrendPenalised(t *testing.T) {
	steady := &TopologyEdge{CertainCount: 10}
	falling := &TopologyEdge{CertainCount: 10}
	for i, snr := range []float64{6, 6, 6} {
		steady.SNR.Add(snr, float64(i)*3600)
	}
	for i, snr := range []float64{10, 6, 2} {
		falling.SNR.Add(snr, float64(i)*3600)
	}
	s, f := EdgeHealthScore(steady, 5), EdgeHealthScore(falling, 5)
	if s != 90 {
		t.Fatalf("steady score = %v, want 90", s)
	}
	if f != 75 {
		t.Fatalf("falling score = %v, want 75 after a 15 point penalty", f)
	}
}

func TestAssessPathHealthWorstEdgeWins(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	good := repeatPath(certainPath("A", "B", testLocal), 10)
	topo := BuildTopology(good, cfg)
	weak := topo.Edges[EdgeKey("A", "B")]
	weak.CertainCount, weak.UncertainCount = 1, 40

	out := AssessPathHealth(topo, good, cfg.ValidationThreshold)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 2 edges + 1 path", len(out))
	}
	path := out[2]
	if path.Kind != HealthKindPath || path.ID != "A>B>"+testLocal {
		t.Fatalf("path entry = %+v", path)
	}
	if path.Score != out[0].Score || !path.Weak {
		t.Fatalf("path = %+v, want the weak A|B score %v", path, out[0].Score)
	}
}

func TestRecommendTxDelays(t *testing.T) {
	cfg := DefaultConfig(testLocal)
	topo := &Topology{
		Hubs:      []string{"H1", "H2"},
		PathCount: 100,
		Forwarded: map[string]float64{"H1": 60, "H2": 30},
	}
	recs := RecommendTxDelays(topo, map[string]float64{"H1": 0.8, "H2": 0.2}, cfg)
	if len(recs) != 2 {
		t.Fatalf("len = %d", len(recs))
	}
	if recs[0].Hash != "H1" || recs[0].DelayFactor != cfg.TxDelayMax {
		t.Fatalf("busiest hub = %+v, want max delay", recs[0])
	}
	// factor = 0.5*0.5 + 0.5*0.25 = 0.375 -> 0.5 + 0.375*1.5 = 1.0625 -> 1.05
	if recs[1].DelayFactor != 1.05 || recs[1].TrafficShare != 0.3 {
		t.Fatalf("second hub = %+v", recs[1])
	}
	if RecommendTxDelays(&Topology{}, nil, cfg) != nil {
		t.Fatalf("no hubs should give no recommendations")
	}
}
