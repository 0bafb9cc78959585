package core

import (
	"math"
	"strings"
)

const edgeKeySeparator = "|"

// EdgeKey returns the canonical key of the unordered pair (a, b).
// EdgeKey(a, b) == EdgeKey(b, a).
func EdgeKey(a, b string) string {
	a, b = orderPair(a, b)
	return a + edgeKeySeparator + b
}

// SplitEdgeKey is the inverse of EdgeKey.
func SplitEdgeKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, edgeKeySeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

func orderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// SignalStats accumulates SNR samples and their linear trend over time.
type SignalStats struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
	// Trend is the least-squares SNR slope in dB per hour.
	Trend float64

	t0    float64
	sumT  float64
	sumY  float64
	sumTT float64
	sumTY float64
}

// Add folds one SNR sample taken at unix time ts into the stats.
func (s *SignalStats) Add(snr, ts float64) {
	if math.IsNaN(snr) || math.IsInf(snr, 0) {
		return
	}
	if s.Count == 0 {
		s.t0 = ts
		s.Min, s.Max = snr, snr
	}
	s.Count++
	if snr < s.Min {
		s.Min = snr
	}
	if snr > s.Max {
		s.Max = snr
	}
	h := (ts - s.t0) / 3600
	s.sumT += h
	s.sumY += snr
	s.sumTT += h * h
	s.sumTY += h * snr

	n := float64(s.Count)
	s.Mean = s.sumY / n
	den := n*s.sumTT - s.sumT*s.sumT
	if s.Count < 2 || math.Abs(den) < 1e-12 {
		s.Trend = 0
		return
	}
	s.Trend = (n*s.sumTY - s.sumT*s.sumY) / den
}

// TopologyEdge is an observed link between two full hashes.
type TopologyEdge struct {
	Key  string
	From string
	To   string

	CertainCount   int
	UncertainCount int
	// Confidence is the mean resolution confidence of the observations.
	Confidence float64

	SNR       SignalStats
	FirstSeen float64
	LastSeen  float64

	// HopDistance is the smaller endpoint hop distance from local, or -1
	// when neither endpoint is reachable.
	HopDistance int
	Validated   bool

	confidenceSum float64
}

func newEdge(a, b string) *TopologyEdge {
	from, to := orderPair(a, b)
	return &TopologyEdge{Key: from + edgeKeySeparator + to, From: from, To: to, HopDistance: -1}
}

func (e *TopologyEdge) observe(certain bool, confidence, ts float64) {
	if certain {
		e.CertainCount++
	} else {
		e.UncertainCount++
	}
	e.confidenceSum += confidence
	e.Confidence = e.confidenceSum / float64(e.Total())
	if e.Total() == 1 || ts < e.FirstSeen {
		e.FirstSeen = ts
	}
	if ts > e.LastSeen {
		e.LastSeen = ts
	}
}

// Total is the number of observations of the edge.
func (e *TopologyEdge) Total() int {
	return e.CertainCount + e.UncertainCount
}

// CertainRatio is the share of observations that were certain.
func (e *TopologyEdge) CertainRatio() float64 {
	if e.Total() == 0 {
		return 0
	}
	return float64(e.CertainCount) / float64(e.Total())
}

// Touches reports whether hash is an endpoint.
func (e *TopologyEdge) Touches(hash string) bool {
	return e.From == hash || e.To == hash
}

// Other returns the endpoint that is not hash.
func (e *TopologyEdge) Other(hash string) string {
	if e.From == hash {
		return e.To
	}
	return e.From
}
