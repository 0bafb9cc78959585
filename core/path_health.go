package core

import (
	"math"
	"sort"
	"strings"
)

// HealthLevel is a coarse, human-readable classification of link or path
// quality.
type HealthLevel string

const (
	HealthExcellent HealthLevel = "excellent"
	HealthGood      HealthLevel = "good"
	HealthFair      HealthLevel = "fair"
	HealthPoor      HealthLevel = "poor"
	HealthCritical  HealthLevel = "critical"
)

// Health kinds.
const (
	HealthKindEdge = "edge"
	HealthKindPath = "path"
)

// PathHealth is the assessed health of one edge or one resolved path.
type PathHealth struct {
	ID    string      `json:"id"`
	Kind  string      `json:"kind"`
	Level HealthLevel `json:"level"`
	Score float64     `json:"score"`
	Weak  bool        `json:"weak"`
}

// TxDelayRecommendation is advisory transmit backoff for a hub. It is
// guidance for the operator and is never pushed to a radio.
type TxDelayRecommendation struct {
	Hash         string  `json:"hash"`
	TrafficShare float64 `json:"traffic_share"`
	Centrality   float64 `json:"centrality"`
	DelayFactor  float64 `json:"delay_factor"`
}

const (
	snrFloorDB       = -10.0
	snrCeilingDB     = 10.0
	trendWarnDBPerH  = -1.0
	maxTrendPenalty  = 15.0
	minTrendSamples  = 3
	trendPenaltyRate = 5.0
)

func classifyHealth(score float64) HealthLevel {
	switch {
	case score >= 80:
		return HealthExcellent
	case score >= 60:
		return HealthGood
	case score >= 40:
		return HealthFair
	case score >= 20:
		return HealthPoor
	default:
		return HealthCritical
	}
}

// IsWeak reports whether the level should be flagged as a weak link.
func (l HealthLevel) IsWeak() bool {
	return l == HealthPoor || l == HealthCritical
}

// EdgeHealthScore scores an edge from 0 to 100 using its certain ratio
// and SNR. Without SNR samples the observation volume stands in for it.
// A falling SNR trend costs up to 15 points.
func EdgeHealthScore(e *TopologyEdge, validationThreshold int) float64 {
	signal := clamp01(float64(e.CertainCount) / float64(2*max(validationThreshold, 1)))
	if e.SNR.Count > 0 {
		signal = clamp01((e.SNR.Mean - snrFloorDB) / (snrCeilingDB - snrFloorDB))
	}
	score := 100 * (0.5*e.CertainRatio() + 0.5*signal)

	if e.SNR.Count >= minTrendSamples && e.SNR.Trend < trendWarnDBPerH {
		score -= math.Min(maxTrendPenalty, (trendWarnDBPerH-e.SNR.Trend)*trendPenaltyRate)
	}
	score = math.Max(0, math.Min(100, score))
	return math.Round(score*100) / 100
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// AssessPathHealth scores every edge and every distinct fully resolved
// path. A path takes the health of its worst edge. Edges come first, each
// group ordered by ID.
func AssessPathHealth(t *Topology, paths []DisambiguatedPath, validationThreshold int) []PathHealth {
	out := make([]PathHealth, 0, len(t.Edges))
	scores := make(map[string]float64, len(t.Edges))
	for _, e := range t.SortedEdges() {
		s := EdgeHealthScore(e, validationThreshold)
		scores[e.Key] = s
		out = append(out, newHealth(e.Key, HealthKindEdge, s))
	}

	seen := make(map[string]bool)
	var routes []PathHealth
	for _, p := range paths {
		hashes, ok := certainChain(p)
		if !ok {
			continue
		}
		id := strings.Join(hashes, ">")
		if seen[id] {
			continue
		}
		seen[id] = true

		worst := math.Inf(1)
		for i := 0; i+1 < len(hashes); i++ {
			if s, ok := scores[EdgeKey(hashes[i], hashes[i+1])]; ok {
				worst = math.Min(worst, s)
			}
		}
		if math.IsInf(worst, 1) {
			continue
		}
		routes = append(routes, newHealth(id, HealthKindPath, worst))
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return append(out, routes...)
}

func newHealth(id, kind string, score float64) PathHealth {
	level := classifyHealth(score)
	return PathHealth{ID: id, Kind: kind, Level: level, Score: score, Weak: level.IsWeak()}
}

// certainChain returns the hashes of a path whose every hop resolved with
// certainty, dropping consecutive repeats.
func certainChain(p DisambiguatedPath) ([]string, bool) {
	if len(p.Chain) < 2 {
		return nil, false
	}
	out := make([]string, 0, len(p.Chain))
	for _, h := range p.Chain {
		if !h.Certain() {
			return nil, false
		}
		if len(out) > 0 && out[len(out)-1] == h.Hashes[0] {
			continue
		}
		out = append(out, h.Hashes[0])
	}
	return out, len(out) >= 2
}

// RecommendTxDelays suggests a txdelay factor for each hub, scaled by the
// hub's share of forwarded traffic and its betweenness relative to the
// busiest hub.
func RecommendTxDelays(t *Topology, betweenness map[string]float64, cfg Config) []TxDelayRecommendation {
	if len(t.Hubs) == 0 {
		return nil
	}
	recs := make([]TxDelayRecommendation, 0, len(t.Hubs))
	var maxShare, maxC float64
	for _, h := range t.Hubs {
		share := 0.0
		if t.PathCount > 0 {
			share = t.Forwarded[h] / float64(t.PathCount)
		}
		c := betweenness[h]
		maxShare = math.Max(maxShare, share)
		maxC = math.Max(maxC, c)
		recs = append(recs, TxDelayRecommendation{Hash: h, TrafficShare: share, Centrality: c})
	}

	for i := range recs {
		var factor float64
		if maxShare > 0 {
			factor += 0.5 * recs[i].TrafficShare / maxShare
		}
		if maxC > 0 {
			factor += 0.5 * recs[i].Centrality / maxC
		}
		delay := cfg.TxDelayBase + factor*(cfg.TxDelayMax-cfg.TxDelayBase)
		recs[i].DelayFactor = math.Round(delay*20) / 20
	}
	return recs
}
