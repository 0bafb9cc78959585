// Package wire converts topology results to and from the shape that
// crosses the engine boundary: maps become key-ordered pair lists and
// sets become sorted lists, so the encoding of a result is stable.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/signalsfoundry/meshtopo/core"
)

// Pair is one entry of an encoded map.
type Pair[V any] struct {
	Key   string `json:"k"`
	Value V      `json:"v"`
}

// Edge is the transport form of core.TopologyEdge.
type Edge struct {
	Key            string  `json:"key"`
	From           string  `json:"from"`
	To             string  `json:"to"`
	CertainCount   int     `json:"certain"`
	UncertainCount int     `json:"uncertain"`
	Confidence     float64 `json:"confidence"`
	SNRCount       int     `json:"snr_count"`
	SNRMean        float64 `json:"snr_mean"`
	SNRMin         float64 `json:"snr_min"`
	SNRMax         float64 `json:"snr_max"`
	SNRTrend       float64 `json:"snr_trend"`
	FirstSeen      float64 `json:"first_seen"`
	LastSeen       float64 `json:"last_seen"`
	HopDistance    int     `json:"hop_distance"`
	Validated      bool    `json:"validated"`
}

// Result is the transport form of core.Result.
type Result struct {
	LocalHash   string `json:"local_hash"`
	LocalPrefix string `json:"local_prefix"`

	Edges          []Edge   `json:"edges"`
	ValidatedEdges []string `json:"validated_edges"`
	WeakEdges      []string `json:"weak_edges"`
	CertainEdges   []string `json:"certain_edges"`
	UncertainEdges []string `json:"uncertain_edges"`

	NodeHops         []Pair[int]                  `json:"node_hops"`
	Affinity         []Pair[float64]              `json:"affinity"`
	Centrality       []Pair[float64]              `json:"centrality"`
	DegreeCentrality []Pair[float64]              `json:"degree_centrality"`
	Hubs             []string                     `json:"hubs"`
	ZeroHop          []core.ZeroHopNeighbor       `json:"zero_hop"`
	Loops            []core.NetworkLoop           `json:"loops"`
	LoopEdgeKeys     []string                     `json:"loop_edge_keys"`
	LoopsTruncated   bool                         `json:"loops_truncated"`
	EdgeBetweenness  []Pair[float64]              `json:"edge_betweenness"`
	Backbone         []core.EdgeScore             `json:"backbone"`
	Mobility         []Pair[core.NodeMobility]    `json:"mobility"`
	MobileNodes      []string                     `json:"mobile_nodes"`
	PathHealth       []core.PathHealth            `json:"path_health"`
	TxDelays         []core.TxDelayRecommendation `json:"tx_delays"`
	Routes           []core.PathSequence          `json:"routes"`
	Candidates       []core.CandidateSet          `json:"candidates"`
	Stats            core.Stats                   `json:"stats"`
}

// Encode flattens r into its transport form. A nil result encodes to nil.
func Encode(r *core.Result) *Result {
	if r == nil {
		return nil
	}
	out := &Result{
		LocalHash:        r.LocalHash,
		LocalPrefix:      r.LocalPrefix,
		Edges:            make([]Edge, 0, len(r.Edges)),
		ValidatedEdges:   list(r.ValidatedEdges),
		WeakEdges:        list(r.WeakEdges),
		CertainEdges:     list(r.CertainEdges),
		UncertainEdges:   list(r.UncertainEdges),
		NodeHops:         Pairs(r.NodeHops),
		Affinity:         Pairs(r.Affinity),
		Centrality:       Pairs(r.Centrality),
		DegreeCentrality: Pairs(r.DegreeCentrality),
		Hubs:             list(r.Hubs),
		ZeroHop:          r.ZeroHop,
		Loops:            r.Loops,
		LoopEdgeKeys:     SetList(r.LoopEdgeKeys),
		LoopsTruncated:   r.LoopsTruncated,
		EdgeBetweenness:  Pairs(r.EdgeBetweenness),
		Backbone:         r.Backbone,
		Mobility:         Pairs(r.Mobility),
		MobileNodes:      list(r.MobileNodes),
		PathHealth:       r.PathHealth,
		TxDelays:         r.TxDelays,
		Routes:           r.Routes,
		Candidates:       r.Candidates,
		Stats:            r.Stats,
	}
	for _, e := range r.Edges {
		out.Edges = append(out.Edges, encodeEdge(e))
	}
	return out
}

// Decode rebuilds native maps and sets from a transport result.
func Decode(w *Result) *core.Result {
	if w == nil {
		return nil
	}
	r := &core.Result{
		LocalHash:        w.LocalHash,
		LocalPrefix:      w.LocalPrefix,
		Edges:            make([]core.TopologyEdge, 0, len(w.Edges)),
		EdgeIndex:        make(map[string]core.TopologyEdge, len(w.Edges)),
		ValidatedEdges:   w.ValidatedEdges,
		WeakEdges:        w.WeakEdges,
		CertainEdges:     w.CertainEdges,
		UncertainEdges:   w.UncertainEdges,
		NodeHops:         Map(w.NodeHops),
		Affinity:         Map(w.Affinity),
		Centrality:       Map(w.Centrality),
		DegreeCentrality: Map(w.DegreeCentrality),
		Hubs:             w.Hubs,
		ZeroHop:          w.ZeroHop,
		Loops:            w.Loops,
		LoopEdgeKeys:     Set(w.LoopEdgeKeys),
		LoopsTruncated:   w.LoopsTruncated,
		EdgeBetweenness:  Map(w.EdgeBetweenness),
		Backbone:         w.Backbone,
		Mobility:         Map(w.Mobility),
		MobileNodes:      w.MobileNodes,
		PathHealth:       w.PathHealth,
		TxDelays:         w.TxDelays,
		Routes:           w.Routes,
		Candidates:       w.Candidates,
		Stats:            w.Stats,
	}
	for _, we := range w.Edges {
		e := decodeEdge(we)
		r.Edges = append(r.Edges, e)
		r.EdgeIndex[e.Key] = e
	}
	return r
}

func encodeEdge(e core.TopologyEdge) Edge {
	return Edge{
		Key:            e.Key,
		From:           e.From,
		To:             e.To,
		CertainCount:   e.CertainCount,
		UncertainCount: e.UncertainCount,
		Confidence:     e.Confidence,
		SNRCount:       e.SNR.Count,
		SNRMean:        e.SNR.Mean,
		SNRMin:         e.SNR.Min,
		SNRMax:         e.SNR.Max,
		SNRTrend:       e.SNR.Trend,
		FirstSeen:      e.FirstSeen,
		LastSeen:       e.LastSeen,
		HopDistance:    e.HopDistance,
		Validated:      e.Validated,
	}
}

func decodeEdge(w Edge) core.TopologyEdge {
	return core.TopologyEdge{
		Key:            w.Key,
		From:           w.From,
		To:             w.To,
		CertainCount:   w.CertainCount,
		UncertainCount: w.UncertainCount,
		Confidence:     w.Confidence,
		SNR: core.SignalStats{
			Count: w.SNRCount,
			Mean:  w.SNRMean,
			Min:   w.SNRMin,
			Max:   w.SNRMax,
			Trend: w.SNRTrend,
		},
		FirstSeen:   w.FirstSeen,
		LastSeen:    w.LastSeen,
		HopDistance: w.HopDistance,
		Validated:   w.Validated,
	}
}

// Pairs returns the entries of m ordered by key.
func Pairs[V any](m map[string]V) []Pair[V] {
	tree := redblacktree.NewWithStringComparator()
	for k, v := range m {
		tree.Put(k, v)
	}
	out := make([]Pair[V], 0, tree.Size())
	it := tree.Iterator()
	for it.Next() {
		out = append(out, Pair[V]{Key: it.Key().(string), Value: it.Value().(V)})
	}
	return out
}

// Map rebuilds a map from pairs. Later duplicates win.
func Map[V any](pairs []Pair[V]) map[string]V {
	out := make(map[string]V, len(pairs))
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out
}

// SetList returns the members of a set in key order.
func SetList(set map[string]struct{}) []string {
	tree := redblacktree.NewWithStringComparator()
	for k := range set {
		tree.Put(k, struct{}{})
	}
	out := make([]string, 0, tree.Size())
	for _, k := range tree.Keys() {
		out = append(out, k.(string))
	}
	return out
}

// Set rebuilds a set from a list.
func Set(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, k := range list {
		out[k] = struct{}{}
	}
	return out
}

// list keeps JSON output free of null for empty slices.
func list(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Marshal encodes r as JSON.
func Marshal(r *Result) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal result: %w", err)
	}
	return b, nil
}

// Unmarshal decodes JSON produced by Marshal.
func Unmarshal(b []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("wire: unmarshal result: %w", err)
	}
	return &r, nil
}
