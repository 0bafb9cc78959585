package core

import (
	"math"
	"sort"
)

// Zero-hop evidence kinds.
const (
	EvidenceValidatedEdge = "validated_edge"
	EvidenceDirectPacket  = "direct_packet"
)

// ZeroHopNeighbor is a node the local repeater hears without a forwarder.
// Evidence lists every kind that supports it, validated_edge first.
type ZeroHopNeighbor struct {
	Hash     string   `json:"hash"`
	Evidence []string `json:"evidence"`
}

// Topology is the weighted graph built from disambiguated paths.
type Topology struct {
	Local string
	Edges map[string]*TopologyEdge

	// NodeHops holds hop distances for nodes reachable from local.
	NodeHops        map[string]int
	ValidatedDegree map[string]int
	Affinity        map[string]float64
	// Forwarded is the confidence-weighted count of paths in which a node
	// appeared as an intermediate forwarder.
	Forwarded map[string]float64
	Hubs      []string
	PathCount int

	nodes     []string
	validated map[string][]string
}

// BuildTopology accumulates edges over every path, computes hop distance
// from local and classifies edges and hubs.
func BuildTopology(paths []DisambiguatedPath, cfg Config) *Topology {
	t := &Topology{
		Local:           cfg.LocalHash,
		Edges:           make(map[string]*TopologyEdge),
		NodeHops:        make(map[string]int),
		ValidatedDegree: make(map[string]int),
		Affinity:        make(map[string]float64),
		Forwarded:       make(map[string]float64),
		PathCount:       len(paths),
		validated:       make(map[string][]string),
	}

	for _, p := range paths {
		t.accumulate(p)
	}

	nodeSet := make(map[string]struct{})
	if t.Local != "" {
		nodeSet[t.Local] = struct{}{}
	}
	for _, e := range t.Edges {
		nodeSet[e.From] = struct{}{}
		nodeSet[e.To] = struct{}{}
		if e.CertainCount >= cfg.ValidationThreshold {
			e.Validated = true
			t.ValidatedDegree[e.From]++
			t.ValidatedDegree[e.To]++
			t.validated[e.From] = append(t.validated[e.From], e.To)
			t.validated[e.To] = append(t.validated[e.To], e.From)
		}
	}
	for n := range nodeSet {
		t.nodes = append(t.nodes, n)
	}
	sort.Strings(t.nodes)
	for _, adj := range t.validated {
		sort.Strings(adj)
	}

	t.computeHops(cfg.reachabilityThreshold())
	t.normalizeAffinity()
	t.Hubs = detectHubs(t.ValidatedDegree, cfg.HubPercentile, cfg.HubMinDegree)
	return t
}

func (t *Topology) accumulate(p DisambiguatedPath) {
	chain := p.Chain
	last := len(chain) - 1
	for i := 0; i < last; i++ {
		a, b := chain[i], chain[i+1]
		if len(a.Hashes) == 0 || len(b.Hashes) == 0 {
			continue
		}
		certain := a.Certain() && b.Certain()
		conf := math.Min(a.Confidence, b.Confidence)
		atLocal := i+1 == last && t.Local != "" && b.Certain() && b.Hashes[0] == t.Local
		for _, ha := range a.Hashes {
			for _, hb := range b.Hashes {
				if ha == hb {
					continue
				}
				e := t.edge(ha, hb)
				e.observe(certain, conf, p.Timestamp)
				if atLocal && p.SNR != nil {
					e.SNR.Add(*p.SNR, p.Timestamp)
				}
			}
		}
	}

	first := 0
	if p.Source != "" {
		first = 1
	}
	end := len(chain)
	if t.Local != "" && end > 0 {
		end--
	}
	for i, hop := range chain {
		if len(hop.Hashes) == 0 || (t.Local != "" && i == len(chain)-1) {
			continue
		}
		share := hop.Confidence / float64(len(hop.Hashes))
		for _, h := range hop.Hashes {
			t.Affinity[h] += share
			if i >= first && i < end {
				t.Forwarded[h] += share
			}
		}
	}
}

func (t *Topology) edge(a, b string) *TopologyEdge {
	key := EdgeKey(a, b)
	e, ok := t.Edges[key]
	if !ok {
		e = newEdge(a, b)
		t.Edges[key] = e
	}
	return e
}

// computeHops runs a BFS from local over edges with at least minCertain
// certain observations.
func (t *Topology) computeHops(minCertain int) {
	if t.Local == "" {
		return
	}
	adj := make(map[string][]string)
	for _, e := range t.Edges {
		if e.CertainCount < minCertain {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
	}
	for _, list := range adj {
		sort.Strings(list)
	}

	t.NodeHops[t.Local] = 0
	queue := []string{t.Local}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := t.NodeHops[next]; seen {
				continue
			}
			t.NodeHops[next] = t.NodeHops[cur] + 1
			queue = append(queue, next)
		}
	}

	for _, e := range t.Edges {
		da, okA := t.NodeHops[e.From]
		db, okB := t.NodeHops[e.To]
		switch {
		case okA && okB:
			e.HopDistance = min(da, db)
		case okA:
			e.HopDistance = da
		case okB:
			e.HopDistance = db
		}
	}
}

func (t *Topology) normalizeAffinity() {
	var peak float64
	for _, v := range t.Affinity {
		peak = math.Max(peak, v)
	}
	if peak == 0 {
		return
	}
	for k, v := range t.Affinity {
		t.Affinity[k] = v / peak
	}
}

// detectHubs returns the nodes whose validated degree is above the given
// percentile of the degree distribution and at least minDegree.
func detectHubs(degree map[string]int, percentile float64, minDegree int) []string {
	if len(degree) == 0 {
		return nil
	}
	values := make([]int, 0, len(degree))
	for _, d := range degree {
		values = append(values, d)
	}
	sort.Ints(values)
	cut := percentileOf(values, percentile)

	var hubs []string
	for n, d := range degree {
		if float64(d) > cut && d >= minDegree {
			hubs = append(hubs, n)
		}
	}
	sort.Strings(hubs)
	return hubs
}

// percentileOf interpolates linearly between closest ranks of sorted.
func percentileOf(sorted []int, p float64) float64 {
	if len(sorted) == 1 {
		return float64(sorted[0])
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo])
}

// Nodes returns every node that appears in the graph, sorted.
func (t *Topology) Nodes() []string {
	return t.nodes
}

// ValidatedNeighbors returns the sorted validated neighbours of hash.
func (t *Topology) ValidatedNeighbors(hash string) []string {
	return t.validated[hash]
}

// ValidatedNodes returns the sorted nodes with at least one validated edge.
func (t *Topology) ValidatedNodes() []string {
	out := make([]string, 0, len(t.validated))
	for n := range t.validated {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Edge returns the edge between a and b in either order.
func (t *Topology) Edge(a, b string) (*TopologyEdge, bool) {
	e, ok := t.Edges[EdgeKey(a, b)]
	return e, ok
}

// SortedEdges returns every edge ordered by key.
func (t *Topology) SortedEdges() []*TopologyEdge {
	out := make([]*TopologyEdge, 0, len(t.Edges))
	for _, e := range t.Edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// HopDistance returns the hop distance of hash from local.
func (t *Topology) HopDistance(hash string) (int, bool) {
	d, ok := t.NodeHops[hash]
	return d, ok
}

// EdgeClasses groups edge keys by classification.
type EdgeClasses struct {
	All       []string
	Validated []string
	Weak      []string
	Certain   []string
	Uncertain []string
}

// Classify sorts edge keys into their classes.
func (t *Topology) Classify() EdgeClasses {
	var c EdgeClasses
	for _, e := range t.SortedEdges() {
		c.All = append(c.All, e.Key)
		if e.Validated {
			c.Validated = append(c.Validated, e.Key)
		} else {
			c.Weak = append(c.Weak, e.Key)
		}
		if e.CertainCount > 0 {
			c.Certain = append(c.Certain, e.Key)
		} else if e.UncertainCount > 0 {
			c.Uncertain = append(c.Uncertain, e.Key)
		}
	}
	return c
}

// ZeroHopNeighbors derives the nodes heard directly by local: other
// endpoints of validated edges at hop distance 0, and sources of packets
// that arrived with an empty path. The packet route type is not used.
func ZeroHopNeighbors(t *Topology, paths []DisambiguatedPath) []ZeroHopNeighbor {
	type kinds struct{ edge, direct bool }
	found := make(map[string]*kinds)
	get := func(h string) *kinds {
		k, ok := found[h]
		if !ok {
			k = &kinds{}
			found[h] = k
		}
		return k
	}
	if t.Local != "" {
		for _, e := range t.Edges {
			if e.Validated && e.HopDistance == 0 && e.Touches(t.Local) {
				get(e.Other(t.Local)).edge = true
			}
		}
	}
	for _, p := range paths {
		if p.Direct && p.Source != "" {
			get(p.Source).direct = true
		}
	}

	out := make([]ZeroHopNeighbor, 0, len(found))
	for h, k := range found {
		n := ZeroHopNeighbor{Hash: h}
		if k.edge {
			n.Evidence = append(n.Evidence, EvidenceValidatedEdge)
		}
		if k.direct {
			n.Evidence = append(n.Evidence, EvidenceDirectPacket)
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}
