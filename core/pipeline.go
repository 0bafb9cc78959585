package core

import (
	"time"

	"github.com/signalsfoundry/meshtopo/model"
)

// Pipeline stage names, in execution order.
const (
	StageRegistry     = "registry"
	StageDisambiguate = "disambiguate"
	StageBuild        = "build"
	StageLoops        = "loops"
	StageCentrality   = "centrality"
	StageMobility     = "mobility"
	StageHealth       = "health"
)

// Stages lists every stage in execution order.
var Stages = []string{
	StageRegistry, StageDisambiguate, StageBuild,
	StageLoops, StageCentrality, StageMobility, StageHealth,
}

// Input is everything one computation reads.
type Input struct {
	Packets   []model.ObservedPacket
	Directory model.NeighborDirectory
}

// Clone returns a deep copy of the input.
func (in Input) Clone() Input {
	out := Input{Directory: in.Directory.Clone()}
	if in.Packets != nil {
		out.Packets = make([]model.ObservedPacket, len(in.Packets))
		for i, p := range in.Packets {
			out.Packets[i] = p.Clone()
		}
	}
	return out
}

// Stats counts what the run accepted, skipped and how hops resolved.
type Stats struct {
	Packets     int `json:"packets"`
	Accepted    int `json:"accepted"`
	MissingHash int `json:"missing_hash"`
	Duplicate   int `json:"duplicate"`
	BadHop      int `json:"bad_hop"`
	Resolved    int `json:"resolved"`
	Uncertain   int `json:"uncertain"`
	Ambiguous   int `json:"ambiguous"`
	Unresolved  int `json:"unresolved"`
	Nodes       int `json:"nodes"`
	Edges       int `json:"edges"`
}

// Result is the complete topology derived from one input.
type Result struct {
	LocalHash   string
	LocalPrefix string

	// Edges holds every edge ordered by key; the class lists hold keys.
	Edges          []TopologyEdge
	EdgeIndex      map[string]TopologyEdge
	ValidatedEdges []string
	WeakEdges      []string
	CertainEdges   []string
	UncertainEdges []string

	NodeHops         map[string]int
	Affinity         map[string]float64
	Centrality       map[string]float64
	DegreeCentrality map[string]float64
	Hubs             []string
	ZeroHop          []ZeroHopNeighbor

	Loops          []NetworkLoop
	LoopEdgeKeys   map[string]struct{}
	LoopsTruncated bool

	EdgeBetweenness map[string]float64
	Backbone        []EdgeScore

	Mobility    map[string]NodeMobility
	MobileNodes []string

	PathHealth []PathHealth
	TxDelays   []TxDelayRecommendation

	// Routes lists each distinct prefix sequence heard, ordered by key.
	Routes     []PathSequence
	Candidates []CandidateSet
	Stats      Stats
}

// IsLoopEdge reports whether the edge takes part in any loop.
func (r *Result) IsLoopEdge(key string) bool {
	_, ok := r.LoopEdgeKeys[key]
	return ok
}

// StageObserver is told when each stage starts and finishes. Timings are
// kept out of Result so equal inputs give equal results.
type StageObserver interface {
	StageStarted(stage string)
	StageFinished(stage string, elapsed time.Duration)
}

type computeOptions struct {
	observers []StageObserver
}

// ComputeOption configures Compute.
type ComputeOption func(*computeOptions)

// WithStageObserver reports stage boundaries to o. Observers are called in
// the order they were given.
func WithStageObserver(o StageObserver) ComputeOption {
	return func(c *computeOptions) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// Compute runs the whole inference pipeline. It only fails on an invalid
// config; malformed packets are skipped and counted in Result.Stats.
func Compute(in Input, cfg Config, opts ...ComputeOption) (*Result, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o computeOptions
	for _, opt := range opts {
		opt(&o)
	}
	stage := func(name string, fn func()) {
		start := time.Now()
		for _, ob := range o.observers {
			ob.StageStarted(name)
		}
		fn()
		elapsed := time.Since(start)
		for _, ob := range o.observers {
			ob.StageFinished(name, elapsed)
		}
	}

	res := &Result{LocalHash: cfg.LocalHash, LocalPrefix: cfg.LocalPrefix()}

	var reg *PathRegistry
	stage(StageRegistry, func() {
		reg = NewPathRegistry(in.Packets, cfg.LocalPrefix(), cfg.PrefixLength)
		res.Routes = reg.Sequences()
	})

	var dis *Disambiguator
	var paths []DisambiguatedPath
	stage(StageDisambiguate, func() {
		dis = NewDisambiguator(in.Directory, reg, cfg)
		paths = make([]DisambiguatedPath, 0, len(reg.Paths()))
		for _, p := range reg.Paths() {
			dp := dis.Resolve(p)
			countResolutions(&res.Stats, dp)
			paths = append(paths, dp)
		}
		res.Candidates = dis.CandidateSets()
	})

	var topo *Topology
	stage(StageBuild, func() {
		topo = BuildTopology(paths, cfg)
		classes := topo.Classify()
		res.Edges = make([]TopologyEdge, 0, len(topo.Edges))
		res.EdgeIndex = make(map[string]TopologyEdge, len(topo.Edges))
		for _, e := range topo.SortedEdges() {
			res.Edges = append(res.Edges, *e)
			res.EdgeIndex[e.Key] = *e
		}
		res.ValidatedEdges = classes.Validated
		res.WeakEdges = classes.Weak
		res.CertainEdges = classes.Certain
		res.UncertainEdges = classes.Uncertain
		res.NodeHops = topo.NodeHops
		res.Affinity = topo.Affinity
		res.Hubs = topo.Hubs
		res.ZeroHop = ZeroHopNeighbors(topo, paths)
	})

	stage(StageLoops, func() {
		lr := DetectLoops(topo, cfg.MaxLoopLength, cfg.MaxLoops)
		res.Loops = lr.Loops
		res.LoopsTruncated = lr.Truncated
		res.LoopEdgeKeys = make(map[string]struct{}, len(lr.EdgeKeys))
		for _, k := range lr.EdgeKeys {
			res.LoopEdgeKeys[k] = struct{}{}
		}
	})

	stage(StageCentrality, func() {
		cr := AnalyzeCentrality(topo, cfg.BackboneTopK)
		res.Centrality = cr.Betweenness
		res.DegreeCentrality = cr.Degree
		res.EdgeBetweenness = cr.EdgeBetweenness
		res.Backbone = cr.Backbone
	})

	stage(StageMobility, func() {
		samples := CollectPositionSamples(in.Packets, in.Directory, dis, cfg.LocalHash)
		mr := DetectMobility(samples, cfg)
		res.Mobility = mr.Nodes
		res.MobileNodes = mr.Mobile
	})

	stage(StageHealth, func() {
		res.PathHealth = AssessPathHealth(topo, paths, cfg.ValidationThreshold)
		res.TxDelays = RecommendTxDelays(topo, res.Centrality, cfg)
	})

	rs := reg.Stats()
	res.Stats.Packets = len(in.Packets)
	res.Stats.Accepted = rs.Accepted
	res.Stats.MissingHash = rs.MissingHash
	res.Stats.Duplicate = rs.Duplicate
	res.Stats.BadHop = rs.BadHop
	res.Stats.Nodes = len(topo.Nodes())
	res.Stats.Edges = len(topo.Edges)
	return res, nil
}

// countResolutions tallies hop statuses, leaving out the source and local
// ends of the chain which are always certain.
func countResolutions(s *Stats, p DisambiguatedPath) {
	hops := p.Chain
	if p.Source != "" {
		hops = hops[1:]
	}
	if len(hops) > 0 {
		hops = hops[:len(hops)-1]
	}
	for _, h := range hops {
		switch h.Status {
		case StatusResolved:
			s.Resolved++
		case StatusUncertain:
			s.Uncertain++
		case StatusAmbiguous:
			s.Ambiguous++
		case StatusUnresolved:
			s.Unresolved++
		}
	}
}
