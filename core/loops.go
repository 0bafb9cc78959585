package core

import (
	"sort"
	"strings"
)

// NetworkLoop is a simple cycle in the validated graph. Nodes starts at
// the lowest hash and runs in the direction whose second node is lower.
type NetworkLoop struct {
	ID             string   `json:"id"`
	Nodes          []string `json:"nodes"`
	EdgeKeys       []string `json:"edge_keys"`
	Length         int      `json:"length"`
	WeakestCertain int      `json:"weakest_certain"`
}

// LoopReport lists the loops found and the union of their edges.
type LoopReport struct {
	Loops     []NetworkLoop
	EdgeKeys  []string
	Truncated bool
}

type loopSearch struct {
	topo     *Topology
	maxDepth int
	maxLoops int

	start   string
	path    []string
	onPath  map[string]bool
	seen    map[string]bool
	loops   []NetworkLoop
	stopped bool
}

// DetectLoops enumerates cycles of length 3..maxDepth over validated
// edges. Rotations and reversals of a cycle are reported once; distinct
// cycles sharing nodes are reported separately. At most maxLoops loops
// are returned.
func DetectLoops(t *Topology, maxDepth, maxLoops int) LoopReport {
	s := &loopSearch{
		topo:     t,
		maxDepth: maxDepth,
		maxLoops: maxLoops,
		onPath:   make(map[string]bool),
		seen:     make(map[string]bool),
	}
	for _, n := range t.ValidatedNodes() {
		if s.stopped {
			break
		}
		s.start = n
		s.path = append(s.path[:0], n)
		s.onPath[n] = true
		s.walk(n)
		delete(s.onPath, n)
	}

	sort.Slice(s.loops, func(i, j int) bool {
		if s.loops[i].Length != s.loops[j].Length {
			return s.loops[i].Length < s.loops[j].Length
		}
		return s.loops[i].ID < s.loops[j].ID
	})

	keys := make(map[string]struct{})
	for _, l := range s.loops {
		for _, k := range l.EdgeKeys {
			keys[k] = struct{}{}
		}
	}
	report := LoopReport{Loops: s.loops, EdgeKeys: sortedKeys(keys), Truncated: s.stopped}
	return report
}

func (s *loopSearch) walk(cur string) {
	for _, next := range s.topo.ValidatedNeighbors(cur) {
		if s.stopped {
			return
		}
		if next == s.start {
			if len(s.path) >= 3 {
				s.record()
			}
			continue
		}
		// Every other node on the cycle sorts after its start.
		if next < s.start || s.onPath[next] || len(s.path) >= s.maxDepth {
			continue
		}
		s.path = append(s.path, next)
		s.onPath[next] = true
		s.walk(next)
		delete(s.onPath, next)
		s.path = s.path[:len(s.path)-1]
	}
}

func (s *loopSearch) record() {
	nodes := canonicalCycle(s.path)
	edgeKeys := make([]string, len(nodes))
	weakest := -1
	for i, n := range nodes {
		next := nodes[(i+1)%len(nodes)]
		edgeKeys[i] = EdgeKey(n, next)
		if e, ok := s.topo.Edges[edgeKeys[i]]; ok && (weakest < 0 || e.CertainCount < weakest) {
			weakest = e.CertainCount
		}
	}
	sorted := append([]string(nil), edgeKeys...)
	sort.Strings(sorted)
	identity := strings.Join(sorted, ",")
	if s.seen[identity] {
		return
	}
	if len(s.loops) >= s.maxLoops {
		// A distinct loop beyond the cap exists, so the report is partial.
		s.stopped = true
		return
	}
	s.seen[identity] = true

	s.loops = append(s.loops, NetworkLoop{
		ID:             strings.Join(nodes, ">"),
		Nodes:          nodes,
		EdgeKeys:       sorted,
		Length:         len(nodes),
		WeakestCertain: weakest,
	})
}

// canonicalCycle rotates a cycle to start at its lowest node and orients
// it so the second node is lower than the last.
func canonicalCycle(cycle []string) []string {
	n := len(cycle)
	lowest := 0
	for i := 1; i < n; i++ {
		if cycle[i] < cycle[lowest] {
			lowest = i
		}
	}
	out := make([]string, n)
	for i := range out {
		out[i] = cycle[(lowest+i)%n]
	}
	if out[1] > out[n-1] {
		for i, j := 1, n-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
