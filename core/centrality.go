package core

import "sort"

// EdgeScore pairs an edge key with its betweenness.
type EdgeScore struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// CentralityReport holds node and edge centrality over validated edges.
type CentralityReport struct {
	// Betweenness is normalised node betweenness in [0, 1].
	Betweenness map[string]float64
	// Degree is validated degree divided by n-1.
	Degree map[string]float64
	// EdgeBetweenness is normalised edge betweenness in [0, 1].
	EdgeBetweenness map[string]float64
	// Backbone lists the top-K edges by betweenness.
	Backbone []EdgeScore
}

// AnalyzeCentrality runs Brandes' algorithm over the validated subgraph
// and picks the topK highest-betweenness edges as the backbone.
func AnalyzeCentrality(t *Topology, topK int) CentralityReport {
	nodes := t.ValidatedNodes()
	n := len(nodes)
	r := CentralityReport{
		Betweenness:     make(map[string]float64, n),
		Degree:          make(map[string]float64, n),
		EdgeBetweenness: make(map[string]float64),
	}
	for _, id := range nodes {
		r.Betweenness[id] = 0
		if n > 1 {
			r.Degree[id] = float64(len(t.ValidatedNeighbors(id))) / float64(n-1)
		}
	}
	for _, e := range t.Edges {
		if e.Validated {
			r.EdgeBetweenness[e.Key] = 0
		}
	}
	if n < 2 {
		return r
	}

	for _, s := range nodes {
		stack, sigma, pred := brandesBFS(t, s)
		brandesAccumulate(s, stack, sigma, pred, r.Betweenness, r.EdgeBetweenness)
	}

	// Each undirected pair was counted from both ends.
	if n > 2 {
		nodeNorm := float64((n-1)*(n-2)) / 2
		for id, v := range r.Betweenness {
			r.Betweenness[id] = v / 2 / nodeNorm
		}
	}
	edgeNorm := float64(n*(n-1)) / 2
	for k, v := range r.EdgeBetweenness {
		r.EdgeBetweenness[k] = v / 2 / edgeNorm
	}

	r.Backbone = topEdges(r.EdgeBetweenness, topK)
	return r
}

// brandesBFS performs the shortest-path counting phase from source s.
// It returns nodes in BFS order, path counts and predecessor lists.
func brandesBFS(t *Topology, s string) ([]string, map[string]float64, map[string][]string) {
	stack := make([]string, 0, len(t.validated))
	pred := make(map[string][]string)
	sigma := map[string]float64{s: 1}
	dist := map[string]int{s: 0}

	queue := []string{s}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		stack = append(stack, v)

		for _, w := range t.ValidatedNeighbors(v) {
			if _, seen := dist[w]; !seen {
				dist[w] = dist[v] + 1
				queue = append(queue, w)
			}
			if dist[w] == dist[v]+1 {
				sigma[w] += sigma[v]
				pred[w] = append(pred[w], v)
			}
		}
	}
	return stack, sigma, pred
}

// brandesAccumulate back-propagates pair dependencies onto nodes and the
// edges they were carried over.
func brandesAccumulate(s string, stack []string, sigma map[string]float64, pred map[string][]string, nodeCB, edgeCB map[string]float64) {
	delta := make(map[string]float64, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		w := stack[i]
		for _, v := range pred[w] {
			c := (sigma[v] / sigma[w]) * (1 + delta[w])
			edgeCB[EdgeKey(v, w)] += c
			delta[v] += c
		}
		if w != s {
			nodeCB[w] += delta[w]
		}
	}
}

func topEdges(scores map[string]float64, k int) []EdgeScore {
	all := make([]EdgeScore, 0, len(scores))
	for key, v := range scores {
		if v > 0 {
			all = append(all, EdgeScore{Key: key, Score: v})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Key < all[j].Key
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}
