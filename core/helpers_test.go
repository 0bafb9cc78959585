package core

import (
	"strings"

	"github.com/signalsfoundry/meshtopo/model"
)

const testLocal = "F0000000"

func fptr(v float64) *float64 { return &v }

// certainPath builds a fully resolved chain over the given hashes.
func certainPath(hashes ...string) DisambiguatedPath {
	chain := make([]ResolvedHop, len(hashes))
	for i, h := range hashes {
		chain[i] = ResolvedHop{Prefix: PrefixOf(h, 2), Hashes: []string{h}, Confidence: 1, Status: StatusResolved}
	}
	return DisambiguatedPath{PacketHash: strings.Join(hashes, "-"), Chain: chain}
}

func repeatPath(p DisambiguatedPath, n int) []DisambiguatedPath {
	out := make([]DisambiguatedPath, n)
	for i := range out {
		out[i] = p
	}
	return out
}

// validatedGraph builds a topology in which every listed pair is a
// validated edge.
func validatedGraph(cfg Config, pairs ...[2]string) *Topology {
	var paths []DisambiguatedPath
	for _, p := range pairs {
		paths = append(paths, repeatPath(certainPath(p[0], p[1]), cfg.ValidationThreshold)...)
	}
	return BuildTopology(paths, cfg)
}

func neighbor(hash string) model.Neighbor {
	return model.Neighbor{Hash: hash}
}

func directory(entries ...model.Neighbor) model.NeighborDirectory {
	d := make(model.NeighborDirectory, len(entries))
	for _, e := range entries {
		d[e.Hash] = e
	}
	return d
}
