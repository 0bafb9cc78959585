package core

import (
	"sort"
	"strings"

	"github.com/signalsfoundry/meshtopo/model"
)

// ObservedPath is the hop sequence of one packet with the local node's
// own occurrences removed. Hops[len(Hops)-1] is the node the local
// repeater heard the packet from.
type ObservedPath struct {
	PacketHash string
	Source     string
	Hops       []string
	Timestamp  float64
	SNR        *float64
}

// Direct reports whether the packet reached the local node without an
// intermediate forwarder.
func (p ObservedPath) Direct() bool {
	return len(p.Hops) == 0
}

// DistanceAt is the hop distance from local of the hop at index i.
func (p ObservedPath) DistanceAt(i int) int {
	return len(p.Hops) - i
}

// PathSequence aggregates every packet that travelled the same prefix
// sequence.
type PathSequence struct {
	Key       string   `json:"key"`
	Hops      []string `json:"hops"`
	Count     int      `json:"count"`
	FirstSeen float64  `json:"first_seen"`
	LastSeen  float64  `json:"last_seen"`
}

// RegistryStats counts what the registry accepted and what it skipped.
type RegistryStats struct {
	Accepted    int `json:"accepted"`
	MissingHash int `json:"missing_hash"`
	Duplicate   int `json:"duplicate"`
	BadHop      int `json:"bad_hop"`
}

// Skipped is the total number of packets left out of the corpus.
func (s RegistryStats) Skipped() int {
	return s.MissingHash + s.Duplicate + s.BadHop
}

// PathRegistry is the normalised corpus of paths for one computation.
type PathRegistry struct {
	prefixLen   int
	localPrefix string

	paths     []ObservedPath
	sequences map[string]*PathSequence
	stats     RegistryStats
}

// NewPathRegistry normalises packets into ObservedPaths. Packets with no
// hash, a repeated hash or an unparsable hop are skipped and counted.
func NewPathRegistry(packets []model.ObservedPacket, localPrefix string, prefixLen int) *PathRegistry {
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLength
	}
	r := &PathRegistry{
		prefixLen:   prefixLen,
		localPrefix: strings.ToUpper(localPrefix),
		sequences:   make(map[string]*PathSequence),
	}

	byHash := make(map[string]int, len(packets))
	for _, pkt := range packets {
		id := strings.TrimSpace(pkt.PacketHash)
		if id == "" {
			r.stats.MissingHash++
			continue
		}
		hops, ok := r.normalizePath(pkt.Path())
		if !ok {
			r.stats.BadHop++
			continue
		}
		op := ObservedPath{
			PacketHash: id,
			Source:     strings.ToUpper(strings.TrimSpace(pkt.SrcHash)),
			Hops:       hops,
			Timestamp:  pkt.Timestamp,
			SNR:        pkt.SNR,
		}
		if idx, seen := byHash[id]; seen {
			r.stats.Duplicate++
			// The earliest capture of a packet wins.
			if op.Timestamp < r.paths[idx].Timestamp {
				r.paths[idx] = op
			}
			continue
		}
		byHash[id] = len(r.paths)
		r.paths = append(r.paths, op)
	}

	sort.Slice(r.paths, func(i, j int) bool {
		return r.paths[i].PacketHash < r.paths[j].PacketHash
	})
	for _, p := range r.paths {
		r.index(p)
	}
	r.stats.Accepted = len(r.paths)
	return r
}

func (r *PathRegistry) normalizePath(raw []string) ([]string, bool) {
	hops := make([]string, 0, len(raw))
	for _, tok := range raw {
		h, ok := NormalizeHop(tok, r.prefixLen)
		if !ok {
			return nil, false
		}
		if h == r.localPrefix {
			continue
		}
		hops = append(hops, h)
	}
	return hops, true
}

func (r *PathRegistry) index(p ObservedPath) {
	key := strings.Join(p.Hops, ">")
	seq, ok := r.sequences[key]
	if !ok {
		seq = &PathSequence{Key: key, Hops: p.Hops, FirstSeen: p.Timestamp, LastSeen: p.Timestamp}
		r.sequences[key] = seq
	}
	seq.Count++
	if p.Timestamp < seq.FirstSeen {
		seq.FirstSeen = p.Timestamp
	}
	if p.Timestamp > seq.LastSeen {
		seq.LastSeen = p.Timestamp
	}
}

// Paths returns the accepted paths ordered by packet hash.
func (r *PathRegistry) Paths() []ObservedPath {
	return r.paths
}

// Sequences returns the distinct hop sequences ordered by key.
func (r *PathRegistry) Sequences() []PathSequence {
	out := make([]PathSequence, 0, len(r.sequences))
	for _, s := range r.sequences {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats reports accepted and skipped packet counts.
func (r *PathRegistry) Stats() RegistryStats {
	return r.stats
}
