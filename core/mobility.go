package core

import (
	"math"
	"sort"
	"strings"

	"github.com/signalsfoundry/meshtopo/model"
)

// PositionSample is one reported position of a node.
type PositionSample struct {
	Position  LatLon
	Timestamp float64
}

// NodeMobility summarises how much a node's reported position moved.
type NodeMobility struct {
	Hash    string `json:"hash"`
	Samples int    `json:"samples"`
	// PositionVariance is the mean squared distance from the centroid in m².
	PositionVariance float64 `json:"position_variance"`
	// MaxDisplacement is the largest jump between consecutive samples in
	// the window, in metres, with jitter treated as zero.
	MaxDisplacement float64 `json:"max_displacement"`
	Mobile          bool    `json:"mobile"`
	LastMovedAt     float64 `json:"last_moved_at,omitempty"`
}

// MobilityReport holds per-node mobility and the sorted mobile set.
type MobilityReport struct {
	Nodes  map[string]NodeMobility
	Mobile []string
}

// SourceResolver maps a packet source field to a full hash.
type SourceResolver interface {
	ResolveSource(token string) (string, bool)
}

// CollectPositionSamples gathers positions from adverts whose source
// resolves to a full hash and from the directory's current coordinates.
// Samples without a valid fix are skipped.
func CollectPositionSamples(packets []model.ObservedPacket, dir model.NeighborDirectory, resolver SourceResolver, local string) map[string][]PositionSample {
	out := make(map[string][]PositionSample)
	seen := make(map[string]bool, len(packets))
	for _, pkt := range packets {
		if pkt.PacketHash == "" || seen[pkt.PacketHash] || !pkt.HasPosition() {
			continue
		}
		seen[pkt.PacketHash] = true
		pos, ok := latLonFrom(pkt.Latitude, pkt.Longitude)
		if !ok {
			continue
		}
		hash, ok := resolver.ResolveSource(pkt.SrcHash)
		if !ok {
			continue
		}
		out[hash] = append(out[hash], PositionSample{Position: pos, Timestamp: pkt.Timestamp})
	}

	for key, n := range dir {
		hash := strings.ToUpper(strings.TrimSpace(n.Hash))
		if hash == "" {
			hash = strings.ToUpper(strings.TrimSpace(key))
		}
		if hash == "" || hash == local {
			continue
		}
		pos, ok := latLonFrom(n.Latitude, n.Longitude)
		if !ok {
			continue
		}
		out[hash] = append(out[hash], PositionSample{Position: pos, Timestamp: n.LastSeen})
	}
	return out
}

// DetectMobility flags nodes whose consecutive samples, taken no further
// apart than the mobility window, moved more than the distance threshold.
// Displacements within the jitter tolerance count as no movement.
func DetectMobility(samples map[string][]PositionSample, cfg Config) MobilityReport {
	r := MobilityReport{Nodes: make(map[string]NodeMobility, len(samples))}
	window := cfg.MobilityWindow.Seconds()

	hashes := make([]string, 0, len(samples))
	for h := range samples {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	for _, h := range hashes {
		s := sortedSamples(samples[h])
		if len(s) == 0 {
			continue
		}
		m := NodeMobility{Hash: h, Samples: len(s), PositionVariance: positionVariance(s)}
		for i := 1; i < len(s); i++ {
			if s[i].Timestamp-s[i-1].Timestamp > window {
				continue
			}
			d := s[i-1].Position.DistanceMeters(s[i].Position)
			if d <= cfg.JitterMeters {
				continue
			}
			m.MaxDisplacement = math.Max(m.MaxDisplacement, d)
			if d > cfg.MobilityDistanceMeters {
				m.Mobile = true
				m.LastMovedAt = s[i].Timestamp
			}
		}
		r.Nodes[h] = m
		if m.Mobile {
			r.Mobile = append(r.Mobile, h)
		}
	}
	return r
}

func sortedSamples(in []PositionSample) []PositionSample {
	s := append([]PositionSample(nil), in...)
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Timestamp != s[j].Timestamp {
			return s[i].Timestamp < s[j].Timestamp
		}
		if s[i].Position.Lat != s[j].Position.Lat {
			return s[i].Position.Lat < s[j].Position.Lat
		}
		return s[i].Position.Lon < s[j].Position.Lon
	})
	out := make([]PositionSample, 0, len(s))
	for _, v := range s {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

func positionVariance(s []PositionSample) float64 {
	if len(s) < 2 {
		return 0
	}
	var c LatLon
	for _, v := range s {
		c.Lat += v.Position.Lat
		c.Lon += v.Position.Lon
	}
	c.Lat /= float64(len(s))
	c.Lon /= float64(len(s))

	var sum float64
	for _, v := range s {
		d := c.DistanceMeters(v.Position)
		sum += d * d
	}
	return sum / float64(len(s))
}
