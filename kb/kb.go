// Package kb holds the current capture snapshot: observed packets keyed by
// packet hash and the neighbour directory keyed by node hash. Nothing is
// persisted; the store only exists to hand consistent copies to the engine.
package kb

import (
	"sort"
	"strings"
	"sync"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventPacketsUpserted EventType = iota
	EventNeighborsUpserted
	EventSnapshotReplaced
)

func (t EventType) String() string {
	switch t {
	case EventPacketsUpserted:
		return "packets_upserted"
	case EventNeighborsUpserted:
		return "neighbors_upserted"
	case EventSnapshotReplaced:
		return "snapshot_replaced"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers after the snapshot changes.
type Event struct {
	Type    EventType
	Changed int
	Version uint64
}

// Store is an in-memory, thread-safe snapshot of packets and neighbours.
type Store struct {
	mu sync.RWMutex

	packets   map[string]model.ObservedPacket
	neighbors map[string]model.Neighbor
	version   uint64

	nextSub uint64
	subs    map[uint64]func(Event)
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		packets:   make(map[string]model.ObservedPacket),
		neighbors: make(map[string]model.Neighbor),
		subs:      make(map[uint64]func(Event)),
	}
}

// UpsertPackets merges packets into the snapshot. A packet whose hash is
// already stored replaces it only when it was seen earlier, so the stored
// copy is always the first sighting. Packets without a hash are ignored.
// It returns the number of packets added or replaced.
func (s *Store) UpsertPackets(pkts []model.ObservedPacket) int {
	s.mu.Lock()
	changed := 0
	for _, p := range pkts {
		hash := strings.TrimSpace(p.PacketHash)
		if hash == "" {
			continue
		}
		if old, ok := s.packets[hash]; ok && old.Timestamp <= p.Timestamp {
			continue
		}
		s.packets[hash] = p.Clone()
		changed++
	}
	return s.commit(EventPacketsUpserted, changed)
}

// UpsertNeighbors merges directory entries, replacing entries with the same
// hash. It returns the number of entries written.
func (s *Store) UpsertNeighbors(neighbors []model.Neighbor) int {
	s.mu.Lock()
	changed := 0
	for _, n := range neighbors {
		hash := strings.TrimSpace(n.Hash)
		if hash == "" {
			continue
		}
		s.neighbors[hash] = n.Clone()
		changed++
	}
	return s.commit(EventNeighborsUpserted, changed)
}

// ReplaceSnapshot discards the stored state and loads in.
func (s *Store) ReplaceSnapshot(in core.Input) {
	s.mu.Lock()
	s.packets = make(map[string]model.ObservedPacket, len(in.Packets))
	s.neighbors = make(map[string]model.Neighbor, len(in.Directory))
	for _, p := range in.Packets {
		hash := strings.TrimSpace(p.PacketHash)
		if hash == "" {
			continue
		}
		if old, ok := s.packets[hash]; ok && old.Timestamp <= p.Timestamp {
			continue
		}
		s.packets[hash] = p.Clone()
	}
	for hash, n := range in.Directory {
		if strings.TrimSpace(hash) == "" {
			continue
		}
		s.neighbors[hash] = n.Clone()
	}
	s.commit(EventSnapshotReplaced, len(s.packets)+len(s.neighbors))
}

// commit bumps the version and notifies subscribers outside the lock.
// Caller must hold s.mu; commit releases it.
func (s *Store) commit(kind EventType, changed int) int {
	if changed == 0 && kind != EventSnapshotReplaced {
		s.mu.Unlock()
		return 0
	}
	s.version++
	event := Event{Type: kind, Changed: changed, Version: s.version}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return changed
}

func (s *Store) subscribersLocked() []func(Event) {
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

// Snapshot returns an owned copy of the stored input with packets ordered
// by hash.
func (s *Store) Snapshot() core.Input {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make([]string, 0, len(s.packets))
	for h := range s.packets {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	in := core.Input{
		Packets:   make([]model.ObservedPacket, 0, len(hashes)),
		Directory: make(model.NeighborDirectory, len(s.neighbors)),
	}
	for _, h := range hashes {
		in.Packets = append(in.Packets, s.packets[h].Clone())
	}
	for h, n := range s.neighbors {
		in.Directory[h] = n.Clone()
	}
	return in
}

// Counts returns the number of stored packets and neighbours.
func (s *Store) Counts() (packets, neighbors int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.packets), len(s.neighbors)
}

// Version increases by one on every change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe registers a callback for store events. It returns an unsubscribe
// function.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
