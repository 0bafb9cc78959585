package service

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/model"
)

// Fingerprint hashes the normalized config and the input in a canonical
// order: packets sorted by hash then timestamp, directory entries by key.
// Equal snapshots give equal fingerprints regardless of arrival order.
func Fingerprint(in core.Input, cfg core.Config) (uint64, error) {
	d := xxhash.New()
	enc := json.NewEncoder(d)

	if err := enc.Encode(cfg.Normalize()); err != nil {
		return 0, fmt.Errorf("fingerprint config: %w", err)
	}

	packets := make([]model.ObservedPacket, len(in.Packets))
	copy(packets, in.Packets)
	sort.SliceStable(packets, func(i, j int) bool {
		if packets[i].PacketHash != packets[j].PacketHash {
			return packets[i].PacketHash < packets[j].PacketHash
		}
		return packets[i].Timestamp < packets[j].Timestamp
	})
	for _, p := range packets {
		if err := enc.Encode(p); err != nil {
			return 0, fmt.Errorf("fingerprint packet %s: %w", p.PacketHash, err)
		}
	}

	keys := make([]string, 0, len(in.Directory))
	for k := range in.Directory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := enc.Encode(struct {
			Key      string         `json:"k"`
			Neighbor model.Neighbor `json:"v"`
		}{k, in.Directory[k]}); err != nil {
			return 0, fmt.Errorf("fingerprint neighbor %s: %w", k, err)
		}
	}
	return d.Sum64(), nil
}
