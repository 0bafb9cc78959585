package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/meshtopo/model"
)

// Capture is a decoded capture document: the packets and directory a
// repeater exported, plus its own identity when the export carries it.
type Capture struct {
	LocalHash     string
	LocalPosition *LatLon
	Input         Input
}

// CaptureSummary counts what a load accepted and skipped.
type CaptureSummary struct {
	Packets          int `json:"packets"`
	Neighbors        int `json:"neighbors"`
	SkippedPackets   int `json:"skipped_packets"`
	SkippedNeighbors int `json:"skipped_neighbors"`
}

// internal JSON shapes; exports from different firmware and dashboards
// disagree on field names, so several aliases are accepted.
type captureJSON struct {
	Local     *localJSON      `json:"local"`
	Packets   []rawItem       `json:"packets"`
	Neighbors json.RawMessage `json:"neighbors"`
}

type rawItem = json.RawMessage

type localJSON struct {
	Hash      string   `json:"hash"`
	PublicKey string   `json:"public_key"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type packetJSON struct {
	PacketHash    string     `json:"packet_hash"`
	ID            string     `json:"id"`
	SrcHash       string     `json:"src_hash"`
	Src           string     `json:"src"`
	DstHash       string     `json:"dst_hash"`
	Dst           string     `json:"dst"`
	ForwardedPath pathJSON   `json:"forwarded_path"`
	OriginalPath  pathJSON   `json:"original_path"`
	Timestamp     float64    `json:"timestamp"`
	SNR           *float64   `json:"snr"`
	RSSI          *float64   `json:"rssi"`
	PayloadLength int        `json:"payload_length"`
	Length        int        `json:"length"`
	RouteType     flexString `json:"route_type"`
	PayloadType   flexString `json:"payload_type"`
	Type          flexString `json:"type"`
	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
	Lat           *float64   `json:"lat"`
	Lon           *float64   `json:"lon"`
}

type neighborJSON struct {
	Hash        string     `json:"hash"`
	PublicKey   string     `json:"public_key"`
	Name        string     `json:"name"`
	Role        flexString `json:"role"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Lat         *float64   `json:"lat"`
	Lon         *float64   `json:"lon"`
	SNR         *float64   `json:"snr"`
	RSSI        *float64   `json:"rssi"`
	AdvertCount int        `json:"advert_count"`
	LastSeen    float64    `json:"last_seen"`
}

// pathJSON accepts either a JSON array of hop strings or a single
// delimited string such as "A1,B2,C3" or "A1>B2>C3".
type pathJSON []string

func (p *pathJSON) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*p = nil
		return nil
	}
	if b[0] == '[' {
		var hops []string
		if err := json.Unmarshal(b, &hops); err != nil {
			return err
		}
		*p = hops
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '>' || r == ' ' || r == ';'
	})
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("flexString: unsupported value %s", b)
	}
	*f = flexString(b)
	return nil
}

// LoadCaptureFile opens path and decodes it with LoadCaptureJSON.
func LoadCaptureFile(path string) (*Capture, CaptureSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, CaptureSummary{}, fmt.Errorf("LoadCaptureFile: %w", err)
	}
	defer f.Close()
	return LoadCaptureJSON(f)
}

// LoadCaptureJSON decodes a capture document. Only a document that is not
// JSON at all fails; individual packets or neighbours that cannot be
// decoded are skipped and counted in the summary.
func LoadCaptureJSON(r io.Reader) (*Capture, CaptureSummary, error) {
	var sum CaptureSummary
	var payload captureJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, sum, fmt.Errorf("%w: decode failed: %v", ErrInvalidCapture, err)
	}

	c := &Capture{Input: Input{Directory: make(model.NeighborDirectory)}}
	if l := payload.Local; l != nil {
		c.LocalHash = strings.ToUpper(firstNonEmpty(l.Hash, l.PublicKey))
		if pos, ok := latLonFrom(l.Latitude, l.Longitude); ok {
			c.LocalPosition = &pos
		}
	}

	for _, raw := range payload.Packets {
		var pj packetJSON
		if err := json.Unmarshal(raw, &pj); err != nil {
			sum.SkippedPackets++
			continue
		}
		pkt, ok := pj.toModel()
		if !ok {
			sum.SkippedPackets++
			continue
		}
		c.Input.Packets = append(c.Input.Packets, pkt)
	}
	sum.Packets = len(c.Input.Packets)

	neighbors, skipped, err := decodeNeighbors(payload.Neighbors)
	if err != nil {
		return nil, sum, fmt.Errorf("%w: neighbors: %v", ErrInvalidCapture, err)
	}
	for _, n := range neighbors {
		c.Input.Directory[n.Hash] = n
	}
	sum.Neighbors = len(c.Input.Directory)
	sum.SkippedNeighbors = skipped
	return c, sum, nil
}

func (pj packetJSON) toModel() (model.ObservedPacket, bool) {
	id := firstNonEmpty(pj.PacketHash, pj.ID)
	if id == "" {
		return model.ObservedPacket{}, false
	}
	pkt := model.ObservedPacket{
		PacketHash:    id,
		SrcHash:       firstNonEmpty(pj.SrcHash, pj.Src),
		DstHash:       firstNonEmpty(pj.DstHash, pj.Dst),
		ForwardedPath: []string(pj.ForwardedPath),
		OriginalPath:  []string(pj.OriginalPath),
		Timestamp:     pj.Timestamp,
		SNR:           pj.SNR,
		RSSI:          pj.RSSI,
		PayloadLength: pj.PayloadLength,
		RouteType:     string(pj.RouteType),
		PayloadType:   firstNonEmpty(string(pj.PayloadType), string(pj.Type)),
		Latitude:      firstSet(pj.Latitude, pj.Lat),
		Longitude:     firstSet(pj.Longitude, pj.Lon),
	}
	if pkt.PayloadLength == 0 {
		pkt.PayloadLength = pj.Length
	}
	return pkt, true
}

func decodeNeighbors(raw json.RawMessage) ([]model.Neighbor, int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, 0, nil
	}

	type keyed struct {
		key string
		raw json.RawMessage
	}
	var items []keyed
	switch raw[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, 0, err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, keyed{key: k, raw: m[k]})
		}
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, 0, err
		}
		for _, v := range list {
			items = append(items, keyed{raw: v})
		}
	default:
		return nil, 0, fmt.Errorf("expected object or array")
	}

	var out []model.Neighbor
	skipped := 0
	for _, it := range items {
		var nj neighborJSON
		if err := json.Unmarshal(it.raw, &nj); err != nil {
			skipped++
			continue
		}
		hash := strings.ToUpper(strings.TrimSpace(firstNonEmpty(nj.Hash, nj.PublicKey, it.key)))
		if hash == "" {
			skipped++
			continue
		}
		out = append(out, model.Neighbor{
			Hash:        hash,
			Name:        nj.Name,
			Role:        roleFromJSON(string(nj.Role)),
			Latitude:    firstSet(nj.Latitude, nj.Lat),
			Longitude:   firstSet(nj.Longitude, nj.Lon),
			SNR:         nj.SNR,
			RSSI:        nj.RSSI,
			AdvertCount: nj.AdvertCount,
			LastSeen:    nj.LastSeen,
		})
	}
	return out, skipped, nil
}

// roleFromJSON accepts role names and the numeric advert types used on
// air (1 chat, 2 repeater, 3 room server, 4 sensor).
func roleFromJSON(s string) model.NodeRole {
	switch strings.TrimSpace(s) {
	case "1":
		return model.RoleCompanion
	case "2":
		return model.RoleRepeater
	case "3":
		return model.RoleRoomServer
	case "4":
		return model.RoleSensor
	}
	return model.ParseNodeRole(strings.ToLower(strings.TrimSpace(s)))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
