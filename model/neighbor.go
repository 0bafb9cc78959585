package model

// NodeRole is the role a node declares in its adverts.
type NodeRole string

const (
	RoleUnknown    NodeRole = "unknown"
	RoleRepeater   NodeRole = "repeater"
	RoleCompanion  NodeRole = "companion"
	RoleRoomServer NodeRole = "room_server"
	RoleSensor     NodeRole = "sensor"
)

// ParseNodeRole maps the role strings seen in adverts and exports to a
// NodeRole. Unrecognised values map to RoleUnknown.
func ParseNodeRole(s string) NodeRole {
	switch s {
	case "repeater", "REPEATER", "rep":
		return RoleRepeater
	case "companion", "COMPANION", "chat", "client":
		return RoleCompanion
	case "room_server", "ROOM_SERVER", "room-server", "room":
		return RoleRoomServer
	case "sensor", "SENSOR":
		return RoleSensor
	default:
		return RoleUnknown
	}
}

// Neighbor is what the local node knows about another node from its
// adverts.
type Neighbor struct {
	Hash string   `json:"hash"`
	Name string   `json:"name,omitempty"`
	Role NodeRole `json:"role,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	SNR         *float64 `json:"snr,omitempty"`
	RSSI        *float64 `json:"rssi,omitempty"`
	AdvertCount int      `json:"advert_count,omitempty"`
	LastSeen    float64  `json:"last_seen,omitempty"`
}

// HasPosition reports whether the neighbour has advertised coordinates.
func (n Neighbor) HasPosition() bool {
	return n.Latitude != nil && n.Longitude != nil
}

// Clone returns a deep copy of n.
func (n Neighbor) Clone() Neighbor {
	out := n
	out.Latitude = cloneFloat(n.Latitude)
	out.Longitude = cloneFloat(n.Longitude)
	out.SNR = cloneFloat(n.SNR)
	out.RSSI = cloneFloat(n.RSSI)
	return out
}

// NeighborDirectory maps a full node hash to its directory entry.
type NeighborDirectory map[string]Neighbor

// Clone returns a deep copy of the directory.
func (d NeighborDirectory) Clone() NeighborDirectory {
	if d == nil {
		return nil
	}
	out := make(NeighborDirectory, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}
