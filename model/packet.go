package model

// ObservedPacket is a single packet overheard by the local repeater.
// Packets are immutable once captured and identified by PacketHash.
type ObservedPacket struct {
	PacketHash string `json:"packet_hash"`

	// SrcHash and DstHash may carry a full node hash or only a prefix,
	// depending on the payload type.
	SrcHash string `json:"src_hash,omitempty"`
	DstHash string `json:"dst_hash,omitempty"`

	// ForwardedPath is the hop prefix list as seen after forwarding;
	// OriginalPath is the list as received. Both are in hop order.
	ForwardedPath []string `json:"forwarded_path,omitempty"`
	OriginalPath  []string `json:"original_path,omitempty"`

	// Timestamp is the capture time in unix seconds.
	Timestamp float64 `json:"timestamp"`

	SNR           *float64 `json:"snr,omitempty"`
	RSSI          *float64 `json:"rssi,omitempty"`
	PayloadLength int      `json:"payload_length,omitempty"`

	// RouteType is the flood/direct routing flag. It says nothing about
	// how many hops a packet travelled.
	RouteType   string `json:"route_type,omitempty"`
	PayloadType string `json:"payload_type,omitempty"`

	// Latitude and Longitude are set for adverts that carry a position.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Path returns the hop list used for topology inference: the forwarded
// path when present, the original path otherwise.
func (p ObservedPacket) Path() []string {
	if len(p.ForwardedPath) > 0 {
		return p.ForwardedPath
	}
	return p.OriginalPath
}

// HasPosition reports whether the packet carries a coordinate pair.
func (p ObservedPacket) HasPosition() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Clone returns a deep copy that shares no slices or pointers with p.
func (p ObservedPacket) Clone() ObservedPacket {
	out := p
	out.ForwardedPath = cloneStrings(p.ForwardedPath)
	out.OriginalPath = cloneStrings(p.OriginalPath)
	out.SNR = cloneFloat(p.SNR)
	out.RSSI = cloneFloat(p.RSSI)
	out.Latitude = cloneFloat(p.Latitude)
	out.Longitude = cloneFloat(p.Longitude)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
