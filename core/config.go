package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Weights balances the three signals the disambiguator combines. They
// are relative; only their ratios matter.
type Weights struct {
	Position     float64 `json:"position"`
	CoOccurrence float64 `json:"cooccurrence"`
	Geographic   float64 `json:"geographic"`
}

// Config holds every threshold the pipeline consults. A zero value for a
// numeric field means "use the default" once passed through Normalize,
// except ConfidenceThreshold, JitterMeters and TxDelayBase, where zero is a
// setting of its own. Start from DefaultConfig to get their defaults.
type Config struct {
	// LocalHash is the full hash of the observing repeater.
	LocalHash string
	// LocalPosition is optional; without it the geographic signal is silent.
	LocalPosition *LatLon
	// PrefixLength is the number of hex characters carried per hop on air.
	PrefixLength int

	ConfidenceThreshold    float64
	ValidationThreshold    int
	ReachabilityMinCertain int
	HubPercentile          float64
	HubMinDegree           int

	MaxLoopLength int
	MaxLoops      int
	BackboneTopK  int

	JitterMeters           float64
	MobilityDistanceMeters float64
	MobilityWindow         time.Duration

	Weights Weights

	TxDelayBase float64
	TxDelayMax  float64
}

// Defaults.
const (
	DefaultPrefixLength           = 2
	DefaultConfidenceThreshold    = 0.6
	DefaultValidationThreshold    = 5
	DefaultHubPercentile          = 0.9
	DefaultHubMinDegree           = 3
	DefaultMaxLoopLength          = 6
	DefaultMaxLoops               = 256
	DefaultBackboneTopK           = 5
	DefaultJitterMeters           = 5.0
	DefaultMobilityDistanceMeters = 50.0
	DefaultMobilityWindow         = 24 * time.Hour
	DefaultTxDelayBase            = 0.5
	DefaultTxDelayMax             = 2.0
)

// DefaultWeights favours path evidence over geography.
var DefaultWeights = Weights{Position: 0.4, CoOccurrence: 0.4, Geographic: 0.2}

// DefaultConfig returns a Config for the given local node with all
// thresholds at their defaults.
func DefaultConfig(localHash string) Config {
	return Config{
		LocalHash:           localHash,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		JitterMeters:        DefaultJitterMeters,
		TxDelayBase:         DefaultTxDelayBase,
	}.Normalize()
}

// Normalize fills zero-valued fields that have no meaning of their own
// with defaults and canonicalises the local hash.
func (c Config) Normalize() Config {
	c.LocalHash = strings.ToUpper(strings.TrimSpace(c.LocalHash))
	if c.PrefixLength == 0 {
		c.PrefixLength = DefaultPrefixLength
	}
	if c.ValidationThreshold == 0 {
		c.ValidationThreshold = DefaultValidationThreshold
	}
	if c.HubPercentile == 0 {
		c.HubPercentile = DefaultHubPercentile
	}
	if c.HubMinDegree == 0 {
		c.HubMinDegree = DefaultHubMinDegree
	}
	if c.MaxLoopLength == 0 {
		c.MaxLoopLength = DefaultMaxLoopLength
	}
	if c.MaxLoops == 0 {
		c.MaxLoops = DefaultMaxLoops
	}
	if c.BackboneTopK == 0 {
		c.BackboneTopK = DefaultBackboneTopK
	}
	if c.MobilityDistanceMeters == 0 {
		c.MobilityDistanceMeters = DefaultMobilityDistanceMeters
	}
	if c.MobilityWindow == 0 {
		c.MobilityWindow = DefaultMobilityWindow
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights
	}
	if c.TxDelayMax == 0 {
		c.TxDelayMax = DefaultTxDelayMax
	}
	return c
}

// Validate checks a normalized Config.
func (c Config) Validate() error {
	if c.LocalHash == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrLocalUnknown)
	}
	if len(c.LocalHash) < c.PrefixLength {
		return fmt.Errorf("%w: local hash %q shorter than prefix length %d", ErrInvalidConfig, c.LocalHash, c.PrefixLength)
	}
	if c.PrefixLength < 1 || c.PrefixLength > 8 {
		return fmt.Errorf("%w: prefix length %d out of range [1,8]", ErrInvalidConfig, c.PrefixLength)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold %v out of range [0,1]", ErrInvalidConfig, c.ConfidenceThreshold)
	}
	if c.ValidationThreshold < 1 {
		return fmt.Errorf("%w: validation threshold must be >= 1", ErrInvalidConfig)
	}
	if c.ReachabilityMinCertain < 0 {
		return fmt.Errorf("%w: reachability minimum must be >= 0", ErrInvalidConfig)
	}
	if c.HubPercentile <= 0 || c.HubPercentile >= 1 {
		return fmt.Errorf("%w: hub percentile %v out of range (0,1)", ErrInvalidConfig, c.HubPercentile)
	}
	if c.MaxLoopLength < 3 {
		return fmt.Errorf("%w: max loop length %d < 3", ErrInvalidConfig, c.MaxLoopLength)
	}
	if c.MaxLoops < 1 || c.BackboneTopK < 1 || c.HubMinDegree < 1 {
		return fmt.Errorf("%w: loop, backbone and hub limits must be >= 1", ErrInvalidConfig)
	}
	if c.JitterMeters < 0 || c.MobilityDistanceMeters <= c.JitterMeters {
		return fmt.Errorf("%w: mobility distance %vm must exceed jitter %vm", ErrInvalidConfig, c.MobilityDistanceMeters, c.JitterMeters)
	}
	if c.MobilityWindow < 0 {
		return fmt.Errorf("%w: negative mobility window", ErrInvalidConfig)
	}
	w := c.Weights
	for _, v := range []float64{w.Position, w.CoOccurrence, w.Geographic} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: disambiguation weights must be finite and >= 0", ErrInvalidConfig)
		}
	}
	if w.Position+w.CoOccurrence+w.Geographic == 0 {
		return fmt.Errorf("%w: disambiguation weights sum to zero", ErrInvalidConfig)
	}
	if c.TxDelayBase < 0 || c.TxDelayMax < c.TxDelayBase {
		return fmt.Errorf("%w: tx delay range [%v,%v] invalid", ErrInvalidConfig, c.TxDelayBase, c.TxDelayMax)
	}
	if c.LocalPosition != nil && !c.LocalPosition.Valid() {
		return fmt.Errorf("%w: local position %v invalid", ErrInvalidConfig, *c.LocalPosition)
	}
	return nil
}

// LocalPrefix is the on-air prefix of the local node.
func (c Config) LocalPrefix() string {
	return PrefixOf(c.LocalHash, c.PrefixLength)
}

func (c Config) reachabilityThreshold() int {
	if c.ReachabilityMinCertain > 0 {
		return c.ReachabilityMinCertain
	}
	return c.ValidationThreshold
}

// PrefixOf returns the upper-cased leading n characters of a full hash.
func PrefixOf(hash string, n int) string {
	h := strings.ToUpper(strings.TrimSpace(hash))
	if len(h) <= n {
		return h
	}
	return h[:n]
}

// NormalizeHop canonicalises one path token. Tokens longer than n are
// truncated to their prefix, short hex tokens are zero padded. It
// reports false for tokens that cannot be a node identifier.
func NormalizeHop(token string, n int) (string, bool) {
	t := strings.ToUpper(strings.TrimSpace(token))
	t = strings.TrimPrefix(t, "0X")
	if t == "" {
		return "", false
	}
	allHex := true
	for _, r := range t {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
		case r >= 'G' && r <= 'Z':
			allHex = false
		default:
			return "", false
		}
	}
	if len(t) > n {
		return t[:n], true
	}
	if len(t) < n && allHex {
		t = strings.Repeat("0", n-len(t)) + t
	}
	return t, true
}
