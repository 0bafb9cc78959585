// Package config loads the meshtopo YAML configuration and turns it into
// the settings each component needs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/meshtopo/core"
)

// EnvConfigPath names the environment variable consulted when no -config
// flag is given.
const EnvConfigPath = "MESHTOPO_CONFIG"

// Defaults for the non-core sections.
const (
	DefaultDebounce    = 120 * time.Millisecond
	DefaultGRPCAddr    = ":50051"
	DefaultMetricsAddr = ":9090"
	DefaultCacheTTL    = 5 * time.Minute
)

// Duration is a time.Duration that reads Go duration strings ("250ms",
// "24h") or bare integers as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	raw := strings.TrimSpace(n.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := n.Decode(&secs); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", n.Line, raw)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LocalConfig identifies the observing repeater.
type LocalConfig struct {
	Hash         string   `yaml:"hash"`
	Latitude     *float64 `yaml:"latitude,omitempty"`
	Longitude    *float64 `yaml:"longitude,omitempty"`
	PrefixLength int      `yaml:"prefix_length,omitempty"`
}

// ThresholdConfig mirrors the tunable thresholds of core.Config. Confidence
// and JitterMeters accept an explicit zero; left out they take the default.
type ThresholdConfig struct {
	Confidence             *float64 `yaml:"confidence,omitempty"`
	Validation             int      `yaml:"validation,omitempty"`
	ReachabilityMinCertain int      `yaml:"reachability_min_certain,omitempty"`
	HubPercentile          float64  `yaml:"hub_percentile,omitempty"`
	HubMinDegree           int      `yaml:"hub_min_degree,omitempty"`
	MaxLoopLength          int      `yaml:"max_loop_length,omitempty"`
	MaxLoops               int      `yaml:"max_loops,omitempty"`
	BackboneTopK           int      `yaml:"backbone_top_k,omitempty"`
	JitterMeters           *float64 `yaml:"jitter_meters,omitempty"`
	MobilityDistanceMeters float64  `yaml:"mobility_distance_meters,omitempty"`
	MobilityWindow         Duration `yaml:"mobility_window,omitempty"`
}

// WeightConfig sets the disambiguation signal weights.
type WeightConfig struct {
	Position     float64 `yaml:"position"`
	CoOccurrence float64 `yaml:"cooccurrence"`
	Geographic   float64 `yaml:"geographic"`
}

// AdvisorConfig bounds the recommended TX delay factors. TxDelayBase
// accepts an explicit zero.
type AdvisorConfig struct {
	TxDelayBase *float64 `yaml:"tx_delay_base,omitempty"`
	TxDelayMax  float64 `yaml:"tx_delay_max,omitempty"`
}

type EngineConfig struct {
	Debounce Duration `yaml:"debounce,omitempty"`
}

// ServerConfig holds the listen addresses. IngestRate caps SubmitCapture
// and Recompute calls per second, with IngestBurst calls allowed at once;
// zero disables the cap.
type ServerConfig struct {
	GRPCAddr    string  `yaml:"grpc_addr,omitempty"`
	MetricsAddr string  `yaml:"metrics_addr,omitempty"`
	IngestRate  float64 `yaml:"ingest_rate,omitempty"`
	IngestBurst int     `yaml:"ingest_burst,omitempty"`
}

// CaptureConfig points at the capture file the server ingests. With Watch
// set the file is reloaded whenever it changes.
type CaptureConfig struct {
	Path  string `yaml:"path,omitempty"`
	Watch bool   `yaml:"watch,omitempty"`
}

type CacheConfig struct {
	TTL Duration `yaml:"ttl,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Config is the whole file.
type Config struct {
	Local      LocalConfig     `yaml:"local"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Weights    WeightConfig    `yaml:"weights"`
	Advisor    AdvisorConfig   `yaml:"advisor"`
	Engine     EngineConfig    `yaml:"engine"`
	Server     ServerConfig    `yaml:"server"`
	Capture    CaptureConfig   `yaml:"capture"`
	Cache      CacheConfig     `yaml:"cache"`
	Logging    LoggingConfig   `yaml:"logging"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// Default returns a config with every default applied and no local node.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Locate returns the config file to load. An explicit path must exist;
// otherwise MESHTOPO_CONFIG, $XDG_CONFIG_HOME/meshtopo/config.yaml and
// ./meshtopo.yaml are tried in order. An empty result means none exists.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, candidate := range searchPaths() {
		if candidate == "" {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", nil
}

func searchPaths() []string {
	paths := []string{os.Getenv(EnvConfigPath)}
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		if home, err := os.UserHomeDir(); err == nil {
			xdg = filepath.Join(home, ".config")
		}
	}
	if xdg != "" {
		paths = append(paths, filepath.Join(xdg, "meshtopo", "config.yaml"))
	}
	return append(paths, "meshtopo.yaml")
}

// Load locates and reads the config. With no file anywhere it returns the
// defaults.
func Load(explicit string) (*Config, error) {
	path, err := Locate(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and parses one config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown keys, and applies defaults. An
// empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (c *Config) applyDefaults() {
	c.Local.Hash = strings.ToUpper(strings.TrimSpace(c.Local.Hash))
	if c.Local.PrefixLength == 0 {
		c.Local.PrefixLength = core.DefaultPrefixLength
	}
	if c.Engine.Debounce == 0 {
		c.Engine.Debounce = Duration(DefaultDebounce)
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = DefaultGRPCAddr
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = DefaultMetricsAddr
	}
	if c.Server.IngestRate > 0 && c.Server.IngestBurst == 0 {
		c.Server.IngestBurst = 1
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(DefaultCacheTTL)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// validate checks what core.Config cannot: the local node is optional here
// because a capture may name it.
func (c *Config) validate() error {
	if (c.Local.Latitude == nil) != (c.Local.Longitude == nil) {
		return fmt.Errorf("%w: local latitude and longitude must be set together", core.ErrInvalidConfig)
	}
	if c.Engine.Debounce < 0 || c.Cache.TTL < 0 {
		return fmt.Errorf("%w: durations must not be negative", core.ErrInvalidConfig)
	}
	if c.Server.IngestRate < 0 || c.Server.IngestBurst < 0 {
		return fmt.Errorf("%w: ingest rate and burst must not be negative", core.ErrInvalidConfig)
	}
	candidate := c.Core()
	if candidate.LocalHash == "" {
		candidate.LocalHash = strings.Repeat("0", candidate.PrefixLength)
	}
	return candidate.Validate()
}

// Core builds the pipeline configuration.
func (c *Config) Core() core.Config {
	cfg := core.Config{
		LocalHash:              c.Local.Hash,
		PrefixLength:           c.Local.PrefixLength,
		ConfidenceThreshold:    valueOr(c.Thresholds.Confidence, core.DefaultConfidenceThreshold),
		ValidationThreshold:    c.Thresholds.Validation,
		ReachabilityMinCertain: c.Thresholds.ReachabilityMinCertain,
		HubPercentile:          c.Thresholds.HubPercentile,
		HubMinDegree:           c.Thresholds.HubMinDegree,
		MaxLoopLength:          c.Thresholds.MaxLoopLength,
		MaxLoops:               c.Thresholds.MaxLoops,
		BackboneTopK:           c.Thresholds.BackboneTopK,
		JitterMeters:           valueOr(c.Thresholds.JitterMeters, core.DefaultJitterMeters),
		MobilityDistanceMeters: c.Thresholds.MobilityDistanceMeters,
		MobilityWindow:         c.Thresholds.MobilityWindow.Std(),
		Weights: core.Weights{
			Position:     c.Weights.Position,
			CoOccurrence: c.Weights.CoOccurrence,
			Geographic:   c.Weights.Geographic,
		},
		TxDelayBase: valueOr(c.Advisor.TxDelayBase, core.DefaultTxDelayBase),
		TxDelayMax:  c.Advisor.TxDelayMax,
	}
	if c.Local.Latitude != nil && c.Local.Longitude != nil {
		cfg.LocalPosition = &core.LatLon{Lat: *c.Local.Latitude, Lon: *c.Local.Longitude}
	}
	return cfg.Normalize()
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
