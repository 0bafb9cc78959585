package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/meshtopo/core"
)

const sample = `
local:
  hash: f0a1b2c3
  latitude: 47.37
  longitude: 8.54
thresholds:
  confidence: 0.7
  validation: 3
  mobility_window: 12h
weights:
  position: 0.5
  cooccurrence: 0.3
  geographic: 0.2
engine:
  debounce: 250ms
cache:
  ttl: 60
capture:
  path: /var/lib/meshtopo/capture.json
  watch: true
`

func TestParseAppliesValuesAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Local.Hash != "F0A1B2C3" {
		t.Fatalf("Local.Hash = %q", cfg.Local.Hash)
	}
	if cfg.Engine.Debounce.Std() != 250*time.Millisecond {
		t.Fatalf("Debounce = %v", cfg.Engine.Debounce.Std())
	}
	if cfg.Cache.TTL.Std() != time.Minute {
		t.Fatalf("Cache.TTL = %v, want bare integer read as seconds", cfg.Cache.TTL.Std())
	}
	if cfg.Server.GRPCAddr != DefaultGRPCAddr || cfg.Server.MetricsAddr != DefaultMetricsAddr {
		t.Fatalf("Server = %+v", cfg.Server)
	}
	if !cfg.Capture.Watch || cfg.Capture.Path == "" {
		t.Fatalf("Capture = %+v", cfg.Capture)
	}

	c := cfg.Core()
	if c.ConfidenceThreshold != 0.7 || c.ValidationThreshold != 3 || c.MobilityWindow != 12*time.Hour {
		t.Fatalf("Core thresholds = %+v", c)
	}
	if c.MaxLoopLength != core.DefaultMaxLoopLength || c.HubPercentile != core.DefaultHubPercentile {
		t.Fatalf("Core defaults not applied: %+v", c)
	}
	if c.Weights != (core.Weights{Position: 0.5, CoOccurrence: 0.3, Geographic: 0.2}) {
		t.Fatalf("Core weights = %+v", c.Weights)
	}
	if c.LocalPosition == nil || c.LocalPosition.Lat != 47.37 {
		t.Fatalf("Core local position = %+v", c.LocalPosition)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Core().Validate() = %v", err)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "local:\n  hash: F0\n  colour: red\n",
		"bad duration":    "engine:\n  debounce: soon\n",
		"half position":   "local:\n  latitude: 47\n",
		"bad threshold":   "thresholds:\n  confidence: 1.5\n",
		"negative window": "thresholds:\n  mobility_window: -1h\n",
		"negative rate":   "server:\n  ingest_rate: -2\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, core.ErrInvalidConfig) {
				t.Fatalf("Parse() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestIngestBurstDefaultsToOne(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  ingest_rate: 0.5\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.IngestRate != 0.5 || cfg.Server.IngestBurst != 1 {
		t.Fatalf("Server = %+v", cfg.Server)
	}
}

func TestParseEmptyDocumentGivesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.Engine.Debounce.Std() != DefaultDebounce || cfg.Cache.TTL.Std() != DefaultCacheTTL {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Core().LocalHash != "" {
		t.Fatalf("default config names a local node")
	}
}

func TestLocateSearchOrder(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvConfigPath, "")
	t.Chdir(t.TempDir())

	if path, err := Locate(""); err != nil || path != "" {
		t.Fatalf("Locate() with nothing present = %q, %v", path, err)
	}

	xdgPath := filepath.Join(dir, "meshtopo", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(xdgPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(xdgPath, []byte("local:\n  hash: AB\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if path, _ := Locate(""); path != xdgPath {
		t.Fatalf("Locate() = %q, want XDG path", path)
	}

	envPath := filepath.Join(dir, "env.yaml")
	if err := os.WriteFile(envPath, []byte("local:\n  hash: CD\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, envPath)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Path != envPath || cfg.Local.Hash != "CD" {
		t.Fatalf("Load() picked %q with hash %q", cfg.Path, cfg.Local.Hash)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("Load() with missing explicit path should fail")
	}
}

func TestExplicitZeroThresholds(t *testing.T) {
	cfg, err := Parse([]byte("local:\n  hash: F0A1\nthresholds:\n  confidence: 0\n  jitter_meters: 0\nadvisor:\n  tx_delay_base: 0\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	c := cfg.Core()
	if c.ConfidenceThreshold != 0 || c.JitterMeters != 0 || c.TxDelayBase != 0 {
		t.Fatalf("Core() = %+v, want explicit zeros kept", c)
	}

	omitted := Default().Core()
	if omitted.ConfidenceThreshold != core.DefaultConfidenceThreshold ||
		omitted.JitterMeters != core.DefaultJitterMeters ||
		omitted.TxDelayBase != core.DefaultTxDelayBase {
		t.Fatalf("Default().Core() = %+v, want defaults", omitted)
	}
}
