package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "engine"))
	log.Debug(context.Background(), "computed",
		Int("edges", 4), Float("confidence", 0.5), Duration("took", time.Second), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "computed" || rec["component"] != "engine" || rec["error"] != "boom" {
		t.Fatalf("record = %v", rec)
	}
	if rec["edges"].(float64) != 4 {
		t.Fatalf("edges = %v", rec["edges"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	log.Warn(context.Background(), "shown")
	if buf.Len() == 0 {
		t.Fatalf("warn not logged")
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if len(id) != 36 {
		t.Fatalf("request id %q is not a UUID", id)
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Fatalf("EnsureRequestID replaced an existing id: %q vs %q", again, id)
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Fatalf("empty context reported a request id")
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on empty context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("ContextWithLogger(nil) should store a noop logger")
	}
}

func TestSetLevelAffectsDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "error", Output: &buf})
	child := base.With(String("component", "watcher"))

	child.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at error level: %s", buf.String())
	}
	if !SetLevel(base, "debug") {
		t.Fatalf("SetLevel rejected a slog logger")
	}
	child.Debug(context.Background(), "shown")
	if buf.Len() == 0 {
		t.Fatalf("derived logger did not follow the new level")
	}
	if SetLevel(Noop(), "debug") {
		t.Fatalf("SetLevel accepted the noop logger")
	}
}
