package core

import "errors"

var (
	// ErrInvalidConfig is returned when thresholds or weights are out of range.
	ErrInvalidConfig = errors.New("invalid topology config")
	// ErrInvalidCapture is returned when a capture document cannot be parsed at all.
	ErrInvalidCapture = errors.New("invalid capture")
	// ErrLocalUnknown is returned when no local node identifier is configured.
	ErrLocalUnknown = errors.New("local node identifier not configured")
	// ErrNoResult is returned when no successful computation has completed yet.
	ErrNoResult = errors.New("no topology result available")
	// ErrEngineStopped is returned when work is submitted to a stopped engine.
	ErrEngineStopped = errors.New("topology engine stopped")
	// ErrEngineNotStarted is returned when the engine is used before Start.
	ErrEngineNotStarted = errors.New("topology engine not started")
)
