package engine

import "fmt"

// ComputeError reports a computation that failed or panicked. Stage names
// the pipeline stage that was running, or is empty when the failure came
// before the first stage (for example a rejected configuration).
type ComputeError struct {
	RequestID string
	Stage     string
	Message   string
	Panic     bool

	cause error
}

func (e *ComputeError) Error() string {
	kind := "failed"
	if e.Panic {
		kind = "panicked"
	}
	if e.Stage == "" {
		return fmt.Sprintf("topology request %s %s: %s", e.RequestID, kind, e.Message)
	}
	return fmt.Sprintf("topology request %s %s in stage %s: %s", e.RequestID, kind, e.Stage, e.Message)
}

// Unwrap exposes the underlying error so sentinel checks keep working.
func (e *ComputeError) Unwrap() error { return e.cause }
