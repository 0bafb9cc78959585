// Package engine runs topology computations off the caller's goroutine.
//
// The engine keeps a single pending slot: every Submit replaces whatever is
// waiting (latest wins) and restarts a short debounce timer. One computation
// runs at a time and is never cancelled mid-flight; a request submitted while
// another is running waits in the slot until the running one finishes.
// Inputs are deep-copied on submit and results leave as wire.Result values,
// so no mutable state is shared with callers.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/internal/logging"
	"github.com/signalsfoundry/meshtopo/internal/observability"
	"github.com/signalsfoundry/meshtopo/internal/wire"
)

// DefaultDebounce is how long a submission waits for a newer one.
const DefaultDebounce = 120 * time.Millisecond

// ComputeFunc computes a topology. It is core.Compute unless replaced in tests.
type ComputeFunc func(in core.Input, cfg core.Config, opts ...core.ComputeOption) (*core.Result, error)

// Outcome is the result of one computation. Exactly one of Result and Err
// is set.
type Outcome struct {
	RequestID  string
	Result     *wire.Result
	Err        error
	Duration   time.Duration
	FinishedAt time.Time
}

// Stats counts slot and delivery activity since the engine was created.
type Stats struct {
	Submitted  uint64
	Superseded uint64
	Completed  uint64
	Failed     uint64
	Dropped    uint64
}

type request struct {
	id     string
	input  core.Input
	config core.Config
}

// Engine is the debounced, latest-wins computation worker.
type Engine struct {
	debounce time.Duration
	compute  ComputeFunc
	log      logging.Logger
	metrics  *observability.EngineCollector
	tracer   trace.Tracer
	now      func() time.Time

	// runMu serializes computations between the worker and ComputeNow.
	runMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool
	pending *request
	timer   *time.Timer
	stats   Stats
	ctx     context.Context
	cancel  context.CancelFunc

	wake     chan struct{}
	outcomes chan Outcome
	done     chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithDebounce overrides DefaultDebounce. Zero runs requests as soon as the
// worker is free.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.debounce = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records computations on c.
func WithMetrics(c *observability.EngineCollector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer overrides the global meshtopo tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithComputeFunc replaces core.Compute.
func WithComputeFunc(fn ComputeFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.compute = fn
		}
	}
}

// New constructs an engine. It does nothing until Start is called.
func New(opts ...Option) *Engine {
	e := &Engine{
		debounce: DefaultDebounce,
		compute:  core.Compute,
		log:      logging.Noop(),
		tracer:   observability.Tracer(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		outcomes: make(chan Outcome, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the worker goroutine. The worker stops when ctx is done or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return core.ErrEngineStopped
	}
	if e.started {
		return fmt.Errorf("topology engine already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.loop()
	return nil
}

// Stop halts the worker, discards any pending request and waits for a
// running computation to finish. The outcome channel is closed afterwards.
// Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.pending = nil
	started := e.started
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	if !started {
		close(e.outcomes)
		close(e.done)
		return
	}
	<-e.done
}

// Submit places a request in the pending slot, replacing any request still
// waiting there, and returns its ID.
func (e *Engine) Submit(in core.Input, cfg core.Config) (string, error) {
	req := &request{
		id:     uuid.NewString(),
		input:  in.Clone(),
		config: cfg,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return "", core.ErrEngineStopped
	}
	if !e.started {
		return "", core.ErrEngineNotStarted
	}
	if e.ctx.Err() != nil {
		return "", core.ErrEngineStopped
	}

	e.stats.Submitted++
	if e.pending != nil {
		e.stats.Superseded++
		e.metrics.IncSuperseded()
		e.log.Debug(e.ctx, "pending topology request superseded",
			logging.String("request_id", e.pending.id),
			logging.String("superseded_by", req.id),
		)
	}
	e.pending = req

	if e.timer == nil {
		e.timer = time.AfterFunc(e.debounce, e.signal)
	} else {
		e.timer.Stop()
		// A wake left by an earlier timer would let this request skip its
		// own debounce.
		select {
		case <-e.wake:
		default:
		}
		e.timer.Reset(e.debounce)
	}
	return req.id, nil
}

// Outcomes delivers finished computations. The channel holds at most one
// undelivered outcome; an older one is dropped when a newer one arrives.
func (e *Engine) Outcomes() <-chan Outcome {
	return e.outcomes
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Pending reports whether a request is waiting in the slot.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// ComputeNow runs one guarded computation synchronously on the caller's
// goroutine. It bypasses the slot and the outcome channel but still waits
// for a computation the worker is running.
func (e *Engine) ComputeNow(ctx context.Context, in core.Input, cfg core.Config) Outcome {
	return e.runExclusive(ctx, &request{id: uuid.NewString(), input: in.Clone(), config: cfg})
}

func (e *Engine) runExclusive(ctx context.Context, req *request) Outcome {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.run(ctx, req)
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	defer close(e.outcomes)

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		}

		e.mu.Lock()
		req := e.pending
		e.pending = nil
		e.mu.Unlock()
		if req == nil {
			continue
		}

		out := e.runExclusive(e.ctx, req)
		e.deliver(out)

		e.mu.Lock()
		if out.Err != nil {
			e.stats.Failed++
		} else {
			e.stats.Completed++
		}
		e.mu.Unlock()
	}
}

// deliver hands out to the consumer, replacing an outcome nobody has read.
// The worker goroutine is the only sender, so the second send cannot block.
func (e *Engine) deliver(out Outcome) {
	select {
	case e.outcomes <- out:
		return
	default:
	}
	select {
	case old := <-e.outcomes:
		e.mu.Lock()
		e.stats.Dropped++
		e.mu.Unlock()
		e.metrics.IncDropped()
		e.log.Debug(e.ctx, "undelivered topology outcome dropped", logging.String("request_id", old.RequestID))
	default:
	}
	e.outcomes <- out
}

func (e *Engine) run(ctx context.Context, req *request) (out Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.ContextWithRequestID(ctx, req.id)
	ctx, span := e.tracer.Start(ctx, "topology.compute", trace.WithAttributes(
		attribute.String("request_id", req.id),
		attribute.Int("packets", len(req.input.Packets)),
		attribute.Int("neighbors", len(req.input.Directory)),
	))
	defer span.End()

	obs := &stageTracker{span: span, metrics: e.metrics}
	start := e.now()
	out.RequestID = req.id

	defer func() {
		out.Duration = e.now().Sub(start)
		out.FinishedAt = e.now()
		outcome := observability.OutcomeOK
		if r := recover(); r != nil {
			outcome = observability.OutcomePanic
			out.Result = nil
			out.Err = &ComputeError{
				RequestID: req.id,
				Stage:     obs.current(),
				Message:   fmt.Sprint(r),
				Panic:     true,
			}
		} else if out.Err != nil {
			outcome = observability.OutcomeError
		}
		e.metrics.ObserveComputation(outcome, out.Duration)

		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
			e.log.Error(ctx, "topology computation failed",
				logging.String("request_id", req.id),
				logging.String("outcome", outcome),
				logging.Err(out.Err),
			)
			return
		}
		e.log.Info(ctx, "topology computed",
			logging.String("request_id", req.id),
			logging.Duration("duration", out.Duration),
			logging.Int("nodes", out.Result.Stats.Nodes),
			logging.Int("edges", len(out.Result.Edges)),
			logging.Int("loops", len(out.Result.Loops)),
		)
	}()

	res, err := e.compute(req.input, req.config, core.WithStageObserver(obs))
	if err != nil {
		out.Err = &ComputeError{
			RequestID: req.id,
			Stage:     obs.current(),
			Message:   err.Error(),
			cause:     err,
		}
		return out
	}
	e.metrics.SetTopology(res)
	out.Result = wire.Encode(res)
	return out
}

// stageTracker remembers the running stage and mirrors stage boundaries to
// the span and the stage histogram.
type stageTracker struct {
	span    trace.Span
	metrics *observability.EngineCollector

	mu    sync.Mutex
	stage string
}

func (s *stageTracker) StageStarted(stage string) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
	s.span.AddEvent("stage.started", trace.WithAttributes(attribute.String("stage", stage)))
}

func (s *stageTracker) StageFinished(stage string, elapsed time.Duration) {
	s.mu.Lock()
	s.stage = ""
	s.mu.Unlock()
	s.span.AddEvent("stage.finished", trace.WithAttributes(
		attribute.String("stage", stage),
		attribute.Int64("elapsed_us", elapsed.Microseconds()),
	))
	s.metrics.StageFinished(stage, elapsed)
}

func (s *stageTracker) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}
