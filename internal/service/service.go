// Package service owns the state that outlives a single computation: the
// capture snapshot, the last good topology, the last error and the result
// cache. It feeds snapshots to the engine and adopts the outcomes.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/meshtopo/core"
	"github.com/signalsfoundry/meshtopo/internal/engine"
	"github.com/signalsfoundry/meshtopo/internal/logging"
	"github.com/signalsfoundry/meshtopo/internal/observability"
	"github.com/signalsfoundry/meshtopo/internal/wire"
	"github.com/signalsfoundry/meshtopo/kb"
	"github.com/signalsfoundry/meshtopo/model"
)

// Update tells subscribers that a computation finished. Err is set when the
// run failed; the previous result is still current in that case.
type Update struct {
	RequestID string
	FromCache bool
	Err       error
}

// Status summarises the service state.
type Status struct {
	HasResult   bool          `json:"has_result"`
	RequestID   string        `json:"request_id,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt time.Time     `json:"last_error_at,omitempty"`
	Computing   bool          `json:"computing"`
	Queued      bool          `json:"queued"`
	Packets     int           `json:"packets"`
	Neighbors   int           `json:"neighbors"`
	Version     uint64        `json:"snapshot_version"`
	Engine      engine.Stats  `json:"engine"`
	CacheHits   int64         `json:"cache_hits"`
	CacheMisses int64         `json:"cache_misses"`
	CacheDrops  int64         `json:"cache_invalidations"`
	CacheTTL    time.Duration `json:"cache_ttl"`
	LocalHash   string        `json:"local_hash"`
	ResultStats *core.Stats   `json:"result_stats,omitempty"`
}

// Options configures a Service.
type Options struct {
	Config   core.Config
	CacheTTL time.Duration
	Logger   logging.Logger
	Metrics  *observability.EngineCollector
}

type submission struct {
	id          string
	fingerprint uint64
	hashed      bool
	stale       bool
}

// Service connects the store, the engine and the result cache.
type Service struct {
	store   *kb.Store
	engine  *engine.Engine
	cache   *ResultCache
	log     logging.Logger
	metrics *observability.EngineCollector
	now     func() time.Time

	mu          sync.RWMutex
	cfg         core.Config
	last        []byte
	lastStats   core.Stats
	lastID      string
	updatedAt   time.Time
	lastErr     error
	lastErrAt   time.Time
	submissions []submission

	subMu   sync.Mutex
	nextSub uint64
	subs    map[uint64]func(Update)

	readyOnce sync.Once
	ready     chan struct{}
}

// New wires a service around store and eng. Every store change triggers a
// recomputation once Run is active. A zero Options.Config means the
// defaults with the local node taken from the first capture.
func New(store *kb.Store, eng *engine.Engine, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	if opts.Config == (core.Config{}) {
		opts.Config = core.DefaultConfig("")
	}
	return &Service{
		store:   store,
		engine:  eng,
		cache:   NewResultCache(opts.CacheTTL),
		log:     log.With(logging.String("component", "topology_service")),
		metrics: opts.Metrics,
		now:     time.Now,
		cfg:     opts.Config.Normalize(),
		subs:    make(map[uint64]func(Update)),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once Run is listening for store changes.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Run adopts engine outcomes until ctx is done or the engine stops. Store
// changes trigger recomputation while Run is active.
func (s *Service) Run(ctx context.Context) error {
	unsubscribe := s.store.Subscribe(func(ev kb.Event) {
		if _, err := s.Trigger(ctx); err != nil && !errors.Is(err, core.ErrEngineStopped) {
			s.log.Warn(ctx, "trigger after store change failed",
				logging.String("event", ev.Type.String()),
				logging.Err(err),
			)
		}
	})
	defer unsubscribe()
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case out, ok := <-s.engine.Outcomes():
			if !ok {
				return nil
			}
			s.adopt(ctx, out)
		}
	}
}

// Trigger submits the current snapshot. When an identical snapshot was
// computed within the cache TTL its result is adopted directly and the
// returned request ID is empty.
func (s *Service) Trigger(ctx context.Context) (string, error) {
	return s.submit(ctx, false)
}

// Recompute submits the current snapshot even when the cache holds a result
// for it. The cached entry is dropped and replaced when the run finishes.
func (s *Service) Recompute(ctx context.Context) (string, error) {
	return s.submit(ctx, true)
}

func (s *Service) submit(ctx context.Context, force bool) (string, error) {
	in := s.store.Snapshot()
	cfg := s.Config()

	fp, err := Fingerprint(in, cfg)
	hashed := err == nil
	if err != nil {
		s.log.Warn(ctx, "snapshot fingerprint failed; cache bypassed", logging.Err(err))
	}
	switch {
	case hashed && force:
		if s.cache.Invalidate(fp) {
			s.log.Debug(ctx, "cached topology invalidated for recompute")
		}
	case hashed:
		if data, ok := s.cache.Get(fp); ok {
			s.metrics.ObserveCache(true)
			s.markOutstandingStale()
			s.adoptCached(ctx, data)
			return "", nil
		}
		s.metrics.ObserveCache(false)
	}

	id, err := s.engine.Submit(in, cfg)
	if err != nil {
		return "", fmt.Errorf("submit snapshot: %w", err)
	}
	s.mu.Lock()
	s.submissions = append(s.submissions, submission{id: id, fingerprint: fp, hashed: hashed})
	s.mu.Unlock()
	return id, nil
}

// Ingest replaces the snapshot with a loaded capture. A capture that names
// the local node fills in a config without one.
func (s *Service) Ingest(c *core.Capture) error {
	if c == nil {
		return fmt.Errorf("%w: nil capture", core.ErrInvalidCapture)
	}
	s.adoptLocal(c)
	s.store.ReplaceSnapshot(c.Input)
	return nil
}

// Merge adds a capture to the snapshot instead of replacing it. Directory
// entries overwrite entries with the same hash and packets already stored
// keep their earliest sighting.
func (s *Service) Merge(c *core.Capture) error {
	if c == nil {
		return fmt.Errorf("%w: nil capture", core.ErrInvalidCapture)
	}
	s.adoptLocal(c)

	hashes := make([]string, 0, len(c.Input.Directory))
	for hash := range c.Input.Directory {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	neighbors := make([]model.Neighbor, 0, len(hashes))
	for _, hash := range hashes {
		n := c.Input.Directory[hash]
		if n.Hash == "" {
			n.Hash = hash
		}
		neighbors = append(neighbors, n)
	}
	if len(neighbors) > 0 {
		s.store.UpsertNeighbors(neighbors)
	}
	if len(c.Input.Packets) > 0 {
		s.store.UpsertPackets(c.Input.Packets)
	}
	return nil
}

func (s *Service) adoptLocal(c *core.Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.LocalHash == "" && c.LocalHash != "" {
		s.cfg.LocalHash = c.LocalHash
		s.cfg = s.cfg.Normalize()
	}
	if s.cfg.LocalPosition == nil && c.LocalPosition != nil {
		pos := *c.LocalPosition
		s.cfg.LocalPosition = &pos
	}
}

// SetConfig replaces the computation config and recomputes.
func (s *Service) SetConfig(ctx context.Context, cfg core.Config) error {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	_, err := s.Trigger(ctx)
	return err
}

// Config returns the active computation config.
func (s *Service) Config() core.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	if cfg.LocalPosition != nil {
		pos := *cfg.LocalPosition
		cfg.LocalPosition = &pos
	}
	return cfg
}

// Current returns an owned copy of the last good result.
func (s *Service) Current() (*core.Result, error) {
	w, err := s.CurrentWire()
	if err != nil {
		return nil, err
	}
	return wire.Decode(w), nil
}

// CurrentWire returns the last good result in transport form.
func (s *Service) CurrentWire() (*wire.Result, error) {
	data, err := s.CurrentJSON()
	if err != nil {
		return nil, err
	}
	return wire.Unmarshal(data)
}

// CurrentJSON returns the encoded last good result.
func (s *Service) CurrentJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		if s.lastErr != nil {
			return nil, fmt.Errorf("%w: last computation failed: %w", core.ErrNoResult, s.lastErr)
		}
		return nil, core.ErrNoResult
	}
	return cloneBytes(s.last), nil
}

// Status reports the service state.
func (s *Service) Status() Status {
	packets, neighbors := s.store.Counts()
	hits, misses, drops := s.cache.Stats()
	engineStats := s.engine.Stats()
	queued := s.engine.Pending()

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		HasResult:   s.last != nil,
		RequestID:   s.lastID,
		UpdatedAt:   s.updatedAt,
		LastErrorAt: s.lastErrAt,
		Computing:   len(s.submissions) > 0,
		Queued:      queued,
		Packets:     packets,
		Neighbors:   neighbors,
		Version:     s.store.Version(),
		Engine:      engineStats,
		CacheHits:   hits,
		CacheMisses: misses,
		CacheDrops:  drops,
		CacheTTL:    s.cache.TTL(),
		LocalHash:   s.cfg.LocalHash,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.last != nil {
		stats := s.lastStats
		st.ResultStats = &stats
	}
	return st
}

// Subscribe registers fn for completion updates. It returns an unsubscribe
// function.
func (s *Service) Subscribe(fn func(Update)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Service) adopt(ctx context.Context, out engine.Outcome) {
	sub, known := s.takeSubmission(out.RequestID)
	if out.Err != nil && known && sub.stale {
		return
	}

	if out.Err != nil {
		s.mu.Lock()
		s.lastErr = out.Err
		s.lastErrAt = out.FinishedAt
		s.mu.Unlock()
		s.log.Warn(ctx, "keeping previous topology after failed computation",
			logging.String("request_id", out.RequestID),
			logging.Err(out.Err),
		)
		s.notify(Update{RequestID: out.RequestID, Err: out.Err})
		return
	}

	data, err := wire.Marshal(out.Result)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.lastErrAt = s.now()
		s.mu.Unlock()
		s.log.Error(ctx, "encode topology result", logging.Err(err))
		s.notify(Update{RequestID: out.RequestID, Err: err})
		return
	}
	if known && sub.hashed {
		s.cache.Put(sub.fingerprint, data)
	}
	if known && sub.stale {
		s.log.Debug(ctx, "outcome superseded by a cached result", logging.String("request_id", out.RequestID))
		return
	}

	s.mu.Lock()
	s.last = data
	s.lastStats = out.Result.Stats
	s.lastID = out.RequestID
	s.updatedAt = out.FinishedAt
	s.lastErr = nil
	s.lastErrAt = time.Time{}
	s.mu.Unlock()

	s.notify(Update{RequestID: out.RequestID})
}

func (s *Service) adoptCached(ctx context.Context, data []byte) {
	w, err := wire.Unmarshal(data)
	if err != nil {
		s.log.Warn(ctx, "discarding unreadable cached result", logging.Err(err))
		return
	}
	s.mu.Lock()
	changed := string(s.last) != string(data)
	s.last = data
	s.lastStats = w.Stats
	s.updatedAt = s.now()
	s.lastErr = nil
	s.lastErrAt = time.Time{}
	s.mu.Unlock()

	s.log.Debug(ctx, "served topology from cache", logging.Int("edges", len(w.Edges)))
	if changed {
		s.notify(Update{FromCache: true})
	}
}

// markOutstandingStale keeps in-flight outcomes from replacing a result
// adopted from the cache after they were submitted.
func (s *Service) markOutstandingStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.submissions {
		s.submissions[i].stale = true
	}
}

// takeSubmission removes id and every older submission. Outcomes arrive in
// submission order, so anything older was either delivered or superseded.
func (s *Service) takeSubmission(id string) (submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.submissions {
		if sub.id == id {
			s.submissions = append([]submission(nil), s.submissions[i+1:]...)
			return sub, true
		}
	}
	return submission{}, false
}

func (s *Service) notify(u Update) {
	s.subMu.Lock()
	subs := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(u)
	}
}
