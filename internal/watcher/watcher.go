// Package watcher reports changes to a set of files, coalescing bursts of
// filesystem events into one callback per file.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signalsfoundry/meshtopo/internal/logging"
)

// DefaultDebounce is how long a file must stay quiet before onChange runs.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches files for changes.
type Watcher struct {
	paths    []string
	onChange func(path string)
	debounce time.Duration
	log      logging.Logger
}

// New creates a watcher for paths. onChange receives the absolute path of
// the file that changed and is never called concurrently with itself.
func New(paths []string, onChange func(path string)) *Watcher {
	return &Watcher{
		paths:    append([]string(nil), paths...),
		onChange: onChange,
		debounce: DefaultDebounce,
		log:      logging.Noop(),
	}
}

// WithDebounce sets the debounce duration.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// WithLogger sets the logger.
func (w *Watcher) WithLogger(l logging.Logger) *Watcher {
	if l != nil {
		w.log = l
	}
	return w
}

// Watch blocks until ctx is cancelled. Each file's directory is watched
// rather than the file itself, so replacing a file (as editors and atomic
// writers do) is still seen.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := fsw.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			dirs[dir] = true
		}
		files[abs] = true
		w.log.Info(ctx, "watching file", logging.String("path", abs))
	}

	d := newDispatcher(w.debounce, len(files))
	defer d.stop()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !files[abs] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			d.touch(abs)

		case path := <-d.ready:
			d.take(path)
			w.log.Info(ctx, "file changed", logging.String("path", path))
			w.onChange(path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "watcher error", logging.Err(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatcher debounces changes per path and queues each path at most once
// until it is taken, so ready never needs more room than there are files.
type dispatcher struct {
	debounce time.Duration
	ready    chan string

	mu     sync.Mutex
	timers map[string]*time.Timer
	queued map[string]bool
}

func newDispatcher(debounce time.Duration, files int) *dispatcher {
	return &dispatcher{
		debounce: debounce,
		ready:    make(chan string, max(files, 1)),
		timers:   make(map[string]*time.Timer),
		queued:   make(map[string]bool),
	}
}

// touch restarts the debounce timer for path.
func (d *dispatcher) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok {
		t.Stop()
	}
	d.timers[path] = time.AfterFunc(d.debounce, func() { d.enqueue(path) })
}

func (d *dispatcher) enqueue(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queued[path] {
		return
	}
	d.queued[path] = true
	d.ready <- path
}

// take marks path as handed to the consumer; later changes queue it again.
func (d *dispatcher) take(path string) {
	d.mu.Lock()
	delete(d.queued, path)
	d.mu.Unlock()
}

func (d *dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
}
