package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	changes := make(chan string, 8)
	w := New([]string{path}, func(p string) { changes <- p }).WithDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{"packets":[]}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-changes:
		want, _ := filepath.Abs(path)
		if got != want {
			t.Fatalf("changed path = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change reported")
	}
	select {
	case extra := <-changes:
		t.Fatalf("burst reported twice (%q)", extra)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch() error = %v, want context.Canceled", err)
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	changes := make(chan string, 1)
	w := New([]string{path}, func(p string) { changes <- p }).WithDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-changes:
		t.Fatalf("unrelated file reported: %q", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchFailsForMissingDirectory(t *testing.T) {
	w := New([]string{filepath.Join(t.TempDir(), "nope", "file.json")}, func(string) {})
	if err := w.Watch(context.Background()); err == nil {
		t.Fatalf("expected error watching a missing directory")
	}
}

func TestDispatcherQueuesEachPathOnce(t *testing.T) {
	d := newDispatcher(5*time.Millisecond, 2)
	defer d.stop()

	waitQueued := func(path string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for {
			d.mu.Lock()
			q := d.queued[path]
			d.mu.Unlock()
			if q {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("%s never queued", path)
			}
			time.Sleep(time.Millisecond)
		}
	}

	// The consumer is busy: a changes twice before b changes once.
	d.touch("a")
	waitQueued("a")
	d.touch("a")
	time.Sleep(50 * time.Millisecond)
	d.touch("b")
	waitQueued("b")

	var got []string
	for len(got) < 2 {
		select {
		case p := <-d.ready:
			d.take(p)
			got = append(got, p)
		case <-time.After(5 * time.Second):
			t.Fatalf("ready delivered %v, want a and b", got)
		}
	}
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("ready delivered %v, want [a b]", got)
	}
	select {
	case p := <-d.ready:
		t.Fatalf("%s delivered twice", p)
	case <-time.After(50 * time.Millisecond):
	}

	// Once taken, a path queues again.
	d.touch("a")
	select {
	case p := <-d.ready:
		if p != "a" {
			t.Fatalf("ready = %q, want a", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("a not queued again after take")
	}
}
