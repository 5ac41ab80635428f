package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatch_NoPaths(t *testing.T) {
	w := New(0)
	defer w.Shutdown()

	if err := w.Watch("empty", nil, nil); err == nil {
		t.Fatal("expected error for empty path list")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	w := New(0)
	defer w.Shutdown()

	err := w.Watch("missing", []string{"/nonexistent/dir/file.yaml"}, nil)
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
	if len(w.Keys()) != 0 {
		t.Errorf("expected no registered keys, got %v", w.Keys())
	}
}

func TestWatch_DebouncedCallback(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "shells.yaml")

	var calls atomic.Int32
	w := New(50 * time.Millisecond)
	defer w.Shutdown()

	if err := w.Watch("shells", []string{target}, func(key string) {
		if key != "shells" {
			t.Errorf("expected key 'shells', got %q", key)
		}
		calls.Add(1)
	}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Several quick writes collapse into a single callback.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("shells: []\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return calls.Load() >= 1 })
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 debounced callback, got %d", got)
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.yaml")

	var calls atomic.Int32
	w := New(20 * time.Millisecond)
	defer w.Shutdown()

	if err := w.Watch("k", []string{target}, func(string) { calls.Add(1) }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644)
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no callbacks for unrelated file, got %d", got)
	}
}

func TestUnwatch_StopsCallbacks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "f")

	var calls atomic.Int32
	w := New(20 * time.Millisecond)
	if err := w.Watch("k", []string{target}, func(string) { calls.Add(1) }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w.Unwatch("k")
	// Unwatching twice must not panic.
	w.Unwatch("k")

	os.WriteFile(target, []byte("x"), 0o644)
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no callbacks after Unwatch, got %d", got)
	}
}

func TestShutdown(t *testing.T) {
	dir := t.TempDir()
	w := New(0)
	w.Watch("a", []string{filepath.Join(dir, "a")}, nil)
	w.Watch("b", []string{filepath.Join(dir, "b")}, nil)
	if len(w.Keys()) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(w.Keys()))
	}
	w.Shutdown()
	if len(w.Keys()) != 0 {
		t.Errorf("expected no keys after Shutdown, got %d", len(w.Keys()))
	}
}
