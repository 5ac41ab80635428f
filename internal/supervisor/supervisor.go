package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	DefaultTickInterval = 50 * time.Millisecond

	// statusInterval throttles child-process and cwd polling.
	statusInterval = time.Second
	// killGrace is how long a terminated child has before SIGKILL.
	killGrace = 3 * time.Second
	// drainTimeout bounds the wait for trailing output after exit.
	drainTimeout = 200 * time.Millisecond
)

var ErrStopped = errors.New("supervisor stopped")

// Supervisor launches child processes and drives all of them from a single
// polling goroutine, so the callbacks of one child never run concurrently.
type Supervisor struct {
	tick time.Duration

	mu       sync.Mutex
	children []*child
	stopped  bool
}

// New creates a supervisor that polls its children every tick.
func New(tick time.Duration) *Supervisor {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Supervisor{tick: tick}
}

// Launch starts a child for spec. Its callbacks are invoked from Run.
func (s *Supervisor) Launch(spec SpawnSpec, cb Callbacks) error {
	if cb.OnContinue == nil {
		return fmt.Errorf("launch %s: OnContinue callback is required", spec.Mode)
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	c, err := startChild(spec, cb)
	if err != nil {
		return fmt.Errorf("launch %s: %w", spec.Mode, err)
	}

	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()

	log.Printf("[supervisor] started %s pid %d", spec.Mode, c.Pid())
	return nil
}

// Len returns the number of children not yet reaped.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Run polls the children until ctx is cancelled, then terminates whatever
// is still running.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stop()
			return
		case <-ticker.C:
			s.poll(time.Now())
		}
	}
}

func (s *Supervisor) stop() {
	s.mu.Lock()
	s.stopped = true
	children := append([]*child(nil), s.children...)
	s.mu.Unlock()

	for _, c := range children {
		if err := c.Terminate(); err != nil {
			log.Printf("[supervisor] terminate pid %d: %v", c.Pid(), err)
		}
	}
	log.Printf("[supervisor] stopped with %d children running", len(children))
}

// poll runs one pass over every child.
func (s *Supervisor) poll(now time.Time) {
	s.mu.Lock()
	children := append([]*child(nil), s.children...)
	s.mu.Unlock()

	var reaped []*child
	for _, c := range children {
		if c.step(now) {
			reaped = append(reaped, c)
		}
	}
	if len(reaped) == 0 {
		return
	}

	s.mu.Lock()
	kept := s.children[:0]
	for _, c := range s.children {
		if !containsChild(reaped, c) {
			kept = append(kept, c)
		}
	}
	s.children = kept
	s.mu.Unlock()
}

func containsChild(list []*child, c *child) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
