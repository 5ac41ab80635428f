package session

import (
	"sync"

	"termplex/internal/supervisor"
)

// opsRef is the handle push callbacks use to reach a running process. It is
// captured once and released when the process exits; after that load
// reports nothing.
type opsRef struct {
	mu       sync.Mutex
	ops      supervisor.ProcessOperations
	captured bool
}

func (r *opsRef) capture(ops supervisor.ProcessOperations) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captured {
		return
	}
	r.ops = ops
	r.captured = true
}

func (r *opsRef) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
	r.captured = true
}

func (r *opsRef) load() (supervisor.ProcessOperations, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops, r.ops != nil
}
