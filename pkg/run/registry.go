package run

import (
	"context"
	"sync"
)

// registry tracks cancel functions for active runs.
type registry struct {
	mu    sync.Mutex
	byRun map[string]context.CancelFunc
}

func newRegistry() *registry {
	return &registry{byRun: make(map[string]context.CancelFunc)}
}

func (r *registry) add(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRun[runID] = cancel
}

func (r *registry) remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byRun, runID)
}

// cancel cancels an active run. Returns false when the run is not active.
func (r *registry) cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.byRun[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
