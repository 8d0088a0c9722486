// Package cleanup provides session retention: idle sessions past the
// retention window are removed, cascading their agents, links and runs.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentcanvas/agentcanvas/pkg/store"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

// Options configures the retention loop.
type Options struct {
	// Retention is how long an untouched session is kept.
	Retention time.Duration
	// Interval between sweeps.
	Interval time.Duration
}

// Service periodically deletes sessions whose last_accessed stamp is older
// than the retention window. Deletion is idempotent and safe to run from
// multiple replicas.
type Service struct {
	store  store.Store
	cache  *treecache.Cache
	logger *slog.Logger
	opts   Options

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service.
func NewService(s store.Store, cache *treecache.Cache, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Service{
		store:  s,
		cache:  cache,
		logger: logger.With("component", "cleanup"),
		opts:   opts,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"retention", s.opts.Retention,
		"interval", s.opts.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes every session idle past the retention window and drops its
// cached snapshots.
func (s *Service) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.opts.Retention)
	deleted, err := s.store.DeleteStaleSessions(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	for _, sessionID := range deleted {
		s.cache.InvalidateSession(sessionID)
	}
	if len(deleted) > 0 {
		s.logger.Info("retention: deleted stale sessions", "count", len(deleted))
	}
}
