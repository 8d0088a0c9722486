package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/store"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

type noopDiscoverer struct{}

func (noopDiscoverer) Discover(_ context.Context, agent *models.Agent, _ string) ([]string, float64) {
	return []string{agent.Name}, 0.3
}

func TestSweepDeletesOnlyStaleSessions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	cache := treecache.New(mem, noopDiscoverer{}, nil)

	stale, err := mem.CreateSession(ctx, &models.CreateSessionRequest{Name: "stale"})
	require.NoError(t, err)
	fresh, err := mem.CreateSession(ctx, &models.CreateSessionRequest{Name: "fresh"})
	require.NoError(t, err)

	svc := NewService(mem, cache, Options{Retention: time.Hour}, nil)

	// Nothing is older than an hour yet.
	svc.Sweep(ctx)
	_, err = mem.GetSession(ctx, stale.SessionID)
	require.NoError(t, err)

	// Shrink the window so the first session falls out; the second is
	// touched right before the sweep and survives.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mem.TouchSession(ctx, fresh.SessionID))
	svc.opts.Retention = 10 * time.Millisecond

	svc.Sweep(ctx)

	_, err = mem.GetSession(ctx, stale.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.GetSession(ctx, fresh.SessionID)
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	mem := store.NewMemory()
	cache := treecache.New(mem, noopDiscoverer{}, nil)
	svc := NewService(mem, cache, Options{Retention: time.Hour, Interval: time.Minute}, nil)

	svc.Start(context.Background())
	svc.Stop()
}
