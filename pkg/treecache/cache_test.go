package treecache

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/store"
)

// stubDiscoverer returns canned keywords and counts calls. Set gate to make
// Discover block until the gate closes.
type stubDiscoverer struct {
	calls atomic.Int64
	gate  chan struct{}
}

func (d *stubDiscoverer) Discover(_ context.Context, agent *models.Agent, _ string) ([]string, float64) {
	d.calls.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	return FallbackKeywords(agent), 0.9
}

func buildFixture(t *testing.T) (*store.Memory, string, string) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	session, err := mem.CreateSession(ctx, &models.CreateSessionRequest{Name: "s"})
	require.NoError(t, err)
	root, err := mem.CreateAgent(ctx, session.SessionID, &models.CreateAgentRequest{Name: "research lead", Role: "research"})
	require.NoError(t, err)
	_, err = mem.CreateAgent(ctx, session.SessionID, &models.CreateAgentRequest{Name: "web searcher", Role: "search web", ParentID: &root.AgentID})
	require.NoError(t, err)
	_, err = mem.CreateAgent(ctx, session.SessionID, &models.CreateAgentRequest{Name: "summarizer", Role: "summarize text", ParentID: &root.AgentID})
	require.NoError(t, err)
	return mem, session.SessionID, root.AgentID
}

func TestGetOrBuildCachesSnapshot(t *testing.T) {
	mem, sessionID, rootID := buildFixture(t)
	disc := &stubDiscoverer{}
	cache := New(mem, disc, nil)

	snap, err := cache.GetOrBuild(context.Background(), sessionID, rootID, "key")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.AgentCount)
	assert.Equal(t, 1, snap.MaxDepth)
	require.NotNil(t, snap.Capability(rootID))
	assert.Len(t, snap.Capability(rootID).Children, 2)
	assert.Equal(t, int64(3), disc.calls.Load())

	// Second call is a hit: no new discovery.
	again, err := cache.GetOrBuild(context.Background(), sessionID, rootID, "key")
	require.NoError(t, err)
	assert.Same(t, snap, again)
	assert.Equal(t, int64(3), disc.calls.Load())
}

func TestGetOrBuildCoalescesConcurrentBuilds(t *testing.T) {
	mem, sessionID, rootID := buildFixture(t)
	disc := &stubDiscoverer{gate: make(chan struct{})}
	cache := New(mem, disc, nil)

	const callers = 5
	var wg sync.WaitGroup
	snaps := make([]*Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i], errs[i] = cache.GetOrBuild(context.Background(), sessionID, rootID, "key")
		}(i)
	}

	// Let the single build proceed.
	close(disc.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, snaps[0], snaps[i])
	}
	// One build: 3 agents discovered exactly once each.
	assert.Equal(t, int64(3), disc.calls.Load())
}

func TestInvalidateDropsSnapshot(t *testing.T) {
	mem, sessionID, rootID := buildFixture(t)
	disc := &stubDiscoverer{}
	cache := New(mem, disc, nil)

	_, err := cache.GetOrBuild(context.Background(), sessionID, rootID, "key")
	require.NoError(t, err)
	assert.Len(t, cache.Stats(), 1)

	cache.Invalidate(sessionID, rootID)
	assert.Empty(t, cache.Stats())

	_, err = cache.GetOrBuild(context.Background(), sessionID, rootID, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(6), disc.calls.Load())
}

func TestInvalidateSessionDropsAllRoots(t *testing.T) {
	ctx := context.Background()
	mem, sessionID, rootID := buildFixture(t)
	other, err := mem.CreateAgent(ctx, sessionID, &models.CreateAgentRequest{Name: "second root", Role: "misc"})
	require.NoError(t, err)

	cache := New(mem, &stubDiscoverer{}, nil)
	_, err = cache.GetOrBuild(ctx, sessionID, rootID, "key")
	require.NoError(t, err)
	_, err = cache.GetOrBuild(ctx, sessionID, other.AgentID, "key")
	require.NoError(t, err)
	assert.Len(t, cache.Stats(), 2)

	cache.InvalidateSession(sessionID)
	assert.Empty(t, cache.Stats())
}

func TestInvalidationDuringBuildKeepsStaleSnapshotOut(t *testing.T) {
	mem, sessionID, rootID := buildFixture(t)
	disc := &stubDiscoverer{gate: make(chan struct{})}
	cache := New(mem, disc, nil)

	done := make(chan struct{})
	var snap *Snapshot
	var buildErr error
	go func() {
		defer close(done)
		snap, buildErr = cache.GetOrBuild(context.Background(), sessionID, rootID, "key")
	}()

	// Invalidate while the build is blocked in discovery, then release it.
	for disc.calls.Load() == 0 {
		runtime.Gosched()
	}
	cache.Invalidate(sessionID, rootID)
	close(disc.gate)
	<-done

	// The caller still got a consistent snapshot, but it was not cached.
	require.NoError(t, buildErr)
	require.NotNil(t, snap)
	assert.Empty(t, cache.Stats())
}

func TestGetOrBuildMissingRoot(t *testing.T) {
	mem, sessionID, _ := buildFixture(t)
	cache := New(mem, &stubDiscoverer{}, nil)

	_, err := cache.GetOrBuild(context.Background(), sessionID, "no-such-agent", "key")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
