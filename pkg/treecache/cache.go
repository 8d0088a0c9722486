package treecache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

// AgentSource is the slice of the store the cache reads hierarchies from.
type AgentSource interface {
	GetAgent(ctx context.Context, sessionID, agentID string) (*models.Agent, error)
	GetChildren(ctx context.Context, sessionID, parentID string) ([]*models.Agent, error)
}

// Discoverer extracts routing keywords for one agent.
type Discoverer interface {
	Discover(ctx context.Context, agent *models.Agent, apiKey string) (keywords []string, confidence float64)
}

// Cache holds capability snapshots keyed by (session, root agent).
// Concurrent requests for the same missing key share a single build, and a
// mutation arriving while a build is in flight keeps its result out of the
// cache. Entries have no TTL; they live until invalidated.
type Cache struct {
	source   AgentSource
	discover Discoverer
	logger   *slog.Logger

	mu        sync.Mutex
	snapshots map[string]*cacheEntry
	inflight  map[string]*inflightBuild
	gens      map[string]uint64
}

type cacheEntry struct {
	snapshot     *Snapshot
	lastAccessed time.Time
	hits         int64
}

type inflightBuild struct {
	done chan struct{}
	snap *Snapshot
	err  error
}

// New creates an empty cache.
func New(source AgentSource, discover Discoverer, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source:    source,
		discover:  discover,
		logger:    logger.With("component", "treecache"),
		snapshots: make(map[string]*cacheEntry),
		inflight:  make(map[string]*inflightBuild),
		gens:      make(map[string]uint64),
	}
}

func cacheKey(sessionID, rootID string) string { return sessionID + "/" + rootID }

// GetOrBuild returns the cached snapshot for the hierarchy rooted at rootID,
// building it on a miss. Callers arriving during a build block on that build
// rather than starting their own.
func (c *Cache) GetOrBuild(ctx context.Context, sessionID, rootID, apiKey string) (*Snapshot, error) {
	key := cacheKey(sessionID, rootID)

	c.mu.Lock()
	if entry, ok := c.snapshots[key]; ok {
		entry.lastAccessed = time.Now()
		entry.hits++
		snap := entry.snapshot
		c.mu.Unlock()
		return snap, nil
	}
	if build, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-build.done:
			return build.snap, build.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	build := &inflightBuild{done: make(chan struct{})}
	c.inflight[key] = build
	gen := c.gens[key]
	c.mu.Unlock()

	snap, err := c.build(ctx, sessionID, rootID, apiKey)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil && c.gens[key] == gen {
		c.snapshots[key] = &cacheEntry{snapshot: snap, lastAccessed: time.Now()}
	} else if err == nil {
		// A mutation landed mid-build. The caller still gets the snapshot it
		// started with; the next request rebuilds.
		c.logger.Debug("snapshot stale at completion, not cached",
			"session_id", sessionID, "root_agent_id", rootID)
	}
	c.mu.Unlock()

	build.snap = snap
	build.err = err
	close(build.done)
	return snap, err
}

// Invalidate drops snapshots for one root, or for every root in the session
// when rootID is empty. In-flight builds are marked stale.
func (c *Cache) Invalidate(sessionID, rootID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rootID != "" {
		key := cacheKey(sessionID, rootID)
		delete(c.snapshots, key)
		c.gens[key]++
		return
	}
	prefix := sessionID + "/"
	for key := range c.snapshots {
		if strings.HasPrefix(key, prefix) {
			delete(c.snapshots, key)
		}
	}
	for key := range c.inflight {
		if strings.HasPrefix(key, prefix) {
			c.gens[key]++
		}
	}
	for key := range c.gens {
		if strings.HasPrefix(key, prefix) {
			c.gens[key]++
		}
	}
}

// InvalidateSession drops every snapshot belonging to the session. Any agent
// or link mutation routes through here: a changed node anywhere in a session
// can affect any hierarchy containing it.
func (c *Cache) InvalidateSession(sessionID string) {
	c.Invalidate(sessionID, "")
}

// build walks the hierarchy breadth-first and discovers keywords per agent.
func (c *Cache) build(ctx context.Context, sessionID, rootID, apiKey string) (*Snapshot, error) {
	start := time.Now()
	root, err := c.source.GetAgent(ctx, sessionID, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to load root agent: %w", err)
	}

	snap := &Snapshot{
		SessionID:    sessionID,
		RootAgentID:  rootID,
		Capabilities: make(map[string]*Capability),
		CreatedAt:    time.Now().UTC(),
	}

	type queued struct {
		agent *models.Agent
		depth int
	}
	frontier := []queued{{agent: root, depth: 0}}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if _, seen := snap.Capabilities[cur.agent.AgentID]; seen {
			continue
		}

		keywords, confidence := c.discover.Discover(ctx, cur.agent, apiKey)
		cap := &Capability{
			AgentID:    cur.agent.AgentID,
			AgentName:  cur.agent.Name,
			Keywords:   keywords,
			Confidence: confidence,
			Depth:      cur.depth,
		}

		children, err := c.source.GetChildren(ctx, sessionID, cur.agent.AgentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load children of %s: %w", cur.agent.AgentID, err)
		}
		for _, child := range children {
			cap.Children = append(cap.Children, child.AgentID)
			frontier = append(frontier, queued{agent: child, depth: cur.depth + 1})
		}

		snap.Capabilities[cur.agent.AgentID] = cap
		snap.AgentCount++
		if cur.depth > snap.MaxDepth {
			snap.MaxDepth = cur.depth
		}
	}

	c.logger.Info("snapshot built",
		"session_id", sessionID,
		"root_agent_id", rootID,
		"agent_count", snap.AgentCount,
		"max_depth", snap.MaxDepth,
		"duration_ms", time.Since(start).Milliseconds())
	return snap, nil
}

// SnapshotStats describes one cached snapshot for the debug endpoint.
type SnapshotStats struct {
	SessionID    string    `json:"session_id"`
	RootAgentID  string    `json:"root_agent_id"`
	AgentCount   int       `json:"agent_count"`
	MaxDepth     int       `json:"max_depth"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Hits         int64     `json:"hits"`
}

// Stats returns a view of every cached snapshot.
func (c *Cache) Stats() []SnapshotStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SnapshotStats, 0, len(c.snapshots))
	for _, entry := range c.snapshots {
		out = append(out, SnapshotStats{
			SessionID:    entry.snapshot.SessionID,
			RootAgentID:  entry.snapshot.RootAgentID,
			AgentCount:   entry.snapshot.AgentCount,
			MaxDepth:     entry.snapshot.MaxDepth,
			CreatedAt:    entry.snapshot.CreatedAt,
			LastAccessed: entry.lastAccessed,
			Hits:         entry.hits,
		})
	}
	return out
}
