// Package treecache builds and caches capability snapshots of agent
// hierarchies. A snapshot is immutable once built; mutations to a session's
// agents invalidate its snapshots instead of patching them.
package treecache

import "time"

// Capability describes one agent's routing surface within a snapshot.
type Capability struct {
	AgentID    string   `json:"agent_id"`
	AgentName  string   `json:"agent_name"`
	Keywords   []string `json:"keywords"`
	Confidence float64  `json:"confidence"`
	Depth      int      `json:"depth"`
	Children   []string `json:"children"`
}

// Snapshot is an immutable view of one hierarchy, keyed by root agent.
type Snapshot struct {
	SessionID    string                 `json:"session_id"`
	RootAgentID  string                 `json:"root_agent_id"`
	Capabilities map[string]*Capability `json:"capabilities"`
	AgentCount   int                    `json:"agent_count"`
	MaxDepth     int                    `json:"max_depth"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Capability returns the entry for agentID, or nil if the agent was not part
// of the hierarchy when the snapshot was built.
func (s *Snapshot) Capability(agentID string) *Capability {
	return s.Capabilities[agentID]
}
