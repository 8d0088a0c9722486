package executor

import "time"

// EventType identifies the kind of run event.
type EventType string

const (
	EventLog               EventType = "log"
	EventStatus            EventType = "status"
	EventOutputChunk       EventType = "output_chunk"
	EventOutput            EventType = "output"
	EventDelegation        EventType = "delegation"
	EventDelegationRefused EventType = "delegation_refused"
	EventCompleted         EventType = "completed"
	EventError             EventType = "error"
	EventTimeout           EventType = "timeout"
	EventCancelled         EventType = "cancelled"
	EventUnavailable       EventType = "unavailable"
)

// Refusal reasons carried on delegation_refused events.
const (
	RefusalCycle = "cycle"
	RefusalDepth = "depth"
)

// Event is one entry in a run's event stream. Content carries chunk text,
// full outputs, and human-readable messages depending on Type. A terminal
// completed event additionally carries the per-agent output map.
type Event struct {
	Type          EventType         `json:"type"`
	RunID         string            `json:"run_id"`
	AgentID       string            `json:"agent_id,omitempty"`
	AgentName     string            `json:"agent_name,omitempty"`
	Depth         int               `json:"depth"`
	Content       string            `json:"content,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	TargetAgentID string            `json:"target_agent_id,omitempty"`
	Score         float64           `json:"score,omitempty"`
	AgentOutputs  map[string]string `json:"per_agent_output,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
