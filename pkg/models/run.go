package models

import "time"

// Run status values. Pending runs have been created but not started;
// completed, failed and cancelled are terminal and immutable.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// IsTerminalRunStatus reports whether a run status permits no further
// transitions.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// HistoryEntry is one turn of prior conversation supplied with a run.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunInput is the immutable request payload a run was created with.
// Stored as a JSON column on the runs table.
type RunInput struct {
	Prompt  string         `json:"prompt"`
	Task    string         `json:"task,omitempty"`
	History []HistoryEntry `json:"conversation_history,omitempty"`
	Images  []string       `json:"images,omitempty"`
}

// RunOutput holds the synthesized final answer plus the raw per-agent
// outputs accumulated during execution.
type RunOutput struct {
	Final  string            `json:"final"`
	Agents map[string]string `json:"agents"`
}

// RunLogEntry is one append-only operator log line attached to a run.
type RunLogEntry struct {
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
}

// Run is a single execution of an agent hierarchy rooted at RootAgentID.
type Run struct {
	RunID       string        `json:"run_id"`
	SessionID   string        `json:"session_id"`
	RootAgentID string        `json:"root_agent_id"`
	Status      string        `json:"status"`
	Input       RunInput      `json:"input"`
	Output      *RunOutput    `json:"output,omitempty"`
	Logs        []RunLogEntry `json:"logs,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// CreateRunRequest contains fields for creating a new pending run.
type CreateRunRequest struct {
	RootAgentID string         `json:"root_agent_id"`
	Prompt      string         `json:"prompt"`
	Task        string         `json:"task,omitempty"`
	History     []HistoryEntry `json:"conversation_history,omitempty"`
	Images      []string       `json:"images,omitempty"`
}
