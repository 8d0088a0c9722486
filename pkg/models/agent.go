package models

import "time"

// AgentParameters holds per-agent LLM generation settings. Stored as a JSON
// column on the agents table.
type AgentParameters struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Agent is one node in a session's delegation hierarchy.
type Agent struct {
	AgentID                string          `json:"agent_id"`
	SessionID              string          `json:"session_id"`
	Name                   string          `json:"name"`
	Role                   string          `json:"role"`
	SystemPrompt           string          `json:"system_prompt"`
	Parameters             AgentParameters `json:"parameters"`
	PhotoInjectionEnabled  bool            `json:"photo_injection_enabled"`
	PhotoInjectionFeatures []string        `json:"photo_injection_features,omitempty"`
	ParentID               *string         `json:"parent_id,omitempty"`
	PositionX              *float64        `json:"position_x,omitempty"`
	PositionY              *float64        `json:"position_y,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// CreateAgentRequest contains fields for creating a new agent.
type CreateAgentRequest struct {
	Name                   string           `json:"name"`
	Role                   string           `json:"role"`
	SystemPrompt           string           `json:"system_prompt"`
	Parameters             *AgentParameters `json:"parameters,omitempty"`
	PhotoInjectionEnabled  bool             `json:"photo_injection_enabled"`
	PhotoInjectionFeatures []string         `json:"photo_injection_features,omitempty"`
	ParentID               *string          `json:"parent_id,omitempty"`
	PositionX              *float64         `json:"position_x,omitempty"`
	PositionY              *float64         `json:"position_y,omitempty"`
}

// UpdateAgentRequest contains the mutable agent fields. Nil pointers leave
// the stored value untouched.
type UpdateAgentRequest struct {
	Name                   *string          `json:"name,omitempty"`
	Role                   *string          `json:"role,omitempty"`
	SystemPrompt           *string          `json:"system_prompt,omitempty"`
	Parameters             *AgentParameters `json:"parameters,omitempty"`
	PhotoInjectionEnabled  *bool            `json:"photo_injection_enabled,omitempty"`
	PhotoInjectionFeatures []string         `json:"photo_injection_features,omitempty"`
	ParentID               *string          `json:"parent_id,omitempty"`
	ClearParent            bool             `json:"clear_parent,omitempty"`
	PositionX              *float64         `json:"position_x,omitempty"`
	PositionY              *float64         `json:"position_y,omitempty"`
}

// DefaultAgentParameters returns the generation settings applied when an
// agent is created without explicit parameters.
func DefaultAgentParameters() AgentParameters {
	return AgentParameters{
		Model:       "gemini-2.5-flash",
		Temperature: 0.7,
		MaxTokens:   8192,
	}
}
