package models

import "time"

// Link records a parent/child edge as drawn on the canvas. The agent's
// parent_id remains the authoritative hierarchy; links exist so the editor
// can round-trip its layout.
type Link struct {
	LinkID        string    `json:"link_id"`
	SessionID     string    `json:"session_id"`
	ParentAgentID string    `json:"parent_agent_id"`
	ChildAgentID  string    `json:"child_agent_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateLinkRequest contains fields for creating a new link.
type CreateLinkRequest struct {
	ParentAgentID string `json:"parent_agent_id"`
	ChildAgentID  string `json:"child_agent_id"`
}
