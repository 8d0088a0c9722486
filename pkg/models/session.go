package models

import "time"

// Session is an isolated workspace. Agents, links and runs belong to exactly
// one session and are never visible from another.
type Session struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// CreateSessionRequest contains fields for creating a new session.
type CreateSessionRequest struct {
	Name string `json:"name"`
}
