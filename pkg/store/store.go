// Package store implements session-scoped persistence for sessions, agents,
// links and runs. Every read and write is scoped to a session ID; rows
// outside that session are reported as ErrNotFound or ErrCrossSession, never
// returned.
package store

import (
	"context"
	"time"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

// Store is the persistence surface consumed by the API layer, the tree
// cache, the executor and the run coordinator.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	TouchSession(ctx context.Context, sessionID string) error
	DeleteStaleSessions(ctx context.Context, olderThan time.Time) ([]string, error)

	// Agents
	CreateAgent(ctx context.Context, sessionID string, req *models.CreateAgentRequest) (*models.Agent, error)
	GetAgent(ctx context.Context, sessionID, agentID string) (*models.Agent, error)
	ListAgents(ctx context.Context, sessionID string) ([]*models.Agent, error)
	GetChildren(ctx context.Context, sessionID, parentID string) ([]*models.Agent, error)
	GetAgentSubtree(ctx context.Context, sessionID, rootID string) ([]*models.Agent, error)
	UpdateAgent(ctx context.Context, sessionID, agentID string, req *models.UpdateAgentRequest) (*models.Agent, error)
	DeleteAgent(ctx context.Context, sessionID, agentID string) error

	// Links
	CreateLink(ctx context.Context, sessionID string, req *models.CreateLinkRequest) (*models.Link, error)
	ListLinks(ctx context.Context, sessionID string) ([]*models.Link, error)
	DeleteLink(ctx context.Context, sessionID, linkID string) error

	// Runs
	CreateRun(ctx context.Context, sessionID string, req *models.CreateRunRequest) (*models.Run, error)
	GetRun(ctx context.Context, sessionID, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, sessionID string) ([]*models.Run, error)
	MarkRunStarted(ctx context.Context, sessionID, runID string) error
	UpdateRunStatus(ctx context.Context, sessionID, runID, status string, errMsg *string) error
	AppendRunLog(ctx context.Context, sessionID, runID string, entry models.RunLogEntry) error
	SetRunOutput(ctx context.Context, sessionID, runID string, output *models.RunOutput) error
}
