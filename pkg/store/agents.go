package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

const agentColumns = `agent_id, session_id, name, role, system_prompt, parameters,
	photo_injection_enabled, photo_injection_features, parent_id,
	position_x, position_y, created_at, updated_at`

// CreateAgent creates a new agent in the session. A parent in another
// session is rejected with ErrCrossSession.
func (s *Postgres) CreateAgent(ctx context.Context, sessionID string, req *models.CreateAgentRequest) (*models.Agent, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewValidationError("name", "must not be empty")
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if req.ParentID != nil {
		if err := s.checkAgentInSession(ctx, sessionID, *req.ParentID); err != nil {
			return nil, fmt.Errorf("invalid parent: %w", err)
		}
	}

	params := models.DefaultAgentParameters()
	if req.Parameters != nil {
		params = *req.Parameters
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	featuresJSON, err := json.Marshal(emptyIfNil(req.PhotoInjectionFeatures))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal photo features: %w", err)
	}

	agent := &models.Agent{
		AgentID:                uuid.NewString(),
		SessionID:              sessionID,
		Name:                   req.Name,
		Role:                   req.Role,
		SystemPrompt:           req.SystemPrompt,
		Parameters:             params,
		PhotoInjectionEnabled:  req.PhotoInjectionEnabled,
		PhotoInjectionFeatures: req.PhotoInjectionFeatures,
		ParentID:               req.ParentID,
		PositionX:              req.PositionX,
		PositionY:              req.PositionY,
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO agents (agent_id, session_id, name, role, system_prompt, parameters,
			photo_injection_enabled, photo_injection_features, parent_id, position_x, position_y)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		agent.AgentID, sessionID, agent.Name, agent.Role, agent.SystemPrompt, paramsJSON,
		agent.PhotoInjectionEnabled, featuresJSON, agent.ParentID, agent.PositionX, agent.PositionY,
	).Scan(&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return agent, nil
}

// GetAgent retrieves an agent scoped to the session.
func (s *Postgres) GetAgent(ctx context.Context, sessionID, agentID string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = $1 AND session_id = $2`,
		agentID, sessionID)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents in the session ordered by creation time.
func (s *Postgres) ListAgents(ctx context.Context, sessionID string) ([]*models.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE session_id = $1 ORDER BY created_at, agent_id`,
		sessionID)
}

// GetChildren returns the direct children of parentID ordered by agent ID,
// so downstream selection is deterministic.
func (s *Postgres) GetChildren(ctx context.Context, sessionID, parentID string) ([]*models.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE session_id = $1 AND parent_id = $2 ORDER BY agent_id`,
		sessionID, parentID)
}

// GetAgentSubtree returns rootID and every descendant, breadth-first by
// depth then agent ID.
func (s *Postgres) GetAgentSubtree(ctx context.Context, sessionID, rootID string) ([]*models.Agent, error) {
	if err := s.checkAgentInSession(ctx, sessionID, rootID); err != nil {
		return nil, err
	}
	return s.queryAgents(ctx,
		`WITH RECURSIVE subtree AS (
			SELECT `+agentColumns+`, 0 AS depth
			FROM agents WHERE agent_id = $1 AND session_id = $2
			UNION ALL
			SELECT a.agent_id, a.session_id, a.name, a.role, a.system_prompt, a.parameters,
				a.photo_injection_enabled, a.photo_injection_features, a.parent_id,
				a.position_x, a.position_y, a.created_at, a.updated_at, subtree.depth + 1
			FROM agents a
			JOIN subtree ON a.parent_id = subtree.agent_id
			WHERE a.session_id = $2
		)
		SELECT `+agentColumns+` FROM subtree ORDER BY depth, agent_id`,
		rootID, sessionID)
}

// UpdateAgent applies a partial update. Re-parenting is checked against the
// ancestor chain so the hierarchy stays acyclic.
func (s *Postgres) UpdateAgent(ctx context.Context, sessionID, agentID string, req *models.UpdateAgentRequest) (*models.Agent, error) {
	agent, err := s.GetAgent(ctx, sessionID, agentID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, NewValidationError("name", "must not be empty")
		}
		agent.Name = *req.Name
	}
	if req.Role != nil {
		agent.Role = *req.Role
	}
	if req.SystemPrompt != nil {
		agent.SystemPrompt = *req.SystemPrompt
	}
	if req.Parameters != nil {
		agent.Parameters = *req.Parameters
	}
	if req.PhotoInjectionEnabled != nil {
		agent.PhotoInjectionEnabled = *req.PhotoInjectionEnabled
	}
	if req.PhotoInjectionFeatures != nil {
		agent.PhotoInjectionFeatures = req.PhotoInjectionFeatures
	}
	if req.PositionX != nil {
		agent.PositionX = req.PositionX
	}
	if req.PositionY != nil {
		agent.PositionY = req.PositionY
	}
	switch {
	case req.ClearParent:
		agent.ParentID = nil
	case req.ParentID != nil:
		if *req.ParentID == agentID {
			return nil, ErrWouldCreateCycle
		}
		if err := s.checkAgentInSession(ctx, sessionID, *req.ParentID); err != nil {
			return nil, fmt.Errorf("invalid parent: %w", err)
		}
		cyclic, err := s.isAncestor(ctx, sessionID, agentID, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, ErrWouldCreateCycle
		}
		agent.ParentID = req.ParentID
	}

	paramsJSON, err := json.Marshal(agent.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	featuresJSON, err := json.Marshal(emptyIfNil(agent.PhotoInjectionFeatures))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal photo features: %w", err)
	}

	agent.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = $1, role = $2, system_prompt = $3, parameters = $4,
			photo_injection_enabled = $5, photo_injection_features = $6, parent_id = $7,
			position_x = $8, position_y = $9, updated_at = $10
		 WHERE agent_id = $11 AND session_id = $12`,
		agent.Name, agent.Role, agent.SystemPrompt, paramsJSON,
		agent.PhotoInjectionEnabled, featuresJSON, agent.ParentID,
		agent.PositionX, agent.PositionY, agent.UpdatedAt,
		agentID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return agent, nil
}

// DeleteAgent removes an agent. Children are detached, not deleted.
func (s *Postgres) DeleteAgent(ctx context.Context, sessionID, agentID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agents WHERE agent_id = $1 AND session_id = $2`,
		agentID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return requireRow(res)
}

// checkAgentInSession distinguishes a missing agent from one that exists in
// another session.
func (s *Postgres) checkAgentInSession(ctx context.Context, sessionID, agentID string) error {
	var gotSession string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&gotSession)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check agent: %w", err)
	}
	if gotSession != sessionID {
		return ErrCrossSession
	}
	return nil
}

// isAncestor reports whether candidate appears in the ancestor chain of
// startID (inclusive of startID itself).
func (s *Postgres) isAncestor(ctx context.Context, sessionID, candidate, startID string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`WITH RECURSIVE ancestors AS (
			SELECT agent_id, parent_id FROM agents
			WHERE agent_id = $1 AND session_id = $3
			UNION ALL
			SELECT a.agent_id, a.parent_id FROM agents a
			JOIN ancestors ON a.agent_id = ancestors.parent_id
			WHERE a.session_id = $3
		)
		SELECT EXISTS (SELECT 1 FROM ancestors WHERE agent_id = $2)`,
		startID, candidate, sessionID,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to check ancestry: %w", err)
	}
	return found, nil
}

func (s *Postgres) queryAgents(ctx context.Context, query string, args ...any) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	agent := &models.Agent{}
	var paramsJSON, featuresJSON []byte
	err := row.Scan(
		&agent.AgentID, &agent.SessionID, &agent.Name, &agent.Role, &agent.SystemPrompt,
		&paramsJSON, &agent.PhotoInjectionEnabled, &featuresJSON, &agent.ParentID,
		&agent.PositionX, &agent.PositionY, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &agent.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &agent.PhotoInjectionFeatures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal photo features: %w", err)
		}
	}
	return agent, nil
}

func emptyIfNil(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return vals
}
