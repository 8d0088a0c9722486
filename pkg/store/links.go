package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

// CreateLink records a canvas edge between two agents of the session.
func (s *Postgres) CreateLink(ctx context.Context, sessionID string, req *models.CreateLinkRequest) (*models.Link, error) {
	if err := s.checkAgentInSession(ctx, sessionID, req.ParentAgentID); err != nil {
		return nil, fmt.Errorf("invalid parent agent: %w", err)
	}
	if err := s.checkAgentInSession(ctx, sessionID, req.ChildAgentID); err != nil {
		return nil, fmt.Errorf("invalid child agent: %w", err)
	}

	link := &models.Link{
		LinkID:        uuid.NewString(),
		SessionID:     sessionID,
		ParentAgentID: req.ParentAgentID,
		ChildAgentID:  req.ChildAgentID,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO links (link_id, session_id, parent_agent_id, child_agent_id)
		 VALUES ($1, $2, $3, $4) RETURNING created_at`,
		link.LinkID, sessionID, link.ParentAgentID, link.ChildAgentID,
	).Scan(&link.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	return link, nil
}

// ListLinks returns all links in the session.
func (s *Postgres) ListLinks(ctx context.Context, sessionID string) ([]*models.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT link_id, session_id, parent_agent_id, child_agent_id, created_at
		 FROM links WHERE session_id = $1 ORDER BY created_at, link_id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		link := &models.Link{}
		if err := rows.Scan(&link.LinkID, &link.SessionID, &link.ParentAgentID, &link.ChildAgentID, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// DeleteLink removes a link scoped to the session.
func (s *Postgres) DeleteLink(ctx context.Context, sessionID, linkID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM links WHERE link_id = $1 AND session_id = $2`,
		linkID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	return requireRow(res)
}
