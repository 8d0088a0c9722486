package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

// Postgres implements Store over a *sql.DB opened with the pgx driver.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store over an already-migrated database.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// CreateSession creates a new session.
func (s *Postgres) CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.Session, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Untitled Session"
	}

	session := &models.Session{
		SessionID: uuid.NewString(),
		Name:      name,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sessions (session_id, name) VALUES ($1, $2)
		 RETURNING created_at, last_accessed`,
		session.SessionID, session.Name,
	).Scan(&session.CreatedAt, &session.LastAccessed)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *Postgres) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, name, created_at, last_accessed
		 FROM sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&session.SessionID, &session.Name, &session.CreatedAt, &session.LastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions, most recently accessed first.
func (s *Postgres) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, name, created_at, last_accessed
		 FROM sessions ORDER BY last_accessed DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		if err := rows.Scan(&session.SessionID, &session.Name, &session.CreatedAt, &session.LastAccessed); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session; agents, links and runs cascade.
func (s *Postgres) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRow(res)
}

// TouchSession bumps last_accessed.
func (s *Postgres) TouchSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed = $1 WHERE session_id = $2`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return requireRow(res)
}

// DeleteStaleSessions removes sessions untouched since the cutoff and
// returns their IDs. Agents, links and runs cascade.
func (s *Postgres) DeleteStaleSessions(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM sessions WHERE last_accessed < $1 RETURNING session_id`,
		olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deleted session id: %w", err)
		}
		deleted = append(deleted, id)
	}
	return deleted, rows.Err()
}

// requireRow converts a zero-row result into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
