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

const runColumns = `run_id, session_id, root_agent_id, status, input, output, logs,
	error, created_at, started_at, finished_at`

// CreateRun creates a pending run against a root agent of the session.
func (s *Postgres) CreateRun(ctx context.Context, sessionID string, req *models.CreateRunRequest) (*models.Run, error) {
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.Task) == "" {
		return nil, NewValidationError("prompt", "must not be empty")
	}
	if err := s.checkAgentInSession(ctx, sessionID, req.RootAgentID); err != nil {
		return nil, fmt.Errorf("invalid root agent: %w", err)
	}

	run := &models.Run{
		RunID:       uuid.NewString(),
		SessionID:   sessionID,
		RootAgentID: req.RootAgentID,
		Status:      models.RunStatusPending,
		Input: models.RunInput{
			Prompt:  req.Prompt,
			Task:    req.Task,
			History: req.History,
			Images:  req.Images,
		},
	}
	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run input: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO runs (run_id, session_id, root_agent_id, status, input)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		run.RunID, sessionID, run.RootAgentID, run.Status, inputJSON,
	).Scan(&run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run scoped to the session.
func (s *Postgres) GetRun(ctx context.Context, sessionID, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1 AND session_id = $2`,
		runID, sessionID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the session's runs, newest first.
func (s *Postgres) ListRuns(ctx context.Context, sessionID string) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE session_id = $1 ORDER BY created_at DESC, run_id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunStarted transitions pending → running exactly once. A second caller
// gets ErrRunAlreadyStarted.
func (s *Postgres) MarkRunStarted(ctx context.Context, sessionID, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, started_at = $2
		 WHERE run_id = $3 AND session_id = $4 AND status = $5`,
		models.RunStatusRunning, time.Now().UTC(), runID, sessionID, models.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark run started: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	// Zero rows: either the run is missing or it already left pending.
	if _, err := s.GetRun(ctx, sessionID, runID); err != nil {
		return err
	}
	return ErrRunAlreadyStarted
}

// UpdateRunStatus moves a run to a new status under a row lock. Terminal
// runs are immutable; terminal transitions set finished_at.
func (s *Postgres) UpdateRunStatus(ctx context.Context, sessionID, runID, status string, errMsg *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM runs WHERE run_id = $1 AND session_id = $2 FOR UPDATE`,
		runID, sessionID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock run: %w", err)
	}
	if models.IsTerminalRunStatus(current) {
		return ErrRunFinished
	}

	var finishedAt *time.Time
	if models.IsTerminalRunStatus(status) {
		now := time.Now().UTC()
		finishedAt = &now
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = $1, error = COALESCE($2, error), finished_at = COALESCE($3, finished_at)
		 WHERE run_id = $4 AND session_id = $5`,
		status, errMsg, finishedAt, runID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

// AppendRunLog appends one entry to the run's log array.
func (s *Postgres) AppendRunLog(ctx context.Context, sessionID, runID string, entry models.RunLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET logs = logs || $1::jsonb WHERE run_id = $2 AND session_id = $3`,
		entryJSON, runID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}
	return requireRow(res)
}

// SetRunOutput stores the final output payload.
func (s *Postgres) SetRunOutput(ctx context.Context, sessionID, runID string, output *models.RunOutput) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal run output: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET output = $1 WHERE run_id = $2 AND session_id = $3`,
		outputJSON, runID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set run output: %w", err)
	}
	return requireRow(res)
}

func scanRun(row rowScanner) (*models.Run, error) {
	run := &models.Run{}
	var inputJSON, logsJSON []byte
	var outputJSON sql.Null[[]byte]
	err := row.Scan(
		&run.RunID, &run.SessionID, &run.RootAgentID, &run.Status,
		&inputJSON, &outputJSON, &logsJSON,
		&run.Error, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &run.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run input: %w", err)
		}
	}
	if outputJSON.Valid && len(outputJSON.V) > 0 {
		run.Output = &models.RunOutput{}
		if err := json.Unmarshal(outputJSON.V, run.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run output: %w", err)
		}
	}
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &run.Logs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run logs: %w", err)
		}
	}
	return run, nil
}
