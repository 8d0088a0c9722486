package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcanvas/agentcanvas/pkg/models"
)

// Memory is an in-memory Store with the same semantics as Postgres. It backs
// unit tests that exercise coordinator and API behavior without a database.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	agents   map[string]*models.Agent
	links    map[string]*models.Link
	runs     map[string]*models.Run
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*models.Session),
		agents:   make(map[string]*models.Agent),
		links:    make(map[string]*models.Link),
		runs:     make(map[string]*models.Run),
	}
}

func (m *Memory) CreateSession(_ context.Context, req *models.CreateSessionRequest) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Untitled Session"
	}
	now := time.Now().UTC()
	session := &models.Session{
		SessionID:    uuid.NewString(),
		Name:         name,
		CreatedAt:    now,
		LastAccessed: now,
	}
	m.sessions[session.SessionID] = session
	return copySession(session), nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}

func (m *Memory) ListSessions(_ context.Context) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.After(out[j].LastAccessed) })
	return out, nil
}

func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	for id, a := range m.agents {
		if a.SessionID == sessionID {
			delete(m.agents, id)
		}
	}
	for id, l := range m.links {
		if l.SessionID == sessionID {
			delete(m.links, id)
		}
	}
	for id, r := range m.runs {
		if r.SessionID == sessionID {
			delete(m.runs, id)
		}
	}
	return nil
}

func (m *Memory) DeleteStaleSessions(ctx context.Context, olderThan time.Time) ([]string, error) {
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastAccessed.Before(olderThan) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	sort.Strings(stale)
	for _, id := range stale {
		if err := m.DeleteSession(ctx, id); err != nil && err != ErrNotFound {
			return nil, err
		}
	}
	return stale, nil
}

func (m *Memory) TouchSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.LastAccessed = time.Now().UTC()
	return nil
}

func (m *Memory) CreateAgent(_ context.Context, sessionID string, req *models.CreateAgentRequest) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewValidationError("name", "must not be empty")
	}
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	if req.ParentID != nil {
		if err := m.checkAgentLocked(sessionID, *req.ParentID); err != nil {
			return nil, fmt.Errorf("invalid parent: %w", err)
		}
	}
	params := models.DefaultAgentParameters()
	if req.Parameters != nil {
		params = *req.Parameters
	}
	now := time.Now().UTC()
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
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	m.agents[agent.AgentID] = agent
	return copyAgent(agent), nil
}

func (m *Memory) GetAgent(_ context.Context, sessionID, agentID string) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok || agent.SessionID != sessionID {
		return nil, ErrNotFound
	}
	return copyAgent(agent), nil
}

func (m *Memory) ListAgents(_ context.Context, sessionID string) ([]*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Agent
	for _, a := range m.agents {
		if a.SessionID == sessionID {
			out = append(out, copyAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetChildren(_ context.Context, sessionID, parentID string) ([]*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childrenLocked(sessionID, parentID), nil
}

func (m *Memory) childrenLocked(sessionID, parentID string) []*models.Agent {
	var out []*models.Agent
	for _, a := range m.agents {
		if a.SessionID == sessionID && a.ParentID != nil && *a.ParentID == parentID {
			out = append(out, copyAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (m *Memory) GetAgentSubtree(_ context.Context, sessionID, rootID string) ([]*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.agents[rootID]
	if !ok {
		return nil, ErrNotFound
	}
	if root.SessionID != sessionID {
		return nil, ErrCrossSession
	}
	var out []*models.Agent
	frontier := []*models.Agent{copyAgent(root)}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		out = append(out, next)
		frontier = append(frontier, m.childrenLocked(sessionID, next.AgentID)...)
	}
	return out, nil
}

func (m *Memory) UpdateAgent(_ context.Context, sessionID, agentID string, req *models.UpdateAgentRequest) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok || agent.SessionID != sessionID {
		return nil, ErrNotFound
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
		if err := m.checkAgentLocked(sessionID, *req.ParentID); err != nil {
			return nil, fmt.Errorf("invalid parent: %w", err)
		}
		// Walk the ancestor chain from the proposed parent.
		for cur := req.ParentID; cur != nil; {
			if *cur == agentID {
				return nil, ErrWouldCreateCycle
			}
			next, ok := m.agents[*cur]
			if !ok {
				break
			}
			cur = next.ParentID
		}
		agent.ParentID = req.ParentID
	}
	agent.UpdatedAt = time.Now().UTC()
	return copyAgent(agent), nil
}

func (m *Memory) DeleteAgent(_ context.Context, sessionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[agentID]
	if !ok || agent.SessionID != sessionID {
		return ErrNotFound
	}
	delete(m.agents, agentID)
	for _, a := range m.agents {
		if a.ParentID != nil && *a.ParentID == agentID {
			a.ParentID = nil
		}
	}
	for id, l := range m.links {
		if l.ParentAgentID == agentID || l.ChildAgentID == agentID {
			delete(m.links, id)
		}
	}
	return nil
}

func (m *Memory) CreateLink(_ context.Context, sessionID string, req *models.CreateLinkRequest) (*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkAgentLocked(sessionID, req.ParentAgentID); err != nil {
		return nil, fmt.Errorf("invalid parent agent: %w", err)
	}
	if err := m.checkAgentLocked(sessionID, req.ChildAgentID); err != nil {
		return nil, fmt.Errorf("invalid child agent: %w", err)
	}
	link := &models.Link{
		LinkID:        uuid.NewString(),
		SessionID:     sessionID,
		ParentAgentID: req.ParentAgentID,
		ChildAgentID:  req.ChildAgentID,
		CreatedAt:     time.Now().UTC(),
	}
	m.links[link.LinkID] = link
	out := *link
	return &out, nil
}

func (m *Memory) ListLinks(_ context.Context, sessionID string) ([]*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Link
	for _, l := range m.links {
		if l.SessionID == sessionID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	return out, nil
}

func (m *Memory) DeleteLink(_ context.Context, sessionID, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[linkID]
	if !ok || link.SessionID != sessionID {
		return ErrNotFound
	}
	delete(m.links, linkID)
	return nil
}

func (m *Memory) CreateRun(_ context.Context, sessionID string, req *models.CreateRunRequest) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.Task) == "" {
		return nil, NewValidationError("prompt", "must not be empty")
	}
	if err := m.checkAgentLocked(sessionID, req.RootAgentID); err != nil {
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
		CreatedAt: time.Now().UTC(),
	}
	m.runs[run.RunID] = run
	return copyRun(run), nil
}

func (m *Memory) GetRun(_ context.Context, sessionID, runID string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.SessionID != sessionID {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

func (m *Memory) ListRuns(_ context.Context, sessionID string) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Run
	for _, r := range m.runs {
		if r.SessionID == sessionID {
			out = append(out, copyRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkRunStarted(_ context.Context, sessionID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.SessionID != sessionID {
		return ErrNotFound
	}
	if run.Status != models.RunStatusPending {
		return ErrRunAlreadyStarted
	}
	now := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &now
	return nil
}

func (m *Memory) UpdateRunStatus(_ context.Context, sessionID, runID, status string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.SessionID != sessionID {
		return ErrNotFound
	}
	if models.IsTerminalRunStatus(run.Status) {
		return ErrRunFinished
	}
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.Error = &msg
	}
	if models.IsTerminalRunStatus(status) {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	return nil
}

func (m *Memory) AppendRunLog(_ context.Context, sessionID, runID string, entry models.RunLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.SessionID != sessionID {
		return ErrNotFound
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	run.Logs = append(run.Logs, entry)
	return nil
}

func (m *Memory) SetRunOutput(_ context.Context, sessionID, runID string, output *models.RunOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.SessionID != sessionID {
		return ErrNotFound
	}
	cp := *output
	run.Output = &cp
	return nil
}

func (m *Memory) checkAgentLocked(sessionID, agentID string) error {
	agent, ok := m.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	if agent.SessionID != sessionID {
		return ErrCrossSession
	}
	return nil
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	return &cp
}

func copyAgent(a *models.Agent) *models.Agent {
	cp := *a
	if a.ParentID != nil {
		v := *a.ParentID
		cp.ParentID = &v
	}
	cp.PhotoInjectionFeatures = append([]string(nil), a.PhotoInjectionFeatures...)
	return &cp
}

func copyRun(r *models.Run) *models.Run {
	cp := *r
	if r.Output != nil {
		out := *r.Output
		cp.Output = &out
	}
	cp.Logs = append([]models.RunLogEntry(nil), r.Logs...)
	return &cp
}
