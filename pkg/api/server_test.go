package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcanvas/agentcanvas/pkg/config"
	"github.com/agentcanvas/agentcanvas/pkg/executor"
	"github.com/agentcanvas/agentcanvas/pkg/llm/llmtest"
	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/router"
	"github.com/agentcanvas/agentcanvas/pkg/run"
	"github.com/agentcanvas/agentcanvas/pkg/store"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

type staticDiscoverer struct{}

func (staticDiscoverer) Discover(_ context.Context, agent *models.Agent, _ string) ([]string, float64) {
	return []string{agent.Name}, 0.3
}

type testServer struct {
	srv    *Server
	mem    *store.Memory
	client *llmtest.ScriptedClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	client := llmtest.NewScriptedClient()
	cache := treecache.New(mem, staticDiscoverer{}, nil)
	exec := executor.New(mem, client, router.New(0.0), executor.Options{}, nil)
	coord := run.NewCoordinator(mem, cache, exec, client, run.Options{}, nil)
	cfg := config.Config{CORSOrigins: []string{"*"}}
	return &testServer{
		srv:    NewServer(mem, cache, coord, nil, cfg, nil),
		mem:    mem,
		client: client,
	}
}

func (ts *testServer) do(t *testing.T, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) session(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/sessions", "", models.CreateSessionRequest{Name: "s"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session.SessionID
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	id := ts.session(t)

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/sessions/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentRoutesRequireSessionHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/agents", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/agents", "no-such-session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentCRUDScopedToSession(t *testing.T) {
	ts := newTestServer(t)
	sessionA := ts.session(t)
	sessionB := ts.session(t)

	rec := ts.do(t, http.MethodPost, "/api/agents", sessionA,
		models.CreateAgentRequest{Name: "Root", Role: "coordinator"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var agent models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	// Visible in its own session, invisible from another.
	rec = ts.do(t, http.MethodGet, "/api/agents/"+agent.AgentID, sessionA, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/agents/"+agent.AgentID, sessionB, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	name := "Renamed"
	rec = ts.do(t, http.MethodPut, "/api/agents/"+agent.AgentID, sessionA,
		models.UpdateAgentRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.Equal(t, "Renamed", agent.Name)

	rec = ts.do(t, http.MethodDelete, "/api/agents/"+agent.AgentID, sessionA, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUpdateAgentCycleConflict(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.session(t)

	rec := ts.do(t, http.MethodPost, "/api/agents", sessionID,
		models.CreateAgentRequest{Name: "Root", Role: "r"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var root models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))

	rec = ts.do(t, http.MethodPost, "/api/agents", sessionID,
		models.CreateAgentRequest{Name: "Child", Role: "r", ParentID: &root.AgentID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var child models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &child))

	rec = ts.do(t, http.MethodPut, "/api/agents/"+root.AgentID, sessionID,
		models.UpdateAgentRequest{ParentID: &child.AgentID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunStreamEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.session(t)

	rec := ts.do(t, http.MethodPost, "/api/agents", sessionID,
		models.CreateAgentRequest{Name: "Root", Role: "coordinator"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var root models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))

	ts.client.AddRouted("Root", llmtest.ScriptEntry{Text: "the answer"})

	rec = ts.do(t, http.MethodPost, "/api/runs", sessionID,
		models.CreateRunRequest{RootAgentID: root.AgentID, Prompt: "do it"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodGet, "/api/runs/"+created.RunID+"/stream", sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event:connected")
	assert.Contains(t, body, "event:output")
	// The stream closes with a completed frame carrying the final output
	// and the per-agent output map.
	assert.Contains(t, body, "event:completed")
	assert.Contains(t, body, "per_agent_output")
	assert.Contains(t, body, "the answer")

	// Starting the same run again conflicts.
	rec = ts.do(t, http.MethodGet, "/api/runs/"+created.RunID+"/stream", sessionID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/runs/"+created.RunID, sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var finished models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &finished))
	assert.Equal(t, models.RunStatusCompleted, finished.Status)
}

func TestCancelRunNotExecuting(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.session(t)

	rec := ts.do(t, http.MethodPost, "/api/agents", sessionID,
		models.CreateAgentRequest{Name: "Root", Role: "r"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var root models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))

	rec = ts.do(t, http.MethodPost, "/api/runs", sessionID,
		models.CreateRunRequest{RootAgentID: root.AgentID, Prompt: "p"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodPost, "/api/runs/"+created.RunID+"/cancel", sessionID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTreeCacheDebugEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/debug/tree-cache", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "snapshots")
}
