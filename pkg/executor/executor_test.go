package executor

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcanvas/agentcanvas/pkg/llm"
	"github.com/agentcanvas/agentcanvas/pkg/llm/llmtest"
	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/router"
	"github.com/agentcanvas/agentcanvas/pkg/store"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

type fixture struct {
	mem       *store.Memory
	sessionID string
	rootID    string
	alphaID   string
	betaID    string
	snap      *treecache.Snapshot
	client    *llmtest.ScriptedClient
}

// newFixture builds a session with a Root agent and two children, Alpha
// (search keywords) and Beta (summary keywords), plus a matching snapshot.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	session, err := mem.CreateSession(ctx, &models.CreateSessionRequest{Name: "s"})
	require.NoError(t, err)

	root, err := mem.CreateAgent(ctx, session.SessionID, &models.CreateAgentRequest{Name: "Root", Role: "coordinator"})
	require.NoError(t, err)
	alpha, err := mem.CreateAgent(ctx, session.SessionID, &models.CreateAgentRequest{Name: "Alpha", Role: "searcher", ParentID: &root.AgentID})
	require.NoError(t, err)
	beta, err := mem.CreateAgent(ctx, session.SessionID, &models.CreateAgentRequest{Name: "Beta", Role: "summarizer", ParentID: &root.AgentID})
	require.NoError(t, err)

	children := []string{alpha.AgentID, beta.AgentID}
	sort.Strings(children)
	snap := &treecache.Snapshot{
		SessionID:   session.SessionID,
		RootAgentID: root.AgentID,
		Capabilities: map[string]*treecache.Capability{
			root.AgentID: {AgentID: root.AgentID, AgentName: "Root", Depth: 0, Children: children,
				Keywords: []string{"coordinate"}},
			alpha.AgentID: {AgentID: alpha.AgentID, AgentName: "Alpha", Depth: 1,
				Keywords: []string{"search", "web"}},
			beta.AgentID: {AgentID: beta.AgentID, AgentName: "Beta", Depth: 1,
				Keywords: []string{"summarize", "digest"}},
		},
		AgentCount: 3,
		MaxDepth:   1,
	}

	return &fixture{
		mem:       mem,
		sessionID: session.SessionID,
		rootID:    root.AgentID,
		alphaID:   alpha.AgentID,
		betaID:    beta.AgentID,
		snap:      snap,
		client:    llmtest.NewScriptedClient(),
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context, opts Options) ([]Event, string) {
	t.Helper()
	exec := New(f.mem, f.client, router.New(0.0), opts, nil)
	events := make(chan Event, 1024)
	task := &Task{
		RunID:     "run-1",
		SessionID: f.sessionID,
		APIKey:    "key",
		Snapshot:  f.snap,
		Breaker:   NewBreaker(),
		Events:    events,
	}
	output, err := exec.Execute(ctx, task, f.rootID, "the task", 0, nil)
	require.NoError(t, err)
	close(events)
	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	return collected, output
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestExecuteRootOnly(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{Text: "a plain answer with no delegation cues"})

	events, output := f.run(t, context.Background(), Options{})

	assert.Equal(t, "a plain answer with no delegation cues", output)
	require.Len(t, eventsOfType(events, EventOutput), 1)
	assert.Empty(t, eventsOfType(events, EventDelegation))
	assert.Equal(t, 1, f.client.CallCount())
}

func TestExecuteChunkConcatenation(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{Chunks: []llm.Chunk{
		&llm.TextChunk{Content: "alpha "},
		&llm.TextChunk{Content: "beta "},
		&llm.TextChunk{Content: "gamma"},
		&llm.FinalChunk{FinishReason: "stop"},
	}})

	events, output := f.run(t, context.Background(), Options{})

	chunks := eventsOfType(events, EventOutputChunk)
	require.Len(t, chunks, 3)
	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Content)
	}
	assert.Equal(t, output, joined.String())

	outs := eventsOfType(events, EventOutput)
	require.Len(t, outs, 1)
	assert.Equal(t, "alpha beta gamma", outs[0].Content)
}

func TestExecuteDelegatesToMatchingChild(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{Text: "please search the web for sources"})
	f.client.AddRouted("Alpha", llmtest.ScriptEntry{Text: "alpha findings"})

	events, _ := f.run(t, context.Background(), Options{})

	delegations := eventsOfType(events, EventDelegation)
	require.Len(t, delegations, 1)
	assert.Equal(t, f.alphaID, delegations[0].TargetAgentID)

	outs := eventsOfType(events, EventOutput)
	require.Len(t, outs, 2)
	assert.Equal(t, 2, f.client.CallCount())
}

func TestExecuteSiblingIsolation(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{Text: "search the web, then summarize the digest"})
	f.client.AddRouted("Alpha", llmtest.ScriptEntry{Error: &llm.TransportError{Err: errors.New("provider down")}})
	f.client.AddRouted("Beta", llmtest.ScriptEntry{Text: "beta summary"})

	events, _ := f.run(t, context.Background(), Options{})

	require.Len(t, eventsOfType(events, EventDelegation), 2)

	// Alpha failed, Beta still produced output.
	errs := eventsOfType(events, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, f.alphaID, errs[0].AgentID)

	var betaOut []Event
	for _, ev := range eventsOfType(events, EventOutput) {
		if ev.AgentID == f.betaID {
			betaOut = append(betaOut, ev)
		}
	}
	require.Len(t, betaOut, 1)
	assert.Equal(t, "beta summary", betaOut[0].Content)
}

func TestExecuteDepthRefusal(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{Text: "search the web for sources"})

	events, _ := f.run(t, context.Background(), Options{MaxDepth: 1})

	refused := eventsOfType(events, EventDelegationRefused)
	require.NotEmpty(t, refused)
	assert.Equal(t, RefusalDepth, refused[0].Reason)
	// Only the root reached the model.
	assert.Equal(t, 1, f.client.CallCount())
}

func TestExecuteCycleRefusal(t *testing.T) {
	f := newFixture(t)
	exec := New(f.mem, f.client, router.New(0.0), Options{}, nil)
	events := make(chan Event, 16)
	task := &Task{
		RunID: "run-1", SessionID: f.sessionID, APIKey: "key",
		Snapshot: f.snap, Breaker: NewBreaker(), Events: events,
	}

	output, err := exec.Execute(context.Background(), task, f.rootID, "task", 2, []string{f.rootID})
	require.NoError(t, err)
	close(events)

	assert.Empty(t, output)
	ev := <-events
	assert.Equal(t, EventDelegationRefused, ev.Type)
	assert.Equal(t, RefusalCycle, ev.Reason)
	assert.Equal(t, 0, f.client.CallCount())
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, output := f.run(t, ctx, Options{})

	assert.Empty(t, output)
	require.Len(t, eventsOfType(events, EventCancelled), 1)
	assert.Equal(t, 0, f.client.CallCount())
}

func TestExecuteAgentTimeout(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{BlockUntilCancelled: true})

	start := time.Now()
	events, output := f.run(t, context.Background(), Options{AgentTimeout: 100 * time.Millisecond})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, output)
	require.Len(t, eventsOfType(events, EventTimeout), 1)
	assert.Empty(t, eventsOfType(events, EventOutput))
}

func TestExecuteTimeoutKeepsPartialText(t *testing.T) {
	f := newFixture(t)
	// One chunk arrives, then the stream hangs past the deadline.
	f.client.AddRouted("Root", llmtest.ScriptEntry{
		Chunks:              []llm.Chunk{&llm.TextChunk{Content: "partial draft"}},
		BlockUntilCancelled: true,
	})

	events, output := f.run(t, context.Background(), Options{AgentTimeout: 100 * time.Millisecond})

	assert.Equal(t, "partial draft", output)
	timeouts := eventsOfType(events, EventTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, "partial draft", timeouts[0].Content)
}

func TestExecuteBreakerOpenEmitsUnavailable(t *testing.T) {
	f := newFixture(t)
	exec := New(f.mem, f.client, router.New(0.0), Options{}, nil)
	events := make(chan Event, 16)
	breaker := NewBreaker()
	breaker.RecordFailure(f.rootID)
	breaker.RecordFailure(f.rootID)
	breaker.RecordFailure(f.rootID)

	task := &Task{
		RunID: "run-1", SessionID: f.sessionID, APIKey: "key",
		Snapshot: f.snap, Breaker: breaker, Events: events,
	}
	output, err := exec.Execute(context.Background(), task, f.rootID, "task", 0, nil)
	require.NoError(t, err)
	close(events)

	assert.Empty(t, output)
	ev := <-events
	assert.Equal(t, EventUnavailable, ev.Type)
	assert.Equal(t, 0, f.client.CallCount())
}

func TestExecuteBreakerScopedToFailingAgent(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{Text: "search the web, then summarize the digest"})
	f.client.AddRouted("Beta", llmtest.ScriptEntry{Text: "beta summary"})

	exec := New(f.mem, f.client, router.New(0.0), Options{}, nil)
	events := make(chan Event, 1024)
	breaker := NewBreaker()
	// Alpha's circuit is open; Root and Beta stay callable.
	breaker.RecordFailure(f.alphaID)
	breaker.RecordFailure(f.alphaID)
	breaker.RecordFailure(f.alphaID)

	task := &Task{
		RunID: "run-1", SessionID: f.sessionID, APIKey: "key",
		Snapshot: f.snap, Breaker: breaker, Events: events,
	}
	_, err := exec.Execute(context.Background(), task, f.rootID, "the task", 0, nil)
	require.NoError(t, err)
	close(events)
	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}

	unavailable := eventsOfType(collected, EventUnavailable)
	require.Len(t, unavailable, 1)
	assert.Equal(t, f.alphaID, unavailable[0].AgentID)

	var betaOut []Event
	for _, ev := range eventsOfType(collected, EventOutput) {
		if ev.AgentID == f.betaID {
			betaOut = append(betaOut, ev)
		}
	}
	require.Len(t, betaOut, 1)
	assert.Equal(t, "beta summary", betaOut[0].Content)
}

func TestExecuteEmptyOutputSkipsDelegation(t *testing.T) {
	f := newFixture(t)
	f.client.AddRouted("Root", llmtest.ScriptEntry{Chunks: []llm.Chunk{
		&llm.TextChunk{Content: "   "},
		&llm.FinalChunk{FinishReason: "stop"},
	}})

	events, _ := f.run(t, context.Background(), Options{})

	assert.Empty(t, eventsOfType(events, EventDelegation))
	assert.Equal(t, 1, f.client.CallCount())
}
