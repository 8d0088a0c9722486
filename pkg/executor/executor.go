// Package executor runs an agent hierarchy recursively, streaming events as
// it goes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentcanvas/agentcanvas/pkg/llm"
	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/router"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

// AgentSource is the slice of the store the executor loads agents from.
type AgentSource interface {
	GetAgent(ctx context.Context, sessionID, agentID string) (*models.Agent, error)
}

// Options holds the execution limits.
type Options struct {
	MaxDepth      int
	MaxParallel   int
	AgentTimeout  time.Duration
	HistoryWindow int
}

// Executor runs agents depth-first with bounded sibling parallelism. Model
// and routing failures are contained per agent: a failed child never aborts
// its siblings.
type Executor struct {
	agents AgentSource
	client llm.Client
	router *router.Router
	logger *slog.Logger
	opts   Options
}

// New creates an executor.
func New(agents AgentSource, client llm.Client, r *router.Router, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 10
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 30 * time.Second
	}
	if opts.HistoryWindow < 0 {
		opts.HistoryWindow = 0
	}
	return &Executor{
		agents: agents,
		client: client,
		router: r,
		logger: logger.With("component", "executor"),
		opts:   opts,
	}
}

// Task carries per-run state shared by every agent of the run.
type Task struct {
	RunID     string
	SessionID string
	APIKey    string
	Snapshot  *treecache.Snapshot
	History   []models.HistoryEntry
	Images    []llm.InlineImage
	Breaker   *Breaker
	Events    chan<- Event
}

// Execute runs the agent identified by agentID on task, recursing into
// selected children. It returns the agent's own accumulated output. The
// error return is reserved for infrastructure failures; model-level
// failures surface as events and an empty output.
func (e *Executor) Execute(ctx context.Context, t *Task, agentID, task string, depth int, path []string) (string, error) {
	// Pre-checks, in order: cycle, depth, cancellation.
	if slices.Contains(path, agentID) {
		e.emit(t, Event{Type: EventDelegationRefused, AgentID: agentID, Depth: depth,
			Reason: RefusalCycle, Content: "delegation refused: agent already on the active path"})
		return "", nil
	}
	if depth >= e.opts.MaxDepth {
		e.emit(t, Event{Type: EventDelegationRefused, AgentID: agentID, Depth: depth,
			Reason: RefusalDepth, Content: fmt.Sprintf("delegation refused: depth limit %d reached", e.opts.MaxDepth)})
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		e.emitInterruption(t, ctx, agentID, "", depth, "")
		return "", nil
	}
	if !t.Breaker.Allow(agentID) {
		e.emit(t, Event{Type: EventUnavailable, AgentID: agentID, Depth: depth,
			Content: "model temporarily unavailable, skipping agent"})
		return "", nil
	}

	agent, err := e.agents.GetAgent(ctx, t.SessionID, agentID)
	if err != nil {
		e.emit(t, Event{Type: EventError, AgentID: agentID, Depth: depth,
			Content: fmt.Sprintf("failed to load agent: %v", err)})
		return "", fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}

	e.emit(t, Event{Type: EventStatus, AgentID: agentID, AgentName: agent.Name, Depth: depth, Content: "running"})

	// The per-agent deadline covers this agent's stream and its children.
	agentCtx, cancel := context.WithTimeout(ctx, e.opts.AgentTimeout)
	defer cancel()

	output, ok := e.stream(agentCtx, ctx, t, agent, task, depth)
	if !ok {
		return output, nil
	}

	e.emit(t, Event{Type: EventOutput, AgentID: agentID, AgentName: agent.Name, Depth: depth, Content: output})

	if strings.TrimSpace(output) != "" {
		e.delegate(agentCtx, t, agent, output, depth, append(path, agentID))
	}
	return output, nil
}

// stream runs one model call and forwards its chunks. The second return is
// false when the agent finished abnormally (timeout, cancel, error); the
// accumulated text is still returned.
func (e *Executor) stream(ctx, runCtx context.Context, t *Task, agent *models.Agent, task string, depth int) (string, bool) {
	capability := t.Snapshot.Capability(agent.AgentID)
	req := &llm.Request{
		APIKey:       t.APIKey,
		Model:        agent.Parameters.Model,
		SystemPrompt: buildSystemPrompt(agent, capability, t.Snapshot),
		UserPrompt:   userPromptFor(task, depth, t.History, e.opts.HistoryWindow),
		Temperature:  agent.Parameters.Temperature,
		MaxTokens:    agent.Parameters.MaxTokens,
	}
	if agent.PhotoInjectionEnabled {
		req.Images = t.Images
	}

	ch, err := e.client.GenerateStream(ctx, req)
	if err != nil {
		t.Breaker.RecordFailure(agent.AgentID)
		e.emit(t, Event{Type: EventError, AgentID: agent.AgentID, AgentName: agent.Name, Depth: depth,
			Content: fmt.Sprintf("model call failed: %v", err)})
		return "", false
	}

	var sb strings.Builder
	for chunk := range ch {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			sb.WriteString(c.Content)
			e.emit(t, Event{Type: EventOutputChunk, AgentID: agent.AgentID, AgentName: agent.Name,
				Depth: depth, Content: c.Content})
		case *llm.ErrorChunk:
			t.Breaker.RecordFailure(agent.AgentID)
			switch {
			case errors.Is(c.Err, llm.ErrDeadline) || errors.Is(c.Err, context.DeadlineExceeded):
				e.emitInterruption(t, ctx, agent.AgentID, agent.Name, depth, sb.String())
			case errors.Is(c.Err, context.Canceled):
				e.emitInterruption(t, runCtx, agent.AgentID, agent.Name, depth, "")
			default:
				e.emit(t, Event{Type: EventError, AgentID: agent.AgentID, AgentName: agent.Name, Depth: depth,
					Content: fmt.Sprintf("model error: %v", c.Err)})
			}
			return sb.String(), false
		case *llm.FinalChunk:
			// Stream end follows; nothing to forward.
		}
	}

	if err := ctx.Err(); err != nil {
		// The stream was cut short by the agent deadline or a run cancel.
		t.Breaker.RecordFailure(agent.AgentID)
		e.emitInterruption(t, ctx, agent.AgentID, agent.Name, depth, sb.String())
		return sb.String(), false
	}

	t.Breaker.RecordSuccess(agent.AgentID)
	return sb.String(), true
}

// delegate routes the agent's output to selected children and runs them with
// bounded parallelism. Events from concurrent children interleave in arrival
// order.
func (e *Executor) delegate(ctx context.Context, t *Task, agent *models.Agent, output string, depth int, path []string) {
	capability := t.Snapshot.Capability(agent.AgentID)
	selections := e.router.SelectChildren(output, capability, t.Snapshot)
	if len(selections) == 0 {
		return
	}

	for _, sel := range selections {
		child := t.Snapshot.Capability(sel.AgentID)
		name := ""
		if child != nil {
			name = child.AgentName
		}
		e.emit(t, Event{Type: EventDelegation, AgentID: agent.AgentID, AgentName: agent.Name, Depth: depth,
			TargetAgentID: sel.AgentID, Score: sel.Score,
			Content: fmt.Sprintf("delegating to %s", name)})
	}

	limit := len(selections)
	if limit > e.opts.MaxParallel {
		limit = e.opts.MaxParallel
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, sel := range selections {
		g.Go(func() error {
			_, err := e.Execute(gctx, t, sel.AgentID, output, depth+1, path)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("delegation group failed", "run_id", t.RunID, "agent_id", agent.AgentID, "error", err)
	}
}

// emitInterruption emits timeout or cancelled based on why ctx ended, with
// the partial text accumulated so far (timeout keeps partial output visible).
func (e *Executor) emitInterruption(t *Task, ctx context.Context, agentID, agentName string, depth int, partial string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.emit(t, Event{Type: EventTimeout, AgentID: agentID, AgentName: agentName, Depth: depth, Content: partial})
		return
	}
	e.emit(t, Event{Type: EventCancelled, AgentID: agentID, AgentName: agentName, Depth: depth})
}

func (e *Executor) emit(t *Task, ev Event) {
	ev.RunID = t.RunID
	ev.Timestamp = time.Now().UTC()
	t.Events <- ev
}

// userPromptFor frames the task for the agent's position in the hierarchy.
// A delegated child's task is its parent's output, so below the root it is
// presented as coordinator context with a short task line.
func userPromptFor(task string, depth int, history []models.HistoryEntry, window int) string {
	if depth == 0 {
		return buildUserPrompt(task, "", history, window)
	}
	return buildUserPrompt(
		"Address the parts of the work above that match your specialty.",
		task, history, window)
}
