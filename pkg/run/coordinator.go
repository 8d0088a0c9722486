// Package run coordinates full run lifecycles: guarding the pending→running
// transition, producing the event stream, synthesizing the final answer and
// persisting terminal state.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agentcanvas/agentcanvas/pkg/executor"
	"github.com/agentcanvas/agentcanvas/pkg/llm"
	"github.com/agentcanvas/agentcanvas/pkg/models"
	"github.com/agentcanvas/agentcanvas/pkg/store"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
)

// persistTimeout bounds terminal writes made after the run context died.
const persistTimeout = 10 * time.Second

// Options holds coordinator limits.
type Options struct {
	RunTimeout      time.Duration
	ChannelCapacity int
}

// Coordinator starts and supervises runs.
type Coordinator struct {
	store  store.Store
	cache  *treecache.Cache
	exec   *executor.Executor
	client llm.Client
	logger *slog.Logger
	opts   Options
	active *registry
}

// NewCoordinator creates a coordinator.
func NewCoordinator(s store.Store, cache *treecache.Cache, exec *executor.Executor, client llm.Client, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	if opts.ChannelCapacity <= 0 {
		opts.ChannelCapacity = 256
	}
	return &Coordinator{
		store:  s,
		cache:  cache,
		exec:   exec,
		client: client,
		logger: logger.With("component", "run"),
		opts:   opts,
		active: newRegistry(),
	}
}

// StartRun transitions a pending run to running and returns its event
// channel. The caller must drain the channel until it closes; the producer
// runs to completion regardless of who is listening. Validation failures
// before the transition return an error and leave the run pending where
// possible.
func (c *Coordinator) StartRun(ctx context.Context, sessionID, runID, apiKey string) (<-chan executor.Event, error) {
	run, err := c.store.GetRun(ctx, sessionID, runID)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.GetAgent(ctx, sessionID, run.RootAgentID); err != nil {
		// The root agent disappeared (or never belonged here): fail the run
		// without a single model call.
		msg := fmt.Sprintf("root agent unavailable: %v", err)
		c.failBeforeStart(sessionID, runID, msg)
		return nil, fmt.Errorf("root agent unavailable: %w", err)
	}
	images, err := decodeImages(run.Input.Images)
	if err != nil {
		c.failBeforeStart(sessionID, runID, err.Error())
		return nil, err
	}
	if err := c.store.MarkRunStarted(ctx, sessionID, runID); err != nil {
		return nil, err
	}

	// The run outlives the HTTP request that started it.
	runCtx, cancel := context.WithTimeout(context.Background(), c.opts.RunTimeout)
	c.active.add(runID, cancel)

	out := make(chan executor.Event, c.opts.ChannelCapacity)
	go c.produce(runCtx, cancel, run, apiKey, images, out)
	return out, nil
}

// Cancel requests cancellation of an active run. Returns false when the run
// is not currently executing.
func (c *Coordinator) Cancel(runID string) bool {
	return c.active.cancel(runID)
}

// produce drives the run to a terminal state and closes out.
func (c *Coordinator) produce(runCtx context.Context, cancel context.CancelFunc, run *models.Run, apiKey string, images []llm.InlineImage, out chan<- executor.Event) {
	defer close(out)
	defer cancel()
	defer c.active.remove(run.RunID)

	logger := c.logger.With("run_id", run.RunID, "session_id", run.SessionID)

	snapshot, err := c.cache.GetOrBuild(runCtx, run.SessionID, run.RootAgentID, apiKey)
	if err != nil {
		logger.Error("snapshot build failed", "error", err)
		msg := "snapshot_unavailable"
		c.finish(run, models.RunStatusFailed, &msg, nil)
		out <- executor.Event{Type: executor.EventError, RunID: run.RunID,
			Content:   fmt.Sprintf("failed to build capability snapshot: %v", err),
			Timestamp: time.Now().UTC()}
		return
	}

	events := make(chan executor.Event, c.opts.ChannelCapacity)
	task := &executor.Task{
		RunID:     run.RunID,
		SessionID: run.SessionID,
		APIKey:    apiKey,
		Snapshot:  snapshot,
		History:   run.Input.History,
		Images:    images,
		Breaker:   executor.NewBreaker(),
		Events:    events,
	}

	outputs := make(map[string]string)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for ev := range events {
			c.observe(run, ev, outputs)
			out <- ev
		}
	}()

	rootTask := run.Input.Prompt
	if strings.TrimSpace(rootTask) == "" {
		rootTask = run.Input.Task
	}
	rootOutput, execErr := c.exec.Execute(runCtx, task, run.RootAgentID, rootTask, 0, nil)
	close(events)
	<-consumed

	status, errMsg := c.terminalState(runCtx, rootOutput, execErr)

	var output *models.RunOutput
	var final string
	if status == models.RunStatusCompleted {
		final = rootOutput
		if len(outputs) > 1 {
			final = c.synthesize(run, snapshot, apiKey, rootOutput, outputs)
		}
		output = &models.RunOutput{Final: final, Agents: outputs}
	} else if len(outputs) > 0 {
		// Keep whatever partial work exists.
		output = &models.RunOutput{Agents: outputs}
	}

	c.finish(run, status, errMsg, output)
	out <- terminalEvent(run.RunID, status, errMsg, final, outputs)
	logger.Info("run finished", "status", status)
}

// terminalEvent builds the frame that closes every stream: completed with
// the final answer and per-agent outputs, cancelled, or error.
func terminalEvent(runID, status string, errMsg *string, final string, outputs map[string]string) executor.Event {
	ev := executor.Event{RunID: runID, Timestamp: time.Now().UTC()}
	switch status {
	case models.RunStatusCompleted:
		ev.Type = executor.EventCompleted
		ev.Content = final
		ev.AgentOutputs = outputs
	case models.RunStatusCancelled:
		ev.Type = executor.EventCancelled
	default:
		ev.Type = executor.EventError
		if errMsg != nil {
			ev.Content = *errMsg
		}
	}
	return ev
}

// observe accumulates per-agent outputs and mirrors notable events into the
// run's persistent log.
func (c *Coordinator) observe(run *models.Run, ev executor.Event, outputs map[string]string) {
	switch ev.Type {
	case executor.EventOutput:
		if ev.AgentID != "" {
			outputs[ev.AgentID] = ev.Content
		}
	case executor.EventTimeout:
		// A timed-out agent's accumulated partial text still counts as its
		// output and feeds synthesis.
		if ev.AgentID != "" && strings.TrimSpace(ev.Content) != "" {
			outputs[ev.AgentID] = ev.Content
		}
		c.appendLog(run, ev)
	case executor.EventDelegation, executor.EventDelegationRefused,
		executor.EventError, executor.EventCancelled,
		executor.EventUnavailable:
		c.appendLog(run, ev)
	}
}

func (c *Coordinator) appendLog(run *models.Run, ev executor.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	level := "info"
	if ev.Type == executor.EventError || ev.Type == executor.EventTimeout {
		level = "error"
	}
	message := ev.Content
	if message == "" {
		message = string(ev.Type)
	}
	if err := c.store.AppendRunLog(ctx, run.SessionID, run.RunID, models.RunLogEntry{
		AgentID: ev.AgentID,
		Message: message,
		Level:   level,
	}); err != nil {
		c.logger.Warn("failed to append run log", "run_id", run.RunID, "error", err)
	}
}

// terminalState maps how execution ended onto a run status.
func (c *Coordinator) terminalState(runCtx context.Context, rootOutput string, execErr error) (string, *string) {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		msg := "run timeout exceeded"
		return models.RunStatusFailed, &msg
	case errors.Is(runCtx.Err(), context.Canceled):
		return models.RunStatusCancelled, nil
	case execErr != nil:
		msg := execErr.Error()
		return models.RunStatusFailed, &msg
	case strings.TrimSpace(rootOutput) == "":
		msg := "root agent produced no output"
		return models.RunStatusFailed, &msg
	}
	return models.RunStatusCompleted, nil
}

const synthesisPrompt = `You coordinated a team and received the reports
below. Combine them into one coherent final answer. Do not mention the
team or the reports; answer as yourself.

Your own draft:
%s

Specialist reports:
%s`

// synthesize asks the root agent's model to merge child reports into the
// final answer. On any failure it falls back to plain concatenation.
func (c *Coordinator) synthesize(run *models.Run, snapshot *treecache.Snapshot, apiKey, rootOutput string, outputs map[string]string) string {
	childIDs := make([]string, 0, len(outputs))
	for agentID := range outputs {
		if agentID != run.RootAgentID {
			childIDs = append(childIDs, agentID)
		}
	}
	sort.Strings(childIDs)

	var reports strings.Builder
	for _, agentID := range childIDs {
		name := agentID
		if capability := snapshot.Capability(agentID); capability != nil {
			name = capability.AgentName
		}
		fmt.Fprintf(&reports, "--- %s ---\n%s\n\n", name, outputs[agentID])
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout*3)
	defer cancel()

	root, err := c.store.GetAgent(ctx, run.SessionID, run.RootAgentID)
	if err != nil {
		c.logger.Warn("synthesis skipped, root agent unavailable", "run_id", run.RunID, "error", err)
		return concatFallback(rootOutput, childIDs, outputs)
	}

	final, err := c.client.Generate(ctx, &llm.Request{
		APIKey:       apiKey,
		Model:        root.Parameters.Model,
		SystemPrompt: fmt.Sprintf("You are %s, %s.", root.Name, root.Role),
		UserPrompt:   fmt.Sprintf(synthesisPrompt, rootOutput, reports.String()),
		Temperature:  root.Parameters.Temperature,
		MaxTokens:    root.Parameters.MaxTokens,
	})
	if err != nil {
		c.logger.Warn("synthesis failed, falling back to concatenation", "run_id", run.RunID, "error", err)
		return concatFallback(rootOutput, childIDs, outputs)
	}
	return final
}

func concatFallback(rootOutput string, childIDs []string, outputs map[string]string) string {
	parts := []string{rootOutput}
	for _, agentID := range childIDs {
		parts = append(parts, outputs[agentID])
	}
	return strings.Join(parts, "\n\n")
}

// finish persists terminal state with a fresh context; the run context is
// usually dead by now.
func (c *Coordinator) finish(run *models.Run, status string, errMsg *string, output *models.RunOutput) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if output != nil {
		if err := c.store.SetRunOutput(ctx, run.SessionID, run.RunID, output); err != nil {
			c.logger.Error("failed to persist run output", "run_id", run.RunID, "error", err)
		}
	}
	if err := c.store.UpdateRunStatus(ctx, run.SessionID, run.RunID, status, errMsg); err != nil {
		c.logger.Error("failed to persist run status", "run_id", run.RunID, "status", status, "error", err)
	}
}

// failBeforeStart marks a run failed during pre-start validation.
func (c *Coordinator) failBeforeStart(sessionID, runID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.UpdateRunStatus(ctx, sessionID, runID, models.RunStatusFailed, &msg); err != nil {
		c.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
	}
}
