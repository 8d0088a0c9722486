// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentcanvas/agentcanvas/pkg/llm"
)

// ScriptEntry defines a single scripted response.
type ScriptEntry struct {
	// Response content (exactly one should be set)
	Chunks []llm.Chunk // Pre-built chunks to stream
	Text   string      // Shorthand: wrapped as TextChunk + FinalChunk
	Error  error       // Returned from the call

	// Test control
	BlockUntilCancelled bool            // Deliver any Chunks, then hang until ctx is cancelled
	WaitCh              <-chan struct{} // Block until closed, then respond normally
	OnBlock             chan<- struct{} // Notified when the call enters its blocking path
}

// ScriptedClient implements llm.Client with dual dispatch: sequential
// fallback for ordered calls, plus name-routed entries for concurrent
// children where call order is non-deterministic. Routing matches the
// "You are <Name>" opening of assembled system prompts.
type ScriptedClient struct {
	mu             sync.Mutex
	sequential     []ScriptEntry
	seqIndex       int
	routes         map[string][]ScriptEntry
	routeIndex     map[string]int
	capturedInputs []*llm.Request
}

var _ llm.Client = (*ScriptedClient)(nil)

// NewScriptedClient creates an empty scripted client.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential adds an entry consumed in order for non-routed calls.
func (c *ScriptedClient) AddSequential(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddRouted adds an entry for a specific agent name.
func (c *ScriptedClient) AddRouted(agentName string, entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[agentName] = append(c.routes[agentName], entry)
}

// GenerateStream implements llm.Client.
func (c *ScriptedClient) GenerateStream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	entry, err := c.record(req)
	if err != nil {
		return nil, err
	}

	if entry.BlockUntilCancelled {
		ch := make(chan llm.Chunk, len(entry.Chunks))
		for _, chunk := range entry.Chunks {
			ch <- chunk
		}
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		return ch, nil
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			ch := make(chan llm.Chunk)
			close(ch)
			return ch, nil
		}
	}

	if entry.Error != nil {
		return nil, entry.Error
	}

	chunks := entry.Chunks
	if len(chunks) == 0 && entry.Text != "" {
		chunks = []llm.Chunk{
			&llm.TextChunk{Content: entry.Text},
			&llm.FinalChunk{FinishReason: "stop"},
		}
	}

	ch := make(chan llm.Chunk, len(chunks))
	for _, chunk := range chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

// Generate implements llm.Client. It consumes the same script entries as
// GenerateStream and returns the concatenated text chunks.
func (c *ScriptedClient) Generate(ctx context.Context, req *llm.Request) (string, error) {
	entry, err := c.record(req)
	if err != nil {
		return "", err
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	if entry.Error != nil {
		return "", entry.Error
	}
	if entry.Text != "" {
		return entry.Text, nil
	}
	var sb strings.Builder
	for _, chunk := range entry.Chunks {
		if tc, ok := chunk.(*llm.TextChunk); ok {
			sb.WriteString(tc.Content)
		}
	}
	return sb.String(), nil
}

// Close implements llm.Client.
func (c *ScriptedClient) Close() error { return nil }

// CallCount returns the total number of calls made.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.capturedInputs)
}

// CapturedRequests returns a copy of every request seen so far.
func (c *ScriptedClient) CapturedRequests() []*llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*llm.Request, len(c.capturedInputs))
	copy(out, c.capturedInputs)
	return out
}

func (c *ScriptedClient) record(req *llm.Request) (*ScriptEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturedInputs = append(c.capturedInputs, req)
	return c.nextEntry(req)
}

// nextEntry selects the next script entry. Must be called with c.mu held.
func (c *ScriptedClient) nextEntry(req *llm.Request) (*ScriptEntry, error) {
	agentName := extractAgentName(req.SystemPrompt)

	if agentName != "" {
		if entries, ok := c.routes[agentName]; ok {
			idx := c.routeIndex[agentName]
			if idx < len(entries) {
				c.routeIndex[agentName] = idx + 1
				return &entries[idx], nil
			}
		}
	}

	if c.seqIndex < len(c.sequential) {
		entry := &c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}

	return nil, fmt.Errorf("ScriptedClient: no more entries (agent=%q, sequential=%d/%d)",
		agentName, c.seqIndex, len(c.sequential))
}

// extractAgentName pulls the name out of the "You are <Name>," prompt
// opening used by the prompt assembler.
func extractAgentName(systemPrompt string) string {
	const marker = "You are "
	idx := strings.Index(systemPrompt, marker)
	if idx < 0 {
		return ""
	}
	rest := systemPrompt[idx+len(marker):]
	end := len(rest)
	for i, ch := range rest {
		if ch == '.' || ch == ',' || ch == '\n' {
			end = i
			break
		}
	}
	return strings.TrimSpace(rest[:end])
}
