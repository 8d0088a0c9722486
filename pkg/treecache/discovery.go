package treecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentcanvas/agentcanvas/pkg/llm"
	"github.com/agentcanvas/agentcanvas/pkg/models"
)

const (
	// Confidence assigned to model-extracted keywords versus the
	// role-derived fallback.
	llmConfidence      = 0.9
	fallbackConfidence = 0.3

	discoveryModel       = "gemini-2.5-flash"
	discoveryTemperature = 0.1
	discoveryMaxTokens   = 256
)

const discoveryPrompt = `Extract 3-7 lowercase keywords describing what this agent can do.
Respond with a JSON array of strings only, no prose.

Agent name: %s
Agent role: %s
System prompt: %s`

// LLMDiscoverer extracts capability keywords with a small non-streaming
// model call, falling back to role-derived tokens when the call or its
// output is unusable.
type LLMDiscoverer struct {
	client llm.Client
	logger *slog.Logger
}

var _ Discoverer = (*LLMDiscoverer)(nil)

// NewLLMDiscoverer creates a discoverer over the given client.
func NewLLMDiscoverer(client llm.Client, logger *slog.Logger) *LLMDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMDiscoverer{client: client, logger: logger.With("component", "discovery")}
}

// Discover implements Discoverer. It never fails: any error path degrades to
// the fallback keyword set.
func (d *LLMDiscoverer) Discover(ctx context.Context, agent *models.Agent, apiKey string) ([]string, float64) {
	text, err := d.client.Generate(ctx, &llm.Request{
		APIKey:      apiKey,
		Model:       discoveryModel,
		UserPrompt:  fmt.Sprintf(discoveryPrompt, agent.Name, agent.Role, agent.SystemPrompt),
		Temperature: discoveryTemperature,
		MaxTokens:   discoveryMaxTokens,
	})
	if err != nil {
		d.logger.Warn("keyword extraction failed, using role fallback",
			"agent_id", agent.AgentID, "error", err)
		return FallbackKeywords(agent), fallbackConfidence
	}

	keywords, err := parseKeywordArray(text)
	if err != nil || len(keywords) == 0 {
		d.logger.Warn("keyword extraction returned unusable output, using role fallback",
			"agent_id", agent.AgentID, "error", err)
		return FallbackKeywords(agent), fallbackConfidence
	}
	return keywords, llmConfidence
}

// parseKeywordArray parses a JSON string array, tolerating markdown code
// fences around it.
func parseKeywordArray(text string) ([]string, error) {
	text = stripCodeFences(text)
	var raw []string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("not a JSON string array: %w", err)
	}
	var keywords []string
	seen := make(map[string]bool)
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}
	return keywords, nil
}

// stripCodeFences removes a surrounding ```json ... ``` block if present.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// Drop the language tag line ("json", etc).
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// FallbackKeywords derives keywords from the agent's role and name when the
// model is unavailable.
func FallbackKeywords(agent *models.Agent) []string {
	var keywords []string
	seen := make(map[string]bool)
	for _, source := range []string{agent.Role, agent.Name} {
		for _, token := range strings.FieldsFunc(strings.ToLower(source), func(r rune) bool {
			return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
		}) {
			if len(token) < 3 || seen[token] {
				continue
			}
			seen[token] = true
			keywords = append(keywords, token)
		}
	}
	return keywords
}
