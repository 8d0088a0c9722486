package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"
)

const (
	// syntheticEmptyCompletion is streamed when the provider returns a
	// well-formed response with no text, so operators see something instead
	// of a silently empty agent.
	syntheticEmptyCompletion = "[no content returned by the model]"
	// syntheticBlockedCompletion is streamed when the provider blocks the
	// completion; the agent still finishes with a visible notice.
	syntheticBlockedCompletion = "[response blocked by the provider's content policy]"

	maxAttempts       = 3
	retryBaseInterval = 500 * time.Millisecond
	defaultRetryAfter = time.Second
	maxTemperature    = 2.0
)

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	// DefaultAPIKey is used when a request carries no key. May be empty.
	DefaultAPIKey string
	// LegacyModelMap overrides the built-in retired-model substitutions.
	LegacyModelMap map[string]string
	// MaxConcurrent caps in-flight provider calls across all runs.
	MaxConcurrent int64
	Logger        *slog.Logger
}

// GeminiClient implements Client over the official genai SDK. Underlying SDK
// clients are cached per API key; a weighted semaphore bounds total
// concurrent provider calls.
type GeminiClient struct {
	defaultKey string
	legacy     map[string]string
	sem        *semaphore.Weighted
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

var _ Client = (*GeminiClient)(nil)

// NewGemini creates a Gemini-backed client.
func NewGemini(opts GeminiOptions) *GeminiClient {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 32
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &GeminiClient{
		defaultKey: opts.DefaultAPIKey,
		legacy:     opts.LegacyModelMap,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		logger:     opts.Logger.With("component", "llm"),
		clients:    make(map[string]*genai.Client),
	}
}

// Close releases cached SDK clients.
func (g *GeminiClient) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients = make(map[string]*genai.Client)
	return nil
}

// GenerateStream starts a streaming completion. Key resolution and model
// substitution happen synchronously; everything after that is delivered on
// the returned channel.
func (g *GeminiClient) GenerateStream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	client, model, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		if err := g.sem.Acquire(ctx, 1); err != nil {
			out <- &ErrorChunk{Err: classify(err)}
			return
		}
		defer g.sem.Release(1)

		contents, cfg := buildGenaiRequest(req)
		emitted := false
		retry := &hintedBackOff{BackOff: newRetryBackoff()}

		attempt := func() error {
			sawText := false
			finishReason := ""
			for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, cfg) {
				if err != nil {
					cerr := classify(err)
					if emitted || !IsRetryable(cerr) {
						out <- &ErrorChunk{Err: cerr}
						return backoff.Permanent(cerr)
					}
					return retry.observe(cerr)
				}
				if len(resp.Candidates) == 0 {
					continue
				}
				cand := resp.Candidates[0]
				if cand.FinishReason != "" {
					finishReason = string(cand.FinishReason)
				}
				if blockedReason(cand.FinishReason) {
					for _, chunk := range blockedNoticeChunks(cand.FinishReason) {
						out <- chunk
					}
					g.logger.Warn("blocked completion substituted",
						"model", model, "finish_reason", cand.FinishReason)
					return nil
				}
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text == "" || part.Thought {
						continue
					}
					emitted = true
					sawText = true
					out <- &TextChunk{Content: part.Text}
				}
			}
			if !sawText {
				out <- &TextChunk{Content: syntheticEmptyCompletion}
				out <- &FinalChunk{FinishReason: "empty"}
				g.logger.Warn("empty completion substituted", "model", model)
				return nil
			}
			out <- &FinalChunk{FinishReason: finishReason}
			return nil
		}

		bo := backoff.WithContext(retry, ctx)
		if err := backoff.Retry(attempt, bo); err != nil {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				// Retries exhausted on a retryable failure.
				out <- &ErrorChunk{Err: classify(err)}
			}
		}
	}()
	return out, nil
}

// Generate performs a non-streaming completion and returns the full text.
func (g *GeminiClient) Generate(ctx context.Context, req *Request) (string, error) {
	client, model, err := g.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", classify(err)
	}
	defer g.sem.Release(1)

	contents, cfg := buildGenaiRequest(req)
	retry := &hintedBackOff{BackOff: newRetryBackoff()}

	var text string
	attempt := func() error {
		resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			cerr := classify(err)
			if !IsRetryable(cerr) {
				return backoff.Permanent(cerr)
			}
			return retry.observe(cerr)
		}
		if len(resp.Candidates) > 0 && blockedReason(resp.Candidates[0].FinishReason) {
			return backoff.Permanent(ErrBlockedByPolicy)
		}
		text = resp.Text()
		if text == "" {
			return backoff.Permanent(ErrEmptyCompletion)
		}
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(retry, ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return "", perm.Err
		}
		return "", classify(err)
	}
	return text, nil
}

// prepare resolves the API key and model name and returns the cached SDK
// client for that key.
func (g *GeminiClient) prepare(ctx context.Context, req *Request) (*genai.Client, string, error) {
	key := req.APIKey
	if key == "" {
		key = g.defaultKey
	}
	if key == "" {
		return nil, "", ErrMissingKey
	}
	model := ResolveModel(req.Model, g.legacy)

	g.mu.Lock()
	defer g.mu.Unlock()
	client, ok := g.clients[key]
	if !ok {
		var err error
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
		if err != nil {
			return nil, "", &TransportError{Err: err}
		}
		g.clients[key] = client
	}
	return client, model, nil
}

func buildGenaiRequest(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	parts := []*genai.Part{{Text: req.UserPrompt}}
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	cfg.Temperature = genai.Ptr(float32(clampTemperature(req.Temperature)))
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func clampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > maxTemperature {
		return maxTemperature
	}
	return t
}

func blockedReason(r genai.FinishReason) bool {
	switch r {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return true
	}
	return false
}

// blockedNoticeChunks is the stream tail substituted for a blocked
// completion: one visible notice chunk plus the final marker.
func blockedNoticeChunks(r genai.FinishReason) []Chunk {
	return []Chunk{
		&TextChunk{Content: syntheticBlockedCompletion},
		&FinalChunk{FinishReason: strings.ToLower(string(r))},
	}
}

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseInterval
	bo.RandomizationFactor = 0.3
	return backoff.WithMaxRetries(bo, maxAttempts-1)
}

// hintedBackOff layers provider retry hints over the base schedule: when the
// last failure was a rate limit carrying a RetryAfter, the next interval
// honors that hint instead of the computed one.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.hint > 0 {
		next = b.hint
		b.hint = 0
	}
	return next
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
	b.BackOff.Reset()
}

// observe records the retry hint, if any, and passes the error through.
func (b *hintedBackOff) observe(err error) error {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		b.hint = rl.RetryAfter
	}
	return err
}

// classify maps SDK and context errors onto this package's typed errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDeadline, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &RateLimitedError{RetryAfter: defaultRetryAfter, Err: err}
		case apiErr.Code >= 500:
			return &TransportError{Err: err}
		default:
			return fmt.Errorf("llm request rejected: %w", err)
		}
	}
	// Anything else is a network-level failure.
	return &TransportError{Err: err}
}
