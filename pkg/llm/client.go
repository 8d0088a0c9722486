// Package llm provides the streaming client for Gemini models.
package llm

import "context"

// Client is the interface agents use to call the model provider.
// GenerateStream returns a channel of chunks that is closed when the stream
// completes; errors after the stream starts are delivered as ErrorChunk
// values. Generate is the non-streaming helper used for capability
// extraction and synthesis.
type Client interface {
	GenerateStream(ctx context.Context, req *Request) (<-chan Chunk, error)
	Generate(ctx context.Context, req *Request) (string, error)
	Close() error
}

// InlineImage is an image attached to a request, sent inline with the prompt.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// Request describes one model invocation.
type Request struct {
	APIKey       string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Images       []InlineImage
	Temperature  float64
	MaxTokens    int
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeFinal ChunkType = "final"
	ChunkTypeError ChunkType = "error"
)

// TextChunk is a fragment of the model's text response.
type TextChunk struct{ Content string }

// FinalChunk signals the end of a successful stream.
type FinalChunk struct{ FinishReason string }

// ErrorChunk signals a mid-stream failure. Err is one of the typed errors
// in this package or a context error.
type ErrorChunk struct{ Err error }

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *FinalChunk) chunkType() ChunkType { return ChunkTypeFinal }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }
