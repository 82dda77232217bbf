// Package provider defines the ModelProvider capability contract the turn
// loop calls once per turn, and the registry that resolves a
// (provider_key, model_id) pair to a concrete implementation. Wire codecs
// for specific vendors live in providers/anthropic, providers/openai, and
// providers/bedrock; this package only defines the boundary.
package provider

import (
	"context"

	"github.com/rocisdk/agentcore/message"
)

// FinishReason classifies why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishContent   FinishReason = "content_filter"
)

// Capabilities describes what a provider/model combination supports, so the
// turn loop and host can adapt their requests before calling it.
type Capabilities struct {
	SupportsVision      bool
	SupportsTools       bool
	SupportsStreaming   bool
	SupportsJSONMode    bool
	SupportsJSONSchema  bool
	SupportsReasoning   bool
	ContextLength       int
	MaxOutputTokens     int
}

// ToolDefinition is a tool surfaced to the model in a generation request.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []byte // JSON Schema, opaque to this package
}

// Settings carries the generation-time knobs spec.md §6 lists as inputs to
// generate_text/stream_text.
type Settings struct {
	Temperature       *float64
	MaxTokens         *int
	TopP              *float64
	Stop              []string
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	Seed              *int64
	User              string
	ResponseFormat    string
}

// Request is one call to a ModelProvider.
type Request struct {
	Messages    []message.Message
	Settings    Settings
	Tools       []ToolDefinition
	SessionID   string
	Transport   string
	// Metadata carries free-form per-call data, including the resolved
	// api_key the controller attached at run start (spec.md §4.2 step 4).
	Metadata map[string]string
}

// Response is the result of a non-streaming generate_text call.
type Response struct {
	Text         string
	ToolCalls    []message.ToolCallPart
	Usage        message.Usage
	FinishReason FinishReason
	Thinking     []string
}

// ChunkType identifies the variant carried by one streamed Chunk.
type ChunkType string

const (
	ChunkText      ChunkType = "text_delta"
	ChunkToolCall  ChunkType = "tool_call_delta"
	ChunkUsage     ChunkType = "usage_update"
	ChunkDone      ChunkType = "done"
)

// Chunk is one element of a stream_text response.
type Chunk struct {
	Type         ChunkType
	TextDelta    string
	ToolCallID   string
	ToolCallName string
	ArgsDelta    string
	Usage        *message.Usage
	FinishReason FinishReason
}

// Stream is returned by stream_text. Recv returns io.EOF-equivalent via a
// ChunkDone chunk followed by ok=false; callers must call Close once done,
// even after an error, to release the underlying transport.
type Stream interface {
	Recv(ctx context.Context) (Chunk, bool, error)
	Close() error
}

// ModelProvider is the capability contract spec.md §4.6 names. Every method
// must fail with a classified *errs.Error rather than an unclassified one,
// so the turn loop's retry policy can inspect it.
type ModelProvider interface {
	ProviderName() string
	ModelID() string
	Capabilities() Capabilities
	GenerateText(ctx context.Context, req Request) (Response, error)
	StreamText(ctx context.Context, req Request) (Stream, error)
}
