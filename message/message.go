// Package message defines the provider-agnostic conversation model shared by
// the run controller, turn loop, tool layer, and compaction: roles, typed
// content parts, and token usage accounting.
package message

import (
	"encoding/json"
	"errors"
	"time"
)

// Role identifies the speaker of a Message.
type Role string

const (
	// RoleSystem marks instructions/context supplied by the host, not the model
	// or the user.
	RoleSystem Role = "system"
	// RoleUser marks content supplied by the human operator (or injected as a
	// steering/follow-up message).
	RoleUser Role = "user"
	// RoleAssistant marks content produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool-result content returned to the model.
	RoleTool Role = "tool"
)

type (
	// Part is implemented by every content part a Message can carry. Concrete
	// types are TextPart, ImagePart, ToolCallPart, ToolResultPart, and
	// CompactionSummaryPart.
	Part interface {
		isPart()
	}

	// TextPart is plain assistant/user/system text.
	TextPart struct {
		Text string `json:"text"`
	}

	// ImagePart carries an inline image attachment.
	ImagePart struct {
		// MIME is the image media type, e.g. "image/png".
		MIME string `json:"mime"`
		// Bytes is the raw image payload. Base64Data is populated instead when
		// the source only supplied a base64 string and decoding should be
		// deferred to the provider adapter.
		Bytes      []byte `json:"bytes,omitempty"`
		Base64Data string `json:"base64_data,omitempty"`
	}

	// ToolCallPart declares a tool invocation requested by the assistant. It may
	// only appear in an Assistant-role message.
	ToolCallPart struct {
		// ID is the provider-issued identifier used to pair this call with its
		// ToolResultPart.
		ID string `json:"id"`
		// Name is the tool identifier as the model referenced it.
		Name string `json:"name"`
		// Arguments is the canonical JSON arguments object supplied by the model.
		Arguments json.RawMessage `json:"arguments"`
	}

	// ToolResultPart carries the outcome of a tool call back to the model. It
	// may only appear in a Tool-role message.
	ToolResultPart struct {
		// ToolCallID correlates this result to the ToolCallPart.ID it answers.
		ToolCallID string `json:"tool_call_id"`
		// Result is the JSON-compatible payload returned by the tool.
		Result json.RawMessage `json:"result"`
		// IsError reports whether Result represents a tool failure rather than a
		// successful outcome.
		IsError bool `json:"is_error"`
	}

	// CompactionSummaryPart carries the structured envelope produced by history
	// compaction in place of the messages it replaced. Downstream turns treat
	// it as ordinary context; consumers that recognise the type may render it
	// specially.
	CompactionSummaryPart struct {
		Envelope json.RawMessage `json:"envelope"`
	}

	// Message is one entry in a run's conversation history.
	Message struct {
		Role Role
		// Parts are the ordered content blocks for this message. A message that
		// carries tool calls may also carry a single leading TextPart.
		Parts []Part
		// Name optionally disambiguates the speaker (e.g. a specific tool or
		// sub-agent identity) beyond Role.
		Name string
		// Timestamp records when the message was appended, when known.
		Timestamp *time.Time
	}

	// Usage tracks token consumption for a single model call or, when merged,
	// the aggregate for a run.
	Usage struct {
		InputTokens     int
		OutputTokens    int
		TotalTokens     int
		CacheRead       int
		CacheCreation   int
		ReasoningTokens int
	}
)

func (TextPart) isPart()              {}
func (ImagePart) isPart()             {}
func (ToolCallPart) isPart()          {}
func (ToolResultPart) isPart()        {}
func (CompactionSummaryPart) isPart() {}

// ErrInvalidMessage indicates a Message violates the role/part pairing
// invariants enforced by Validate.
var ErrInvalidMessage = errors.New("message: invalid role/part combination")

// Validate enforces the data-model invariant that ToolResultPart may only
// appear in a Tool-role message and ToolCallPart only in an Assistant-role
// message. A message carrying tool calls may also carry one leading TextPart.
func (m Message) Validate() error {
	for i, p := range m.Parts {
		switch p.(type) {
		case ToolResultPart:
			if m.Role != RoleTool {
				return ErrInvalidMessage
			}
		case ToolCallPart:
			if m.Role != RoleAssistant {
				return ErrInvalidMessage
			}
		case TextPart:
			if m.Role == RoleAssistant && i > 0 {
				if _, ok := m.Parts[0].(TextPart); !ok {
					// A text part after a non-text part is fine; only the
					// "one leading text part" shape is special-cased by callers
					// that render assistant turns. Validate does not forbid
					// additional text parts.
					continue
				}
			}
		}
	}
	return nil
}

// ToolCalls returns every ToolCallPart carried by the message, in order.
func (m Message) ToolCalls() []ToolCallPart {
	var out []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			out = append(out, tc)
		}
	}
	return out
}

// Text concatenates every TextPart in the message, in order, separated by
// newlines. It returns the empty string when the message carries no text.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			if out != "" {
				out += "\n"
			}
			out += tp.Text
		}
	}
	return out
}

// NewUser constructs a User-role message from plain text.
func NewUser(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// NewSystem constructs a System-role message from plain text.
func NewSystem(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart{Text: text}}}
}

// NewAssistantText constructs an Assistant-role message from plain text.
func NewAssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
}

// Merge returns the field-wise sum of u and other. It is used to accumulate
// per-step usage into a run aggregate.
func (u Usage) Merge(other Usage) Usage {
	return Usage{
		InputTokens:     u.InputTokens + other.InputTokens,
		OutputTokens:    u.OutputTokens + other.OutputTokens,
		TotalTokens:     u.TotalTokens + other.TotalTokens,
		CacheRead:       u.CacheRead + other.CacheRead,
		CacheCreation:   u.CacheCreation + other.CacheCreation,
		ReasoningTokens: u.ReasoningTokens + other.ReasoningTokens,
	}
}
