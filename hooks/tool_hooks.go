package hooks

import (
	"context"
	"encoding/json"

	"github.com/rocisdk/agentcore/message"
)

// PreToolUseDecision is the verdict a PreToolUseHook returns for one pending
// tool call.
type PreToolUseDecision int

const (
	// PreToolUseContinue lets the call proceed with its original arguments.
	PreToolUseContinue PreToolUseDecision = iota
	// PreToolUseBlock prevents execution; the loop synthesizes a tool-error
	// result carrying the hook's reason instead of invoking the tool.
	PreToolUseBlock
	// PreToolUseReplaceArgs proceeds with execution but substitutes
	// ReplacementArgs for the arguments the model proposed.
	PreToolUseReplaceArgs
)

// PreToolUseOutcome is the result of invoking a PreToolUseHook for one
// pending tool call.
type PreToolUseOutcome struct {
	Decision PreToolUseDecision
	// Reason is surfaced to the model as the tool-error message when
	// Decision is PreToolUseBlock.
	Reason string
	// ReplacementArgs is used as the tool's arguments when Decision is
	// PreToolUseReplaceArgs.
	ReplacementArgs json.RawMessage
}

// PreToolUseHook inspects a proposed tool call before it executes and may
// block it or rewrite its arguments. toolName is the name the model called,
// including any MCP server namespace prefix.
type PreToolUseHook func(ctx context.Context, toolName string, args json.RawMessage) (PreToolUseOutcome, error)

// PostToolUseHook observes a tool call's final result after it executes.
// Returning a non-nil replacement replaces the result appended to history;
// returning nil leaves result unchanged.
type PostToolUseHook func(ctx context.Context, toolName string, args json.RawMessage, result json.RawMessage, isError bool) (replacement json.RawMessage, err error)

// CompactionHook is invoked after the turn loop's automatic compaction
// replaces a run's history, receiving the number of messages removed and
// the summary text that replaced them. A direct compaction.Compact call does
// not invoke it.
type CompactionHook func(ctx context.Context, removedMessages int, summary string)

// TransformContextHook rewrites the message slice that will be sent to the
// provider for one turn, without mutating the run's durable history. It runs
// before the auto-compaction check and before ConvertToLLMHook.
type TransformContextHook func(ctx context.Context, messages []message.Message) ([]message.Message, error)

// ConvertToLLMHook performs a final, provider-specific adjustment to the
// message slice immediately before it is handed to the provider's request
// builder, after TransformContextHook has run.
type ConvertToLLMHook func(ctx context.Context, messages []message.Message) ([]message.Message, error)
