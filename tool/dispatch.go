package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rocisdk/agentcore/hooks"
	"github.com/rocisdk/agentcore/toolerrors"
)

// Call is one assistant-requested tool invocation pending dispatch.
type Call struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Result is the outcome of dispatching one Call, always produced even when
// the tool itself was never invoked (missing name, blocked by a hook,
// validation failure, or cancellation).
type Result struct {
	ToolCallID string
	ToolName   string
	Result     json.RawMessage
	IsError    bool
}

func errorResult(call Call, message string) Result {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return Result{ToolCallID: call.ID, ToolName: call.Name, Result: payload, IsError: true}
}

// BatchOptions configures one call to BatchExecute.
type BatchOptions struct {
	RunID       string
	Registry    *Registry
	PreToolUse  hooks.PreToolUseHook
	PostToolUse hooks.PostToolUseHook
	Sink        hooks.Sink
}

// BatchExecute runs every call in calls concurrently (spec.md §4.3:
// "unbounded by default, one task per call") and returns their Results in
// the same order as calls, independent of completion order. ctx is the
// shared batch cancellation context; if it is canceled while calls are
// still in flight, those calls receive a synthetic {"error":"canceled"}
// result instead of waiting for their goroutine to return.
func BatchExecute(ctx context.Context, calls []Call, opts BatchOptions) []Result {
	sink := opts.Sink
	if sink == nil {
		sink = hooks.NopSink
	}

	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = DispatchOne(ctx, opts, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// DispatchOne runs the full per-call pipeline (pre_tool_use, resolve,
// validate, execute, post_tool_use, events) for a single call. BatchExecute
// is the common entry point for a whole batch; callers that need to
// interleave per-call dispatch with other concerns (the turn loop's
// steering-queue check between calls) use DispatchOne directly.
func DispatchOne(ctx context.Context, opts BatchOptions, call Call) Result {
	sink := opts.Sink
	if sink == nil {
		sink = hooks.NopSink
	}
	return dispatchOne(ctx, opts, sink, call)
}

func dispatchOne(ctx context.Context, opts BatchOptions, sink hooks.Sink, call Call) Result {
	args := call.Args

	if opts.PreToolUse != nil {
		outcome, err := opts.PreToolUse(ctx, call.Name, args)
		if err != nil {
			return errorResult(call, fmt.Sprintf("pre_tool_use: %v (source: pre_tool_use)", err))
		}
		switch outcome.Decision {
		case hooks.PreToolUseBlock:
			return errorResult(call, outcome.Reason)
		case hooks.PreToolUseReplaceArgs:
			args = outcome.ReplacementArgs
		}
	}

	t, ok := opts.Registry.Resolve(call.Name)
	if !ok {
		return errorResult(call, fmt.Sprintf("Tool '%s' not found", call.Name))
	}

	if err := t.Parameters().Validate(args); err != nil {
		return errorResult(call, err.Error())
	}

	sink.Emit(hooks.NewToolExecutionStart(opts.RunID, call.ID, call.Name))

	update := func(payload json.RawMessage) {
		sink.Emit(hooks.NewToolExecutionUpdate(opts.RunID, call.ID, call.Name, payload))
	}

	type execOutcome struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan execOutcome, 1)
	go func() {
		payload, err := t.Execute(ctx, args, update)
		done <- execOutcome{payload: payload, err: err}
	}()

	var result Result
	select {
	case <-ctx.Done():
		result = errorResult(call, "canceled")
	case out := <-done:
		if out.err != nil {
			// A tool's own Execute error is its business, not yet a
			// classified core error; normalize it to a toolerrors.Error
			// leaf before it becomes a result message.
			result = errorResult(call, toolerrors.FromError(out.err).Error())
		} else {
			result = Result{ToolCallID: call.ID, ToolName: call.Name, Result: out.payload}
		}
	}

	if opts.PostToolUse != nil {
		replacement, err := opts.PostToolUse(ctx, call.Name, args, result.Result, result.IsError)
		if err != nil {
			payload, _ := json.Marshal(map[string]any{
				"error":              fmt.Sprintf("post_tool_use: %v", err),
				"source":             "post_tool_use",
				"original_result":    json.RawMessage(result.Result),
				"original_is_error":  result.IsError,
			})
			result = Result{ToolCallID: call.ID, ToolName: call.Name, Result: payload, IsError: true}
		} else if replacement != nil {
			result.Result = replacement
		}
	}

	sink.Emit(hooks.NewToolExecutionEnd(opts.RunID, call.ID, call.Name, result.IsError))
	sink.Emit(hooks.NewToolResult(opts.RunID, call.ID, call.Name, result.Result, result.IsError))
	sink.Emit(hooks.NewToolCallCompleted(opts.RunID, call.ID))

	return result
}
