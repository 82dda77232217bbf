// Package agentloop implements the turn loop (spec.md §4.2, "LoopRunner"):
// one provider call, optionally followed by a parallel tool batch, repeated
// until the model stops producing tool calls and no follow-up is queued,
// cancellation fires, a fatal error occurs, or max_iterations is reached.
package agentloop

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rocisdk/agentcore/compaction"
	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/hooks"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
	"github.com/rocisdk/agentcore/retry"
	"github.com/rocisdk/agentcore/telemetry"
	"github.com/rocisdk/agentcore/tool"
)

// defaultMaxIterations is spec.md §4.2's hard stop.
const defaultMaxIterations = 20

const skippedBySteeringMessage = "Skipped due to steering message"

// LoopRunner drives one run to completion.
type LoopRunner struct {
	Logger telemetry.Logger
}

// NewLoopRunner constructs a LoopRunner. A nil logger is replaced with a
// no-op one.
func NewLoopRunner(logger telemetry.Logger) *LoopRunner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &LoopRunner{Logger: logger}
}

// Run executes req's turns until termination, returning the final Result.
// It never panics for caller-triggerable conditions; every failure path is
// reported through Result.Error or Result.Status.
func (l *LoopRunner) Run(ctx context.Context, req RunRequest) Result {
	messages := append([]message.Message(nil), req.InitialMessages...)
	sink := req.EventSink
	if sink == nil {
		sink = hooks.NopSink
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	policy := req.RetryPolicy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	policy.MaxRetryDelay = req.MaxRetryDelay

	var aggregateUsage message.Usage
	var steps []Step

	if req.Provider == nil {
		err := errs.New(errs.KindConfiguration, "agentloop: run request has no provider")
		sink.Emit(hooks.NewRunFailed(req.RunID, err.Error()))
		return Result{Status: StatusFailed, Messages: messages, Error: err}
	}

	for turnIndex := 0; turnIndex < maxIterations; turnIndex++ {
		if canceled(ctx) {
			sink.Emit(hooks.NewRunCanceled(req.RunID))
			return Result{Status: StatusCanceled, Messages: messages, Usage: aggregateUsage, Steps: steps}
		}

		sink.Emit(hooks.NewTurnStart(req.RunID, turnIndex))

		ctxMessages, err := l.prepareContext(ctx, req, messages)
		if err != nil {
			sink.Emit(hooks.NewRunFailed(req.RunID, err.Error()))
			return Result{Status: StatusFailed, Messages: messages, Usage: aggregateUsage, Steps: steps, Error: err}
		}

		if req.AutoCompaction != nil && req.AutoCompaction.Enabled {
			compacted, err := l.maybeCompact(ctx, req, messages, ctxMessages, sink)
			if err != nil {
				sink.Emit(hooks.NewRunFailed(req.RunID, err.Error()))
				return Result{Status: StatusFailed, Messages: messages, Usage: aggregateUsage, Steps: steps, Error: err}
			}
			if compacted != nil {
				messages = compacted
				ctxMessages = compacted
			}
		}

		resp, err := l.callProvider(ctx, req, policy, ctxMessages, turnIndex, sink)
		if err != nil {
			if canceled(ctx) {
				sink.Emit(hooks.NewRunCanceled(req.RunID))
				return Result{Status: StatusCanceled, Messages: messages, Usage: aggregateUsage, Steps: steps}
			}
			sink.Emit(hooks.NewRunFailed(req.RunID, err.Error()))
			return Result{Status: StatusFailed, Messages: messages, Usage: aggregateUsage, Steps: steps, Error: err}
		}

		aggregateUsage = aggregateUsage.Merge(resp.Usage)
		steps = append(steps, Step{TurnIndex: turnIndex, Usage: resp.Usage})

		assistantMsg := assistantMessage(resp)
		messages = append(messages, assistantMsg)
		sink.Emit(hooks.NewMessageAppended(req.RunID, len(messages)-1))

		if len(resp.ToolCalls) > 0 {
			messages = l.runToolTurn(ctx, req, messages, resp.ToolCalls, sink)
			sink.Emit(hooks.NewTurnEnd(req.RunID, turnIndex))
			continue
		}

		if req.FollowUpQueue != nil && req.FollowUpQueue.Len() > 0 {
			for _, fm := range req.FollowUpQueue.Drain() {
				messages = append(messages, fm)
				sink.Emit(hooks.NewMessageAppended(req.RunID, len(messages)-1))
			}
			sink.Emit(hooks.NewTurnEnd(req.RunID, turnIndex))
			continue
		}

		sink.Emit(hooks.NewTurnEnd(req.RunID, turnIndex))
		usageJSON, _ := json.Marshal(aggregateUsage)
		sink.Emit(hooks.NewRunCompleted(req.RunID, usageJSON))
		return Result{Status: StatusCompleted, Messages: messages, Usage: aggregateUsage, Steps: steps}
	}

	// Hard stop at max_iterations (spec.md §4.2): terminates Completed. The
	// Result does not record a finish reason, so a hard stop is not
	// distinguishable from a natural completion except by len(Steps).
	usageJSON, _ := json.Marshal(aggregateUsage)
	sink.Emit(hooks.NewRunCompleted(req.RunID, usageJSON))
	return Result{Status: StatusCompleted, Messages: messages, Usage: aggregateUsage, Steps: steps}
}

func canceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (l *LoopRunner) prepareContext(ctx context.Context, req RunRequest, messages []message.Message) ([]message.Message, error) {
	ctxMessages := messages
	if req.Hooks.TransformContext != nil {
		transformed, err := req.Hooks.TransformContext(ctx, ctxMessages)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidState, "agentloop: transform_context hook failed", err)
		}
		ctxMessages = transformed
	}
	if req.Hooks.ConvertToLLM != nil {
		converted, err := req.Hooks.ConvertToLLM(ctx, ctxMessages)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidState, "agentloop: convert_to_llm hook failed", err)
		}
		ctxMessages = converted
	}
	return ctxMessages, nil
}

// maybeCompact triggers compaction.Compact when the projected token count
// exceeds the model's context window, returning the new history (nil if no
// compaction occurred).
func (l *LoopRunner) maybeCompact(ctx context.Context, req RunRequest, messages, ctxMessages []message.Message, sink hooks.Sink) ([]message.Message, error) {
	contextWindow := req.ContextWindow
	if contextWindow <= 0 {
		contextWindow = req.Provider.Capabilities().ContextLength
	}
	if !compaction.ShouldTrigger(ctxMessages, req.AutoCompaction.ReserveTokens, contextWindow) {
		return nil, nil
	}

	result, err := compaction.Compact(ctx, messages, *req.AutoCompaction, req.Registry, req.Provider, nil)
	if err != nil {
		return nil, err
	}
	if result.RemovedMessages == 0 {
		return nil, nil
	}
	if req.Hooks.Compaction != nil {
		summary := ""
		for _, m := range result.History {
			for _, p := range m.Parts {
				if sp, ok := p.(message.CompactionSummaryPart); ok {
					var env compaction.Envelope
					if json.Unmarshal(sp.Envelope, &env) == nil {
						summary = env.Summary
					}
				}
			}
		}
		req.Hooks.Compaction(ctx, result.RemovedMessages, summary)
	}
	sink.Emit(hooks.NewContextCompacted(req.RunID, result.RemovedMessages, result.TurnSplit))
	return result.History, nil
}

// callProvider submits a generation request under req.RetryPolicy,
// transparently handling streaming vs non-streaming per the provider's
// advertised capability (spec.md §4.2 step 4/5).
func (l *LoopRunner) callProvider(ctx context.Context, req RunRequest, policy retry.Policy, messages []message.Message, turnIndex int, sink hooks.Sink) (provider.Response, error) {
	genReq := provider.Request{
		Messages:  messages,
		Settings:  req.GenSettings,
		Tools:     toolDefinitions(req.Tools),
		SessionID: req.SessionID,
		Transport: req.Transport,
		Metadata:  map[string]string{"api_key": req.APIKey},
	}

	var resp provider.Response
	err := policy.Do(ctx, func(ctx context.Context) error {
		if req.Provider.Capabilities().SupportsStreaming {
			r, err := l.streamTurn(ctx, req, genReq, turnIndex, sink)
			if err != nil {
				return err
			}
			resp = r
			return nil
		}
		r, err := req.Provider.GenerateText(ctx, genReq)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func (l *LoopRunner) streamTurn(ctx context.Context, req RunRequest, genReq provider.Request, turnIndex int, sink hooks.Sink) (provider.Response, error) {
	stream, err := req.Provider.StreamText(ctx, genReq)
	if err != nil {
		return provider.Response{}, err
	}
	defer stream.Close()

	var text strings.Builder
	var usage message.Usage
	finish := provider.FinishStop
	order := make([]string, 0, 4)
	names := make(map[string]string)
	args := make(map[string]*strings.Builder)

	for {
		if canceled(ctx) {
			return provider.Response{}, ctx.Err()
		}
		chunk, ok, err := stream.Recv(ctx)
		if err != nil {
			return provider.Response{}, err
		}
		if !ok {
			break
		}
		switch chunk.Type {
		case provider.ChunkText:
			text.WriteString(chunk.TextDelta)
			sink.Emit(hooks.NewTextDelta(req.RunID, turnIndex, chunk.TextDelta))
		case provider.ChunkToolCall:
			if _, exists := args[chunk.ToolCallID]; !exists {
				args[chunk.ToolCallID] = &strings.Builder{}
				names[chunk.ToolCallID] = chunk.ToolCallName
				order = append(order, chunk.ToolCallID)
			}
			args[chunk.ToolCallID].WriteString(chunk.ArgsDelta)
		case provider.ChunkUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case provider.ChunkDone:
			finish = chunk.FinishReason
		}
	}

	toolCalls := make([]message.ToolCallPart, 0, len(order))
	for _, id := range order {
		toolCalls = append(toolCalls, message.ToolCallPart{
			ID:        id,
			Name:      names[id],
			Arguments: json.RawMessage(args[id].String()),
		})
	}

	return provider.Response{
		Text:         text.String(),
		ToolCalls:    toolCalls,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

func assistantMessage(resp provider.Response) message.Message {
	var parts []message.Part
	if resp.Text != "" {
		parts = append(parts, message.TextPart{Text: resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		parts = append(parts, tc)
	}
	return message.Message{Role: message.RoleAssistant, Parts: parts}
}

func toolDefinitions(registry *tool.Registry) []provider.ToolDefinition {
	if registry == nil {
		return nil
	}
	tools := registry.List()
	out := make([]provider.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters().Schema,
		})
	}
	return out
}

// runToolTurn executes one assistant turn's tool calls per spec.md §4.3,
// draining the steering queue between call spawns per its DrainMode and
// synthesizing a skipped-tool-call result for every call that had not yet
// been spawned when a steering message was observed (spec.md §4.2 step 7,
// scenario 3).
func (l *LoopRunner) runToolTurn(ctx context.Context, req RunRequest, messages []message.Message, toolCalls []message.ToolCallPart, sink hooks.Sink) []message.Message {
	calls := make([]tool.Call, len(toolCalls))
	for i, tc := range toolCalls {
		calls[i] = tool.Call{ID: tc.ID, Name: tc.Name, Args: tc.Arguments}
	}

	opts := tool.BatchOptions{
		RunID:       req.RunID,
		Registry:    req.Tools,
		PreToolUse:  req.Hooks.PreToolUse,
		PostToolUse: req.Hooks.PostToolUse,
		Sink:        sink,
	}

	results, steeringMessages := dispatchWithSteering(ctx, calls, opts, req.SteeringQueue)

	for _, r := range results {
		messages = append(messages, message.Message{
			Role: message.RoleTool,
			Parts: []message.Part{message.ToolResultPart{
				ToolCallID: r.ToolCallID,
				Result:     r.Result,
				IsError:    r.IsError,
			}},
		})
		sink.Emit(hooks.NewMessageAppended(req.RunID, len(messages)-1))
	}

	for _, sm := range steeringMessages {
		messages = append(messages, sm)
		sink.Emit(hooks.NewMessageAppended(req.RunID, len(messages)-1))
	}

	return messages
}

// dispatchWithSteering spawns calls one at a time (so already-spawned calls
// keep running concurrently via their own goroutine) and, before spawning
// each subsequent call, checks whether the steering queue has anything
// pending. The first time it does, it drains per mode, skips every call
// not yet spawned, and stops spawning further calls.
//
// A call counts as "spawned" only once it has actually begun dispatch (its
// tool_execution_start event fired) or resolved without ever starting
// (missing tool, blocked by a hook, failed validation). Waiting for that
// signal before checking the queue for the next call ties the steering
// check to the batch's real dispatch progress rather than to however fast
// the goroutine scheduler happens to run the spawn loop.
func dispatchWithSteering(ctx context.Context, calls []tool.Call, opts tool.BatchOptions, steering *Queue) ([]tool.Result, []message.Message) {
	results := make([]tool.Result, len(calls))
	type pending struct {
		index int
		done  chan tool.Result
	}
	var inFlight []pending

	spawned := len(calls)
	var drained []message.Message
	for i, call := range calls {
		if steering != nil && steering.Len() > 0 {
			drained = steering.Drain()
			spawned = i
			break
		}

		advance := make(chan struct{}, 1)
		callOpts := opts
		callOpts.Sink = dispatchStartSink{inner: opts.Sink, callID: call.ID, advance: advance}

		done := make(chan tool.Result, 1)
		go func(call tool.Call, callOpts tool.BatchOptions) {
			done <- tool.DispatchOne(ctx, callOpts, call)
		}(call, callOpts)

		select {
		case <-advance:
			inFlight = append(inFlight, pending{index: i, done: done})
		case res := <-done:
			results[i] = res
		case <-ctx.Done():
			inFlight = append(inFlight, pending{index: i, done: done})
		}
	}

	for _, p := range inFlight {
		results[p.index] = <-p.done
	}
	for i := spawned; i < len(calls); i++ {
		payload, _ := json.Marshal(map[string]string{"error": skippedBySteeringMessage})
		results[i] = tool.Result{ToolCallID: calls[i].ID, ToolName: calls[i].Name, Result: payload, IsError: true}
	}

	return results, drained
}

// dispatchStartSink forwards every event to inner while watching for call
// callID's tool execution start or end event, signalling advance exactly
// once. A call that resolves without starting emits neither event; its
// result arrives on the done channel instead.
type dispatchStartSink struct {
	inner   hooks.Sink
	callID  string
	advance chan struct{}
}

func (s dispatchStartSink) Emit(e hooks.Event) {
	if s.inner != nil {
		s.inner.Emit(e)
	}
	switch ev := e.(type) {
	case hooks.ToolExecutionStartEvent:
		if ev.ToolCallID == s.callID {
			signalOnce(s.advance)
		}
	case hooks.ToolExecutionEndEvent:
		if ev.ToolCallID == s.callID {
			signalOnce(s.advance)
		}
	}
}

func signalOnce(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
