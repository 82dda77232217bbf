package agentloop_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocisdk/agentcore/agentloop"
	"github.com/rocisdk/agentcore/hooks"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
	"github.com/rocisdk/agentcore/tool"
)

// scriptedProvider returns one canned Response per call, in order, and
// records every request it received.
type scriptedProvider struct {
	mu       sync.Mutex
	calls    int
	turns    []provider.Response
	capsOut  provider.Capabilities
	requests []provider.Request
}

func (p *scriptedProvider) ProviderName() string { return "scripted" }
func (p *scriptedProvider) ModelID() string       { return "scripted-model" }
func (p *scriptedProvider) Capabilities() provider.Capabilities { return p.capsOut }

func (p *scriptedProvider) GenerateText(ctx context.Context, req provider.Request) (provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++
	if idx >= len(p.turns) {
		return provider.Response{}, nil
	}
	return p.turns[idx], nil
}

func (p *scriptedProvider) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	return nil, nil
}

func echoResultTool(name string) tool.Tool {
	return tool.Func{
		FuncName:        name,
		FuncDescription: "echoes its arguments back",
		FuncParameters:  tool.Parameters{},
		FuncExecute: func(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error) {
			return args, nil
		},
	}
}

func slowTool(name string, release chan struct{}) tool.Tool {
	return tool.Func{
		FuncName:        name,
		FuncDescription: "blocks until released",
		FuncParameters:  tool.Parameters{},
		FuncExecute: func(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
	}
}

func newRegistryWith(tools ...tool.Tool) *tool.Registry {
	reg := tool.NewRegistry()
	for _, t := range tools {
		_ = reg.Register(t)
	}
	return reg
}

// TestRunSingleTurnCompletes covers scenario 1: one provider call with no
// tool calls terminates the run Completed.
func TestRunSingleTurnCompletes(t *testing.T) {
	p := &scriptedProvider{
		turns: []provider.Response{
			{Text: "hello", FinishReason: provider.FinishStop, Usage: message.Usage{OutputTokens: 3}},
		},
	}
	var events []hooks.Event
	sink := hooks.SinkFunc(func(e hooks.Event) { events = append(events, e) })

	runner := agentloop.NewLoopRunner(nil)
	result := runner.Run(context.Background(), agentloop.RunRequest{
		RunID:           "run-1",
		Provider:        p,
		InitialMessages: []message.Message{message.NewUser("hi")},
		Tools:           tool.NewRegistry(),
		EventSink:       sink,
	})

	require.Equal(t, agentloop.StatusCompleted, result.Status)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "hello", result.Messages[1].Text())
	assert.Equal(t, 3, result.Usage.OutputTokens)

	var sawRunCompleted bool
	for _, e := range events {
		if e.Type() == hooks.EventRunCompleted {
			sawRunCompleted = true
		}
	}
	assert.True(t, sawRunCompleted)
}

// TestRunToolLoopAppendsResultsAndContinues covers scenario 2: a tool-call
// turn followed by a text-only turn.
func TestRunToolLoopAppendsResultsAndContinues(t *testing.T) {
	p := &scriptedProvider{
		turns: []provider.Response{
			{
				ToolCalls: []message.ToolCallPart{
					{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)},
				},
				FinishReason: provider.FinishToolCalls,
			},
			{Text: "done", FinishReason: provider.FinishStop},
		},
	}
	var toolEnds, toolResults int
	sink := hooks.SinkFunc(func(e hooks.Event) {
		switch e.Type() {
		case hooks.EventToolExecutionEnd:
			toolEnds++
		case hooks.EventToolResult:
			toolResults++
		}
	})

	runner := agentloop.NewLoopRunner(nil)
	result := runner.Run(context.Background(), agentloop.RunRequest{
		RunID:           "run-2",
		Provider:        p,
		InitialMessages: []message.Message{message.NewUser("hi")},
		Tools:           newRegistryWith(echoResultTool("echo")),
		EventSink:       sink,
	})

	require.Equal(t, agentloop.StatusCompleted, result.Status)
	assert.Equal(t, 1, toolEnds)
	assert.Equal(t, 1, toolResults)

	// user, assistant(tool_call), tool(result), assistant(text)
	require.Len(t, result.Messages, 4)
	assert.Equal(t, message.RoleTool, result.Messages[2].Role)
	toolResultPart, ok := result.Messages[2].Parts[0].(message.ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, "call-1", toolResultPart.ToolCallID)
	assert.False(t, toolResultPart.IsError)
}

// TestRunSteeringSkipsPendingCalls covers scenario 3: a steering message
// enqueued mid-batch causes later calls to be skipped while the in-flight
// one still completes.
func TestRunSteeringSkipsPendingCalls(t *testing.T) {
	release := make(chan struct{})
	p := &scriptedProvider{
		turns: []provider.Response{
			{
				ToolCalls: []message.ToolCallPart{
					{ID: "call-a", Name: "slow", Arguments: json.RawMessage(`{}`)},
					{ID: "call-b", Name: "echo", Arguments: json.RawMessage(`{}`)},
				},
				FinishReason: provider.FinishToolCalls,
			},
			{Text: "done", FinishReason: provider.FinishStop},
		},
	}

	steering := agentloop.NewQueue(agentloop.DrainAll)
	// Enqueue the steering message synchronously as soon as call-a's
	// tool_execution_start event is observed, so it lands in the window
	// between call-a being dispatched and call-b being considered for
	// dispatch - exactly what scenario 3 describes ("steer() arrived
	// before B runs"). call-a is then released, since Run waits for every
	// in-flight call before it returns.
	sink := hooks.SinkFunc(func(e hooks.Event) {
		if ev, ok := e.(hooks.ToolExecutionStartEvent); ok && ev.ToolCallID == "call-a" {
			steering.Enqueue(message.NewUser("stop and look at this instead"))
			close(release)
		}
	})

	runner := agentloop.NewLoopRunner(nil)
	result := runner.Run(context.Background(), agentloop.RunRequest{
		RunID:    "run-3",
		Provider: p,
		InitialMessages: []message.Message{
			message.NewUser("hi"),
		},
		Tools:         newRegistryWith(slowTool("slow", release), echoResultTool("echo")),
		SteeringQueue: steering,
		EventSink:     sink,
	})

	require.Equal(t, agentloop.StatusCompleted, result.Status)

	var toolMessages []message.Message
	for _, m := range result.Messages {
		if m.Role == message.RoleTool {
			toolMessages = append(toolMessages, m)
		}
	}
	require.Len(t, toolMessages, 2)

	byID := map[string]message.ToolResultPart{}
	for _, m := range toolMessages {
		tr := m.Parts[0].(message.ToolResultPart)
		byID[tr.ToolCallID] = tr
	}
	assert.False(t, byID["call-a"].IsError)
	require.True(t, byID["call-b"].IsError)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(byID["call-b"].Result, &payload))
	assert.Equal(t, "Skipped due to steering message", payload["error"])

	// The drained steering message itself was appended as a User message.
	var sawSteeringText bool
	for _, m := range result.Messages {
		if m.Role == message.RoleUser && m.Text() == "stop and look at this instead" {
			sawSteeringText = true
		}
	}
	assert.True(t, sawSteeringText)
}

// TestRunCanceledMidTurn covers scenario 4: the context is canceled before
// the provider call returns, so the run terminates Canceled rather than
// Failed or Completed.
func TestRunCanceledMidTurn(t *testing.T) {
	p := &blockingProvider{}
	ctx, cancel := context.WithCancel(context.Background())

	runner := agentloop.NewLoopRunner(nil)
	done := make(chan agentloop.Result, 1)
	go func() {
		done <- runner.Run(ctx, agentloop.RunRequest{
			RunID:           "run-4",
			Provider:        p,
			InitialMessages: []message.Message{message.NewUser("hi")},
			Tools:           tool.NewRegistry(),
		})
	}()

	cancel()
	select {
	case result := <-done:
		assert.Equal(t, agentloop.StatusCanceled, result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not observe cancellation")
	}
}

type blockingProvider struct{}

func (blockingProvider) ProviderName() string               { return "blocking" }
func (blockingProvider) ModelID() string                    { return "blocking-model" }
func (blockingProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }

func (blockingProvider) GenerateText(ctx context.Context, req provider.Request) (provider.Response, error) {
	<-ctx.Done()
	return provider.Response{}, ctx.Err()
}

func (blockingProvider) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestRunMaxIterationsHardStop covers the max_iterations hard stop: a
// provider that always returns a tool call would otherwise loop forever.
func TestRunMaxIterationsHardStop(t *testing.T) {
	always := &alwaysToolCallProvider{}
	runner := agentloop.NewLoopRunner(nil)
	result := runner.Run(context.Background(), agentloop.RunRequest{
		RunID:           "run-5",
		Provider:        always,
		InitialMessages: []message.Message{message.NewUser("hi")},
		Tools:           newRegistryWith(echoResultTool("echo")),
		MaxIterations:   3,
	})

	require.Equal(t, agentloop.StatusCompleted, result.Status)
	assert.Len(t, result.Steps, 3)
}

type alwaysToolCallProvider struct{ n int }

func (p *alwaysToolCallProvider) ProviderName() string               { return "always" }
func (p *alwaysToolCallProvider) ModelID() string                    { return "always-model" }
func (p *alwaysToolCallProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }

func (p *alwaysToolCallProvider) GenerateText(ctx context.Context, req provider.Request) (provider.Response, error) {
	p.n++
	return provider.Response{
		ToolCalls: []message.ToolCallPart{
			{ID: "call", Name: "echo", Arguments: json.RawMessage(`{}`)},
		},
		FinishReason: provider.FinishToolCalls,
	}, nil
}

func (p *alwaysToolCallProvider) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	return nil, nil
}
