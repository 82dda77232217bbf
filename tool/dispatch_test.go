package tool_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocisdk/agentcore/hooks"
	"github.com/rocisdk/agentcore/tool"
)

func echoTool() tool.Tool {
	return tool.Func{
		FuncName:        "echo",
		FuncDescription: "echoes its input",
		FuncParameters: tool.Parameters{Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"v": {"type": "number"}},
			"required": ["v"]
		}`)},
		FuncExecute: func(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error) {
			return args, nil
		},
	}
}

func TestBatchExecutePreservesOrder(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool()))

	calls := []tool.Call{
		{ID: "1", Name: "echo", Args: json.RawMessage(`{"v":1}`)},
		{ID: "2", Name: "echo", Args: json.RawMessage(`{"v":2}`)},
		{ID: "3", Name: "echo", Args: json.RawMessage(`{"v":3}`)},
	}
	results := tool.BatchExecute(context.Background(), calls, tool.BatchOptions{Registry: reg})
	require.Len(t, results, 3)
	assert.Equal(t, "1", results[0].ToolCallID)
	assert.Equal(t, "2", results[1].ToolCallID)
	assert.Equal(t, "3", results[2].ToolCallID)
	for _, r := range results {
		assert.False(t, r.IsError)
	}
}

func TestBatchExecuteMissingTool(t *testing.T) {
	reg := tool.NewRegistry()
	results := tool.BatchExecute(context.Background(), []tool.Call{
		{ID: "1", Name: "nope", Args: json.RawMessage(`{}`)},
	}, tool.BatchOptions{Registry: reg})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, string(results[0].Result), "not found")
}

func TestBatchExecuteValidationFailure(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool()))
	results := tool.BatchExecute(context.Background(), []tool.Call{
		{ID: "1", Name: "echo", Args: json.RawMessage(`{}`)},
	}, tool.BatchOptions{Registry: reg})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
}

func TestBatchExecutePreToolUseBlock(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool()))
	results := tool.BatchExecute(context.Background(), []tool.Call{
		{ID: "1", Name: "echo", Args: json.RawMessage(`{"v":1}`)},
	}, tool.BatchOptions{
		Registry: reg,
		PreToolUse: func(ctx context.Context, toolName string, args json.RawMessage) (hooks.PreToolUseOutcome, error) {
			return hooks.PreToolUseOutcome{Decision: hooks.PreToolUseBlock, Reason: "blocked for test"}, nil
		},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, `{"error":"blocked for test"}`, string(results[0].Result))
}

func TestBatchExecuteCancellationSynthesizesErrorResult(t *testing.T) {
	reg := tool.NewRegistry()
	slow := tool.Func{
		FuncName:       "slow",
		FuncDescription: "never returns on its own",
		FuncParameters: tool.Parameters{},
		FuncExecute: func(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, reg.Register(slow))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results := tool.BatchExecute(ctx, []tool.Call{
		{ID: "1", Name: "slow", Args: json.RawMessage(`{}`)},
	}, tool.BatchOptions{Registry: reg})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, `{"error":"canceled"}`, string(results[0].Result))
}
