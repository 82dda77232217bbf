package openai

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrs "github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

type stubChatClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubChatClient) NewStreaming(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	s.lastParams = body
	return ssestream.NewStream[openai.ChatCompletionChunk](&noopDecoder{}, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func userRequest(text string) provider.Request {
	return provider.Request{
		Messages: []message.Message{
			{Role: message.RoleUser, Parts: []message.Part{message.TextPart{Text: text}}},
		},
	}
}

func TestGenerateTextTextOnly(t *testing.T) {
	stub := &stubChatClient{
		resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Content: "world"},
					FinishReason: "stop",
				},
			},
			Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	cl, err := New(stub, "gpt-4o", 128)
	require.NoError(t, err)

	resp, err := cl.GenerateText(context.Background(), userRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Text)
	assert.Equal(t, provider.FinishStop, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestGenerateTextToolCalls(t *testing.T) {
	stub := &stubChatClient{
		resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						ToolCalls: []openai.ChatCompletionMessageToolCall{
							{
								ID: "call-1",
								Function: openai.ChatCompletionMessageToolCallFunction{
									Name:      "test_tool",
									Arguments: `{"x":1}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		},
	}
	cl, err := New(stub, "gpt-4o", 128)
	require.NoError(t, err)

	req := provider.Request{
		Messages: []message.Message{
			{Role: message.RoleUser, Parts: []message.Part{message.TextPart{Text: "call tool"}}},
		},
		Tools: []provider.ToolDefinition{
			{Name: "test_tool", Description: "a test tool", Parameters: []byte(`{"type":"object"}`)},
		},
	}

	resp, err := cl.GenerateText(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "test_tool", resp.ToolCalls[0].Name)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, provider.FinishToolCalls, resp.FinishReason)
}

func TestGenerateTextClassifiesRateLimit(t *testing.T) {
	stub := &stubChatClient{err: &openai.Error{StatusCode: 429}}
	cl, err := New(stub, "gpt-4o", 64)
	require.NoError(t, err)

	_, err = cl.GenerateText(context.Background(), userRequest("hi"))
	require.Error(t, err)
	kind, ok := agenterrs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, agenterrs.KindRateLimited, kind)
}

func TestNewRejectsEmptyModelID(t *testing.T) {
	_, err := New(&stubChatClient{}, "", 64)
	require.Error(t, err)
}

func TestEncodeMessagesRequiresAtLeastOneMessage(t *testing.T) {
	_, err := encodeMessages([]message.Message{{Role: message.RoleSystem, Parts: nil}})
	require.Error(t, err)
}
