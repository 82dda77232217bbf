// Package openai implements provider.ModelProvider on top of the OpenAI
// Chat Completions API, translating agentcore's provider-agnostic
// Request/Response/Chunk shapes into openai-go calls and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	agenterrs "github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// ChatClient captures the subset of the openai-go client the adapter needs.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Client implements provider.ModelProvider on OpenAI Chat Completions.
type Client struct {
	chat      ChatClient
	modelID   string
	maxTokens int
}

// New builds a Client bound to modelID from an already-constructed
// ChatClient.
func New(chat ChatClient, modelID string, maxTokens int) (*Client, error) {
	if chat == nil {
		return nil, agenterrs.New(agenterrs.KindConfiguration, "openai: chat client is required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, agenterrs.New(agenterrs.KindConfiguration, "openai: model id is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{chat: chat, modelID: modelID, maxTokens: maxTokens}, nil
}

// Factory returns a provider.Factory that resolves an API key/base URL from
// settings and constructs a Client bound to modelID, for registration with a
// provider.Registry under the "openai" key.
func Factory(defaultMaxTokens int) func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
	return func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
		apiKey := settings["api_key"]
		if apiKey == "" {
			return nil, agenterrs.New(agenterrs.KindAuthentication, "openai: no API key configured")
		}
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL := settings["base_url"]; baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		client := openai.NewClient(opts...)
		return New(client.Chat.Completions, modelID, defaultMaxTokens)
	}
}

func (c *Client) ProviderName() string { return "openai" }
func (c *Client) ModelID() string      { return c.modelID }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsJSONMode:  true,
		ContextLength:     128_000,
		MaxOutputTokens:   c.maxTokens,
	}
}

func (c *Client) GenerateText(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return provider.Response{}, classifyError(err)
	}
	return translateResponse(resp), nil
}

func (c *Client) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyError(err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req provider.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, agenterrs.New(agenterrs.KindInvalidArgument, "openai: messages are required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.modelID),
		Messages: msgs,
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Settings.MaxTokens != nil && *req.Settings.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(*req.Settings.MaxTokens))
	} else {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}
	if req.Settings.Temperature != nil {
		params.Temperature = openai.Float(*req.Settings.Temperature)
	}
	if req.Settings.TopP != nil {
		params.TopP = openai.Float(*req.Settings.TopP)
	}
	if len(req.Settings.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Settings.Stop}
	}
	return params, nil
}

func encodeMessages(msgs []message.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case message.RoleUser:
			if text := m.Text(); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case message.RoleAssistant:
			out = append(out, encodeAssistantMessage(m))
		case message.RoleTool:
			for _, part := range m.Parts {
				tr, ok := part.(message.ToolResultPart)
				if !ok {
					continue
				}
				out = append(out, openai.ToolMessage(string(tr.Result), tr.ToolCallID))
			}
		default:
			return nil, agenterrs.New(agenterrs.KindInvalidArgument, "openai: unsupported message role "+string(m.Role))
		}
	}
	if len(out) == 0 {
		return nil, agenterrs.New(agenterrs.KindInvalidArgument, "openai: at least one message is required")
	}
	return out, nil
}

func encodeAssistantMessage(m message.Message) openai.ChatCompletionMessageParamUnion {
	param := openai.ChatCompletionAssistantMessageParam{}
	if text := m.Text(); text != "" {
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}
	for _, tc := range m.ToolCalls() {
		param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &param}
}

func encodeTools(defs []provider.ToolDefinition) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.Parameters) > 0 {
			_ = json.Unmarshal(def.Parameters, &schema)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}
	return out
}

func translateResponse(resp *openai.ChatCompletion) provider.Response {
	var out provider.Response
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, message.ToolCallPart{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	out.Usage = message.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	out.FinishReason = translateFinishReason(string(choice.FinishReason))
	return out
}

func translateFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_calls":
		return provider.FinishToolCalls
	case "length":
		return provider.FinishLength
	case "content_filter":
		return provider.FinishContent
	default:
		return provider.FinishStop
	}
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return agenterrs.Wrap(agenterrs.KindRateLimited, "openai: rate limited", err)
		case 500, 502, 503, 504:
			return agenterrs.Wrap(agenterrs.KindServer, "openai: server error", err)
		case 401, 403:
			return agenterrs.Wrap(agenterrs.KindAuthentication, "openai: authentication failed", err)
		}
	}
	return agenterrs.Wrap(agenterrs.KindNetwork, "openai: chat completion failed", err)
}
