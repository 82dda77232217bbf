// Package anthropic implements provider.ModelProvider on top of the
// Anthropic Claude Messages API. It translates agentcore's provider-agnostic
// Request/Response/Chunk shapes into sdk.MessageNewParams calls and back,
// mirroring the encode/translate split the teacher's Anthropic adapter uses.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// needs, satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements provider.ModelProvider on the Anthropic Messages API.
type Client struct {
	msg       MessagesClient
	modelID   string
	maxTokens int
}

// New builds a Client from an already-constructed MessagesClient. modelID
// names the Claude model this instance always targets; agentcore resolves
// one Client per (provider_key, model_id) pair via provider.Registry.
func New(msg MessagesClient, modelID string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errs.New(errs.KindConfiguration, "anthropic: messages client is required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errs.New(errs.KindConfiguration, "anthropic: model id is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, modelID: modelID, maxTokens: maxTokens}, nil
}

// Factory returns a provider.Factory that resolves an API key/base URL from
// settings and constructs a Client bound to modelID, for registration with a
// provider.Registry under the "anthropic" key.
func Factory(defaultMaxTokens int) func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
	return func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
		apiKey := settings["api_key"]
		if apiKey == "" {
			return nil, errs.New(errs.KindAuthentication, "anthropic: no API key configured")
		}
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL := settings["base_url"]; baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		client := sdk.NewClient(opts...)
		return New(&client.Messages, modelID, defaultMaxTokens)
	}
}

func (c *Client) ProviderName() string { return "anthropic" }
func (c *Client) ModelID() string      { return c.modelID }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTools:     true,
		SupportsStreaming: true,
		ContextLength:     200_000,
		MaxOutputTokens:   c.maxTokens,
	}
}

func (c *Client) GenerateText(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return provider.Response{}, classifyError(err)
	}
	return translateResponse(msg, nameMap), nil
}

func (c *Client) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classifyError(err)
	}
	return newStreamer(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req provider.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errs.New(errs.KindInvalidArgument, "anthropic: messages are required")
	}
	canonToSan, sanToCanon, tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := int64(c.maxTokens)
	if req.Settings.MaxTokens != nil && *req.Settings.MaxTokens > 0 {
		maxTokens = int64(*req.Settings.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelID),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Settings.Temperature != nil {
		params.Temperature = sdk.Float(*req.Settings.Temperature)
	}
	if req.Settings.TopP != nil {
		params.TopP = sdk.Float(*req.Settings.TopP)
	}
	return &params, sanToCanon, nil
}

func encodeMessages(msgs []message.Message, nameMap map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, sdk.TextBlockParam{Text: text})
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case message.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case message.ToolCallPart:
				sanitized, ok := nameMap[v.Name]
				if !ok {
					sanitized = sanitizeToolName(v.Name)
				}
				var args any
				_ = json.Unmarshal(v.Arguments, &args)
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, args, sanitized))
			case message.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolCallID, string(v.Result), v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case message.RoleUser, message.RoleTool:
			out = append(out, sdk.NewUserMessage(blocks...))
		case message.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, errs.New(errs.KindInvalidArgument, fmt.Sprintf("anthropic: unsupported message role %q", m.Role))
		}
	}
	if len(out) == 0 {
		return nil, nil, errs.New(errs.KindInvalidArgument, "anthropic: at least one user/assistant message is required")
	}
	return out, system, nil
}

func encodeTools(defs []provider.ToolDefinition) (canonToSan, sanToCanon map[string]string, out []sdk.ToolUnionParam, err error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	canonToSan = make(map[string]string, len(defs))
	sanToCanon = make(map[string]string, len(defs))
	out = make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, errs.New(errs.KindInvalidArgument,
				fmt.Sprintf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev))
		}
		canonToSan[def.Name] = sanitized
		sanToCanon[sanitized] = def.Name

		var schema map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return nil, nil, nil, errs.Wrap(errs.KindInvalidArgument, "anthropic: tool "+def.Name+" schema", err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return canonToSan, sanToCanon, out, nil
}

// sanitizeToolName replaces every rune Anthropic tool names disallow with
// '_'; agentcore tool identifiers are typically already safe, so this only
// ever changes anything for uncommon names.
func sanitizeToolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) provider.Response {
	var resp provider.Response
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			name := block.Name
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			args, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, message.ToolCallPart{
				ID:        block.ID,
				Name:      name,
				Arguments: args,
			})
		}
	}
	resp.Text = text.String()
	resp.Usage = message.Usage{
		InputTokens:   int(msg.Usage.InputTokens),
		OutputTokens:  int(msg.Usage.OutputTokens),
		TotalTokens:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheRead:     int(msg.Usage.CacheReadInputTokens),
		CacheCreation: int(msg.Usage.CacheCreationInputTokens),
	}
	resp.FinishReason = translateStopReason(string(msg.StopReason))
	return resp
}

func translateStopReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_use":
		return provider.FinishToolCalls
	case "max_tokens":
		return provider.FinishLength
	default:
		return provider.FinishStop
	}
}

func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return errs.Wrap(errs.KindRateLimited, "anthropic: rate limited", err)
		case 500, 502, 503, 504:
			return errs.Wrap(errs.KindServer, "anthropic: server error", err)
		case 401, 403:
			return errs.Wrap(errs.KindAuthentication, "anthropic: authentication failed", err)
		}
	}
	return errs.Wrap(errs.KindNetwork, "anthropic: messages.new failed", err)
}
