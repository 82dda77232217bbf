// Package bedrock implements provider.ModelProvider on top of the AWS
// Bedrock Converse/ConverseStream API, translating agentcore's
// provider-agnostic Request/Response/Chunk shapes into bedrockruntime calls
// and back.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

// RuntimeClient captures the subset of the Bedrock runtime client the
// adapter needs, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements provider.ModelProvider on AWS Bedrock Converse.
type Client struct {
	runtime   RuntimeClient
	modelID   string
	maxTokens int
}

// New builds a Client bound to modelID from an already-constructed
// RuntimeClient.
func New(runtime RuntimeClient, modelID string, maxTokens int) (*Client, error) {
	if runtime == nil {
		return nil, errs.New(errs.KindConfiguration, "bedrock: runtime client is required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errs.New(errs.KindConfiguration, "bedrock: model id is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, modelID: modelID, maxTokens: maxTokens}, nil
}

// Factory returns a provider.Factory that loads the default AWS config
// (region, credentials) and constructs a Client bound to modelID, for
// registration with a provider.Registry under the "bedrock" key. settings
// may carry a "region" override.
func Factory(defaultMaxTokens int) func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
	return func(modelID string, settings map[string]string) (provider.ModelProvider, error) {
		var optFns []func(*awsconfig.LoadOptions) error
		if region := settings["region"]; region != "" {
			optFns = append(optFns, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "bedrock: load AWS config", err)
		}
		return New(bedrockruntime.NewFromConfig(cfg), modelID, defaultMaxTokens)
	}
}

func (c *Client) ProviderName() string { return "bedrock" }
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
	parts, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	out, err := c.runtime.Converse(ctx, c.buildConverseInput(parts, req))
	if err != nil {
		return provider.Response{}, classifyError(err)
	}
	return translateResponse(out, parts.sanToCanon)
}

func (c *Client) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.ConverseStream(ctx, c.buildConverseStreamInput(parts, req))
	if err != nil {
		return nil, classifyError(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errs.New(errs.KindStream, "bedrock: stream output missing event stream")
	}
	return newStreamer(ctx, stream, parts.sanToCanon), nil
}

type requestParts struct {
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	sanToCanon map[string]string
}

func (c *Client) prepareRequest(req provider.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errs.New(errs.KindInvalidArgument, "bedrock: messages are required")
	}
	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	messages, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, err
	}
	return &requestParts{messages: messages, system: system, toolConfig: toolConfig, sanToCanon: sanToCanon}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, req provider.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.Settings); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) buildConverseStreamInput(parts *requestParts, req provider.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.Settings); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig(settings provider.Settings) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	maxTokens := c.maxTokens
	if settings.MaxTokens != nil && *settings.MaxTokens > 0 {
		maxTokens = *settings.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if settings.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*settings.Temperature))
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []message.Message, nameMap map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: text})
			}
			continue
		}

		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case message.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case message.ToolCallPart:
				sanitized, ok := nameMap[v.Name]
				if !ok {
					sanitized = sanitizeToolName(v.Name)
				}
				var input any
				_ = json.Unmarshal(v.Arguments, &input)
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(v.ID),
						Name:      aws.String(sanitized),
						Input:     document.NewLazyDocument(input),
					},
				})
			case message.ToolResultPart:
				status := brtypes.ToolResultStatusSuccess
				if v.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(v.ToolCallID),
						Status:    status,
						Content: []brtypes.ToolResultContentBlock{
							&brtypes.ToolResultContentBlockMemberText{Value: string(v.Result)},
						},
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == message.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, nil, errs.New(errs.KindInvalidArgument, "bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func encodeTools(defs []provider.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, errs.New(errs.KindInvalidArgument,
				"bedrock: tool name "+def.Name+" collides with "+prev+" after sanitization")
		}
		canonToSan[def.Name] = sanitized
		sanToCanon[sanitized] = def.Name

		var schema any
		if len(def.Parameters) > 0 {
			_ = json.Unmarshal(def.Parameters, &schema)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(sanitized),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, canonToSan, sanToCanon, nil
}

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

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (provider.Response, error) {
	var resp provider.Response
	var text strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				text.WriteString(v.Value)
			case *brtypes.ContentBlockMemberToolUse:
				name := aws.ToString(v.Value.Name)
				if canonical, ok := nameMap[name]; ok {
					name = canonical
				}
				args, _ := decodeDocument(v.Value.Input)
				resp.ToolCalls = append(resp.ToolCalls, message.ToolCallPart{
					ID:        aws.ToString(v.Value.ToolUseId),
					Name:      name,
					Arguments: args,
				})
			}
		}
	}
	resp.Text = text.String()
	if usage := output.Usage; usage != nil {
		resp.Usage = message.Usage{
			InputTokens:  int(aws.ToInt32(usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(usage.TotalTokens)),
		}
	}
	resp.FinishReason = translateStopReason(output.StopReason)
	return resp, nil
}

func decodeDocument(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func translateStopReason(reason brtypes.StopReason) provider.FinishReason {
	switch reason {
	case brtypes.StopReasonToolUse:
		return provider.FinishToolCalls
	case brtypes.StopReasonMaxTokens:
		return provider.FinishLength
	case brtypes.StopReasonContentFiltered:
		return provider.FinishContent
	default:
		return provider.FinishStop
	}
}

func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return errs.Wrap(errs.KindRateLimited, "bedrock: rate limited", err)
		case "ValidationException":
			return errs.Wrap(errs.KindInvalidArgument, "bedrock: validation failed", err)
		case "AccessDeniedException", "UnrecognizedClientException":
			return errs.Wrap(errs.KindAuthentication, "bedrock: authentication failed", err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() == 429:
			return errs.Wrap(errs.KindRateLimited, "bedrock: rate limited", err)
		case respErr.HTTPStatusCode() >= 500:
			return errs.Wrap(errs.KindServer, "bedrock: server error", err)
		}
	}
	return errs.Wrap(errs.KindNetwork, "bedrock: converse failed", err)
}
