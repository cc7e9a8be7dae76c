// Package anthropic implements the llm.Client interface over the Anthropic
// Messages API. Importing the package registers the provider with the llm
// factory, which routes claude model names here.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
)

const (
	providerName = "anthropic"

	// defaultMaxTokens is used when neither the model config nor the call
	// options set a limit. The Messages API requires max_tokens.
	defaultMaxTokens = 4096
)

func init() {
	llm.RegisterProvider(providerName,
		func(model string) bool { return strings.Contains(model, "claude") },
		func(cfg llm.ModelConfig) (llm.Client, error) { return NewFromConfig(cfg) },
	)
}

// MessagesClient is the slice of the Anthropic SDK the adapter calls. It is
// satisfied by *sdk.MessageService; tests substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client calls Claude models through the Anthropic Messages API.
type Client struct {
	messages    MessagesClient
	modelName   string
	maxTokens   int
	temperature *float64
}

// NewFromConfig builds a client with the SDK's default HTTP transport. The
// API key comes from the config, falling back to ANTHROPIC_API_KEY.
func NewFromConfig(cfg llm.ModelConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required; set ANTHROPIC_API_KEY")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, cfg)
}

// New builds a client over an injected Messages service.
func New(messages MessagesClient, cfg llm.ModelConfig) (*Client, error) {
	if messages == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return nil, errors.New("anthropic: model name is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		messages:    messages,
		modelName:   cfg.ModelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.modelName }

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error { return nil }

// Call sends the conversation and blocks for the complete reply.
func (c *Client) Call(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	params, err := c.buildParams(messages, llm.ApplyOptions(opts...))
	if err != nil {
		return nil, err
	}
	msg, err := c.messages.New(ctx, *params)
	if err != nil {
		return nil, &llm.TransportError{Provider: providerName, Err: err}
	}
	return c.translateMessage(msg)
}

// CallStream opens a streaming call and pumps SDK events into deltas. The
// returned channel closes after the terminal delta; cancelling ctx stops the
// pump and closes the provider stream.
func (c *Client) CallStream(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (<-chan llm.Delta, error) {
	params, err := c.buildParams(messages, llm.ApplyOptions(opts...))
	if err != nil {
		return nil, err
	}
	stream := c.messages.NewStreaming(ctx, *params)
	out := make(chan llm.Delta, streamBuffer)
	go pumpStream(ctx, stream, out)
	return out, nil
}

func (c *Client) buildParams(messages []llm.Message, opts llm.CallOptions) (*sdk.MessageNewParams, error) {
	if len(messages) == 0 {
		return nil, errors.New("anthropic: messages cannot be empty")
	}
	conversation, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelName),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if opts.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	tools, err := encodeTools(opts.Tools)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if t := opts.Temperature; t != nil {
		params.Temperature = sdk.Float(*t)
	} else if c.temperature != nil {
		params.Temperature = sdk.Float(*c.temperature)
	}
	return &params, nil
}

// encodeMessages maps conversation turns to Anthropic message params. Tool
// results travel as user-role tool_result blocks.
func encodeMessages(messages []llm.Message) ([]sdk.MessageParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("anthropic: message %d: %w", i, err)
		}
		switch m.Role {
		case llm.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case llm.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Text, false)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return conversation, nil
}

// encodeTools converts declarations to SDK tool params. The schema map is
// round-tripped through encoding/json so the SDK serialises plain maps and
// slices regardless of how the caller assembled them.
func encodeTools(decls []llm.ToolDeclaration) ([]sdk.ToolUnionParam, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	tools := make([]sdk.ToolUnionParam, 0, len(decls))
	for _, decl := range decls {
		if decl.Name == "" {
			return nil, errors.New("anthropic: tool declaration is missing a name")
		}
		schema, err := toolInputSchema(decl.Parameters)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", decl.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, decl.Name)
		if u.OfTool != nil && decl.Description != "" {
			u.OfTool.Description = sdk.String(decl.Description)
		}
		tools = append(tools, u)
	}
	return tools, nil
}

func toolInputSchema(params map[string]any) (sdk.ToolInputSchemaParam, error) {
	if len(params) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// translateMessage converts the API reply into the model-agnostic response.
// Text blocks join with a single space; whitespace-only blocks are dropped.
func (c *Client) translateMessage(msg *sdk.Message) (*llm.Response, error) {
	if msg == nil {
		return nil, &llm.ResponseError{Provider: providerName, Reason: "response message is nil"}
	}
	var textParts []string
	var toolCalls []llm.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if strings.TrimSpace(block.Text) != "" {
				textParts = append(textParts, block.Text)
			}
		case "tool_use":
			args, err := decodeToolInput(block.Input)
			if err != nil {
				return nil, &llm.ResponseError{
					Provider: providerName,
					Reason:   fmt.Sprintf("tool call %s carries malformed arguments", block.ID),
					Err:      err,
				}
			}
			tc, err := llm.NewToolCall(block.ID, block.Name, args)
			if err != nil {
				return nil, &llm.ResponseError{Provider: providerName, Reason: "invalid tool call in reply", Err: err}
			}
			toolCalls = append(toolCalls, tc)
		}
	}
	text := strings.Join(textParts, " ")
	if text == "" && len(toolCalls) == 0 {
		return nil, &llm.ResponseError{Provider: providerName, Reason: "reply carries no text and no tool calls"}
	}
	usage := llm.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return &llm.Response{Text: text, ToolCalls: toolCalls, ModelName: c.modelName, Usage: usage}, nil
}

// decodeToolInput unmarshals a tool_use block's input into an arguments map.
// Missing or null input means a zero-argument call.
func decodeToolInput(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
