// Package openai implements the llm.Client interface over the OpenAI chat
// completions API. Importing the package registers the provider with the llm
// factory, which routes gpt and o- model families here.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
)

const providerName = "openai"

func init() {
	llm.RegisterProvider(providerName,
		func(model string) bool {
			return strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o-")
		},
		func(cfg llm.ModelConfig) (llm.Client, error) { return NewFromConfig(cfg) },
	)
}

// ChatClient is the slice of the OpenAI SDK the adapter calls. It is
// satisfied by *openai.Client; tests substitute a stub.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Client calls GPT models through the chat completions API.
type Client struct {
	chat        ChatClient
	modelName   string
	maxTokens   int
	temperature *float64
}

// NewFromConfig builds a client with the SDK's default HTTP transport. The
// API key comes from the config, falling back to OPENAI_API_KEY.
func NewFromConfig(cfg llm.ModelConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("openai: API key is required; set OPENAI_API_KEY")
	}
	return New(openai.NewClient(apiKey), cfg)
}

// New builds a client over an injected chat service.
func New(chat ChatClient, cfg llm.ModelConfig) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return nil, errors.New("openai: model name is required")
	}
	return &Client{
		chat:        chat,
		modelName:   cfg.ModelName,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.modelName }

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error { return nil }

// Call sends the conversation and blocks for the complete reply.
func (c *Client) Call(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	req, err := c.buildRequest(messages, llm.ApplyOptions(opts...), false)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.CreateChatCompletion(ctx, *req)
	if err != nil {
		return nil, &llm.TransportError{Provider: providerName, Err: err}
	}
	return c.translateResponse(resp)
}

// CallStream opens a streaming call and pumps SDK chunks into deltas. The
// returned channel closes after the terminal delta; cancelling ctx stops the
// pump and closes the provider stream.
func (c *Client) CallStream(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (<-chan llm.Delta, error) {
	req, err := c.buildRequest(messages, llm.ApplyOptions(opts...), true)
	if err != nil {
		return nil, err
	}
	stream, err := c.chat.CreateChatCompletionStream(ctx, *req)
	if err != nil {
		return nil, &llm.TransportError{Provider: providerName, Err: err}
	}
	out := make(chan llm.Delta, streamBuffer)
	go pumpStream(ctx, stream, out)
	return out, nil
}

func (c *Client) buildRequest(messages []llm.Message, opts llm.CallOptions, stream bool) (*openai.ChatCompletionRequest, error) {
	if len(messages) == 0 {
		return nil, errors.New("openai: messages cannot be empty")
	}
	encoded, err := encodeMessages(messages, opts.SystemPrompt)
	if err != nil {
		return nil, err
	}
	req := openai.ChatCompletionRequest{
		Model:    c.modelName,
		Messages: encoded,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	} else if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	if t := opts.Temperature; t != nil {
		req.Temperature = float32(*t)
	} else if c.temperature != nil {
		req.Temperature = float32(*c.temperature)
	}
	if len(opts.Tools) > 0 {
		req.Tools = encodeTools(opts.Tools)
	}
	if stream {
		req.Stream = true
		// Without this the final usage never arrives on the stream.
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return &req, nil
}

// encodeMessages maps conversation turns to chat messages. The system prompt
// travels as a leading system-role message; tool results become tool-role
// messages linked by ToolCallID.
func encodeMessages(messages []llm.Message, systemPrompt string) ([]openai.ChatCompletionMessage, error) {
	encoded := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		encoded = append(encoded, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("openai: message %d: %w", i, err)
		}
		switch m.Role {
		case llm.RoleUser:
			encoded = append(encoded, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Text,
			})
		case llm.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Text,
			}
			if len(m.ToolCalls) > 0 {
				msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
				for j, tc := range m.ToolCalls {
					args, err := marshalArguments(tc.Arguments)
					if err != nil {
						return nil, fmt.Errorf("openai: tool call %s arguments: %w", tc.ID, err)
					}
					msg.ToolCalls[j] = openai.ToolCall{
						ID:       tc.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: tc.Name, Arguments: args},
					}
				}
			}
			encoded = append(encoded, msg)
		case llm.RoleTool:
			encoded = append(encoded, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Text,
				ToolCallID: m.ToolCallID,
			})
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return encoded, nil
}

func encodeTools(decls []llm.ToolDeclaration) []openai.Tool {
	tools := make([]openai.Tool, len(decls))
	for i, decl := range decls {
		params := decl.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
		}
	}
	return tools
}

func marshalArguments(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) translateResponse(resp openai.ChatCompletionResponse) (*llm.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, &llm.ResponseError{Provider: providerName, Reason: "response has no choices"}
	}
	msg := resp.Choices[0].Message
	var toolCalls []llm.ToolCall
	for _, tc := range msg.ToolCalls {
		args, err := unmarshalArguments(tc.Function.Arguments)
		if err != nil {
			return nil, &llm.ResponseError{
				Provider: providerName,
				Reason:   fmt.Sprintf("tool call %s carries malformed arguments", tc.ID),
				Err:      err,
			}
		}
		call, err := llm.NewToolCall(tc.ID, tc.Function.Name, args)
		if err != nil {
			return nil, &llm.ResponseError{Provider: providerName, Reason: "invalid tool call in reply", Err: err}
		}
		toolCalls = append(toolCalls, call)
	}
	if strings.TrimSpace(msg.Content) == "" && len(toolCalls) == 0 {
		return nil, &llm.ResponseError{Provider: providerName, Reason: "reply carries no text and no tool calls"}
	}
	usage := llm.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return &llm.Response{Text: msg.Content, ToolCalls: toolCalls, ModelName: c.modelName, Usage: usage}, nil
}

// unmarshalArguments decodes a tool call's argument JSON. Blank or null
// arguments mean a zero-argument call.
func unmarshalArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
