package llm

import "context"

// Client is the model-agnostic interface all adapters implement.
//
// Call blocks until the full reply is available. CallStream returns a
// channel of deltas; the channel is closed after a terminal DoneDelta or
// ErrorDelta. Cancelling the context stops the stream and the adapter
// closes the underlying provider stream.
type Client interface {
	Call(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error)
	CallStream(ctx context.Context, messages []Message, opts ...CallOption) (<-chan Delta, error)
	ModelName() string
	Close() error
}

// CallOptions collects per-call settings. Adapters read it via ApplyOptions.
type CallOptions struct {
	Tools        []ToolDeclaration
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
}

// CallOption adjusts one model call.
type CallOption func(*CallOptions)

// WithTools declares the tools the model may call.
func WithTools(tools []ToolDeclaration) CallOption {
	return func(o *CallOptions) { o.Tools = tools }
}

// WithSystemPrompt sets the system prompt for the call.
func WithSystemPrompt(prompt string) CallOption {
	return func(o *CallOptions) { o.SystemPrompt = prompt }
}

// WithMaxTokens caps the reply length in tokens.
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

// ApplyOptions folds the options into a CallOptions for adapters.
func ApplyOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Delta is the interface for all streaming delta types.
type Delta interface {
	deltaType() DeltaType
}

// DeltaType identifies the kind of streaming delta.
type DeltaType string

const (
	DeltaTypeText      DeltaType = "text"
	DeltaTypeToolCall  DeltaType = "tool_call"
	DeltaTypeToolInput DeltaType = "tool_input"
	DeltaTypeDone      DeltaType = "done"
	DeltaTypeError     DeltaType = "error"
)

// TextDelta carries a fragment of reply text.
type TextDelta struct {
	Text string
}

// ToolCallDelta announces that the model began tool call Index with the
// given id and name. Its arguments follow as ToolInputDelta fragments.
type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
}

// ToolInputDelta carries a fragment of the JSON arguments of tool call
// Index.
type ToolInputDelta struct {
	Index      int
	InputDelta string
}

// DoneDelta is the terminal delta of a successful stream. Exactly one is
// emitted, strictly last, carrying the final token usage.
type DoneDelta struct {
	Usage TokenUsage
}

// ErrorDelta is the terminal delta of an aborted stream.
type ErrorDelta struct {
	Err error
}

func (d *TextDelta) deltaType() DeltaType      { return DeltaTypeText }
func (d *ToolCallDelta) deltaType() DeltaType  { return DeltaTypeToolCall }
func (d *ToolInputDelta) deltaType() DeltaType { return DeltaTypeToolInput }
func (d *DoneDelta) deltaType() DeltaType      { return DeltaTypeDone }
func (d *ErrorDelta) deltaType() DeltaType     { return DeltaTypeError }
