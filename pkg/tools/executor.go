package tools

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of one tool execution. Failures are values, not
// errors: the loop records them as ToolExecutionFailed events and keeps
// going.
type Result struct {
	ToolName      string
	Success       bool
	Value         any
	ErrorMessage  string
	ExecutionTime time.Duration
}

// Call names one tool invocation for ExecuteBatch.
type Call struct {
	Name      string
	Arguments map[string]any
}

// Executor runs registered tools with argument validation, panic capture and
// timing.
type Executor struct {
	registry *Registry
}

// NewExecutor returns an executor over the given registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute looks the tool up, validates the arguments against its schema, and
// invokes it. Every failure mode becomes a failed Result with an
// "<ErrorKind>: <message>" error string; nothing escapes, panics included.
// ExecutionTime spans the whole attempt.
func (x *Executor) Execute(ctx context.Context, name string, args map[string]any) (res Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				ToolName:      name,
				ErrorMessage:  fmt.Sprintf("PanicError: %v", r),
				ExecutionTime: time.Since(started),
			}
		}
	}()

	tool, err := x.registry.Get(name)
	if err != nil {
		return failedResult(name, started, "ToolNotFoundError", err)
	}
	if err := x.registry.validateArguments(name, args); err != nil {
		return failedResult(name, started, "InvalidArgumentsError", err)
	}

	value, err := tool.Func(ctx, args)
	if err != nil {
		return failedResult(name, started, "ToolExecutionError", err)
	}
	return Result{
		ToolName:      name,
		Success:       true,
		Value:         value,
		ExecutionTime: time.Since(started),
	}
}

// ExecuteBatch runs the calls in order, continuing past failures, and returns
// one result per call.
func (x *Executor) ExecuteBatch(ctx context.Context, calls []Call) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		if call.Name == "" {
			results = append(results, Result{
				ToolName:     "<unknown>",
				ErrorMessage: "InvalidArgumentsError: missing tool name in tool call",
			})
			continue
		}
		results = append(results, x.Execute(ctx, call.Name, call.Arguments))
	}
	return results
}

func failedResult(name string, started time.Time, kind string, err error) Result {
	return Result{
		ToolName:      name,
		ErrorMessage:  fmt.Sprintf("%s: %v", kind, err),
		ExecutionTime: time.Since(started),
	}
}
