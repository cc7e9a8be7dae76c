package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// PrintEventHandler returns a handler that pretty-prints each event as
// indented JSON to w.
func PrintEventHandler(w io.Writer) HandlerFunc {
	return func(_ context.Context, e events.Event) error {
		view := struct {
			ID             string         `json:"id"`
			Type           string         `json:"type"`
			StreamName     string         `json:"stream_name"`
			Position       int64          `json:"position"`
			GlobalPosition int64          `json:"global_position"`
			Time           string         `json:"time"`
			Data           map[string]any `json:"data"`
			Metadata       map[string]any `json:"metadata"`
		}{
			ID:             e.ID,
			Type:           e.Type,
			StreamName:     e.StreamName,
			Position:       e.Position,
			GlobalPosition: e.GlobalPosition,
			Time:           e.Time.Format(time.RFC3339Nano),
			Data:           e.Data,
			Metadata:       e.Metadata,
		}
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling event %s: %w", e.ID, err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
}

// FilterHandler wraps next so it only sees events matching pred.
func FilterHandler(pred func(events.Event) bool, next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e events.Event) error {
		if !pred(e) {
			return nil
		}
		return next(ctx, e)
	}
}

// TypeRouter dispatches each event to the handler registered for its type.
// Unrouted types are debug-logged with the available routes and skipped.
func TypeRouter(routes map[string]HandlerFunc) HandlerFunc {
	known := make([]string, 0, len(routes))
	for t := range routes {
		known = append(known, t)
	}
	return func(ctx context.Context, e events.Event) error {
		h, ok := routes[e.Type]
		if !ok {
			slog.Debug("Event type not routed", "event_type", e.Type, "available_types", known)
			return nil
		}
		return h(ctx, e)
	}
}

// LogEventHandler returns a handler that logs each event through log. A nil
// log uses the default logger.
func LogEventHandler(log *slog.Logger) HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(_ context.Context, e events.Event) error {
		log.Info("Event received",
			"event_id", e.ID,
			"event_type", e.Type,
			"stream", e.StreamName,
			"position", e.Position,
			"global_position", e.GlobalPosition)
		return nil
	}
}

// ConversationPrinter formats agent conversations for console output: user
// turns, assistant turns, tool activity, and optionally session lifecycle.
type ConversationPrinter struct {
	ShowToolCalls   bool
	ShowToolResults bool
	ShowSystem      bool
	Out             io.Writer
}

// NewConversationPrinter builds a printer with tool calls and results shown,
// system events hidden, writing to stdout.
func NewConversationPrinter() *ConversationPrinter {
	return &ConversationPrinter{
		ShowToolCalls:   true,
		ShowToolResults: true,
		Out:             os.Stdout,
	}
}

// Handler adapts the printer to a subscriber HandlerFunc.
func (p *ConversationPrinter) Handler() HandlerFunc {
	return func(_ context.Context, e events.Event) error {
		p.Print(e)
		return nil
	}
}

// Print renders one event according to the printer's visibility settings.
func (p *ConversationPrinter) Print(e events.Event) {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}

	switch payload := events.Decode(e).(type) {
	case events.UserMessageAdded:
		fmt.Fprintf(out, "\n[User]\n%s\n", payload.Message)

	case events.LLMResponseReceived:
		if payload.ResponseText != "" {
			fmt.Fprintf(out, "\n[Assistant]\n%s\n", payload.ResponseText)
		}
		if p.ShowToolCalls && len(payload.ToolCalls) > 0 {
			fmt.Fprintf(out, "\n[Tool Calls]\n")
			for _, tc := range payload.ToolCalls {
				fmt.Fprintf(out, "  - %s(%s)\n", tc.Name, indentJSON(tc.Arguments, "    "))
			}
		}

	case events.ToolExecutionRequested:
		if p.ShowToolCalls {
			fmt.Fprintf(out, "\n[Tool Call: %s]\nArguments: %s\n", payload.ToolName, indentJSON(payload.Arguments, "  "))
		}

	case events.ToolExecutionCompleted:
		if p.ShowToolResults {
			fmt.Fprintf(out, "\n[Tool Result: %s]\n%s\n", payload.ToolName, indentJSON(payload.Result, "  "))
		}

	case events.ToolExecutionFailed:
		if p.ShowToolResults {
			fmt.Fprintf(out, "\n[Tool Failed: %s]\n%s\n", payload.ToolName, payload.ErrorMessage)
		}

	case events.SessionStarted:
		if p.ShowSystem {
			fmt.Fprintf(out, "\n[Session Started]\nThread ID: %s\n", payload.ThreadID)
		}

	case events.SessionCompleted:
		if p.ShowSystem {
			fmt.Fprintf(out, "\n[Session Completed]\nReason: %s\n", payload.CompletionReason)
		}

	case events.LLMCallFailed:
		if p.ShowSystem {
			fmt.Fprintf(out, "\n[Error]\n%s\n", payload.ErrorMessage)
		}

	default:
		if p.ShowSystem {
			fmt.Fprintf(out, "\n[%s]\n%s\n", e.Type, indentJSON(e.Data, ""))
		}
	}
}

// indentJSON renders v as indented JSON with every line after the first
// prefixed, so nested output lines up under its label.
func indentJSON(v any, prefix string) string {
	if v == nil {
		return "{}"
	}
	out, err := json.MarshalIndent(v, prefix, "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
