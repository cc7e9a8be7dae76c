package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
)

// streamBuffer sizes the delta channel so the pump stays ahead of slow
// consumers without unbounded memory.
const streamBuffer = 32

// pumpStream translates SDK stream events into deltas until the stream
// reaches a terminal state, then closes out. Tool-call arguments are
// forwarded as fragments keyed by the provider's content block index; a tool
// call that finishes without any input fragment gets a single "{}" fragment
// so consumers always join to valid JSON.
func pumpStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- llm.Delta) {
	defer close(out)
	defer func() { _ = stream.Close() }()

	emit := func(d llm.Delta) bool {
		select {
		case out <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var usage llm.TokenUsage
	// Open tool_use blocks by content index, tracking how many input
	// fragments each one has produced.
	pending := make(map[int]int)

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			if n := int(ev.Message.Usage.InputTokens); n > 0 {
				usage.InputTokens = n
			}

		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				idx := int(ev.Index)
				pending[idx] = 0
				if !emit(&llm.ToolCallDelta{Index: idx, ID: tu.ID, Name: tu.Name}) {
					return
				}
			}

		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch d := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if d.Text == "" {
					continue
				}
				if !emit(&llm.TextDelta{Text: d.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if d.PartialJSON == "" {
					continue
				}
				if _, ok := pending[idx]; !ok {
					continue
				}
				pending[idx]++
				if !emit(&llm.ToolInputDelta{Index: idx, InputDelta: d.PartialJSON}) {
					return
				}
			}

		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if fragments, ok := pending[idx]; ok {
				delete(pending, idx)
				if fragments == 0 {
					if !emit(&llm.ToolInputDelta{Index: idx, InputDelta: "{}"}) {
						return
					}
				}
			}

		case sdk.MessageDeltaEvent:
			if n := int(ev.Usage.InputTokens); n > 0 {
				usage.InputTokens = n
			}
			if n := int(ev.Usage.OutputTokens); n > 0 {
				usage.OutputTokens = n
			}

		case sdk.MessageStopEvent:
			if ctx.Err() != nil {
				// A cancelled consumer must not see a completion delta.
				return
			}
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			emit(&llm.DoneDelta{Usage: usage})
			return
		}
	}

	if err := stream.Err(); err != nil {
		emit(&llm.ErrorDelta{Err: &llm.TransportError{Provider: providerName, Err: err}})
		return
	}
	if ctx.Err() != nil {
		// Consumer cancelled; nothing left to report.
		return
	}
	// The provider closed the stream without a message_stop event. Treat it
	// as completion so consumers still see a terminal delta.
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	emit(&llm.DoneDelta{Usage: usage})
}
