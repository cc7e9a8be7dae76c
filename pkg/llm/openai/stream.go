package openai

import (
	"context"
	"errors"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
)

// streamBuffer sizes the delta channel so the pump stays ahead of slow
// consumers without unbounded memory.
const streamBuffer = 32

// chatStream is the part of the SDK stream the pump consumes. It is
// satisfied by *openai.ChatCompletionStream.
type chatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// pumpStream translates streamed chunks into deltas until the stream hits
// io.EOF, then closes out. Tool calls arrive incrementally: the first chunk
// for an index carries the id and function name, later chunks carry argument
// fragments. A tool call that ends without any fragment gets a single "{}"
// fragment so consumers always join to valid JSON.
func pumpStream(ctx context.Context, stream chatStream, out chan<- llm.Delta) {
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
	// Announced tool calls by index, tracking how many argument fragments
	// each one has produced.
	announced := make(map[int]int)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if ctx.Err() != nil {
					// A cancelled consumer must not see a completion delta.
					return
				}
				var empty []int
				for idx, fragments := range announced {
					if fragments == 0 {
						empty = append(empty, idx)
					}
				}
				sort.Ints(empty)
				for _, idx := range empty {
					if !emit(&llm.ToolInputDelta{Index: idx, InputDelta: "{}"}) {
						return
					}
				}
				if usage.TotalTokens == 0 {
					usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				}
				emit(&llm.DoneDelta{Usage: usage})
				return
			}
			if ctx.Err() != nil {
				// Consumer cancelled; nothing left to report.
				return
			}
			emit(&llm.ErrorDelta{Err: &llm.TransportError{Provider: providerName, Err: err}})
			return
		}

		// The usage chunk arrives last with no choices.
		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
			usage.TotalTokens = resp.Usage.TotalTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			if !emit(&llm.TextDelta{Text: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if _, ok := announced[idx]; !ok {
				announced[idx] = 0
				if !emit(&llm.ToolCallDelta{Index: idx, ID: tc.ID, Name: tc.Function.Name}) {
					return
				}
			}
			if tc.Function.Arguments != "" {
				announced[idx]++
				if !emit(&llm.ToolInputDelta{Index: idx, InputDelta: tc.Function.Arguments}) {
					return
				}
			}
		}
	}
}
