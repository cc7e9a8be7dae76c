package render

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
)

// memStore is an in-memory engine.Store with the real log's semantics:
// dense per-stream positions, a monotonic global position, optimistic
// version checks on Write.
type memStore struct {
	mu      sync.Mutex
	streams map[string][]events.Event
	global  int64
}

func newMemStore() *memStore {
	return &memStore{streams: make(map[string][]events.Event)}
}

func (s *memStore) Write(_ context.Context, msg messagedb.WriteMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[msg.Stream]
	version := int64(len(stream)) - 1
	if msg.ExpectedVersion != nil && *msg.ExpectedVersion != version {
		return 0, &messagedb.OptimisticConcurrencyError{
			Stream:          msg.Stream,
			ExpectedVersion: *msg.ExpectedVersion,
			ActualVersion:   version,
		}
	}
	s.global++
	e := events.Event{
		ID:             uuid.NewString(),
		StreamName:     msg.Stream,
		Type:           msg.Type,
		Position:       version + 1,
		GlobalPosition: s.global,
		Data:           msg.Data,
		Metadata:       msg.Metadata,
		Time:           time.Now().UTC(),
	}
	s.streams[msg.Stream] = append(stream, e)
	return e.Position, nil
}

func (s *memStore) Append(ctx context.Context, stream string, payload events.Payload, metadata map[string]any) (int64, error) {
	return s.Write(ctx, messagedb.WriteMessage{
		Stream:   stream,
		Type:     payload.EventType(),
		Data:     payload.Data(),
		Metadata: metadata,
	})
}

func (s *memStore) ReadStream(_ context.Context, stream string, opts ...messagedb.ReadOption) ([]events.Event, error) {
	o := messagedb.ApplyReadOptions(opts...)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []events.Event
	for _, e := range s.streams[stream] {
		if e.Position < o.From {
			continue
		}
		out = append(out, e)
		if int64(len(out)) >= o.Batch {
			break
		}
	}
	return out, nil
}

func (s *memStore) ReadAllStream(_ context.Context, stream string) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.streams[stream]...), nil
}

// seed appends payloads to a stream, one event per payload.
func (s *memStore) seed(t *testing.T, stream string, payloads ...events.Payload) {
	t.Helper()
	for _, p := range payloads {
		_, err := s.Append(context.Background(), stream, p, nil)
		require.NoError(t, err)
	}
}

// eventTypes lists a stream's event types in order.
func (s *memStore) eventTypes(stream string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.streams[stream]))
	for i, e := range s.streams[stream] {
		out[i] = e.Type
	}
	return out
}

// capturedCall records one model invocation for prompt assertions.
type capturedCall struct {
	messages []llm.Message
	opts     llm.CallOptions
}

type callResult struct {
	resp *llm.Response
	err  error
}

// scriptedClient is an llm.Client replaying canned results. Call pops from
// calls, CallStream pops from streams; running out of script fails the
// call, so a client with no script asserts it is never reached.
type scriptedClient struct {
	mu       sync.Mutex
	calls    []callResult
	streams  [][]llm.Delta
	requests []capturedCall
}

func newScriptedClient() *scriptedClient { return &scriptedClient{} }

// reply queues a plain text response for the next Call.
func (m *scriptedClient) reply(text string) *scriptedClient {
	m.calls = append(m.calls, callResult{resp: &llm.Response{Text: text, ModelName: m.ModelName()}})
	return m
}

// replyToolCall queues a tool-calling response for the next Call.
func (m *scriptedClient) replyToolCall(id, name string, args map[string]any) *scriptedClient {
	m.calls = append(m.calls, callResult{resp: &llm.Response{
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}},
		ModelName: m.ModelName(),
	}})
	return m
}

// replyErr queues a failing Call.
func (m *scriptedClient) replyErr(err error) *scriptedClient {
	m.calls = append(m.calls, callResult{err: err})
	return m
}

// stream queues the delta script for the next CallStream.
func (m *scriptedClient) stream(deltas ...llm.Delta) *scriptedClient {
	m.streams = append(m.streams, deltas)
	return m
}

func (m *scriptedClient) Call(_ context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, capturedCall{messages: messages, opts: llm.ApplyOptions(opts...)})
	if len(m.calls) == 0 {
		return nil, fmt.Errorf("scripted client has no reply left")
	}
	next := m.calls[0]
	m.calls = m.calls[1:]
	return next.resp, next.err
}

// CallStream hands back a pre-filled closed channel so delivery never
// depends on consumer timing.
func (m *scriptedClient) CallStream(_ context.Context, messages []llm.Message, opts ...llm.CallOption) (<-chan llm.Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, capturedCall{messages: messages, opts: llm.ApplyOptions(opts...)})
	if len(m.streams) == 0 {
		return nil, fmt.Errorf("scripted client has no stream left")
	}
	script := m.streams[0]
	m.streams = m.streams[1:]

	ch := make(chan llm.Delta, len(script))
	for _, d := range script {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func (m *scriptedClient) ModelName() string { return "scripted-client" }
func (m *scriptedClient) Close() error      { return nil }

// lastRequest returns the most recent model invocation.
func (m *scriptedClient) lastRequest() (capturedCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return capturedCall{}, false
	}
	return m.requests[len(m.requests)-1], true
}

func (m *scriptedClient) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
