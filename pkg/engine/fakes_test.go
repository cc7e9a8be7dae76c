package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
)

// memLog is an in-memory Store with the same ordering and concurrency
// semantics as the real client: dense zero-based positions per stream, a
// monotonic global position, optimistic version checks.
type memLog struct {
	mu      sync.Mutex
	streams map[string][]events.Event
	global  int64
}

func newMemLog() *memLog {
	return &memLog{streams: make(map[string][]events.Event)}
}

func (l *memLog) Write(_ context.Context, msg messagedb.WriteMessage) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stream := l.streams[msg.Stream]
	version := int64(len(stream)) - 1
	if msg.ExpectedVersion != nil && *msg.ExpectedVersion != version {
		return 0, &messagedb.OptimisticConcurrencyError{
			Stream:          msg.Stream,
			ExpectedVersion: *msg.ExpectedVersion,
			ActualVersion:   version,
		}
	}
	l.global++
	e := events.Event{
		ID:             uuid.NewString(),
		StreamName:     msg.Stream,
		Type:           msg.Type,
		Position:       version + 1,
		GlobalPosition: l.global,
		Data:           msg.Data,
		Metadata:       msg.Metadata,
		Time:           time.Now().UTC(),
	}
	l.streams[msg.Stream] = append(stream, e)
	return e.Position, nil
}

func (l *memLog) Append(ctx context.Context, stream string, payload events.Payload, metadata map[string]any) (int64, error) {
	return l.Write(ctx, messagedb.WriteMessage{
		Stream:   stream,
		Type:     payload.EventType(),
		Data:     payload.Data(),
		Metadata: metadata,
	})
}

func (l *memLog) ReadStream(_ context.Context, stream string, opts ...messagedb.ReadOption) ([]events.Event, error) {
	o := messagedb.ApplyReadOptions(opts...)
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []events.Event
	for _, e := range l.streams[stream] {
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

func (l *memLog) ReadAllStream(_ context.Context, stream string) ([]events.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.streams[stream]...), nil
}

// types returns the stream's event type sequence for order assertions.
func (l *memLog) types(stream string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.streams[stream]))
	for i, e := range l.streams[stream] {
		out[i] = e.Type
	}
	return out
}

// eventsOfType returns the stream's events of one type, in order.
func (l *memLog) eventsOfType(stream, eventType string) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.streams[stream] {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// modelTurn scripts the outcome of one Call invocation.
type modelTurn struct {
	response *llm.Response
	err      error
}

// scriptedModel is an llm.Client that replays scripted turns. Call consumes
// turns; CallStream consumes streamTurns (each a full delta script). A
// blocking stream turn holds after its deltas until the context is
// cancelled, then emits the cancellation as an ErrorDelta.
type scriptedModel struct {
	mu          sync.Mutex
	name        string
	turns       []modelTurn
	streamTurns [][]llm.Delta
	blockAfter  bool
	callCount   int
}

func newScriptedModel(turns ...modelTurn) *scriptedModel {
	return &scriptedModel{name: "scripted-model", turns: turns}
}

func textTurn(text string) modelTurn {
	return modelTurn{response: &llm.Response{Text: text, ModelName: "scripted-model"}}
}

func toolTurn(calls ...llm.ToolCall) modelTurn {
	return modelTurn{response: &llm.Response{ToolCalls: calls, ModelName: "scripted-model"}}
}

func errTurn(err error) modelTurn {
	return modelTurn{err: err}
}

func (m *scriptedModel) Call(_ context.Context, _ []llm.Message, _ ...llm.CallOption) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCount >= len(m.turns) {
		return nil, fmt.Errorf("scripted model exhausted after %d calls", m.callCount)
	}
	turn := m.turns[m.callCount]
	m.callCount++
	return turn.response, turn.err
}

func (m *scriptedModel) CallStream(ctx context.Context, _ []llm.Message, _ ...llm.CallOption) (<-chan llm.Delta, error) {
	m.mu.Lock()
	if m.callCount >= len(m.streamTurns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("scripted model exhausted after %d stream calls", m.callCount)
	}
	script := m.streamTurns[m.callCount]
	m.callCount++
	block := m.blockAfter
	m.mu.Unlock()

	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		for _, d := range script {
			select {
			case ch <- d:
			case <-ctx.Done():
				ch <- &llm.ErrorDelta{Err: ctx.Err()}
				return
			}
		}
		if block {
			<-ctx.Done()
			ch <- &llm.ErrorDelta{Err: ctx.Err()}
		}
	}()
	return ch, nil
}

func (m *scriptedModel) ModelName() string { return m.name }
func (m *scriptedModel) Close() error      { return nil }

func (m *scriptedModel) callsMade() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
