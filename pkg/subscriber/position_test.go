package subscriber

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

func TestMemoryPositionStoreDefaultsToZero(t *testing.T) {
	store := NewMemoryPositionStore()
	pos, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
}

func TestMemoryPositionStoreRoundTrip(t *testing.T) {
	store := NewMemoryPositionStore()
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "sub-a", 42))
	require.NoError(t, store.Update(ctx, "sub-b", 7))
	require.NoError(t, store.Update(ctx, "sub-a", 43))

	pos, err := store.Get(ctx, "sub-a")
	require.NoError(t, err)
	assert.Equal(t, int64(43), pos)

	pos, err = store.Get(ctx, "sub-b")
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)
}

func TestPositionStreamName(t *testing.T) {
	assert.Equal(t, "subscriberPosition-reporter", PositionStream("reporter"))
}

// fakePositionLog is an in-memory positionLog for StreamPositionStore tests.
type fakePositionLog struct {
	mu      sync.Mutex
	streams map[string][]events.Event
}

func newFakePositionLog() *fakePositionLog {
	return &fakePositionLog{streams: make(map[string][]events.Event)}
}

func (f *fakePositionLog) Append(_ context.Context, stream string, payload events.Payload, metadata map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := int64(len(f.streams[stream]))
	f.streams[stream] = append(f.streams[stream], events.Event{
		ID:         uuid.NewString(),
		StreamName: stream,
		Type:       payload.EventType(),
		Position:   pos,
		Data:       payload.Data(),
		Metadata:   metadata,
		Time:       time.Now().UTC(),
	})
	return pos, nil
}

func (f *fakePositionLog) LastStreamMessage(_ context.Context, stream string) (*events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evts := f.streams[stream]
	if len(evts) == 0 {
		return nil, nil
	}
	last := evts[len(evts)-1]
	return &last, nil
}

func TestStreamPositionStoreDefaultsToZero(t *testing.T) {
	store := NewStreamPositionStore(newFakePositionLog())
	pos, err := store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
}

func TestStreamPositionStoreRoundTrip(t *testing.T) {
	log := newFakePositionLog()
	store := NewStreamPositionStore(log)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "reporter", 10))
	require.NoError(t, store.Update(ctx, "reporter", 25))

	pos, err := store.Get(ctx, "reporter")
	require.NoError(t, err)
	assert.Equal(t, int64(25), pos)

	// Each update appends one PositionUpdated event; Get reads only the last.
	evts := log.streams["subscriberPosition-reporter"]
	require.Len(t, evts, 2)
	assert.Equal(t, events.TypePositionUpdated, evts[0].Type)
	assert.Equal(t, "reporter", evts[1].Data["subscriber_id"])
	assert.Equal(t, int64(25), evts[1].Data["position"])
}

func TestStreamPositionStoreRejectsNegativePosition(t *testing.T) {
	store := NewStreamPositionStore(newFakePositionLog())
	err := store.Update(context.Background(), "reporter", -1)
	require.Error(t, err)
}
