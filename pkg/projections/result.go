package projections

import (
	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// Result carries a projected value together with how much of the stream
// produced it, for callers that cache views and need to know where to resume
// reading.
type Result[T any] struct {
	Value        T
	EventCount   int
	LastPosition *int64 // stream position of the last event, nil when empty
}

// WithMetadata runs a projection and records the input's extent alongside
// the value.
func WithMetadata[T any](evts []events.Event, projection func([]events.Event) T) Result[T] {
	r := Result[T]{Value: projection(evts), EventCount: len(evts)}
	if len(evts) > 0 {
		pos := evts[len(evts)-1].Position
		r.LastPosition = &pos
	}
	return r
}
