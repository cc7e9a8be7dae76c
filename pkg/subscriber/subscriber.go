// Package subscriber tails a Message DB category and dispatches each new
// event to a handler, checkpointing its read position between polls.
//
// Delivery is at-least-once: the position is persisted after a batch has
// been dispatched, so a crash between dispatch and checkpoint replays the
// batch on restart. Handler errors do not stop the subscription; they are
// logged with event context and the position still advances.
package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
)

// Default polling parameters.
const (
	DefaultBatchSize    int64 = 100
	DefaultPollInterval       = time.Second
)

// CategoryReader is the slice of the message store the subscriber reads from.
// *messagedb.Client satisfies it.
type CategoryReader interface {
	ReadCategory(ctx context.Context, category string, opts ...messagedb.CategoryReadOption) ([]events.Event, error)
}

// HandlerFunc processes one event. A returned error is logged (and surfaced
// through Config.OnHandlerError when set) but does not interrupt the batch
// or halt the subscription.
type HandlerFunc func(ctx context.Context, e events.Event) error

// Config describes one category subscription.
type Config struct {
	// Category to poll, e.g. "agent".
	Category string

	// SubscriberID keys the durable position in the PositionStore.
	SubscriberID string

	// Handler receives each event in global-position order.
	Handler HandlerFunc

	// BatchSize caps events fetched per poll. Defaults to DefaultBatchSize.
	BatchSize int64

	// PollInterval is the idle wait after a poll that returns no events.
	// Defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Positions stores the next global position to read. Defaults to an
	// in-memory store, which restarts from 0 on every process start.
	Positions PositionStore

	// OnHandlerError, when set, observes handler failures after they are
	// logged. The subscription keeps running either way.
	OnHandlerError func(e events.Event, err error)
}

// Subscriber polls one category and feeds the configured handler.
type Subscriber struct {
	reader   CategoryReader
	cfg      Config
	log      *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New validates cfg, fills defaults, and builds a Subscriber over reader.
func New(reader CategoryReader, cfg Config) (*Subscriber, error) {
	if reader == nil {
		return nil, fmt.Errorf("subscriber: reader must not be nil")
	}
	if cfg.Category == "" {
		return nil, fmt.Errorf("subscriber: category must not be empty")
	}
	if cfg.SubscriberID == "" {
		return nil, fmt.Errorf("subscriber: subscriber id must not be empty")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("subscriber: handler must not be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Positions == nil {
		cfg.Positions = NewMemoryPositionStore()
	}
	return &Subscriber{
		reader: reader,
		cfg:    cfg,
		log:    slog.With("subscriber_id", cfg.SubscriberID, "category", cfg.Category),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins the polling loop in a goroutine.
func (s *Subscriber) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight batch to finish.
// It is safe to call Stop multiple times.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// run is the main polling loop.
func (s *Subscriber) run(ctx context.Context) {
	defer s.wg.Done()

	position, err := s.cfg.Positions.Get(ctx, s.cfg.SubscriberID)
	if err != nil {
		s.log.Error("Failed to load subscriber position, starting from 0", "error", err)
		position = 0
	}
	s.log.Info("Subscriber started", "position", position)

	for {
		select {
		case <-s.stopCh:
			s.log.Info("Subscriber shutting down")
			return
		case <-ctx.Done():
			s.log.Info("Context cancelled, subscriber shutting down")
			return
		default:
			n, next, err := s.poll(ctx, position)
			if err != nil {
				s.log.Error("Poll failed", "error", err, "position", position)
				s.sleep(s.cfg.PollInterval)
				continue
			}
			position = next
			if n == 0 {
				s.sleep(s.cfg.PollInterval)
			}
		}
	}
}

// poll reads one batch starting at position, dispatches every event, and
// checkpoints the position past the batch. It returns the number of events
// dispatched and the next position to read from.
func (s *Subscriber) poll(ctx context.Context, position int64) (int, int64, error) {
	batch, err := s.reader.ReadCategory(ctx, s.cfg.Category,
		messagedb.FromGlobalPosition(position),
		messagedb.CategoryBatchSize(s.cfg.BatchSize),
	)
	if err != nil {
		return 0, position, fmt.Errorf("reading category %q: %w", s.cfg.Category, err)
	}
	if len(batch) == 0 {
		return 0, position, nil
	}

	next := position
	for _, e := range batch {
		s.dispatch(ctx, e)
		if e.GlobalPosition >= next {
			next = e.GlobalPosition + 1
		}
	}

	if err := s.cfg.Positions.Update(ctx, s.cfg.SubscriberID, next); err != nil {
		return len(batch), position, fmt.Errorf("updating position to %d: %w", next, err)
	}
	return len(batch), next, nil
}

// dispatch runs the handler for one event.
func (s *Subscriber) dispatch(ctx context.Context, e events.Event) {
	if err := s.cfg.Handler(ctx, e); err != nil {
		s.log.Error("Handler failed",
			"error", err,
			"event_type", e.Type,
			"stream", e.StreamName,
			"global_position", e.GlobalPosition)
		if s.cfg.OnHandlerError != nil {
			s.cfg.OnHandlerError(e, err)
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (s *Subscriber) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}
