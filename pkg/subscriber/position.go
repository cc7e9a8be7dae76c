package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// PositionStore persists the next global position a subscriber reads from.
// Get returns 0 for a subscriber with no stored position.
type PositionStore interface {
	Get(ctx context.Context, subscriberID string) (int64, error)
	Update(ctx context.Context, subscriberID string, position int64) error
}

// MemoryPositionStore keeps positions in process memory. Positions are lost
// on restart, so every subscription replays from 0. Useful for tests and
// throwaway consumers.
type MemoryPositionStore struct {
	mu        sync.RWMutex
	positions map[string]int64
}

// NewMemoryPositionStore builds an empty in-memory store.
func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{positions: make(map[string]int64)}
}

// Get returns the stored position for subscriberID, or 0.
func (s *MemoryPositionStore) Get(_ context.Context, subscriberID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[subscriberID], nil
}

// Update stores position for subscriberID.
func (s *MemoryPositionStore) Update(_ context.Context, subscriberID string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[subscriberID] = position
	return nil
}

// PositionStream returns the stream holding a subscriber's checkpoints.
func PositionStream(subscriberID string) string {
	return "subscriberPosition-" + subscriberID
}

// positionLog is the slice of the message store a StreamPositionStore needs.
type positionLog interface {
	Append(ctx context.Context, stream string, payload events.Payload, metadata map[string]any) (int64, error)
	LastStreamMessage(ctx context.Context, stream string) (*events.Event, error)
}

// StreamPositionStore checkpoints positions as PositionUpdated events on a
// dedicated stream per subscriber, subscriberPosition-<id>. Get reads only
// the last message of that stream.
type StreamPositionStore struct {
	store positionLog
}

// NewStreamPositionStore builds a store writing through the given client.
func NewStreamPositionStore(store positionLog) *StreamPositionStore {
	return &StreamPositionStore{store: store}
}

// Get returns the position recorded by the latest PositionUpdated event, or
// 0 when the stream is empty.
func (s *StreamPositionStore) Get(ctx context.Context, subscriberID string) (int64, error) {
	last, err := s.store.LastStreamMessage(ctx, PositionStream(subscriberID))
	if err != nil {
		return 0, fmt.Errorf("reading position stream: %w", err)
	}
	if last == nil {
		return 0, nil
	}
	p := events.Decode(*last)
	updated, ok := p.(events.PositionUpdated)
	if !ok {
		return 0, fmt.Errorf("unexpected event type %q on %s", last.Type, PositionStream(subscriberID))
	}
	return updated.Position, nil
}

// Update appends a PositionUpdated event to the subscriber's position stream.
func (s *StreamPositionStore) Update(ctx context.Context, subscriberID string, position int64) error {
	payload, err := events.NewPositionUpdated(subscriberID, position)
	if err != nil {
		return err
	}
	if _, err := s.store.Append(ctx, PositionStream(subscriberID), payload, nil); err != nil {
		return fmt.Errorf("writing position event: %w", err)
	}
	return nil
}

// TablePositionStore keeps one row per subscriber in a plain Postgres table,
// outside the message store schema. The table is created on first use.
type TablePositionStore struct {
	pool *pgxpool.Pool
	once sync.Once
	err  error
}

// NewTablePositionStore builds a store over the given connection pool.
func NewTablePositionStore(pool *pgxpool.Pool) *TablePositionStore {
	return &TablePositionStore{pool: pool}
}

func (s *TablePositionStore) ensureTable(ctx context.Context) error {
	s.once.Do(func() {
		_, s.err = s.pool.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS subscriber_positions (
				subscriber_id TEXT PRIMARY KEY,
				position      BIGINT NOT NULL,
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
			)`)
	})
	if s.err != nil {
		return fmt.Errorf("creating subscriber_positions table: %w", s.err)
	}
	return nil
}

// Get returns the stored position for subscriberID, or 0 when absent.
func (s *TablePositionStore) Get(ctx context.Context, subscriberID string) (int64, error) {
	if err := s.ensureTable(ctx); err != nil {
		return 0, err
	}
	var position int64
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM subscriber_positions WHERE subscriber_id = $1`,
		subscriberID,
	).Scan(&position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading subscriber position: %w", err)
	}
	return position, nil
}

// Update upserts the position row for subscriberID.
func (s *TablePositionStore) Update(ctx context.Context, subscriberID string, position int64) error {
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriber_positions (subscriber_id, position, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (subscriber_id)
		DO UPDATE SET position = EXCLUDED.position, updated_at = now()`,
		subscriberID, position,
	)
	if err != nil {
		return fmt.Errorf("upserting subscriber position: %w", err)
	}
	return nil
}
