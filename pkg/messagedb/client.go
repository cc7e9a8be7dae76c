// Package messagedb is the event log client: a pooled connection to a
// Message-DB-style Postgres store exposing append with optimistic
// concurrency, ordered stream reads, category reads across streams, and
// last-message lookup.
package messagedb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zcox/messagedb-agent-sub000/pkg/events"
)

// NoStream is the expected version asserting that the target stream must be
// empty.
const NoStream int64 = -1

// Client wraps a bounded pgx pool over the message store. It is safe for
// concurrent use.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient connects to the store, verifies connectivity, and unless
// cfg.SkipMigrations installs the message-store schema.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if !cfg.SkipMigrations {
		if err := runMigrations(cfg); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Client{pool: pool}, nil
}

// NewClientFromPool wraps an existing pool (useful for testing). The caller
// retains ownership of the pool's lifecycle.
func NewClientFromPool(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Pool returns the underlying connection pool for direct queries, such as
// subscriber position tables and ad-hoc reporting.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// WriteMessage describes one event to append.
type WriteMessage struct {
	Stream   string
	Type     string
	Data     map[string]any
	Metadata map[string]any

	// ExpectedVersion, when set, makes the append conditional on the
	// stream's last position. NoStream (-1) requires an empty stream.
	ExpectedVersion *int64
}

// ExpectVersion is a convenience for populating WriteMessage.ExpectedVersion.
func ExpectVersion(v int64) *int64 {
	return &v
}

// Write appends one event and returns its stream position. A version
// conflict surfaces as *OptimisticConcurrencyError.
func (c *Client) Write(ctx context.Context, msg WriteMessage) (int64, error) {
	if msg.Stream == "" {
		return 0, fmt.Errorf("stream name must not be empty")
	}
	if msg.Type == "" {
		return 0, fmt.Errorf("event type must not be empty")
	}

	data, err := json.Marshal(orEmptyMap(msg.Data))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event data: %w", err)
	}
	var metadata []byte
	if msg.Metadata != nil {
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	var position int64
	err = c.pool.QueryRow(ctx,
		`SELECT message_store.write_message($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), msg.Stream, msg.Type, data, metadata, msg.ExpectedVersion,
	).Scan(&position)
	if err != nil {
		if oce := parseConcurrencyError(msg.Stream, err); oce != nil {
			return 0, oce
		}
		return 0, fmt.Errorf("failed to write %s to %q: %w", msg.Type, msg.Stream, err)
	}
	return position, nil
}

// Append writes a typed payload, a convenience over Write.
func (c *Client) Append(ctx context.Context, stream string, payload events.Payload, metadata map[string]any) (int64, error) {
	return c.Write(ctx, WriteMessage{
		Stream:   stream,
		Type:     payload.EventType(),
		Data:     payload.Data(),
		Metadata: metadata,
	})
}

// ReadOptions is the resolved form of a stream read's options. Exported so
// alternate Store implementations can interpret the same options.
type ReadOptions struct {
	From  int64
	Batch int64
}

// ReadOption adjusts a stream read.
type ReadOption func(*ReadOptions)

// ApplyReadOptions resolves opts over the defaults (position 0, batch 1000).
func ApplyReadOptions(opts ...ReadOption) ReadOptions {
	o := ReadOptions{From: 0, Batch: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FromPosition starts the read at the given stream position (default 0).
func FromPosition(p int64) ReadOption {
	return func(o *ReadOptions) { o.From = p }
}

// BatchSize caps the number of events returned (default 1000).
func BatchSize(n int64) ReadOption {
	return func(o *ReadOptions) { o.Batch = n }
}

// ReadStream returns up to the batch size of events from one stream in
// position order. A missing stream reads as empty.
func (c *Client) ReadStream(ctx context.Context, stream string, opts ...ReadOption) ([]events.Event, error) {
	o := ApplyReadOptions(opts...)

	rows, err := c.pool.Query(ctx,
		`SELECT id, stream_name, type, position, global_position, data, metadata, time
		 FROM message_store.get_stream_messages($1, $2, $3)`,
		stream, o.From, o.Batch,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %q: %w", stream, err)
	}
	return scanEvents(rows)
}

// ReadAllStream reads a stream to its end, batching internally.
func (c *Client) ReadAllStream(ctx context.Context, stream string) ([]events.Event, error) {
	const batch = int64(1000)
	var all []events.Event
	from := int64(0)
	for {
		page, err := c.ReadStream(ctx, stream, FromPosition(from), BatchSize(batch))
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if int64(len(page)) < batch {
			return all, nil
		}
		from = page[len(page)-1].Position + 1
	}
}

// LastStreamMessage returns the event with the greatest position on the
// stream, or nil if the stream is empty. Single-row lookup on the server.
func (c *Client) LastStreamMessage(ctx context.Context, stream string) (*events.Event, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, stream_name, type, position, global_position, data, metadata, time
		 FROM message_store.get_last_stream_message($1)`,
		stream,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read last message of %q: %w", stream, err)
	}
	evts, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(evts) == 0 {
		return nil, nil
	}
	return &evts[0], nil
}

// CategoryReadOptions is the resolved form of a category read's options.
type CategoryReadOptions struct {
	From        int64
	Batch       int64
	Correlation *string
	Member      *int64
	Size        *int64
	Condition   *string
}

// CategoryReadOption adjusts a category read.
type CategoryReadOption func(*CategoryReadOptions)

// ApplyCategoryReadOptions resolves opts over the defaults (global position 0,
// batch 1000, no correlation, consumer group, or condition).
func ApplyCategoryReadOptions(opts ...CategoryReadOption) CategoryReadOptions {
	o := CategoryReadOptions{From: 0, Batch: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FromGlobalPosition starts the read at the given global position (default 0).
func FromGlobalPosition(p int64) CategoryReadOption {
	return func(o *CategoryReadOptions) { o.From = p }
}

// CategoryBatchSize caps the number of events returned (default 1000).
func CategoryBatchSize(n int64) CategoryReadOption {
	return func(o *CategoryReadOptions) { o.Batch = n }
}

// WithCorrelation narrows the read to events whose metadata references the
// given correlation category.
func WithCorrelation(category string) CategoryReadOption {
	return func(o *CategoryReadOptions) { o.Correlation = &category }
}

// WithConsumerGroup partitions the category's streams into size disjoint
// groups and returns only those belonging to member. Partitioning is by
// stream, so every event of a stream lands in the same group.
func WithConsumerGroup(member, size int64) CategoryReadOption {
	return func(o *CategoryReadOptions) {
		o.Member = &member
		o.Size = &size
	}
}

// WithCondition applies a server-side SQL predicate. The server must have
// message_store.sql_condition activated or the read fails with
// ErrSQLConditionDisabled.
func WithCondition(condition string) CategoryReadOption {
	return func(o *CategoryReadOptions) { o.Condition = &condition }
}

// ReadCategory returns up to the batch size of events across all streams in
// the category, in global-position order.
func (c *Client) ReadCategory(ctx context.Context, category string, opts ...CategoryReadOption) ([]events.Event, error) {
	o := ApplyCategoryReadOptions(opts...)
	if err := validateConsumerGroup(o.Member, o.Size); err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx,
		`SELECT id, stream_name, type, position, global_position, data, metadata, time
		 FROM message_store.get_category_messages($1, $2, $3, $4, $5, $6, $7)`,
		category, o.From, o.Batch, o.Correlation, o.Member, o.Size, o.Condition,
	)
	if err != nil {
		if isConditionDisabledError(err) {
			return nil, fmt.Errorf("category read of %q: %w", category, ErrSQLConditionDisabled)
		}
		return nil, fmt.Errorf("failed to read category %q: %w", category, err)
	}
	evts, err := scanEvents(rows)
	if err != nil && isConditionDisabledError(err) {
		return nil, fmt.Errorf("category read of %q: %w", category, ErrSQLConditionDisabled)
	}
	return evts, err
}

func validateConsumerGroup(member, size *int64) error {
	if (member == nil) != (size == nil) {
		return fmt.Errorf("consumer group member and size must be provided together")
	}
	if member == nil {
		return nil
	}
	if *size <= 0 {
		return fmt.Errorf("consumer group size must be positive, got %d", *size)
	}
	if *member < 0 || *member >= *size {
		return fmt.Errorf("consumer group member %d out of range for size %d", *member, *size)
	}
	return nil
}

// scanEvents drains the store's message rows into envelopes. The store
// returns data and metadata as JSON text.
func scanEvents(rows pgx.Rows) ([]events.Event, error) {
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e        events.Event
			data     *string
			metadata *string
			ts       time.Time
		)
		if err := rows.Scan(&e.ID, &e.StreamName, &e.Type, &e.Position, &e.GlobalPosition, &data, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		e.Time = ts.UTC()
		if data != nil && *data != "" {
			if err := json.Unmarshal([]byte(*data), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode data of event %s: %w", e.ID, err)
			}
		}
		if metadata != nil && *metadata != "" {
			if err := json.Unmarshal([]byte(*metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of event %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message rows: %w", err)
	}
	return out, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
