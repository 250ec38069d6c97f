package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/retry"
)

// Redis reads and appends stream entries over a live connection.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the store and verifies the connection with a
// retried ping before returning.
func NewRedis(host string, port, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", host, port),
		DB:   db,
	})

	ctx := context.Background()
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().
		Str("addr", client.Options().Addr).
		Int("db", db).
		Msg("Connected to Redis")

	return &Redis{client: client}, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// ReadNext issues one XREAD across the cursor set. The block duration
// maps directly onto the server-side BLOCK: negative reads without
// blocking, zero blocks until data arrives, positive bounds the wait.
func (r *Redis) ReadNext(ctx context.Context, cursors CursorSet, block time.Duration) ([]Batch, CursorSet, error) {
	return r.read(ctx, cursors, block, false)
}

// ReadLatest reads like ReadNext but keeps only the newest pending
// entry per stream. The cursor still advances past the whole backlog.
func (r *Redis) ReadLatest(ctx context.Context, cursors CursorSet, block time.Duration) ([]Batch, CursorSet, error) {
	return r.read(ctx, cursors, block, true)
}

func (r *Redis) read(ctx context.Context, cursors CursorSet, block time.Duration, latestOnly bool) ([]Batch, CursorSet, error) {
	if len(cursors) == 0 {
		return nil, cursors, nil
	}

	ids := cursors.Streams()
	args := make([]string, 0, 2*len(ids))
	args = append(args, ids...)
	for _, id := range ids {
		args = append(args, cursors[id])
	}

	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: args,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		// Nothing arrived within the block window.
		return nil, cursors, nil
	}
	if err != nil {
		return nil, cursors, fmt.Errorf("xread: %w", err)
	}

	next := cursors.Clone()
	batches := make([]Batch, 0, len(res))
	for _, s := range res {
		if len(s.Messages) == 0 {
			continue
		}
		b := Batch{Stream: s.Stream, Entries: make([]domain.Entry, 0, len(s.Messages))}
		for _, m := range s.Messages {
			id, err := domain.ParseID(m.ID)
			if err != nil {
				return nil, cursors, fmt.Errorf("stream %s returned malformed id: %w", s.Stream, err)
			}
			b.Entries = append(b.Entries, domain.Entry{
				Stream: s.Stream,
				ID:     id,
				Fields: decodeFields(m.Values),
			})
		}
		next[s.Stream] = b.Entries[len(b.Entries)-1].ID.String()
		if latestOnly {
			b.Entries = b.Entries[len(b.Entries)-1:]
		}
		batches = append(batches, b)
	}
	return batches, next, nil
}

// EnumerateStreams walks the keyspace with SCAN TYPE stream.
func (r *Redis) EnumerateStreams(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := r.client.ScanType(ctx, cursor, "", 100, "stream").Result()
		if err != nil {
			return nil, fmt.Errorf("scan stream keys: %w", err)
		}
		ids = append(ids, keys...)
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

// Append XADDs the fields, with an auto-assigned ID when id is zero.
func (r *Redis) Append(ctx context.Context, stream string, id domain.ID, fields map[string][]byte) (domain.ID, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	idArg := "*"
	if !id.IsZero() {
		idArg = id.String()
	}

	res, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     idArg,
		Values: values,
	}).Result()
	if err != nil {
		return domain.ID{}, fmt.Errorf("xadd %s: %w", stream, err)
	}
	return domain.ParseID(res)
}

func decodeFields(values map[string]interface{}) map[string][]byte {
	fields := make(map[string][]byte, len(values))
	for k, v := range values {
		switch v := v.(type) {
		case string:
			fields[k] = []byte(v)
		case []byte:
			fields[k] = v
		default:
			fields[k] = []byte(fmt.Sprint(v))
		}
	}
	return fields
}
