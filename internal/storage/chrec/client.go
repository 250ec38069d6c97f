package chrec

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/streamrec/streamrec/internal/retry"
)

// Client wraps the ClickHouse connection used by the sink.
type Client struct {
	conn clickhouse.Conn
	db   string
}

// NewClient connects to ClickHouse and verifies the connection with a
// retried ping before returning.
func NewClient(addr, database string) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	ctx := context.Background()
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return conn.Ping(ctx)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().
		Str("addr", addr).
		Str("database", database).
		Msg("Connected to ClickHouse")

	return &Client{conn: conn, db: database}, nil
}

// EnsureTable creates the entry table if it does not exist.
func (c *Client) EnsureTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			session   String,
			channel   String,
			entry_id  String,
			entry_ts  DateTime64(3),
			payload   String
		) ENGINE = MergeTree()
		ORDER BY (session, channel, entry_id)`, c.db, table)

	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", c.db, table, err)
	}
	return nil
}

// sendBatch inserts one session's buffered rows as a single batch.
func (c *Client) sendBatch(ctx context.Context, table, session string, rows []row) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.db, table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(session, r.channel, r.id.String(), r.id.Time(), string(r.payload)); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() clickhouse.Conn {
	return c.conn
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
