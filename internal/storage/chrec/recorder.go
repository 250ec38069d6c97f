// Package chrec persists recording sessions as rows of a ClickHouse
// table instead of local archives. Payload encoding matches the zip
// sink, so a session reads back identically from either backend.
//
// Loss bound: a batch that fails to send is dropped, not retried,
// because the read cursors have already advanced past its entries.
// This is the same accepted bound as the archive sink's unflushed
// buffer on abrupt termination; the failure is surfaced to the loop,
// which stops rather than record past a hole.
package chrec

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/recorder"
)

type row struct {
	channel string
	id      domain.ID
	payload []byte
}

// batchSender ships one buffered batch to the table.
type batchSender interface {
	sendBatch(ctx context.Context, table, session string, rows []row) error
}

// Recorder is the ClickHouse-backed session sink. Rows buffer in
// memory and are sent as one batch INSERT when the entry count or
// byte thresholds are reached, mirroring the archive rotation bounds.
type Recorder struct {
	send    batchSender
	table   string
	mode    recorder.Mode
	maxLen  int
	maxSize int64

	session string
	open    bool
	batch   []row
	size    int64
	stats   domain.SessionStats
}

// New returns a recorder inserting into the given table, which is
// created if missing.
func New(client *Client, table string, mode recorder.Mode, maxLen int, maxSize int64) (*Recorder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureTable(ctx, table); err != nil {
		return nil, err
	}
	return &Recorder{send: client, table: table, mode: mode, maxLen: maxLen, maxSize: maxSize}, nil
}

// EnsureWriter opens the session. Unlike the archive sink there is no
// directory to claim; a name collision just adds rows under the same
// session key.
func (r *Recorder) EnsureWriter(session string) error {
	if r.open {
		return nil
	}
	r.session = session
	r.open = true
	r.stats = domain.SessionStats{Channels: make(map[string]domain.ChannelStats)}
	return nil
}

// Write buffers one entry and flushes when a threshold is reached.
func (r *Recorder) Write(e domain.Entry) error {
	if !r.open {
		return fmt.Errorf("no session open, stream %s entry %s dropped", e.Stream, e.ID)
	}

	payload, err := recorder.EncodeEntry(e, r.mode)
	if err != nil {
		return err
	}

	r.batch = append(r.batch, row{channel: e.Stream, id: e.ID, payload: payload})
	r.size += int64(len(payload))

	cs := r.stats.Channels[e.Stream]
	cs.Entries++
	cs.Bytes += uint64(len(payload))
	r.stats.Channels[e.Stream] = cs
	r.stats.Entries++
	r.stats.Bytes += uint64(len(payload))

	if len(r.batch) >= r.maxLen || r.size >= r.maxSize {
		return r.flush(context.Background())
	}
	return nil
}

// Stats reports what the open session absorbed so far.
func (r *Recorder) Stats() domain.SessionStats {
	return r.stats
}

// flush sends the buffered rows as one batch INSERT. The buffer is
// snapshotted and cleared before the send so a failed send does not
// double-insert when the caller flushes again; see the package doc
// for the resulting loss bound.
func (r *Recorder) flush(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}

	snapshot := make([]row, len(r.batch))
	copy(snapshot, r.batch)
	r.batch = r.batch[:0]
	r.size = 0

	if err := r.send.sendBatch(ctx, r.table, r.session, snapshot); err != nil {
		return err
	}

	log.Debug().
		Str("session", r.session).
		Int("rows", len(snapshot)).
		Msg("Batch sent to ClickHouse")
	return nil
}

// Close flushes the remaining rows and ends the open session.
func (r *Recorder) Close() error {
	if !r.open {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.flush(ctx)
	r.open = false
	r.session = ""
	return err
}
