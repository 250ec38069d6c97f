package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/streamrec/streamrec/internal/domain"
)

// Memory is an in-process stream store with the same read semantics
// as the networked implementation. Blocking reads wake on append via
// a broadcast channel that is closed and replaced under the lock.
type Memory struct {
	// Clock supplies the wall time used for auto-assigned IDs.
	// Tests override it to pin entry timestamps.
	Clock func() time.Time

	mu      sync.Mutex
	streams map[string][]domain.Entry
	notify  chan struct{}
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		Clock:   time.Now,
		streams: make(map[string][]domain.Entry),
		notify:  make(chan struct{}),
	}
}

// Append adds an entry to the stream and wakes blocked readers. A
// zero id is assigned from the clock; an explicit id must be greater
// than the last id in the stream.
func (m *Memory) Append(ctx context.Context, stream string, id domain.ID, fields map[string][]byte) (domain.ID, error) {
	copied := make(map[string][]byte, len(fields))
	for k, v := range fields {
		b := make([]byte, len(v))
		copy(b, v)
		copied[k] = b
	}

	m.mu.Lock()
	entries := m.streams[stream]

	var last domain.ID
	if len(entries) > 0 {
		last = entries[len(entries)-1].ID
	}

	if id.IsZero() {
		id = domain.IDAt(m.Clock())
		if !last.Before(id) {
			id = domain.ID{Ms: last.Ms, Seq: last.Seq + 1}
		}
	} else if !last.Before(id) {
		m.mu.Unlock()
		return domain.ID{}, fmt.Errorf("id %s is not greater than last id %s in stream %s", id, last, stream)
	}

	m.streams[stream] = append(entries, domain.Entry{Stream: stream, ID: id, Fields: copied})

	woken := m.notify
	m.notify = make(chan struct{})
	m.mu.Unlock()

	close(woken)
	return id, nil
}

// ReadNext returns every pending entry per stream, waiting up to
// block for at least one. Token "$" resolves against the stream tail
// when the call starts, like a server-side blocking read.
func (m *Memory) ReadNext(ctx context.Context, cursors CursorSet, block time.Duration) ([]Batch, CursorSet, error) {
	return m.read(ctx, cursors, block, false)
}

// ReadLatest reads like ReadNext but keeps only the newest pending
// entry per stream, advancing the cursor past the whole backlog.
func (m *Memory) ReadLatest(ctx context.Context, cursors CursorSet, block time.Duration) ([]Batch, CursorSet, error) {
	return m.read(ctx, cursors, block, true)
}

func (m *Memory) read(ctx context.Context, cursors CursorSet, block time.Duration, latestOnly bool) ([]Batch, CursorSet, error) {
	if len(cursors) == 0 {
		return nil, cursors, nil
	}

	m.mu.Lock()
	resolved := m.resolveTokens(cursors)

	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		batches, advanced := m.collectLocked(resolved, latestOnly)
		if len(batches) > 0 || block < 0 {
			m.mu.Unlock()
			// Streams that produced nothing keep their original
			// token, matching a server-side read reply.
			next := cursors.Clone()
			for id, pos := range advanced {
				next[id] = pos
			}
			return batches, next, nil
		}

		wake := m.notify
		m.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return nil, cursors, nil
		case <-ctx.Done():
			return nil, cursors, ctx.Err()
		}

		m.mu.Lock()
	}
}

// resolveTokens pins "$" to the current tail of each stream so the
// wait loop observes entries appended after the call began. Callers
// hold the lock.
func (m *Memory) resolveTokens(cursors CursorSet) CursorSet {
	resolved := cursors.Clone()
	for id, token := range resolved {
		if token != TokenLatest {
			continue
		}
		entries := m.streams[id]
		if len(entries) == 0 {
			resolved[id] = TokenStart
			continue
		}
		resolved[id] = entries[len(entries)-1].ID.String()
	}
	return resolved
}

// collectLocked gathers entries strictly after each cursor position
// and reports the position each non-empty stream advanced to.
// Callers hold the lock.
func (m *Memory) collectLocked(cursors CursorSet, latestOnly bool) ([]Batch, map[string]string) {
	var batches []Batch
	advanced := make(map[string]string)
	for _, id := range cursors.Streams() {
		after, err := domain.ParseID(cursors[id])
		if err != nil {
			// Unparseable cursors never match anything.
			continue
		}

		entries := m.streams[id]
		i := sort.Search(len(entries), func(i int) bool {
			return after.Before(entries[i].ID)
		})
		if i == len(entries) {
			continue
		}

		pending := entries[i:]
		advanced[id] = pending[len(pending)-1].ID.String()
		if latestOnly {
			pending = pending[len(pending)-1:]
		}
		b := Batch{Stream: id, Entries: make([]domain.Entry, len(pending))}
		copy(b.Entries, pending)
		batches = append(batches, b)
	}
	return batches, advanced
}

// EnumerateStreams lists the stream ids present in the store.
func (m *Memory) EnumerateStreams(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len reports how many entries a stream holds.
func (m *Memory) Len(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[stream])
}
