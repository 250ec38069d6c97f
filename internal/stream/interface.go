// Package stream reads and appends entries of append-only streams.
// Two implementations share the same contracts: Redis speaks to a
// live store over the network, Memory is an in-process store used by
// tests and as a replay target.
package stream

import (
	"context"
	"sort"
	"time"

	"github.com/streamrec/streamrec/internal/domain"
)

// Position tokens a cursor may hold besides a concrete entry ID.
const (
	// TokenLatest reads only entries appended after the read begins.
	TokenLatest = "$"
	// TokenStart reads the stream from its first entry.
	TokenStart = "0"
)

// NoBlock makes a read return immediately when nothing is pending.
// A zero block waits indefinitely; a positive block bounds the wait.
const NoBlock = time.Duration(-1)

// CursorSet maps stream ids to the position the next read resumes
// from. Reads treat it as a value: the updated set is returned, the
// input is never mutated.
type CursorSet map[string]string

// Clone returns an independent copy of the set.
func (c CursorSet) Clone() CursorSet {
	out := make(CursorSet, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Streams returns the tracked stream ids in stable order.
func (c CursorSet) Streams() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Batch groups the entries returned from one stream by a single read.
// Entries are ordered by ID.
type Batch struct {
	Stream  string
	Entries []domain.Entry
}

// Reader reads entries from a set of streams.
//
// Both read calls take the cursor set and a block duration, wait up
// to the block for at least one entry across the set, and return
// per-stream batches plus the updated cursor set. Cursors advance
// past the last entry returned for their stream and are otherwise
// unchanged, so chained calls never skip or duplicate an entry.
// An empty result with a nil error means the wait elapsed idle.
type Reader interface {
	// ReadNext returns every pending entry per stream.
	ReadNext(ctx context.Context, cursors CursorSet, block time.Duration) ([]Batch, CursorSet, error)

	// ReadLatest returns only the most recent pending entry per
	// stream, advancing the cursor past it and everything before it.
	ReadLatest(ctx context.Context, cursors CursorSet, block time.Duration) ([]Batch, CursorSet, error)

	// EnumerateStreams lists the ids of all stream keys in the store.
	EnumerateStreams(ctx context.Context) ([]string, error)
}

// Appender appends entries to a stream. A zero id lets the store
// assign the next one; an explicit id must be greater than every id
// already in the stream.
type Appender interface {
	Append(ctx context.Context, stream string, id domain.ID, fields map[string][]byte) (domain.ID, error)
}
