// Package ctl reads and writes the recording signal: a control stream
// whose latest entry carries the active session name in the
// conventional data field, or an empty value when none is active.
package ctl

import (
	"context"
	"fmt"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/stream"
)

// Start signals a session start (or rename) and returns the id the
// signal was appended under, which is the session's start boundary.
func Start(ctx context.Context, a stream.Appender, key, name string) (domain.ID, error) {
	if name == "" {
		return domain.ID{}, fmt.Errorf("session name must not be empty")
	}
	id, err := a.Append(ctx, key, domain.ID{}, map[string][]byte{
		domain.DataField: []byte(name),
	})
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to signal session start: %w", err)
	}
	return id, nil
}

// Stop signals the end of the active session.
func Stop(ctx context.Context, a stream.Appender, key string) (domain.ID, error) {
	id, err := a.Append(ctx, key, domain.ID{}, map[string][]byte{
		domain.DataField: nil,
	})
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to signal session stop: %w", err)
	}
	return id, nil
}

// Current returns the active session name and the id of the signal
// that set it. An empty name means no session is active; a zero id
// means the control stream has never carried a signal.
func Current(ctx context.Context, r stream.Reader, key string) (string, domain.ID, error) {
	cursors := stream.CursorSet{key: stream.TokenStart}
	batches, _, err := r.ReadLatest(ctx, cursors, stream.NoBlock)
	if err != nil {
		return "", domain.ID{}, fmt.Errorf("failed to read control stream: %w", err)
	}
	for _, b := range batches {
		if b.Stream != key || len(b.Entries) == 0 {
			continue
		}
		e := b.Entries[len(b.Entries)-1]
		return string(e.Fields[domain.DataField]), e.ID, nil
	}
	return "", domain.ID{}, nil
}
