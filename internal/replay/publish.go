package replay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/streamrec/streamrec/internal/recorder"
	"github.com/streamrec/streamrec/internal/stream"
)

// Publish re-appends every entry of a recorded session to a stream
// store under its original id, channels interleaved in id order so
// relative timing survives. Appending under explicit ids requires the
// target streams to hold nothing newer.
func Publish(ctx context.Context, a stream.Appender, sessionDir string, mode recorder.Mode) (int, error) {
	count := 0
	err := Walk(sessionDir, func(e Entry) error {
		fields, err := Fields(e, mode)
		if err != nil {
			return err
		}
		if _, err := a.Append(ctx, e.Channel, e.ID, fields); err != nil {
			return fmt.Errorf("failed to republish entry %s to %s: %w", e.ID, e.Channel, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	log.Info().
		Str("session_dir", sessionDir).
		Int("entries", count).
		Msg("Session republished")
	return count, nil
}
