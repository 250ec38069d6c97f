// Package ziprec persists recording sessions as rotated zip archives
// under {out}/{session}/{channel}/{first}_{last}.zip, one archive
// member per entry keyed by the entry ID.
package ziprec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/recorder"
)

// Recorder is the zip-backed session sink. It buffers per channel and
// rotates on the configured thresholds; see Writer.
type Recorder struct {
	outDir  string
	mode    recorder.Mode
	maxLen  int
	maxSize int64

	sessionDir string
	channels   map[string]*Writer
	stats      domain.SessionStats
}

// New returns a recorder writing sessions under outDir.
func New(outDir string, mode recorder.Mode, maxLen int, maxSize int64) *Recorder {
	return &Recorder{outDir: outDir, mode: mode, maxLen: maxLen, maxSize: maxSize}
}

// EnsureWriter opens the session directory on first call. A
// pre-existing directory of the same name is renamed aside first, so
// an earlier recording is never overwritten. While a session is open
// further calls are no-ops.
func (r *Recorder) EnsureWriter(session string) error {
	if r.channels != nil {
		return nil
	}

	dir := filepath.Join(r.outDir, session)
	moved, err := moveAside(dir)
	if err != nil {
		return err
	}
	if moved != "" {
		log.Info().
			Str("dir", dir).
			Str("moved_to", moved).
			Msg("Existing session directory moved aside")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	r.sessionDir = dir
	r.channels = make(map[string]*Writer)
	r.stats = domain.SessionStats{Channels: make(map[string]domain.ChannelStats)}
	return nil
}

// EnsureChannel returns the channel's writer, allocating it on first
// use. The channel directory appears with the first flush.
func (r *Recorder) EnsureChannel(channel string) *Writer {
	w, ok := r.channels[channel]
	if !ok {
		w = NewWriter(filepath.Join(r.sessionDir, channel), r.maxLen, r.maxSize)
		r.channels[channel] = w
	}
	return w
}

// Write persists one entry into its stream's channel.
func (r *Recorder) Write(e domain.Entry) error {
	if r.channels == nil {
		return fmt.Errorf("no session open, stream %s entry %s dropped", e.Stream, e.ID)
	}

	payload, err := recorder.EncodeEntry(e, r.mode)
	if err != nil {
		return err
	}
	if err := r.EnsureChannel(e.Stream).Write(e.ID.String(), payload); err != nil {
		return err
	}

	cs := r.stats.Channels[e.Stream]
	cs.Entries++
	cs.Bytes += uint64(len(payload))
	r.stats.Channels[e.Stream] = cs
	r.stats.Entries++
	r.stats.Bytes += uint64(len(payload))
	return nil
}

// Stats reports what the open session absorbed so far.
func (r *Recorder) Stats() domain.SessionStats {
	return r.stats
}

// Close flushes every channel and ends the open session. The next
// EnsureWriter starts a fresh one. A no-op when nothing is open.
func (r *Recorder) Close() error {
	var firstErr error
	for channel, w := range r.channels {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush channel %s: %w", channel, err)
		}
	}
	r.channels = nil
	r.sessionDir = ""
	return firstErr
}

// moveAside renames dir to the first free numeric-suffix sibling and
// returns the new name, or "" when dir does not exist.
func moveAside(dir string) (string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	for i := 1; ; i++ {
		moved := fmt.Sprintf("%s.%d", dir, i)
		if _, err := os.Stat(moved); os.IsNotExist(err) {
			if err := os.Rename(dir, moved); err != nil {
				return "", fmt.Errorf("failed to move %s aside: %w", dir, err)
			}
			return moved, nil
		} else if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", moved, err)
		}
	}
}
