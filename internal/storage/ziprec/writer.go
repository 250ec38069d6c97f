package ziprec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
)

type member struct {
	name    string
	payload []byte
}

// Writer accumulates the entries of one channel and rotates them into
// zip archives. An archive is cut as soon as the buffered entry count
// reaches MaxLen or the buffered payload bytes reach MaxSize; the
// entry that crosses the threshold is included in the archive it
// triggers. Members are stored uncompressed, keyed by entry ID, so a
// single member is recoverable without reading the whole archive.
type Writer struct {
	dir     string
	maxLen  int
	maxSize int64

	buf  []member
	size int64
}

// NewWriter returns a writer rotating into dir. The directory itself
// is created by the first flush, not before.
func NewWriter(dir string, maxLen int, maxSize int64) *Writer {
	return &Writer{dir: dir, maxLen: maxLen, maxSize: maxSize}
}

// Write buffers one payload under the given member name and flushes
// when a rotation threshold is reached.
func (w *Writer) Write(name string, payload []byte) error {
	w.buf = append(w.buf, member{name: name, payload: payload})
	w.size += int64(len(payload))

	if len(w.buf) >= w.maxLen || w.size >= w.maxSize {
		return w.Flush()
	}
	return nil
}

// Flush writes all buffered entries into one archive named by the
// first and last member and clears the buffer. A no-op when empty.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create channel directory: %w", err)
	}

	fname := filepath.Join(w.dir, fmt.Sprintf("%s_%s.zip", w.buf[0].name, w.buf[len(w.buf)-1].name))
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	zw := zip.NewWriter(f)
	for _, m := range w.buf {
		mw, err := zw.CreateHeader(&zip.FileHeader{Name: m.name, Method: zip.Store})
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to create archive member %s: %w", m.name, err)
		}
		if _, err := mw.Write(m.payload); err != nil {
			f.Close()
			return fmt.Errorf("failed to write archive member %s: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	log.Debug().
		Str("file", fname).
		Int("entries", len(w.buf)).
		Int64("bytes", w.size).
		Msg("Rotated archive")

	w.buf = w.buf[:0]
	w.size = 0
	return nil
}

// Close performs the final flush.
func (w *Writer) Close() error {
	return w.Flush()
}
