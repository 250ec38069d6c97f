// Package replay reads a recorded session back from its archive
// directory, in per-channel id order, and can republish it to a
// stream store under the original entry ids.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/recorder"
)

// errStop ends a walk early without reporting a failure.
var errStop = errors.New("stop walking")

// Entry is one archive member read back from a session.
type Entry struct {
	Channel string
	ID      domain.ID
	Payload []byte
}

// Walk visits every entry of the session directory in ascending id
// order, channels interleaved by id. Stops on the first callback
// error.
func Walk(sessionDir string, fn func(Entry) error) error {
	entries, err := load(sessionDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Read returns one member's payload by channel and id. The walk
// stops at the first match.
func Read(sessionDir, channel string, id domain.ID) ([]byte, error) {
	var payload []byte
	found := false
	err := walkChannel(filepath.Join(sessionDir, channel), channel, func(e Entry) error {
		if e.ID == id {
			payload = e.Payload
			found = true
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("entry %s not found in channel %s", id, channel)
	}
	return payload, nil
}

func load(sessionDir string) ([]Entry, error) {
	dirents, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var entries []Entry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		channel := d.Name()
		err := walkChannel(filepath.Join(sessionDir, channel), channel, func(e Entry) error {
			entries = append(entries, e)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ID.Before(entries[j].ID)
	})
	return entries, nil
}

// walkChannel visits one channel's archives in id order. Archive file
// names sort by their first member id; members inside an archive are
// already ordered by write order.
func walkChannel(dir, channel string, fn func(Entry) error) error {
	archives, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return fmt.Errorf("failed to list archives in %s: %w", dir, err)
	}
	sort.Slice(archives, func(i, j int) bool {
		return archiveStart(archives[i]).Before(archiveStart(archives[j]))
	})

	for _, path := range archives {
		if err := walkArchive(path, channel, fn); err != nil {
			return err
		}
	}
	return nil
}

func walkArchive(path, channel string, fn func(Entry) error) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		id, err := domain.ParseID(f.Name)
		if err != nil {
			return fmt.Errorf("archive %s holds member with malformed id %q: %w", path, f.Name, err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open member %s of %s: %w", f.Name, path, err)
		}
		payload, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to read member %s of %s: %w", f.Name, path, err)
		}
		if err := fn(Entry{Channel: channel, ID: id, Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

// archiveStart parses the first id out of a {first}_{last}.zip name.
// Unparseable names sort as zero, before everything real.
func archiveStart(path string) domain.ID {
	name := filepath.Base(path)
	name = name[:len(name)-len(filepath.Ext(name))]
	first, _, _ := cutUnderscore(name)
	id, err := domain.ParseID(first)
	if err != nil {
		return domain.ID{}
	}
	return id
}

// cutUnderscore splits on the separator between the two ids, which is
// the underscore following the first id's "-<seq>" part.
func cutUnderscore(name string) (first, last string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '_' {
			return name[:i], name[i+1:], true
		}
	}
	return name, "", false
}

// Fields decodes an entry's payload back into a stream field map.
// Envelope payloads recover the original map; raw payloads become the
// single conventional data field.
func Fields(e Entry, mode recorder.Mode) (map[string][]byte, error) {
	switch mode {
	case recorder.ModeEnvelope:
		decoded, err := recorder.DecodeEnvelope(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("entry %s of channel %s: %w", e.ID, e.Channel, err)
		}
		return decoded.Fields, nil
	case recorder.ModeRaw:
		return map[string][]byte{domain.DataField: e.Payload}, nil
	default:
		return nil, fmt.Errorf("unknown payload mode %d", mode)
	}
}
