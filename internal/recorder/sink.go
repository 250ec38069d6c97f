package recorder

import (
	"encoding/json"
	"fmt"

	"github.com/streamrec/streamrec/internal/domain"
)

// Mode selects how entry payloads are persisted.
type Mode int

const (
	// ModeEnvelope stores a JSON document per entry carrying the id,
	// the append timestamp, the stream id, and the full field map.
	ModeEnvelope Mode = iota
	// ModeRaw stores the value of the single conventional data field
	// verbatim. Entries with any other field shape fail the write.
	ModeRaw
)

// ParseMode maps the configuration value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "envelope":
		return ModeEnvelope, nil
	case "raw":
		return ModeRaw, nil
	default:
		return 0, fmt.Errorf("unknown payload mode %q", s)
	}
}

// Envelope is the per-entry JSON document of envelope mode. Field
// values round-trip through base64, the JSON encoding of byte slices.
type Envelope struct {
	ID     string            `json:"id"`
	TS     int64             `json:"ts"`
	Stream string            `json:"stream"`
	Data   map[string][]byte `json:"data"`
}

// EncodeEntry renders the payload stored for one entry.
func EncodeEntry(e domain.Entry, mode Mode) ([]byte, error) {
	switch mode {
	case ModeEnvelope:
		env := Envelope{
			ID:     e.ID.String(),
			TS:     e.ID.Time().UnixNano(),
			Stream: e.Stream,
			Data:   e.Fields,
		}
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry %s of stream %s: %w", e.ID, e.Stream, err)
		}
		return b, nil

	case ModeRaw:
		payload, ok := e.Fields[domain.DataField]
		if !ok || len(e.Fields) != 1 {
			fields := make([]string, 0, len(e.Fields))
			for k := range e.Fields {
				fields = append(fields, k)
			}
			return nil, fmt.Errorf("raw mode records exactly the %q field, entry %s of stream %s carries %v",
				domain.DataField, e.ID, e.Stream, fields)
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown payload mode %d", mode)
	}
}

// DecodeEnvelope parses a payload written in envelope mode back into
// an entry.
func DecodeEnvelope(payload []byte) (domain.Entry, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Entry{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	id, err := domain.ParseID(env.ID)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("envelope carries malformed id: %w", err)
	}
	return domain.Entry{Stream: env.Stream, ID: id, Fields: env.Data}, nil
}

// Sink persists the entries of one recording session at a time.
//
// EnsureWriter opens the session on first call and is an idempotent
// no-op while that session stays open. Close flushes everything the
// session buffered and returns the sink to the unopened state, ready
// for the next EnsureWriter.
type Sink interface {
	EnsureWriter(session string) error
	Write(e domain.Entry) error
	Stats() domain.SessionStats
	Close() error
}
