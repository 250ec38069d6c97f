package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID identifies one entry within a stream: the millisecond timestamp
// assigned on append plus a sequence number ordering entries appended
// within the same millisecond. IDs are strictly increasing per stream.
type ID struct {
	Ms  int64
	Seq uint64
}

// ParseID parses an entry ID in the "<ms>-<seq>" wire form. A bare
// "<ms>" is accepted with sequence 0, the form position tokens may take.
func ParseID(s string) (ID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")

	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 {
		return ID{}, fmt.Errorf("invalid entry id %q", s)
	}

	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("invalid entry id %q", s)
		}
	}

	return ID{Ms: ms, Seq: seq}, nil
}

// IDAt returns the smallest ID carrying the given wall-clock time.
func IDAt(t time.Time) ID {
	return ID{Ms: t.UnixMilli()}
}

// String renders the ID in its "<ms>-<seq>" wire form.
func (id ID) String() string {
	return strconv.FormatInt(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Before reports whether id was assigned strictly earlier than other.
func (id ID) Before(other ID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// IsZero reports whether the ID is the zero value ("0-0"), which no
// stored entry can carry.
func (id ID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// Time returns the append timestamp carried by the ID.
func (id ID) Time() time.Time {
	return time.UnixMilli(id.Ms)
}
