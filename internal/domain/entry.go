package domain

// DataField is the conventional field name carrying the payload on
// control entries and on streams recorded in raw payload mode.
const DataField = "d"

// Entry is one record read from a stream. Field values are opaque
// bytes; no structure is assumed beyond the field map itself.
type Entry struct {
	Stream string
	ID     ID
	Fields map[string][]byte
}

// Session is an active recording window. All entries with an ID at or
// after StartID on tracked streams belong to it. An empty name means
// no recording is in progress.
type Session struct {
	Name    string
	StartID ID
}

// Active reports whether a recording is in progress.
func (s Session) Active() bool {
	return s.Name != ""
}

// ChannelStats counts what one channel of a session absorbed.
type ChannelStats struct {
	Entries uint64
	Bytes   uint64
}

// SessionStats aggregates what an open session absorbed across channels.
type SessionStats struct {
	Entries  uint64
	Bytes    uint64
	Channels map[string]ChannelStats
}
