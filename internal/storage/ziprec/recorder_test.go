package ziprec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/recorder"
)

func TestEnsureWriterMovesCollidingDirectoryAside(t *testing.T) {
	out := t.TempDir()
	old := filepath.Join(out, "run1")
	if err := os.MkdirAll(old, 0o755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(old, "marker")
	if err := os.WriteFile(marker, []byte("previous recording"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := New(out, recorder.ModeEnvelope, 1000, 1<<20)
	if err := rec.EnsureWriter("run1"); err != nil {
		t.Fatalf("EnsureWriter() error = %v", err)
	}

	// The old directory survives under a suffixed name.
	if _, err := os.Stat(filepath.Join(out, "run1.1", "marker")); err != nil {
		t.Fatalf("old recording not preserved: %v", err)
	}
	// The fresh directory is empty.
	ents, err := os.ReadDir(filepath.Join(out, "run1"))
	if err != nil {
		t.Fatalf("fresh session directory missing: %v", err)
	}
	if len(ents) != 0 {
		t.Fatalf("fresh session directory not empty: %v", ents)
	}
}

func TestEnsureWriterSkipsOccupiedSuffixes(t *testing.T) {
	out := t.TempDir()
	for _, d := range []string{"run1", "run1.1", "run1.2"} {
		if err := os.MkdirAll(filepath.Join(out, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	rec := New(out, recorder.ModeEnvelope, 1000, 1<<20)
	if err := rec.EnsureWriter("run1"); err != nil {
		t.Fatalf("EnsureWriter() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "run1.3")); err != nil {
		t.Fatalf("colliding directory not moved to first free suffix: %v", err)
	}
}

func TestEnsureWriterIdempotentWhileOpen(t *testing.T) {
	out := t.TempDir()
	rec := New(out, recorder.ModeEnvelope, 1000, 1<<20)

	if err := rec.EnsureWriter("run1"); err != nil {
		t.Fatalf("EnsureWriter() error = %v", err)
	}
	if err := rec.EnsureWriter("run1"); err != nil {
		t.Fatalf("second EnsureWriter() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "run1.1")); !os.IsNotExist(err) {
		t.Fatal("EnsureWriter on an open session must not move the directory aside")
	}
}

func TestWriteRawModeRejectsWrongFieldShape(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string][]byte
	}{
		{
			name:   "extra field",
			fields: map[string][]byte{"d": []byte("x"), "extra": []byte("y")},
		},
		{
			name:   "wrong field",
			fields: map[string][]byte{"payload": []byte("x")},
		},
		{
			name:   "no fields",
			fields: map[string][]byte{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := New(t.TempDir(), recorder.ModeRaw, 1000, 1<<20)
			if err := rec.EnsureWriter("run1"); err != nil {
				t.Fatalf("EnsureWriter() error = %v", err)
			}
			err := rec.Write(domain.Entry{
				Stream: "a",
				ID:     domain.ID{Ms: 100},
				Fields: tt.fields,
			})
			if err == nil {
				t.Fatal("Write() accepted a malformed raw entry")
			}
		})
	}
}

func TestWriteRawModeStoresPayloadVerbatim(t *testing.T) {
	out := t.TempDir()
	rec := New(out, recorder.ModeRaw, 1000, 1<<20)
	if err := rec.EnsureWriter("run1"); err != nil {
		t.Fatalf("EnsureWriter() error = %v", err)
	}

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	err := rec.Write(domain.Entry{
		Stream: "cam:left",
		ID:     domain.ID{Ms: 100, Seq: 1},
		Fields: map[string][]byte{domain.DataField: payload},
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := readMember(t, filepath.Join(out, "run1", "cam:left", "100-1_100-1.zip"), "100-1")
	if string(got) != string(payload) {
		t.Fatalf("raw payload mismatch: got %v want %v", got, payload)
	}
}

func TestWriteEnvelopeModeRoundTrips(t *testing.T) {
	out := t.TempDir()
	rec := New(out, recorder.ModeEnvelope, 1000, 1<<20)
	if err := rec.EnsureWriter("run1"); err != nil {
		t.Fatalf("EnsureWriter() error = %v", err)
	}

	entry := domain.Entry{
		Stream: "telemetry",
		ID:     domain.ID{Ms: 1500, Seq: 3},
		Fields: map[string][]byte{
			"d":    {0x01, 0x02},
			"unit": []byte("imu"),
		},
	}
	if err := rec.Write(entry); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	payload := readMember(t, filepath.Join(out, "run1", "telemetry", "1500-3_1500-3.zip"), "1500-3")
	decoded, err := recorder.DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if decoded.Stream != entry.Stream || decoded.ID != entry.ID {
		t.Fatalf("envelope identity mismatch: got %s/%s", decoded.Stream, decoded.ID)
	}
	for k, v := range entry.Fields {
		if string(decoded.Fields[k]) != string(v) {
			t.Fatalf("field %q mismatch: got %v want %v", k, decoded.Fields[k], v)
		}
	}
}

func TestWriteWithoutOpenSessionFails(t *testing.T) {
	rec := New(t.TempDir(), recorder.ModeEnvelope, 1000, 1<<20)
	err := rec.Write(domain.Entry{Stream: "a", ID: domain.ID{Ms: 1}})
	if err == nil || !strings.Contains(err.Error(), "no session open") {
		t.Fatalf("expected no-session error, got %v", err)
	}
}

func TestStatsCountPerChannel(t *testing.T) {
	rec := New(t.TempDir(), recorder.ModeRaw, 1000, 1<<20)
	if err := rec.EnsureWriter("run1"); err != nil {
		t.Fatalf("EnsureWriter() error = %v", err)
	}

	for i, stream := range []string{"a", "a", "b"} {
		err := rec.Write(domain.Entry{
			Stream: stream,
			ID:     domain.ID{Ms: int64(100 + i)},
			Fields: map[string][]byte{domain.DataField: []byte("xxxx")},
		})
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	stats := rec.Stats()
	if stats.Entries != 3 || stats.Bytes != 12 {
		t.Fatalf("totals = %d entries %d bytes, want 3 and 12", stats.Entries, stats.Bytes)
	}
	if stats.Channels["a"].Entries != 2 || stats.Channels["b"].Entries != 1 {
		t.Fatalf("per-channel entries = %+v", stats.Channels)
	}
}
