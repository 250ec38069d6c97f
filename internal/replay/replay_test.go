package replay_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/recorder"
	"github.com/streamrec/streamrec/internal/replay"
	"github.com/streamrec/streamrec/internal/storage/ziprec"
	"github.com/streamrec/streamrec/internal/stream"
)

// record writes a small two-channel session and returns its directory.
func record(t *testing.T, mode recorder.Mode, maxLen int, entries []domain.Entry) string {
	t.Helper()
	out := t.TempDir()
	rec := ziprec.New(out, mode, maxLen, 1<<20)
	if err := rec.EnsureWriter("sess"); err != nil {
		t.Fatalf("EnsureWriter() error = %v", err)
	}
	for _, e := range entries {
		if err := rec.Write(e); err != nil {
			t.Fatalf("Write(%s) error = %v", e.ID, err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return filepath.Join(out, "sess")
}

func rawEntry(stream string, ms int64, payload string) domain.Entry {
	return domain.Entry{
		Stream: stream,
		ID:     domain.ID{Ms: ms},
		Fields: map[string][]byte{domain.DataField: []byte(payload)},
	}
}

func TestWalkInterleavesChannelsByID(t *testing.T) {
	dir := record(t, recorder.ModeRaw, 2, []domain.Entry{
		rawEntry("a", 100, "a1"),
		rawEntry("a", 120, "a2"),
		rawEntry("a", 140, "a3"), // second archive for a
		rawEntry("b", 110, "b1"),
		rawEntry("b", 130, "b2"),
	})

	var got []string
	err := replay.Walk(dir, func(e replay.Entry) error {
		got = append(got, e.Channel+"@"+e.ID.String())
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []string{"a@100-0", "b@110-0", "a@120-0", "b@130-0", "a@140-0"}
	if len(got) != len(want) {
		t.Fatalf("Walk order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Walk order = %v, want %v", got, want)
		}
	}
}

func TestReadRecoversPayloadByID(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10, 0x20}
	dir := record(t, recorder.ModeRaw, 1000, []domain.Entry{
		rawEntry("cam", 100, "first"),
		{
			Stream: "cam",
			ID:     domain.ID{Ms: 200, Seq: 5},
			Fields: map[string][]byte{domain.DataField: payload},
		},
	})

	got, err := replay.Read(dir, "cam", domain.ID{Ms: 200, Seq: 5})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %v, want %v", got, payload)
	}

	if _, err := replay.Read(dir, "cam", domain.ID{Ms: 999}); err == nil {
		t.Fatal("Read() found an entry that was never written")
	}
}

func TestReadStopsAtFirstMatch(t *testing.T) {
	dir := record(t, recorder.ModeRaw, 1000, []domain.Entry{
		rawEntry("cam", 100, "first"),
		rawEntry("cam", 200, "second"),
	})

	// A later archive with a member the walk cannot parse: reachable
	// only if Read keeps going past the match.
	writeBrokenArchive(t, filepath.Join(dir, "cam", "900-0_900-0.zip"))

	got, err := replay.Read(dir, "cam", domain.ID{Ms: 200})
	if err != nil {
		t.Fatalf("Read() error = %v, want early stop before the broken archive", err)
	}
	if string(got) != "second" {
		t.Fatalf("Read() = %q, want %q", got, "second")
	}
}

func writeBrokenArchive(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("not-an-id")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("junk")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPublishRestoresStreamsByteForByte(t *testing.T) {
	entries := []domain.Entry{
		{
			Stream: "a",
			ID:     domain.ID{Ms: 100},
			Fields: map[string][]byte{"d": {0x01, 0x02}, "unit": []byte("imu")},
		},
		{
			Stream: "b",
			ID:     domain.ID{Ms: 150, Seq: 2},
			Fields: map[string][]byte{"d": []byte("payload")},
		},
	}
	dir := record(t, recorder.ModeEnvelope, 1000, entries)

	mem := stream.NewMemory()
	n, err := replay.Publish(context.Background(), mem, dir, recorder.ModeEnvelope)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n != len(entries) {
		t.Fatalf("Publish() republished %d entries, want %d", n, len(entries))
	}

	cursors := stream.CursorSet{"a": stream.TokenStart, "b": stream.TokenStart}
	batches, _, err := mem.ReadNext(context.Background(), cursors, stream.NoBlock)
	if err != nil {
		t.Fatalf("ReadNext() error = %v", err)
	}

	got := make(map[string]domain.Entry)
	for _, b := range batches {
		for _, e := range b.Entries {
			got[e.Stream+"/"+e.ID.String()] = e
		}
	}
	for _, want := range entries {
		e, ok := got[want.Stream+"/"+want.ID.String()]
		if !ok {
			t.Fatalf("entry %s of %s not republished", want.ID, want.Stream)
		}
		if len(e.Fields) != len(want.Fields) {
			t.Fatalf("field count mismatch for %s: %v", want.ID, e.Fields)
		}
		for k, v := range want.Fields {
			if !bytes.Equal(e.Fields[k], v) {
				t.Fatalf("field %q of %s = %v, want %v", k, want.ID, e.Fields[k], v)
			}
		}
	}
}
