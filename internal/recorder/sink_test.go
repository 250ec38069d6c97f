package recorder

import (
	"bytes"
	"testing"

	"github.com/streamrec/streamrec/internal/domain"
)

func TestEncodeEntryEnvelopeRoundTrips(t *testing.T) {
	entry := domain.Entry{
		Stream: "tele:imu",
		ID:     domain.ID{Ms: 1700000000123, Seq: 7},
		Fields: map[string][]byte{
			"d":    {0x00, 0x01, 0xff},
			"unit": []byte("imu"),
		},
	}

	payload, err := EncodeEntry(entry, ModeEnvelope)
	if err != nil {
		t.Fatalf("EncodeEntry() error = %v", err)
	}
	got, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}

	if got.Stream != entry.Stream || got.ID != entry.ID {
		t.Fatalf("identity = %s/%s, want %s/%s", got.Stream, got.ID, entry.Stream, entry.ID)
	}
	if len(got.Fields) != len(entry.Fields) {
		t.Fatalf("fields = %v", got.Fields)
	}
	for k, v := range entry.Fields {
		if !bytes.Equal(got.Fields[k], v) {
			t.Fatalf("field %q = %v, want %v", k, got.Fields[k], v)
		}
	}
}

func TestEncodeEntryRaw(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string][]byte
		want    []byte
		wantErr bool
	}{
		{
			name:   "single data field",
			fields: map[string][]byte{"d": {0xca, 0xfe}},
			want:   []byte{0xca, 0xfe},
		},
		{
			name:    "extra field",
			fields:  map[string][]byte{"d": []byte("x"), "meta": []byte("y")},
			wantErr: true,
		},
		{
			name:    "missing data field",
			fields:  map[string][]byte{"payload": []byte("x")},
			wantErr: true,
		},
		{
			name:    "empty field map",
			fields:  map[string][]byte{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeEntry(domain.Entry{
				Stream: "a",
				ID:     domain.ID{Ms: 100},
				Fields: tt.fields,
			}, ModeRaw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !bytes.Equal(got, tt.want) {
				t.Fatalf("EncodeEntry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("envelope"); err != nil || m != ModeEnvelope {
		t.Errorf("ParseMode(envelope) = %v, %v", m, err)
	}
	if m, err := ParseMode("raw"); err != nil || m != ModeRaw {
		t.Errorf("ParseMode(raw) = %v, %v", m, err)
	}
	if _, err := ParseMode("mcap"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}
