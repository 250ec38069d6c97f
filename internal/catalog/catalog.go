// Package catalog indexes closed recording sessions in a local bbolt
// database, so recordings can be listed without walking the output
// tree.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/streamrec/streamrec/internal/domain"
)

const bucketName = "sessions"

// Session is one catalog record, stored YAML-encoded under its uuid.
type Session struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	StartID  string    `yaml:"start_id"`
	EndID    string    `yaml:"end_id"`
	ClosedAt time.Time `yaml:"closed_at"`
	Entries  uint64    `yaml:"entries"`
	Bytes    uint64    `yaml:"bytes"`

	Channels map[string]domain.ChannelStats `yaml:"channels,omitempty"`
}

// Store is a bbolt-backed session catalog.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the catalog database.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog bucket: %w", err)
	}

	log.Info().Str("path", path).Msg("Session catalog opened")
	return &Store{db: db}, nil
}

// RecordSession indexes one closed session. Implements
// recorder.Cataloger.
func (s *Store) RecordSession(ctx context.Context, sess domain.Session, end domain.ID, stats domain.SessionStats) error {
	rec := Session{
		ID:       uuid.NewString(),
		Name:     sess.Name,
		StartID:  sess.StartID.String(),
		EndID:    end.String(),
		ClosedAt: time.Now().UTC(),
		Entries:  stats.Entries,
		Bytes:    stats.Bytes,
		Channels: stats.Channels,
	}

	val, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(rec.ID), val)
	})
	if err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}

	log.Debug().
		Str("session", rec.Name).
		Str("start", rec.StartID).
		Str("end", rec.EndID).
		Msg("Session cataloged")
	return nil
}

// List returns every cataloged session ordered by start id.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	var sessions []Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Session
			if err := yaml.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode session record %s: %w", k, err)
			}
			sessions = append(sessions, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		a, aerr := domain.ParseID(sessions[i].StartID)
		b, berr := domain.ParseID(sessions[j].StartID)
		if aerr != nil || berr != nil {
			return sessions[i].StartID < sessions[j].StartID
		}
		if a != b {
			return a.Before(b)
		}
		return sessions[i].ClosedAt.Before(sessions[j].ClosedAt)
	})
	return sessions, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
