package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartBuild records the start of a build and returns it with a fresh id.
func (s *Store) StartBuild(location string) (*Build, error) {
	b := &Build{ID: uuid.NewString(), Location: location, StartedAt: time.Now().UTC()}
	_, err := s.db.Exec("INSERT INTO builds (id, location, started_at) VALUES (?, ?, ?)",
		b.ID, b.Location, b.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start build: %w", err)
	}
	return b, nil
}

// FinishBuild stores the counters of b and stamps its finish time.
func (s *Store) FinishBuild(b *Build) error {
	now := time.Now().UTC()
	b.FinishedAt = &now
	_, err := s.db.Exec(
		`UPDATE builds SET finished_at = ?, changed = ?, removed = ?, errors = ?, warnings = ?, interrupted = ?
		 WHERE id = ?`,
		now, b.Changed, b.Removed, b.Errors, b.Warnings, b.Interrupted, b.ID,
	)
	if err != nil {
		return fmt.Errorf("finish build: %w", err)
	}
	return nil
}

// Builds returns the most recent builds first. limit <= 0 returns all.
func (s *Store) Builds(limit int) ([]*Build, error) {
	q := `SELECT id, location, started_at, finished_at, changed, removed, errors, warnings, interrupted
		FROM builds ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("builds: %w", err)
	}
	defer rows.Close()
	var out []*Build
	for rows.Next() {
		b := &Build{}
		var finished sql.NullTime
		if err := rows.Scan(&b.ID, &b.Location, &b.StartedAt, &finished,
			&b.Changed, &b.Removed, &b.Errors, &b.Warnings, &b.Interrupted); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			b.FinishedAt = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetMetadata stores a key/value pair.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Metadata returns the value of key, or "" when unset.
func (s *Store) Metadata(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", key, err)
	}
	return v, nil
}
