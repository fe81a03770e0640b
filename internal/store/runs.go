// internal/store/runs.go

// Package store keeps a durable log of segmentation runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one segmented volume.
type Run struct {
	ID               string
	VolumeID         string
	Depth            int
	Height           int
	Width            int
	PatchSize        int
	Conformed        bool
	LabelCounts      []int
	DegenerateSlices int
	Cached           bool
	Duration         time.Duration
	CreatedAt        time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run log at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate run log: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  volume_id TEXT NOT NULL DEFAULT '',
  depth INTEGER NOT NULL,
  height INTEGER NOT NULL,
  width INTEGER NOT NULL,
  patch_size INTEGER NOT NULL,
  conformed INTEGER NOT NULL DEFAULT 0,
  label_counts TEXT NOT NULL DEFAULT '[]',
  degenerate_slices INTEGER NOT NULL DEFAULT 0,
  cached INTEGER NOT NULL DEFAULT 0,
  duration_us INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at);
`)
	return err
}

// Record inserts a run. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, r Run) error {
	if s.db == nil {
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	counts, err := json.Marshal(r.LabelCounts)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, volume_id, depth, height, width, patch_size, conformed,
  label_counts, degenerate_slices, cached, duration_us, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, r.ID, r.VolumeID, r.Depth, r.Height, r.Width, r.PatchSize, r.Conformed,
		string(counts), r.DegenerateSlices, r.Cached, r.Duration.Microseconds(), r.CreatedAt)
	return err
}

const selectRun = `
SELECT run_id, volume_id, depth, height, width, patch_size, conformed,
  label_counts, degenerate_slices, cached, duration_us, created_at
FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r          Run
		counts     string
		durationUs int64
	)
	if err := row.Scan(&r.ID, &r.VolumeID, &r.Depth, &r.Height, &r.Width, &r.PatchSize, &r.Conformed,
		&counts, &r.DegenerateSlices, &r.Cached, &durationUs, &r.CreatedAt); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(counts), &r.LabelCounts); err != nil {
		return Run{}, fmt.Errorf("run %s has corrupt label counts: %w", r.ID, err)
	}
	r.Duration = time.Duration(durationUs) * time.Microsecond
	return r, nil
}

// Get returns the run with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	if s.db == nil {
		return Run{}, ErrNotFound
	}
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRun+" WHERE run_id=?;", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectRun+" ORDER BY created_at DESC, rowid DESC LIMIT ?;", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
