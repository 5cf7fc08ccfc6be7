// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package catalog keeps an SQLite index of finished runs so they can be
// listed and compared later. The CSV artifacts stay authoritative.
package catalog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// fixed-width so started_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one indexed run.
type Entry struct {
	SessionID  string    `json:"session_id"`
	Start      time.Time `json:"start"`
	DistanceCM float64   `json:"distance_cm"`
	SpeedMPS   float64   `json:"speed_mps"`
	Direction  string    `json:"direction"`
	File       string    `json:"file"`
	Samples    int       `json:"samples"`
	NonNumeric int       `json:"non_numeric"`
	Dropped    uint64    `json:"dropped"`
	State      string    `json:"state"`
	Aborted    bool      `json:"aborted"`
	Cause      string    `json:"cause,omitempty"`
}

// Store wraps the run index.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			session_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			distance_cm REAL NOT NULL,
			speed_mps REAL NOT NULL,
			direction TEXT NOT NULL,
			file TEXT NOT NULL,
			samples INTEGER NOT NULL,
			non_numeric INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			state TEXT NOT NULL,
			aborted INTEGER NOT NULL,
			cause TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record stores or replaces the entry for e.SessionID.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (session_id, started_at, distance_cm, speed_mps, direction, file, samples, non_numeric, dropped, state, aborted, cause)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID,
		e.Start.UTC().Format(timeLayout),
		e.DistanceCM,
		e.SpeedMPS,
		e.Direction,
		e.File,
		e.Samples,
		e.NonNumeric,
		int64(e.Dropped),
		e.State,
		e.Aborted,
		e.Cause,
	)
	return err
}

// List returns the most recent runs first. limit <= 0 returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, started_at, distance_cm, speed_mps, direction, file, samples, non_numeric, dropped, state, aborted, cause
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []Entry
	for rows.Next() {
		var e Entry
		var startedAt string
		var dropped int64
		if err := rows.Scan(&e.SessionID, &startedAt, &e.DistanceCM, &e.SpeedMPS, &e.Direction, &e.File,
			&e.Samples, &e.NonNumeric, &dropped, &e.State, &e.Aborted, &e.Cause); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, err
		}
		e.Start = parsed
		e.Dropped = uint64(dropped)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
