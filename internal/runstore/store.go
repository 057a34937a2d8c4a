// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package runstore keeps run history in SQLite: one row per manifest, one
// row per gate result, and the host-state snapshots the Persistence gate
// takes before restarting the container.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("not found")

const defaultLimit = 20

// Store manages the run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			generated_at TEXT NOT NULL,
			schema_version TEXT NOT NULL,
			total INTEGER NOT NULL,
			passed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			overall_success INTEGER NOT NULL,
			host_bug_tier TEXT,
			manifest TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_generated_at ON runs(generated_at)`,
		`CREATE TABLE IF NOT EXISTS gate_results (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			gate TEXT NOT NULL,
			plugin TEXT,
			outcome TEXT NOT NULL,
			error_code TEXT,
			skip_reason TEXT,
			errors TEXT,
			started_at TEXT,
			ended_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gate_results_gate ON gate_results(gate)`,
		`CREATE INDEX IF NOT EXISTS idx_gate_results_run_id ON gate_results(run_id)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			gate TEXT NOT NULL,
			data TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (run_id, gate)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	RunID          string    `json:"runId" yaml:"run_id"`
	GeneratedAt    time.Time `json:"generatedAt" yaml:"generated_at"`
	SchemaVersion  string    `json:"schemaVersion" yaml:"schema_version"`
	Total          int       `json:"total" yaml:"total"`
	Passed         int       `json:"passed" yaml:"passed"`
	Failed         int       `json:"failed" yaml:"failed"`
	Skipped        int       `json:"skipped" yaml:"skipped"`
	OverallSuccess bool      `json:"overallSuccess" yaml:"overall_success"`
	HostBugTier    string    `json:"hostBugTier,omitempty" yaml:"host_bug_tier,omitempty"`
}

// GateRecord is one gate outcome from a past run.
type GateRecord struct {
	RunID      string        `json:"runId" yaml:"run_id"`
	Gate       string        `json:"gate" yaml:"gate"`
	Plugin     string        `json:"plugin" yaml:"plugin"`
	Outcome    types.Outcome `json:"outcome" yaml:"outcome"`
	ErrorCode  string        `json:"errorCode,omitempty" yaml:"error_code,omitempty"`
	SkipReason string        `json:"skipReason,omitempty" yaml:"skip_reason,omitempty"`
	Errors     []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	StartedAt  time.Time     `json:"startedAt" yaml:"started_at"`
	EndedAt    time.Time     `json:"endedAt" yaml:"ended_at"`
}

// SaveManifest records m. Saving the same run ID again replaces it.
func (s *Store) SaveManifest(ctx context.Context, m types.RunManifest) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM gate_results WHERE run_id = ?`, m.RunID); err != nil {
		return fmt.Errorf("deleting old gate results: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, generated_at, schema_version, total, passed, failed, skipped, overall_success, host_bug_tier, manifest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			generated_at=excluded.generated_at, schema_version=excluded.schema_version,
			total=excluded.total, passed=excluded.passed, failed=excluded.failed,
			skipped=excluded.skipped, overall_success=excluded.overall_success,
			host_bug_tier=excluded.host_bug_tier, manifest=excluded.manifest`,
		m.RunID, formatTime(m.GeneratedAt), m.SchemaVersion,
		m.Summary.Total, m.Summary.Passed, m.Summary.Failed, m.Summary.Skipped,
		m.Summary.OverallSuccess, m.HostBugSuspected.Tier, string(doc),
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO gate_results (run_id, position, gate, plugin, outcome, error_code, skip_reason, errors, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range m.Results {
		errsJSON, _ := json.Marshal(r.Errors)
		_, err := stmt.ExecContext(ctx,
			m.RunID, i, r.Gate, r.Plugin, string(r.Outcome),
			r.Code(), r.Reason(), string(errsJSON),
			formatTime(r.StartedAt), formatTime(r.EndedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting gate result %s: %w", r.Gate, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less means the default of 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, generated_at, schema_version, total, passed, failed, skipped, overall_success, COALESCE(host_bug_tier, '')
		 FROM runs ORDER BY generated_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var generated string
		if err := rows.Scan(&r.RunID, &generated, &r.SchemaVersion,
			&r.Total, &r.Passed, &r.Failed, &r.Skipped, &r.OverallSuccess, &r.HostBugTier); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.GeneratedAt = parseTime(generated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadManifest returns the manifest stored for runID.
func (s *Store) LoadManifest(ctx context.Context, runID string) (types.RunManifest, error) {
	var m types.RunManifest
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT manifest FROM runs WHERE run_id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return m, fmt.Errorf("querying run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return m, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return m, nil
}

// GateHistory returns the most recent outcomes of gate across runs,
// newest first. Gate names match case-insensitively.
func (s *Store) GateHistory(ctx context.Context, gate string, limit int) ([]GateRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.run_id, g.gate, COALESCE(g.plugin, ''), g.outcome, COALESCE(g.error_code, ''),
			COALESCE(g.skip_reason, ''), COALESCE(g.errors, ''), COALESCE(g.started_at, ''), COALESCE(g.ended_at, '')
		 FROM gate_results g JOIN runs r ON r.run_id = g.run_id
		 WHERE g.gate = ? COLLATE NOCASE
		 ORDER BY r.generated_at DESC, g.rowid DESC LIMIT ?`, gate, limit)
	if err != nil {
		return nil, fmt.Errorf("querying gate history: %w", err)
	}
	defer rows.Close()

	var out []GateRecord
	for rows.Next() {
		var rec GateRecord
		var outcome, errsJSON, started, ended string
		if err := rows.Scan(&rec.RunID, &rec.Gate, &rec.Plugin, &outcome, &rec.ErrorCode,
			&rec.SkipReason, &errsJSON, &started, &ended); err != nil {
			return nil, fmt.Errorf("scanning gate result: %w", err)
		}
		rec.Outcome = types.Outcome(outcome)
		if errsJSON != "" {
			_ = json.Unmarshal([]byte(errsJSON), &rec.Errors)
		}
		rec.StartedAt = parseTime(started)
		rec.EndedAt = parseTime(ended)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveSnapshot stores v as JSON under (runID, gate), replacing any earlier
// snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, runID, gate string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, gate, data, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, gate) DO UPDATE SET data=excluded.data, saved_at=excluded.saved_at`,
		runID, gate, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %s/%s: %w", runID, gate, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot stored under (runID, gate) into v.
func (s *Store) LoadSnapshot(ctx context.Context, runID, gate string, v any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE run_id = ? AND gate = ?`, runID, gate,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("snapshot %s/%s: %w", runID, gate, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("loading snapshot %s/%s: %w", runID, gate, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decoding snapshot %s/%s: %w", runID, gate, err)
	}
	return nil
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
