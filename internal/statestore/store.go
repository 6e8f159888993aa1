// Package statestore persists the supervisor's last known status in a
// SQLite database so `proxyvisor status` can report it from another
// process.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/proxyvisor/internal/reconciler"
	"github.com/ppiankov/proxyvisor/internal/supervisor"
)

const timeLayout = time.RFC3339Nano

var schema = []string{
	`CREATE TABLE IF NOT EXISTS status (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		directive    TEXT    NOT NULL DEFAULT '',
		running      INTEGER NOT NULL DEFAULT 0,
		pid          INTEGER NOT NULL DEFAULT 0,
		started_at   TEXT    NOT NULL DEFAULT '',
		restarts     INTEGER NOT NULL DEFAULT 0,
		last_exit    INTEGER NOT NULL DEFAULT 0,
		last_seq     INTEGER NOT NULL DEFAULT 0,
		last_outcome TEXT    NOT NULL DEFAULT '',
		last_error   TEXT    NOT NULL DEFAULT '',
		updated_at   TEXT    NOT NULL DEFAULT ''
	)`,
	`INSERT OR IGNORE INTO status (id) VALUES (1)`,
	`CREATE TABLE IF NOT EXISTS counters (
		outcome TEXT PRIMARY KEY,
		count   INTEGER NOT NULL DEFAULT 0
	)`,
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// ErrNoState is returned by Load when no database exists at the path.
var ErrNoState = errors.New("statestore: no state recorded")

// Status is the persisted view of the supervisor.
type Status struct {
	Directive   string           `json:"directive"`
	Running     bool             `json:"running"`
	PID         int              `json:"pid,omitempty"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	Restarts    int              `json:"restarts"`
	LastExit    int              `json:"last_exit_code"`
	LastSeq     uint64           `json:"last_seq"`
	LastOutcome string           `json:"last_outcome,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at,omitempty"`
	Counters    map[string]int64 `json:"counters"`
}

// Store is a handle on the status database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("statestore: create directory: %w", err)
	}
	return open(ctx, path, true)
}

// OpenReadOnly opens an existing database for reporting. A missing file
// returns ErrNoState.
func OpenReadOnly(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("statestore: %w", err)
	}
	return open(ctx, path, false)
}

func open(ctx context.Context, path string, migrate bool) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", path, err)
	}
	// Single connection: all writes are serialized.
	db.SetMaxOpenConns(1)

	stmts := pragmas
	if migrate {
		stmts = append(append([]string{}, pragmas...), schema...)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("statestore: %s: %w", firstLine(stmt), err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordResult stores a reconciliation outcome and bumps its counter. The
// directive column only moves when the config was actually rewritten.
func (s *Store) RecordResult(ctx context.Context, res reconciler.Result) error {
	errText := ""
	switch {
	case res.Err != nil:
		errText = res.Err.Error()
	case res.ActionErr != nil:
		errText = res.ActionErr.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC().Format(timeLayout)
	if res.Outcome == reconciler.OutcomeApplied {
		_, err = tx.ExecContext(ctx,
			`UPDATE status SET directive = ?, last_seq = ?, last_outcome = ?, last_error = ?, updated_at = ? WHERE id = 1`,
			res.Next.String(), res.Seq, string(res.Outcome), errText, now)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE status SET last_seq = ?, last_outcome = ?, last_error = ?, updated_at = ? WHERE id = 1`,
			res.Seq, string(res.Outcome), errText, now)
	}
	if err != nil {
		return fmt.Errorf("statestore: update status: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO counters (outcome, count) VALUES (?, 1)
		 ON CONFLICT(outcome) DO UPDATE SET count = count + 1`,
		string(res.Outcome)); err != nil {
		return fmt.Errorf("statestore: update counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statestore: commit: %w", err)
	}
	return nil
}

// RecordDirective sets the directive column without touching outcomes.
// Used at startup with the directive found in the config file.
func (s *Store) RecordDirective(ctx context.Context, d string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE status SET directive = ?, updated_at = ? WHERE id = 1`,
		d, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("statestore: update directive: %w", err)
	}
	return nil
}

// RecordProcess stores the supervisor's process status.
func (s *Store) RecordProcess(ctx context.Context, st supervisor.Status) error {
	startedAt := ""
	if !st.StartedAt.IsZero() {
		startedAt = st.StartedAt.UTC().Format(timeLayout)
	}
	restarts := 0
	if st.Starts > 1 {
		restarts = st.Starts - 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE status SET running = ?, pid = ?, started_at = ?, restarts = ?, last_exit = ?, updated_at = ? WHERE id = 1`,
		boolInt(st.Running), st.PID, startedAt, restarts, st.LastExitCode, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("statestore: update process: %w", err)
	}
	return nil
}

// Load returns the persisted status and outcome counters.
func (s *Store) Load(ctx context.Context) (Status, error) {
	var (
		st        Status
		running   int
		startedAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT directive, running, pid, started_at, restarts, last_exit, last_seq, last_outcome, last_error, updated_at
		 FROM status WHERE id = 1`).
		Scan(&st.Directive, &running, &st.PID, &startedAt, &st.Restarts, &st.LastExit,
			&st.LastSeq, &st.LastOutcome, &st.LastError, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, ErrNoState
	}
	if err != nil {
		return Status{}, fmt.Errorf("statestore: load status: %w", err)
	}
	st.Running = running != 0
	st.StartedAt = parseTime(startedAt)
	st.UpdatedAt = parseTime(updatedAt)

	st.Counters, err = s.counters(ctx)
	if err != nil {
		return Status{}, err
	}
	return st, nil
}

func (s *Store) counters(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, count FROM counters ORDER BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("statestore: load counters: %w", err)
	}
	defer rows.Close()

	counters := map[string]int64{}
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("statestore: scan counter: %w", err)
		}
		counters[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statestore: load counters: %w", err)
	}
	return counters, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
