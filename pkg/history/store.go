// Package history persists refinement runs and their iterations in SQLite.
// Iterations are insert-only and must arrive in ordinal order.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/rskrny/aipromptai/pkg/refiner"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// ErrOutOfOrder is returned when an iteration does not follow the last one.
var ErrOutOfOrder = errors.New("iteration out of order")

// Run is a stored run.
type Run struct {
	RunID         string
	Goal          string
	MaxIterations int
	StartedAt     time.Time
	FinishedAt    *time.Time
	Outcome       string
	Iterations    int
}

// Store is a SQLite-backed history store.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.aipromptai/history.db, falling back to the
// working directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".aipromptai", "history.db")
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA foreign_keys=ON;
		PRAGMA busy_timeout=5000;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginRun inserts a new run.
func (s *Store) BeginRun(ctx context.Context, run refiner.RunInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, goal, max_iterations, started_at)
		VALUES (?, ?, ?, ?)
	`, run.RunID, run.Goal, run.MaxIterations, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordIteration appends it to runID. The ordinal must be one past the
// last recorded ordinal.
func (s *Store) RecordIteration(ctx context.Context, runID string, it refiner.Iteration) error {
	failures, err := json.Marshal(nonNil(it.Failures))
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var last int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(ordinal), 0) FROM iterations WHERE run_id = ?
	`, runID).Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to read last ordinal: %w", err)
	}
	if it.Ordinal != last+1 {
		return fmt.Errorf("%w: run %s got ordinal %d, expected %d", ErrOutOfOrder, runID, it.Ordinal, last+1)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO iterations (
			run_id, ordinal, instruction, program, dependency_summary,
			deploy_outcome, port, artifact_path, archived_at, crash_report,
			capture_failure, failures, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, it.Ordinal, it.Instruction, it.Program, it.DependencySummary,
		it.Deployment.String(), it.Port, it.ArtifactPath, it.ArchivedAt, it.CrashReport,
		it.CaptureFailure, string(failures), it.StartedAt.UTC(), it.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert iteration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit iteration: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of runID.
func (s *Store) FinishRun(ctx context.Context, runID string, outcome refiner.State, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, finished_at = ? WHERE run_id = ?
	`, outcome.String(), finishedAt.UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE r.run_id = ? GROUP BY r.run_id`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := runSelect + ` GROUP BY r.run_id ORDER BY r.started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListIterations returns the iterations of runID in ordinal order.
func (s *Store) ListIterations(ctx context.Context, runID string) ([]refiner.Iteration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, instruction, program, dependency_summary, deploy_outcome,
			port, artifact_path, archived_at, crash_report, capture_failure,
			failures, started_at, finished_at
		FROM iterations
		WHERE run_id = ?
		ORDER BY ordinal
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	var its []refiner.Iteration
	for rows.Next() {
		var it refiner.Iteration
		var outcome, failures string
		if err := rows.Scan(&it.Ordinal, &it.Instruction, &it.Program, &it.DependencySummary, &outcome,
			&it.Port, &it.ArtifactPath, &it.ArchivedAt, &it.CrashReport, &it.CaptureFailure,
			&failures, &it.StartedAt, &it.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		it.Deployment = refiner.ParseDeployOutcome(outcome)
		if err := json.Unmarshal([]byte(failures), &it.Failures); err != nil {
			return nil, fmt.Errorf("failed to decode failures of iteration %d: %w", it.Ordinal, err)
		}
		if len(it.Failures) == 0 {
			it.Failures = nil
		}
		its = append(its, it)
	}
	return its, rows.Err()
}

const runSelect = `
	SELECT r.run_id, r.goal, r.max_iterations, r.started_at, r.finished_at, r.outcome, COUNT(i.id)
	FROM runs r LEFT JOIN iterations i ON i.run_id = r.run_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	if err := row.Scan(&run.RunID, &run.Goal, &run.MaxIterations, &run.StartedAt, &finished, &run.Outcome, &run.Iterations); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ refiner.Recorder = (*Store)(nil)
