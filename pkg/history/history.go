// Package history records keg runs in a small SQLite database: one row per
// install or uninstall, plus the outcome of every package it touched.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Status is the outcome of a run or of one package within it.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCanceled  Status = "canceled"
	// StatusInstalled marks a package that was already installed and left
	// alone.
	StatusInstalled Status = "installed"
)

// PackageResult is the outcome of one package in a run.
type PackageResult struct {
	Package  string
	Version  string
	Status   Status
	Stage    string
	Error    string
	Duration time.Duration
}

// Run is one recorded keg invocation.
type Run struct {
	ID         string
	Command    string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
	Error      string
	Packages   []PackageResult
}

// Store is the history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path, applying pragmas and the
// schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrDirCreate, "failed to create %s", filepath.Dir(path))
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "failed to open history database %s", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, errors.ErrInternal, "failed to connect to history database %s", path)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, errors.ErrInternal, "failed to execute %q", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to apply history schema")
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to set schema version")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin records the start of a run and returns its id.
func (s *Store) Begin(ctx context.Context, command, target string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, target, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		id, command, target, s.now().UnixMilli(), StatusRunning)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrInternal, "failed to record run")
	}
	return id, nil
}

// Finish closes run id with its outcome and per-package results.
func (s *Store) Finish(ctx context.Context, id string, status Status, runErr error, results []PackageResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to begin history transaction")
	}
	defer func() { _ = tx.Rollback() }()

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		s.now().UnixMilli(), status, msg, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to update run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "no run %s", id)
	}

	for i, r := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO package_results (run_id, seq, package, version, status, stage, error, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, r.Package, r.Version, r.Status, r.Stage, r.Error, r.Duration.Milliseconds())
		if err != nil {
			return errors.Wrapf(err, errors.ErrInternal, "failed to record result of %s", r.Package)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to commit history")
	}
	return nil
}

// Recent returns up to limit runs, newest first. A non-empty pkg keeps only
// runs that touched that package.
func (s *Store) Recent(ctx context.Context, pkg string, limit int) ([]Run, error) {
	query := `SELECT id, command, target, started_at, COALESCE(finished_at, 0), status, error FROM runs`
	var args []any
	if pkg != "" {
		query += ` WHERE target = ? OR id IN (SELECT run_id FROM package_results WHERE package = ?)`
		args = append(args, pkg, pkg)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to query history")
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Command, &r.Target, &started, &finished, &r.Status, &r.Error); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to read history")
		}
		r.StartedAt = time.UnixMilli(started)
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to read history")
	}

	for i := range runs {
		results, err := s.results(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Packages = results
	}
	return runs, nil
}

func (s *Store) results(ctx context.Context, id string) ([]PackageResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package, version, status, stage, error, duration_ms FROM package_results WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to query package results")
	}
	defer func() { _ = rows.Close() }()

	var out []PackageResult
	for rows.Next() {
		var r PackageResult
		var ms int64
		if err := rows.Scan(&r.Package, &r.Version, &r.Status, &r.Stage, &r.Error, &ms); err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "failed to read package result")
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
