// Package store is the relational store behind plateflow: datasets, the
// cell line and drug catalog, plates, wells, drug assignments and
// measurements. DuckDB, SQLite and PostgreSQL are supported through
// database/sql; queries are written with ? placeholders and rebound per
// dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/plateflow/plateflow/pkg/config"
)

// DefaultBulkChunk is the number of rows per multi-row INSERT.
const DefaultBulkChunk = 500

// ErrUniqueViolation marks errors caused by a unique constraint.
var ErrUniqueViolation = errors.New("unique constraint violated")

// ErrNoSavepoints is returned by savepoint calls on dialects without them.
var ErrNoSavepoints = errors.New("dialect does not support savepoints")

type uniqueError struct{ err error }

func (e *uniqueError) Error() string   { return e.err.Error() }
func (e *uniqueError) Unwrap() []error { return []error{ErrUniqueViolation, e.err} }

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries every query method; Store runs them on the pool and Tx
// inside a transaction.
type conn struct {
	q         execer
	dialect   *Dialect
	returning bool
	chunk     int
}

// Exec runs a statement, classifying unique violations.
func (c *conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.dialect.Rebind(query), args...)
	return res, c.classify(err)
}

// Query runs a query.
func (c *conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.dialect.Rebind(query), args...)
	return rows, c.classify(err)
}

// QueryRow runs a single-row query.
func (c *conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// Dialect returns the engine dialect.
func (c *conn) Dialect() *Dialect { return c.dialect }

// ReturnsIDs reports whether bulk inserts read generated ids back with
// RETURNING. When false, inserted rows are re-queried by their natural key.
func (c *conn) ReturnsIDs() bool { return c.returning }

func (c *conn) classify(err error) error {
	if err == nil {
		return nil
	}
	if c.dialect.IsUniqueViolation(err) {
		return &uniqueError{err: err}
	}
	return err
}

// Options configures Open.
type Options struct {
	Driver string
	DSN    string

	// ReturningIDs forces RETURNING on or off; empty keeps the dialect default.
	ReturningIDs string
	BulkChunk    int

	Logger *slog.Logger
}

// OptionsFromConfig maps the store section of the configuration.
func OptionsFromConfig(cfg config.StoreConfig, logger *slog.Logger) Options {
	return Options{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		ReturningIDs: cfg.ReturningIDs,
		BulkChunk:    cfg.BulkChunk,
		Logger:       logger,
	}
}

// Store manages persistent plate data.
type Store struct {
	*conn
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to the configured engine and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := LookupDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := opts.DSN
	if d.Name != DriverPostgres && dsn != "" && !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.Name == DriverSQLite {
		// One connection keeps pragmas and write transactions on a single handle.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}

	returning := d.ReturnsIDs()
	switch strings.ToLower(opts.ReturningIDs) {
	case "on", "true":
		returning = true
	case "off", "false":
		returning = false
	}
	chunk := opts.BulkChunk
	if chunk <= 0 {
		chunk = DefaultBulkChunk
	}

	s := &Store{
		conn:   &conn{q: db, dialect: d, returning: returning, chunk: chunk},
		db:     db,
		logger: logger,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Debug("store opened", "driver", d.Name, "returning_ids", returning, "bulk_chunk", chunk)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Tx is one store transaction.
type Tx struct {
	*conn
	tx *sql.Tx
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{
		conn: &conn{q: tx, dialect: s.dialect, returning: s.returning, chunk: s.chunk},
		tx:   tx,
	}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// WithTx runs fn in a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (retErr error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Savepoint marks a point the transaction can roll back to.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	if !t.dialect.SupportsSavepoints() {
		return ErrNoSavepoints
	}
	_, err := t.q.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

// RollbackTo undoes everything after the named savepoint.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	if !t.dialect.SupportsSavepoints() {
		return ErrNoSavepoints
	}
	_, err := t.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

// Release forgets the named savepoint, keeping its work.
func (t *Tx) Release(ctx context.Context, name string) error {
	if !t.dialect.SupportsSavepoints() {
		return ErrNoSavepoints
	}
	_, err := t.q.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
