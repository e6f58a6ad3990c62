// Package corpus implements the relational store the sync core touches:
// cards, facts, revlog, gravestones, models, groups, group-configs, tags,
// and corpus metadata (distilled spec §3). The schema beyond these columns
// is assumed; this package owns only what the protocol reads or writes.
package corpus

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO), same as the ambient stack's state store.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit bounds WAL growth between checkpoints.
const walJournalSizeLimit = 67108864 // 64 MiB

// execer is satisfied by both *sql.DB and *sql.Tx. Every Store method
// queries through exec() rather than db directly, so that once a session
// transaction is open, every read and write the session makes — including
// its own reads of rows it just wrote — runs against that transaction
// instead of autocommitting in isolation.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the sole owner of the corpus SQLite database. One Store per
// corpus (client's local file, or the server's per-user database).
type Store struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *Store) exec() execer {
	if s.tx != nil {
		return s.tx
	}

	return s.db
}

// Begin opens the single write transaction a sync session mutates through
// (distilled spec §5 "one write transaction per side, committed only in
// Finish"). Every Store method called between Begin and Commit/Rollback
// executes against this transaction. Not safe to call concurrently with
// itself on the same Store — a corpus lock must already serialize sessions
// against one corpus before Begin is ever called.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("corpus: session transaction already open")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("corpus: begin session transaction: %w", err)
	}

	s.tx = tx

	return nil
}

// Commit commits the open session transaction (distilled spec §4.1
// "Finalize").
func (s *Store) Commit() error {
	if s.tx == nil {
		return fmt.Errorf("corpus: no open session transaction")
	}

	tx := s.tx
	s.tx = nil

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("corpus: commit session transaction: %w", err)
	}

	return nil
}

// Rollback discards the open session transaction, undoing every mutation
// made since Begin. A no-op if no transaction is open, so callers can
// defer it unconditionally on an error path (distilled spec §5
// "Cancellation").
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("corpus: rollback session transaction: %w", err)
	}

	return nil
}

// Open creates a Store backed by the database at path (":memory:" for
// tests), applying WAL pragmas and running embedded migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening corpus database", slog.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open sqlite: %w", err)
	}

	if pragmaErr := setPragmas(ctx, db); pragmaErr != nil {
		db.Close()
		return nil, pragmaErr
	}

	if migErr := runMigrations(ctx, db, logger); migErr != nil {
		db.Close()
		return nil, migErr
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for callers outside a session — tests
// configuring the connection pool, and read-only CLI commands (status,
// verify) that have no session transaction to run against.
func (s *Store) DB() *sql.DB {
	return s.db
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("corpus: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies embedded schema migrations via goose's context-aware
// Provider API, matching the ambient stack's migration tooling.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("corpus: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("corpus: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("corpus: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}
