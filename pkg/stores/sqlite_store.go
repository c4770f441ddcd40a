package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	// Pure-Go sqlite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/shipshape-io/shipshape/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Config holds the sqlite store configuration.
type Config struct {
	// Path is the database file path. ":memory:" opens an in-memory
	// database.
	Path string

	// MaxOpenConns limits concurrent connections to the database.
	MaxOpenConns int

	// MaxIdleConns limits idle pooled connections.
	MaxIdleConns int

	// ConnMaxLifetime bounds how long a pooled connection is reused.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "shipshape.db",
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// SQLiteStore persists run history in a sqlite database. It implements
// engine.Recorder and serves the history queries of the CLI.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	log zerolog.Logger
}

// NewSQLiteStore creates a store with the given configuration. Call
// Init before use.
func NewSQLiteStore(cfg Config, log zerolog.Logger) *SQLiteStore {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}
	return &SQLiteStore{
		cfg: cfg,
		log: log.With().Str("component", "store").Logger(),
	}
}

// Init opens the database and configures the connection pool.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		s.cfg.Path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	if s.cfg.Path == ":memory:" {
		// A second connection to :memory: would open a different,
		// empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.log.Debug().Str("path", s.cfg.Path).Msg("database opened")
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate() error {
	if s.db == nil {
		return errors.New("store not initialized")
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	s.log.Debug().Msg("migrations applied")
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HealthCheck verifies the database is reachable and the schema is
// present.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'runs'`,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("schema check failed: %w", err)
	}
	if n == 0 {
		return errors.New("schema not migrated")
	}
	return nil
}

// SaveRun inserts or updates a run record. The engine saves the run
// once when it starts and again on every terminal phase.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	var completed sql.NullTime
	if run.CompletedAt != nil {
		completed = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, plan_id, name, phase, dry, started_at, completed_at,
			duration_ms, hosts, connected, unreachable, failed, changed,
			operations, commands, skipped, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			hosts = excluded.hosts,
			connected = excluded.connected,
			unreachable = excluded.unreachable,
			failed = excluded.failed,
			changed = excluded.changed,
			operations = excluded.operations,
			commands = excluded.commands,
			skipped = excluded.skipped,
			error = excluded.error`,
		run.ID, run.PlanID, run.Name, string(run.Phase), run.Dry,
		run.StartedAt, completed, run.Duration.Milliseconds(),
		run.Summary.Hosts, run.Summary.Connected, run.Summary.Unreachable,
		run.Summary.Failed, run.Summary.Changed, run.Summary.Operations,
		run.Summary.Commands, run.Summary.Skipped, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveHostResult stores the terminal result of one host.
func (s *SQLiteStore) SaveHostResult(ctx context.Context, runID string, res *engine.HostResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_results (
			run_id, host, status, error, ops_changed, ops_unchanged,
			ops_failed, ops_ignored, ops_skipped, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, host) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			ops_changed = excluded.ops_changed,
			ops_unchanged = excluded.ops_unchanged,
			ops_failed = excluded.ops_failed,
			ops_ignored = excluded.ops_ignored,
			ops_skipped = excluded.ops_skipped,
			duration_ms = excluded.duration_ms`,
		runID, res.Host, string(res.Status), res.Error,
		res.OpsChanged, res.OpsUnchanged, res.OpsFailed,
		res.OpsIgnored, res.OpsSkipped, res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save host result %s/%s: %w", runID, res.Host, err)
	}
	return nil
}

// SaveRecords stores a batch of operation records in one transaction.
// The engine never resubmits a record, so inserts are plain.
func (s *SQLiteStore) SaveRecords(ctx context.Context, runID string, recs []*engine.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO op_records (
			run_id, op_order, host, op, name, status, commands,
			exit_code, error, output, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		_, err := stmt.ExecContext(ctx,
			runID, rec.Order, rec.Host, rec.Op, rec.Name,
			string(rec.Status), rec.Commands, rec.ExitCode,
			rec.Error, rec.Output, rec.StartedAt,
			rec.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to save record %d/%s: %w", rec.Order, rec.Host, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}
