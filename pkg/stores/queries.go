package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shipshape-io/shipshape/pkg/engine"
)

const runColumns = `id, plan_id, name, phase, dry, started_at, completed_at,
	duration_ms, hosts, connected, unreachable, failed, changed,
	operations, commands, skipped, error`

// GetRun returns one run by ID. Returns ErrNotFound when the run does
// not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs ordered newest first. A limit of zero or less
// means no limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetReport reconstructs the full report of one run: the run record,
// its host results, and its operation records in execution order.
func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*engine.Report, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := &engine.Report{Run: *run}

	hosts, err := s.db.QueryContext(ctx, `
		SELECT host, status, error, ops_changed, ops_unchanged,
		       ops_failed, ops_ignored, ops_skipped, duration_ms
		FROM host_results WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load host results: %w", err)
	}
	defer hosts.Close()
	for hosts.Next() {
		var (
			res    engine.HostResult
			status string
			durMS  int64
		)
		err := hosts.Scan(&res.Host, &status, &res.Error,
			&res.OpsChanged, &res.OpsUnchanged, &res.OpsFailed,
			&res.OpsIgnored, &res.OpsSkipped, &durMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host result: %w", err)
		}
		res.Status = engine.HostStatus(status)
		res.Duration = time.Duration(durMS) * time.Millisecond
		report.Hosts = append(report.Hosts, &res)
	}
	if err := hosts.Err(); err != nil {
		return nil, err
	}

	recs, err := s.db.QueryContext(ctx, `
		SELECT op_order, host, op, name, status, commands, exit_code,
		       error, output, started_at, duration_ms
		FROM op_records WHERE run_id = ? ORDER BY op_order, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer recs.Close()
	for recs.Next() {
		var (
			rec    engine.Record
			status string
			durMS  int64
		)
		err := recs.Scan(&rec.Order, &rec.Host, &rec.Op, &rec.Name,
			&status, &rec.Commands, &rec.ExitCode, &rec.Error,
			&rec.Output, &rec.StartedAt, &durMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Status = engine.OpStatus(status)
		rec.Duration = time.Duration(durMS) * time.Millisecond
		report.Records = append(report.Records, &rec)
	}
	return report, recs.Err()
}

// DeleteRun removes a run and, through cascading deletes, its host
// results and records.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return nil
}

// Prune deletes all but the newest keep runs and returns the number of
// runs removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check prune result: %w", err)
	}
	return int(n), nil
}

// scanner is the shared subset of sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*engine.Run, error) {
	var (
		run       engine.Run
		phase     string
		completed sql.NullTime
		durMS     int64
	)
	err := row.Scan(&run.ID, &run.PlanID, &run.Name, &phase, &run.Dry,
		&run.StartedAt, &completed, &durMS,
		&run.Summary.Hosts, &run.Summary.Connected,
		&run.Summary.Unreachable, &run.Summary.Failed,
		&run.Summary.Changed, &run.Summary.Operations,
		&run.Summary.Commands, &run.Summary.Skipped, &run.Error)
	if err != nil {
		return nil, err
	}
	run.Phase = engine.Phase(phase)
	run.Duration = time.Duration(durMS) * time.Millisecond
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return &run, nil
}
