package db

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"
)

const runColumns = `SELECT r.id, h.host, r.starttime, r.endtime, COALESCE(s.status, '')
	FROM run_v1 r
	JOIN host_v1 h ON r.host_id = h.id
	LEFT JOIN status_v1 s ON r.status_id = s.id`

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run   Run
		start int64
		end   sql.NullInt64
	)
	if err := rows.Scan(&run.ID, &run.Host, &start, &end, &run.Status); err != nil {
		return Run{}, err
	}
	run.Start = time.Unix(start, 0).UTC()
	run.End = unixOrZero(end.Int64, end.Valid)
	return run, nil
}

func (s session) openRun(ctx context.Context, host string, start time.Time) (int64, error) {
	hostID, err := s.c.Hosts.GetOrCreate(ctx, s.q, host)
	if err != nil {
		return 0, err
	}
	runID, err := s.c.runs.GetOrCreate(ctx, s.q, hostID, start.Unix())
	if err != nil {
		return 0, err
	}
	if s.c.readOnly {
		return runID, nil
	}
	if err := s.setStatus(ctx, runID, StatusSetup); err != nil {
		return 0, err
	}
	return runID, nil
}

func (s session) setStatus(ctx context.Context, runID int64, status string) error {
	if s.c.readOnly {
		return ErrReadOnly
	}
	statusID, err := s.c.Statuses.GetOrCreate(ctx, s.q, status)
	if err != nil {
		return err
	}
	return s.updateRun(ctx, "UPDATE run_v1 SET status_id = ? WHERE id = ?", statusID, runID)
}

func (s session) setEndTime(ctx context.Context, runID int64, end time.Time) error {
	if s.c.readOnly {
		return ErrReadOnly
	}
	var endtime sql.NullInt64
	if !end.IsZero() {
		endtime = sql.NullInt64{Int64: end.Unix(), Valid: true}
	}
	return s.updateRun(ctx, "UPDATE run_v1 SET endtime = ? WHERE id = ?", endtime, runID)
}

func (s session) updateRun(ctx context.Context, query string, value any, runID int64) error {
	result, err := s.q.ExecContext(ctx, query, value, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", runID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	return nil
}

func (s session) run(ctx context.Context, runID int64) (Run, error) {
	for run, err := range stream(ctx, s.q, scanRun, runColumns+" WHERE r.id = ?", runID) {
		return run, err
	}
	return Run{}, fmt.Errorf("run %d: %w", runID, ErrNotFound)
}

func (s session) listRuns(ctx context.Context, filter RunFilter) iter.Seq2[Run, error] {
	now := time.Now().Unix()
	notBefore := int64(0)
	if !filter.NotBefore.IsZero() {
		notBefore = filter.NotBefore.Unix()
	}
	notAfter := now
	if !filter.NotAfter.IsZero() {
		notAfter = filter.NotAfter.Unix()
	}

	query := runColumns + " WHERE r.starttime <= ? AND COALESCE(r.endtime, ?) >= ?"
	args := []any{notAfter, now, notBefore}
	if filter.Host != "" {
		query += " AND h.host = ?"
		args = append(args, filter.Host)
	}
	query += " ORDER BY r.starttime ASC, r.id ASC"
	return stream(ctx, s.q, scanRun, query, args...)
}

// OpenRun returns the run for (host, start), creating it if needed, and sets
// its status to StatusSetup. Opening the same pair twice returns the same id.
func (c *Catalog) OpenRun(ctx context.Context, host string, start time.Time) (runID int64, err error) {
	err = c.write(ctx, func(s session) error {
		runID, err = s.openRun(ctx, host, start)
		return err
	})
	return runID, err
}

// SetStatus records the current status of a run. Any status string is accepted.
func (c *Catalog) SetStatus(ctx context.Context, runID int64, status string) error {
	if c.readOnly {
		return ErrReadOnly
	}
	return c.update(ctx, func(s session) error { return s.setStatus(ctx, runID, status) })
}

// SetEndTime records when a run finished. The last call wins; a zero time
// clears it.
func (c *Catalog) SetEndTime(ctx context.Context, runID int64, end time.Time) error {
	if c.readOnly {
		return ErrReadOnly
	}
	return c.update(ctx, func(s session) error { return s.setEndTime(ctx, runID, end) })
}

// Run returns a single run, or ErrNotFound.
func (c *Catalog) Run(ctx context.Context, runID int64) (Run, error) {
	return c.reader().run(ctx, runID)
}

// ListRuns lazily yields runs matching filter ordered by start time.
func (c *Catalog) ListRuns(ctx context.Context, filter RunFilter) iter.Seq2[Run, error] {
	return c.reader().listRuns(ctx, filter)
}

// Runs lazily yields every run in catalog order.
func (c *Catalog) Runs(ctx context.Context) iter.Seq2[Run, error] {
	return stream(ctx, c.db, scanRun, runColumns+" ORDER BY r.id ASC")
}

// CountRuns returns the number of runs in the catalog.
func (c *Catalog) CountRuns(ctx context.Context) (int64, error) {
	return c.runs.Count(ctx, c.db)
}

func (t *Tx) OpenRun(ctx context.Context, host string, start time.Time) (int64, error) {
	return t.openRun(ctx, host, start)
}

func (t *Tx) SetStatus(ctx context.Context, runID int64, status string) error {
	return t.setStatus(ctx, runID, status)
}

func (t *Tx) SetEndTime(ctx context.Context, runID int64, end time.Time) error {
	return t.setEndTime(ctx, runID, end)
}
