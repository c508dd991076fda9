package database

import (
	"context"
	"database/sql"
	"fmt"

	"jordanella.com/cost-ruler/internal/calibration"
)

// RunRepository stores calibration history
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a run repository over a migrated database
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// RecordRun inserts one finished session
func (r *RunRepository) RecordRun(ctx context.Context, run calibration.RunRecord) error {
	var cycle, width, height sql.NullInt64
	if run.CycleLengthFrames > 0 {
		cycle = sql.NullInt64{Int64: int64(run.CycleLengthFrames), Valid: true}
		width = sql.NullInt64{Int64: int64(run.Resolution.Width), Valid: true}
		height = sql.NullInt64{Int64: int64(run.Resolution.Height), Valid: true}
	}

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO calibration_runs (
			session_id, profile_name, outcome, reason, error_message,
			samples, rejected, cycle_length_frames, width, height,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.SessionID, run.ProfileName, run.Outcome.String(),
		nullString(string(run.Reason)), nullString(run.Error),
		run.Samples, run.Rejected, cycle, width, height,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record calibration run %s: %w", run.SessionID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first
func (r *RunRepository) RecentRuns(ctx context.Context, limit int) ([]calibration.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT session_id, profile_name, outcome, reason, error_message,
			samples, rejected, cycle_length_frames, width, height,
			started_at, finished_at
		FROM calibration_runs
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration runs: %w", err)
	}
	defer rows.Close()

	var runs []calibration.RunRecord
	for rows.Next() {
		var (
			run                  calibration.RunRecord
			outcome              string
			reason, errMsg       sql.NullString
			cycle, width, height sql.NullInt64
		)
		if err := rows.Scan(&run.SessionID, &run.ProfileName, &outcome, &reason, &errMsg,
			&run.Samples, &run.Rejected, &cycle, &width, &height,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan calibration run: %w", err)
		}

		run.Outcome = calibration.ParseState(outcome)
		run.Reason = calibration.Reason(reason.String)
		run.Error = errMsg.String
		run.CycleLengthFrames = int(cycle.Int64)
		run.Resolution.Width = int(width.Int64)
		run.Resolution.Height = int(height.Int64)
		run.StartedAt = run.StartedAt.UTC()
		run.FinishedAt = run.FinishedAt.UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
