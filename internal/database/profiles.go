package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/profile"
)

// ProfileRepository stores calibration profiles in SQLite
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a repository over a migrated database
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// List loads every profile with its breakpoints
func (r *ProfileRepository) List(ctx context.Context) ([]*profile.Profile, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, name, width, height, cycle_length_frames,
			logical_frame_rate, slow_motion_factor, created_at
		FROM profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}

	var ids []int64
	var out []*profile.Profile
	for rows.Next() {
		var id int64
		p := &profile.Profile{}
		if err := rows.Scan(&id, &p.Name, &p.Resolution.Width, &p.Resolution.Height,
			&p.CycleLengthFrames, &p.LogicalFrameRate, &p.SlowMotionFactor, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		ids = append(ids, id)
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		bps, err := r.breakpoints(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].Breakpoints = bps
	}
	return out, nil
}

func (r *ProfileRepository) breakpoints(ctx context.Context, profileID int64) ([]profile.Breakpoint, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT ratio, frame FROM profile_breakpoints
		WHERE profile_id = ?
		ORDER BY seq
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query breakpoints: %w", err)
	}
	defer rows.Close()

	var bps []profile.Breakpoint
	for rows.Next() {
		var bp profile.Breakpoint
		if err := rows.Scan(&bp.Ratio, &bp.Frame); err != nil {
			return nil, fmt.Errorf("failed to scan breakpoint: %w", err)
		}
		bps = append(bps, bp)
	}
	return bps, rows.Err()
}

// Get loads one profile by name
func (r *ProfileRepository) Get(ctx context.Context, name string) (*profile.Profile, error) {
	var id int64
	p := &profile.Profile{}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, name, width, height, cycle_length_frames,
			logical_frame_rate, slow_motion_factor, created_at
		FROM profiles WHERE name = ?
	`, name).Scan(&id, &p.Name, &p.Resolution.Width, &p.Resolution.Height,
		&p.CycleLengthFrames, &p.LogicalFrameRate, &p.SlowMotionFactor, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", profile.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", name, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()

	if p.Breakpoints, err = r.breakpoints(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// Save inserts or replaces a profile and its breakpoints
func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile) error {
	return r.db.ExecTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (
				name, width, height, cycle_length_frames,
				logical_frame_rate, slow_motion_factor, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				width = excluded.width,
				height = excluded.height,
				cycle_length_frames = excluded.cycle_length_frames,
				logical_frame_rate = excluded.logical_frame_rate,
				slow_motion_factor = excluded.slow_motion_factor,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`, p.Name, p.Resolution.Width, p.Resolution.Height, p.CycleLengthFrames,
			p.LogicalFrameRate, p.SlowMotionFactor, p.CreatedAt.UTC(), now)
		if err != nil {
			return fmt.Errorf("failed to upsert profile: %w", err)
		}

		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE name = ?`, p.Name).Scan(&id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM profile_breakpoints WHERE profile_id = ?`, id); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO profile_breakpoints (profile_id, seq, ratio, frame)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, bp := range p.Breakpoints {
			if _, err := stmt.ExecContext(ctx, id, i, bp.Ratio, bp.Frame); err != nil {
				return fmt.Errorf("failed to insert breakpoint %d: %w", i, err)
			}
		}
		return nil
	})
}

// Delete removes a profile; its breakpoints cascade
func (r *ProfileRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, name)
	}
	return nil
}

// ForResolution lists profile names calibrated at res
func (r *ProfileRepository) ForResolution(ctx context.Context, res cv.Resolution) ([]string, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT name FROM profiles WHERE width = ? AND height = ? ORDER BY name
	`, res.Width, res.Height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
