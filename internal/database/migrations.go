package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
		Down:        migration001Down,
	},
	{
		Version:     2,
		Description: "Create profiles and profile_breakpoints tables",
		Up:          migration002Up,
		Down:        migration002Down,
	},
	{
		Version:     3,
		Description: "Create calibration_runs table",
		Up:          migration003Up,
		Down:        migration003Down,
	},
}

// LatestVersion is the schema version after all migrations
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations() error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	db.log.DebugWithContext("Checking migrations", map[string]interface{}{"version": currentVersion})

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			_, err := tx.Exec(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, migration.Version, migration.Description, time.Now())

			return err
		})

		if err != nil {
			return err
		}

		db.log.InfoWithContext("Applied migration", map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
	}

	return nil
}

// RollbackTo reverts migrations above version, newest first
func (db *DB) RollbackTo(version int) error {
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version <= version || migration.Version > currentVersion {
			continue
		}

		err := db.ExecTx(func(tx *sql.Tx) error {
			if migration.Version > 1 {
				if _, err := tx.Exec(`DELETE FROM schema_version WHERE version = ?`, migration.Version); err != nil {
					return err
				}
			}
			return migration.Down(tx)
		})
		if err != nil {
			return fmt.Errorf("rollback of migration %d failed: %w", migration.Version, err)
		}
	}
	return nil
}

// getCurrentVersion returns the current schema version
func (db *DB) getCurrentVersion() (int, error) {
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)

	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	var version int
	err = db.conn.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)

	if err != nil {
		return 0, err
	}

	return version, nil
}

// Migration 001: Schema version tracking table
func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	return err
}

func migration001Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS schema_version`)
	return err
}

// Migration 002: Calibration profiles
func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			cycle_length_frames INTEGER NOT NULL CHECK (cycle_length_frames >= 2),
			logical_frame_rate REAL NOT NULL DEFAULT 0,
			slow_motion_factor REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX idx_profiles_resolution ON profiles(width, height);

		CREATE TABLE profile_breakpoints (
			profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			ratio REAL NOT NULL CHECK (ratio >= 0 AND ratio <= 1),
			frame INTEGER NOT NULL CHECK (frame >= 0),
			PRIMARY KEY (profile_id, seq)
		);
	`)
	return err
}

func migration002Down(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DROP TABLE IF EXISTS profile_breakpoints;
		DROP TABLE IF EXISTS profiles;
	`)
	return err
}

// Migration 003: Calibration run history
func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE calibration_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			profile_name TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT,
			error_message TEXT,
			samples INTEGER NOT NULL DEFAULT 0,
			rejected INTEGER NOT NULL DEFAULT 0,
			cycle_length_frames INTEGER,
			width INTEGER,
			height INTEGER,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		);

		CREATE INDEX idx_calibration_runs_finished ON calibration_runs(finished_at);
	`)
	return err
}

func migration003Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS calibration_runs`)
	return err
}
