package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for Postgres (pgx) or SQLite (go-sqlite3).
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a connection with sane pool defaults and pings it.
// driver is "pgx" for Postgres or "sqlite3" for a local file.
func NewDB(driver, connString string) (*DB, error) {
	switch driver {
	case "pgx":
	case "sqlite3", "sqlite":
		driver = "sqlite3"
		if dir := filepath.Dir(connString); dir != "." && !strings.HasPrefix(connString, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		if !strings.Contains(connString, "?") {
			connString += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite3" {
		// One writer; every statement inside a transaction must use the tx.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	d := &DB{Client: db, Driver: driver}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d, db.PingContext(ctx)
}

// Migrate creates the schema if it does not exist. The DDL is portable
// between Postgres and SQLite.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT UNIQUE NOT NULL,
		email         TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'teacher',
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS classes (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		teacher_id  TEXT NOT NULL REFERENCES users(id),
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		student_id     TEXT UNIQUE NOT NULL,
		email          TEXT NOT NULL DEFAULT '',
		class_id       TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		face_encoding  TEXT,
		face_image_key TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_sessions (
		id           TEXT PRIMARY KEY,
		class_id     TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		session_date DATE NOT NULL,
		start_time   TIMESTAMP NOT NULL,
		end_time     TIMESTAMP,
		image_key    TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'in_progress'
			CHECK (status IN ('in_progress', 'processing', 'completed', 'failed')),
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES attendance_sessions(id) ON DELETE CASCADE,
		student_id  TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		status      TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late')),
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (session_id, student_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_students_class ON students(class_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_class_date ON attendance_sessions(class_id, session_date)`,
	`CREATE INDEX IF NOT EXISTS idx_records_session ON attendance_records(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_records_student ON attendance_records(student_id)`,
}
