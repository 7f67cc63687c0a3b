package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite connection used as the durable source of truth.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

var (
	// ErrResourceInactive means the queue or provider is disabled.
	ErrResourceInactive = errors.New("resource inactive")
	// ErrCapacityExceeded means the daily limit for the resource is reached.
	ErrCapacityExceeded = errors.New("daily capacity exceeded")
	// ErrSlotUnavailable means the requested appointment slot is taken or
	// outside working hours.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrSequenceConflict is a transient serialization failure; the caller
	// retries the whole allocation.
	ErrSequenceConflict = errors.New("sequence conflict")
	// ErrInvalidTransition means the entity is not in a status the requested
	// action may start from.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrQueueNotFound    = errors.New("queue not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrBookingNotFound  = errors.New("booking not found")
)

// NewDB opens the database, tunes the pool and creates tables if needed.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode and a busy timeout keep concurrent allocations from failing
	// immediately on the sqlite write lock. Immediate transactions take the
	// write lock up front, so a transaction never fails on a mid-flight lock
	// upgrade that the busy timeout cannot wait out.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, logger: logger}
	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queues (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			daily_limit INTEGER NOT NULL DEFAULT 0,
			avg_service_minutes INTEGER NOT NULL DEFAULT 10,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			daily_limit INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS provider_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			break_start TEXT,
			break_end TEXT,
			slot_duration INTEGER NOT NULL DEFAULT 30,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(provider_id, day_of_week),
			FOREIGN KEY(provider_id) REFERENCES providers(id)
		)`,
		// The single point of truth for number issuance: one row per
		// (resource, day), bumped atomically inside the allocation transaction.
		`CREATE TABLE IF NOT EXISTS sequence_counters (
			resource_kind TEXT NOT NULL,
			resource_id INTEGER NOT NULL,
			day TEXT NOT NULL,
			next_number INTEGER NOT NULL,
			PRIMARY KEY (resource_kind, resource_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			queue_id INTEGER NOT NULL,
			number INTEGER NOT NULL,
			day TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			visitor_name TEXT,
			visitor_phone TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			called_at DATETIME,
			serving_at DATETIME,
			completed_at DATETIME,
			FOREIGN KEY(queue_id) REFERENCES queues(id)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			provider_id INTEGER NOT NULL,
			number INTEGER NOT NULL,
			slot_start DATETIME NOT NULL,
			slot_end DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			client_name TEXT,
			client_phone TEXT,
			comment TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(provider_id) REFERENCES providers(id)
		)`,

		// Duplicate numbers within one (queue, day) are a bug, not data.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_queue_day_number
			ON tickets(queue_id, day, number)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_queue_day_status ON tickets(queue_id, day, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_day ON tickets(day)`,

		// The final authority against double booking: at most one active
		// booking per (provider, slot_start).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_provider_slot
			ON bookings(provider_id, slot_start)
			WHERE status NOT IN ('cancelled', 'rejected')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_provider_day_number
			ON bookings(provider_id, date(slot_start), number)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_provider_start ON bookings(provider_id, slot_start)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Day returns t formatted as the day key used throughout the schema.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}

// begin starts a transaction and maps sqlite busy errors to the transient
// conflict sentinel so callers can retry.
func (db *DB) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSqliteErr(err)
	}
	return tx, nil
}

// mapSqliteErr translates driver-level failures into the package sentinels.
func mapSqliteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"):
		return ErrSlotUnavailable
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "database table is locked"), strings.Contains(msg, "busy"):
		return ErrSequenceConflict
	default:
		return err
	}
}
