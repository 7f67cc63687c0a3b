package database

import (
	"context"
	"database/sql"
)

// Resource kinds scoping sequence counters.
const (
	KindQueue    = "queue"
	KindProvider = "provider"
)

// nextSequence issues the next number for (resource, day). The upsert bumps
// the counter row atomically inside the caller's transaction, so the number
// only becomes visible together with the record that consumes it. Concurrent
// transactions serialize on the sqlite write lock; the loser surfaces
// ErrSequenceConflict through mapSqliteErr and the caller retries.
func nextSequence(ctx context.Context, tx *sql.Tx, kind string, resourceID int64, day string) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO sequence_counters (resource_kind, resource_id, day, next_number)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(resource_kind, resource_id, day)
		DO UPDATE SET next_number = next_number + 1
		RETURNING next_number`,
		kind, resourceID, day,
	).Scan(&next)
	if err != nil {
		return 0, mapSqliteErr(err)
	}
	return next, nil
}

// CurrentSequence returns the highest number issued so far for (resource, day),
// zero if none. Read-only, used by tests and diagnostics.
func (db *DB) CurrentSequence(ctx context.Context, kind string, resourceID int64, day string) (int64, error) {
	var current int64
	err := db.QueryRowContext(ctx, `
		SELECT next_number FROM sequence_counters
		WHERE resource_kind = ? AND resource_id = ? AND day = ?`,
		kind, resourceID, day,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return current, err
}
