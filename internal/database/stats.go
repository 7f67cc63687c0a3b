package database

import (
	"context"
	"database/sql"

	"talon/internal/models"
)

// QueueStatsForDay recomputes the per-status counts and the rolling average
// service duration from ticket rows. This is the durable fallback behind the
// status cache and the canonical answer the cache must converge to.
func (db *DB) QueueStatsForDay(ctx context.Context, queueID int64, day string) (*models.QueueStats, error) {
	if _, err := db.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}

	stats := &models.QueueStats{QueueID: queueID, Day: day}
	rows, err := db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tickets
		WHERE queue_id = ? AND day = ?
		GROUP BY status`,
		queueID, day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case models.StatusWaiting:
			stats.Waiting = count
		case models.StatusCalled:
			stats.Called = count
		case models.StatusServing:
			stats.Serving = count
		case models.StatusServed:
			stats.Served = count
		case models.StatusSkipped:
			stats.Skipped = count
		case models.StatusCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	avg, err := db.avgServiceMinutes(ctx, queueID, day)
	if err != nil {
		return nil, err
	}
	if avg <= 0 {
		// No completed service yet today; fall back to the configured estimate.
		err = db.QueryRowContext(ctx,
			`SELECT avg_service_minutes FROM queues WHERE id = ?`, queueID,
		).Scan(&avg)
		if err != nil {
			return nil, err
		}
	}
	stats.AvgServiceMinutes = avg
	return stats, nil
}

func (db *DB) avgServiceMinutes(ctx context.Context, queueID int64, day string) (int, error) {
	var avg sql.NullFloat64
	err := db.QueryRowContext(ctx, `
		SELECT AVG((julianday(completed_at) - julianday(serving_at)) * 24 * 60)
		FROM tickets
		WHERE queue_id = ? AND day = ? AND status = 'served'
			AND serving_at IS NOT NULL AND completed_at IS NOT NULL`,
		queueID, day,
	).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	minutes := int(avg.Float64 + 0.5)
	if minutes < 1 {
		minutes = 1
	}
	return minutes, nil
}
