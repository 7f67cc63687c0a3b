package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"talon/internal/models"
)

// DefaultScheduleConfig provides default working hours for seeded schedules.
var DefaultScheduleConfig = struct {
	StartTime    string
	EndTime      string
	SlotDuration int
}{
	StartTime:    "09:00",
	EndTime:      "18:00",
	SlotDuration: 30,
}

func (db *DB) CreateQueue(ctx context.Context, q *models.Queue) error {
	if q.AvgServiceMinutes <= 0 {
		q.AvgServiceMinutes = 10
	}
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO queues (name, is_active, daily_limit, avg_service_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		q.Name, q.IsActive, q.DailyLimit, q.AvgServiceMinutes, now, now,
	)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	q.ID, err = res.LastInsertId()
	q.CreatedAt = now
	q.UpdatedAt = now
	return err
}

func (db *DB) GetQueue(ctx context.Context, id int64) (*models.Queue, error) {
	var q models.Queue
	err := db.QueryRowContext(ctx, `
		SELECT id, name, is_active, daily_limit, avg_service_minutes, created_at, updated_at
		FROM queues WHERE id = ?`, id,
	).Scan(&q.ID, &q.Name, &q.IsActive, &q.DailyLimit, &q.AvgServiceMinutes, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (db *DB) ListQueues(ctx context.Context) ([]models.Queue, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, is_active, daily_limit, avg_service_minutes, created_at, updated_at
		FROM queues ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		var q models.Queue
		if err := rows.Scan(&q.ID, &q.Name, &q.IsActive, &q.DailyLimit, &q.AvgServiceMinutes, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

func (db *DB) SetQueueActive(ctx context.Context, id int64, active bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE queues SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQueueNotFound
	}
	return nil
}

func (db *DB) CreateProvider(ctx context.Context, p *models.Provider) error {
	now := time.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO providers (name, is_active, daily_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.IsActive, p.DailyLimit, now, now,
	)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	p.ID, err = res.LastInsertId()
	p.CreatedAt = now
	p.UpdatedAt = now
	return err
}

func (db *DB) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	var p models.Provider
	err := db.QueryRowContext(ctx, `
		SELECT id, name, is_active, daily_limit, created_at, updated_at
		FROM providers WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.IsActive, &p.DailyLimit, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *DB) ListProviders(ctx context.Context) ([]models.Provider, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, is_active, daily_limit, created_at, updated_at
		FROM providers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []models.Provider
	for rows.Next() {
		var p models.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.IsActive, &p.DailyLimit, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// UpsertSchedule creates or replaces the working hours for one day of week.
func (db *DB) UpsertSchedule(ctx context.Context, s *models.Schedule) error {
	if s.DayOfWeek < 1 || s.DayOfWeek > 7 {
		return fmt.Errorf("day_of_week out of range: %d", s.DayOfWeek)
	}
	if s.SlotDuration <= 0 {
		s.SlotDuration = DefaultScheduleConfig.SlotDuration
	}
	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO provider_schedules (
			provider_id, day_of_week, start_time, end_time,
			break_start, break_end, slot_duration, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, day_of_week) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			break_start = excluded.break_start,
			break_end = excluded.break_end,
			slot_duration = excluded.slot_duration,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		s.ProviderID, s.DayOfWeek, s.StartTime, s.EndTime,
		nullIfEmpty(s.BreakStart), nullIfEmpty(s.BreakEnd), s.SlotDuration, s.IsActive, now, now,
	)
	return err
}

// GetScheduleByDay returns the active schedule for a day of week (Monday=1,
// Sunday=7). A missing schedule is reported as sql.ErrNoRows.
func (db *DB) GetScheduleByDay(ctx context.Context, providerID int64, dayOfWeek int) (*models.Schedule, error) {
	var s models.Schedule
	var breakStart, breakEnd sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, provider_id, day_of_week, start_time, end_time,
		       break_start, break_end, slot_duration, is_active, created_at, updated_at
		FROM provider_schedules
		WHERE provider_id = ? AND day_of_week = ? AND is_active = 1
		LIMIT 1`,
		providerID, dayOfWeek,
	).Scan(
		&s.ID, &s.ProviderID, &s.DayOfWeek, &s.StartTime, &s.EndTime,
		&breakStart, &breakEnd, &s.SlotDuration, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if breakStart.Valid {
		s.BreakStart = breakStart.String
	}
	if breakEnd.Valid {
		s.BreakEnd = breakEnd.String
	}
	return &s, nil
}

// GetScheduleForDate resolves the weekly schedule effective on a date.
func (db *DB) GetScheduleForDate(ctx context.Context, providerID int64, date time.Time) (*models.Schedule, error) {
	dayOfWeek := int(date.Weekday())
	if dayOfWeek == 0 {
		dayOfWeek = 7 // Sunday = 7
	}
	return db.GetScheduleByDay(ctx, providerID, dayOfWeek)
}

// EnsureDefaultSchedules seeds default working hours for every active provider
// on days that have no schedule yet.
func (db *DB) EnsureDefaultSchedules(ctx context.Context) error {
	providers, err := db.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}

	for _, p := range providers {
		if !p.IsActive {
			continue
		}
		for dayOfWeek := 1; dayOfWeek <= 7; dayOfWeek++ {
			exists, err := db.scheduleExists(ctx, p.ID, dayOfWeek)
			if err != nil {
				return fmt.Errorf("check schedule: %w", err)
			}
			if exists {
				continue
			}
			sched := &models.Schedule{
				ProviderID:   p.ID,
				DayOfWeek:    dayOfWeek,
				StartTime:    DefaultScheduleConfig.StartTime,
				EndTime:      DefaultScheduleConfig.EndTime,
				SlotDuration: DefaultScheduleConfig.SlotDuration,
				IsActive:     true,
			}
			if err := db.UpsertSchedule(ctx, sched); err != nil {
				return fmt.Errorf("create schedule for provider %d day %d: %w", p.ID, dayOfWeek, err)
			}
		}
	}
	return nil
}

func (db *DB) scheduleExists(ctx context.Context, providerID int64, dayOfWeek int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM provider_schedules WHERE provider_id = ? AND day_of_week = ?",
		providerID, dayOfWeek,
	).Scan(&count)
	return count > 0, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
