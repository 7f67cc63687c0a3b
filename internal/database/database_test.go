package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"talon/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "talon.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedQueue(t *testing.T, db *DB, dailyLimit int) *models.Queue {
	t.Helper()
	q := &models.Queue{Name: "lab", IsActive: true, DailyLimit: dailyLimit, AvgServiceMinutes: 10}
	require.NoError(t, db.CreateQueue(context.Background(), q))
	return q
}

func seedProvider(t *testing.T, db *DB) *models.Provider {
	t.Helper()
	p := &models.Provider{Name: "dr-petrov", IsActive: true}
	require.NoError(t, db.CreateProvider(context.Background(), p))
	return p
}

func TestSequenceScopedPerResourceAndDay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q1 := seedQueue(t, db, 0)

	q2 := &models.Queue{Name: "xray", IsActive: true}
	require.NoError(t, db.CreateQueue(ctx, q2))

	day1 := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	for i := int64(1); i <= 3; i++ {
		ticket, err := db.CreateTicket(ctx, CreateTicketInput{QueueID: q1.ID, Now: day1})
		require.NoError(t, err)
		assert.Equal(t, i, ticket.Number)
	}

	// A different queue starts at 1 independently.
	ticket, err := db.CreateTicket(ctx, CreateTicketInput{QueueID: q2.ID, Now: day1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.Number)

	// The next day resets the counter.
	ticket, err = db.CreateTicket(ctx, CreateTicketInput{QueueID: q1.ID, Now: day2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ticket.Number)

	current, err := db.CurrentSequence(ctx, KindQueue, q1.ID, Day(day1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)

	current, err = db.CurrentSequence(ctx, KindQueue, q1.ID, "2026-01-01")
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestCreateTicketCapacityCountsAllStatuses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := seedQueue(t, db, 2)

	first, err := db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
	require.NoError(t, err)
	_, err = db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
	require.NoError(t, err)

	_, err = db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Cancelling does not free queue capacity: the number was consumed.
	_, _, err = db.TransitionTicket(ctx, first.ID, models.ActionCancel, time.Now())
	require.NoError(t, err)
	_, err = db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestTransitionTicketGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := seedQueue(t, db, 0)

	ticket, err := db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
	require.NoError(t, err)

	now := time.Now()
	called, old, err := db.TransitionTicket(ctx, ticket.ID, models.ActionCall, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, old)
	assert.Equal(t, models.StatusCalled, called.Status)
	require.NotNil(t, called.CalledAt)

	serving, _, err := db.TransitionTicket(ctx, ticket.ID, models.ActionServe, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusServing, serving.Status)
	require.NotNil(t, serving.ServingAt)

	served, _, err := db.TransitionTicket(ctx, ticket.ID, models.ActionComplete, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusServed, served.Status)
	require.NotNil(t, served.CompletedAt)

	// Terminal status accepts no further action.
	_, _, err = db.TransitionTicket(ctx, ticket.ID, models.ActionCancel, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = db.TransitionTicket(ctx, "missing", models.ActionCall, now)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketPosition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := seedQueue(t, db, 0)

	var ids []string
	for i := 0; i < 3; i++ {
		ticket, err := db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
		require.NoError(t, err)
		ids = append(ids, ticket.ID)
	}

	position, err := db.TicketPosition(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 2, position)

	// Serving the first ticket keeps it active and ahead.
	_, _, err = db.TransitionTicket(ctx, ids[0], models.ActionCall, time.Now())
	require.NoError(t, err)
	position, err = db.TicketPosition(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 2, position)

	// Skipping removes it from the line.
	_, _, err = db.TransitionTicket(ctx, ids[0], models.ActionSkip, time.Now())
	require.NoError(t, err)
	position, err = db.TicketPosition(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 1, position)
}

func TestCreateBookingSlotConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := seedProvider(t, db)

	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	booking, err := db.CreateBooking(ctx, CreateBookingInput{ProviderID: p.ID, SlotStart: start, SlotEnd: end})
	require.NoError(t, err)
	assert.Equal(t, int64(1), booking.Number)
	assert.Equal(t, models.BookingPending, booking.Status)

	// Same slot is refused, as is a partial overlap.
	_, err = db.CreateBooking(ctx, CreateBookingInput{ProviderID: p.ID, SlotStart: start, SlotEnd: end})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	_, err = db.CreateBooking(ctx, CreateBookingInput{
		ProviderID: p.ID,
		SlotStart:  start.Add(15 * time.Minute),
		SlotEnd:    end.Add(15 * time.Minute),
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// Cancelling frees the slot for rebooking with the next number.
	_, _, err = db.TransitionBooking(ctx, booking.ID, "cancel", time.Now())
	require.NoError(t, err)

	rebooked, err := db.CreateBooking(ctx, CreateBookingInput{ProviderID: p.ID, SlotStart: start, SlotEnd: end})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rebooked.Number)
}

func TestCreateBookingNumberCollisionIsRetryable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := seedProvider(t, db)

	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	now := time.Now()

	// Occupy number 1 for the day behind the counter's back, as if a
	// parallel writer had already won the race for it.
	_, err := db.ExecContext(ctx, `
		INSERT INTO bookings (id, provider_id, number, slot_start, slot_end, status, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, 'pending', ?, ?)`,
		"b-stray", p.ID, start, start.Add(30*time.Minute), now, now,
	)
	require.NoError(t, err)

	// A free slot that collides only on (provider, day, number) must surface
	// as retryable, not as a taken slot.
	next := start.Add(time.Hour)
	_, err = db.CreateBooking(ctx, CreateBookingInput{
		ProviderID: p.ID, SlotStart: next, SlotEnd: next.Add(30 * time.Minute),
	})
	assert.ErrorIs(t, err, ErrSequenceConflict)

	// A genuine slot collision still reads as a taken slot.
	_, err = db.CreateBooking(ctx, CreateBookingInput{
		ProviderID: p.ID, SlotStart: start, SlotEnd: start.Add(30 * time.Minute),
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookingCapacityCountsActiveOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := &models.Provider{Name: "dr-sidorova", IsActive: true, DailyLimit: 1}
	require.NoError(t, db.CreateProvider(ctx, p))

	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	booking, err := db.CreateBooking(ctx, CreateBookingInput{
		ProviderID: p.ID, SlotStart: start, SlotEnd: start.Add(30 * time.Minute),
	})
	require.NoError(t, err)

	next := start.Add(time.Hour)
	_, err = db.CreateBooking(ctx, CreateBookingInput{
		ProviderID: p.ID, SlotStart: next, SlotEnd: next.Add(30 * time.Minute),
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// A cancelled booking releases provider capacity.
	_, _, err = db.TransitionBooking(ctx, booking.ID, "cancel", time.Now())
	require.NoError(t, err)
	_, err = db.CreateBooking(ctx, CreateBookingInput{
		ProviderID: p.ID, SlotStart: next, SlotEnd: next.Add(30 * time.Minute),
	})
	require.NoError(t, err)
}

func TestTransitionBookingFlow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := seedProvider(t, db)

	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	booking, err := db.CreateBooking(ctx, CreateBookingInput{
		ProviderID: p.ID, SlotStart: start, SlotEnd: start.Add(30 * time.Minute),
	})
	require.NoError(t, err)

	now := time.Now()
	confirmed, old, err := db.TransitionBooking(ctx, booking.ID, "confirm", now)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, old)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)

	// Reject only applies to pending bookings.
	_, _, err = db.TransitionBooking(ctx, booking.ID, "reject", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = db.TransitionBooking(ctx, "missing", "confirm", now)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestScheduleUpsertAndResolve(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := seedProvider(t, db)

	sched := &models.Schedule{
		ProviderID: p.ID,
		DayOfWeek:  1,
		StartTime:  "09:00",
		EndTime:    "17:00",
		BreakStart: "13:00",
		BreakEnd:   "14:00",
		IsActive:   true,
	}
	require.NoError(t, db.UpsertSchedule(ctx, sched))

	// Monday 2026-09-07.
	monday := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	got, err := db.GetScheduleForDate(ctx, p.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, "09:00", got.StartTime)
	assert.Equal(t, 30, got.SlotDuration)
	assert.Equal(t, "13:00", got.BreakStart)

	// Upsert replaces the existing row for the same day of week.
	sched.StartTime = "10:00"
	require.NoError(t, db.UpsertSchedule(ctx, sched))
	got, err = db.GetScheduleForDate(ctx, p.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, "10:00", got.StartTime)

	// Sunday maps to day 7; nothing is configured there.
	sunday := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC)
	_, err = db.GetScheduleForDate(ctx, p.ID, sunday)
	assert.Error(t, err)

	assert.Error(t, db.UpsertSchedule(ctx, &models.Schedule{ProviderID: p.ID, DayOfWeek: 8}))
}

func TestEnsureDefaultSchedules(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := seedProvider(t, db)

	require.NoError(t, db.EnsureDefaultSchedules(ctx))

	for dayOfWeek := 1; dayOfWeek <= 7; dayOfWeek++ {
		got, err := db.GetScheduleByDay(ctx, p.ID, dayOfWeek)
		require.NoError(t, err)
		assert.Equal(t, DefaultScheduleConfig.StartTime, got.StartTime)
		assert.Equal(t, DefaultScheduleConfig.SlotDuration, got.SlotDuration)
	}

	// Re-running does not overwrite customized hours.
	custom := &models.Schedule{
		ProviderID: p.ID, DayOfWeek: 1, StartTime: "08:00", EndTime: "12:00", IsActive: true,
	}
	require.NoError(t, db.UpsertSchedule(ctx, custom))
	require.NoError(t, db.EnsureDefaultSchedules(ctx))

	got, err := db.GetScheduleByDay(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "08:00", got.StartTime)
}

func TestQueueStatsForDay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := seedQueue(t, db, 0)
	day := Day(time.Now())

	// Empty day still answers with the configured average.
	stats, err := db.QueueStatsForDay(ctx, q.ID, day)
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
	assert.Equal(t, q.AvgServiceMinutes, stats.AvgServiceMinutes)

	first, err := db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
	require.NoError(t, err)
	_, err = db.CreateTicket(ctx, CreateTicketInput{QueueID: q.ID})
	require.NoError(t, err)

	// Serve the first ticket in 20 minutes of wall time.
	base := time.Now().Add(-time.Hour)
	_, _, err = db.TransitionTicket(ctx, first.ID, models.ActionCall, base)
	require.NoError(t, err)
	_, _, err = db.TransitionTicket(ctx, first.ID, models.ActionServe, base)
	require.NoError(t, err)
	_, _, err = db.TransitionTicket(ctx, first.ID, models.ActionComplete, base.Add(20*time.Minute))
	require.NoError(t, err)

	stats, err = db.QueueStatsForDay(ctx, q.ID, day)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.Served)
	assert.Equal(t, 20, stats.AvgServiceMinutes)

	_, err = db.QueueStatsForDay(ctx, 999, day)
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestListTicketsForDay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := seedQueue(t, db, 0)

	now := time.Now()
	for i := 0; i < 3; i++ {
		_, err := db.CreateTicket(ctx, CreateTicketInput{
			QueueID: q.ID, VisitorName: "visitor", Now: now,
		})
		require.NoError(t, err)
	}

	tickets, err := db.ListTicketsForDay(ctx, q.ID, Day(now))
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	for i, ticket := range tickets {
		assert.Equal(t, int64(i+1), ticket.Number)
		assert.Equal(t, "visitor", ticket.VisitorName)
	}
}
