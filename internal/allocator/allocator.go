// Package allocator coordinates issuance of queue tickets and appointment
// bookings. The durable store is the only authority for numbers and slots;
// the cache layer is an optional accelerator and contention reducer.
package allocator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"talon/internal/cache"
	"talon/internal/database"
	"talon/internal/events"
	"talon/internal/metrics"
	"talon/internal/models"
	"talon/internal/slots"

	"github.com/rs/zerolog"
)

// ErrAllocationFailed is returned when every attempt at an allocation hit a
// transient conflict. The request may be retried by the client.
var ErrAllocationFailed = errors.New("allocation failed after retries")

// Config tunes retry and caching behavior.
type Config struct {
	// MaxAttempts bounds the retry loop around transient sequence conflicts.
	MaxAttempts int
	// UseLock enables the optional distributed lock around the allocation
	// transaction. Correctness never depends on it.
	UseLock bool
	// LockTTL bounds how long a crashed holder can keep a resource locked.
	LockTTL time.Duration
	// StatsTTL controls how long cached queue stats stay fresh.
	StatsTTL time.Duration
}

func (c Config) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

func (c Config) lockTTL() time.Duration {
	if c.LockTTL <= 0 {
		return 5 * time.Second
	}
	return c.LockTTL
}

func (c Config) statsTTL() time.Duration {
	if c.StatsTTL <= 0 {
		return 30 * time.Second
	}
	return c.StatsTTL
}

// Allocator is the write path for tickets and bookings plus the cached read
// path for queue status.
type Allocator struct {
	db     *database.DB
	cache  cache.Cache
	hub    *events.Hub
	gen    *slots.Generator
	cfg    Config
	logger *zerolog.Logger
}

func New(db *database.DB, c cache.Cache, hub *events.Hub, cfg Config, logger *zerolog.Logger) *Allocator {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Allocator{
		db:     db,
		cache:  c,
		hub:    hub,
		gen:    slots.NewGenerator(db),
		cfg:    cfg,
		logger: logger,
	}
}

// IssueTicket admits a visitor to a queue, retrying transient sequence
// conflicts. On success the queue's cached stats are invalidated and a
// creation event is published.
func (a *Allocator) IssueTicket(ctx context.Context, input database.CreateTicketInput) (*models.Ticket, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
		input.Now = now
	}
	day := database.Day(now)
	lockKey := fmt.Sprintf("lock:queue:%d:%s", input.QueueID, day)

	started := time.Now()
	ticket, err := allocate(ctx, a, lockKey, func() (*models.Ticket, error) {
		return a.db.CreateTicket(ctx, input)
	})
	metrics.ObserveAllocation("ticket", time.Since(started))
	if err != nil {
		metrics.IncAllocation("ticket", outcomeFor(err))
		return nil, err
	}
	metrics.IncAllocation("ticket", "ok")

	a.invalidateStats(ctx, ticket.QueueID, ticket.Day)
	a.publish(events.Event{
		Type:         "ticket",
		ResourceKind: database.KindQueue,
		ResourceID:   ticket.QueueID,
		EntityID:     ticket.ID,
		Number:       ticket.Number,
		NewStatus:    ticket.Status,
		At:           now,
	})

	a.logger.Info().
		Int64("queue_id", ticket.QueueID).
		Int64("number", ticket.Number).
		Str("ticket_id", ticket.ID).
		Msg("ticket issued")
	return ticket, nil
}

// BookSlot reserves an appointment slot, retrying transient conflicts the
// same way ticket issuance does.
func (a *Allocator) BookSlot(ctx context.Context, input database.CreateBookingInput) (*models.Booking, error) {
	if input.Now.IsZero() {
		input.Now = time.Now()
	}
	day := database.Day(input.SlotStart)
	lockKey := fmt.Sprintf("lock:provider:%d:%s", input.ProviderID, day)

	if err := a.checkSlotAdvertised(ctx, input); err != nil {
		metrics.IncAllocation("booking", outcomeFor(err))
		return nil, err
	}

	started := time.Now()
	booking, err := allocate(ctx, a, lockKey, func() (*models.Booking, error) {
		return a.db.CreateBooking(ctx, input)
	})
	metrics.ObserveAllocation("booking", time.Since(started))
	if err != nil {
		metrics.IncAllocation("booking", outcomeFor(err))
		return nil, err
	}
	metrics.IncAllocation("booking", "ok")

	a.publish(events.Event{
		Type:         "booking",
		ResourceKind: database.KindProvider,
		ResourceID:   booking.ProviderID,
		EntityID:     booking.ID,
		Number:       booking.Number,
		NewStatus:    booking.Status,
		At:           input.Now,
	})

	a.logger.Info().
		Int64("provider_id", booking.ProviderID).
		Time("slot_start", booking.SlotStart).
		Str("booking_id", booking.ID).
		Msg("slot booked")
	return booking, nil
}

// checkSlotAdvertised rejects any requested interval that slot enumeration
// would not produce for that date: no schedule, off the grid, outside the
// window or inside the break. Occupancy is re-checked later, inside the
// allocation transaction.
func (a *Allocator) checkSlotAdvertised(ctx context.Context, input database.CreateBookingInput) error {
	schedule, err := a.db.GetScheduleForDate(ctx, input.ProviderID, input.SlotStart)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish an unknown provider from a day without working hours.
		if _, perr := a.db.GetProvider(ctx, input.ProviderID); perr != nil {
			return perr
		}
		return database.ErrSlotUnavailable
	}
	if err != nil {
		return err
	}
	if !slots.SlotMatches(schedule, input.SlotStart, input.SlotEnd) {
		return database.ErrSlotUnavailable
	}
	return nil
}

// allocate wraps one allocation attempt with the optional lock and the
// bounded retry loop for transient conflicts.
func allocate[T any](ctx context.Context, a *Allocator, lockKey string, attempt func() (T, error)) (T, error) {
	var zero T

	release, err := a.acquireLock(ctx, lockKey)
	if err != nil {
		return zero, err
	}
	defer release()

	maxAttempts := a.cfg.maxAttempts()
	for i := 1; i <= maxAttempts; i++ {
		result, err := attempt()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, database.ErrSequenceConflict) {
			return zero, err
		}

		metrics.IncSequenceConflict()
		a.logger.Debug().Int("attempt", i).Str("lock", lockKey).Msg("sequence conflict, retrying")

		if i == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(time.Duration(i) * 10 * time.Millisecond):
		}
	}
	return zero, ErrAllocationFailed
}

// acquireLock takes the optional distributed lock. Lock failures degrade to
// lock-free allocation: the database constraints still hold.
func (a *Allocator) acquireLock(ctx context.Context, key string) (func(), error) {
	if !a.cfg.UseLock {
		return func() {}, nil
	}

	deadline := time.Now().Add(a.cfg.lockTTL())
	for {
		ok, err := a.cache.AcquireLock(ctx, key, a.cfg.lockTTL())
		if err != nil {
			metrics.IncLockOutcome("error")
			a.logger.Warn().Err(err).Str("lock", key).Msg("lock unavailable, proceeding without it")
			return func() {}, nil
		}
		if ok {
			metrics.IncLockOutcome("acquired")
			return func() {
				if err := a.cache.ReleaseLock(ctx, key); err != nil {
					a.logger.Debug().Err(err).Str("lock", key).Msg("lock release failed")
				}
			}, nil
		}

		if time.Now().After(deadline) {
			metrics.IncLockOutcome("timeout")
			a.logger.Warn().Str("lock", key).Msg("lock wait timed out, proceeding without it")
			return func() {}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// TransitionTicket applies a staff action and publishes the status change.
func (a *Allocator) TransitionTicket(ctx context.Context, id, action string) (*models.Ticket, error) {
	now := time.Now()
	ticket, oldStatus, err := a.db.TransitionTicket(ctx, id, action, now)
	if err != nil {
		return nil, err
	}
	metrics.IncTransition("ticket", action)

	a.invalidateStats(ctx, ticket.QueueID, ticket.Day)
	a.invalidateTicket(ctx, ticket.ID)
	a.publish(events.Event{
		Type:         "ticket",
		ResourceKind: database.KindQueue,
		ResourceID:   ticket.QueueID,
		EntityID:     ticket.ID,
		Number:       ticket.Number,
		OldStatus:    oldStatus,
		NewStatus:    ticket.Status,
		At:           now,
	})

	a.logger.Info().
		Str("ticket_id", id).
		Str("action", action).
		Str("from", oldStatus).
		Str("to", ticket.Status).
		Msg("ticket transitioned")
	return ticket, nil
}

// TransitionBooking applies a staff decision and publishes the status change.
func (a *Allocator) TransitionBooking(ctx context.Context, id, action string) (*models.Booking, error) {
	now := time.Now()
	booking, oldStatus, err := a.db.TransitionBooking(ctx, id, action, now)
	if err != nil {
		return nil, err
	}
	metrics.IncTransition("booking", action)

	a.publish(events.Event{
		Type:         "booking",
		ResourceKind: database.KindProvider,
		ResourceID:   booking.ProviderID,
		EntityID:     booking.ID,
		Number:       booking.Number,
		OldStatus:    oldStatus,
		NewStatus:    booking.Status,
		At:           now,
	})

	a.logger.Info().
		Str("booking_id", id).
		Str("action", action).
		Str("from", oldStatus).
		Str("to", booking.Status).
		Msg("booking transitioned")
	return booking, nil
}

// Position reports how many active tickets are ahead of the given one.
func (a *Allocator) Position(ctx context.Context, ticketID string) (int, error) {
	return a.db.TicketPosition(ctx, ticketID)
}

// AvailableSlots enumerates a provider's slots for a date, marking booked
// ones. The same occupancy check backs slot booking, so the answer cannot
// advertise a slot that booking would refuse.
func (a *Allocator) AvailableSlots(ctx context.Context, providerID int64, date time.Time) ([]slots.Slot, error) {
	if _, err := a.db.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}

	schedule, err := a.db.GetScheduleForDate(ctx, providerID, date)
	if errors.Is(err, sql.ErrNoRows) {
		// No working hours configured for this day of week.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.gen.GenerateSlots(ctx, providerID, date, schedule)
}

// SweepStuckTickets auto-skips tickets held in 'called' past the grace period
// and publishes an event per swept ticket.
func (a *Allocator) SweepStuckTickets(ctx context.Context, grace time.Duration, batchSize int) (int, error) {
	swept, err := a.db.SweepStuckCalled(ctx, grace, batchSize)
	if err != nil {
		return 0, err
	}
	if len(swept) == 0 {
		return 0, nil
	}

	now := time.Now()
	for _, t := range swept {
		a.invalidateStats(ctx, t.QueueID, t.Day)
		a.invalidateTicket(ctx, t.ID)
		a.publish(events.Event{
			Type:         "ticket",
			ResourceKind: database.KindQueue,
			ResourceID:   t.QueueID,
			EntityID:     t.ID,
			Number:       t.Number,
			OldStatus:    models.StatusCalled,
			NewStatus:    t.Status,
			At:           now,
		})
	}
	metrics.AddSweptTickets(len(swept))
	a.logger.Info().Int("count", len(swept)).Msg("stuck tickets auto-skipped")
	return len(swept), nil
}

func (a *Allocator) publish(ev events.Event) {
	if a.hub != nil {
		a.hub.Publish(ev)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, database.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, database.ErrSlotUnavailable):
		return "slot_taken"
	case errors.Is(err, database.ErrResourceInactive):
		return "inactive"
	case errors.Is(err, ErrAllocationFailed):
		return "conflict"
	default:
		return "error"
	}
}
