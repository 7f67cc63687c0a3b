package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"talon/internal/models"

	"github.com/google/uuid"
)

// CreateBookingInput carries everything needed to book one appointment slot.
type CreateBookingInput struct {
	ProviderID  int64
	SlotStart   time.Time
	SlotEnd     time.Time
	ClientName  string
	ClientPhone string
	Comment     string
	Now         time.Time
}

// CreateBooking validates the provider, re-checks the slot and inserts a new
// pending booking with the next daily sequence number, all in one transaction.
// The partial unique index on (provider, slot_start) is the final authority:
// even if two transactions pass the overlap check, only one insert commits.
func (db *DB) CreateBooking(ctx context.Context, input CreateBookingInput) (*models.Booking, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	day := Day(input.SlotStart)

	tx, err := db.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var isActive bool
	var dailyLimit int
	err = tx.QueryRowContext(ctx,
		`SELECT is_active, daily_limit FROM providers WHERE id = ?`, input.ProviderID,
	).Scan(&isActive, &dailyLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, mapSqliteErr(err)
	}
	if !isActive {
		return nil, ErrResourceInactive
	}

	if dailyLimit > 0 {
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM bookings
			WHERE provider_id = ? AND date(slot_start) = ?
				AND status NOT IN ('cancelled', 'rejected')`,
			input.ProviderID, day,
		).Scan(&count)
		if err != nil {
			return nil, mapSqliteErr(err)
		}
		if count >= dailyLimit {
			return nil, ErrCapacityExceeded
		}
	}

	booked, err := isSlotBookedTx(ctx, tx, input.ProviderID, input.SlotStart, input.SlotEnd)
	if err != nil {
		return nil, err
	}
	if booked {
		return nil, ErrSlotUnavailable
	}

	number, err := nextSequence(ctx, tx, KindProvider, input.ProviderID, day)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ID:          uuid.NewString(),
		ProviderID:  input.ProviderID,
		Number:      number,
		SlotStart:   input.SlotStart,
		SlotEnd:     input.SlotEnd,
		Status:      models.BookingPending,
		ClientName:  input.ClientName,
		ClientPhone: input.ClientPhone,
		Comment:     input.Comment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (id, provider_id, number, slot_start, slot_end, status,
			client_name, client_phone, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID, booking.ProviderID, booking.Number, booking.SlotStart, booking.SlotEnd,
		booking.Status, nullIfEmpty(booking.ClientName), nullIfEmpty(booking.ClientPhone),
		nullIfEmpty(booking.Comment), booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		// Bookings carry two unique indexes. A duplicate slot is a genuinely
		// taken slot; a duplicate (provider, day, number) means a lost
		// serialization race and is retryable.
		if mapped := mapSqliteErr(err); errors.Is(mapped, ErrSlotUnavailable) &&
			strings.Contains(err.Error(), "idx_bookings_provider_day_number") {
			return nil, ErrSequenceConflict
		}
		return nil, mapSqliteErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSqliteErr(err)
	}
	return booking, nil
}

// GetBooking loads one booking by its public id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := scanBooking(db.QueryRowContext(ctx, `
		SELECT id, provider_id, number, slot_start, slot_end, status,
		       client_name, client_phone, comment, created_at, updated_at
		FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return booking, err
}

// TransitionBooking applies a staff decision to a booking. Guarded the same
// way as ticket transitions.
func (db *DB) TransitionBooking(ctx context.Context, id, action string, now time.Time) (*models.Booking, string, error) {
	if now.IsZero() {
		now = time.Now()
	}

	tx, err := db.begin(ctx)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	var oldStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&oldStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrBookingNotFound
	}
	if err != nil {
		return nil, "", mapSqliteErr(err)
	}

	newStatus, ok := models.BookingTransition(action, oldStatus)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, oldStatus)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		newStatus, now, id, oldStatus,
	)
	if err != nil {
		return nil, "", mapSqliteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, oldStatus)
	}

	booking, err := scanBooking(tx.QueryRowContext(ctx, `
		SELECT id, provider_id, number, slot_start, slot_end, status,
		       client_name, client_phone, comment, created_at, updated_at
		FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, "", mapSqliteErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", mapSqliteErr(err)
	}
	return booking, oldStatus, nil
}

// IsSlotBooked reports whether any active booking overlaps [start, end).
func (db *DB) IsSlotBooked(ctx context.Context, providerID int64, start, end time.Time) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE provider_id = ?
		AND slot_start < ? AND slot_end > ?
		AND status NOT IN ('cancelled', 'rejected')`,
		providerID, end, start,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func isSlotBookedTx(ctx context.Context, tx *sql.Tx, providerID int64, start, end time.Time) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE provider_id = ?
		AND slot_start < ? AND slot_end > ?
		AND status NOT IN ('cancelled', 'rejected')`,
		providerID, end, start,
	).Scan(&count)
	if err != nil {
		return false, mapSqliteErr(err)
	}
	return count > 0, nil
}

// ListBookingsForDay returns a provider's bookings for one date, in slot order.
func (db *DB) ListBookingsForDay(ctx context.Context, providerID int64, day string) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, number, slot_start, slot_end, status,
		       client_name, client_phone, comment, created_at, updated_at
		FROM bookings
		WHERE provider_id = ? AND date(slot_start) = ?
		ORDER BY slot_start`,
		providerID, day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *booking)
	}
	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var clientName, clientPhone, comment sql.NullString
	err := row.Scan(
		&b.ID, &b.ProviderID, &b.Number, &b.SlotStart, &b.SlotEnd, &b.Status,
		&clientName, &clientPhone, &comment, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ClientName = clientName.String
	b.ClientPhone = clientPhone.String
	b.Comment = comment.String
	return &b, nil
}
