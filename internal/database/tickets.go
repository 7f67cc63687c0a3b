package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"talon/internal/models"

	"github.com/google/uuid"
)

// CreateTicketInput carries everything needed to admit one visitor.
type CreateTicketInput struct {
	QueueID      int64
	VisitorName  string
	VisitorPhone string
	Now          time.Time
}

// CreateTicket validates the queue, enforces its daily limit and inserts a new
// waiting ticket with the next sequence number, all in one transaction. A
// failure anywhere rolls the number issuance back with the insert.
func (db *DB) CreateTicket(ctx context.Context, input CreateTicketInput) (*models.Ticket, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	day := Day(now)

	tx, err := db.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var isActive bool
	var dailyLimit int
	err = tx.QueryRowContext(ctx,
		`SELECT is_active, daily_limit FROM queues WHERE id = ?`, input.QueueID,
	).Scan(&isActive, &dailyLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueNotFound
	}
	if err != nil {
		return nil, mapSqliteErr(err)
	}
	if !isActive {
		return nil, ErrResourceInactive
	}

	if dailyLimit > 0 {
		var count int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tickets WHERE queue_id = ? AND day = ?`,
			input.QueueID, day,
		).Scan(&count)
		if err != nil {
			return nil, mapSqliteErr(err)
		}
		if count >= dailyLimit {
			return nil, ErrCapacityExceeded
		}
	}

	number, err := nextSequence(ctx, tx, KindQueue, input.QueueID, day)
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		ID:           uuid.NewString(),
		QueueID:      input.QueueID,
		Number:       number,
		Day:          day,
		Status:       models.StatusWaiting,
		VisitorName:  input.VisitorName,
		VisitorPhone: input.VisitorPhone,
		CreatedAt:    now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (id, queue_id, number, day, status, visitor_name, visitor_phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID, ticket.QueueID, ticket.Number, ticket.Day, ticket.Status,
		nullIfEmpty(ticket.VisitorName), nullIfEmpty(ticket.VisitorPhone), ticket.CreatedAt,
	)
	if err != nil {
		// A duplicate (queue, day, number) means a lost serialization race,
		// not a taken slot; report it as retryable.
		if mapped := mapSqliteErr(err); errors.Is(mapped, ErrSlotUnavailable) {
			return nil, ErrSequenceConflict
		}
		return nil, mapSqliteErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSqliteErr(err)
	}
	return ticket, nil
}

// GetTicket loads one ticket by its public id.
func (db *DB) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := scanTicket(db.QueryRowContext(ctx, `
		SELECT id, queue_id, number, day, status, visitor_name, visitor_phone,
		       created_at, called_at, serving_at, completed_at
		FROM tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	return ticket, err
}

// TransitionTicket applies a staff action to a ticket. The status guard sits
// in the UPDATE itself, so two concurrent calls cannot both succeed. Returns
// the updated ticket and the status it held before.
func (db *DB) TransitionTicket(ctx context.Context, id, action string, now time.Time) (*models.Ticket, string, error) {
	if now.IsZero() {
		now = time.Now()
	}

	tx, err := db.begin(ctx)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	var oldStatus string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tickets WHERE id = ?`, id).Scan(&oldStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrTicketNotFound
	}
	if err != nil {
		return nil, "", mapSqliteErr(err)
	}

	newStatus, ok := models.TicketTransition(action, oldStatus)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, oldStatus)
	}

	stampColumn := ""
	switch action {
	case models.ActionCall:
		stampColumn = "called_at"
	case models.ActionServe:
		stampColumn = "serving_at"
	case models.ActionComplete:
		stampColumn = "completed_at"
	}

	query := `UPDATE tickets SET status = ?`
	args := []any{newStatus}
	if stampColumn != "" {
		query += `, ` + stampColumn + ` = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, oldStatus)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, "", mapSqliteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, oldStatus)
	}

	ticket, err := scanTicket(tx.QueryRowContext(ctx, `
		SELECT id, queue_id, number, day, status, visitor_name, visitor_phone,
		       created_at, called_at, serving_at, completed_at
		FROM tickets WHERE id = ?`, id))
	if err != nil {
		return nil, "", mapSqliteErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", mapSqliteErr(err)
	}
	return ticket, oldStatus, nil
}

// TicketPosition counts still-active tickets ahead of this one in the same
// queue and day. Zero means the ticket is next (or already being handled).
func (db *DB) TicketPosition(ctx context.Context, id string) (int, error) {
	ticket, err := db.GetTicket(ctx, id)
	if err != nil {
		return 0, err
	}
	var position int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE queue_id = ? AND day = ? AND number < ?
			AND status IN ('waiting', 'called', 'serving')`,
		ticket.QueueID, ticket.Day, ticket.Number,
	).Scan(&position)
	return position, err
}

// ListTicketsForDay returns every ticket of a queue for a day, in issue order.
func (db *DB) ListTicketsForDay(ctx context.Context, queueID int64, day string) ([]models.Ticket, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, queue_id, number, day, status, visitor_name, visitor_phone,
		       created_at, called_at, serving_at, completed_at
		FROM tickets
		WHERE queue_id = ? AND day = ?
		ORDER BY number`,
		queueID, day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, rows.Err()
}

// SweepStuckCalled skips tickets that stayed in 'called' beyond the grace
// period. Returns the tickets it transitioned so callers can publish events.
func (db *DB) SweepStuckCalled(ctx context.Context, grace time.Duration, batchSize int) ([]models.Ticket, error) {
	if grace <= 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	cutoff := time.Now().Add(-grace)

	tx, err := db.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, queue_id, number, day, status, visitor_name, visitor_phone,
		       created_at, called_at, serving_at, completed_at
		FROM tickets
		WHERE status = 'called' AND called_at <= ?
		ORDER BY called_at
		LIMIT ?`,
		cutoff, batchSize,
	)
	if err != nil {
		return nil, mapSqliteErr(err)
	}

	var stuck []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stuck = append(stuck, *ticket)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var swept []models.Ticket
	for i := range stuck {
		res, err := tx.ExecContext(ctx,
			`UPDATE tickets SET status = ? WHERE id = ? AND status = ?`,
			models.StatusSkipped, stuck[i].ID, models.StatusCalled,
		)
		if err != nil {
			return nil, mapSqliteErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		stuck[i].Status = models.StatusSkipped
		swept = append(swept, stuck[i])
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSqliteErr(err)
	}
	return swept, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	var visitorName, visitorPhone sql.NullString
	var calledAt, servingAt, completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.QueueID, &t.Number, &t.Day, &t.Status, &visitorName, &visitorPhone,
		&t.CreatedAt, &calledAt, &servingAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.VisitorName = visitorName.String
	t.VisitorPhone = visitorPhone.String
	t.CalledAt = nullTimePtr(calledAt)
	t.ServingAt = nullTimePtr(servingAt)
	t.CompletedAt = nullTimePtr(completedAt)
	return &t, nil
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
