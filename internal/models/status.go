package models

// Ticket statuses.
const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServing   = "serving"
	StatusServed    = "served"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// Booking statuses.
const (
	BookingPending    = "pending"
	BookingConfirmed  = "confirmed"
	BookingInProgress = "in_progress"
	BookingCompleted  = "completed"
	BookingRejected   = "rejected"
	BookingCancelled  = "cancelled"
)

// Ticket actions.
const (
	ActionCall     = "call"
	ActionServe    = "serve"
	ActionComplete = "complete"
	ActionSkip     = "skip"
	ActionCancel   = "cancel"
)

var ticketTransitions = map[string]struct {
	from []string
	to   string
}{
	ActionCall:     {from: []string{StatusWaiting}, to: StatusCalled},
	ActionServe:    {from: []string{StatusCalled}, to: StatusServing},
	ActionComplete: {from: []string{StatusServing}, to: StatusServed},
	ActionSkip:     {from: []string{StatusWaiting, StatusCalled, StatusServing}, to: StatusSkipped},
	ActionCancel:   {from: []string{StatusWaiting, StatusCalled, StatusServing}, to: StatusCancelled},
}

var bookingTransitions = map[string]struct {
	from []string
	to   string
}{
	"confirm":  {from: []string{BookingPending}, to: BookingConfirmed},
	"start":    {from: []string{BookingConfirmed}, to: BookingInProgress},
	"complete": {from: []string{BookingInProgress}, to: BookingCompleted},
	"reject":   {from: []string{BookingPending}, to: BookingRejected},
	"cancel":   {from: []string{BookingPending, BookingConfirmed}, to: BookingCancelled},
}

// TicketTransition resolves an action against a current status. It returns the
// resulting status and whether the transition is allowed.
func TicketTransition(action, fromStatus string) (string, bool) {
	t, ok := ticketTransitions[action]
	if !ok {
		return "", false
	}
	for _, status := range t.from {
		if status == fromStatus {
			return t.to, true
		}
	}
	return "", false
}

// BookingTransition resolves a booking action against a current status.
func BookingTransition(action, fromStatus string) (string, bool) {
	t, ok := bookingTransitions[action]
	if !ok {
		return "", false
	}
	for _, status := range t.from {
		if status == fromStatus {
			return t.to, true
		}
	}
	return "", false
}

// TicketActive reports whether a ticket still occupies the queue.
func TicketActive(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusServing:
		return true
	default:
		return false
	}
}

// BookingActive reports whether a booking still occupies its slot.
func BookingActive(status string) bool {
	switch status {
	case BookingCancelled, BookingRejected:
		return false
	default:
		return true
	}
}
