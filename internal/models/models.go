package models

import "time"

// Queue is a walk-in queue that issues numbered tickets, scoped per calendar day.
type Queue struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	IsActive          bool      `json:"is_active"`
	DailyLimit        int       `json:"daily_limit"`
	AvgServiceMinutes int       `json:"avg_service_minutes"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Provider is a schedulable entity that accepts appointment bookings.
type Provider struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"is_active"`
	DailyLimit int       `json:"daily_limit"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ticket represents one occupant of a queue. Number is unique and strictly
// increasing within (queue, day); the day is the ticket's creation day.
type Ticket struct {
	ID           string     `json:"id"`
	QueueID      int64      `json:"queue_id"`
	Number       int64      `json:"number"`
	Day          string     `json:"day"` // YYYY-MM-DD
	Status       string     `json:"status"`
	VisitorName  string     `json:"visitor_name,omitempty"`
	VisitorPhone string     `json:"visitor_phone,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	ServingAt    *time.Time `json:"serving_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Booking represents one occupant of a provider's day. Number is unique and
// strictly increasing within (provider, day of SlotStart).
type Booking struct {
	ID          string    `json:"id"`
	ProviderID  int64     `json:"provider_id"`
	Number      int64     `json:"number"`
	SlotStart   time.Time `json:"slot_start"`
	SlotEnd     time.Time `json:"slot_end"`
	Status      string    `json:"status"`
	ClientName  string    `json:"client_name,omitempty"`
	ClientPhone string    `json:"client_phone,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Schedule describes a provider's working hours for one day of week.
// DayOfWeek is 1..7 with Monday=1 and Sunday=7.
type Schedule struct {
	ID           int64     `json:"id"`
	ProviderID   int64     `json:"provider_id"`
	DayOfWeek    int       `json:"day_of_week"`
	StartTime    string    `json:"start_time"` // "09:00"
	EndTime      string    `json:"end_time"`   // "17:00"
	BreakStart   string    `json:"break_start,omitempty"`
	BreakEnd     string    `json:"break_end,omitempty"`
	SlotDuration int       `json:"slot_duration"` // minutes
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// QueueStats is the derived per-day view of a queue. It is never authoritative
// and is always reconstructible from ticket rows.
type QueueStats struct {
	QueueID           int64  `json:"queue_id"`
	Day               string `json:"day"`
	Waiting           int    `json:"waiting"`
	Called            int    `json:"called"`
	Serving           int    `json:"serving"`
	Served            int    `json:"served"`
	Skipped           int    `json:"skipped"`
	Cancelled         int    `json:"cancelled"`
	AvgServiceMinutes int    `json:"avg_service_minutes"`
	Cached            bool   `json:"cached"`
}

// EstimatedWaitMinutes returns position x average service duration. The
// estimator is a placeholder policy; callers must not rely on its accuracy.
func (s QueueStats) EstimatedWaitMinutes(position int) int {
	if position <= 0 {
		return 0
	}
	return position * s.AvgServiceMinutes
}

const (
	DayFormat  = "2006-01-02"
	TimeFormat = "15:04"
)
