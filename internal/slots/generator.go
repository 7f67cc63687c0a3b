package slots

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"talon/internal/models"
)

// Slot represents a candidate appointment time.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
	Available bool
}

// SlotInfo is a simplified representation for API responses.
type SlotInfo struct {
	Start     string `json:"start"` // "10:00"
	End       string `json:"end"`   // "10:30"
	Available bool   `json:"available"`
}

// BookingChecker reports whether an interval is already occupied. Enumeration
// and direct booking go through the same check, so an advertised slot is
// always the one the booking path would accept.
type BookingChecker interface {
	IsSlotBooked(ctx context.Context, providerID int64, start, end time.Time) (bool, error)
}

// Generator enumerates a provider's slots for a date.
type Generator struct {
	checker BookingChecker
}

func NewGenerator(checker BookingChecker) *Generator {
	return &Generator{checker: checker}
}

// GenerateSlots walks the working-hours window in slot-duration increments.
// A day with no schedule yields nil, not an error.
func (g *Generator) GenerateSlots(ctx context.Context, providerID int64, date time.Time, schedule *models.Schedule) ([]Slot, error) {
	if schedule == nil || !schedule.IsActive {
		return nil, nil
	}

	duration := schedule.SlotDuration
	if duration <= 0 {
		duration = 30
	}

	startTime, err := parseTimeOnDate(date, schedule.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	endTime, err := parseTimeOnDate(date, schedule.EndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	var breakStart, breakEnd time.Time
	hasBreak := schedule.BreakStart != "" && schedule.BreakEnd != ""
	if hasBreak {
		breakStart, _ = parseTimeOnDate(date, schedule.BreakStart)
		breakEnd, _ = parseTimeOnDate(date, schedule.BreakEnd)
	}

	slotDuration := time.Duration(duration) * time.Minute
	var result []Slot

	for cursor := startTime; !cursor.Add(slotDuration).After(endTime); cursor = cursor.Add(slotDuration) {
		slotStart := cursor
		slotEnd := cursor.Add(slotDuration)

		if hasBreak && isOverlapping(slotStart, slotEnd, breakStart, breakEnd) {
			continue
		}

		booked := false
		if g.checker != nil {
			booked, err = g.checker.IsSlotBooked(ctx, providerID, slotStart, slotEnd)
			if err != nil {
				return nil, fmt.Errorf("check slot: %w", err)
			}
		}

		result = append(result, Slot{
			StartTime: slotStart,
			EndTime:   slotEnd,
			Available: !booked,
		})
	}

	return result, nil
}

// SlotMatches reports whether [start, end) is exactly one of the slots the
// schedule produces for that date: aligned to the slot grid, inside the
// working-hours window and outside the break. Occupancy is checked
// separately; a nil or inactive schedule matches nothing.
func SlotMatches(schedule *models.Schedule, start, end time.Time) bool {
	if schedule == nil || !schedule.IsActive {
		return false
	}

	duration := schedule.SlotDuration
	if duration <= 0 {
		duration = 30
	}
	slotDuration := time.Duration(duration) * time.Minute
	if end.Sub(start) != slotDuration {
		return false
	}

	windowStart, err := parseTimeOnDate(start, schedule.StartTime)
	if err != nil {
		return false
	}
	windowEnd, err := parseTimeOnDate(start, schedule.EndTime)
	if err != nil {
		return false
	}

	offset := start.Sub(windowStart)
	if offset < 0 || offset%slotDuration != 0 {
		return false
	}
	if end.After(windowEnd) {
		return false
	}

	if schedule.BreakStart != "" && schedule.BreakEnd != "" {
		breakStart, errStart := parseTimeOnDate(start, schedule.BreakStart)
		breakEnd, errEnd := parseTimeOnDate(start, schedule.BreakEnd)
		if errStart == nil && errEnd == nil && isOverlapping(start, end, breakStart, breakEnd) {
			return false
		}
	}
	return true
}

// AvailableTimes returns only the free start times, formatted "15:04".
func AvailableTimes(generated []Slot) []string {
	var times []string
	for _, s := range generated {
		if s.Available {
			times = append(times, s.StartTime.Format(models.TimeFormat))
		}
	}
	return times
}

// ToSlotInfo converts slots for API responses.
func ToSlotInfo(generated []Slot) []SlotInfo {
	result := make([]SlotInfo, len(generated))
	for i, s := range generated {
		result[i] = SlotInfo{
			Start:     s.StartTime.Format(models.TimeFormat),
			End:       s.EndTime.Format(models.TimeFormat),
			Available: s.Available,
		}
	}
	return result
}

// ParseTimeOnDate anchors an "HH:MM" wall-clock string on a calendar date.
func ParseTimeOnDate(date time.Time, timeStr string) (time.Time, error) {
	return parseTimeOnDate(date, timeStr)
}

func parseTimeOnDate(date time.Time, timeStr string) (time.Time, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("time out of range: %s", timeStr)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
