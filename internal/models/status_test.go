package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicketTransition(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		from    string
		want    string
		allowed bool
	}{
		{"CallWaiting", ActionCall, StatusWaiting, StatusCalled, true},
		{"CallCalled", ActionCall, StatusCalled, "", false},
		{"ServeCalled", ActionServe, StatusCalled, StatusServing, true},
		{"ServeWaiting", ActionServe, StatusWaiting, "", false},
		{"CompleteServing", ActionComplete, StatusServing, StatusServed, true},
		{"CompleteWaiting", ActionComplete, StatusWaiting, "", false},
		{"SkipWaiting", ActionSkip, StatusWaiting, StatusSkipped, true},
		{"SkipCalled", ActionSkip, StatusCalled, StatusSkipped, true},
		{"SkipServed", ActionSkip, StatusServed, "", false},
		{"CancelServing", ActionCancel, StatusServing, StatusCancelled, true},
		{"CancelCancelled", ActionCancel, StatusCancelled, "", false},
		{"UnknownAction", "promote", StatusWaiting, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TicketTransition(tt.action, tt.from)
			assert.Equal(t, tt.allowed, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBookingTransition(t *testing.T) {
	got, ok := BookingTransition("confirm", BookingPending)
	assert.True(t, ok)
	assert.Equal(t, BookingConfirmed, got)

	_, ok = BookingTransition("confirm", BookingCompleted)
	assert.False(t, ok)

	got, ok = BookingTransition("cancel", BookingConfirmed)
	assert.True(t, ok)
	assert.Equal(t, BookingCancelled, got)

	_, ok = BookingTransition("cancel", BookingInProgress)
	assert.False(t, ok)
}

func TestActiveHelpers(t *testing.T) {
	assert.True(t, TicketActive(StatusWaiting))
	assert.True(t, TicketActive(StatusServing))
	assert.False(t, TicketActive(StatusServed))
	assert.False(t, TicketActive(StatusSkipped))

	assert.True(t, BookingActive(BookingPending))
	assert.True(t, BookingActive(BookingCompleted))
	assert.False(t, BookingActive(BookingCancelled))
	assert.False(t, BookingActive(BookingRejected))
}

func TestEstimatedWait(t *testing.T) {
	stats := QueueStats{AvgServiceMinutes: 7}
	assert.Equal(t, 0, stats.EstimatedWaitMinutes(0))
	assert.Equal(t, 21, stats.EstimatedWaitMinutes(3))
}
