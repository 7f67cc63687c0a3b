package report

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"talon/internal/database"
	"talon/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "talon.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDailyRegister(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	q := &models.Queue{Name: "registration", IsActive: true}
	require.NoError(t, db.CreateQueue(ctx, q))

	now := time.Now()
	for _, name := range []string{"Anna", "Boris"} {
		_, err := db.CreateTicket(ctx, database.CreateTicketInput{
			QueueID: q.ID, VisitorName: name, Now: now,
		})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	exporter := NewExporter(db)
	require.NoError(t, exporter.DailyRegister(ctx, &buf, q.ID, database.Day(now)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	require.Len(t, sheets, 1)

	rows, err := f.GetRows(sheets[0])
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 tickets
	assert.Equal(t, "Number", rows[0][0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "Anna", rows[1][2])
	assert.Equal(t, "Boris", rows[2][2])
}

func TestDailyRegisterUnknownQueue(t *testing.T) {
	db := newTestDB(t)
	var buf bytes.Buffer
	err := NewExporter(db).DailyRegister(context.Background(), &buf, 42, "2026-09-07")
	assert.ErrorIs(t, err, database.ErrQueueNotFound)
}

func TestProviderRegister(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &models.Provider{Name: "dr-ivanova", IsActive: true}
	require.NoError(t, db.CreateProvider(ctx, p))

	start := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	_, err := db.CreateBooking(ctx, database.CreateBookingInput{
		ProviderID: p.ID,
		SlotStart:  start,
		SlotEnd:    start.Add(30 * time.Minute),
		ClientName: "Vera",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewExporter(db).ProviderRegister(ctx, &buf, p.ID, "2026-09-07"))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetList()[0])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "09:00-09:30", rows[1][1])
	assert.Equal(t, "Vera", rows[1][3])
}
