// Package report renders daily registers of issued tickets and bookings as
// Excel workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"talon/internal/database"
	"talon/internal/models"

	"github.com/xuri/excelize/v2"
)

// Exporter builds daily register workbooks from the durable store.
type Exporter struct {
	db *database.DB
}

func NewExporter(db *database.DB) *Exporter {
	return &Exporter{db: db}
}

// DailyRegister writes a workbook with one sheet of tickets for the queue and
// day. Rows follow issue order.
func (e *Exporter) DailyRegister(ctx context.Context, w io.Writer, queueID int64, day string) error {
	queue, err := e.db.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	tickets, err := e.db.ListTicketsForDay(ctx, queueID, day)
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(fmt.Sprintf("%s %s", queue.Name, day))
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Number", "Status", "Visitor", "Phone", "Issued", "Called", "Serving", "Completed"}
	if err := writeHeader(f, sheet, headers); err != nil {
		return err
	}

	for i, ticket := range tickets {
		row := []interface{}{
			ticket.Number,
			ticket.Status,
			ticket.VisitorName,
			ticket.VisitorPhone,
			ticket.CreatedAt.Format("15:04:05"),
			formatStamp(ticket.CalledAt),
			formatStamp(ticket.ServingAt),
			formatStamp(ticket.CompletedAt),
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// ProviderRegister writes a workbook with one sheet of a provider's bookings
// for a date, in slot order.
func (e *Exporter) ProviderRegister(ctx context.Context, w io.Writer, providerID int64, day string) error {
	provider, err := e.db.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}
	bookings, err := e.db.ListBookingsForDay(ctx, providerID, day)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(fmt.Sprintf("%s %s", provider.Name, day))
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Number", "Slot", "Status", "Client", "Phone", "Comment"}
	if err := writeHeader(f, sheet, headers); err != nil {
		return err
	}

	for i, booking := range bookings {
		slot := fmt.Sprintf("%s-%s",
			booking.SlotStart.Format(models.TimeFormat),
			booking.SlotEnd.Format(models.TimeFormat),
		)
		row := []interface{}{
			booking.Number,
			slot,
			booking.Status,
			booking.ClientName,
			booking.ClientPhone,
			booking.Comment,
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func writeHeader(f *excelize.File, sheet string, columns []string) error {
	if err := writeRowValues(f, sheet, 1, toAny(columns)); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, 1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = f.SetCellStyle(sheet, startCell, endCell, style)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	return writeRowValues(f, sheet, rowNum, values)
}

func writeRowValues(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, val); err != nil {
			return err
		}
	}
	return nil
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func formatStamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("15:04:05")
}

// sheetName truncates to the Excel sheet name limit.
func sheetName(name string) string {
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
