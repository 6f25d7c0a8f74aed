package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	paymentsSheet = "Unlinked payments"
	payoutsSheet  = "Unlinked payouts"
)

var unlinkedHeaders = []interface{}{"EventId", "EventType", "Kind", "ExternalRef", "PaymentRef", "Amount", "Currency", "OccurredAt"}

// ExportUnlinkedEvents writes the unlinked payments and payouts of period as
// an XLSX workbook with one sheet each.
func (r *Reporter) ExportUnlinkedEvents(ctx context.Context, period models.Period, w io.Writer) error {
	events, err := r.ListUnlinkedEvents(ctx, period, "")
	if err != nil {
		return err
	}
	f, err := UnlinkedEventsWorkbook(events)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func UnlinkedEventsWorkbook(events UnlinkedEvents) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", paymentsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(payoutsSheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for _, sheet := range []struct {
		name string
		rows []UnlinkedEvent
	}{
		{paymentsSheet, events.Payments},
		{payoutsSheet, events.Payouts},
	} {
		if err := writeUnlinkedSheet(f, sheet.name, sheet.rows, bold); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet.name, err)
		}
	}
	return f, nil
}

func writeUnlinkedSheet(f *excelize.File, sheet string, rows []UnlinkedEvent, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &unlinkedHeaders); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "H1", headerStyle); err != nil {
		return err
	}
	for i, ev := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		// amounts are text at the currency scale
		values := []interface{}{
			ev.EventId,
			ev.EventType,
			string(ev.Kind),
			ev.ExternalRef,
			ev.ExternalPaymentRef,
			ev.Amount.StringFixed(int32(-ev.Amount.Exponent())),
			ev.Currency,
			ev.OccurredAt.Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}
