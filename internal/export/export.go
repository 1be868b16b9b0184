// Package export implements the spreadsheet-export read-side operations
// (§6 monthlyReport/yearBreakdown) HR admins pull into payroll review:
// an xlsx rendering of a user's ledger detail for one month, and of
// their full-year overtime breakdown.
package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hmb-research/overtime-engine/internal/ledger"
	"github.com/hmb-research/overtime-engine/internal/projection"
)

// Exporter renders the read-only projection/ledger views into xlsx
// workbooks. It never mutates either store.
type Exporter struct {
	ledgerRepo ledger.Repository
	projRepo   projection.Repository
}

func New(ledgerRepo ledger.Repository, projRepo projection.Repository) *Exporter {
	return &Exporter{ledgerRepo: ledgerRepo, projRepo: projRepo}
}

const sheetName = "Report"

func newWorkbook(headers []string) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if sheetName != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	return f, nil
}

func writeRow(f *excelize.File, rowIdx int, values ...interface{}) {
	for colIdx, v := range values {
		cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
		_ = f.SetCellValue(sheetName, cell, v)
	}
}

// MonthlyReport implements §6's monthlyReport(userId, year, month) as an
// xlsx export: one row per ledger.Transaction in the month, in the same
// (date, id) order the running-sum invariant is defined over.
func (e *Exporter) MonthlyReport(ctx context.Context, userID string, year int, month time.Month) ([]byte, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)

	rows, err := e.ledgerRepo.InRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("ledger rows for %04d-%02d: %w", year, month, err)
	}

	f, err := newWorkbook([]string{"Date", "Type", "Hours", "Balance Before", "Balance After", "Description"})
	if err != nil {
		return nil, fmt.Errorf("build workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	for i, t := range rows {
		writeRow(f, i+1,
			t.Date.Format("2006-01-02"),
			string(t.Type),
			t.Hours.String(),
			t.BalanceBefore.String(),
			t.BalanceAfter.String(),
			t.Description,
		)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// YearBreakdown implements §6's yearBreakdown(userId, year) as an xlsx
// export: one row per month plus a trailing total row matching
// projection.YearTotal through December.
func (e *Exporter) YearBreakdown(ctx context.Context, userID string, year int) ([]byte, error) {
	months, err := e.projRepo.YearBreakdown(ctx, userID, year)
	if err != nil {
		return nil, fmt.Errorf("year breakdown for %d: %w", year, err)
	}

	f, err := newWorkbook([]string{"Month", "Target Hours", "Actual Hours", "Overtime", "Carryover From Previous Year"})
	if err != nil {
		return nil, fmt.Errorf("build workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	for i, m := range months {
		writeRow(f, i+1,
			fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)),
			m.TargetHours.String(),
			m.ActualHours.String(),
			m.Overtime.String(),
			m.CarryoverFromPreviousYear.String(),
		)
	}

	total := projection.YearTotal(months, time.December)
	writeRow(f, len(months)+1, "Total", "", "", total.String(), "")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}
