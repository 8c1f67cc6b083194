package ledger

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportSheet is the worksheet name used by ExportXLSX.
const ExportSheet = "Orders"

var exportHeaders = []string{
	"Date",
	"Receipt",
	"Type",
	"Counterparty",
	"Product",
	"Quantity",
	"Unit Price",
	"Subtotal",
	"Order Total",
}

// ExportXLSX writes every booked order to w as an XLSX workbook, one row per
// order line, newest order first. It returns the number of orders written.
func (s *Store) ExportXLSX(ctx context.Context, w io.Writer) (int, error) {
	start := time.Now()
	entries, err := s.List(ctx, 0)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return 0, fmt.Errorf("xlsx sheet: %w", err)
	}
	rows, err := writeSheet(f, ExportSheet, entries)
	if err != nil {
		return 0, err
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("xlsx write: %w", err)
	}

	s.log.Info("ledger.export.xlsx.ok",
		"orders", len(entries),
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return len(entries), nil
}

// sheetWriter remembers the first excelize error so a run of cell writes
// can be checked once.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (sw *sheetWriter) cell(col, row int, v any) {
	if sw.err != nil {
		return
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		sw.err = fmt.Errorf("xlsx cell %d,%d: %w", col, row, err)
		return
	}
	if err := sw.f.SetCellValue(sw.sheet, name, v); err != nil {
		sw.err = fmt.Errorf("xlsx cell %s: %w", name, err)
	}
}

func (sw *sheetWriter) width(from, to string, w float64) {
	if sw.err != nil {
		return
	}
	if err := sw.f.SetColWidth(sw.sheet, from, to, w); err != nil {
		sw.err = fmt.Errorf("xlsx width %s:%s: %w", from, to, err)
	}
}

// writeSheet fills sheet with the header and one row per order line. It
// returns the number of line rows written.
func writeSheet(f *excelize.File, sheet string, entries []Entry) (int, error) {
	sw := &sheetWriter{f: f, sheet: sheet}
	for i, h := range exportHeaders {
		sw.cell(i+1, 1, h)
	}

	row := 2
	for _, e := range entries {
		for _, it := range e.Order.Items {
			sw.cell(1, row, e.Receipt.CreatedAt.Format("2006-01-02 15:04"))
			sw.cell(2, row, e.Receipt.ID)
			sw.cell(3, row, e.Order.Direction.Noun())
			sw.cell(4, row, e.Order.Counterparty)
			sw.cell(5, row, it.Name)
			sw.cell(6, row, it.Quantity)
			sw.cell(7, row, it.UnitPrice)
			sw.cell(8, row, it.Subtotal())
			sw.cell(9, row, e.Receipt.Total)
			row++
		}
	}

	sw.width("A", "A", 18) // date
	sw.width("B", "B", 38) // receipt
	sw.width("D", "E", 24) // counterparty, product
	sw.width("F", "I", 12) // numbers
	return row - 2, sw.err
}
