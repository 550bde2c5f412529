package hitl

import (
	"fmt"

	"github.com/nninov/ngt/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Correction workbook layout. Each pending faulty row becomes one sheet row
// carrying the full source payload plus the violated column and the reason,
// so the operator can fix the cell in place and re-upload the file.
const (
	SheetName = "corrections"

	ColIdentity     = "identity"
	ColFaultyColumn = "faulty_column"
	ColReason       = "reason"
)

// WriteCorrectionFile writes pending faulty rows to an xlsx workbook at
// path. columns fixes the payload column order; the identity, violated
// column and reason are appended after them.
func WriteCorrectionFile(path string, columns []string, records []domain.FaultyRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), SheetName)

	header := append(append([]string{}, columns...), ColIdentity, ColFaultyColumn, ColReason)
	for i, name := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to build header cell: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, name); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for rowIdx, rec := range records {
		values := make([]string, 0, len(header))
		for _, col := range columns {
			values = append(values, rec.Payload[col])
		}
		values = append(values, rec.Identity, rec.Column, rec.Reason)

		for colIdx, v := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return fmt.Errorf("failed to write correction row: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save correction file %s: %w", path, err)
	}
	return nil
}
