package cli

import (
	"fmt"

	"github.com/hyperjump/text2sql/internal/models"
	"github.com/xuri/excelize/v2"
)

const resultSheet = "Results"

// WriteRowsXLSX saves rows to an Excel workbook at path with a header row.
func WriteRowsXLSX(path string, rows []models.Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	cols := Columns(rows)
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(resultSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		values := make([]any, len(cols))
		for j, c := range cols {
			values[j] = row[c]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
