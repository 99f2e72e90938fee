package render

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// ReencodeXLSX converts a captured delimited-text export into a
// single-sheet spreadsheet workbook, row order preserved, no formatting.
// An empty or malformed source file is reported as an error; callers fall
// back to the delimited-text artifact.
func ReencodeXLSX(csvPath, xlsxPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open csv export: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("parse csv export: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("csv export %s is empty", csvPath)
	}

	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := wb.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write workbook row %d: %w", i+1, err)
		}
	}

	if err := wb.SaveAs(xlsxPath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
