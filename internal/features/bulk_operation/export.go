package bulk_operation

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportPreview writes one row per proposed field change.
func ExportPreview(entries []PreviewEntry) ([]byte, error) {
	columns := []string{"Record ID", "Name", "Field", "From", "To", "Warnings", "Conflicts"}
	var rows [][]any
	for _, entry := range entries {
		fields := make([]string, 0, len(entry.Changes))
		for f := range entry.Changes {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		for _, f := range fields {
			change := entry.Changes[f]
			rows = append(rows, []any{
				entry.Record.ID,
				entry.Record.Name(),
				f,
				cellValue(change.From),
				cellValue(change.To),
				strings.Join(entry.Warnings, "; "),
				strings.Join(entry.Conflicts, "; "),
			})
		}
	}
	return writeSheet("Preview", columns, rows)
}

func ExportErrors(errs []OperationError) ([]byte, error) {
	columns := []string{"Record ID", "Name", "Field", "Code", "Message", "Retryable"}
	rows := make([][]any, 0, len(errs))
	for _, e := range errs {
		retry := "no"
		if e.CanRetry {
			retry = "yes"
		}
		rows = append(rows, []any{e.ItemID, e.ItemName, e.Field, string(e.Code), e.Message, retry})
	}
	return writeSheet("Errors", columns, rows)
}

func writeSheet(sheetName string, columns []string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, col)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for rowIdx, row := range rows {
		for colIdx, val := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheetName, cell, val)
		}
	}

	for i := range columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, 18)
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write %s sheet: %w", sheetName, err)
	}
	return buffer.Bytes(), nil
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case string, bool, int, int32, int64, float32, float64:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
