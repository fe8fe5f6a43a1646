// Package export renders a workspace's history and trend series as an XLSX
// workbook.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/trend"
)

const (
	SheetHistory = "History"
	SheetTrends  = "Trends"
)

const cellDate = "2006-01-02"

var historyHeader = []string{
	"Category", "Title", "Status", "Severity", "Start Date", "End Date",
	"Source", "Verified", "Chronic", "Critical", "Monitoring", "Value", "Unit", "Description",
}

var trendHeader = []string{
	"Parameter", "Display Name", "Date", "Value", "Unit", "Abnormal", "Direction", "Reference Range", "Source",
}

var historyWidths = []float64{14, 30, 12, 10, 12, 12, 10, 10, 9, 9, 11, 12, 10, 40}

// WriteWorkbook writes one row per record to the History sheet and one row
// per trend point to the Trends sheet.
func WriteWorkbook(w io.Writer, records []*ledger.HistoryRecord, series []*trend.Series) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetHistory); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetTrends); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, historyRow(r))
	}
	if err := writeSheet(f, SheetHistory, historyHeader, rows, headerStyle); err != nil {
		return err
	}
	for i, width := range historyWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetHistory, col, col, width); err != nil {
			return fmt.Errorf("column width: %w", err)
		}
	}

	rows = rows[:0]
	for _, s := range series {
		for _, p := range s.Points {
			rows = append(rows, []any{
				s.ParameterCode, s.DisplayName, p.Date.Format(cellDate), cellValue(p.Value), s.Unit,
				yesNo(p.IsAbnormal), s.Direction, s.ReferenceRangeText, p.Source,
			})
		}
	}
	if err := writeSheet(f, SheetTrends, trendHeader, rows, headerStyle); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, headerStyle int) error {
	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("%s header style: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func historyRow(r *ledger.HistoryRecord) []any {
	severity := ""
	if r.Severity != nil {
		severity = *r.Severity
	}
	value, unit := "", ""
	if r.Category == ledger.CategoryLabResult {
		value, _ = ledger.ResultValue(r.CategoryData)
		unit = ledger.StringField(r.CategoryData, "unit")
	}
	return []any{
		r.Category, r.Title, r.Status, severity, dateCell(r.StartDate), dateCell(r.EndDate),
		r.Source, yesNo(r.VerifiedByDoctor), yesNo(r.IsChronic), yesNo(r.IsCritical), yesNo(r.RequiresMonitoring),
		cellValue(value), unit, strings.TrimSpace(r.Description),
	}
}

// cellValue writes numeric results as numbers so they can be charted.
func cellValue(s string) any {
	if f, ok := ledger.NumericValue(s); ok {
		return f
	}
	return s
}

func dateCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(cellDate)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
