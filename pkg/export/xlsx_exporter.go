package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Timetable"

// XLSXExporter renders grids into a single-sheet workbook.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// ContentType implements Exporter.
func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extension implements Exporter.
func (e *XLSXExporter) Extension() string { return "xlsx" }

// Render writes the title on row 1, headers on row 2 and the grid below.
func (e *XLSXExporter) Render(g Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	cellStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("create cell style: %w", err)
	}

	last, _ := excelize.ColumnNumberToName(len(g.Columns))
	_ = f.SetColWidth(sheetName, "A", "A", 14)
	if len(g.Columns) > 1 {
		_ = f.SetColWidth(sheetName, "B", last, 24)
	}

	row := 1
	if g.Title != "" {
		_ = f.SetCellValue(sheetName, "A1", g.Title)
		_ = f.MergeCell(sheetName, "A1", last+"1")
		_ = f.SetCellStyle(sheetName, "A1", "A1", headerStyle)
		row++
	}
	for i, header := range g.Columns {
		_ = f.SetCellValue(sheetName, cellName(i, row), header)
	}
	_ = f.SetCellStyle(sheetName, cellName(0, row), cellName(len(g.Columns)-1, row), headerStyle)
	row++

	first := row
	for _, values := range g.Rows {
		for i, value := range values {
			_ = f.SetCellValue(sheetName, cellName(i, row), value)
		}
		row++
	}
	if row > first {
		_ = f.SetCellStyle(sheetName, cellName(0, first), cellName(len(g.Columns)-1, row-1), cellStyle)
	}

	for _, note := range g.Notes {
		row++
		_ = f.SetCellValue(sheetName, cellName(0, row), note)
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
