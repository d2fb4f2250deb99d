// Package export renders weekly timetable grids into downloadable documents.
package export

import (
	"fmt"
	"strings"
)

// Format names a supported document type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a user supplied format, defaulting to CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", raw)
}

// Grid is a weekly timetable laid out as time rows by day columns.
type Grid struct {
	Title   string
	Columns []string
	Rows    [][]string
	// Notes are printed under the grid, e.g. slots still waiting for a classroom.
	Notes []string
}

// Validate rejects grids without columns or with ragged rows.
func (g Grid) Validate() error {
	if len(g.Columns) == 0 {
		return fmt.Errorf("grid requires at least one column")
	}
	for i, row := range g.Rows {
		if len(row) != len(g.Columns) {
			return fmt.Errorf("grid row %d has %d cells, want %d", i, len(row), len(g.Columns))
		}
	}
	return nil
}

// Exporter renders a grid.
type Exporter interface {
	Render(g Grid) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat returns the exporter for a format.
func ForFormat(f Format) (Exporter, error) {
	switch f {
	case FormatCSV:
		return NewCSVExporter(), nil
	case FormatPDF:
		return NewPDFExporter(), nil
	case FormatXLSX:
		return NewXLSXExporter(), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}
