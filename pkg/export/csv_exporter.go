package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter renders grids into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// ContentType implements Exporter.
func (e *CSVExporter) ContentType() string { return "text/csv" }

// Extension implements Exporter.
func (e *CSVExporter) Extension() string { return "csv" }

// Render writes the column header, one record per row and one single-cell record per note.
func (e *CSVExporter) Render(g Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(g.Columns); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range g.Rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	for _, note := range g.Notes {
		if err := writer.Write([]string{note}); err != nil {
			return nil, fmt.Errorf("write csv note: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
