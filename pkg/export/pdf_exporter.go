package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders grids into a landscape tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// ContentType implements Exporter.
func (e *PDFExporter) ContentType() string { return "application/pdf" }

// Extension implements Exporter.
func (e *PDFExporter) Extension() string { return "pdf" }

// Render creates a PDF document with the grid title, a narrow time column and equal day columns.
func (e *PDFExporter) Render(g Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.AddPage()

	if g.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(g.Title), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	const timeWidth = 25.0
	dayWidth := 252.0
	if len(g.Columns) > 1 {
		dayWidth = 252.0 / float64(len(g.Columns)-1)
	}
	widthOf := func(i int) float64 {
		if i == 0 {
			return timeWidth
		}
		return dayWidth
	}

	pdf.SetFont("Arial", "B", 9)
	for i, header := range g.Columns {
		pdf.CellFormat(widthOf(i), 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 7)
	for _, row := range g.Rows {
		for i, value := range row {
			pdf.CellFormat(widthOf(i), 6, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(g.Notes) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 8)
		for _, note := range g.Notes {
			pdf.MultiCell(0, 5, note, "", "L", false)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
