// Package report renders an aggregation result as a spreadsheet or a PDF.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/types"
)

// Format is an export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ErrUnknownFormat is returned for formats other than xlsx and pdf.
var ErrUnknownFormat = errors.New("report: unknown format")

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Filename returns the download name of a report for res.
func Filename(res types.AggregationResult, f Format) string {
	return fmt.Sprintf("wattlog-%s-%s.%s", res.Period, calendar.DateKey(res.PeriodStart), f)
}

// Build renders res in the given format. res is expected to be rounded for
// presentation already.
func Build(f Format, res types.AggregationResult) ([]byte, error) {
	switch f {
	case FormatXLSX:
		return BuildXLSX(res)
	case FormatPDF:
		return BuildPDF(res)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

type summaryRow struct {
	label string
	value any
}

func summary(res types.AggregationResult) []summaryRow {
	return []summaryRow{
		{"Period", string(res.Period)},
		{"Period Start", calendar.DisplayDate(res.PeriodStart)},
		{"Consumption (kWh)", res.Totals.ConsumptionKWh},
		{"Cost", res.Totals.Cost},
		{"CO2 (kg)", res.Totals.CO2Kg},
		{"Previous Period (kWh)", res.PreviousKWh},
		{"Savings (%)", res.Totals.SavingsPercent},
		{"Generated", res.GeneratedAt.Format(time.RFC3339)},
	}
}

// BuildXLSX renders res as a workbook with a summary and a series sheet.
func BuildXLSX(res types.AggregationResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	seriesSheet := "series"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(seriesSheet); err != nil {
		return nil, fmt.Errorf("failed to add sheet: %w", err)
	}

	_ = f.SetCellValue(summarySheet, "A1", "Energy Report")
	for i, row := range summary(res) {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row.label)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row.value)
	}

	_ = f.SetCellValue(seriesSheet, "A1", "Label")
	_ = f.SetCellValue(seriesSheet, "B1", "Consumption (kWh)")
	for i, p := range res.Series {
		row := i + 2
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("A%d", row), p.Label)
		_ = f.SetCellValue(seriesSheet, fmt.Sprintf("B%d", row), p.Value)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildPDF renders res as a one page PDF.
func BuildPDF(res types.AggregationResult) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Energy Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, row := range summary(res) {
		var value string
		switch v := row.value.(type) {
		case float64:
			value = fmt.Sprintf("%.2f", v)
		default:
			value = fmt.Sprint(v)
		}
		pdf.Cell(0, 6, fmt.Sprintf("%s: %s", row.label, value))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Label", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Consumption (kWh)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, p := range res.Series {
		pdf.CellFormat(60, 6, p.Label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, fmt.Sprintf("%.2f", p.Value), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
