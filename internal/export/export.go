// Package export renders billing statements as spreadsheet and PDF documents.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts "xlsx" and "pdf" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatPDF:
		return f, nil
	case "":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: unsupported export format %q", apperr.ErrValidation, s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/pdf"
}

// Filename is the suggested download name for a statement export.
func (f Format) Filename(st billing.Statement) string {
	return fmt.Sprintf("statement-%s-%s.%s", st.PropertyID, st.Period.Key(), f)
}

// Render produces the document for st in format f.
func Render(f Format, st billing.Statement, txs []billing.Transaction) ([]byte, error) {
	switch f {
	case FormatXLSX:
		return BuildStatementXLSX(st, txs)
	case FormatPDF:
		return BuildStatementPDF(st, txs)
	}
	return nil, fmt.Errorf("%w: unsupported export format %q", apperr.ErrValidation, f)
}

type summaryRow struct {
	label string
	value string
}

func summary(st billing.Statement) []summaryRow {
	rows := []summaryRow{
		{"Statement", st.ID},
		{"Property", st.PropertyID},
		{"Owner", st.OwnerID},
		{"Period", st.Period.Label()},
		{"Water", st.Charges.Water.String()},
		{"HOA Maintenance", st.Charges.HOA.String()},
		{"Garbage", st.Charges.Garbage.String()},
	}
	for _, oc := range st.OtherCharges {
		rows = append(rows, summaryRow{oc.Name, oc.Amount.String()})
	}
	rows = append(rows,
		summaryRow{"Total Due", st.TotalDue.String()},
		summaryRow{"Paid (water)", st.Paid.Water.String()},
		summaryRow{"Paid (hoa)", st.Paid.HOA.String()},
		summaryRow{"Paid (garbage)", st.Paid.Garbage.String()},
		summaryRow{"Total Paid", st.TotalPaid.String()},
		summaryRow{"Payment Status", string(st.PaymentStatus)},
		summaryRow{"Settlement Status", string(st.SettlementStatus)},
	)
	if st.WaterReading != "" {
		rows = append(rows, summaryRow{"Water Reading", st.WaterReading})
	}
	if st.WaterConsumption != "" {
		rows = append(rows, summaryRow{"Water Consumption", st.WaterConsumption})
	}
	if st.Archived() {
		rows = append(rows, summaryRow{"Archived", st.ArchivedAt.Format(time.RFC3339)})
	}
	return rows
}

var transactionHeader = []string{"Date", "Transaction", "Type", "Purpose", "Method", "Amount", "Status"}

func transactionRow(tx billing.Transaction) []string {
	return []string{
		tx.CreatedAt.Format("2006-01-02"),
		tx.ID,
		string(tx.Type),
		string(tx.Purpose),
		string(tx.Method),
		tx.Amount.String(),
		string(tx.Status),
	}
}

// BuildStatementPDF renders a one-page statement with its transactions.
func BuildStatementPDF(st billing.Statement, txs []billing.Transaction) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Billing Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, row := range summary(st) {
		pdf.CellFormat(50, 6, row.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, row.value, "", 0, "L", false, 0, "")
		pdf.Ln(5)
	}

	pdf.Ln(6)
	widths := []float64{22, 42, 28, 36, 24, 20, 18}
	pdf.SetFont("Arial", "B", 8)
	for i, h := range transactionHeader {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, tx := range txs {
		for i, v := range transactionRow(tx) {
			align := "L"
			if i == 5 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a workbook with a summary sheet and a transactions sheet.
// Amounts are written as fixed two-decimal strings.
func BuildStatementXLSX(st billing.Statement, txs []billing.Transaction) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summarySheet := "summary"
	txSheet := "transactions"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(txSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Billing Statement")
	for i, row := range summary(st) {
		r := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", r), row.label)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", r), row.value)
	}

	for i, h := range transactionHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(txSheet, cell, h)
	}
	for r, tx := range txs {
		for c, v := range transactionRow(tx) {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(txSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
