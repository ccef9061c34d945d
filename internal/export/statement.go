// Package export renders a user's expense history as a PDF statement.
package export

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"cashcompass/internal/core"
)

// Statement holds everything the PDF needs. Expenses are expected to be
// pre-filtered to the owning user and already in display order.
type Statement struct {
	Username string
	Currency string
	Expenses []core.Expense
}

const (
	pageMargin = 15.0
	rowHeight  = 8.0

	colDate        = 30.0
	colCategory    = 40.0
	colAmount      = 30.0
	colDescription = 80.0
)

// WriteStatement renders the statement to w as an A4 PDF. Every page gets
// the title header and a page-number footer.
func WriteStatement(w io.Writer, s Statement) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, 10, "CashCompass Statement", "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, fmt.Sprintf("Account: %s", s.Username), "", 1, "C", false, 0, "")
		pdf.Ln(4)
		writeColumnHeadings(pdf)
	})

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 10)

	if len(s.Expenses) == 0 {
		pdf.CellFormat(0, rowHeight, "No expenses recorded.", "", 1, "L", false, 0, "")
	}

	var total core.Money
	for _, e := range s.Expenses {
		pdf.CellFormat(colDate, rowHeight, e.Date, "B", 0, "L", false, 0, "")
		pdf.CellFormat(colCategory, rowHeight, e.Category, "B", 0, "L", false, 0, "")
		pdf.CellFormat(colAmount, rowHeight, e.Amount.Format(s.Currency), "B", 0, "R", false, 0, "")
		pdf.CellFormat(colDescription, rowHeight, e.Description, "B", 1, "L", false, 0, "")
		total.Cents += e.Amount.Cents
	}

	if len(s.Expenses) > 0 {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(colDate+colCategory, rowHeight, "Total", "", 0, "L", false, 0, "")
		pdf.CellFormat(colAmount, rowHeight, total.Format(s.Currency), "", 1, "R", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render statement: %w", err)
	}
	return nil
}

func writeColumnHeadings(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(colDate, rowHeight, "Date", "B", 0, "L", false, 0, "")
	pdf.CellFormat(colCategory, rowHeight, "Category", "B", 0, "L", false, 0, "")
	pdf.CellFormat(colAmount, rowHeight, "Amount", "B", 0, "R", false, 0, "")
	pdf.CellFormat(colDescription, rowHeight, "Description", "B", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
}
