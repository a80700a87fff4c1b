// =============================================================================
// Billing Reconciler - Anomaly Report
// =============================================================================
//
// Writes an XLSX workbook describing the outcome of a reconciliation run.
//
// SHEETS:
//   Invoices  - one row per invoice: state, totals, anomalies, importable
//   Anomalies - one row per (line, anomaly); invoice-level anomalies have an
//               empty line column
//   Rejected  - rows dropped by pre-validation or the aggregator
//
// =============================================================================

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	SheetInvoices  = "Invoices"
	SheetAnomalies = "Anomalies"
	SheetRejected  = "Rejected"
)

var (
	invoiceHeaders = []interface{}{"Invoice", "Series", "Number", "Date", "Patient", "Doctor", "State", "Net", "VAT", "Gross", "Anomalies", "Importable"}
	anomalyHeaders = []interface{}{"Invoice", "Line", "Row", "Code", "Kind", "Anomaly", "Severity"}
	rejectHeaders  = []interface{}{"Row", "Field", "Value", "Reason"}
)

// Rejection is one row the run could not use.
type Rejection struct {
	RowNumber int
	Field     string
	Value     string
	Reason    string
}

// Report is the content of one run report.
type Report struct {
	Invoices []reconcile.Invoice
	Rejected []Rejection
}

// Build renders the report into a new workbook. The caller closes it.
func Build(r Report) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SheetInvoices); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetAnomalies, SheetRejected} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	w := &sheetWriter{f: f}
	w.header(SheetInvoices, invoiceHeaders, header)
	w.header(SheetAnomalies, anomalyHeaders, header)
	w.header(SheetRejected, rejectHeaders, header)

	invRow, anomRow := 2, 2
	for _, inv := range r.Invoices {
		w.row(SheetInvoices, invRow, []interface{}{
			inv.ID,
			inv.Series,
			inv.Number,
			inv.Date.Format("2006-01-02"),
			inv.PatientName,
			inv.DoctorName,
			string(inv.State),
			inv.NetTotal.InexactFloat64(),
			inv.VatTotal.InexactFloat64(),
			inv.GrossTotal.InexactFloat64(),
			strings.Join(inv.Anomalies.Strings(), ", "),
			reconcile.CanImport(inv),
		})
		invRow++

		lineLevel := reconcile.NewAnomalySet()
		for _, line := range inv.Lines {
			lineLevel = lineLevel.Union(line.Anomalies)
			for _, k := range line.Anomalies {
				w.row(SheetAnomalies, anomRow, []interface{}{
					inv.ID, line.ID, line.SourceRow, line.Code, string(line.Kind), k.String(), string(k.Severity()),
				})
				anomRow++
			}
		}
		for _, k := range inv.Anomalies {
			if lineLevel.Has(k) {
				continue
			}
			w.row(SheetAnomalies, anomRow, []interface{}{
				inv.ID, "", "", "", "", k.String(), string(k.Severity()),
			})
			anomRow++
		}
	}

	for i, rej := range r.Rejected {
		w.row(SheetRejected, i+2, []interface{}{rej.RowNumber, rej.Field, rej.Value, rej.Reason})
	}

	if w.err != nil {
		_ = f.Close()
		return nil, w.err
	}
	return f, nil
}

// WriteFile builds the report and saves it to path.
func WriteFile(path string, r Report) error {
	f, err := Build(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// sheetWriter keeps the first error so rows can be written without checks.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) header(sheet string, values []interface{}, style int) {
	w.row(sheet, 1, values)
	if w.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(values), 1)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetCellStyle(sheet, "A1", last, style); err != nil {
		w.err = err
	}
}

func (w *sheetWriter) row(sheet string, n int, values []interface{}) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("failed to write %s row %d: %w", sheet, n, err)
	}
}
