// =============================================================================
// Billing Reconciler - Invoice Model
// =============================================================================
//
// LineItem and Invoice are plain values. Every mutation goes through
// Engine.Correct or Engine.Import, which work on a clone and run Recompute
// before handing the result back, so callers never observe a line whose
// anomalies disagree with its fields.
//
// =============================================================================

package reconcile

import (
	"time"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/shopspring/decimal"
)

// State is the lifecycle state of an invoice.
type State string

const (
	// StatePending means reconciled, no anomalies, not yet imported.
	StatePending State = "pending"

	// StateAnomalous means the anomaly set is non-empty.
	StateAnomalous State = "anomalous"

	// StateImported is terminal.
	StateImported State = "imported"
)

// DefaultSeries is the principal invoice series used when a row has none.
const DefaultSeries = "P"

// LineItem is one billing line.
type LineItem struct {
	// ID is unique within the invoice.
	ID string `json:"id"`

	// Code is the billing code as received.
	Code string `json:"code"`

	Description string `json:"description"`

	// Kind is re-derived from Code on every recompute; empty for unknown codes.
	Kind catalog.LineKind `json:"kind,omitempty"`

	// ParentProcedureCode is the explicit association override. When empty the
	// parent is inferred from the decomposition of Code.
	ParentProcedureCode string `json:"parent_procedure_code,omitempty"`

	NetAmount   decimal.Decimal `json:"net_amount"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`

	// PricedAccessory marks a product line explicitly billed at a positive
	// price by AssociateToProcedure.
	PricedAccessory bool `json:"priced_accessory,omitempty"`

	// ProductsConfirmed records ConfirmProcedureComplete on a procedure line.
	ProductsConfirmed bool `json:"products_confirmed,omitempty"`

	// SourceRow is the 1-based row number in the ingested file, 0 when the
	// line was added by a correction.
	SourceRow int `json:"source_row,omitempty"`

	Anomalies AnomalySet `json:"anomalies,omitempty"`
}

// EffectiveParent returns the explicit override, or the procedure code the
// decomposition points at.
func (l LineItem) EffectiveParent(d catalog.Decomposition) string {
	if l.ParentProcedureCode != "" {
		return l.ParentProcedureCode
	}
	return d.ProcedureCode
}

// Invoice groups the lines billed under one (series, number) key.
type Invoice struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Series      string    `json:"series"`
	Date        time.Time `json:"date"`
	PatientName string    `json:"patient_name"`

	// DoctorID is empty when no doctor has been assigned.
	DoctorID   string `json:"doctor_id,omitempty"`
	DoctorName string `json:"doctor_name,omitempty"`

	Lines []LineItem `json:"lines"`

	NetTotal   decimal.Decimal `json:"net_total"`
	VatTotal   decimal.Decimal `json:"vat_total"`
	GrossTotal decimal.Decimal `json:"gross_total"`
	HasVat     bool            `json:"has_vat"`

	Anomalies AnomalySet `json:"anomalies,omitempty"`
	State     State      `json:"state"`

	// SourceFile is the ingested file the invoice was built from.
	SourceFile string `json:"source_file,omitempty"`
}

// InvoiceID builds the stable identifier of a (series, number) group.
func InvoiceID(series, number string) string {
	if series == "" {
		series = DefaultSeries
	}
	return series + "-" + number
}

// LineIndex returns the position of the line with the given id, or -1.
func (inv Invoice) LineIndex(id string) int {
	for i := range inv.Lines {
		if inv.Lines[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy; the clone shares no slices with inv.
func (inv Invoice) Clone() Invoice {
	out := inv
	out.Anomalies = inv.Anomalies.clone()
	if inv.Lines != nil {
		out.Lines = make([]LineItem, len(inv.Lines))
		for i, l := range inv.Lines {
			l.Anomalies = l.Anomalies.clone()
			out.Lines[i] = l
		}
	}
	return out
}

// recomputeTotals derives net, gross and VAT from the lines.
func (inv *Invoice) recomputeTotals() {
	net := decimal.Zero
	gross := decimal.Zero
	for _, l := range inv.Lines {
		net = net.Add(l.NetAmount)
		gross = gross.Add(l.GrossAmount)
	}
	inv.NetTotal = net
	inv.GrossTotal = gross
	inv.VatTotal = gross.Sub(net)
	inv.HasVat = !inv.VatTotal.IsZero()
}
