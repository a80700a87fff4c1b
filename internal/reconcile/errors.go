// =============================================================================
// Billing Reconciler - Reconciliation Errors
// =============================================================================

package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for operation preconditions. Data anomalies are never
// reported through these.
var (
	ErrNotImportable    = errors.New("invoice is not importable")
	ErrLineNotFound     = errors.New("line not found")
	ErrInvoiceImported  = errors.New("invoice already imported")
	ErrWrongLineKind    = errors.New("correction does not apply to this line")
	ErrUnknownCode      = errors.New("code not in catalog")
	ErrInvalidParameter = errors.New("invalid correction parameter")
)

// PreconditionError reports a correction that could not be applied. The
// invoice it was applied to is returned unchanged.
type PreconditionError struct {
	Op        string
	InvoiceID string
	LineID    string
	Detail    string
	Err       error
}

func (e *PreconditionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" on invoice ")
	b.WriteString(e.InvoiceID)
	if e.LineID != "" {
		b.WriteString(" line ")
		b.WriteString(e.LineID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// NotImportableError lists why an invoice failed the import gate.
type NotImportableError struct {
	InvoiceID     string
	MissingDoctor bool
	Anomalies     AnomalySet
}

func (e *NotImportableError) Error() string {
	var reasons []string
	if e.MissingDoctor {
		reasons = append(reasons, "no doctor assigned")
	}
	if !e.Anomalies.Empty() {
		reasons = append(reasons, fmt.Sprintf("anomalies [%s]", strings.Join(e.Anomalies.Strings(), ", ")))
	}
	return fmt.Sprintf("invoice %s is not importable: %s", e.InvoiceID, strings.Join(reasons, "; "))
}

// Is matches ErrNotImportable.
func (e *NotImportableError) Is(target error) bool {
	return target == ErrNotImportable
}

func precondition(op string, inv *Invoice, lineID string, err error, detail string) error {
	return &PreconditionError{Op: op, InvoiceID: inv.ID, LineID: lineID, Err: err, Detail: detail}
}
