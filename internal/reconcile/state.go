// =============================================================================
// Billing Reconciler - Invoice Lifecycle
// =============================================================================
//
// pending <-> anomalous is decided by Recompute alone: an empty anomaly set
// means pending. imported is terminal and only reachable through the import
// gate (doctor assigned, no anomalies).
//
// =============================================================================

package reconcile

import (
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
)

// Recompute re-derives line kinds, line anomalies, totals, invoice anomalies
// and state. It never modifies inv and is idempotent. Imported invoices are
// frozen and returned as they are.
func Recompute(inv Invoice, reg *catalog.Registry) Invoice {
	if inv.State == StateImported {
		return inv
	}

	out := inv.Clone()
	resolved := resolveLines(out.Lines, reg)

	lineSets := make([]AnomalySet, 0, len(resolved)+1)
	for i := range resolved {
		out.Lines[i].Kind = resolved[i].d.Kind
		set := lineAnomalies(resolved[i], siblingsOf(resolved, i), reg)
		out.Lines[i].Anomalies = set
		lineSets = append(lineSets, set)
	}
	lineSets = append(lineSets, invoiceLevelAnomalies(out, resolved))

	out.recomputeTotals()
	out.Anomalies = AnomalySet(nil).Union(lineSets...)
	out.State = nextState(inv.State, out.Anomalies)
	return out
}

// nextState applies the recompute transition.
func nextState(prev State, anomalies AnomalySet) State {
	switch {
	case prev == StateImported:
		return StateImported
	case !anomalies.Empty():
		return StateAnomalous
	default:
		return StatePending
	}
}

// CanImport reports whether inv passes the import gate: a doctor is assigned
// and the anomaly set is empty.
func CanImport(inv Invoice) bool {
	return strings.TrimSpace(inv.DoctorID) != "" && inv.Anomalies.Empty()
}

// Import moves inv to the imported state. Importing an imported invoice is a
// no-op. On failure inv is returned unchanged with a *NotImportableError.
//
// The gate reads inv.Anomalies as stored and does not recompute them: an
// invoice built by hand, or saved before a catalog change, can pass with a
// stale set. Use Engine.Import, which recomputes first, for anything read
// from the store.
func Import(inv Invoice) (Invoice, error) {
	if inv.State == StateImported {
		return inv, nil
	}
	if !CanImport(inv) {
		return inv, &NotImportableError{
			InvoiceID:     inv.ID,
			MissingDoctor: strings.TrimSpace(inv.DoctorID) == "",
			Anomalies:     inv.Anomalies.clone(),
		}
	}

	out := inv.Clone()
	out.State = StateImported
	return out, nil
}
