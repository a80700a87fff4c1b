// =============================================================================
// Billing Reconciler - Anomaly Ruleset
// =============================================================================
//
// Pure functions over (line, siblings, registry). Nothing here logs, mutates
// its inputs, or depends on line order.
//
// LINE RULES (after decomposition):
//   unknown code                 -> unknown_code, and nothing else
//   procedure (exact catalog)    -> incomplete_procedure, procedure_missing_equipment
//   any valid code               -> duplicate_procedure when a sibling repeats it
//   procedure (any)              -> incompatible_unit
//   product                      -> product_has_price, orphan_product,
//                                   incompatible_unit, anomalous_quantity
//   equipment                    -> incompatible_unit
//
// INVOICE RULES:
//   missing_doctor, duplicate_procedure (procedure codes only), union of
//   every line set
//
// UNITS:
//   Units compare case-insensitively after trimming, so " Procedure " and
//   "ML" match "procedure" and "ml".
//
// PARENT RESOLUTION:
//   An explicit ParentProcedureCode always wins over the parent inferred from
//   the code. An explicit parent only needs to exist in the catalog; an
//   inferred parent must be present on the invoice as a procedure line or as
//   the procedure half of an equipment composite.
//
// =============================================================================

package reconcile

import (
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
)

// resolvedLine pairs a line with its decomposition so sibling checks do not
// decompose the same code repeatedly.
type resolvedLine struct {
	line *LineItem
	d    catalog.Decomposition
}

func resolveLines(lines []LineItem, reg *catalog.Registry) []resolvedLine {
	out := make([]resolvedLine, len(lines))
	for i := range lines {
		out[i] = resolvedLine{line: &lines[i], d: reg.Decompose(lines[i].Code)}
	}
	return out
}

// LineAnomalies evaluates the line rules for one line. siblings may include
// the line itself; it is recognized by ID and skipped.
func LineAnomalies(line LineItem, siblings []LineItem, reg *catalog.Registry) AnomalySet {
	self := resolvedLine{line: &line, d: reg.Decompose(line.Code)}
	others := make([]LineItem, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == line.ID {
			continue
		}
		others = append(others, s)
	}
	return lineAnomalies(self, resolveLines(others, reg), reg)
}

// InvoiceAnomalies evaluates every line of inv plus the invoice-level rules.
// Stored line anomalies are ignored; everything is derived from the fields.
func InvoiceAnomalies(inv Invoice, reg *catalog.Registry) AnomalySet {
	resolved := resolveLines(inv.Lines, reg)

	sets := make([]AnomalySet, 0, len(resolved)+1)
	for i := range resolved {
		sets = append(sets, lineAnomalies(resolved[i], siblingsOf(resolved, i), reg))
	}
	sets = append(sets, invoiceLevelAnomalies(inv, resolved))
	return AnomalySet(nil).Union(sets...)
}

func siblingsOf(all []resolvedLine, i int) []resolvedLine {
	out := make([]resolvedLine, 0, len(all)-1)
	out = append(out, all[:i]...)
	return append(out, all[i+1:]...)
}

func lineAnomalies(self resolvedLine, siblings []resolvedLine, reg *catalog.Registry) AnomalySet {
	d := self.d
	if !d.Valid {
		return NewAnomalySet(UnknownCode)
	}

	line := self.line
	var found []AnomalyKind

	if sharesCode(line.Code, siblings) {
		found = append(found, DuplicateProcedure)
	}

	switch d.Kind {
	case catalog.KindProcedure:
		if proc, ok := reg.Procedure(line.Code); ok {
			if proc.RequiresProducts && !line.ProductsConfirmed && !hasAttachedProduct(line.Code, siblings) {
				found = append(found, IncompleteProcedure)
			}
			if proc.RequiresEquipment && !hasEquipmentComposite(line.Code, siblings) {
				found = append(found, ProcedureMissingEquipment)
			}
		}
		if !unitMatches(line.Unit, catalog.ProcedureUnit) {
			found = append(found, IncompatibleUnit)
		}

	case catalog.KindProduct:
		if line.NetAmount.IsPositive() && !line.PricedAccessory {
			found = append(found, ProductHasPrice)
		}
		if isOrphan(*line, d, siblings, reg) {
			found = append(found, OrphanProduct)
		}
		if unit, ok := reg.AccessoryUnit(d); ok && !unitMatches(line.Unit, unit) {
			found = append(found, IncompatibleUnit)
		}
		if p, ok := reg.Product(d.AccessoryCode); ok {
			// A zero threshold means the product has none.
			if p.AnomalyQuantityThreshold.IsPositive() && line.Quantity.GreaterThan(p.AnomalyQuantityThreshold) {
				found = append(found, AnomalousQuantity)
			}
		}

	case catalog.KindEquipment:
		if unit, ok := reg.AccessoryUnit(d); ok && !unitMatches(line.Unit, unit) {
			found = append(found, IncompatibleUnit)
		}
	}

	return NewAnomalySet(found...)
}

func invoiceLevelAnomalies(inv Invoice, resolved []resolvedLine) AnomalySet {
	var found []AnomalyKind
	if strings.TrimSpace(inv.DoctorID) == "" {
		found = append(found, MissingDoctor)
	}

	seen := make(map[string]struct{}, len(resolved))
	for _, r := range resolved {
		if !r.d.Valid || r.d.Kind != catalog.KindProcedure {
			continue
		}
		if _, dup := seen[r.line.Code]; dup {
			found = append(found, DuplicateProcedure)
			break
		}
		seen[r.line.Code] = struct{}{}
	}
	return NewAnomalySet(found...)
}

// =============================================================================
// SIBLING CHECKS
// =============================================================================

// hasAttachedProduct reports whether a sibling product line belongs to the
// procedure, either through its code or through an explicit association.
func hasAttachedProduct(procCode string, siblings []resolvedLine) bool {
	for _, s := range siblings {
		if s.d.Valid && s.d.Kind == catalog.KindProduct && s.line.EffectiveParent(s.d) == procCode {
			return true
		}
	}
	return false
}

func hasEquipmentComposite(procCode string, siblings []resolvedLine) bool {
	for _, s := range siblings {
		if s.d.Valid && s.d.Kind == catalog.KindEquipment && s.d.ProcedureCode == procCode {
			return true
		}
	}
	return false
}

func sharesCode(code string, siblings []resolvedLine) bool {
	for _, s := range siblings {
		if s.line.Code == code {
			return true
		}
	}
	return false
}

func isOrphan(line LineItem, d catalog.Decomposition, siblings []resolvedLine, reg *catalog.Registry) bool {
	if line.ParentProcedureCode != "" {
		_, ok := reg.Procedure(line.ParentProcedureCode)
		return !ok
	}

	for _, s := range siblings {
		if !s.d.Valid || s.d.Kind == catalog.KindProduct {
			continue
		}
		if s.d.ProcedureCode == d.ProcedureCode {
			return false
		}
	}
	return true
}

func unitMatches(have, want string) bool {
	return strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want))
}
