// =============================================================================
// Billing Reconciler - Catalog Types
// =============================================================================
//
// The catalog describes everything a billing line may legitimately reference:
//   - Procedures : billable services, optionally requiring products/equipment
//   - Products   : consumables attached to a procedure (billed at zero)
//   - Equipment  : device usage attached to a procedure
//   - Combinations: the explicit whitelist of composite codes
//
// Catalog entries are immutable values. The Registry (registry.go) indexes
// them and is handed to every reconciliation function as an explicit value.
//
// =============================================================================

package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LINE KINDS
// =============================================================================

// LineKind is the category a billing line resolves to.
type LineKind string

const (
	KindProcedure LineKind = "procedure"
	KindProduct   LineKind = "product"
	KindEquipment LineKind = "equipment"
)

// ProcedureUnit is the unit every procedure line must carry.
const ProcedureUnit = "procedure"

// =============================================================================
// CATALOG ENTRIES
// =============================================================================

// Procedure is a billable medical/aesthetic service.
type Procedure struct {
	// Code is the billing code, e.g. "RT".
	Code string

	// Description is shown on reconciled lines that resolve to this procedure.
	Description string

	// RequiresProducts flags procedures that must have at least one attached
	// product line on the same invoice.
	RequiresProducts bool

	// RequiresEquipment flags procedures that must be billed through a
	// procedure+equipment composite code.
	RequiresEquipment bool
}

// Product is a consumable attached to a procedure.
type Product struct {
	Code string
	Name string

	// Unit is the registered unit of measure; product lines must match it.
	Unit string

	DefaultPrice decimal.Decimal

	// AnomalyQuantityThreshold is the quantity above which a product line is
	// flagged. Zero disables the check.
	AnomalyQuantityThreshold decimal.Decimal
}

// Equipment is a device whose usage is billed through a composite code.
type Equipment struct {
	Code string
	Name string

	// Unit is optional. When empty the unit of equipment lines is not checked.
	Unit string
}

// =============================================================================
// COMBINATIONS
// =============================================================================

// CombinationKind is the declared shape of a whitelisted composite code.
type CombinationKind string

const (
	CombinationProcedure          CombinationKind = "procedure"
	CombinationProcedureProduct   CombinationKind = "procedure+product"
	CombinationProcedureEquipment CombinationKind = "procedure+equipment"
)

// ParseCombinationKind accepts the canonical names plus the short aliases used
// in hand-maintained workbooks.
func ParseCombinationKind(s string) (CombinationKind, error) {
	switch s {
	case "procedure", "prestazione":
		return CombinationProcedure, nil
	case "procedure+product", "product", "prestazione+prodotto":
		return CombinationProcedureProduct, nil
	case "procedure+equipment", "equipment", "prestazione+macchinario":
		return CombinationProcedureEquipment, nil
	}
	return "", fmt.Errorf("unknown combination kind %q", s)
}

// LineKind maps the combination shape to the kind of line it produces.
func (k CombinationKind) LineKind() LineKind {
	switch k {
	case CombinationProcedureProduct:
		return KindProduct
	case CombinationProcedureEquipment:
		return KindEquipment
	default:
		return KindProcedure
	}
}

// Combination is one whitelisted composite code.
type Combination struct {
	Code          string
	Kind          CombinationKind
	ProcedureCode string

	// AccessoryCode is empty for CombinationProcedure entries.
	AccessoryCode string
}

// =============================================================================
// DECOMPOSITION
// =============================================================================

// Decomposition is the structured reading of a raw billing code.
// When Valid is false every other field is zero.
type Decomposition struct {
	Valid         bool
	Kind          LineKind
	ProcedureCode string
	AccessoryCode string
}
