// =============================================================================
// Billing Reconciler - Code Decomposer
// =============================================================================
//
// Billing codes are concatenations of a procedure code and an optional
// accessory (product or equipment) code. Decompose reads a raw code back into
// that structure. It is total: codes that cannot be read produce
// Decomposition{Valid: false}, never an error or a panic.
//
// RESOLUTION ORDER (first match wins):
//   1. Exact match in the Combination whitelist
//   2. Exact match in the Procedure catalog
//   3. Longest-prefix split: procedure prefix + product suffix, then
//      procedure prefix + equipment suffix
//   4. Invalid
//
// =============================================================================

package catalog

import "fmt"

// Decompose resolves a raw billing code against the registry.
func (r *Registry) Decompose(code string) Decomposition {
	if c, ok := r.combinations[code]; ok {
		return Decomposition{
			Valid:         true,
			Kind:          c.Kind.LineKind(),
			ProcedureCode: c.ProcedureCode,
			AccessoryCode: c.AccessoryCode,
		}
	}

	if _, ok := r.procedures[code]; ok {
		return Decomposition{Valid: true, Kind: KindProcedure, ProcedureCode: code}
	}

	for _, l := range r.prefixLengths {
		// The suffix must be non-empty; the exact match was handled above.
		if l >= len(code) {
			continue
		}
		prefix := code[:l]
		if _, ok := r.procedures[prefix]; !ok {
			continue
		}
		suffix := code[l:]
		if _, ok := r.products[suffix]; ok {
			return Decomposition{Valid: true, Kind: KindProduct, ProcedureCode: prefix, AccessoryCode: suffix}
		}
		if _, ok := r.equipment[suffix]; ok {
			return Decomposition{Valid: true, Kind: KindEquipment, ProcedureCode: prefix, AccessoryCode: suffix}
		}
	}

	return Decomposition{}
}

// =============================================================================
// WHITELIST CONSISTENCY
// =============================================================================

// Finding is one observation produced by CheckCombinations.
type Finding struct {
	Code    string
	Message string

	// Blocking findings mean a combination does not decompose to its own
	// declaration. Non-blocking findings are informational.
	Blocking bool
}

// CheckCombinations verifies that every whitelisted combination decomposes to
// its own declaration, and reports the entries whose prefix split alone would
// have produced a different reading (the whitelist overrides the split there).
func (r *Registry) CheckCombinations() []Finding {
	var findings []Finding

	for _, c := range r.Combinations() {
		d := r.Decompose(c.Code)
		if !d.Valid || d.Kind != c.Kind.LineKind() || d.ProcedureCode != c.ProcedureCode || d.AccessoryCode != c.AccessoryCode {
			findings = append(findings, Finding{
				Code:     c.Code,
				Message:  fmt.Sprintf("decomposes to %+v instead of its declaration", d),
				Blocking: true,
			})
			continue
		}

		split := r.splitOnly(c.Code)
		if split.Valid && (split.ProcedureCode != c.ProcedureCode || split.AccessoryCode != c.AccessoryCode || split.Kind != d.Kind) {
			findings = append(findings, Finding{
				Code: c.Code,
				Message: fmt.Sprintf("prefix split reads %s+%s (%s); whitelist declares %s+%s (%s)",
					split.ProcedureCode, split.AccessoryCode, split.Kind,
					c.ProcedureCode, c.AccessoryCode, d.Kind),
			})
		}
	}

	return findings
}

// splitOnly runs the decomposition without the whitelist step.
func (r *Registry) splitOnly(code string) Decomposition {
	shadow := *r
	shadow.combinations = nil
	return shadow.Decompose(code)
}
