// =============================================================================
// Billing Reconciler - Catalog Registry
// =============================================================================
//
// The Registry is a read-only index over the four catalog families. It is
// built once by NewRegistry (or one of the loaders) and never mutated, so a
// single *Registry can be shared by any number of goroutines.
//
// PREFIX INDEX:
//   Procedure codes are additionally indexed by length. The decomposer walks
//   the distinct lengths from longest to shortest and checks the procedure
//   map with code[:length], which costs one map lookup per distinct length
//   instead of a scan over every procedure.
//
// =============================================================================

package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidCatalog is wrapped by every construction failure.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Registry holds immutable indices over procedures, products, equipment and
// whitelisted combinations.
type Registry struct {
	procedures   map[string]Procedure
	products     map[string]Product
	equipment    map[string]Equipment
	combinations map[string]Combination

	// combinationOrder keeps the declaration order for reporting.
	combinationOrder []string

	// prefixLengths lists the distinct procedure code lengths, longest first.
	prefixLengths []int
}

// NewRegistry validates the entries and builds the indices.
//
// RETURNS:
//   - The registry.
//   - An error wrapping ErrInvalidCatalog on empty or duplicate codes, or on
//     combinations that reference unknown entries.
func NewRegistry(procedures []Procedure, products []Product, equipment []Equipment, combinations []Combination) (*Registry, error) {
	r := &Registry{
		procedures:   make(map[string]Procedure, len(procedures)),
		products:     make(map[string]Product, len(products)),
		equipment:    make(map[string]Equipment, len(equipment)),
		combinations: make(map[string]Combination, len(combinations)),
	}

	lengths := make(map[int]struct{})
	for _, p := range procedures {
		if p.Code == "" {
			return nil, fmt.Errorf("%w: procedure with empty code", ErrInvalidCatalog)
		}
		if _, dup := r.procedures[p.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate procedure %q", ErrInvalidCatalog, p.Code)
		}
		r.procedures[p.Code] = p
		lengths[len(p.Code)] = struct{}{}
	}

	for _, p := range products {
		if p.Code == "" {
			return nil, fmt.Errorf("%w: product with empty code", ErrInvalidCatalog)
		}
		if _, dup := r.products[p.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate product %q", ErrInvalidCatalog, p.Code)
		}
		r.products[p.Code] = p
	}

	for _, e := range equipment {
		if e.Code == "" {
			return nil, fmt.Errorf("%w: equipment with empty code", ErrInvalidCatalog)
		}
		if _, dup := r.equipment[e.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate equipment %q", ErrInvalidCatalog, e.Code)
		}
		r.equipment[e.Code] = e
	}

	for _, c := range combinations {
		if err := r.checkCombination(c); err != nil {
			return nil, err
		}
		r.combinations[c.Code] = c
		r.combinationOrder = append(r.combinationOrder, c.Code)
	}

	r.prefixLengths = make([]int, 0, len(lengths))
	for l := range lengths {
		r.prefixLengths = append(r.prefixLengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(r.prefixLengths)))

	return r, nil
}

// checkCombination validates one whitelist entry against the entities
// already indexed.
func (r *Registry) checkCombination(c Combination) error {
	if c.Code == "" {
		return fmt.Errorf("%w: combination with empty code", ErrInvalidCatalog)
	}
	if _, dup := r.combinations[c.Code]; dup {
		return fmt.Errorf("%w: duplicate combination %q", ErrInvalidCatalog, c.Code)
	}
	if _, ok := r.procedures[c.ProcedureCode]; !ok {
		return fmt.Errorf("%w: combination %q references unknown procedure %q", ErrInvalidCatalog, c.Code, c.ProcedureCode)
	}

	switch c.Kind {
	case CombinationProcedure:
		if c.AccessoryCode != "" {
			return fmt.Errorf("%w: procedure combination %q must not carry an accessory", ErrInvalidCatalog, c.Code)
		}
	case CombinationProcedureProduct:
		if _, ok := r.products[c.AccessoryCode]; !ok {
			return fmt.Errorf("%w: combination %q references unknown product %q", ErrInvalidCatalog, c.Code, c.AccessoryCode)
		}
	case CombinationProcedureEquipment:
		if _, ok := r.equipment[c.AccessoryCode]; !ok {
			return fmt.Errorf("%w: combination %q references unknown equipment %q", ErrInvalidCatalog, c.Code, c.AccessoryCode)
		}
	default:
		return fmt.Errorf("%w: combination %q has unknown kind %q", ErrInvalidCatalog, c.Code, c.Kind)
	}
	return nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// Procedure returns the procedure registered under code.
func (r *Registry) Procedure(code string) (Procedure, bool) {
	p, ok := r.procedures[code]
	return p, ok
}

// Product returns the product registered under code.
func (r *Registry) Product(code string) (Product, bool) {
	p, ok := r.products[code]
	return p, ok
}

// Equipment returns the equipment registered under code.
func (r *Registry) Equipment(code string) (Equipment, bool) {
	e, ok := r.equipment[code]
	return e, ok
}

// Combination returns the whitelisted combination registered under code.
func (r *Registry) Combination(code string) (Combination, bool) {
	c, ok := r.combinations[code]
	return c, ok
}

// Combinations returns the whitelist in declaration order.
func (r *Registry) Combinations() []Combination {
	out := make([]Combination, 0, len(r.combinationOrder))
	for _, code := range r.combinationOrder {
		out = append(out, r.combinations[code])
	}
	return out
}

// Stats reports the number of entries per family.
func (r *Registry) Stats() (procedures, products, equipment, combinations int) {
	return len(r.procedures), len(r.products), len(r.equipment), len(r.combinations)
}

// AccessoryUnit returns the registered unit for the accessory a
// decomposition points at, or ProcedureUnit for procedure decompositions.
// The boolean is false when there is no registered unit to compare against.
func (r *Registry) AccessoryUnit(d Decomposition) (string, bool) {
	if !d.Valid {
		return "", false
	}
	switch d.Kind {
	case KindProcedure:
		return ProcedureUnit, true
	case KindProduct:
		p, ok := r.products[d.AccessoryCode]
		if !ok || p.Unit == "" {
			return "", false
		}
		return p.Unit, true
	case KindEquipment:
		e, ok := r.equipment[d.AccessoryCode]
		if !ok || e.Unit == "" {
			return "", false
		}
		return e.Unit, true
	}
	return "", false
}

// Describe returns the catalog description for a decomposition: the product
// or equipment name for accessories, the procedure description otherwise.
func (r *Registry) Describe(d Decomposition) string {
	if !d.Valid {
		return ""
	}
	switch d.Kind {
	case KindProduct:
		if p, ok := r.products[d.AccessoryCode]; ok {
			return p.Name
		}
	case KindEquipment:
		if e, ok := r.equipment[d.AccessoryCode]; ok {
			return e.Name
		}
	}
	if p, ok := r.procedures[d.ProcedureCode]; ok {
		return p.Description
	}
	return ""
}
