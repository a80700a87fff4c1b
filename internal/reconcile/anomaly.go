// =============================================================================
// Billing Reconciler - Anomaly Kinds
// =============================================================================
//
// Anomalies are first-class values attached to lines and invoices; they are
// never returned as errors. Every kind carries its severity in the same table
// that defines its name, so the rule list and the severity list cannot drift.
//
// SEVERITIES:
//   - error   : the line cannot be priced or categorized (unknown_code,
//               orphan_product)
//   - warning : a likely data-entry mistake a human should confirm
//
// Import is blocked on ANY anomaly; severity only drives triage.
//
// =============================================================================

package reconcile

import (
	"fmt"
	"sort"
)

// Severity classifies an anomaly for triage.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// AnomalyKind is the closed set of detectable inconsistencies.
// The zero value is not a valid kind.
type AnomalyKind uint8

const (
	UnknownCode AnomalyKind = iota + 1
	OrphanProduct
	IncompleteProcedure
	ProcedureMissingEquipment
	DuplicateProcedure
	ProductHasPrice
	IncompatibleUnit
	AnomalousQuantity
	MissingDoctor

	numAnomalyKinds
)

type anomalyInfo struct {
	name     string
	severity Severity
}

// anomalyTable is indexed by AnomalyKind; its length is fixed by
// numAnomalyKinds so adding a kind without an entry leaves an empty name,
// which TestAnomalyTableComplete catches.
var anomalyTable = [numAnomalyKinds]anomalyInfo{
	UnknownCode:               {"unknown_code", SeverityError},
	OrphanProduct:             {"orphan_product", SeverityError},
	IncompleteProcedure:       {"incomplete_procedure", SeverityWarning},
	ProcedureMissingEquipment: {"procedure_missing_equipment", SeverityWarning},
	DuplicateProcedure:        {"duplicate_procedure", SeverityWarning},
	ProductHasPrice:           {"product_has_price", SeverityWarning},
	IncompatibleUnit:          {"incompatible_unit", SeverityWarning},
	AnomalousQuantity:         {"anomalous_quantity", SeverityWarning},
	MissingDoctor:             {"missing_doctor", SeverityWarning},
}

// AllAnomalyKinds lists every kind in declaration order.
func AllAnomalyKinds() []AnomalyKind {
	kinds := make([]AnomalyKind, 0, numAnomalyKinds-1)
	for k := UnknownCode; k < numAnomalyKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Valid reports whether k is one of the declared kinds.
func (k AnomalyKind) Valid() bool {
	return k >= UnknownCode && k < numAnomalyKinds
}

// String returns the snake_case name of the kind.
func (k AnomalyKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("anomaly(%d)", uint8(k))
	}
	return anomalyTable[k].name
}

// Severity returns the triage severity of the kind.
func (k AnomalyKind) Severity() Severity {
	if !k.Valid() {
		return SeverityError
	}
	return anomalyTable[k].severity
}

// MarshalText encodes the kind by name.
func (k AnomalyKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid anomaly kind %d", uint8(k))
	}
	return []byte(anomalyTable[k].name), nil
}

// UnmarshalText decodes a kind from its name.
func (k *AnomalyKind) UnmarshalText(text []byte) error {
	parsed, err := ParseAnomalyKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseAnomalyKind looks a kind up by name.
func ParseAnomalyKind(name string) (AnomalyKind, error) {
	for k := UnknownCode; k < numAnomalyKinds; k++ {
		if anomalyTable[k].name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown anomaly kind %q", name)
}

// =============================================================================
// ANOMALY SETS
// =============================================================================

// AnomalySet is a set of kinds kept sorted in declaration order without
// duplicates, so equal sets compare equal and serialize identically.
type AnomalySet []AnomalyKind

// NewAnomalySet builds a normalized set from any list of kinds.
func NewAnomalySet(kinds ...AnomalyKind) AnomalySet {
	if len(kinds) == 0 {
		return nil
	}
	set := make(AnomalySet, len(kinds))
	copy(set, kinds)
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })

	out := set[:0]
	for i, k := range set {
		if i > 0 && k == set[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Has reports whether k is in the set.
func (s AnomalySet) Has(k AnomalyKind) bool {
	for _, x := range s {
		if x == k {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no members.
func (s AnomalySet) Empty() bool {
	return len(s) == 0
}

// Union returns a new set holding the members of s and every other set.
func (s AnomalySet) Union(others ...AnomalySet) AnomalySet {
	all := make([]AnomalyKind, 0, len(s))
	all = append(all, s...)
	for _, o := range others {
		all = append(all, o...)
	}
	return NewAnomalySet(all...)
}

// HasErrors reports whether any member has error severity.
func (s AnomalySet) HasErrors() bool {
	for _, k := range s {
		if k.Severity() == SeverityError {
			return true
		}
	}
	return false
}

// Strings returns the member names in set order.
func (s AnomalySet) Strings() []string {
	names := make([]string, len(s))
	for i, k := range s {
		names[i] = k.String()
	}
	return names
}

// clone returns an independent copy.
func (s AnomalySet) clone() AnomalySet {
	if s == nil {
		return nil
	}
	out := make(AnomalySet, len(s))
	copy(out, s)
	return out
}
