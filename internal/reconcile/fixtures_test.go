package reconcile

import (
	"fmt"
	"testing"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// testRegistry:
//
//	RT  requires products      GG01 gel, ml, threshold 50
//	BT  plain procedure        TX9  serum, fl
//	FL  requires equipment     LX   laser, min
//	R   plain procedure
func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()

	reg, err := catalog.NewRegistry(
		[]catalog.Procedure{
			{Code: "RT", Description: "Radiofrequency", RequiresProducts: true},
			{Code: "BT", Description: "Botulinum treatment"},
			{Code: "FL", Description: "Laser session", RequiresEquipment: true},
			{Code: "R", Description: "Revision"},
		},
		[]catalog.Product{
			{Code: "GG01", Name: "Conductive gel", Unit: "ml", AnomalyQuantityThreshold: decimal.NewFromInt(50)},
			{Code: "TX9", Name: "Topical serum", Unit: "fl"},
		},
		[]catalog.Equipment{
			{Code: "LX", Name: "Laser unit", Unit: "min"},
		},
		[]catalog.Combination{
			{Code: "FLLX", Kind: catalog.CombinationProcedureEquipment, ProcedureCode: "FL", AccessoryCode: "LX"},
		},
	)
	require.NoError(t, err)
	return reg
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	n := 0
	return NewEngine(testRegistry(t), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("added-%d", n)
	}))
}

func procLine(id, code string, net int64) LineItem {
	return LineItem{
		ID:          id,
		Code:        code,
		NetAmount:   decimal.NewFromInt(net),
		GrossAmount: decimal.NewFromInt(net),
		Quantity:    decimal.NewFromInt(1),
		Unit:        catalog.ProcedureUnit,
	}
}

func productLine(id, code, unit string, qty int64) LineItem {
	return LineItem{
		ID:          id,
		Code:        code,
		NetAmount:   decimal.Zero,
		GrossAmount: decimal.Zero,
		Quantity:    decimal.NewFromInt(qty),
		Unit:        unit,
	}
}

func newInvoice(lines ...LineItem) Invoice {
	return Invoice{
		ID:         "P-100",
		Number:     "100",
		Series:     "P",
		DoctorID:   "D1",
		DoctorName: "Dr. Bianchi",
		Lines:      lines,
	}
}

func lineByID(t *testing.T, inv Invoice, id string) LineItem {
	t.Helper()
	idx := inv.LineIndex(id)
	require.GreaterOrEqual(t, idx, 0, "line %s not found", id)
	return inv.Lines[idx]
}

func countKind(set AnomalySet, k AnomalyKind) int {
	n := 0
	for _, x := range set {
		if x == k {
			n++
		}
	}
	return n
}
