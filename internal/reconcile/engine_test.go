package reconcile

import (
	"errors"
	"testing"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertConsistent(t *testing.T, inv Invoice) {
	t.Helper()

	net := decimal.Zero
	for _, l := range inv.Lines {
		net = net.Add(l.NetAmount)
	}
	assert.True(t, inv.NetTotal.Equal(net), "net total %s != sum %s", inv.NetTotal, net)
	assert.True(t, inv.VatTotal.Equal(inv.GrossTotal.Sub(inv.NetTotal)))

	switch inv.State {
	case StateAnomalous:
		assert.NotEmpty(t, inv.Anomalies)
	case StatePending:
		assert.Empty(t, inv.Anomalies)
	case StateImported:
		assert.Empty(t, inv.Anomalies)
		assert.NotEmpty(t, inv.DoctorID)
	default:
		t.Fatalf("unexpected state %q", inv.State)
	}
}

// =============================================================================
// RECOMPUTE
// =============================================================================

func TestRecompute_Idempotent(t *testing.T) {
	reg := testRegistry(t)

	invoices := []Invoice{
		newInvoice(),
		newInvoice(procLine("l1", "BT", 100)),
		newInvoice(procLine("l1", "RT", 100), productLine("l2", "RTGG01", "pz", 70), procLine("l3", "RT", 10)),
		newInvoice(procLine("l1", "FL", 80), productLine("l2", "XX", "", 1)),
	}
	invoices[3].DoctorID = ""

	for _, inv := range invoices {
		once := Recompute(inv, reg)
		twice := Recompute(once, reg)
		assert.Equal(t, once, twice)
		assertConsistent(t, once)
	}
}

func TestRecompute_DoesNotMutateInput(t *testing.T) {
	reg := testRegistry(t)
	inv := newInvoice(productLine("l1", "ZZ", "", 1))

	_ = Recompute(inv, reg)
	assert.Nil(t, inv.Lines[0].Anomalies)
	assert.Empty(t, inv.State)
}

func TestRecompute_DerivesKindTotalsAndState(t *testing.T) {
	reg := testRegistry(t)

	rt := procLine("l1", "RT", 100)
	rt.GrossAmount = decimal.NewFromInt(122)
	inv := Recompute(newInvoice(rt, productLine("l2", "RTGG01", "ml", 2)), reg)

	assert.Equal(t, catalog.KindProcedure, inv.Lines[0].Kind)
	assert.Equal(t, catalog.KindProduct, inv.Lines[1].Kind)
	assert.True(t, inv.NetTotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, inv.GrossTotal.Equal(decimal.NewFromInt(122)))
	assert.True(t, inv.VatTotal.Equal(decimal.NewFromInt(22)))
	assert.True(t, inv.HasVat)
	assert.Equal(t, StatePending, inv.State)
	assert.Empty(t, inv.Anomalies)
}

func TestRecompute_ImportedIsFrozen(t *testing.T) {
	reg := testRegistry(t)
	inv := Recompute(newInvoice(procLine("l1", "BT", 100)), reg)
	imported, err := Import(inv)
	require.NoError(t, err)

	// Even a catalog that no longer knows the code leaves it untouched.
	empty, err := catalog.NewRegistry(nil, nil, nil, nil)
	require.NoError(t, err)
	again := Recompute(imported, empty)
	assert.Equal(t, imported, again)
	assert.Equal(t, StateImported, again.State)
}

func TestRecompute_DuplicateScenario(t *testing.T) {
	reg := testRegistry(t)
	inv := Recompute(newInvoice(procLine("l1", "BT", 100), procLine("l2", "BT", 100)), reg)

	assert.True(t, inv.Lines[0].Anomalies.Has(DuplicateProcedure))
	assert.True(t, inv.Lines[1].Anomalies.Has(DuplicateProcedure))
	assert.Equal(t, AnomalySet{DuplicateProcedure}, inv.Anomalies)
	assert.Equal(t, StateAnomalous, inv.State)
}

// =============================================================================
// IMPORT GATE
// =============================================================================

func TestImport_Gate(t *testing.T) {
	reg := testRegistry(t)

	cases := []struct {
		name string
		inv  Invoice
		ok   bool
	}{
		{name: "ready", inv: newInvoice(procLine("l1", "BT", 100)), ok: true},
		{name: "anomalous", inv: newInvoice(procLine("l1", "RT", 100))},
		{
			name: "no doctor",
			inv: func() Invoice {
				inv := newInvoice(procLine("l1", "BT", 100))
				inv.DoctorID = ""
				return inv
			}(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := Recompute(tc.inv, reg)
			assert.Equal(t, tc.ok, CanImport(inv))

			out, err := Import(inv)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, StateImported, out.State)
				assertConsistent(t, out)
				return
			}
			assert.ErrorIs(t, err, ErrNotImportable)
			var nie *NotImportableError
			require.ErrorAs(t, err, &nie)
			assert.Equal(t, inv.ID, nie.InvoiceID)
			assert.Equal(t, inv, out)
		})
	}
}

func TestImport_EngineRecomputesStaleAnomalies(t *testing.T) {
	eng := testEngine(t)

	// Never recomputed: the stored set is empty although the lines repeat.
	stale := newInvoice(procLine("l1", "BT", 100), procLine("l2", "BT", 100))
	require.True(t, CanImport(stale))

	out, err := eng.Import(stale)
	assert.ErrorIs(t, err, ErrNotImportable)
	assert.Equal(t, stale, out)

	var nie *NotImportableError
	require.ErrorAs(t, err, &nie)
	assert.Equal(t, AnomalySet{DuplicateProcedure}, nie.Anomalies)
}

func TestImport_Idempotent(t *testing.T) {
	eng := testEngine(t)
	inv, err := eng.Import(newInvoice(procLine("l1", "BT", 100)))
	require.NoError(t, err)

	again, err := eng.Import(inv)
	require.NoError(t, err)
	assert.Equal(t, inv, again)
}

func TestEngineImport_RecomputesFirst(t *testing.T) {
	eng := testEngine(t)

	// Stale state claims no anomalies; the RT line is incomplete.
	stale := newInvoice(procLine("l1", "RT", 100))
	out, err := eng.Import(stale)
	assert.ErrorIs(t, err, ErrNotImportable)
	assert.Equal(t, stale, out)
}

// =============================================================================
// CORRECTIONS
// =============================================================================

func TestCorrect_Preconditions(t *testing.T) {
	eng := testEngine(t)
	inv := eng.Recompute(newInvoice(procLine("l1", "BT", 100), productLine("l2", "ZZ", "", 1)))

	cases := []struct {
		name string
		c    Correction
		want error
	}{
		{"missing line", ZeroPrice{LineID: "nope"}, ErrLineNotFound},
		{"delete missing line", DeleteLine{LineID: "nope"}, ErrLineNotFound},
		{"associate procedure line", AssociateToProcedure{LineID: "l1", ProcedureCode: "RT"}, ErrWrongLineKind},
		{"unit of unknown code", CorrectUnit{LineID: "l2"}, ErrUnknownCode},
		{"zero quantity", CorrectQuantity{LineID: "l1", Quantity: decimal.Zero}, ErrInvalidParameter},
		{"empty code", CorrectCode{LineID: "l2", Code: " "}, ErrInvalidParameter},
		{"products on plain line", AddMissingProducts{LineID: "l2", Products: []ProductRequest{{Code: "GG01"}}}, ErrWrongLineKind},
		{"no products", AddMissingProducts{LineID: "l1"}, ErrInvalidParameter},
		{"unknown equipment", AddMissingEquipment{LineID: "l1", EquipmentCode: "ZZ"}, ErrUnknownCode},
		{"confirm plain procedure", ConfirmProcedureComplete{LineID: "l1"}, ErrWrongLineKind},
		{"empty doctor", AssignDoctor{DoctorID: ""}, ErrInvalidParameter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := eng.Correct(inv, tc.c)
			assert.ErrorIs(t, err, tc.want)

			var pe *PreconditionError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.c.Name(), pe.Op)
			assert.Equal(t, inv, out)
		})
	}
}

func TestCorrect_ImportedRejected(t *testing.T) {
	eng := testEngine(t)
	inv, err := eng.Import(newInvoice(procLine("l1", "BT", 100)))
	require.NoError(t, err)

	out, err := eng.Correct(inv, ZeroPrice{LineID: "l1"})
	assert.ErrorIs(t, err, ErrInvoiceImported)
	assert.Equal(t, inv, out)
}

func TestCorrect_DoesNotMutateInput(t *testing.T) {
	eng := testEngine(t)
	inv := eng.Recompute(newInvoice(procLine("l1", "BT", 100), procLine("l2", "BT", 50)))
	before := inv.Clone()

	_, err := eng.Correct(inv, DeleteLine{LineID: "l1"})
	require.NoError(t, err)
	assert.Equal(t, before, inv)
}

func TestCorrect_ZeroPriceAndDelete(t *testing.T) {
	eng := testEngine(t)

	gel := productLine("l2", "RTGG01", "ml", 1)
	gel.NetAmount = decimal.NewFromInt(15)
	gel.GrossAmount = decimal.NewFromInt(15)
	inv := eng.Recompute(newInvoice(procLine("l1", "RT", 100), gel, procLine("l3", "BT", 30)))
	require.Equal(t, AnomalySet{ProductHasPrice}, inv.Anomalies)

	inv, err := eng.Correct(inv, ZeroPrice{LineID: "l2"})
	require.NoError(t, err)
	assert.Empty(t, inv.Anomalies)
	assert.Equal(t, StatePending, inv.State)
	assertConsistent(t, inv)
	assert.True(t, inv.NetTotal.Equal(decimal.NewFromInt(130)))

	inv, err = eng.Correct(inv, DeleteLine{LineID: "l3"})
	require.NoError(t, err)
	assert.Len(t, inv.Lines, 2)
	assert.True(t, inv.NetTotal.Equal(decimal.NewFromInt(100)))
	assertConsistent(t, inv)
}

func TestCorrect_OrphanScenario(t *testing.T) {
	eng := testEngine(t)

	inv := eng.Recompute(newInvoice(productLine("l1", "RTGG01", "ml", 1)))
	require.True(t, inv.Lines[0].Anomalies.Has(OrphanProduct))

	inv, err := eng.Correct(inv, AssociateToProcedure{LineID: "l1", ProcedureCode: "RT"})
	require.NoError(t, err)
	assert.False(t, inv.Lines[0].Anomalies.Has(OrphanProduct))
	assert.Equal(t, "RT", inv.Lines[0].ParentProcedureCode)
	assertConsistent(t, inv)

	_, err = eng.Correct(inv, AssociateToProcedure{LineID: "l1", ProcedureCode: "XX"})
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestCorrect_AssociateWithPrice(t *testing.T) {
	eng := testEngine(t)

	gel := productLine("l2", "RTGG01", "ml", 1)
	gel.NetAmount = decimal.NewFromInt(10)
	gel.GrossAmount = decimal.NewFromInt(12)
	inv := eng.Recompute(newInvoice(procLine("l1", "RT", 100), gel))
	require.True(t, inv.Lines[1].Anomalies.Has(ProductHasPrice))

	price := decimal.NewFromInt(20)
	inv, err := eng.Correct(inv, AssociateToProcedure{LineID: "l2", ProcedureCode: "RT", Price: &price})
	require.NoError(t, err)

	line := lineByID(t, inv, "l2")
	assert.True(t, line.PricedAccessory)
	assert.Empty(t, line.Anomalies)
	assert.True(t, line.NetAmount.Equal(price))
	assert.True(t, line.GrossAmount.Equal(decimal.NewFromInt(24)))
	assert.True(t, inv.NetTotal.Equal(decimal.NewFromInt(120)))
	assertConsistent(t, inv)

	free := decimal.Zero
	inv, err = eng.Correct(inv, AssociateToProcedure{LineID: "l2", ProcedureCode: "RT", Price: &free})
	require.NoError(t, err)
	assert.False(t, lineByID(t, inv, "l2").PricedAccessory)
	assert.True(t, inv.NetTotal.Equal(decimal.NewFromInt(100)))
}

func TestCorrect_UnitAndQuantity(t *testing.T) {
	eng := testEngine(t)

	bt := procLine("l1", "BT", 100)
	bt.Unit = "pz"
	inv := eng.Recompute(newInvoice(procLine("l0", "RT", 10), bt, productLine("l2", "RTGG01", "pz", 70)))
	require.Equal(t, AnomalySet{IncompatibleUnit, AnomalousQuantity}, inv.Anomalies)

	inv, err := eng.CorrectAll(inv,
		CorrectUnit{LineID: "l1"},
		CorrectUnit{LineID: "l2"},
		CorrectQuantity{LineID: "l2", Quantity: decimal.NewFromInt(20)},
	)
	require.NoError(t, err)
	assert.Equal(t, catalog.ProcedureUnit, lineByID(t, inv, "l1").Unit)
	assert.Equal(t, "ml", lineByID(t, inv, "l2").Unit)
	assert.Empty(t, inv.Anomalies)
	assertConsistent(t, inv)
}

func TestCorrect_CorrectCodeCascades(t *testing.T) {
	eng := testEngine(t)

	unknown := productLine("l1", "RTGG1", "", 3)
	unknown.NetAmount = decimal.NewFromInt(8)
	unknown.GrossAmount = decimal.NewFromInt(8)
	unknown.Description = "typo"
	inv := eng.Recompute(newInvoice(procLine("l0", "RT", 100), unknown))
	require.Equal(t, AnomalySet{UnknownCode}, lineByID(t, inv, "l1").Anomalies)

	// The corrected code is a priced product: unknown_code turns into product_has_price.
	inv, err := eng.Correct(inv, CorrectCode{LineID: "l1", Code: "RTGG01"})
	require.NoError(t, err)
	line := lineByID(t, inv, "l1")
	assert.Equal(t, catalog.KindProduct, line.Kind)
	assert.Equal(t, "Conductive gel", line.Description)
	assert.Equal(t, "ml", line.Unit)
	assert.Equal(t, AnomalySet{ProductHasPrice}, line.Anomalies)

	zero := decimal.Zero
	qty := decimal.NewFromInt(2)
	inv, err = eng.Correct(inv, CorrectCode{LineID: "l1", Code: "RTGG01", Price: &zero, Quantity: &qty})
	require.NoError(t, err)
	line = lineByID(t, inv, "l1")
	assert.Empty(t, line.Anomalies)
	assert.True(t, line.Quantity.Equal(qty))
	assertConsistent(t, inv)
}

func TestCorrect_CorrectCodeClearsOverride(t *testing.T) {
	eng := testEngine(t)

	gel := productLine("l1", "RTGG01", "ml", 1)
	gel.ParentProcedureCode = "BT"
	inv := eng.Recompute(newInvoice(gel))
	require.Empty(t, inv.Lines[0].Anomalies)

	inv, err := eng.Correct(inv, CorrectCode{LineID: "l1", Code: "BTGG01"})
	require.NoError(t, err)
	assert.Empty(t, inv.Lines[0].ParentProcedureCode)
	assert.True(t, inv.Lines[0].Anomalies.Has(OrphanProduct))
}

func TestCorrect_IncompleteProcedureScenario(t *testing.T) {
	eng := testEngine(t)

	inv := eng.Recompute(newInvoice(procLine("l1", "RT", 100)))
	require.True(t, inv.Lines[0].Anomalies.Has(IncompleteProcedure))

	inv, err := eng.Correct(inv, AddMissingProducts{
		LineID:   "l1",
		Products: []ProductRequest{{Code: "GG01"}},
	})
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)

	added := inv.Lines[1]
	assert.Equal(t, "added-1", added.ID)
	assert.Equal(t, "RTGG01", added.Code)
	assert.Equal(t, "RT", added.ParentProcedureCode)
	assert.Equal(t, catalog.KindProduct, added.Kind)
	assert.Equal(t, "ml", added.Unit)
	assert.True(t, added.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, added.NetAmount.IsZero())

	inv, err = eng.Correct(inv, ConfirmProcedureComplete{LineID: "l1"})
	require.NoError(t, err)
	assert.True(t, inv.Lines[0].ProductsConfirmed)
	assert.False(t, inv.Lines[0].Anomalies.Has(IncompleteProcedure))
	assert.Empty(t, inv.Anomalies)
	assert.True(t, CanImport(inv))
	assertConsistent(t, inv)
}

func TestCorrect_ConfirmWithoutProducts(t *testing.T) {
	eng := testEngine(t)

	inv := eng.Recompute(newInvoice(procLine("l1", "RT", 100)))
	inv, err := eng.Correct(inv, ConfirmProcedureComplete{LineID: "l1"})
	require.NoError(t, err)
	assert.Empty(t, inv.Anomalies)
}

func TestCorrect_AddMissingProductsRejectsUnknownAtomically(t *testing.T) {
	eng := testEngine(t)
	inv := eng.Recompute(newInvoice(procLine("l1", "RT", 100)))

	out, err := eng.Correct(inv, AddMissingProducts{
		LineID:   "l1",
		Products: []ProductRequest{{Code: "GG01"}, {Code: "NOPE"}},
	})
	assert.ErrorIs(t, err, ErrUnknownCode)
	assert.Equal(t, inv, out)
	assert.Len(t, out.Lines, 1)
}

func TestCorrect_AddMissingEquipment(t *testing.T) {
	eng := testEngine(t)

	inv := eng.Recompute(newInvoice(procLine("l1", "FL", 80)))
	require.Equal(t, AnomalySet{ProcedureMissingEquipment}, inv.Anomalies)

	inv, err := eng.Correct(inv, AddMissingEquipment{LineID: "l1", EquipmentCode: "LX"})
	require.NoError(t, err)

	line := inv.Lines[0]
	assert.Equal(t, "FLLX", line.Code)
	assert.Equal(t, catalog.KindEquipment, line.Kind)
	assert.Equal(t, "min", line.Unit)
	assert.True(t, line.NetAmount.Equal(decimal.NewFromInt(80)))
	assert.Empty(t, inv.Anomalies)
	assertConsistent(t, inv)
}

func TestCorrect_AssignDoctor(t *testing.T) {
	eng := testEngine(t)

	inv := newInvoice(procLine("l1", "BT", 100))
	inv.DoctorID = ""
	inv = eng.Recompute(inv)
	require.Equal(t, AnomalySet{MissingDoctor}, inv.Anomalies)
	require.False(t, CanImport(inv))

	inv, err := eng.Correct(inv, AssignDoctor{DoctorID: "D7", DoctorName: " Dr. Neri "})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Neri", inv.DoctorName)
	assert.True(t, CanImport(inv))

	inv, err = eng.Import(inv)
	require.NoError(t, err)
	assertConsistent(t, inv)
}

func TestCorrectAll_StopsAtFirstFailure(t *testing.T) {
	eng := testEngine(t)
	inv := eng.Recompute(newInvoice(procLine("l1", "BT", 100), procLine("l2", "BT", 50)))

	out, err := eng.CorrectAll(inv, DeleteLine{LineID: "l2"}, DeleteLine{LineID: "l9"})
	assert.ErrorIs(t, err, ErrLineNotFound)
	assert.Len(t, out.Lines, 1)

	var pe *PreconditionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "l9", pe.LineID)
}

// FL and FLL share a prefix, so FL+LX reads as FLL+X and FL+LG as FLL+G.
func prefixAmbiguousRegistry(t *testing.T, combinations ...catalog.Combination) *catalog.Registry {
	t.Helper()
	reg, err := catalog.NewRegistry(
		[]catalog.Procedure{
			{Code: "FL", Description: "Laser session", RequiresEquipment: true},
			{Code: "FLL", Description: "Long laser session"},
		},
		[]catalog.Product{
			{Code: "X", Name: "Cooling pad", Unit: "pz"},
			{Code: "G", Name: "Gel", Unit: "ml"},
			{Code: "LG", Name: "Laser gel", Unit: "ml"},
		},
		[]catalog.Equipment{{Code: "LX", Name: "Laser unit", Unit: "min"}},
		combinations,
	)
	require.NoError(t, err)
	return reg
}

func TestCorrect_ComposedCodeMustReadBack(t *testing.T) {
	eng := NewEngine(prefixAmbiguousRegistry(t))
	inv := eng.Recompute(newInvoice(procLine("l1", "FL", 80)))
	require.Equal(t, AnomalySet{ProcedureMissingEquipment}, inv.Anomalies)

	out, err := eng.Correct(inv, AddMissingEquipment{LineID: "l1", EquipmentCode: "LX"})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, inv, out)
	assert.Equal(t, "FL", out.Lines[0].Code)

	out, err = eng.Correct(inv, AddMissingProducts{
		LineID:   "l1",
		Products: []ProductRequest{{Code: "G"}, {Code: "LG"}},
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Len(t, out.Lines, 1)

	out, err = eng.Correct(inv, AddMissingProducts{LineID: "l1", Products: []ProductRequest{{Code: "G"}}})
	require.NoError(t, err)
	assert.Equal(t, "FLG", out.Lines[1].Code)
}

func TestCorrect_WhitelistedCompositeReadsBack(t *testing.T) {
	reg := prefixAmbiguousRegistry(t, catalog.Combination{
		Code: "FLLX", Kind: catalog.CombinationProcedureEquipment, ProcedureCode: "FL", AccessoryCode: "LX",
	})
	eng := NewEngine(reg)
	inv := eng.Recompute(newInvoice(procLine("l1", "FL", 80)))

	inv, err := eng.Correct(inv, AddMissingEquipment{LineID: "l1", EquipmentCode: "LX"})
	require.NoError(t, err)
	assert.Equal(t, "FLLX", inv.Lines[0].Code)
	assert.Equal(t, catalog.KindEquipment, inv.Lines[0].Kind)
	assert.Empty(t, inv.Anomalies)
}
