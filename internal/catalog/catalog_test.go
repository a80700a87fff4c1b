package catalog

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	reg, err := NewRegistry(
		[]Procedure{
			{Code: "RT", Description: "Radiofrequency", RequiresProducts: true},
			{Code: "R", Description: "Revision"},
			{Code: "FL", Description: "Laser session", RequiresEquipment: true},
		},
		[]Product{
			{Code: "GG01", Name: "Conductive gel", Unit: "ml", AnomalyQuantityThreshold: decimal.NewFromInt(50)},
			{Code: "TGG01", Name: "Tinted gel", Unit: "pz"},
			{Code: "TX9", Name: "Topical serum", Unit: "fl"},
		},
		[]Equipment{
			{Code: "LX", Name: "Laser unit", Unit: "min"},
		},
		[]Combination{
			{Code: "FLLX", Kind: CombinationProcedureEquipment, ProcedureCode: "FL", AccessoryCode: "LX"},
		},
	)
	require.NoError(t, err)
	return reg
}

func TestNewRegistry_RejectsInvalidEntries(t *testing.T) {
	cases := []struct {
		name         string
		procedures   []Procedure
		products     []Product
		combinations []Combination
	}{
		{name: "empty procedure code", procedures: []Procedure{{Code: ""}}},
		{name: "duplicate procedure", procedures: []Procedure{{Code: "RT"}, {Code: "RT"}}},
		{name: "duplicate product", products: []Product{{Code: "GG01"}, {Code: "GG01"}}},
		{
			name:         "combination with unknown procedure",
			products:     []Product{{Code: "GG01"}},
			combinations: []Combination{{Code: "XXGG01", Kind: CombinationProcedureProduct, ProcedureCode: "XX", AccessoryCode: "GG01"}},
		},
		{
			name:         "combination with unknown product",
			procedures:   []Procedure{{Code: "RT"}},
			combinations: []Combination{{Code: "RTZZ", Kind: CombinationProcedureProduct, ProcedureCode: "RT", AccessoryCode: "ZZ"}},
		},
		{
			name:         "procedure combination with accessory",
			procedures:   []Procedure{{Code: "RT"}},
			combinations: []Combination{{Code: "RT2", Kind: CombinationProcedure, ProcedureCode: "RT", AccessoryCode: "GG01"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.procedures, tc.products, nil, tc.combinations)
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestRegistry_PrefixLengthsDescending(t *testing.T) {
	reg := testRegistry(t)
	assert.Equal(t, []int{2, 1}, reg.prefixLengths)
}

func TestDecompose(t *testing.T) {
	reg := testRegistry(t)

	cases := []struct {
		code string
		want Decomposition
	}{
		{"RT", Decomposition{Valid: true, Kind: KindProcedure, ProcedureCode: "RT"}},
		{"RTGG01", Decomposition{Valid: true, Kind: KindProduct, ProcedureCode: "RT", AccessoryCode: "GG01"}},
		{"FLLX", Decomposition{Valid: true, Kind: KindEquipment, ProcedureCode: "FL", AccessoryCode: "LX"}},
		{"RLX", Decomposition{Valid: true, Kind: KindEquipment, ProcedureCode: "R", AccessoryCode: "LX"}},
		{"ZZZZZZ", Decomposition{}},
		{"", Decomposition{}},
		{"RTGG0", Decomposition{}},
		{"\x00\xff", Decomposition{}},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.want, reg.Decompose(tc.code))
		})
	}
}

func TestDecompose_PrefixAmbiguity(t *testing.T) {
	reg := testRegistry(t)

	// "RTGG01" also splits as R + TGG01; the longest procedure prefix wins.
	d := reg.Decompose("RTGG01")
	assert.Equal(t, "RT", d.ProcedureCode)
	assert.Equal(t, "GG01", d.AccessoryCode)

	// RT + X9 fails, so the search falls back to R + TX9.
	d = reg.Decompose("RTX9")
	require.True(t, d.Valid)
	assert.Equal(t, KindProduct, d.Kind)
	assert.Equal(t, "R", d.ProcedureCode)
	assert.Equal(t, "TX9", d.AccessoryCode)
}

func TestDecompose_CombinationOverridesSplit(t *testing.T) {
	reg, err := NewRegistry(
		[]Procedure{{Code: "RT"}, {Code: "R"}},
		[]Product{{Code: "GG01"}, {Code: "TGG01"}},
		nil,
		[]Combination{{Code: "RTGG01", Kind: CombinationProcedureProduct, ProcedureCode: "R", AccessoryCode: "TGG01"}},
	)
	require.NoError(t, err)

	d := reg.Decompose("RTGG01")
	assert.Equal(t, Decomposition{Valid: true, Kind: KindProduct, ProcedureCode: "R", AccessoryCode: "TGG01"}, d)

	findings := reg.CheckCombinations()
	require.Len(t, findings, 1)
	assert.Equal(t, "RTGG01", findings[0].Code)
	assert.False(t, findings[0].Blocking)
}

func TestDecompose_CombinationConsistency(t *testing.T) {
	reg := testRegistry(t)

	for _, c := range reg.Combinations() {
		d := reg.Decompose(c.Code)
		assert.True(t, d.Valid, c.Code)
		assert.Equal(t, c.Kind.LineKind(), d.Kind, c.Code)
		assert.Equal(t, c.ProcedureCode, d.ProcedureCode, c.Code)
		assert.Equal(t, c.AccessoryCode, d.AccessoryCode, c.Code)
	}
	assert.Empty(t, reg.CheckCombinations())
}

func TestRegistry_AccessoryUnitAndDescribe(t *testing.T) {
	reg := testRegistry(t)

	unit, ok := reg.AccessoryUnit(reg.Decompose("RTGG01"))
	assert.True(t, ok)
	assert.Equal(t, "ml", unit)

	unit, ok = reg.AccessoryUnit(reg.Decompose("RT"))
	assert.True(t, ok)
	assert.Equal(t, ProcedureUnit, unit)

	_, ok = reg.AccessoryUnit(reg.Decompose("nope"))
	assert.False(t, ok)

	assert.Equal(t, "Conductive gel", reg.Describe(reg.Decompose("RTGG01")))
	assert.Equal(t, "Laser unit", reg.Describe(reg.Decompose("FLLX")))
	assert.Equal(t, "Radiofrequency", reg.Describe(reg.Decompose("RT")))
}

func TestParseCombinationKind(t *testing.T) {
	k, err := ParseCombinationKind("prestazione+prodotto")
	require.NoError(t, err)
	assert.Equal(t, CombinationProcedureProduct, k)

	_, err = ParseCombinationKind("bundle")
	assert.Error(t, err)
}

const catalogYAML = `
procedures:
  - code: RT
    description: Radiofrequency
    requires_products: true
  - code: FL
    description: Laser session
    requires_equipment: true
products:
  - code: GG01
    name: Conductive gel
    unit: ml
    default_price: "0"
    anomaly_quantity_threshold: "12,5"
equipment:
  - code: LX
    name: Laser unit
combinations:
  - code: FLLX
    kind: equipment
    procedure_code: FL
    accessory_code: LX
`

func TestParseYAML(t *testing.T) {
	reg, err := ParseYAML([]byte(catalogYAML))
	require.NoError(t, err)

	procs, prods, equip, combos := reg.Stats()
	assert.Equal(t, 2, procs)
	assert.Equal(t, 1, prods)
	assert.Equal(t, 1, equip)
	assert.Equal(t, 1, combos)

	p, ok := reg.Product("GG01")
	require.True(t, ok)
	assert.True(t, p.AnomalyQuantityThreshold.Equal(decimal.RequireFromString("12.5")))

	rt, ok := reg.Procedure("RT")
	require.True(t, ok)
	assert.True(t, rt.RequiresProducts)

	c, ok := reg.Combination("FLLX")
	require.True(t, ok)
	assert.Equal(t, CombinationProcedureEquipment, c.Kind)
}

func TestParseYAML_BadDecimal(t *testing.T) {
	_, err := ParseYAML([]byte("products:\n  - code: GG01\n    default_price: abc\n"))
	assert.Error(t, err)
}

func TestLoadWorkbook(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", SheetProcedures))
	_, err := f.NewSheet(SheetProducts)
	require.NoError(t, err)
	_, err = f.NewSheet(SheetCombinations)
	require.NoError(t, err)

	require.NoError(t, f.SetSheetRow(SheetProcedures, "A1", &[]interface{}{"Code", "Description", "Requires_Products"}))
	require.NoError(t, f.SetSheetRow(SheetProcedures, "A2", &[]interface{}{"RT", "Radiofrequency", "si"}))
	require.NoError(t, f.SetSheetRow(SheetProcedures, "A3", &[]interface{}{"", "skipped row"}))

	require.NoError(t, f.SetSheetRow(SheetProducts, "A1", &[]interface{}{"unit", "code", "name", "anomaly_quantity_threshold"}))
	require.NoError(t, f.SetSheetRow(SheetProducts, "A2", &[]interface{}{"ml", "GG01", "Conductive gel", "50"}))

	require.NoError(t, f.SetSheetRow(SheetCombinations, "A1", &[]interface{}{"code", "kind", "procedure_code", "accessory_code"}))
	require.NoError(t, f.SetSheetRow(SheetCombinations, "A2", &[]interface{}{"RTGG01", "Procedure+Product", "RT", "GG01"}))

	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	reg, err := Load(path)
	require.NoError(t, err)

	procs, prods, equip, combos := reg.Stats()
	assert.Equal(t, 1, procs)
	assert.Equal(t, 1, prods)
	assert.Equal(t, 0, equip)
	assert.Equal(t, 1, combos)

	rt, _ := reg.Procedure("RT")
	assert.True(t, rt.RequiresProducts)

	gel, _ := reg.Product("GG01")
	assert.Equal(t, "ml", gel.Unit)
	assert.True(t, gel.AnomalyQuantityThreshold.Equal(decimal.NewFromInt(50)))
}

func TestLoadWorkbook_MissingRequiredSheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", SheetProcedures))
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	_, err := LoadWorkbook(path)
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}
