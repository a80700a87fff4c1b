package ingest

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	input := "\uFEFFNumero;Data;Codice;;Importo\n" +
		"100;15/03/2024; rt ;x;100,00\n" +
		";;;;\n" +
		"101;16/03/2024;BT\n"

	table, err := ReadCSV(strings.NewReader(input), config.CSVSettings{Delimiter: ";"}, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"Numero", "Data", "Codice", "Column_4", "Importo"}, table.Headers)
	require.Len(t, table.Rows, 2)

	assert.Equal(t, 2, table.Rows[0].Number)
	assert.Equal(t, "rt", table.Rows[0].Get("Codice"))
	assert.Equal(t, "100,00", table.Rows[0].Get("Importo"))

	assert.Equal(t, 4, table.Rows[1].Number)
	assert.Equal(t, "", table.Rows[1].Get("Importo"))
	assert.Equal(t, "", table.Rows[1].Get(""))
}

func TestReadCSV_HeaderRow(t *testing.T) {
	input := "Export billing\n,\nNumero,Data\n7,2024-01-02\n"

	table, err := ReadCSV(strings.NewReader(input), config.CSVSettings{Delimiter: ","}, 3)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "7", table.Rows[0].Get("Numero"))
	assert.Equal(t, 4, table.Rows[0].Number)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), config.CSVSettings{}, 1)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestReadFile_Workbook(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Numero", "Data", "Codice", "Importo"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{100, 45366, "RT", 120.5}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{101, 45367, "BT", 80}))

	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	table, err := ReadFile(path, config.IngestConfig{HeaderRow: 1})
	require.NoError(t, err)

	assert.Equal(t, path, table.SourceFile)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "100", table.Rows[0].Get("Numero"))
	assert.Equal(t, "45366", table.Rows[0].Get("Data"))
	assert.Equal(t, "120.5", table.Rows[0].Get("Importo"))
	assert.Equal(t, 3, table.Rows[1].Number)
}

func TestReadFile_Unsupported(t *testing.T) {
	_, err := ReadFile("export.pdf", config.IngestConfig{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalizer(t *testing.T) {
	n, err := NewNormalizer([]config.NormalizationRule{
		{Field: "Codice", Actions: []config.NormalizationAction{
			{Type: "trim"},
			{Type: "uppercase"},
			{Type: "regex_replace", Find: `[\s\-]+`, Value: ""},
		}},
		{Field: "Numero", Actions: []config.NormalizationAction{
			{Type: "remove_leading_zeros"},
		}},
		{Field: "Serie", Actions: []config.NormalizationAction{
			{Type: "lookup", LookupTable: map[string]string{"Principale": "P"}},
			{Type: "if_empty_use_default", Value: "P"},
		}},
	})
	require.NoError(t, err)

	table := &Table{Rows: []Row{
		{Number: 2, Values: map[string]string{"Codice": " rt-gg 01 ", "Numero": "000100", "Serie": "Principale"}},
		{Number: 3, Values: map[string]string{"Codice": "bt", "Numero": "000", "Serie": ""}},
		{Number: 4, Values: map[string]string{"Numero": "12", "Serie": "IVA"}},
	}}
	n.Apply(table)

	assert.Equal(t, "RTGG01", table.Rows[0].Values["Codice"])
	assert.Equal(t, "100", table.Rows[0].Values["Numero"])
	assert.Equal(t, "P", table.Rows[0].Values["Serie"])

	assert.Equal(t, "BT", table.Rows[1].Values["Codice"])
	assert.Equal(t, "0", table.Rows[1].Values["Numero"])
	assert.Equal(t, "P", table.Rows[1].Values["Serie"])

	assert.NotContains(t, table.Rows[2].Values, "Codice")
	assert.Equal(t, "IVA", table.Rows[2].Values["Serie"])
}

func TestNewNormalizer_RejectsBadRules(t *testing.T) {
	_, err := NewNormalizer([]config.NormalizationRule{{Field: "X", Actions: []config.NormalizationAction{{Type: "explode"}}}})
	assert.Error(t, err)

	_, err = NewNormalizer([]config.NormalizationRule{{Field: "X", Actions: []config.NormalizationAction{{Type: "regex_replace", Find: "("}}}})
	assert.Error(t, err)
}
