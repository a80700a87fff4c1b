// =============================================================================
// Billing Reconciler - XLSX Catalog Loader
// =============================================================================
//
// Catalog workbooks carry one sheet per family. Row 1 holds the column
// headers; columns are located by header name, so their order is free.
//
//   | Sheet        | Columns                                                   |
//   |--------------|-----------------------------------------------------------|
//   | Procedures   | code, description, requires_products, requires_equipment  |
//   | Products     | code, name, unit, default_price, anomaly_quantity_threshold|
//   | Equipment    | code, name, unit                                          |
//   | Combinations | code, kind, procedure_code, accessory_code                |
//
// The Equipment and Combinations sheets are optional.
//
// =============================================================================

package catalog

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names read by LoadWorkbook.
const (
	SheetProcedures   = "Procedures"
	SheetProducts     = "Products"
	SheetEquipment    = "Equipment"
	SheetCombinations = "Combinations"
)

// LoadWorkbook reads an XLSX catalog and builds the registry.
func LoadWorkbook(path string) (*Registry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog workbook: %w", err)
	}
	defer f.Close()

	return parseWorkbook(f)
}

func parseWorkbook(f *excelize.File) (*Registry, error) {
	procRows, err := sheetRecords(f, SheetProcedures, true)
	if err != nil {
		return nil, err
	}
	prodRows, err := sheetRecords(f, SheetProducts, true)
	if err != nil {
		return nil, err
	}
	equipRows, err := sheetRecords(f, SheetEquipment, false)
	if err != nil {
		return nil, err
	}
	comboRows, err := sheetRecords(f, SheetCombinations, false)
	if err != nil {
		return nil, err
	}

	var procedures []Procedure
	for _, row := range procRows {
		procedures = append(procedures, Procedure{
			Code:              row["code"],
			Description:       row["description"],
			RequiresProducts:  normalizeBool(row["requires_products"]),
			RequiresEquipment: normalizeBool(row["requires_equipment"]),
		})
	}

	var products []Product
	for _, row := range prodRows {
		price, err := parseDecimal(row["default_price"])
		if err != nil {
			return nil, fmt.Errorf("product %q default_price: %w", row["code"], err)
		}
		threshold, err := parseDecimal(row["anomaly_quantity_threshold"])
		if err != nil {
			return nil, fmt.Errorf("product %q anomaly_quantity_threshold: %w", row["code"], err)
		}
		products = append(products, Product{
			Code:                     row["code"],
			Name:                     row["name"],
			Unit:                     row["unit"],
			DefaultPrice:             price,
			AnomalyQuantityThreshold: threshold,
		})
	}

	var equipment []Equipment
	for _, row := range equipRows {
		equipment = append(equipment, Equipment{Code: row["code"], Name: row["name"], Unit: row["unit"]})
	}

	var combinations []Combination
	for _, row := range comboRows {
		kind, err := ParseCombinationKind(strings.ToLower(row["kind"]))
		if err != nil {
			return nil, fmt.Errorf("combination %q: %w", row["code"], err)
		}
		combinations = append(combinations, Combination{
			Code:          row["code"],
			Kind:          kind,
			ProcedureCode: row["procedure_code"],
			AccessoryCode: row["accessory_code"],
		})
	}

	return NewRegistry(procedures, products, equipment, combinations)
}

// sheetRecords returns the data rows of a sheet keyed by lower-cased header.
// Rows without a code are skipped.
func sheetRecords(f *excelize.File, sheet string, required bool) ([]map[string]string, error) {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		if required {
			return nil, fmt.Errorf("%w: workbook has no %q sheet", ErrInvalidCatalog, sheet)
		}
		return nil, nil
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []map[string]string
	for _, row := range rows[1:] {
		record := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				record[h] = strings.TrimSpace(row[i])
			}
		}
		if record["code"] == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// normalizeBool reads the yes/no spellings found in hand-edited sheets.
func normalizeBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "y", "1", "x", "si", "sì", "s":
		return true
	default:
		return false
	}
}
