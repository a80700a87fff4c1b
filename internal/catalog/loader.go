// =============================================================================
// Billing Reconciler - YAML Catalog Loader
// =============================================================================
//
// Catalogs exported by the practice management system are kept as YAML:
//
//   procedures:
//     - code: RT
//       description: Radiofrequency treatment
//       requires_products: true
//   products:
//     - code: GG01
//       name: Conductive gel
//       unit: ml
//       default_price: "0"
//       anomaly_quantity_threshold: "50"
//   equipment:
//     - code: LX
//       name: Laser unit
//   combinations:
//     - code: RTGG01
//       kind: procedure+product
//       procedure_code: RT
//       accessory_code: GG01
//
// Decimal fields are read as strings and parsed with shopspring/decimal so
// prices never pass through float64.
//
// =============================================================================

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// catalogDocument mirrors the YAML layout.
type catalogDocument struct {
	Procedures []struct {
		Code              string `yaml:"code"`
		Description       string `yaml:"description"`
		RequiresProducts  bool   `yaml:"requires_products"`
		RequiresEquipment bool   `yaml:"requires_equipment"`
	} `yaml:"procedures"`

	Products []struct {
		Code                     string `yaml:"code"`
		Name                     string `yaml:"name"`
		Unit                     string `yaml:"unit"`
		DefaultPrice             string `yaml:"default_price"`
		AnomalyQuantityThreshold string `yaml:"anomaly_quantity_threshold"`
	} `yaml:"products"`

	Equipment []struct {
		Code string `yaml:"code"`
		Name string `yaml:"name"`
		Unit string `yaml:"unit"`
	} `yaml:"equipment"`

	Combinations []struct {
		Code          string `yaml:"code"`
		Kind          string `yaml:"kind"`
		ProcedureCode string `yaml:"procedure_code"`
		AccessoryCode string `yaml:"accessory_code"`
	} `yaml:"combinations"`
}

// Load reads a catalog file, choosing the loader from the file extension.
func Load(path string) (*Registry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadWorkbook(path)
	default:
		return LoadYAML(path)
	}
}

// LoadYAML reads a YAML catalog file and builds the registry.
func LoadYAML(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML builds a registry from YAML catalog content.
func ParseYAML(data []byte) (*Registry, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	procedures := make([]Procedure, 0, len(doc.Procedures))
	for _, p := range doc.Procedures {
		procedures = append(procedures, Procedure{
			Code:              strings.TrimSpace(p.Code),
			Description:       p.Description,
			RequiresProducts:  p.RequiresProducts,
			RequiresEquipment: p.RequiresEquipment,
		})
	}

	products := make([]Product, 0, len(doc.Products))
	for _, p := range doc.Products {
		price, err := parseDecimal(p.DefaultPrice)
		if err != nil {
			return nil, fmt.Errorf("product %q default_price: %w", p.Code, err)
		}
		threshold, err := parseDecimal(p.AnomalyQuantityThreshold)
		if err != nil {
			return nil, fmt.Errorf("product %q anomaly_quantity_threshold: %w", p.Code, err)
		}
		products = append(products, Product{
			Code:                     strings.TrimSpace(p.Code),
			Name:                     p.Name,
			Unit:                     strings.TrimSpace(p.Unit),
			DefaultPrice:             price,
			AnomalyQuantityThreshold: threshold,
		})
	}

	equipment := make([]Equipment, 0, len(doc.Equipment))
	for _, e := range doc.Equipment {
		equipment = append(equipment, Equipment{
			Code: strings.TrimSpace(e.Code),
			Name: e.Name,
			Unit: strings.TrimSpace(e.Unit),
		})
	}

	combinations := make([]Combination, 0, len(doc.Combinations))
	for _, c := range doc.Combinations {
		kind, err := ParseCombinationKind(strings.ToLower(strings.TrimSpace(c.Kind)))
		if err != nil {
			return nil, fmt.Errorf("combination %q: %w", c.Code, err)
		}
		combinations = append(combinations, Combination{
			Code:          strings.TrimSpace(c.Code),
			Kind:          kind,
			ProcedureCode: strings.TrimSpace(c.ProcedureCode),
			AccessoryCode: strings.TrimSpace(c.AccessoryCode),
		})
	}

	return NewRegistry(procedures, products, equipment, combinations)
}

// parseDecimal treats an empty string as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
}
