// =============================================================================
// Billing Reconciler - Correction Operations
// =============================================================================
//
// Each correction is a small command value. Engine.Correct clones the invoice,
// calls apply on the clone and recomputes; when apply fails the clone is
// discarded and the caller gets the original invoice back with the error.
//
//   | Correction               | Resolves                          |
//   |--------------------------|-----------------------------------|
//   | ZeroPrice                | product_has_price                 |
//   | DeleteLine               | any anomaly carried by the line   |
//   | AssociateToProcedure     | orphan_product                    |
//   | CorrectUnit              | incompatible_unit                 |
//   | CorrectQuantity          | anomalous_quantity                |
//   | CorrectCode              | unknown_code and its cascade      |
//   | AddMissingProducts       | incomplete_procedure              |
//   | AddMissingEquipment      | procedure_missing_equipment       |
//   | ConfirmProcedureComplete | incomplete_procedure              |
//   | AssignDoctor             | missing_doctor                    |
//
// =============================================================================

package reconcile

import (
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/shopspring/decimal"
)

// Correction is one invoice mutation. The set is closed: only this package
// can implement it.
type Correction interface {
	// Name identifies the correction in logs and errors.
	Name() string

	apply(inv *Invoice, env *applyEnv) error
}

// applyEnv carries what apply needs beyond the invoice.
type applyEnv struct {
	reg   *catalog.Registry
	newID func() string
}

// lineFor finds the target line or reports ErrLineNotFound.
func lineFor(op string, inv *Invoice, lineID string) (*LineItem, error) {
	idx := inv.LineIndex(lineID)
	if idx < 0 {
		return nil, precondition(op, inv, lineID, ErrLineNotFound, "")
	}
	return &inv.Lines[idx], nil
}

// composeCode joins a procedure and an accessory code and reports whether
// the result reads back as that same pair. On catalogs where one procedure
// code prefixes another, or where the whitelist reassigns the composite, it
// may not.
func composeCode(reg *catalog.Registry, procCode, accessoryCode string, kind catalog.LineKind) (string, bool) {
	code := procCode + accessoryCode
	d := reg.Decompose(code)
	return code, d.Valid && d.Kind == kind && d.ProcedureCode == procCode && d.AccessoryCode == accessoryCode
}

// setPrice replaces the net amount and keeps the line's VAT rate.
func setPrice(line *LineItem, price decimal.Decimal) {
	gross := price
	if !line.NetAmount.IsZero() && !line.GrossAmount.Equal(line.NetAmount) {
		gross = price.Mul(line.GrossAmount.Div(line.NetAmount)).Round(2)
	}
	line.NetAmount = price
	line.GrossAmount = gross
}

// =============================================================================
// PRICE AND LINE REMOVAL
// =============================================================================

// ZeroPrice sets a line's net and gross amounts to zero.
type ZeroPrice struct {
	LineID string
}

func (ZeroPrice) Name() string { return "zero_price" }

func (c ZeroPrice) apply(inv *Invoice, _ *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	line.NetAmount = decimal.Zero
	line.GrossAmount = decimal.Zero
	return nil
}

// DeleteLine removes a line; totals follow from the remaining lines.
type DeleteLine struct {
	LineID string
}

func (DeleteLine) Name() string { return "delete_line" }

func (c DeleteLine) apply(inv *Invoice, _ *applyEnv) error {
	idx := inv.LineIndex(c.LineID)
	if idx < 0 {
		return precondition(c.Name(), inv, c.LineID, ErrLineNotFound, "")
	}
	inv.Lines = append(inv.Lines[:idx], inv.Lines[idx+1:]...)
	return nil
}

// =============================================================================
// ASSOCIATION
// =============================================================================

// AssociateToProcedure links a product line to a procedure explicitly.
// A positive Price turns the line into an explicitly priced accessory.
type AssociateToProcedure struct {
	LineID        string
	ProcedureCode string
	Price         *decimal.Decimal
}

func (AssociateToProcedure) Name() string { return "associate_to_procedure" }

func (c AssociateToProcedure) apply(inv *Invoice, env *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	if d := env.reg.Decompose(line.Code); !d.Valid || d.Kind != catalog.KindProduct {
		return precondition(c.Name(), inv, c.LineID, ErrWrongLineKind, "line is not a product")
	}
	if _, ok := env.reg.Procedure(c.ProcedureCode); !ok {
		return precondition(c.Name(), inv, c.LineID, ErrUnknownCode, c.ProcedureCode)
	}
	if c.Price != nil && c.Price.IsNegative() {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "negative price")
	}

	line.ParentProcedureCode = c.ProcedureCode
	if c.Price != nil {
		setPrice(line, *c.Price)
		line.PricedAccessory = c.Price.IsPositive()
	}
	return nil
}

// =============================================================================
// FIELD CORRECTIONS
// =============================================================================

// CorrectUnit overwrites the unit with the one registered for the line.
type CorrectUnit struct {
	LineID string
}

func (CorrectUnit) Name() string { return "correct_unit" }

func (c CorrectUnit) apply(inv *Invoice, env *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	d := env.reg.Decompose(line.Code)
	if !d.Valid {
		return precondition(c.Name(), inv, c.LineID, ErrUnknownCode, line.Code)
	}
	unit, ok := env.reg.AccessoryUnit(d)
	if !ok {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "no registered unit")
	}
	line.Unit = unit
	return nil
}

// CorrectQuantity overwrites the quantity.
type CorrectQuantity struct {
	LineID   string
	Quantity decimal.Decimal
}

func (CorrectQuantity) Name() string { return "correct_quantity" }

func (c CorrectQuantity) apply(inv *Invoice, _ *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	if !c.Quantity.IsPositive() {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "quantity must be positive")
	}
	line.Quantity = c.Quantity
	return nil
}

// CorrectCode replaces the code and re-derives the fields that depend on it.
// The explicit parent override is cleared; Price and Quantity are optional.
type CorrectCode struct {
	LineID   string
	Code     string
	Price    *decimal.Decimal
	Quantity *decimal.Decimal
}

func (CorrectCode) Name() string { return "correct_code" }

func (c CorrectCode) apply(inv *Invoice, env *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	code := strings.TrimSpace(c.Code)
	if code == "" {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "empty code")
	}
	if c.Price != nil && c.Price.IsNegative() {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "negative price")
	}
	if c.Quantity != nil && !c.Quantity.IsPositive() {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "quantity must be positive")
	}

	d := env.reg.Decompose(code)
	line.Code = code
	line.Kind = d.Kind
	line.ParentProcedureCode = ""
	line.PricedAccessory = false
	line.ProductsConfirmed = false
	if desc := env.reg.Describe(d); desc != "" {
		line.Description = desc
	}
	if unit, ok := env.reg.AccessoryUnit(d); ok {
		line.Unit = unit
	}
	if c.Price != nil {
		setPrice(line, *c.Price)
	}
	if c.Quantity != nil {
		line.Quantity = *c.Quantity
	}
	return nil
}

// =============================================================================
// COMPLETION
// =============================================================================

// ProductRequest is one product to add to a procedure.
type ProductRequest struct {
	Code string

	// Quantity defaults to 1 when zero.
	Quantity decimal.Decimal
}

// AddMissingProducts appends zero-priced product lines linked to the
// procedure on LineID. Unknown product codes reject the whole correction.
type AddMissingProducts struct {
	LineID   string
	Products []ProductRequest
}

func (AddMissingProducts) Name() string { return "add_missing_products" }

func (c AddMissingProducts) apply(inv *Invoice, env *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	procCode := line.Code
	if _, ok := env.reg.Procedure(procCode); !ok {
		return precondition(c.Name(), inv, c.LineID, ErrWrongLineKind, "line is not a catalog procedure")
	}
	if len(c.Products) == 0 {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "no products requested")
	}

	added := make([]LineItem, 0, len(c.Products))
	for _, req := range c.Products {
		product, ok := env.reg.Product(req.Code)
		if !ok {
			return precondition(c.Name(), inv, c.LineID, ErrUnknownCode, req.Code)
		}
		qty := req.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		} else if qty.IsNegative() {
			return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, "negative quantity")
		}
		code, ok := composeCode(env.reg, procCode, product.Code, catalog.KindProduct)
		if !ok {
			return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, code+" does not read back as "+procCode+"+"+product.Code)
		}
		added = append(added, LineItem{
			ID:                  env.newID(),
			Code:                code,
			Description:         product.Name,
			Kind:                catalog.KindProduct,
			ParentProcedureCode: procCode,
			NetAmount:           decimal.Zero,
			GrossAmount:         decimal.Zero,
			Quantity:            qty,
			Unit:                product.Unit,
		})
	}

	inv.Lines = append(inv.Lines, added...)
	return nil
}

// AddMissingEquipment rewrites a bare procedure line into its
// procedure+equipment composite, keeping the price.
type AddMissingEquipment struct {
	LineID        string
	EquipmentCode string
}

func (AddMissingEquipment) Name() string { return "add_missing_equipment" }

func (c AddMissingEquipment) apply(inv *Invoice, env *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	if _, ok := env.reg.Procedure(line.Code); !ok {
		return precondition(c.Name(), inv, c.LineID, ErrWrongLineKind, "line is not a catalog procedure")
	}
	equipment, ok := env.reg.Equipment(c.EquipmentCode)
	if !ok {
		return precondition(c.Name(), inv, c.LineID, ErrUnknownCode, c.EquipmentCode)
	}

	code, ok := composeCode(env.reg, line.Code, equipment.Code, catalog.KindEquipment)
	if !ok {
		return precondition(c.Name(), inv, c.LineID, ErrInvalidParameter, code+" does not read back as "+line.Code+"+"+equipment.Code)
	}

	line.Code = code
	line.Kind = catalog.KindEquipment
	line.ProductsConfirmed = false
	if equipment.Unit != "" {
		line.Unit = equipment.Unit
	}
	return nil
}

// ConfirmProcedureComplete records that a procedure needing products was
// reviewed and is complete as billed.
type ConfirmProcedureComplete struct {
	LineID string
}

func (ConfirmProcedureComplete) Name() string { return "confirm_procedure_complete" }

func (c ConfirmProcedureComplete) apply(inv *Invoice, env *applyEnv) error {
	line, err := lineFor(c.Name(), inv, c.LineID)
	if err != nil {
		return err
	}
	proc, ok := env.reg.Procedure(line.Code)
	if !ok || !proc.RequiresProducts {
		return precondition(c.Name(), inv, c.LineID, ErrWrongLineKind, "line is not a procedure requiring products")
	}
	line.ProductsConfirmed = true
	return nil
}

// AssignDoctor sets the doctor on the invoice.
type AssignDoctor struct {
	DoctorID   string
	DoctorName string
}

func (AssignDoctor) Name() string { return "assign_doctor" }

func (c AssignDoctor) apply(inv *Invoice, _ *applyEnv) error {
	id := strings.TrimSpace(c.DoctorID)
	if id == "" {
		return precondition(c.Name(), inv, "", ErrInvalidParameter, "empty doctor id")
	}
	inv.DoctorID = id
	inv.DoctorName = strings.TrimSpace(c.DoctorName)
	return nil
}
