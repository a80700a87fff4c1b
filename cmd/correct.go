// =============================================================================
// Billing Reconciler - Correct Command
// =============================================================================
//
// This file defines the 'correct' command, which applies one correction to a
// stored invoice and saves the recomputed result.
//
// COMMAND USAGE:
//   reconciler correct <invoice-id> --op <operation> [flags]
//
// OPERATIONS:
//   | --op              | Required flags                        |
//   |-------------------|---------------------------------------|
//   | zero-price        | --line                                |
//   | delete-line       | --line                                |
//   | associate         | --line --procedure [--price]          |
//   | correct-unit      | --line                                |
//   | correct-quantity  | --line --quantity                     |
//   | correct-code      | --line --code [--price] [--quantity]  |
//   | add-products      | --line --product CODE[=QTY]...        |
//   | add-equipment     | --line --equipment                    |
//   | confirm-complete  | --line                                |
//   | assign-doctor     | --doctor-id [--doctor-name]           |
//
// CONCURRENCY:
//   The invoice is saved with the version it was read at. If another
//   correction was saved in between, the command fails with a version
//   conflict and nothing is overwritten.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/logger"
	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/ginjaninja78/billing-reconciler/internal/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// ErrUnknownOperation is returned for an unrecognized --op value.
var ErrUnknownOperation = errors.New("unknown correction operation")

// correctionFlags holds the raw flag values of the correct command.
type correctionFlags struct {
	Op         string
	LineID     string
	Procedure  string
	Price      string
	Quantity   string
	Code       string
	Products   []string
	Equipment  string
	DoctorID   string
	DoctorName string
}

var correctOpts correctionFlags

var correctCmd = &cobra.Command{
	Use:   "correct <invoice-id>",
	Short: "Apply a correction to a stored invoice",
	Long: `The correct command loads one invoice from the store, applies a single
correction to it, recomputes its anomalies and saves it back. Imported
invoices cannot be corrected.

Example Usage:
  reconciler correct P-100 --op zero-price --line 3f1c...
  reconciler correct P-100 --op add-products --line 3f1c... --product GG01=2 --product AG02
  reconciler correct P-100 --op assign-doctor --doctor-id D12 --doctor-name "Dr. Bianchi"`,

	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCorrection(correctOpts)
		if err != nil {
			return err
		}
		return runCorrect(cmd.Context(), args[0], c)
	},
}

func init() {
	rootCmd.AddCommand(correctCmd)

	f := correctCmd.Flags()
	f.StringVar(&correctOpts.Op, "op", "", "Correction to apply (see 'reconciler correct --help')")
	f.StringVar(&correctOpts.LineID, "line", "", "Target line id")
	f.StringVar(&correctOpts.Procedure, "procedure", "", "Procedure code for 'associate'")
	f.StringVar(&correctOpts.Price, "price", "", "Net price, e.g. 12.50")
	f.StringVar(&correctOpts.Quantity, "quantity", "", "Quantity, e.g. 2")
	f.StringVar(&correctOpts.Code, "code", "", "Replacement code for 'correct-code'")
	f.StringArrayVar(&correctOpts.Products, "product", nil, "Product to add as CODE or CODE=QTY (repeatable)")
	f.StringVar(&correctOpts.Equipment, "equipment", "", "Equipment code for 'add-equipment'")
	f.StringVar(&correctOpts.DoctorID, "doctor-id", "", "Doctor id for 'assign-doctor'")
	f.StringVar(&correctOpts.DoctorName, "doctor-name", "", "Doctor name for 'assign-doctor'")
	correctCmd.MarkFlagRequired("op")
}

// buildCorrection turns flag values into a correction.
func buildCorrection(f correctionFlags) (reconcile.Correction, error) {
	needLine := func() error {
		if strings.TrimSpace(f.LineID) == "" {
			return fmt.Errorf("--line is required for %s", f.Op)
		}
		return nil
	}

	price, err := optionalDecimal("price", f.Price)
	if err != nil {
		return nil, err
	}
	quantity, err := optionalDecimal("quantity", f.Quantity)
	if err != nil {
		return nil, err
	}

	switch f.Op {
	case "assign-doctor":
		if strings.TrimSpace(f.DoctorID) == "" {
			return nil, errors.New("--doctor-id is required for assign-doctor")
		}
		name := f.DoctorName
		if name == "" {
			name = f.DoctorID
		}
		return reconcile.AssignDoctor{DoctorID: f.DoctorID, DoctorName: name}, nil

	case "zero-price", "delete-line", "associate", "correct-unit", "correct-quantity",
		"correct-code", "add-products", "add-equipment", "confirm-complete":
		if err := needLine(); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, f.Op)
	}

	switch f.Op {
	case "zero-price":
		return reconcile.ZeroPrice{LineID: f.LineID}, nil
	case "delete-line":
		return reconcile.DeleteLine{LineID: f.LineID}, nil
	case "correct-unit":
		return reconcile.CorrectUnit{LineID: f.LineID}, nil
	case "confirm-complete":
		return reconcile.ConfirmProcedureComplete{LineID: f.LineID}, nil

	case "associate":
		if f.Procedure == "" {
			return nil, errors.New("--procedure is required for associate")
		}
		return reconcile.AssociateToProcedure{LineID: f.LineID, ProcedureCode: f.Procedure, Price: price}, nil

	case "correct-quantity":
		if quantity == nil {
			return nil, errors.New("--quantity is required for correct-quantity")
		}
		return reconcile.CorrectQuantity{LineID: f.LineID, Quantity: *quantity}, nil

	case "correct-code":
		if f.Code == "" {
			return nil, errors.New("--code is required for correct-code")
		}
		return reconcile.CorrectCode{LineID: f.LineID, Code: f.Code, Price: price, Quantity: quantity}, nil

	case "add-equipment":
		if f.Equipment == "" {
			return nil, errors.New("--equipment is required for add-equipment")
		}
		return reconcile.AddMissingEquipment{LineID: f.LineID, EquipmentCode: f.Equipment}, nil
	}

	// add-products
	if len(f.Products) == 0 {
		return nil, errors.New("at least one --product is required for add-products")
	}
	requests := make([]reconcile.ProductRequest, 0, len(f.Products))
	for _, p := range f.Products {
		code, qty, hasQty := strings.Cut(p, "=")
		req := reconcile.ProductRequest{Code: strings.TrimSpace(code)}
		if hasQty {
			q, err := decimal.NewFromString(strings.TrimSpace(qty))
			if err != nil {
				return nil, fmt.Errorf("invalid quantity for product %s: %w", code, err)
			}
			req.Quantity = q
		}
		requests = append(requests, req)
	}
	return reconcile.AddMissingProducts{LineID: f.LineID, Products: requests}, nil
}

func optionalDecimal(name, value string) (*decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	return &d, nil
}

// runCorrect loads the invoice, applies c and saves it at the version read.
func runCorrect(ctx context.Context, id string, c reconcile.Correction) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.WithComponent("correct")

	reg, err := loadCatalog()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	return applyCorrection(ctx, st, reconcile.NewEngine(reg, reconcile.WithLogger(log)), id, c, func(inv reconcile.Invoice) {
		log.Info().
			Str("invoice", inv.ID).
			Str("correction", c.Name()).
			Str("state", string(inv.State)).
			Strs("anomalies", inv.Anomalies.Strings()).
			Bool("importable", reconcile.CanImport(inv)).
			Msg("Invoice corrected")
	})
}

// applyCorrection is the store round trip of the correct command.
func applyCorrection(ctx context.Context, st store.Store, engine *reconcile.Engine, id string, c reconcile.Correction, done func(reconcile.Invoice)) error {
	rec, err := st.Get(ctx, id)
	if err != nil {
		return err
	}

	corrected, err := engine.Correct(rec.Invoice, c)
	if err != nil {
		return err
	}

	if _, err := st.Update(ctx, corrected, rec.Version); err != nil {
		return err
	}
	if done != nil {
		done(corrected)
	}
	return nil
}
