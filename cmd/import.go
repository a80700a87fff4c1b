// =============================================================================
// Billing Reconciler - Import Command
// =============================================================================
//
// This file defines the 'import' command. Importing moves an invoice to its
// terminal state: it leaves the pool of invoices under reconciliation and is
// written to the XML export for the downstream accounting system.
//
// COMMAND USAGE:
//   reconciler import <invoice-id>...   - Import the named invoices
//   reconciler import --all             - Import every ready invoice
//
// An invoice is ready when a doctor is assigned and it carries no anomalies.
// Invoices that are not ready are reported and left untouched.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ginjaninja78/billing-reconciler/internal/logger"
	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/ginjaninja78/billing-reconciler/internal/store"
	"github.com/ginjaninja78/billing-reconciler/internal/xmlwriter"
	"github.com/ginjaninja78/billing-reconciler/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// importAll imports every ready invoice.
var importAll bool

var importCmd = &cobra.Command{
	Use:   "import [invoice-id...]",
	Short: "Import ready invoices and write the XML export",
	Long: `The import command moves invoices to the imported state and writes them to
an XML export in the output directory. Imported invoices are frozen: they are
no longer recomputed or corrected.

Example Usage:
  reconciler import P-100 P-101
  reconciler import --all`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if importAll == (len(args) > 0) {
			return errors.New("pass either invoice ids or --all")
		}
		return runImport(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importAll, "all", false, "Import every ready invoice")
}

func runImport(ctx context.Context, ids []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.WithComponent("import")

	reg, err := loadCatalog()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	engine := reconcile.NewEngine(reg, reconcile.WithLogger(log))

	if importAll {
		ids, err = readyInvoiceIDs(ctx, st, engine)
		if err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		log.Info().Msg("No invoices ready to import")
		return nil
	}

	imported, failed := importInvoices(ctx, st, engine, ids, log)
	if len(imported) > 0 {
		name := utils.GenerateOutputFileName(mainConfig.OutputFileFormat, map[string]string{
			"source": "invoices",
			"kind":   "export",
		}, ".xml")
		path := filepath.Join(mainConfig.OutputDir, name)

		if err := xmlwriter.WriteFile(path, imported, xmlwriter.DefaultGenerateOptions()); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		log.Info().Str("path", path).Int("invoices", len(imported)).Msg("Export written")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d invoice(s) not imported", failed, len(ids))
	}
	return nil
}

// readyInvoiceIDs lists the stored invoices that pass the import gate after
// a recompute against the current catalog.
func readyInvoiceIDs(ctx context.Context, st store.Store, engine *reconcile.Engine) ([]string, error) {
	pending, err := st.List(ctx, store.Filter{States: []reconcile.State{reconcile.StatePending, reconcile.StateAnomalous}})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, inv := range pending {
		if reconcile.CanImport(engine.Recompute(inv)) {
			ids = append(ids, inv.ID)
		}
	}
	return ids, nil
}

// importInvoices imports and saves each invoice. It returns the invoices
// that were imported by this call and the number that failed.
func importInvoices(ctx context.Context, st store.Store, engine *reconcile.Engine, ids []string, log zerolog.Logger) ([]reconcile.Invoice, int) {
	var imported []reconcile.Invoice
	failed := 0

	for _, id := range ids {
		rec, err := st.Get(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("invoice", id).Msg("Invoice not loaded")
			failed++
			continue
		}
		if rec.Invoice.State == reconcile.StateImported {
			log.Info().Str("invoice", id).Msg("Invoice already imported")
			continue
		}

		out, err := engine.Import(rec.Invoice)
		if err != nil {
			log.Warn().Err(err).Str("invoice", id).Msg("Invoice not importable")
			failed++
			continue
		}

		if _, err := st.Update(ctx, out, rec.Version); err != nil {
			log.Error().Err(err).Str("invoice", id).Msg("Imported invoice not saved")
			failed++
			continue
		}
		imported = append(imported, out)
	}

	return imported, failed
}
