// =============================================================================
// Billing Reconciler - Main Entry Point
// =============================================================================
//
// USAGE:
//   reconciler reconcile        - Reconcile billing exports in the input directory
//   reconciler correct          - Apply a correction to a stored invoice
//   reconciler import           - Import ready invoices and write the XML export
//   reconciler catalog validate - Check the treatment catalog
//   reconciler version          - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : catalog, reconciliation engine, ingestion, store, outputs
//   - pkg/       : shared file utilities
//
// A .env file in the working directory is loaded before the configuration,
// so RECONCILER_* and LOG_* variables can be kept there.
//
// =============================================================================

package main

import (
	stdlog "log"

	"github.com/ginjaninja78/billing-reconciler/cmd"
	"github.com/ginjaninja78/billing-reconciler/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	// Replaced by the configured logger once config.yaml is read.
	if err := logger.Setup(logger.DefaultConfig()); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := godotenv.Load(); err != nil {
		log := logger.WithComponent("main")
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cmd.Execute()
}
