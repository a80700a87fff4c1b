// =============================================================================
// Billing Reconciler - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (reconciler)
//   ├── reconcileCmd (reconciler reconcile)
//   ├── correctCmd   (reconciler correct)
//   ├── importCmd    (reconciler import)
//   ├── catalogCmd   (reconciler catalog validate)
//   └── versionCmd   (reconciler version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading config.yaml with environment overrides
//   3. Setting up logging
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/ginjaninja78/billing-reconciler/internal/logger"
	"github.com/ginjaninja78/billing-reconciler/internal/store"
	"github.com/spf13/cobra"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose enables debug logging.
var verbose bool

// mainConfig is loaded once by the root PersistentPreRunE.
var mainConfig *config.MainConfig

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Billing Reconciler - Detect and correct anomalies in invoice lines",
	Long: `Billing Reconciler reads billing exports from the clinic management system,
groups their rows into invoices, checks every line against the treatment
catalog and keeps the invoices in a local store until they are clean enough
to be imported.

Key Features:
  - Procedure, product and equipment codes resolved against the catalog
  - Anomaly detection with an XLSX report per processed export
  - Targeted corrections on stored invoices
  - XML export of imported invoices

Example Usage:
  reconciler reconcile                          # Process every export in the input directory
  reconciler correct P-100 --op zero-price --line <id>
  reconciler import --all                       # Import every ready invoice
  reconciler catalog validate                   # Check the catalog for ambiguous codes`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return initConfig(cmd)
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}

// initConfig loads the main configuration and configures the global logger.
// A missing default config.yaml is not an error: defaults and environment
// variables are used instead.
func initConfig(cmd *cobra.Command) error {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.LoadMainConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load main config: %w", err)
	}

	if err := logger.Setup(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if verbose {
		logger.SetVerbose()
	}

	mainConfig = cfg
	return nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// loadCatalog loads the configured catalog.
func loadCatalog() (*catalog.Registry, error) {
	reg, err := catalog.Load(mainConfig.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return reg, nil
}

// openStore opens the configured invoice store. The caller closes it.
func openStore() (store.Store, error) {
	st, err := store.Open(mainConfig.Store, logger.WithComponent("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}
