// =============================================================================
// Billing Reconciler - Catalog Command
// =============================================================================
//
// COMMAND USAGE:
//   reconciler catalog validate [--catalog path]
//
// Loads the catalog and checks every whitelisted combination against the
// decomposer. A combination whose code no longer decomposes to its own
// declaration is blocking; a combination the prefix split would read
// differently is only reported.
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/ginjaninja78/billing-reconciler/internal/logger"
	"github.com/spf13/cobra"
)

// catalogPath overrides catalog_path from the main configuration.
var catalogPath string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the treatment catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the catalog and its combination whitelist",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := mainConfig.CatalogPath
		if catalogPath != "" {
			path = catalogPath
		}
		return runCatalogValidate(path)
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogValidateCmd)

	catalogValidateCmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog file to validate (YAML or XLSX)")
}

func runCatalogValidate(path string) error {
	log := logger.WithComponent("catalog")

	reg, err := catalog.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	procedures, products, equipment, combinations := reg.Stats()
	log.Info().
		Str("path", path).
		Int("procedures", procedures).
		Int("products", products).
		Int("equipment", equipment).
		Int("combinations", combinations).
		Msg("Catalog loaded")

	blocking := 0
	for _, f := range reg.CheckCombinations() {
		if f.Blocking {
			blocking++
			log.Error().Str("code", f.Code).Msg(f.Message)
			continue
		}
		log.Warn().Str("code", f.Code).Msg(f.Message)
	}

	if blocking > 0 {
		return fmt.Errorf("catalog has %d blocking finding(s)", blocking)
	}
	log.Info().Msg("Catalog is valid")
	return nil
}
