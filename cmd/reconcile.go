// =============================================================================
// Billing Reconciler - Reconcile Command
// =============================================================================
//
// This file defines the 'reconcile' command, the main command of the tool. It
// reads billing exports, builds the invoices that are not stored yet, checks
// them against the catalog and writes an anomaly report per export.
//
// COMMAND USAGE:
//   reconciler reconcile [flags]
//
// FLAGS:
//   --dry-run : Build and check invoices without saving or writing files
//   --file    : Process only this file instead of scanning the input directory
//
// PROCESSING PIPELINE:
//   1. Load the catalog and open the store
//   2. Discover exports in the input directory
//   3. For each file (concurrently, bounded by max_concurrency):
//      read -> normalize -> pre-validate -> build -> save -> report -> archive
//   4. Write the processing summary
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ginjaninja78/billing-reconciler/internal/logger"
	"github.com/ginjaninja78/billing-reconciler/internal/pipeline"
	"github.com/ginjaninja78/billing-reconciler/pkg/utils"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// dryRun builds invoices without touching the store or the output directory.
var dryRun bool

// filePath is a single file to process.
var filePath string

// =============================================================================
// RECONCILE COMMAND DEFINITION
// =============================================================================

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile billing exports against the catalog",
	Long: `The reconcile command scans the input directory for billing exports (XLSX or
CSV), groups their rows into invoices and checks every line against the
catalog. Invoices already in the store are skipped, so an export can be
processed again after new rows were appended to it.

Processing is done concurrently. Each file is processed independently, and
errors in one file do not affect the processing of others unless
stop_on_error is set.

On successful processing:
  - New invoices are saved to the store
  - An anomaly report is written to the output directory
  - The original export is moved to the input archive (archive_inputs)

On error:
  - The original export remains in the input directory
  - The error is listed in the processing summary`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().BoolVar(
		&dryRun,
		"dry-run",
		false,
		"Build and check invoices without saving or writing output files",
	)

	reconcileCmd.Flags().StringVar(
		&filePath,
		"file",
		"",
		"Path to a specific file to process",
	)
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runReconcile(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.WithComponent("reconcile")
	startTime := time.Now()

	// =========================================================================
	// STEP 1: CATALOG AND STORE
	// =========================================================================

	reg, err := loadCatalog()
	if err != nil {
		return err
	}
	procedures, products, equipment, combinations := reg.Stats()
	log.Info().
		Int("procedures", procedures).
		Int("products", products).
		Int("equipment", equipment).
		Int("combinations", combinations).
		Msg("Catalog loaded")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	processor, err := pipeline.New(mainConfig, reg, st,
		pipeline.WithDryRun(dryRun),
		pipeline.WithLogger(logger.WithComponent("pipeline")),
	)
	if err != nil {
		return err
	}

	// =========================================================================
	// STEP 2: DISCOVER INPUT FILES
	// =========================================================================

	files := utils.NewFileManager(mainConfig.InputDir, mainConfig.OutputDir, mainConfig.InputArchiveDir)
	files.UseTimestampSubdirs = true
	if !dryRun {
		if err := files.EnsureDirectories(); err != nil {
			return err
		}
	}

	var inputFiles []string
	if filePath != "" {
		inputFiles = []string{filePath}
	} else {
		inputFiles, err = files.DiscoverInputFiles(mainConfig.InputPatterns)
		if err != nil {
			return fmt.Errorf("failed to discover input files: %w", err)
		}
	}

	if len(inputFiles) == 0 {
		log.Info().Str("dir", mainConfig.InputDir).Msg("No input files found")
		return nil
	}
	log.Info().Int("files", len(inputFiles)).Bool("dry_run", dryRun).Msg("Processing files")

	// =========================================================================
	// STEP 3: PROCESS FILES CONCURRENTLY
	// =========================================================================

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan pipeline.Result, len(inputFiles))
	sem := make(chan struct{}, mainConfig.MaxConcurrency)

	for _, file := range inputFiles {
		wg.Add(1)

		go func(path string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				results <- pipeline.Result{FilePath: path, Error: fmt.Errorf("skipped: %w", err)}
				return
			}

			result := processor.Run(ctx, path)
			if !result.Success && mainConfig.StopOnError {
				cancel()
			}
			results <- result
		}(file)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// =========================================================================
	// STEP 4: COLLECT RESULTS AND WRITE SUMMARY
	// =========================================================================

	summary := utils.ProcessingSummary{StartTime: startTime, TotalFiles: len(inputFiles)}

	for result := range results {
		name := filepath.Base(result.FilePath)
		if !result.Success {
			summary.FailedFiles++
			summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
				InputFile:    name,
				ErrorMessage: result.Error.Error(),
			})
			log.Error().Err(result.Error).Str("file", name).Msg("File failed")
			continue
		}

		summary.SuccessfulFiles++
		summary.ProcessedFiles = append(summary.ProcessedFiles, utils.ProcessedFileInfo{
			InputFile:    name,
			ReportFile:   result.ReportFile,
			ArchivePath:  result.ArchivePath,
			Rows:         result.Stats.RowsRead,
			RejectedRows: result.Stats.RowsRejected,
			Invoices:     result.Stats.InvoicesBuilt,
			Existing:     result.Stats.InvoicesExisting,
			Anomalous:    result.Stats.InvoicesAnomalous,
			Ready:        result.Stats.InvoicesReady,
			ProcessTime:  result.Stats.ProcessingTime,
		})
		log.Info().
			Str("file", name).
			Str("report", result.ReportFile).
			Int("invoices", result.Stats.InvoicesBuilt).
			Int("anomalous", result.Stats.InvoicesAnomalous).
			Msg("File processed")
	}

	summary.EndTime = time.Now()
	log.Info().
		Int("total", summary.TotalFiles).
		Int("successful", summary.SuccessfulFiles).
		Int("failed", summary.FailedFiles).
		Dur("elapsed", summary.EndTime.Sub(startTime)).
		Msg("Processing complete")

	if !dryRun {
		summaryPath, err := utils.WriteSummaryLog(summary, mainConfig.OutputDir)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to write processing summary")
		} else {
			log.Info().Str("path", summaryPath).Msg("Summary written")
		}
	}

	if summary.FailedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) failed", summary.FailedFiles, summary.TotalFiles)
	}
	return nil
}
