// =============================================================================
// Billing Reconciler - File Processor
// =============================================================================
//
// The processor runs the reconciliation pipeline for a single billing export.
//
// PIPELINE:
//   1. Read the export (XLSX or CSV) into raw rows
//   2. Apply the configured normalization rules
//   3. Pre-validate rows; rejected rows are reported, not reconciled. A
//      rejected row with an invoice number rejects its whole invoice.
//   4. Build NEW invoices (ids already in the store are skipped)
//   5. Save the invoices to the store
//   6. Write the XLSX anomaly report
//   7. Archive the export (optional)
//
// CONCURRENCY:
//   A Processor holds no per-file state. Run may be called from several
//   goroutines; the store serializes writes per invoice id.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/billing-reconciler/internal/aggregator"
	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/ginjaninja78/billing-reconciler/internal/ingest"
	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/ginjaninja78/billing-reconciler/internal/report"
	"github.com/ginjaninja78/billing-reconciler/internal/store"
	"github.com/ginjaninja78/billing-reconciler/internal/validation"
	"github.com/ginjaninja78/billing-reconciler/pkg/utils"
	"github.com/rs/zerolog"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of processing a single file.
type Result struct {
	// FilePath is the path to the input file that was processed.
	FilePath string

	// ReportFile is the path to the anomaly report. Empty on failure or in
	// dry-run mode.
	ReportFile string

	// ArchivePath is where the input was moved, if archiving is enabled.
	ArchivePath string

	Success bool

	// Error is nil if processing was successful.
	Error error

	// Invoices are the invoices built from this file.
	Invoices []reconcile.Invoice

	Stats ProcessingStats
}

// ProcessingStats contains statistics about the processing.
type ProcessingStats struct {
	RowsRead         int
	RowsRejected     int
	RowsBeforeCutoff int

	// InvoicesBuilt counts new invoices; InvoicesExisting those skipped
	// because they were already stored.
	InvoicesBuilt    int
	InvoicesExisting int

	InvoicesAnomalous int
	InvoicesReady     int

	ProcessingTime time.Duration
}

// =============================================================================
// PROCESSOR
// =============================================================================

// Processor runs the pipeline against one configuration, catalog and store.
type Processor struct {
	cfg        *config.MainConfig
	registry   *catalog.Registry
	store      store.Store
	normalizer *ingest.Normalizer
	validator  *validation.Validator
	files      *utils.FileManager
	cutoff     *time.Time
	dryRun     bool
	newID      func() string
	logger     zerolog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithDryRun builds and reports nothing to disk or store.
func WithDryRun(dryRun bool) Option {
	return func(p *Processor) { p.dryRun = dryRun }
}

// WithLogger sets the processor logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithIDGenerator replaces the line id generator.
func WithIDGenerator(fn func() string) Option {
	return func(p *Processor) { p.newID = fn }
}

// New creates a Processor.
//
// RETURNS:
//   - An error if the normalization rules or the cutoff date are invalid.
func New(cfg *config.MainConfig, reg *catalog.Registry, st store.Store, opts ...Option) (*Processor, error) {
	normalizer, err := ingest.NewNormalizer(cfg.Ingest.NormalizationRules)
	if err != nil {
		return nil, fmt.Errorf("invalid normalization rules: %w", err)
	}
	cutoff, err := cfg.Cutoff()
	if err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:        cfg,
		registry:   reg,
		store:      st,
		normalizer: normalizer,
		validator:  validation.NewValidator(cfg.Ingest, validation.ValidationOptions{}),
		files:      utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir),
		cutoff:     cutoff,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the pipeline for the file at path.
func (p *Processor) Run(ctx context.Context, path string) Result {
	startTime := time.Now()
	result := Result{FilePath: path}
	log := p.logger.With().Str("file", filepath.Base(path)).Logger()

	log.Info().Msg("Processing file")

	// =========================================================================
	// STEP 1: READ
	// =========================================================================

	table, err := ingest.ReadFile(path, p.cfg.Ingest)
	if err != nil {
		result.Error = fmt.Errorf("failed to read input: %w", err)
		return result
	}
	result.Stats.RowsRead = len(table.Rows)
	log.Debug().Int("rows", len(table.Rows)).Msg("Rows read")

	// =========================================================================
	// STEP 2: NORMALIZE
	// =========================================================================

	p.normalizer.Apply(table)

	// =========================================================================
	// STEP 3: PRE-VALIDATE
	// =========================================================================

	validated := p.validator.ValidateRows(table.Rows)
	var rejections []report.Rejection
	for _, ve := range validated.Errors {
		if ve.Severity == validation.SeverityWarning {
			log.Warn().Int("row", ve.RowNumber).Str("field", ve.Field).Msg(ve.Message)
			continue
		}
		rejections = append(rejections, report.Rejection{
			RowNumber: ve.RowNumber,
			Field:     ve.Field,
			Value:     ve.Value,
			Reason:    ve.Message,
		})
	}
	result.Stats.RowsRejected = validated.RejectedCount()
	rows := validated.Accepted(table.Rows)

	// =========================================================================
	// STEP 4: BUILD NEW INVOICES
	// =========================================================================

	opts := []aggregator.Option{
		aggregator.WithWorkers(p.cfg.MaxConcurrency),
		aggregator.WithPrincipalSeries(p.cfg.Ingest.PrincipalSeries),
		aggregator.WithDateLayouts(p.cfg.Ingest.DateLayouts),
		aggregator.WithSourceFile(filepath.Base(path)),
		aggregator.WithLogger(log),
		aggregator.WithSkip(func(id string) bool {
			exists, err := p.store.Exists(ctx, id)
			if err != nil {
				log.Warn().Err(err).Str("invoice", id).Msg("Store lookup failed")
				return false
			}
			return exists
		}),
	}
	if p.newID != nil {
		opts = append(opts, aggregator.WithIDGenerator(p.newID))
	}

	built := aggregator.Aggregate(rows, p.cfg.Ingest.FieldMapping, p.registry, p.cutoff, opts...)
	for _, s := range built.Skipped {
		rejections = append(rejections, report.Rejection{RowNumber: s.RowNumber, Reason: s.Reason})
	}
	for _, id := range built.Incomplete {
		log.Warn().Str("invoice", id).Msg("Invoice dropped: unreadable rows")
	}
	result.Stats.RowsBeforeCutoff = built.BeforeCutoff
	result.Stats.InvoicesExisting = built.Existing

	// =========================================================================
	// STEP 5: SAVE
	// =========================================================================

	for _, inv := range built.Invoices {
		if !p.dryRun {
			if err := p.store.Create(ctx, inv); err != nil {
				if errors.Is(err, store.ErrAlreadyExists) {
					result.Stats.InvoicesExisting++
					continue
				}
				result.Error = fmt.Errorf("failed to save invoice: %w", err)
				return result
			}
		}

		result.Invoices = append(result.Invoices, inv)
		result.Stats.InvoicesBuilt++
		if inv.State == reconcile.StateAnomalous {
			result.Stats.InvoicesAnomalous++
		}
		if reconcile.CanImport(inv) {
			result.Stats.InvoicesReady++
		}
	}

	log.Info().
		Int("invoices", result.Stats.InvoicesBuilt).
		Int("existing", result.Stats.InvoicesExisting).
		Int("anomalous", result.Stats.InvoicesAnomalous).
		Int("rejected_rows", result.Stats.RowsRejected).
		Msg("Invoices reconciled")

	if p.dryRun {
		result.Success = true
		result.Stats.ProcessingTime = time.Since(startTime)
		return result
	}

	// =========================================================================
	// STEP 6: REPORT
	// =========================================================================

	reportName := utils.GenerateOutputFileName(p.cfg.OutputFileFormat, map[string]string{
		"source": utils.SourceName(path),
		"kind":   "report",
	}, ".xlsx")
	reportPath := filepath.Join(p.cfg.OutputDir, reportName)

	if err := report.WriteFile(reportPath, report.Report{Invoices: result.Invoices, Rejected: rejections}); err != nil {
		result.Error = fmt.Errorf("failed to write report: %w", err)
		return result
	}
	result.ReportFile = reportPath

	// =========================================================================
	// STEP 7: ARCHIVE
	// =========================================================================

	if p.cfg.ArchiveInputs {
		archived, err := p.files.ArchiveInputFile(path)
		if err != nil {
			// The file is processed; a failed move only leaves it in place.
			log.Warn().Err(err).Msg("Failed to archive input file")
		} else {
			result.ArchivePath = archived
		}
	}

	result.Success = true
	result.Stats.ProcessingTime = time.Since(startTime)
	return result
}
