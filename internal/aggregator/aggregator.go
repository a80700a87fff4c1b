// =============================================================================
// Billing Reconciler - Import Aggregator
// =============================================================================
//
// The aggregator turns validated raw rows into invoices.
//
// GROUPING:
//   Rows are grouped by (series, numero). Rows without a series belong to the
//   principal series. Groups keep the order in which their first row appears;
//   lines keep row order within the group.
//
// INCOMPLETE GROUPS:
//   A row that carries an invoice number but whose date, amount, VAT or
//   quantity cannot be read takes its whole group down. Building the invoice
//   from the remaining rows would yield a shorter, possibly importable
//   invoice that no longer matches the export.
//
// CUTOFF:
//   When a cutoff date is set, rows dated on or before it are excluded.
//
// RECOMPUTE:
//   Every invoice is run through the reconciliation ruleset once before it is
//   returned. Invoices are independent, so recomputation runs on a bounded
//   pool of goroutines.
//
// =============================================================================

package aggregator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/ginjaninja78/billing-reconciler/internal/ingest"
	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options tune a single aggregation run.
type Options struct {
	// Workers bounds concurrent invoice recomputation. Default: 4.
	Workers int

	// PrincipalSeries is used for rows without a series. Default: "P".
	PrincipalSeries string

	// DateLayouts are passed to ingest.ParseDate.
	DateLayouts []string

	// SourceFile is recorded on every built invoice.
	SourceFile string

	// NewID generates line ids. Default: uuid.NewString.
	NewID func() string

	// Skip reports invoice ids that must not be built, e.g. because they are
	// already stored.
	Skip func(id string) bool

	Logger zerolog.Logger
}

// Option configures an aggregation run.
type Option func(*Options)

// WithWorkers sets the recompute concurrency.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithPrincipalSeries sets the series used for rows without one.
func WithPrincipalSeries(series string) Option {
	return func(o *Options) { o.PrincipalSeries = series }
}

// WithDateLayouts sets the accepted date layouts.
func WithDateLayouts(layouts []string) Option {
	return func(o *Options) { o.DateLayouts = layouts }
}

// WithSourceFile records the ingested file on built invoices.
func WithSourceFile(path string) Option {
	return func(o *Options) { o.SourceFile = path }
}

// WithIDGenerator replaces the line id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Options) { o.NewID = fn }
}

// WithSkip excludes groups whose invoice id satisfies fn.
func WithSkip(fn func(id string) bool) Option {
	return func(o *Options) { o.Skip = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// =============================================================================
// RESULT
// =============================================================================

// SkippedRow is a row the aggregator could not turn into a line.
type SkippedRow struct {
	RowNumber int
	Reason    string
}

// Result is the outcome of one aggregation run.
type Result struct {
	// Invoices are the built and recomputed invoices, in group order.
	Invoices []reconcile.Invoice

	// Skipped lists rows whose values could not be parsed, and the rows of
	// the groups they made incomplete.
	Skipped []SkippedRow

	// BeforeCutoff counts rows excluded by the cutoff date.
	BeforeCutoff int

	// Existing counts groups excluded by the Skip option.
	Existing int

	// Incomplete lists the ids of groups dropped because one of their rows
	// could not be read.
	Incomplete []string
}

// =============================================================================
// BUILD
// =============================================================================

// Build groups rows into invoices and recomputes each of them.
//
// PARAMETERS:
//   - rows: Raw rows, already normalized and pre-validated.
//   - mapping: Which raw column feeds which semantic field.
//   - reg: The catalog the lines are decomposed against.
//   - cutoff: Optional; rows dated on or before it are excluded.
//
// RETURNS:
//   - One Invoice per (series, numero) group, in first-occurrence order.
func Build(rows []ingest.Row, mapping config.FieldMapping, reg *catalog.Registry, cutoff *time.Time, opts ...Option) []reconcile.Invoice {
	return Aggregate(rows, mapping, reg, cutoff, opts...).Invoices
}

// Aggregate is Build with the full run statistics.
func Aggregate(rows []ingest.Row, mapping config.FieldMapping, reg *catalog.Registry, cutoff *time.Time, opts ...Option) *Result {
	o := Options{
		Workers:         4,
		PrincipalSeries: reconcile.DefaultSeries,
		NewID:           uuid.NewString,
		Logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	result := &Result{}

	// =========================================================================
	// GROUP ROWS
	// =========================================================================

	groups := make(map[string]*reconcile.Invoice)
	groupOrder := []string{}
	groupRows := make(map[string][]int)
	existing := make(map[string]bool)
	broken := make(map[string]bool)

	for _, row := range rows {
		number := strings.TrimSpace(row.Get(mapping.Numero))
		if number == "" {
			result.Skipped = append(result.Skipped, SkippedRow{RowNumber: row.Number, Reason: "missing invoice number"})
			continue
		}

		series := strings.TrimSpace(row.Get(mapping.Serie))
		if series == "" {
			series = o.PrincipalSeries
		}
		id := reconcile.InvoiceID(series, number)

		date, err := ingest.ParseDate(row.Get(mapping.Data), o.DateLayouts)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRow{RowNumber: row.Number, Reason: err.Error()})
			broken[id] = true
			continue
		}
		if cutoff != nil && !date.After(*cutoff) {
			result.BeforeCutoff++
			continue
		}

		if existing[id] {
			continue
		}
		if _, seen := groups[id]; !seen && o.Skip != nil && o.Skip(id) {
			existing[id] = true
			result.Existing++
			continue
		}

		line, err := buildLine(row, mapping, reg, o.NewID)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRow{RowNumber: row.Number, Reason: err.Error()})
			broken[id] = true
			continue
		}

		inv, seen := groups[id]
		if !seen {
			inv = &reconcile.Invoice{
				ID:         id,
				Number:     number,
				Series:     series,
				Date:       date,
				SourceFile: o.SourceFile,
			}
			groups[id] = inv
			groupOrder = append(groupOrder, id)
		}
		fillHeader(inv, row, mapping)
		inv.Lines = append(inv.Lines, line)
		groupRows[id] = append(groupRows[id], row.Number)
	}

	// =========================================================================
	// DROP INCOMPLETE GROUPS
	// =========================================================================

	kept := groupOrder[:0]
	for _, id := range groupOrder {
		if !broken[id] {
			kept = append(kept, id)
			continue
		}
		result.Incomplete = append(result.Incomplete, id)
		for _, n := range groupRows[id] {
			result.Skipped = append(result.Skipped, SkippedRow{
				RowNumber: n,
				Reason:    fmt.Sprintf("invoice %s has unreadable rows", id),
			})
		}
	}
	groupOrder = kept

	// =========================================================================
	// RECOMPUTE
	// =========================================================================

	invoices := make([]reconcile.Invoice, len(groupOrder))
	for i, id := range groupOrder {
		invoices[i] = *groups[id]
	}
	recomputeAll(invoices, reg, o.Workers)

	result.Invoices = invoices

	o.Logger.Debug().
		Int("rows", len(rows)).
		Int("invoices", len(invoices)).
		Int("skipped", len(result.Skipped)).
		Int("before_cutoff", result.BeforeCutoff).
		Int("existing", result.Existing).
		Int("incomplete", len(result.Incomplete)).
		Msg("Rows aggregated")

	return result
}

// buildLine converts one raw row into a line item.
func buildLine(row ingest.Row, mapping config.FieldMapping, reg *catalog.Registry, newID func() string) (reconcile.LineItem, error) {
	net, err := ingest.ParseAmount(row.Get(mapping.Importo))
	if err != nil {
		return reconcile.LineItem{}, err
	}
	vat, err := ingest.ParseAmount(row.Get(mapping.Iva))
	if err != nil {
		return reconcile.LineItem{}, err
	}
	qty, err := ingest.ParseQuantity(row.Get(mapping.Quantita))
	if err != nil {
		return reconcile.LineItem{}, err
	}

	code := strings.TrimSpace(row.Get(mapping.Codice))
	d := reg.Decompose(code)

	unit := strings.TrimSpace(row.Get(mapping.Unita))
	if unit == "" {
		unit, _ = reg.AccessoryUnit(d)
	}

	description := strings.TrimSpace(row.Get(mapping.Descrizione))
	if description == "" {
		description = reg.Describe(d)
	}

	return reconcile.LineItem{
		ID:          newID(),
		Code:        code,
		Description: description,
		Kind:        d.Kind,
		NetAmount:   net,
		GrossAmount: net.Add(vat),
		Quantity:    qty,
		Unit:        unit,
		SourceRow:   row.Number,
	}, nil
}

// fillHeader sets invoice header fields from the first row that carries them.
func fillHeader(inv *reconcile.Invoice, row ingest.Row, mapping config.FieldMapping) {
	if inv.PatientName == "" {
		inv.PatientName = strings.TrimSpace(row.Get(mapping.Paziente))
	}
	if inv.DoctorID == "" {
		if doctor := strings.TrimSpace(row.Get(mapping.Medico)); doctor != "" {
			inv.DoctorID = doctor
			inv.DoctorName = doctor
		}
	}
}

// recomputeAll recomputes invoices in place on at most workers goroutines.
func recomputeAll(invoices []reconcile.Invoice, reg *catalog.Registry, workers int) {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i := range invoices {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			invoices[i] = reconcile.Recompute(invoices[i], reg)
		}(i)
	}

	wg.Wait()
}
