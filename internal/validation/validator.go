// =============================================================================
// Billing Reconciler - Row Pre-Validation
// =============================================================================
//
// This module checks raw rows at the boundary, before they reach the
// aggregator. It only judges whether a row can be read at all; billing
// consistency (codes, prices, units) is the reconciliation engine's job and
// is reported as anomalies, not validation errors.
//
// RULES:
//   | Rule        | Field                  | Severity | Effect               |
//   |-------------|------------------------|----------|----------------------|
//   | required    | numero, data           | error    | row rejected         |
//   | date        | data                   | error    | row rejected         |
//   | amount      | importo, iva           | error    | row rejected         |
//   | quantity    | quantita               | error    | row rejected         |
//   | code        | codice                 | warning  | row kept             |
//   | group       | numero                 | error    | row rejected         |
//
// GROUP RULE:
//   When a row with an invoice number is rejected, every other row of the
//   same (serie, numero) group is rejected too. An invoice is built from all
//   of its rows or not at all.
//
// ERROR HANDLING:
//   - Errors are collected, not returned immediately
//   - Each error carries the source row number, field and value
//
// =============================================================================

package validation

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/ginjaninja78/billing-reconciler/internal/ingest"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation finding.
type ValidationError struct {
	// Severity is "error" (row rejected) or "warning" (row kept).
	Severity string

	// Field is the raw column header that failed validation.
	Field string

	// Value is the raw value that failed validation.
	Value string

	// Rule is the validation rule that was violated.
	Rule string

	// Message is a human-readable error message.
	Message string

	// RowNumber is the 1-based row in the source file.
	RowNumber int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] row %d, field '%s': %s (value: '%s')",
		strings.ToUpper(e.Severity),
		e.RowNumber,
		e.Field,
		e.Message,
		e.Value,
	)
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validation.
type ValidationResult struct {
	// IsValid is true if no row was rejected.
	IsValid bool

	// Errors contains every finding, warnings included.
	Errors []*ValidationError

	ErrorCount   int
	WarningCount int

	// RowsValidated is the number of rows checked.
	RowsValidated int

	// rejected holds the row numbers with at least one error.
	rejected map[int]bool
}

// Rejected reports whether the row with the given number had an error.
func (r *ValidationResult) Rejected(rowNumber int) bool {
	return r.rejected[rowNumber]
}

// RejectedCount is the number of distinct rejected rows.
func (r *ValidationResult) RejectedCount() int {
	return len(r.rejected)
}

// Accepted returns the rows that were not rejected, in order.
func (r *ValidationResult) Accepted(rows []ingest.Row) []ingest.Row {
	out := make([]ingest.Row, 0, len(rows))
	for _, row := range rows {
		if !r.rejected[row.Number] {
			out = append(out, row)
		}
	}
	return out
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks raw rows against the field mapping.
type Validator struct {
	mapping         config.FieldMapping
	layouts         []string
	principalSeries string
	options         ValidationOptions
}

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// StopOnFirstError stops validation after the first rejected row.
	StopOnFirstError bool

	// TreatWarningsAsErrors rejects rows that only have warnings.
	TreatWarningsAsErrors bool
}

// NewValidator creates a Validator for the given ingestion settings.
func NewValidator(settings config.IngestConfig, options ValidationOptions) *Validator {
	return &Validator{
		mapping:         settings.FieldMapping,
		layouts:         settings.DateLayouts,
		principalSeries: settings.PrincipalSeries,
		options:         options,
	}
}

// ValidateRows validates all rows and returns a detailed result.
func (v *Validator) ValidateRows(rows []ingest.Row) *ValidationResult {
	result := &ValidationResult{
		IsValid:  true,
		rejected: make(map[int]bool),
	}

	for _, row := range rows {
		result.RowsValidated++

		for _, err := range v.ValidateRow(row) {
			result.Errors = append(result.Errors, err)

			if err.Severity == SeverityError || v.options.TreatWarningsAsErrors {
				result.rejected[row.Number] = true
				result.IsValid = false
			}
			if err.Severity == SeverityError {
				result.ErrorCount++
			} else {
				result.WarningCount++
			}
		}

		if v.options.StopOnFirstError && result.rejected[row.Number] {
			return result
		}
	}

	v.rejectGroups(rows, result)
	return result
}

// rejectGroups extends every rejection of a numbered row to the rest of
// its group.
func (v *Validator) rejectGroups(rows []ingest.Row, result *ValidationResult) {
	incomplete := make(map[string]bool)
	for _, row := range rows {
		if key, ok := v.groupKey(row); ok && result.rejected[row.Number] {
			incomplete[key] = true
		}
	}
	if len(incomplete) == 0 {
		return
	}

	for _, row := range rows {
		key, ok := v.groupKey(row)
		if !ok || !incomplete[key] || result.rejected[row.Number] {
			continue
		}
		result.Errors = append(result.Errors, &ValidationError{
			Severity:  SeverityError,
			Field:     v.mapping.Numero,
			Value:     row.Get(v.mapping.Numero),
			Rule:      "group",
			Message:   "another row of this invoice was rejected",
			RowNumber: row.Number,
		})
		result.ErrorCount++
		result.rejected[row.Number] = true
	}
}

// groupKey returns the (serie, numero) key of a row, or false if the row
// has no invoice number.
func (v *Validator) groupKey(row ingest.Row) (string, bool) {
	number := strings.TrimSpace(row.Get(v.mapping.Numero))
	if number == "" {
		return "", false
	}
	series := strings.TrimSpace(row.Get(v.mapping.Serie))
	if series == "" {
		series = v.principalSeries
	}
	return series + "\x00" + number, true
}

// ValidateRow validates a single row.
func (v *Validator) ValidateRow(row ingest.Row) []*ValidationError {
	var errs []*ValidationError
	add := func(severity, field, rule, message string) {
		errs = append(errs, &ValidationError{
			Severity:  severity,
			Field:     field,
			Value:     row.Get(field),
			Rule:      rule,
			Message:   message,
			RowNumber: row.Number,
		})
	}

	// =========================================================================
	// REQUIRED FIELDS
	// =========================================================================

	if row.Get(v.mapping.Numero) == "" {
		add(SeverityError, v.mapping.Numero, "required", "invoice number is empty")
	}

	date := row.Get(v.mapping.Data)
	if date == "" {
		add(SeverityError, v.mapping.Data, "required", "invoice date is empty")
	} else if _, err := ingest.ParseDate(date, v.layouts); err != nil {
		add(SeverityError, v.mapping.Data, "date", "unrecognized date format")
	}

	// =========================================================================
	// NUMERIC FIELDS
	// =========================================================================

	for _, field := range []string{v.mapping.Importo, v.mapping.Iva} {
		if field == "" {
			continue
		}
		if _, err := ingest.ParseAmount(row.Get(field)); err != nil {
			add(SeverityError, field, "amount", "not a valid amount")
		}
	}

	if v.mapping.Quantita != "" {
		q, err := ingest.ParseQuantity(row.Get(v.mapping.Quantita))
		switch {
		case err != nil:
			add(SeverityError, v.mapping.Quantita, "quantity", "not a valid quantity")
		case !q.IsPositive():
			add(SeverityError, v.mapping.Quantita, "quantity", "quantity must be positive")
		}
	}

	// =========================================================================
	// CODE
	// =========================================================================

	if v.mapping.Codice != "" && row.Get(v.mapping.Codice) == "" {
		add(SeverityWarning, v.mapping.Codice, "code", "billing code is empty")
	}

	return errs
}
