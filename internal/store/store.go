// =============================================================================
// Billing Reconciler - Invoice Store
// =============================================================================
//
// The store is the persistence collaborator of the engine. It keeps one
// record per invoice id and serializes writes through a version number:
// Update only succeeds when the caller holds the current version, so two
// concurrent corrections of the same invoice cannot silently overwrite each
// other.
//
// BACKENDS:
//   - memory : process-local map, used by tests and dry runs
//   - sqlite : gorm over github.com/glebarez/sqlite, invoice kept as JSON
//
// =============================================================================

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when no invoice has the requested id.
	ErrNotFound = errors.New("invoice not found")

	// ErrAlreadyExists is returned by Create for a stored id.
	ErrAlreadyExists = errors.New("invoice already exists")

	// ErrVersionConflict is returned by Update when the stored version moved.
	ErrVersionConflict = errors.New("invoice version conflict")
)

// Record is a stored invoice with its version.
type Record struct {
	Invoice reconcile.Invoice
	Version int64
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	States     []reconcile.State
	SourceFile string
}

func (f Filter) matches(inv reconcile.Invoice) bool {
	if f.SourceFile != "" && inv.SourceFile != f.SourceFile {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if inv.State == s {
			return true
		}
	}
	return false
}

// Store persists invoices.
type Store interface {
	// Get returns the stored record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Exists reports whether an invoice with id is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// Create stores a new invoice at version 1.
	Create(ctx context.Context, inv reconcile.Invoice) error

	// Update replaces the invoice if the stored version equals version and
	// returns the new version.
	Update(ctx context.Context, inv reconcile.Invoice, version int64) (int64, error)

	// List returns matching invoices ordered by date, then id.
	List(ctx context.Context, filter Filter) ([]reconcile.Invoice, error)

	Close() error
}

// OperationError names the store operation and invoice that failed.
type OperationError struct {
	Op        string
	InvoiceID string
	Err       error
}

func (e *OperationError) Error() string {
	if e.InvoiceID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.InvoiceID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Open creates the store selected by cfg.
func Open(cfg config.StoreConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(cfg.DSN, logger)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
