// =============================================================================
// Billing Reconciler - Memory Store
// =============================================================================

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
)

// MemoryStore keeps invoices in a map. Values are cloned on the way in and
// out so callers never share slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &OperationError{Op: "get", InvoiceID: id, Err: ErrNotFound}
	}
	return &Record{Invoice: rec.Invoice.Clone(), Version: rec.Version}, nil
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[id]
	return ok, nil
}

func (s *MemoryStore) Create(_ context.Context, inv reconcile.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[inv.ID]; ok {
		return &OperationError{Op: "create", InvoiceID: inv.ID, Err: ErrAlreadyExists}
	}
	s.records[inv.ID] = Record{Invoice: inv.Clone(), Version: 1}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, inv reconcile.Invoice, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[inv.ID]
	if !ok {
		return 0, &OperationError{Op: "update", InvoiceID: inv.ID, Err: ErrNotFound}
	}
	if rec.Version != version {
		return 0, &OperationError{Op: "update", InvoiceID: inv.ID, Err: ErrVersionConflict}
	}

	next := version + 1
	s.records[inv.ID] = Record{Invoice: inv.Clone(), Version: next}
	return next, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]reconcile.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []reconcile.Invoice
	for _, rec := range s.records {
		if filter.matches(rec.Invoice) {
			out = append(out, rec.Invoice.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
