package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/ginjaninja78/billing-reconciler/internal/config"
	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore, err := OpenSQLite(filepath.Join(t.TempDir(), "reconciler.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func invoice(id string, day int, state reconcile.State) reconcile.Invoice {
	return reconcile.Invoice{
		ID:         id,
		Number:     id,
		Series:     "P",
		Date:       time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		DoctorID:   "D1",
		SourceFile: "march.xlsx",
		Lines: []reconcile.LineItem{{
			ID:          "L1",
			Code:        "RTGG01",
			Kind:        catalog.KindProduct,
			NetAmount:   decimal.RequireFromString("12.50"),
			GrossAmount: decimal.RequireFromString("15.25"),
			Quantity:    decimal.NewFromInt(2),
			Unit:        "ml",
			Anomalies:   reconcile.NewAnomalySet(reconcile.OrphanProduct, reconcile.ProductHasPrice),
		}},
		NetTotal:  decimal.RequireFromString("12.50"),
		Anomalies: reconcile.NewAnomalySet(reconcile.OrphanProduct, reconcile.ProductHasPrice),
		State:     state,
	}
}

func TestStore_CreateGetExists(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, invoice("1", 15, reconcile.StateAnomalous)))

			ok, err := s.Exists(ctx, "1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Exists(ctx, "2")
			require.NoError(t, err)
			assert.False(t, ok)

			rec, err := s.Get(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), rec.Version)
			assert.Equal(t, reconcile.StateAnomalous, rec.Invoice.State)
			assert.True(t, rec.Invoice.Date.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
			require.Len(t, rec.Invoice.Lines, 1)
			line := rec.Invoice.Lines[0]
			assert.Equal(t, catalog.KindProduct, line.Kind)
			assert.True(t, line.NetAmount.Equal(decimal.RequireFromString("12.5")))
			assert.True(t, line.Quantity.Equal(decimal.NewFromInt(2)))
			assert.Equal(t, reconcile.NewAnomalySet(reconcile.OrphanProduct, reconcile.ProductHasPrice), line.Anomalies)
			assert.Equal(t, reconcile.NewAnomalySet(reconcile.OrphanProduct, reconcile.ProductHasPrice), rec.Invoice.Anomalies)

			err = s.Create(ctx, invoice("1", 15, reconcile.StatePending))
			assert.ErrorIs(t, err, ErrAlreadyExists)

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_UpdateIsOptimistic(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, invoice("1", 15, reconcile.StateAnomalous)))

			inv := invoice("1", 15, reconcile.StatePending)
			inv.Anomalies = nil
			version, err := s.Update(ctx, inv, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), version)

			_, err = s.Update(ctx, inv, 1)
			assert.ErrorIs(t, err, ErrVersionConflict)

			_, err = s.Update(ctx, invoice("nope", 15, reconcile.StatePending), 1)
			assert.ErrorIs(t, err, ErrNotFound)

			rec, err := s.Get(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), rec.Version)
			assert.Equal(t, reconcile.StatePending, rec.Invoice.State)
			assert.True(t, rec.Invoice.Anomalies.Empty())
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, invoice("b", 16, reconcile.StatePending)))
			require.NoError(t, s.Create(ctx, invoice("a", 16, reconcile.StateAnomalous)))
			require.NoError(t, s.Create(ctx, invoice("c", 14, reconcile.StateImported)))

			all, err := s.List(ctx, Filter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

			open, err := s.List(ctx, Filter{States: []reconcile.State{reconcile.StatePending, reconcile.StateAnomalous}})
			require.NoError(t, err)
			require.Len(t, open, 2)
			assert.Equal(t, "a", open[0].ID)

			none, err := s.List(ctx, Filter{SourceFile: "april.xlsx"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestMemoryStore_ConcurrentUpdatesConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, invoice("1", 15, reconcile.StateAnomalous)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, invoice("1", 15, reconcile.StatePending), 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	inv := invoice("1", 15, reconcile.StateAnomalous)
	require.NoError(t, s.Create(ctx, inv))

	inv.Lines[0].Code = "changed"
	rec, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "RTGG01", rec.Invoice.Lines[0].Code)
}

func TestOpen(t *testing.T) {
	s, err := Open(config.StoreConfig{Driver: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(config.StoreConfig{Driver: "postgres"}, zerolog.Nop())
	assert.Error(t, err)
}
