// =============================================================================
// Billing Reconciler - SQLite Store
// =============================================================================
//
// The gorm-backed store. Each invoice is one row: the whole invoice as a JSON
// payload plus a few indexed columns for List filters. Update is a single
// UPDATE ... WHERE id = ? AND version = ?, so a concurrent writer loses with
// ErrVersionConflict instead of overwriting.
//
// =============================================================================

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// invoiceRecord is the row layout of the invoices table. The full invoice
// lives in Payload; the other columns exist for filtering.
type invoiceRecord struct {
	ID          string `gorm:"primaryKey"`
	Series      string
	Number      string
	State       string `gorm:"index"`
	DoctorID    string
	SourceFile  string `gorm:"index"`
	InvoiceDate time.Time
	Payload     datatypes.JSON `gorm:"not null"`
	Version     int64          `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (invoiceRecord) TableName() string {
	return "invoices"
}

func newRecord(inv reconcile.Invoice) (*invoiceRecord, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice: %w", err)
	}
	return &invoiceRecord{
		ID:          inv.ID,
		Series:      inv.Series,
		Number:      inv.Number,
		State:       string(inv.State),
		DoctorID:    inv.DoctorID,
		SourceFile:  inv.SourceFile,
		InvoiceDate: inv.Date,
		Payload:     datatypes.JSON(payload),
	}, nil
}

func (r *invoiceRecord) invoice() (reconcile.Invoice, error) {
	var inv reconcile.Invoice
	if err := json.Unmarshal(r.Payload, &inv); err != nil {
		return reconcile.Invoice{}, fmt.Errorf("failed to decode invoice %s: %w", r.ID, err)
	}
	return inv, nil
}

// SQLStore persists invoices through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) a sqlite database and migrates the schema.
//
// PARAMETERS:
//   - dsn: A file path, or "file::memory:?cache=shared" for a shared
//     in-memory database.
//   - logger: Component logger.
func OpenSQLite(dsn string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return NewSQLStore(db, logger)
}

// NewSQLStore wraps an open gorm connection and migrates the schema.
func NewSQLStore(db *gorm.DB, logger zerolog.Logger) (*SQLStore, error) {
	if err := db.AutoMigrate(&invoiceRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate invoice store: %w", err)
	}
	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec invoiceRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &OperationError{Op: "get", InvoiceID: id, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &OperationError{Op: "get", InvoiceID: id, Err: err}
	}

	inv, err := rec.invoice()
	if err != nil {
		return nil, &OperationError{Op: "get", InvoiceID: id, Err: err}
	}
	return &Record{Invoice: inv, Version: rec.Version}, nil
}

func (s *SQLStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&invoiceRecord{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, &OperationError{Op: "exists", InvoiceID: id, Err: err}
	}
	return count > 0, nil
}

func (s *SQLStore) Create(ctx context.Context, inv reconcile.Invoice) error {
	rec, err := newRecord(inv)
	if err != nil {
		return &OperationError{Op: "create", InvoiceID: inv.ID, Err: err}
	}
	rec.Version = 1

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&invoiceRecord{}).Where("id = ?", inv.ID).Count(&count).Error; err != nil {
			return &OperationError{Op: "create", InvoiceID: inv.ID, Err: err}
		}
		if count > 0 {
			return &OperationError{Op: "create", InvoiceID: inv.ID, Err: ErrAlreadyExists}
		}
		if err := tx.Create(rec).Error; err != nil {
			return &OperationError{Op: "create", InvoiceID: inv.ID, Err: err}
		}

		s.logger.Debug().Str("invoice", inv.ID).Str("state", string(inv.State)).Msg("Invoice stored")
		return nil
	})
}

func (s *SQLStore) Update(ctx context.Context, inv reconcile.Invoice, version int64) (int64, error) {
	rec, err := newRecord(inv)
	if err != nil {
		return 0, &OperationError{Op: "update", InvoiceID: inv.ID, Err: err}
	}
	next := version + 1

	res := s.db.WithContext(ctx).
		Model(&invoiceRecord{}).
		Where("id = ? AND version = ?", inv.ID, version).
		Updates(map[string]any{
			"series":       rec.Series,
			"number":       rec.Number,
			"state":        rec.State,
			"doctor_id":    rec.DoctorID,
			"source_file":  rec.SourceFile,
			"invoice_date": rec.InvoiceDate,
			"payload":      rec.Payload,
			"version":      next,
		})
	if res.Error != nil {
		return 0, &OperationError{Op: "update", InvoiceID: inv.ID, Err: res.Error}
	}

	if res.RowsAffected == 0 {
		exists, err := s.Exists(ctx, inv.ID)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, &OperationError{Op: "update", InvoiceID: inv.ID, Err: ErrNotFound}
		}
		return 0, &OperationError{Op: "update", InvoiceID: inv.ID, Err: ErrVersionConflict}
	}

	s.logger.Debug().Str("invoice", inv.ID).Int64("version", next).Str("state", string(inv.State)).Msg("Invoice updated")
	return next, nil
}

func (s *SQLStore) List(ctx context.Context, filter Filter) ([]reconcile.Invoice, error) {
	stmt := s.db.WithContext(ctx).Model(&invoiceRecord{})
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		stmt = stmt.Where("state IN ?", states)
	}
	if filter.SourceFile != "" {
		stmt = stmt.Where("source_file = ?", filter.SourceFile)
	}

	var records []invoiceRecord
	if err := stmt.Order("invoice_date asc, id asc").Find(&records).Error; err != nil {
		return nil, &OperationError{Op: "list", Err: err}
	}

	out := make([]reconcile.Invoice, 0, len(records))
	for i := range records {
		inv, err := records[i].invoice()
		if err != nil {
			return nil, &OperationError{Op: "list", InvoiceID: records[i].ID, Err: err}
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
