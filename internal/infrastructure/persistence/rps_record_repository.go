package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/erp/nfse-bridge/internal/domain/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/shared"
	"github.com/erp/nfse-bridge/internal/infrastructure/persistence/models"
)

// unnumbered matches rows whose NFSe number has not been assigned yet
const unnumbered = "(invoice_number IS NULL OR invoice_number = '')"

// effectiveStatusExpr folds issued-without-number into pending
const effectiveStatusExpr = "CASE WHEN status = 'issued' AND " + unnumbered + " THEN 'pending' ELSE status END"

// GormRpsRecordRepository implements invoicing.QueueStore using GORM
type GormRpsRecordRepository struct {
	db *gorm.DB
}

// NewGormRpsRecordRepository creates a new GormRpsRecordRepository
func NewGormRpsRecordRepository(db *gorm.DB) *GormRpsRecordRepository {
	return &GormRpsRecordRepository{db: db}
}

// Insert creates the record. The unique index on order_id turns a second
// generation for the same order into a CONFLICT error.
func (r *GormRpsRecordRepository) Insert(ctx context.Context, record *invoicing.RpsRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	model := models.RpsRecordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.ConflictError(fmt.Sprintf("order %d already has an RPS", record.OrderID))
		}
		return fmt.Errorf("failed to insert rps record: %w", err)
	}
	return nil
}

// Get finds a record by its id
func (r *GormRpsRecordRepository) Get(ctx context.Context, id uuid.UUID) (*invoicing.RpsRecord, error) {
	var model models.RpsRecordModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translateNotFound(err, fmt.Sprintf("rps record %s not found", id))
	}
	return model.ToDomain(), nil
}

// GetByOrderID finds the record of a sales order
func (r *GormRpsRecordRepository) GetByOrderID(ctx context.Context, orderID int64) (*invoicing.RpsRecord, error) {
	var model models.RpsRecordModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		return nil, translateNotFound(err, fmt.Sprintf("no rps record for order %d", orderID))
	}
	return model.ToDomain(), nil
}

// Update writes only the fields set in update
func (r *GormRpsRecordRepository) Update(ctx context.Context, id uuid.UUID, update invoicing.RecordUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	columns := map[string]any{"updated_at": time.Now()}
	if update.Status != nil {
		columns["status"] = string(*update.Status)
	}
	if update.InvoiceID != nil {
		columns["invoice_id"] = *update.InvoiceID
	}
	if update.InvoiceNumber != nil {
		if *update.InvoiceNumber == "" {
			columns["invoice_number"] = nil
		} else {
			columns["invoice_number"] = *update.InvoiceNumber
		}
	}
	if update.ErrorMessage != nil {
		columns["error_message"] = *update.ErrorMessage
	}
	if update.IssuedAt != nil {
		columns["issued_at"] = *update.IssuedAt
	}

	result := r.db.WithContext(ctx).
		Model(&models.RpsRecordModel{}).
		Where("id = ?", id).
		Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("failed to update rps record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.NotFoundError(fmt.Sprintf("rps record %s not found", id))
	}
	return nil
}

// List returns one page of records, newest first, and the filtered total
func (r *GormRpsRecordRepository) List(ctx context.Context, filter invoicing.ListFilter) ([]invoicing.RpsRecord, int64, error) {
	filter.Normalize()

	query := r.applyStatusFilter(r.db.WithContext(ctx).Model(&models.RpsRecordModel{}), filter.Status).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count rps records: %w", err)
	}

	var rows []models.RpsRecordModel
	if err := query.
		Order("created_at DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list rps records: %w", err)
	}

	return toDomainRecords(rows), total, nil
}

// Stats counts records by effective status
func (r *GormRpsRecordRepository) Stats(ctx context.Context) (invoicing.Stats, error) {
	var rows []struct {
		EffectiveStatus string
		Count           int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.RpsRecordModel{}).
		Select(effectiveStatusExpr + " AS effective_status, COUNT(*) AS count").
		Group("effective_status").
		Scan(&rows).Error
	if err != nil {
		return invoicing.Stats{}, fmt.Errorf("failed to count rps records by status: %w", err)
	}

	var stats invoicing.Stats
	for _, row := range rows {
		stats.Add(invoicing.Status(row.EffectiveStatus), row.Count)
	}
	return stats, nil
}

// ListReconcilable returns every record the reconciler has to visit, oldest first
func (r *GormRpsRecordRepository) ListReconcilable(ctx context.Context) ([]invoicing.RpsRecord, error) {
	var rows []models.RpsRecordModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(invoicing.StatusPending), string(invoicing.StatusProcessing)}).
		Or("status = ? AND "+unnumbered, string(invoicing.StatusIssued)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reconcilable rps records: %w", err)
	}
	return toDomainRecords(rows), nil
}

func (r *GormRpsRecordRepository) applyStatusFilter(query *gorm.DB, status invoicing.Status) *gorm.DB {
	switch status {
	case "":
		return query
	case invoicing.StatusPending:
		return query.Where("status = ? OR (status = ? AND "+unnumbered+")",
			string(invoicing.StatusPending), string(invoicing.StatusIssued))
	case invoicing.StatusIssued:
		return query.Where("status = ? AND NOT "+unnumbered, string(invoicing.StatusIssued))
	default:
		return query.Where("status = ?", string(status))
	}
}

func toDomainRecords(rows []models.RpsRecordModel) []invoicing.RpsRecord {
	records := make([]invoicing.RpsRecord, len(rows))
	for i := range rows {
		records[i] = *rows[i].ToDomain()
	}
	return records
}

// Ensure GormRpsRecordRepository implements invoicing.QueueStore
var _ invoicing.QueueStore = (*GormRpsRecordRepository)(nil)
