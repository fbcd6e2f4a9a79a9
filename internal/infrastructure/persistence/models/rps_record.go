package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/nfse-bridge/internal/domain/invoicing"
)

// RpsRecordModel is the persistence model for the RpsRecord domain entity.
// order_id carries the unique index that makes generation idempotent.
type RpsRecordModel struct {
	ID            uuid.UUID        `gorm:"type:uuid;primary_key"`
	OrderID       int64            `gorm:"not null;uniqueIndex:uq_rps_records_order_id"`
	OrderNumber   string           `gorm:"type:varchar(50);not null"`
	RpsNumber     string           `gorm:"type:varchar(20);not null"`
	Series        string           `gorm:"type:varchar(10);not null;default:'1'"`
	InvoiceID     int64            `gorm:"not null;default:0;index:idx_rps_records_invoice_id"`
	InvoiceNumber *string          `gorm:"type:varchar(50)"`
	Status        invoicing.Status `gorm:"type:varchar(20);not null;default:'pending';index:idx_rps_records_status"`
	ErrorMessage  string           `gorm:"type:text"`
	TotalValue    decimal.Decimal  `gorm:"type:decimal(15,2);not null;default:0"`
	CustomerName  string           `gorm:"type:varchar(255)"`
	IssuedAt      time.Time        `gorm:"not null"`
	CreatedAt     time.Time        `gorm:"not null;index:idx_rps_records_created_at"`
	UpdatedAt     time.Time        `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RpsRecordModel) TableName() string {
	return "rps_records"
}

// ToDomain converts the persistence model to a domain RpsRecord
func (m *RpsRecordModel) ToDomain() *invoicing.RpsRecord {
	r := &invoicing.RpsRecord{
		ID:           m.ID,
		OrderID:      m.OrderID,
		OrderNumber:  m.OrderNumber,
		RpsNumber:    m.RpsNumber,
		Series:       m.Series,
		InvoiceID:    m.InvoiceID,
		Status:       m.Status,
		ErrorMessage: m.ErrorMessage,
		TotalValue:   m.TotalValue,
		CustomerName: m.CustomerName,
		IssuedAt:     m.IssuedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.InvoiceNumber != nil {
		r.InvoiceNumber = *m.InvoiceNumber
	}
	return r
}

// RpsRecordModelFromDomain creates a persistence model from a domain RpsRecord
func RpsRecordModelFromDomain(r *invoicing.RpsRecord) *RpsRecordModel {
	m := &RpsRecordModel{
		ID:           r.ID,
		OrderID:      r.OrderID,
		OrderNumber:  r.OrderNumber,
		RpsNumber:    r.RpsNumber,
		Series:       r.Series,
		InvoiceID:    r.InvoiceID,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
		TotalValue:   r.TotalValue,
		CustomerName: r.CustomerName,
		IssuedAt:     r.IssuedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.InvoiceNumber != "" {
		number := r.InvoiceNumber
		m.InvoiceNumber = &number
	}
	return m
}
