package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the local state of an RPS record
type Status string

const (
	// StatusPending indicates the RPS was emitted but not settled
	StatusPending Status = "pending"
	// StatusProcessing indicates the RPS was accepted by the municipal processor
	StatusProcessing Status = "processing"
	// StatusIssued indicates the NFSe was issued
	StatusIssued Status = "issued"
	// StatusError indicates emission or submission failed
	StatusError Status = "error"
)

// AllStatuses lists every status in display order
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusIssued, StatusError}

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusIssued, StatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// DefaultSeries is the fixed RPS series.
const DefaultSeries = "1"

// RpsRecord maps one sales order to its RPS and NFSe.
type RpsRecord struct {
	ID            uuid.UUID
	OrderID       int64
	OrderNumber   string
	RpsNumber     string
	Series        string
	InvoiceID     int64
	InvoiceNumber string
	Status        Status
	ErrorMessage  string
	TotalValue    decimal.Decimal
	CustomerName  string
	IssuedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRpsRecord creates a pending record for an emitted RPS
func NewRpsRecord(orderID int64, orderNumber, rpsNumber, series string) *RpsRecord {
	now := time.Now()
	return &RpsRecord{
		ID:          uuid.New(),
		OrderID:     orderID,
		OrderNumber: orderNumber,
		RpsNumber:   rpsNumber,
		Series:      series,
		Status:      StatusPending,
		IssuedAt:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasNumber returns true once the municipal processor assigned a number
func (r *RpsRecord) HasNumber() bool {
	return r.InvoiceNumber != ""
}

// HasInvoice returns true when the external invoice id is known
func (r *RpsRecord) HasInvoice() bool {
	return r.InvoiceID != 0
}

// IsIssuedWithoutNumber is the half-settled state reconciliation may roll back
func (r *RpsRecord) IsIssuedWithoutNumber() bool {
	return r.Status == StatusIssued && !r.HasNumber()
}

// EffectiveStatus is the status consumers should filter on: an issued record
// without a number still counts as pending.
func (r *RpsRecord) EffectiveStatus() Status {
	if r.IsIssuedWithoutNumber() {
		return StatusPending
	}
	return r.Status
}

// IsReconcilable returns true for records the status reconciler must visit
func (r *RpsRecord) IsReconcilable() bool {
	switch r.Status {
	case StatusPending, StatusProcessing:
		return true
	case StatusIssued:
		return !r.HasNumber()
	default:
		return false
	}
}

// CanSubmit returns true for records that may be sent to the municipal processor
func (r *RpsRecord) CanSubmit() bool {
	return r.HasInvoice() && (r.Status == StatusPending || r.Status == StatusError || r.IsIssuedWithoutNumber())
}

// RecordUpdate is a field-level update; nil fields are left untouched.
// Transition legality is the caller's responsibility.
type RecordUpdate struct {
	Status        *Status
	InvoiceID     *int64
	InvoiceNumber *string
	ErrorMessage  *string
	IssuedAt      *time.Time
}

// IsEmpty returns true when no field is set
func (u RecordUpdate) IsEmpty() bool {
	return u.Status == nil && u.InvoiceID == nil && u.InvoiceNumber == nil &&
		u.ErrorMessage == nil && u.IssuedAt == nil
}

// Apply copies the set fields onto r
func (u RecordUpdate) Apply(r *RpsRecord) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.InvoiceID != nil {
		r.InvoiceID = *u.InvoiceID
	}
	if u.InvoiceNumber != nil {
		r.InvoiceNumber = *u.InvoiceNumber
	}
	if u.ErrorMessage != nil {
		r.ErrorMessage = *u.ErrorMessage
	}
	if u.IssuedAt != nil {
		r.IssuedAt = *u.IssuedAt
	}
}

// Issued builds the update for a settled invoice
func Issued(number string) RecordUpdate {
	status := StatusIssued
	empty := ""
	return RecordUpdate{Status: &status, InvoiceNumber: &number, ErrorMessage: &empty}
}

// Processing builds the update for an accepted but unsettled submission
func Processing() RecordUpdate {
	status := StatusProcessing
	empty := ""
	return RecordUpdate{Status: &status, ErrorMessage: &empty}
}

// Failed builds the update for a failed step
func Failed(message string) RecordUpdate {
	status := StatusError
	return RecordUpdate{Status: &status, ErrorMessage: &message}
}

// RolledBack builds the backward issued-without-number -> pending update
func RolledBack(message string) RecordUpdate {
	status := StatusPending
	return RecordUpdate{Status: &status, ErrorMessage: &message}
}
