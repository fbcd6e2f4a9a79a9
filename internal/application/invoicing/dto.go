// Package invoicing orchestrates NFSe issuance: it turns ERP sales orders into
// RPS records, submits them to the municipal processor and reconciles the
// asynchronous result back into the local queue.
package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/nfse-bridge/internal/domain/invoicing"
)

// ItemStatus is the outcome of one batch item
type ItemStatus string

const (
	ItemSuccess    ItemStatus = "success"
	ItemIgnored    ItemStatus = "ignored"
	ItemProcessing ItemStatus = "processing"
	ItemError      ItemStatus = "error"
)

// Ignore reasons reported by generate
const (
	ReasonAlreadyExists      = "already exists"
	ReasonCancelled          = "order cancelled"
	ReasonNoCustomer         = "customer not determined"
	ReasonConsumerDefault    = "consumer-default customer"
	ReasonInvalidDocument    = "invalid customer document"
	ReasonNoBillableServices = "no billable services"
	ReasonBeforeCursor       = "before initial order number"
)

// GenerateRequest is the input of a generate batch
type GenerateRequest struct {
	OrderIDs []int64 `json:"order_ids" binding:"required,min=1,dive,gt=0"`
	// RpsNumbers carries numbers already reserved upstream, keyed by order id
	RpsNumbers map[int64]string `json:"rps_numbers,omitempty"`
}

// GenerateResult is the outcome of one order
type GenerateResult struct {
	OrderID     int64      `json:"order_id"`
	OrderNumber string     `json:"order_number,omitempty"`
	Status      ItemStatus `json:"status"`
	RpsNumber   string     `json:"rps_number,omitempty"`
	InvoiceID   int64      `json:"invoice_id,omitempty"`
	RecordID    *uuid.UUID `json:"record_id,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// SubmitRequest is the input of a submit batch
type SubmitRequest struct {
	RecordIDs []uuid.UUID `json:"record_ids" binding:"required,min=1"`
}

// SubmitResult is the outcome of one record
type SubmitResult struct {
	ID            uuid.UUID  `json:"id"`
	Status        ItemStatus `json:"status"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// BatchSummary counts batch outcomes by status
type BatchSummary struct {
	Total      int `json:"total"`
	Success    int `json:"success"`
	Ignored    int `json:"ignored"`
	Processing int `json:"processing"`
	Error      int `json:"error"`
}

func (s *BatchSummary) add(status ItemStatus) {
	s.Total++
	switch status {
	case ItemSuccess:
		s.Success++
	case ItemIgnored:
		s.Ignored++
	case ItemProcessing:
		s.Processing++
	case ItemError:
		s.Error++
	}
}

// SummarizeGenerate counts generate outcomes
func SummarizeGenerate(results []GenerateResult) BatchSummary {
	var s BatchSummary
	for _, r := range results {
		s.add(r.Status)
	}
	return s
}

// SummarizeSubmit counts submit outcomes
func SummarizeSubmit(results []SubmitResult) BatchSummary {
	var s BatchSummary
	for _, r := range results {
		s.add(r.Status)
	}
	return s
}

// SyncResult is the outcome of a reconciliation pass
type SyncResult struct {
	Verified  int `json:"verified"`
	Updated   int `json:"updated"`
	Corrected int `json:"corrected"`
}

// RecordResponse is the API view of an RPS record
type RecordResponse struct {
	ID            uuid.UUID        `json:"id"`
	OrderID       int64            `json:"order_id"`
	OrderNumber   string           `json:"order_number"`
	RpsNumber     string           `json:"rps_number"`
	Series        string           `json:"series"`
	InvoiceID     int64            `json:"invoice_id,omitempty"`
	InvoiceNumber string           `json:"invoice_number,omitempty"`
	Status        invoicing.Status `json:"status"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	TotalValue    decimal.Decimal  `json:"total_value"`
	CustomerName  string           `json:"customer_name,omitempty"`
	IssuedAt      time.Time        `json:"issued_at"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ToRecordResponse converts a record, reporting its effective status
func ToRecordResponse(r *invoicing.RpsRecord) RecordResponse {
	return RecordResponse{
		ID:            r.ID,
		OrderID:       r.OrderID,
		OrderNumber:   r.OrderNumber,
		RpsNumber:     r.RpsNumber,
		Series:        r.Series,
		InvoiceID:     r.InvoiceID,
		InvoiceNumber: r.InvoiceNumber,
		Status:        r.EffectiveStatus(),
		ErrorMessage:  r.ErrorMessage,
		TotalValue:    r.TotalValue,
		CustomerName:  r.CustomerName,
		IssuedAt:      r.IssuedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// ToRecordResponses converts a page of records
func ToRecordResponses(records []invoicing.RpsRecord) []RecordResponse {
	out := make([]RecordResponse, len(records))
	for i := range records {
		out[i] = ToRecordResponse(&records[i])
	}
	return out
}

// ListResult is one page of the queue
type ListResult struct {
	Records  []RecordResponse `json:"records"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}
