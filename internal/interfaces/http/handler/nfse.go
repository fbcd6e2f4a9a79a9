package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	invoicingapp "github.com/erp/nfse-bridge/internal/application/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/shared"
	"github.com/erp/nfse-bridge/internal/interfaces/http/dto"
	"github.com/erp/nfse-bridge/internal/interfaces/http/middleware"
)

// InvoicingService runs NFSe batches and queue queries
type InvoicingService interface {
	Generate(ctx context.Context, req invoicingapp.GenerateRequest) ([]invoicingapp.GenerateResult, error)
	Submit(ctx context.Context, req invoicingapp.SubmitRequest) ([]invoicingapp.SubmitResult, error)
	Sync(ctx context.Context) (*invoicingapp.SyncResult, error)
	Stats(ctx context.Context) (invoicing.Stats, error)
	List(ctx context.Context, filter invoicing.ListFilter) (*invoicingapp.ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (*invoicingapp.RecordResponse, error)
}

var _ InvoicingService = (*invoicingapp.Service)(nil)

// PayloadLinker hands out temporary links to archived payloads
type PayloadLinker interface {
	PayloadURL(ctx context.Context, orderID int64, step string) (string, time.Time, error)
}

// NFSeHandler handles the NFSe batch and queue endpoints
type NFSeHandler struct {
	BaseHandler
	service  InvoicingService
	payloads PayloadLinker
}

// NFSeHandlerOption configures an NFSeHandler
type NFSeHandlerOption func(*NFSeHandler)

// WithPayloadLinker enables the archived payload endpoint
func WithPayloadLinker(l PayloadLinker) NFSeHandlerOption {
	return func(h *NFSeHandler) {
		h.payloads = l
	}
}

// NewNFSeHandler creates a new NFSeHandler
func NewNFSeHandler(service InvoicingService, opts ...NFSeHandlerOption) *NFSeHandler {
	h := &NFSeHandler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GenerateResponse is the result of a generate batch
type GenerateResponse struct {
	Summary invoicingapp.BatchSummary     `json:"summary"`
	Results []invoicingapp.GenerateResult `json:"results"`
}

// SubmitResponse is the result of a submit batch
type SubmitResponse struct {
	Summary invoicingapp.BatchSummary   `json:"summary"`
	Results []invoicingapp.SubmitResult `json:"results"`
}

// QueueListRequest holds the query of GET /nfse/queue
type QueueListRequest struct {
	dto.ListRequest
	Status string `form:"status" binding:"omitempty,oneof=pending processing issued error"`
}

// PayloadLinkResponse is a temporary link to an archived payload
type PayloadLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Generate emits invoices for a batch of ERP orders
func (h *NFSeHandler) Generate(c *gin.Context) {
	var req invoicingapp.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	results, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, GenerateResponse{Summary: invoicingapp.SummarizeGenerate(results), Results: results})
}

// Submit sends a batch of pending records to the municipal processor
func (h *NFSeHandler) Submit(c *gin.Context) {
	var req invoicingapp.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	results, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, SubmitResponse{Summary: invoicingapp.SummarizeSubmit(results), Results: results})
}

// Sync reconciles every open record with the ERP
func (h *NFSeHandler) Sync(c *gin.Context) {
	result, err := h.service.Sync(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Stats counts records per effective status
func (h *NFSeHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// ListQueue returns one page of the RPS queue
func (h *NFSeHandler) ListQueue(c *gin.Context) {
	var req QueueListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	result, err := h.service.List(c.Request.Context(), invoicing.ListFilter{
		Status:   invoicing.Status(req.Status),
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, result.Records, result.Total, result.Page, result.PageSize)
}

// GetRecord returns one queue record
func (h *NFSeHandler) GetRecord(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}
	record, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, record)
}

// PayloadLink returns a presigned link to the archived emit or submit payload
func (h *NFSeHandler) PayloadLink(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}
	step := c.Param("step")
	if step != invoicingapp.StepEmit && step != invoicingapp.StepSubmit {
		h.HandleError(c, shared.ValidationError("step must be emit or submit"))
		return
	}
	if h.payloads == nil {
		h.HandleError(c, shared.NotFoundError("payload archive is disabled"))
		return
	}

	record, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	url, expiresAt, err := h.payloads.PayloadURL(c.Request.Context(), record.OrderID, step)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if c.Query("redirect") == "true" {
		c.Redirect(http.StatusFound, url)
		return
	}
	h.Success(c, PayloadLinkResponse{URL: url, ExpiresAt: expiresAt})
}

func (h *NFSeHandler) recordID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.HandleError(c, shared.ValidationError("invalid record id"))
		return uuid.Nil, false
	}
	return id, true
}
