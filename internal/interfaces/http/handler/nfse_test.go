package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	invoicingapp "github.com/erp/nfse-bridge/internal/application/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/shared"
)

type mockInvoicingService struct {
	mock.Mock
}

func (m *mockInvoicingService) Generate(ctx context.Context, req invoicingapp.GenerateRequest) ([]invoicingapp.GenerateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]invoicingapp.GenerateResult), args.Error(1)
}

func (m *mockInvoicingService) Submit(ctx context.Context, req invoicingapp.SubmitRequest) ([]invoicingapp.SubmitResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]invoicingapp.SubmitResult), args.Error(1)
}

func (m *mockInvoicingService) Sync(ctx context.Context) (*invoicingapp.SyncResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicingapp.SyncResult), args.Error(1)
}

func (m *mockInvoicingService) Stats(ctx context.Context) (invoicing.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(invoicing.Stats), args.Error(1)
}

func (m *mockInvoicingService) List(ctx context.Context, filter invoicing.ListFilter) (*invoicingapp.ListResult, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicingapp.ListResult), args.Error(1)
}

func (m *mockInvoicingService) Get(ctx context.Context, id uuid.UUID) (*invoicingapp.RecordResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicingapp.RecordResponse), args.Error(1)
}

type stubLinker struct {
	url string
	err error
}

func (s stubLinker) PayloadURL(ctx context.Context, orderID int64, step string) (string, time.Time, error) {
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return s.url, time.Date(2026, 3, 10, 12, 15, 0, 0, time.UTC), nil
}

func TestNFSeHandler_Generate(t *testing.T) {
	recordID := uuid.New()
	svc := new(mockInvoicingService)
	svc.On("Generate", mock.Anything, invoicingapp.GenerateRequest{OrderIDs: []int64{10, 11, 12}}).Return([]invoicingapp.GenerateResult{
		{OrderID: 10, Status: invoicingapp.ItemSuccess, RpsNumber: "12340000", RecordID: &recordID},
		{OrderID: 11, Status: invoicingapp.ItemIgnored, Message: invoicingapp.ReasonCancelled},
		{OrderID: 12, Status: invoicingapp.ItemError, Message: "create invoice: ERP responded with status 400"},
	}, nil)
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/nfse/generate", map[string]any{"order_ids": []int64{10, 11, 12}})
	h.Generate(c)

	require.Equal(t, http.StatusOK, w.Code)
	var out GenerateResponse
	decodeData(t, decodeResponse(t, w), &out)
	assert.Equal(t, invoicingapp.BatchSummary{Total: 3, Success: 1, Ignored: 1, Error: 1}, out.Summary)
	require.Len(t, out.Results, 3)
	assert.Equal(t, "12340000", out.Results[0].RpsNumber)
}

func TestNFSeHandler_GenerateValidation(t *testing.T) {
	svc := new(mockInvoicingService)
	h := NewNFSeHandler(svc)

	for _, body := range []any{
		map[string]any{"order_ids": []int64{}},
		map[string]any{"order_ids": []int64{5, 0}},
		map[string]any{},
	} {
		c, w := newTestContext(t, http.MethodPost, "/api/v1/nfse/generate", body)
		h.Generate(c)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	}
	svc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestNFSeHandler_GenerateFatal(t *testing.T) {
	svc := new(mockInvoicingService)
	svc.On("Generate", mock.Anything, mock.Anything).Return(nil, shared.AuthenticationError("ERP refresh token rejected", nil))
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/nfse/generate", map[string]any{"order_ids": []int64{1}})
	h.Generate(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, shared.CodeAuthentication, decodeResponse(t, w).Error.Code)
}

func TestNFSeHandler_Submit(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	svc := new(mockInvoicingService)
	svc.On("Submit", mock.Anything, invoicingapp.SubmitRequest{RecordIDs: []uuid.UUID{a, b}}).Return([]invoicingapp.SubmitResult{
		{ID: a, Status: invoicingapp.ItemSuccess, InvoiceNumber: "000123"},
		{ID: b, Status: invoicingapp.ItemProcessing},
	}, nil)
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/nfse/submit", map[string]any{"record_ids": []string{a.String(), b.String()}})
	h.Submit(c)

	require.Equal(t, http.StatusOK, w.Code)
	var out SubmitResponse
	decodeData(t, decodeResponse(t, w), &out)
	assert.Equal(t, invoicingapp.BatchSummary{Total: 2, Success: 1, Processing: 1}, out.Summary)
	assert.Equal(t, "000123", out.Results[0].InvoiceNumber)
}

func TestNFSeHandler_SubmitMalformed(t *testing.T) {
	svc := new(mockInvoicingService)
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/nfse/submit", map[string]any{"record_ids": []string{"not-a-uuid"}})
	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNFSeHandler_SyncAndStats(t *testing.T) {
	svc := new(mockInvoicingService)
	svc.On("Sync", mock.Anything).Return(&invoicingapp.SyncResult{Verified: 4, Updated: 2, Corrected: 1}, nil)
	svc.On("Stats", mock.Anything).Return(invoicing.Stats{Pending: 3, Issued: 5, Total: 8}, nil)
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodPost, "/api/v1/nfse/sync", nil)
	h.Sync(c)
	require.Equal(t, http.StatusOK, w.Code)
	var sync invoicingapp.SyncResult
	decodeData(t, decodeResponse(t, w), &sync)
	assert.Equal(t, invoicingapp.SyncResult{Verified: 4, Updated: 2, Corrected: 1}, sync)

	c, w = newTestContext(t, http.MethodGet, "/api/v1/nfse/stats", nil)
	h.Stats(c)
	require.Equal(t, http.StatusOK, w.Code)
	var stats invoicing.Stats
	decodeData(t, decodeResponse(t, w), &stats)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(8), stats.Total)
}

func TestNFSeHandler_ListQueue(t *testing.T) {
	svc := new(mockInvoicingService)
	svc.On("List", mock.Anything, invoicing.ListFilter{Status: invoicing.StatusPending, Page: 2, PageSize: 10}).Return(&invoicingapp.ListResult{
		Records:  []invoicingapp.RecordResponse{{ID: uuid.New(), OrderID: 7, Status: invoicing.StatusPending, TotalValue: decimal.RequireFromString("99.90")}},
		Total:    11,
		Page:     2,
		PageSize: 10,
	}, nil)
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/nfse/queue?status=pending&page=2&page_size=10", nil)
	h.ListQueue(c)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(11), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.TotalPages)
	var records []invoicingapp.RecordResponse
	decodeData(t, resp, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "99.9", records[0].TotalValue.String())
}

func TestNFSeHandler_ListQueueRejectsUnknownStatus(t *testing.T) {
	svc := new(mockInvoicingService)
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/nfse/queue?status=archived", nil)
	h.ListQueue(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestNFSeHandler_GetRecord(t *testing.T) {
	id := uuid.New()
	svc := new(mockInvoicingService)
	svc.On("Get", mock.Anything, id).Return(&invoicingapp.RecordResponse{ID: id, OrderID: 7, Status: invoicing.StatusIssued, InvoiceNumber: "000555"}, nil)
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/nfse/queue/"+id.String(), nil)
	c.AddParam("id", id.String())
	h.GetRecord(c)

	require.Equal(t, http.StatusOK, w.Code)
	var out invoicingapp.RecordResponse
	decodeData(t, decodeResponse(t, w), &out)
	assert.Equal(t, "000555", out.InvoiceNumber)
}

func TestNFSeHandler_GetRecordErrors(t *testing.T) {
	missing := uuid.New()
	svc := new(mockInvoicingService)
	svc.On("Get", mock.Anything, missing).Return(nil, shared.NotFoundError("rps record not found"))
	h := NewNFSeHandler(svc)

	c, w := newTestContext(t, http.MethodGet, "/api/v1/nfse/queue/bogus", nil)
	c.AddParam("id", "bogus")
	h.GetRecord(c)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	c, w = newTestContext(t, http.MethodGet, "/api/v1/nfse/queue/"+missing.String(), nil)
	c.AddParam("id", missing.String())
	h.GetRecord(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNFSeHandler_PayloadLink(t *testing.T) {
	id := uuid.New()
	svc := new(mockInvoicingService)
	svc.On("Get", mock.Anything, id).Return(&invoicingapp.RecordResponse{ID: id, OrderID: 7}, nil)

	t.Run("returns presigned link", func(t *testing.T) {
		h := NewNFSeHandler(svc, WithPayloadLinker(stubLinker{url: "https://s3.local/nfse/7/emit.json?X-Amz-Signature=abc"}))
		c, w := newTestContext(t, http.MethodGet, "/", nil)
		c.AddParam("id", id.String())
		c.AddParam("step", invoicingapp.StepEmit)
		h.PayloadLink(c)

		require.Equal(t, http.StatusOK, w.Code)
		var out PayloadLinkResponse
		decodeData(t, decodeResponse(t, w), &out)
		assert.Contains(t, out.URL, "nfse/7/emit.json")
	})

	t.Run("rejects unknown step", func(t *testing.T) {
		h := NewNFSeHandler(svc, WithPayloadLinker(stubLinker{}))
		c, w := newTestContext(t, http.MethodGet, "/", nil)
		c.AddParam("id", id.String())
		c.AddParam("step", "cancel")
		h.PayloadLink(c)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("disabled archive is not found", func(t *testing.T) {
		h := NewNFSeHandler(svc, WithPayloadLinker(stubLinker{err: shared.NotFoundError("payload archive is disabled")}))
		c, w := newTestContext(t, http.MethodGet, "/", nil)
		c.AddParam("id", id.String())
		c.AddParam("step", invoicingapp.StepSubmit)
		h.PayloadLink(c)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no linker", func(t *testing.T) {
		h := NewNFSeHandler(svc)
		c, w := newTestContext(t, http.MethodGet, "/", nil)
		c.AddParam("id", id.String())
		c.AddParam("step", invoicingapp.StepEmit)
		h.PayloadLink(c)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
