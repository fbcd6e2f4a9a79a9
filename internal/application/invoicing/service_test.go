package invoicing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/shared"
	"github.com/erp/nfse-bridge/internal/infrastructure/scheduler"
)

type serviceFixture struct {
	erp      *MockERPGateway
	creds    *MockCredentialReader
	store    *memoryQueue
	recorder *fakeRecorder
	service  *Service
}

func newServiceFixture(cfg ServiceConfig, records ...*invoicing.RpsRecord) *serviceFixture {
	erp := new(MockERPGateway)
	creds := new(MockCredentialReader)
	store := newMemoryQueue(records...)
	recorder := &fakeRecorder{}
	logger := newTestLogger()

	emitter := NewInvoiceEmitter(erp, nil, EmitterConfig{PaymentMethodID: 777}, logger)
	emitter.digits = fixedDigits("00000000")
	throttle := scheduler.NewThrottle(0)

	service := NewService(
		erp,
		store,
		creds,
		NewServiceLineFilter(erp, logger),
		NewContactResolver(erp, logger),
		emitter,
		NewStatusReconciler(erp, store, throttle, testPollPolicy(), logger),
		throttle,
		cfg,
		logger,
		WithBatchRecorder(recorder),
	)
	return &serviceFixture{erp: erp, creds: creds, store: store, recorder: recorder, service: service}
}

func (f *serviceFixture) authorized(cursor int64) {
	f.creds.On("EnsureValidToken", mock.Anything).Return("token", nil)
	f.creds.On("Credential", mock.Anything).Return(&integration.Credential{InitialOrderNumber: cursor}, nil)
}

// expectHappyOrder wires the ERP calls of an eligible order
func (f *serviceFixture) expectHappyOrder(order *integration.SalesOrder, invoiceID int64) {
	f.erp.On("GetSalesOrder", mock.Anything, order.ID).Return(order, nil)
	expectProducts(f.erp)
	f.erp.On("SearchContacts", mock.Anything, "12345678909").Return([]integration.Contact{{ID: 11, Document: "12345678909"}}, nil)
	f.erp.On("GetContact", mock.Anything, int64(11)).Return(&integration.Contact{ID: 11, Name: "Maria Souza", Document: "12345678909"}, nil)
	f.erp.On("CreateInvoice", mock.Anything, mock.Anything).Return(&integration.Invoice{ID: invoiceID}, nil)
}

func TestService_GenerateInsertsPendingRecord(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(0)
	f.expectHappyOrder(newOrder(1234, "1234"), 5001)

	results, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1234}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, ItemSuccess, r.Status)
	assert.Equal(t, "1234", r.OrderNumber)
	assert.Equal(t, "12340000", r.RpsNumber)
	assert.Equal(t, int64(5001), r.InvoiceID)
	require.NotNil(t, r.RecordID)

	rec, err := f.store.GetByOrderID(context.Background(), 1234)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusPending, rec.Status)
	assert.Equal(t, "Maria Souza", rec.CustomerName)
	assert.Equal(t, "250.00", rec.TotalValue.StringFixed(2))
	assert.Equal(t, 1, f.recorder.items["generate/success"])
}

func TestService_GenerateIsIdempotent(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(0)
	f.expectHappyOrder(newOrder(1234, "1234"), 5001)

	first, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1234}})
	require.NoError(t, err)
	second, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1234}})
	require.NoError(t, err)

	assert.Equal(t, ItemSuccess, first[0].Status)
	assert.Equal(t, ItemIgnored, second[0].Status)
	assert.Equal(t, ReasonAlreadyExists, second[0].Message)
	assert.Equal(t, first[0].RecordID, second[0].RecordID)
	assert.Equal(t, 1, f.store.count())
	f.erp.AssertNumberOfCalls(t, "CreateInvoice", 1)
}

func TestService_GenerateIgnoresIneligibleOrders(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(0)

	cancelled := newOrder(1, "1")
	cancelled.Situation = integration.SalesOrderSituationCancelled
	consumer := newOrder(2, "2")
	consumer.Customer.Document = "000"
	noServices := newOrder(3, "3")
	noServices.Items = noServices.Items[1:2]

	f.erp.On("GetSalesOrder", mock.Anything, int64(1)).Return(cancelled, nil)
	f.erp.On("GetSalesOrder", mock.Anything, int64(2)).Return(consumer, nil)
	f.erp.On("GetSalesOrder", mock.Anything, int64(3)).Return(noServices, nil)
	expectProducts(f.erp)

	results, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, ItemIgnored, results[0].Status)
	assert.Equal(t, ReasonCancelled, results[0].Message)
	assert.Equal(t, ItemIgnored, results[1].Status)
	assert.Equal(t, ReasonConsumerDefault, results[1].Message)
	assert.Equal(t, ItemIgnored, results[2].Status)
	assert.Equal(t, ReasonNoBillableServices, results[2].Message)
	assert.Equal(t, 0, f.store.count())
	f.erp.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
}

func TestService_GenerateIgnoresMalformedDocument(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(0)

	order := newOrder(7, "7")
	order.Customer.Document = "123456789012"
	f.erp.On("GetSalesOrder", mock.Anything, int64(7)).Return(order, nil)

	results, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{7}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, ItemIgnored, results[0].Status)
	assert.Equal(t, ReasonInvalidDocument, results[0].Message)
	assert.Equal(t, 0, f.store.count())
	f.erp.AssertNotCalled(t, "SearchContacts", mock.Anything, mock.Anything)
	f.erp.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
}

func TestService_GenerateHonorsInitialOrderNumber(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(1000)
	f.erp.On("GetSalesOrder", mock.Anything, int64(1)).Return(newOrder(1, "999"), nil)

	results, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1}})
	require.NoError(t, err)
	assert.Equal(t, ItemIgnored, results[0].Status)
	assert.Equal(t, ReasonBeforeCursor, results[0].Message)
}

func TestService_GenerateItemErrorsDoNotStopBatch(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(0)
	f.erp.On("GetSalesOrder", mock.Anything, int64(1)).Return(nil, shared.TimeoutError("get_sales_order", context.DeadlineExceeded))
	f.expectHappyOrder(newOrder(2, "2"), 6002)

	results, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1, 2}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ItemError, results[0].Status)
	assert.NotEmpty(t, results[0].Message)
	assert.Equal(t, ItemSuccess, results[1].Status)

	summary := SummarizeGenerate(results)
	assert.Equal(t, BatchSummary{Total: 2, Success: 1, Error: 1}, summary)
}

func TestService_GenerateAuthenticationFailureIsFatal(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.creds.On("EnsureValidToken", mock.Anything).Return("", shared.AuthenticationError("not authorized", nil))

	_, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1}})
	assert.ErrorIs(t, err, shared.ErrAuthentication)
	f.erp.AssertNotCalled(t, "GetSalesOrder", mock.Anything, mock.Anything)
}

func TestService_GenerateFatalMidBatchAborts(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(0)
	f.erp.On("GetSalesOrder", mock.Anything, int64(1)).Return(nil, shared.AuthenticationError("refresh failed", nil))

	_, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1, 2}})
	assert.ErrorIs(t, err, shared.ErrAuthentication)
	f.erp.AssertNotCalled(t, "GetSalesOrder", mock.Anything, int64(2))
}

func TestService_GenerateRevokedRefreshTokenAborts(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.authorized(0)
	revoked := shared.AuthenticationError("ERP rejected the refresh token",
		shared.NewRemoteAPIError("refresh_token", 400, `{"error":"invalid_grant"}`))
	f.erp.On("GetSalesOrder", mock.Anything, int64(1)).Return(nil, fmt.Errorf("erp: %w", revoked))

	_, err := f.service.Generate(context.Background(), GenerateRequest{OrderIDs: []int64{1, 2, 3}})
	assert.ErrorIs(t, err, shared.ErrAuthentication)
	f.erp.AssertNumberOfCalls(t, "GetSalesOrder", 1)
}

func TestService_GenerateValidation(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	_, err := f.service.Generate(context.Background(), GenerateRequest{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestService_SubmitTimeoutThenSettledIsSuccess(t *testing.T) {
	rec := queued(1234, 5001, invoicing.StatusPending, "")
	f := newServiceFixture(ServiceConfig{}, rec)
	f.authorized(0)
	f.erp.On("SubmitInvoice", mock.Anything, int64(5001)).Return(nil, shared.TimeoutError("submit_invoice", context.DeadlineExceeded))
	f.erp.On("GetInvoice", mock.Anything, int64(5001)).Return(&integration.Invoice{ID: 5001, Number: "000123", Situation: integration.NfseSituationIssued}, nil)

	results, err := f.service.Submit(context.Background(), SubmitRequest{RecordIDs: []uuid.UUID{rec.ID}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ItemSuccess, results[0].Status)
	assert.Equal(t, "000123", results[0].InvoiceNumber)

	got, _ := f.store.Get(context.Background(), rec.ID)
	assert.Equal(t, invoicing.StatusIssued, got.Status)
	assert.Equal(t, "000123", got.InvoiceNumber)
}

func TestService_SubmitAcceptedIsProcessing(t *testing.T) {
	rec := queued(1, 5001, invoicing.StatusPending, "")
	f := newServiceFixture(ServiceConfig{PollAfterSubmit: false}, rec)
	f.authorized(0)
	f.erp.On("SubmitInvoice", mock.Anything, int64(5001)).Return(&integration.Invoice{ID: 5001, Situation: integration.NfseSituationAwaitingProtocol}, nil)

	results, err := f.service.Submit(context.Background(), SubmitRequest{RecordIDs: []uuid.UUID{rec.ID}})
	require.NoError(t, err)
	assert.Equal(t, ItemProcessing, results[0].Status)

	got, _ := f.store.Get(context.Background(), rec.ID)
	assert.Equal(t, invoicing.StatusProcessing, got.Status)
	f.erp.AssertNotCalled(t, "GetInvoice", mock.Anything, mock.Anything)
}

func TestService_SubmitPollsForNumber(t *testing.T) {
	rec := queued(1, 5001, invoicing.StatusPending, "")
	f := newServiceFixture(ServiceConfig{PollAfterSubmit: true}, rec)
	f.authorized(0)
	f.erp.On("SubmitInvoice", mock.Anything, int64(5001)).Return(&integration.Invoice{ID: 5001}, nil)
	f.erp.On("GetInvoice", mock.Anything, int64(5001)).Return(&integration.Invoice{ID: 5001}, nil).Once()
	f.erp.On("GetInvoice", mock.Anything, int64(5001)).Return(&integration.Invoice{ID: 5001, Number: "000555"}, nil).Once()

	results, err := f.service.Submit(context.Background(), SubmitRequest{RecordIDs: []uuid.UUID{rec.ID}})
	require.NoError(t, err)
	assert.Equal(t, ItemSuccess, results[0].Status)
	assert.Equal(t, "000555", results[0].InvoiceNumber)
}

func TestService_SubmitFailureMarksError(t *testing.T) {
	rec := queued(1, 5001, invoicing.StatusPending, "")
	f := newServiceFixture(ServiceConfig{}, rec)
	f.authorized(0)
	f.erp.On("SubmitInvoice", mock.Anything, int64(5001)).Return(nil, shared.NewRemoteAPIError("submit_invoice", 422, "invalid service code"))
	f.erp.On("GetInvoice", mock.Anything, int64(5001)).Return(&integration.Invoice{ID: 5001}, nil)

	missing := uuid.New()
	results, err := f.service.Submit(context.Background(), SubmitRequest{RecordIDs: []uuid.UUID{rec.ID, missing}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ItemError, results[0].Status)
	assert.Contains(t, results[0].Message, "422")
	assert.Equal(t, ItemError, results[1].Status)

	got, _ := f.store.Get(context.Background(), rec.ID)
	assert.Equal(t, invoicing.StatusError, got.Status)
	assert.Equal(t, 2, f.recorder.items["submit/error"])
}

func TestService_SubmitAlreadyIssued(t *testing.T) {
	rec := queued(1, 5001, invoicing.StatusIssued, "000900")
	f := newServiceFixture(ServiceConfig{}, rec)
	f.authorized(0)

	results, err := f.service.Submit(context.Background(), SubmitRequest{RecordIDs: []uuid.UUID{rec.ID}})
	require.NoError(t, err)
	assert.Equal(t, ItemSuccess, results[0].Status)
	assert.Equal(t, "000900", results[0].InvoiceNumber)
	f.erp.AssertNotCalled(t, "SubmitInvoice", mock.Anything, mock.Anything)
}

func TestService_SyncAndQueries(t *testing.T) {
	pending := queued(1, 501, invoicing.StatusPending, "")
	unnumbered := queued(2, 502, invoicing.StatusIssued, "")
	f := newServiceFixture(ServiceConfig{}, pending, unnumbered)
	f.authorized(0)
	f.erp.On("GetInvoice", mock.Anything, int64(501)).Return(&integration.Invoice{ID: 501, Number: "000456", Situation: integration.NfseSituationIssued}, nil)
	f.erp.On("GetInvoice", mock.Anything, int64(502)).Return(&integration.Invoice{ID: 502, Situation: integration.NfseSituationIssued}, nil)

	stats, err := f.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)

	result, err := f.service.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Verified: 2, Updated: 1}, *result)

	page, err := f.service.List(context.Background(), invoicing.ListFilter{Status: invoicing.StatusIssued})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "000456", page.Records[0].InvoiceNumber)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, invoicing.DefaultPageSize, page.PageSize)

	view, err := f.service.Get(context.Background(), unnumbered.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusPending, view.Status)

	_, err = f.service.List(context.Background(), invoicing.ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	assert.Equal(t, 1, f.recorder.items["sync/completed"])
}

func TestService_RunSyncPropagatesAuthFailure(t *testing.T) {
	f := newServiceFixture(ServiceConfig{})
	f.creds.On("EnsureValidToken", mock.Anything).Return("", shared.ConfigurationError("missing client"))

	err := f.service.RunSync(context.Background())
	assert.True(t, errors.Is(err, shared.ErrConfiguration))
}
