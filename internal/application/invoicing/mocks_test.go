package invoicing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/shared"
	"github.com/erp/nfse-bridge/internal/infrastructure/scheduler"
)

// ---------------------------------------------------------------------------
// MockERPGateway
// ---------------------------------------------------------------------------

type MockERPGateway struct {
	mock.Mock
}

func (m *MockERPGateway) GetSalesOrder(ctx context.Context, id int64) (*integration.SalesOrder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.SalesOrder), args.Error(1)
}

func (m *MockERPGateway) SearchContacts(ctx context.Context, document string) ([]integration.Contact, error) {
	args := m.Called(ctx, document)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.Contact), args.Error(1)
}

func (m *MockERPGateway) CreateContact(ctx context.Context, contact *integration.Contact) (int64, error) {
	args := m.Called(ctx, contact)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockERPGateway) GetContact(ctx context.Context, id int64) (*integration.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Contact), args.Error(1)
}

func (m *MockERPGateway) GetProduct(ctx context.Context, id int64) (*integration.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Product), args.Error(1)
}

func (m *MockERPGateway) CreateInvoice(ctx context.Context, draft *integration.InvoiceDraft) (*integration.Invoice, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Invoice), args.Error(1)
}

func (m *MockERPGateway) SubmitInvoice(ctx context.Context, id int64) (*integration.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Invoice), args.Error(1)
}

func (m *MockERPGateway) GetInvoice(ctx context.Context, id int64) (*integration.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Invoice), args.Error(1)
}

// ---------------------------------------------------------------------------
// MockCredentialReader
// ---------------------------------------------------------------------------

type MockCredentialReader struct {
	mock.Mock
}

func (m *MockCredentialReader) EnsureValidToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockCredentialReader) Credential(ctx context.Context) (*integration.Credential, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Credential), args.Error(1)
}

// ---------------------------------------------------------------------------
// memoryQueue is an in-memory QueueStore with the same conflict semantics
// ---------------------------------------------------------------------------

type memoryQueue struct {
	mu      sync.Mutex
	records map[uuid.UUID]*invoicing.RpsRecord
	updates int
}

func newMemoryQueue(records ...*invoicing.RpsRecord) *memoryQueue {
	q := &memoryQueue{records: make(map[uuid.UUID]*invoicing.RpsRecord)}
	for _, r := range records {
		q.records[r.ID] = r
	}
	return q
}

func (q *memoryQueue) Insert(ctx context.Context, record *invoicing.RpsRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.records {
		if r.OrderID == record.OrderID {
			return shared.ConflictError("duplicate order")
		}
	}
	cp := *record
	q.records[record.ID] = &cp
	return nil
}

func (q *memoryQueue) Get(ctx context.Context, id uuid.UUID) (*invoicing.RpsRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[id]
	if !ok {
		return nil, shared.NotFoundError("rps record not found")
	}
	cp := *r
	return &cp, nil
}

func (q *memoryQueue) GetByOrderID(ctx context.Context, orderID int64) (*invoicing.RpsRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.records {
		if r.OrderID == orderID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, shared.NotFoundError("rps record not found")
}

func (q *memoryQueue) Update(ctx context.Context, id uuid.UUID, update invoicing.RecordUpdate) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.records[id]
	if !ok {
		return shared.NotFoundError("rps record not found")
	}
	update.Apply(r)
	r.UpdatedAt = time.Now()
	q.updates++
	return nil
}

func (q *memoryQueue) List(ctx context.Context, filter invoicing.ListFilter) ([]invoicing.RpsRecord, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	filter.Normalize()
	var out []invoicing.RpsRecord
	for _, r := range q.records {
		if filter.Status == "" || r.EffectiveStatus() == filter.Status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	total := int64(len(out))
	start := min(filter.Offset(), len(out))
	end := min(start+filter.PageSize, len(out))
	return out[start:end], total, nil
}

func (q *memoryQueue) Stats(ctx context.Context) (invoicing.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s invoicing.Stats
	for _, r := range q.records {
		s.Add(r.EffectiveStatus(), 1)
	}
	return s, nil
}

func (q *memoryQueue) ListReconcilable(ctx context.Context) ([]invoicing.RpsRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []invoicing.RpsRecord
	for _, r := range q.records {
		if r.IsReconcilable() {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (q *memoryQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// ---------------------------------------------------------------------------
// Recorders
// ---------------------------------------------------------------------------

type archiveEntry struct {
	orderID int64
	step    string
	payload any
}

type fakeArchive struct {
	entries []archiveEntry
	err     error
}

func (a *fakeArchive) Store(ctx context.Context, orderID int64, step string, payload any) error {
	a.entries = append(a.entries, archiveEntry{orderID: orderID, step: step, payload: payload})
	return a.err
}

type fakeRecorder struct {
	items map[string]int
}

func (r *fakeRecorder) RecordItem(ctx context.Context, operation, outcome string) {
	if r.items == nil {
		r.items = make(map[string]int)
	}
	r.items[operation+"/"+outcome]++
}

// ---------------------------------------------------------------------------
// Fixture helpers
// ---------------------------------------------------------------------------

func testPollPolicy() scheduler.RetryPolicy {
	return scheduler.RetryPolicy{Attempts: 3, Delay: time.Millisecond, AttemptTimeout: time.Second}
}

func fixedDigits(s string) invoicing.DigitSource {
	return func(n int) string { return s[:n] }
}

func newTestLogger() *zap.Logger {
	return zap.NewNop()
}
