package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/invoicing"
	"github.com/erp/nfse-bridge/internal/domain/shared"
	"github.com/erp/nfse-bridge/internal/infrastructure/scheduler"
)

// Batch operation names used for metrics
const (
	OpGenerate = "generate"
	OpSubmit   = "submit"
	OpSync     = "sync"
)

// ServiceConfig holds batch behavior
type ServiceConfig struct {
	// PollAfterSubmit waits for a number after an accepted submission
	PollAfterSubmit bool
}

// Service is the entry point of the three batch flows: generate, submit and sync
type Service struct {
	erp        integration.ERPGateway
	store      invoicing.QueueStore
	credential CredentialReader
	filter     *ServiceLineFilter
	resolver   *ContactResolver
	emitter    *InvoiceEmitter
	reconciler *StatusReconciler
	throttle   *scheduler.Throttle
	config     ServiceConfig
	recorders  []BatchRecorder
	logger     *zap.Logger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithBatchRecorder records every batch item outcome. It may be given more than once.
func WithBatchRecorder(r BatchRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorders = append(s.recorders, r)
		}
	}
}

// NewService creates a new invoicing Service
func NewService(
	erp integration.ERPGateway,
	store invoicing.QueueStore,
	credential CredentialReader,
	filter *ServiceLineFilter,
	resolver *ContactResolver,
	emitter *InvoiceEmitter,
	reconciler *StatusReconciler,
	throttle *scheduler.Throttle,
	config ServiceConfig,
	logger *zap.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		erp:        erp,
		store:      store,
		credential: credential,
		filter:     filter,
		resolver:   resolver,
		emitter:    emitter,
		reconciler: reconciler,
		throttle:   throttle,
		config:     config,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) record(ctx context.Context, operation, outcome string) {
	for _, r := range s.recorders {
		r.RecordItem(ctx, operation, outcome)
	}
}

// isFatal reports errors that end the whole request instead of one item
func isFatal(err error) bool {
	return errors.Is(err, shared.ErrConfiguration) ||
		errors.Is(err, shared.ErrAuthentication) ||
		errors.Is(err, shared.ErrCsrf)
}

// fatalGuard stops a batch on the first request-level failure
type fatalGuard struct {
	cancel context.CancelFunc
	err    error
}

func (g *fatalGuard) check(err error) bool {
	if err != nil && isFatal(err) {
		if g.err == nil {
			g.err = err
			g.cancel()
		}
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

// Generate emits one RPS per order, strictly one order at a time. Per-order
// failures become result entries; only configuration and authentication
// failures abort the request.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) ([]GenerateResult, error) {
	if len(req.OrderIDs) == 0 {
		return nil, shared.ValidationError("order_ids must not be empty")
	}
	if _, err := s.credential.EnsureValidToken(ctx); err != nil {
		return nil, err
	}

	cursor, err := s.initialOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	guard := &fatalGuard{cancel: cancel}

	results := scheduler.RunSequential(batchCtx, s.throttle, req.OrderIDs,
		func(ctx context.Context, orderID int64) GenerateResult {
			result, err := s.generateOne(ctx, orderID, req.RpsNumbers[orderID], cursor)
			if err != nil {
				if guard.check(err) {
					return result
				}
				result.Status = ItemError
				result.Message = err.Error()
				s.logger.Warn("NFSe generation failed",
					zap.Int64("order_id", orderID),
					zap.String("code", shared.ErrorCode(err)),
					zap.Error(err),
				)
			}
			s.record(ctx, OpGenerate, string(result.Status))
			return result
		},
		func(orderID int64, err error) GenerateResult {
			return GenerateResult{OrderID: orderID, Status: ItemError, Message: fmt.Sprintf("not processed: %v", err)}
		},
	)
	if guard.err != nil {
		return nil, guard.err
	}
	return results, nil
}

func (s *Service) generateOne(ctx context.Context, orderID int64, existingRps string, cursor int64) (GenerateResult, error) {
	result := GenerateResult{OrderID: orderID}

	if existing, err := s.store.GetByOrderID(ctx, orderID); err == nil {
		return s.alreadyExists(result, existing), nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return result, err
	}

	order, err := s.erp.GetSalesOrder(ctx, orderID)
	if err != nil {
		return result, err
	}
	result.OrderNumber = order.Number

	if ok, reason := s.filter.IsEligible(order); !ok {
		return ignored(result, reason), nil
	}
	if cursor > 0 {
		if n, err := strconv.ParseInt(order.Number, 10, 64); err == nil && n < cursor {
			return ignored(result, ReasonBeforeCursor), nil
		}
	}

	lines, err := s.filter.BillableLines(ctx, order)
	if err != nil {
		return result, err
	}
	if len(lines) == 0 {
		return ignored(result, ReasonNoBillableServices), nil
	}

	contact, err := s.resolver.Resolve(ctx, order)
	if err != nil {
		return result, err
	}

	emission, err := s.emitter.Emit(ctx, order, contact, lines, existingRps)
	if err != nil {
		return result, err
	}
	result.RpsNumber = emission.RpsNumber
	result.InvoiceID = emission.Invoice.ID

	record := invoicing.NewRpsRecord(order.ID, order.Number, emission.RpsNumber, emission.Series)
	record.InvoiceID = emission.Invoice.ID
	record.TotalValue = emission.Total
	record.CustomerName = contact.Name
	if emission.Invoice.Number != "" {
		record.Status = invoicing.StatusIssued
		record.InvoiceNumber = emission.Invoice.Number
	}

	if err := s.store.Insert(ctx, record); err != nil {
		if errors.Is(err, shared.ErrConflict) {
			s.logger.Warn("Order got an RPS concurrently, NFSe left unqueued",
				zap.Int64("order_id", orderID),
				zap.Int64("invoice_id", emission.Invoice.ID),
			)
			return ignored(result, ReasonAlreadyExists), nil
		}
		return result, err
	}

	s.logger.Info("RPS queued",
		zap.Int64("order_id", orderID),
		zap.String("record_id", record.ID.String()),
		zap.String("rps_number", record.RpsNumber),
		zap.Int64("invoice_id", record.InvoiceID),
	)
	id := record.ID
	result.RecordID = &id
	result.Status = ItemSuccess
	return result, nil
}

func (s *Service) alreadyExists(result GenerateResult, existing *invoicing.RpsRecord) GenerateResult {
	id := existing.ID
	result.OrderNumber = existing.OrderNumber
	result.RpsNumber = existing.RpsNumber
	result.InvoiceID = existing.InvoiceID
	result.RecordID = &id
	return ignored(result, ReasonAlreadyExists)
}

func ignored(result GenerateResult, reason string) GenerateResult {
	result.Status = ItemIgnored
	result.Message = reason
	return result
}

func (s *Service) initialOrderNumber(ctx context.Context) (int64, error) {
	cred, err := s.credential.Credential(ctx)
	if err != nil {
		return 0, err
	}
	if cred == nil {
		return 0, nil
	}
	return cred.InitialOrderNumber, nil
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

// Submit sends queued records to the municipal processor one at a time
func (s *Service) Submit(ctx context.Context, req SubmitRequest) ([]SubmitResult, error) {
	if len(req.RecordIDs) == 0 {
		return nil, shared.ValidationError("record_ids must not be empty")
	}
	if _, err := s.credential.EnsureValidToken(ctx); err != nil {
		return nil, err
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	guard := &fatalGuard{cancel: cancel}

	results := scheduler.RunSequential(batchCtx, s.throttle, req.RecordIDs,
		func(ctx context.Context, id uuid.UUID) SubmitResult {
			result, err := s.submitOne(ctx, id)
			if err != nil {
				if guard.check(err) {
					return result
				}
				result.Status = ItemError
				result.Message = err.Error()
			}
			s.record(ctx, OpSubmit, string(result.Status))
			return result
		},
		func(id uuid.UUID, err error) SubmitResult {
			return SubmitResult{ID: id, Status: ItemError, Message: fmt.Sprintf("not processed: %v", err)}
		},
	)
	if guard.err != nil {
		return nil, guard.err
	}
	return results, nil
}

func (s *Service) submitOne(ctx context.Context, id uuid.UUID) (SubmitResult, error) {
	result := SubmitResult{ID: id}

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return result, err
	}
	if record.Status == invoicing.StatusIssued && record.HasNumber() {
		result.Status = ItemSuccess
		result.InvoiceNumber = record.InvoiceNumber
		result.Message = "already issued"
		return result, nil
	}
	if !record.CanSubmit() {
		return result, shared.ValidationError(fmt.Sprintf("record in status %s cannot be submitted", record.EffectiveStatus()))
	}

	log := s.logger.With(
		zap.String("record_id", id.String()),
		zap.Int64("invoice_id", record.InvoiceID),
	)

	submission, err := s.emitter.Submit(ctx, record)
	if err != nil {
		if isFatal(err) {
			return result, err
		}
		if updErr := s.store.Update(ctx, id, invoicing.Failed(err.Error())); updErr != nil {
			log.Error("Failed to record submission error", zap.Error(updErr))
		}
		log.Warn("NFSe submission failed", zap.String("code", shared.ErrorCode(err)), zap.Error(err))
		return result, err
	}

	number := submission.Number
	if number == "" && !submission.Settled && s.config.PollAfterSubmit {
		polled, ok, err := s.reconciler.PollUntilSettled(ctx, record.InvoiceID)
		if err != nil {
			return result, err
		}
		if ok {
			number = polled
		}
	}

	var update invoicing.RecordUpdate
	switch {
	case number != "":
		update = invoicing.Issued(number)
		result.Status = ItemSuccess
		result.InvoiceNumber = number
	case submission.Settled:
		// issued without a number; sync completes it later
		status := invoicing.StatusIssued
		empty := ""
		update = invoicing.RecordUpdate{Status: &status, ErrorMessage: &empty}
		result.Status = ItemSuccess
		result.Message = "issued, number pending"
	default:
		update = invoicing.Processing()
		result.Status = ItemProcessing
		result.Message = "accepted, awaiting municipal number"
	}

	if err := s.store.Update(ctx, id, update); err != nil {
		return result, err
	}
	if submission.Recovered {
		result.Message = "submission failed but the NFSe was already settled"
	}

	log.Info("NFSe submitted",
		zap.String("status", string(result.Status)),
		zap.String("invoice_number", number),
		zap.Bool("recovered", submission.Recovered),
	)
	return result, nil
}

// ---------------------------------------------------------------------------
// Sync and queries
// ---------------------------------------------------------------------------

// Sync runs one reconciliation pass
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	if _, err := s.credential.EnsureValidToken(ctx); err != nil {
		return nil, err
	}
	result, err := s.reconciler.SyncAll(ctx)
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	s.record(ctx, OpSync, outcome)
	return result, err
}

// RunSync runs a reconciliation pass for the periodic trigger
func (s *Service) RunSync(ctx context.Context) error {
	_, err := s.Sync(ctx)
	return err
}

// Stats counts queue records by effective status
func (s *Service) Stats(ctx context.Context) (invoicing.Stats, error) {
	return s.store.Stats(ctx)
}

// List returns one page of the queue
func (s *Service) List(ctx context.Context, filter invoicing.ListFilter) (*ListResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, shared.ValidationError(fmt.Sprintf("unknown status %q", filter.Status))
	}
	filter.Normalize()

	records, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Records:  ToRecordResponses(records),
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// Get returns one record
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*RecordResponse, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToRecordResponse(record)
	return &resp, nil
}

// Ensure Service can drive the periodic sync
var _ scheduler.SyncRunner = (*Service)(nil)
