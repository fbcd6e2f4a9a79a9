package invoicing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/invoicing"
	"github.com/erp/nfse-bridge/internal/infrastructure/scheduler"
)

// StatusReconciler brings non-terminal queue records in line with the ERP
type StatusReconciler struct {
	erp      integration.ERPGateway
	store    invoicing.QueueStore
	throttle *scheduler.Throttle
	poll     scheduler.RetryPolicy
	logger   *zap.Logger
}

// NewStatusReconciler creates a new StatusReconciler. throttle spaces the
// per-record lookups; poll bounds PollUntilSettled.
func NewStatusReconciler(
	erp integration.ERPGateway,
	store invoicing.QueueStore,
	throttle *scheduler.Throttle,
	poll scheduler.RetryPolicy,
	logger *zap.Logger,
) *StatusReconciler {
	return &StatusReconciler{
		erp:      erp,
		store:    store,
		throttle: throttle,
		poll:     poll,
		logger:   logger,
	}
}

type reconcileOutcome int

const (
	outcomeSkipped reconcileOutcome = iota
	outcomeVerified
	outcomeUpdated
	outcomeCorrected
)

// SyncAll visits every pending, processing and issued-without-number record
// that has an NFSe id. Per-record failures are logged and never stop the pass.
func (r *StatusReconciler) SyncAll(ctx context.Context) (*SyncResult, error) {
	records, err := r.store.ListReconcilable(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []invoicing.RpsRecord
	for _, rec := range records {
		if rec.HasInvoice() {
			candidates = append(candidates, rec)
		}
	}

	outcomes := scheduler.RunSequential(ctx, r.throttle, candidates,
		func(ctx context.Context, rec invoicing.RpsRecord) reconcileOutcome {
			return r.reconcile(ctx, &rec)
		},
		func(rec invoicing.RpsRecord, err error) reconcileOutcome {
			return outcomeSkipped
		},
	)

	result := &SyncResult{}
	for _, o := range outcomes {
		switch o {
		case outcomeVerified:
			result.Verified++
		case outcomeUpdated:
			result.Verified++
			result.Updated++
		case outcomeCorrected:
			result.Verified++
			result.Corrected++
		}
	}

	r.logger.Info("NFSe sync finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("verified", result.Verified),
		zap.Int("updated", result.Updated),
		zap.Int("corrected", result.Corrected),
	)
	return result, ctx.Err()
}

func (r *StatusReconciler) reconcile(ctx context.Context, rec *invoicing.RpsRecord) reconcileOutcome {
	log := r.logger.With(
		zap.String("record_id", rec.ID.String()),
		zap.Int64("invoice_id", rec.InvoiceID),
		zap.String("status", rec.Status.String()),
	)

	invoice, err := r.erp.GetInvoice(ctx, rec.InvoiceID)
	if err != nil {
		if !rec.IsIssuedWithoutNumber() {
			log.Warn("NFSe lookup failed", zap.Error(err))
			return outcomeSkipped
		}
		message := fmt.Sprintf("NFSe lookup failed, returned to pending: %v", err)
		if err := r.store.Update(ctx, rec.ID, invoicing.RolledBack(message)); err != nil {
			log.Error("Failed to roll back record", zap.Error(err))
			return outcomeSkipped
		}
		log.Warn("Issued record without number rolled back to pending", zap.Error(err))
		return outcomeUpdated
	}

	update, changed := nextState(rec, invoice)
	if !changed {
		return outcomeVerified
	}
	if err := r.store.Update(ctx, rec.ID, update); err != nil {
		log.Error("Failed to update record", zap.Error(err))
		return outcomeSkipped
	}

	if rec.IsIssuedWithoutNumber() && invoice.Number != "" {
		log.Info("NFSe number recovered", zap.String("invoice_number", invoice.Number))
		return outcomeCorrected
	}
	log.Info("NFSe status updated",
		zap.String("new_status", update.Status.String()),
		zap.String("invoice_number", invoice.Number),
	)
	return outcomeUpdated
}

// nextState maps the remote invoice onto the record. It never moves a record
// backward: a processing record stays processing while the remote side is
// still pending, and an issued record is only ever completed with a number.
func nextState(rec *invoicing.RpsRecord, invoice *integration.Invoice) (invoicing.RecordUpdate, bool) {
	if invoice.Number != "" {
		if rec.Status == invoicing.StatusIssued && rec.InvoiceNumber == invoice.Number {
			return invoicing.RecordUpdate{}, false
		}
		return invoicing.Issued(invoice.Number), true
	}

	switch invoice.Situation.Outcome() {
	case integration.NfseOutcomeIssued:
		if rec.Status == invoicing.StatusIssued {
			return invoicing.RecordUpdate{}, false
		}
		status := invoicing.StatusIssued
		return invoicing.RecordUpdate{Status: &status}, true
	case integration.NfseOutcomeError:
		if rec.Status == invoicing.StatusError {
			return invoicing.RecordUpdate{}, false
		}
		return invoicing.Failed(fmt.Sprintf("NFSe rejected by the municipal processor (situation %d)", invoice.Situation)), true
	default:
		return invoicing.RecordUpdate{}, false
	}
}

// PollUntilSettled reads the invoice until it carries a number. Running out
// of attempts is not an error: settled is false and the record stays pending.
// err is only set when ctx ends.
func (r *StatusReconciler) PollUntilSettled(ctx context.Context, invoiceID int64) (number string, settled bool, err error) {
	result, err := scheduler.Retry(ctx, r.poll, func(ctx context.Context, attempt int) (bool, error) {
		invoice, err := r.erp.GetInvoice(ctx, invoiceID)
		if err != nil {
			return false, err
		}
		if invoice.Number == "" {
			return false, nil
		}
		number = invoice.Number
		return true, nil
	})
	if err != nil {
		return "", false, err
	}
	if !result.Done {
		r.logger.Info("NFSe not settled after polling",
			zap.Int64("invoice_id", invoiceID),
			zap.Int("attempts", result.Attempts),
			zap.NamedError("last_error", result.LastErr),
		)
		return "", false, nil
	}
	return number, true, nil
}
