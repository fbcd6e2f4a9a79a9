package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/invoicing"
)

// EmitterConfig holds the fixed fields of every NFSe
type EmitterConfig struct {
	Series          string
	PaymentMethodID int64
	// ServiceCode overrides the product code on service lines when set
	ServiceCode string
}

// Emission is the result of creating an NFSe
type Emission struct {
	Invoice   *integration.Invoice
	RpsNumber string
	Series    string
	Total     decimal.Decimal
}

// Submission is the result of sending an NFSe to the municipal processor
type Submission struct {
	Invoice *integration.Invoice
	Number  string
	// Settled is true when the processor issued the NFSe, with or without a number yet
	Settled bool
	// Recovered is true when the call failed but the compensating read showed it settled
	Recovered bool
}

// InvoiceEmitter builds RPS payloads, creates the NFSe and submits it
type InvoiceEmitter struct {
	erp     integration.ERPGateway
	archive PayloadArchive
	config  EmitterConfig
	logger  *zap.Logger

	now    func() time.Time
	digits invoicing.DigitSource
}

// NewInvoiceEmitter creates a new InvoiceEmitter. A nil archive disables archiving.
func NewInvoiceEmitter(erp integration.ERPGateway, archive PayloadArchive, config EmitterConfig, logger *zap.Logger) *InvoiceEmitter {
	if archive == nil {
		archive = nopArchive{}
	}
	if config.Series == "" {
		config.Series = invoicing.DefaultSeries
	}
	return &InvoiceEmitter{
		erp:     erp,
		archive: archive,
		config:  config,
		logger:  logger,
		now:     time.Now,
		digits:  invoicing.RandomDigits,
	}
}

// Emit creates the NFSe of an order. It does not submit it.
func (e *InvoiceEmitter) Emit(
	ctx context.Context,
	order *integration.SalesOrder,
	contact *integration.Contact,
	lines []integration.ServiceLine,
	existingRps string,
) (*Emission, error) {
	if len(lines) == 0 {
		return nil, errors.New("invoicing: no service lines to emit")
	}

	draft := e.buildDraft(order, contact, lines, existingRps)

	invoice, err := e.erp.CreateInvoice(ctx, draft)
	e.store(ctx, order.ID, StepEmit, draft, invoice, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create NFSe: %w", err)
	}

	emission := &Emission{
		Invoice:   invoice,
		RpsNumber: firstNonEmpty(invoice.RpsNumber, draft.RpsNumber),
		Series:    firstNonEmpty(invoice.Series, draft.Series),
		Total:     draft.Total,
	}

	e.logger.Info("NFSe created",
		zap.Int64("order_id", order.ID),
		zap.Int64("invoice_id", invoice.ID),
		zap.String("rps_number", emission.RpsNumber),
		zap.String("total", emission.Total.StringFixed(2)),
	)
	return emission, nil
}

func (e *InvoiceEmitter) buildDraft(
	order *integration.SalesOrder,
	contact *integration.Contact,
	lines []integration.ServiceLine,
	existingRps string,
) *integration.InvoiceDraft {
	services := make([]integration.InvoiceService, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		value := line.Value()
		total = total.Add(value)

		code := e.config.ServiceCode
		if code == "" {
			code = line.Product.Code
		}
		description := strings.TrimSpace(line.Item.Description)
		if description == "" {
			description = line.Product.Name
		}
		services = append(services, integration.InvoiceService{
			Code:        code,
			Description: description,
			Value:       value,
		})
	}

	return &integration.InvoiceDraft{
		RpsNumber:       invoicing.NewRpsNumber(order.Number, existingRps, e.digits),
		Series:          e.config.Series,
		IssueDate:       e.now(),
		OrderNumber:     order.Number,
		SellerID:        order.SellerID,
		PaymentMethodID: e.config.PaymentMethodID,
		Contact:         *contact,
		Services:        services,
		Total:           total,
	}
}

// Submit sends the record's NFSe to the municipal processor. An accepted
// submission without a number is not a failure. When the call fails, the
// invoice is read back before the failure is reported: an invoice that turns
// out to be settled counts as submitted.
func (e *InvoiceEmitter) Submit(ctx context.Context, record *invoicing.RpsRecord) (*Submission, error) {
	if !record.HasInvoice() {
		return nil, errors.New("invoicing: record has no NFSe to submit")
	}

	invoice, err := e.erp.SubmitInvoice(ctx, record.InvoiceID)
	e.store(ctx, record.OrderID, StepSubmit, map[string]int64{"invoice_id": record.InvoiceID}, invoice, err)
	if err == nil {
		return &Submission{
			Invoice: invoice,
			Number:  invoice.Number,
			Settled: invoice.IsSettled(),
		}, nil
	}

	e.logger.Warn("NFSe submission failed, checking remote state",
		zap.String("record_id", record.ID.String()),
		zap.Int64("invoice_id", record.InvoiceID),
		zap.Error(err),
	)

	current, lookupErr := e.erp.GetInvoice(ctx, record.InvoiceID)
	if lookupErr != nil {
		e.logger.Warn("Compensating NFSe lookup failed",
			zap.Int64("invoice_id", record.InvoiceID),
			zap.Error(lookupErr),
		)
		return nil, err
	}
	if !current.IsSettled() {
		return nil, err
	}

	e.logger.Info("NFSe already settled despite submission failure",
		zap.String("record_id", record.ID.String()),
		zap.Int64("invoice_id", record.InvoiceID),
		zap.String("invoice_number", current.Number),
	)
	return &Submission{
		Invoice:   current,
		Number:    current.Number,
		Settled:   true,
		Recovered: true,
	}, nil
}

func (e *InvoiceEmitter) store(ctx context.Context, orderID int64, step string, request, response any, callErr error) {
	payload := ArchivedPayload{Request: request}
	if callErr != nil {
		payload.Error = callErr.Error()
	} else {
		payload.Response = response
	}
	if err := e.archive.Store(ctx, orderID, step, payload); err != nil {
		e.logger.Warn("Failed to archive NFSe payload",
			zap.Int64("order_id", orderID),
			zap.String("step", step),
			zap.Error(err),
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
