package invoicing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
)

// ServiceLineFilter decides which orders can be invoiced and which of their
// lines are billable services.
type ServiceLineFilter struct {
	erp    integration.ERPGateway
	logger *zap.Logger
}

// NewServiceLineFilter creates a new ServiceLineFilter
func NewServiceLineFilter(erp integration.ERPGateway, logger *zap.Logger) *ServiceLineFilter {
	return &ServiceLineFilter{erp: erp, logger: logger}
}

// IsEligible classifies a whole order. An ineligible order is ignored, never
// an error; reason says why.
func (f *ServiceLineFilter) IsEligible(order *integration.SalesOrder) (bool, string) {
	if order.Situation.IsCancelled() {
		return false, ReasonCancelled
	}
	document := strings.TrimSpace(order.Customer.Document)
	if order.Customer.ContactID == 0 && document == "" {
		return false, ReasonNoCustomer
	}
	if integration.IsConsumerDefault(document) {
		return false, ReasonConsumerDefault
	}
	if !integration.IsValidDocument(document) {
		return false, ReasonInvalidDocument
	}
	return true, ""
}

// BillableLines fetches the product of every line and keeps the services.
// A product lookup failure fails the order.
func (f *ServiceLineFilter) BillableLines(ctx context.Context, order *integration.SalesOrder) ([]integration.ServiceLine, error) {
	products := make(map[int64]*integration.Product)
	var lines []integration.ServiceLine

	for _, item := range order.Items {
		if item.ProductID == 0 {
			continue
		}

		product, ok := products[item.ProductID]
		if !ok {
			var err error
			product, err = f.erp.GetProduct(ctx, item.ProductID)
			if err != nil {
				return nil, fmt.Errorf("failed to read product %d: %w", item.ProductID, err)
			}
			products[item.ProductID] = product
		}

		if !product.IsService() {
			continue
		}
		lines = append(lines, integration.ServiceLine{Item: item, Product: *product})
	}

	f.logger.Debug("Classified order lines",
		zap.Int64("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.Int("billable", len(lines)),
	)
	return lines, nil
}
