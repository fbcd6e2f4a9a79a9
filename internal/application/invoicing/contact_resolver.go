package invoicing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/shared"
)

// ContactResolver finds or creates the ERP contact of an order's customer
type ContactResolver struct {
	erp    integration.ERPGateway
	logger *zap.Logger
}

// NewContactResolver creates a new ContactResolver
func NewContactResolver(erp integration.ERPGateway, logger *zap.Logger) *ContactResolver {
	return &ContactResolver{erp: erp, logger: logger}
}

// Resolve returns the full profile of the order's customer. The search
// endpoint matches loosely, so a candidate is only accepted when its document
// digits equal the searched ones. Without a match a new individual-person
// contact is created from the order.
func (r *ContactResolver) Resolve(ctx context.Context, order *integration.SalesOrder) (*integration.Contact, error) {
	document := integration.NormalizeDocument(order.Customer.Document)
	if !integration.IsValidDocument(document) {
		return nil, shared.ValidationError(fmt.Sprintf("order %d has no usable customer document", order.ID))
	}

	candidates, err := r.erp.SearchContacts(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}

	var contactID int64
	for _, c := range candidates {
		if c.ID != 0 && integration.SameDocument(c.Document, document) {
			contactID = c.ID
			break
		}
	}

	if contactID == 0 {
		contactID, err = r.erp.CreateContact(ctx, newContactFromOrder(order, document))
		if err != nil {
			return nil, fmt.Errorf("failed to create contact: %w", err)
		}
		r.logger.Info("Created ERP contact",
			zap.Int64("order_id", order.ID),
			zap.Int64("contact_id", contactID),
		)
	}

	contact, err := r.erp.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact %d: %w", contactID, err)
	}
	return contact, nil
}

// newContactFromOrder fills the fields the ERP requires on creation
func newContactFromOrder(order *integration.SalesOrder, document string) *integration.Contact {
	name := strings.TrimSpace(order.Customer.Name)
	if name == "" {
		name = "Cliente " + document
	}
	return &integration.Contact{
		Name:           name,
		Document:       document,
		PersonType:     integration.PersonTypeIndividual,
		Email:          strings.TrimSpace(order.Customer.Email),
		Phone:          strings.TrimSpace(order.Customer.Phone),
		Address:        order.Customer.Address,
		BillingAddress: order.Customer.Address,
	}
}
