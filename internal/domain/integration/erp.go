package integration

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// ERP Errors
// ---------------------------------------------------------------------------

var (
	ErrContactNotFound = errors.New("integration: contact not found")
	ErrInvoiceNotFound = errors.New("integration: invoice not found")
	ErrInvalidResponse = errors.New("integration: invalid ERP response")
)

// ProductTypeService marks a product as a billable service.
const ProductTypeService = "S"

// PersonTypeIndividual classifies a contact as an individual person.
const PersonTypeIndividual = "F"

// Address is a postal address as the ERP stores it.
type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	ZipCode    string `json:"zip_code"`
}

// IsZero returns true when no field of the address is set
func (a Address) IsZero() bool {
	return a == Address{}
}

// Contact is a read-only snapshot of an ERP contact. It is never cached.
type Contact struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Document       string  `json:"document"`
	PersonType     string  `json:"person_type"`
	Email          string  `json:"email,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	Address        Address `json:"address"`
	BillingAddress Address `json:"billing_address"`
}

// InvoiceAddress prefers the billing address and falls back to the general one.
func (c *Contact) InvoiceAddress() Address {
	if !c.BillingAddress.IsZero() {
		return c.BillingAddress
	}
	return c.Address
}

// OrderCustomer is the customer reference embedded in a sales order.
type OrderCustomer struct {
	ContactID int64
	Name      string
	Document  string
	Email     string
	Phone     string
	Address   Address
}

// OrderItem is one line of a sales order.
type OrderItem struct {
	ProductID   int64
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
}

// Total returns quantity * unit price minus discount
func (i OrderItem) Total() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice).Sub(i.Discount)
}

// SalesOrder is a read-only ERP sales order.
type SalesOrder struct {
	ID        int64
	Number    string
	Date      time.Time
	Total     decimal.Decimal
	SellerID  int64
	Customer  OrderCustomer
	Situation SalesOrderSituation
	Items     []OrderItem
}

// Product is the subset of an ERP product needed for classification.
type Product struct {
	ID   int64
	Code string
	Name string
	Type string
}

// IsService returns true when the product type marks a billable service
func (p *Product) IsService() bool {
	return p.Type == ProductTypeService
}

// ServiceLine is an order item whose product is a service.
type ServiceLine struct {
	Item    OrderItem
	Product Product
}

// Value returns the billable value of the line
func (l ServiceLine) Value() decimal.Decimal {
	return l.Item.Total()
}

// InvoiceService is one service entry of an NFSe payload.
type InvoiceService struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
}

// InvoiceDraft is the payload used to create an NFSe from an order.
type InvoiceDraft struct {
	RpsNumber       string           `json:"rps_number"`
	Series          string           `json:"series"`
	IssueDate       time.Time        `json:"issue_date"`
	OrderNumber     string           `json:"order_number"`
	SellerID        int64            `json:"seller_id,omitempty"`
	PaymentMethodID int64            `json:"payment_method_id"`
	Contact         Contact          `json:"contact"`
	Services        []InvoiceService `json:"services"`
	Total           decimal.Decimal  `json:"total"`
}

// Invoice is the remote state of an NFSe.
type Invoice struct {
	ID        int64         `json:"id"`
	Number    string        `json:"number,omitempty"`
	RpsNumber string        `json:"rps_number,omitempty"`
	Series    string        `json:"series,omitempty"`
	Situation NfseSituation `json:"situation"`
	Link      string        `json:"link,omitempty"`
}

// IsSettled returns true when the municipal processor assigned a number
func (i *Invoice) IsSettled() bool {
	return i.Number != "" || i.Situation == NfseSituationIssued
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// TokenSource hands out a bearer token that is valid for the next call.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// ERPGateway is the port to the ERP REST API. Implementations apply the
// per-call deadlines and map failures to shared error codes.
type ERPGateway interface {
	GetSalesOrder(ctx context.Context, id int64) (*SalesOrder, error)
	SearchContacts(ctx context.Context, document string) ([]Contact, error)
	CreateContact(ctx context.Context, contact *Contact) (int64, error)
	GetContact(ctx context.Context, id int64) (*Contact, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	CreateInvoice(ctx context.Context, draft *InvoiceDraft) (*Invoice, error)
	SubmitInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
}
