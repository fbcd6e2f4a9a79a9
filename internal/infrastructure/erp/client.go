package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/shared"
)

const tracerName = "github.com/erp/nfse-bridge/internal/infrastructure/erp"

// CallRecorder receives the latency of every ERP call
type CallRecorder interface {
	RecordCall(ctx context.Context, operation string, elapsed time.Duration, failed bool)
}

// Client implements integration.ERPGateway against the Bling v3 REST API.
// Every call gets its own deadline and a bearer token from the TokenSource.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	tokens     integration.TokenSource
	recorder   CallRecorder
	tracer     trace.Tracer
	logger     *zap.Logger
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithCallRecorder records call latencies
func WithCallRecorder(r CallRecorder) ClientOption {
	return func(c *Client) { c.recorder = r }
}

// NewClient creates a new ERP client
func NewClient(config ClientConfig, tokens integration.TokenSource, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:     config,
		httpClient: &http.Client{},
		tokens:     tokens,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ensure Client implements ERPGateway
var _ integration.ERPGateway = (*Client)(nil)

// ---------------------------------------------------------------------------
// Orders, contacts and products
// ---------------------------------------------------------------------------

// GetSalesOrder fetches a sales order with its items
func (c *Client) GetSalesOrder(ctx context.Context, id int64) (*integration.SalesOrder, error) {
	var resp dataEnvelope[orderResponse]
	if err := c.do(ctx, call{op: "get_sales_order", method: http.MethodGet, path: "/pedidos/vendas/" + formatID(id)}, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == 0 {
		return nil, fmt.Errorf("%w: sales order %d has no id", integration.ErrInvalidResponse, id)
	}
	return resp.Data.toDomain(), nil
}

// SearchContacts lists the contacts registered under a tax document
func (c *Client) SearchContacts(ctx context.Context, document string) ([]integration.Contact, error) {
	query := url.Values{}
	query.Set("numeroDocumento", integration.NormalizeDocument(document))

	var resp dataEnvelope[[]contactBody]
	if err := c.do(ctx, call{op: "search_contacts", method: http.MethodGet, path: "/contatos", query: query}, &resp); err != nil {
		return nil, err
	}
	contacts := make([]integration.Contact, 0, len(resp.Data))
	for i := range resp.Data {
		contacts = append(contacts, resp.Data[i].toDomain())
	}
	return contacts, nil
}

// CreateContact registers a new contact and returns its id
func (c *Client) CreateContact(ctx context.Context, contact *integration.Contact) (int64, error) {
	var resp dataEnvelope[idRef]
	body := contactFromDomain(contact)
	if err := c.do(ctx, call{op: "create_contact", method: http.MethodPost, path: "/contatos", body: body}, &resp); err != nil {
		return 0, err
	}
	if resp.Data.ID == 0 {
		return 0, fmt.Errorf("%w: created contact has no id", integration.ErrInvalidResponse)
	}
	return resp.Data.ID, nil
}

// GetContact reads the full profile of a contact
func (c *Client) GetContact(ctx context.Context, id int64) (*integration.Contact, error) {
	var resp dataEnvelope[contactBody]
	err := c.do(ctx, call{op: "get_contact", method: http.MethodGet, path: "/contatos/" + formatID(id)}, &resp)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %w", integration.ErrContactNotFound, err)
		}
		return nil, err
	}
	if resp.Data.ID == 0 {
		return nil, fmt.Errorf("%w: contact %d", integration.ErrContactNotFound, id)
	}
	contact := resp.Data.toDomain()
	return &contact, nil
}

// GetProduct reads a product for service classification
func (c *Client) GetProduct(ctx context.Context, id int64) (*integration.Product, error) {
	var resp dataEnvelope[productResponse]
	if err := c.do(ctx, call{op: "get_product", method: http.MethodGet, path: "/produtos/" + formatID(id)}, &resp); err != nil {
		return nil, err
	}
	return &integration.Product{
		ID:   resp.Data.ID,
		Code: resp.Data.Codigo,
		Name: resp.Data.Nome,
		Type: resp.Data.Tipo,
	}, nil
}

// ---------------------------------------------------------------------------
// NFSe
// ---------------------------------------------------------------------------

// CreateInvoice creates an NFSe from the draft under the emit deadline
func (c *Client) CreateInvoice(ctx context.Context, draft *integration.InvoiceDraft) (*integration.Invoice, error) {
	var resp dataEnvelope[nfseResponse]
	req := nfseRequestFromDraft(draft)
	err := c.do(ctx, call{op: "create_invoice", method: http.MethodPost, path: "/nfse", body: req, timeout: c.config.EmitTimeout}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data.ID == 0 {
		return nil, fmt.Errorf("%w: created NFSe has no id", integration.ErrInvalidResponse)
	}
	invoice := resp.Data.toDomain()
	if invoice.RpsNumber == "" {
		invoice.RpsNumber = draft.RpsNumber
	}
	if invoice.Series == "" {
		invoice.Series = draft.Series
	}
	return invoice, nil
}

// SubmitInvoice sends an NFSe to the municipal processor under the submit deadline
func (c *Client) SubmitInvoice(ctx context.Context, id int64) (*integration.Invoice, error) {
	var resp dataEnvelope[nfseResponse]
	err := c.do(ctx, call{op: "submit_invoice", method: http.MethodPost, path: "/nfse/" + formatID(id) + "/enviar", timeout: c.config.SubmitTimeout}, &resp)
	if err != nil {
		return nil, err
	}
	invoice := resp.Data.toDomain()
	if invoice.ID == 0 {
		invoice.ID = id
	}
	return invoice, nil
}

// GetInvoice reads the current state of an NFSe
func (c *Client) GetInvoice(ctx context.Context, id int64) (*integration.Invoice, error) {
	var resp dataEnvelope[nfseResponse]
	err := c.do(ctx, call{op: "get_invoice", method: http.MethodGet, path: "/nfse/" + formatID(id)}, &resp)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %w", integration.ErrInvoiceNotFound, err)
		}
		return nil, err
	}
	invoice := resp.Data.toDomain()
	if invoice.ID == 0 {
		invoice.ID = id
	}
	return invoice, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

type call struct {
	op      string
	method  string
	path    string
	query   url.Values
	body    any
	timeout time.Duration
}

// do performs one traced, timed call and decodes the response into out
func (c *Client) do(ctx context.Context, cl call, out any) error {
	ctx, span := c.tracer.Start(ctx, "erp."+cl.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", cl.method),
			attribute.String("erp.path", cl.path),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.send(ctx, cl, out)
	elapsed := time.Since(start)
	if c.recorder != nil {
		c.recorder.RecordCall(ctx, cl.op, elapsed, err != nil)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("ERP call failed",
			zap.String("operation", cl.op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (c *Client) send(ctx context.Context, cl call, out any) error {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return err
	}

	timeout := cl.timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("erp: failed to encode %s request: %w", cl.op, err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.config.BaseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(callCtx, cl.method, target, reader)
	if err != nil {
		return fmt.Errorf("erp: failed to create %s request: %w", cl.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, callCtx, cl.op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportError(ctx, callCtx, cl.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return shared.NewRemoteAPIError(cl.op, resp.StatusCode, truncate(body, maxErrorBodySize))
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", integration.ErrInvalidResponse, cl.op, err)
	}
	return nil
}

// transportError separates our own deadline from the caller's cancellation
// and from plain network failures.
func transportError(parent, callCtx context.Context, op string, err error) error {
	if parentErr := parent.Err(); parentErr != nil && !errors.Is(parentErr, context.DeadlineExceeded) {
		return fmt.Errorf("erp: %s: %w", op, parentErr)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || isNetTimeout(err) {
		return shared.TimeoutError(op, err)
	}
	return shared.WrapDomainError(shared.CodeRemoteAPI, op+" request failed", err)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isStatus(err error, status int) bool {
	var remote *shared.RemoteAPIError
	return errors.As(err, &remote) && remote.StatusCode == status
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
