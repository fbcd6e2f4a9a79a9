package erp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type staticToken struct {
	token string
	err   error
}

func (s staticToken) EnsureValidToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

type recordedCall struct {
	op     string
	failed bool
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) RecordCall(ctx context.Context, operation string, elapsed time.Duration, failed bool) {
	f.calls = append(f.calls, recordedCall{op: operation, failed: failed})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg ClientConfig, opts ...ClientOption) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL
	client, err := NewClient(cfg, staticToken{token: "tok-123"}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return client
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestClientConfig_Validate(t *testing.T) {
	cfg := ClientConfig{BaseURL: "https://erp.example/api/"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://erp.example/api", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 45*time.Second, cfg.EmitTimeout)
	assert.Equal(t, 120*time.Second, cfg.SubmitTimeout)

	empty := ClientConfig{}
	assert.ErrorIs(t, empty.Validate(), ErrConfigMissingBaseURL)
}

// ---------------------------------------------------------------------------
// Client Tests
// ---------------------------------------------------------------------------

func TestClient_GetSalesOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pedidos/vendas/42", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":{
			"id": 42, "numero": 4217, "data": "2026-03-01", "total": 150.50,
			"contato": {"id": 7, "nome": "Maria", "numeroDocumento": "123.456.789-01"},
			"situacao": {"id": 99, "valor": 9},
			"vendedor": {"id": 3},
			"itens": [{"codigo": "SVC-1", "descricao": "Consulting", "quantidade": 2, "valor": 75.25, "produto": {"id": 11}}]
		}}`)
	}, ClientConfig{})

	order, err := client.GetSalesOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.ID)
	assert.Equal(t, "4217", order.Number)
	assert.Equal(t, integration.SalesOrderSituationFulfilled, order.Situation)
	assert.Equal(t, int64(7), order.Customer.ContactID)
	assert.Equal(t, "123.456.789-01", order.Customer.Document)
	assert.Equal(t, int64(3), order.SellerID)
	assert.Equal(t, 2026, order.Date.Year())
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(11), order.Items[0].ProductID)
	assert.True(t, order.Items[0].Total().Equal(decimal.RequireFromString("150.50")))
}

func TestClient_SearchContacts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contatos", r.URL.Path)
		assert.Equal(t, "12345678901", r.URL.Query().Get("numeroDocumento"))
		_, _ = io.WriteString(w, `{"data":[{"id":1,"nome":"A","numeroDocumento":"123.456.789-01","tipo":"F"}]}`)
	}, ClientConfig{})

	contacts, err := client.SearchContacts(context.Background(), "123.456.789-01")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, int64(1), contacts[0].ID)
}

func TestClient_CreateContact(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Joao da Conceicao", body["nome"])
		assert.Equal(t, "F", body["tipo"])
		assert.Equal(t, "12345678901", body["numeroDocumento"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":555}}`)
	}, ClientConfig{})

	id, err := client.CreateContact(context.Background(), &integration.Contact{
		Name:     "João da  Conceição",
		Document: "123.456.789-01",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(555), id)
}

func TestClient_GetContact_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"RESOURCE_NOT_FOUND"}}`)
	}, ClientConfig{})

	_, err := client.GetContact(context.Background(), 9)
	assert.ErrorIs(t, err, integration.ErrContactNotFound)
	assert.ErrorIs(t, err, shared.ErrRemoteAPI)
}

func TestClient_GetContact_ReadsAddresses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"id":9,"nome":"Ana","numeroDocumento":"12345678000199","tipo":"J",
			"endereco":{"geral":{"endereco":"Rua A","municipio":"Recife","uf":"PE"},"cobranca":{"endereco":"Rua B"}}}}`)
	}, ClientConfig{})

	contact, err := client.GetContact(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "Rua A", contact.Address.Street)
	assert.Equal(t, "Rua B", contact.InvoiceAddress().Street)
}

func TestClient_CreateInvoice_Payload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nfse", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var body struct {
			NumeroRPS string `json:"numeroRPS"`
			Serie     string `json:"serie"`
			Data      string `json:"data"`
			Servicos  []struct {
				Valor json.Number `json:"valor"`
			} `json:"servicos"`
			Parcelas []struct {
				Valor          json.Number `json:"valor"`
				FormaPagamento struct {
					ID int64 `json:"id"`
				} `json:"formaPagamento"`
			} `json:"parcelas"`
			Vendedor *struct{} `json:"vendedor"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "42123456", body.NumeroRPS)
		assert.Equal(t, "1", body.Serie)
		assert.Equal(t, "2026-03-01", body.Data)
		require.Len(t, body.Servicos, 1)
		assert.Equal(t, json.Number("100.00"), body.Servicos[0].Valor)
		require.Len(t, body.Parcelas, 1)
		assert.Equal(t, int64(777), body.Parcelas[0].FormaPagamento.ID)
		assert.Nil(t, body.Vendedor)

		_, _ = io.WriteString(w, `{"data":{"id":9001}}`)
	}, ClientConfig{})

	invoice, err := client.CreateInvoice(context.Background(), &integration.InvoiceDraft{
		RpsNumber:       "42123456",
		Series:          "1",
		IssueDate:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		PaymentMethodID: 777,
		Contact:         integration.Contact{ID: 7, Name: "Maria", Document: "12345678901"},
		Services:        []integration.InvoiceService{{Code: "SVC-1", Description: "Consulting", Value: decimal.NewFromInt(100)}},
		Total:           decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9001), invoice.ID)
	assert.Equal(t, "42123456", invoice.RpsNumber)
	assert.Equal(t, "1", invoice.Series)
}

func TestClient_SubmitInvoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nfse/9001/enviar", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":{"id":9001,"numero":"000123","situacao":1}}`)
	}, ClientConfig{})

	invoice, err := client.SubmitInvoice(context.Background(), 9001)
	require.NoError(t, err)
	assert.Equal(t, "000123", invoice.Number)
	assert.True(t, invoice.IsSettled())
}

func TestClient_SubmitInvoice_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, ClientConfig{SubmitTimeout: 20 * time.Millisecond})

	_, err := client.SubmitInvoice(context.Background(), 9001)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrTimeout)
	assert.NotErrorIs(t, err, shared.ErrRemoteAPI)
}

func TestClient_RemoteError(t *testing.T) {
	recorder := &fakeRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid"}`)
	}, ClientConfig{}, WithCallRecorder(recorder))

	_, err := client.GetInvoice(context.Background(), 1)
	require.Error(t, err)

	var remote *shared.RemoteAPIError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
	assert.Contains(t, remote.Body, "invalid")
	assert.Equal(t, shared.CodeRemoteAPI, shared.ErrorCode(err))

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, recordedCall{op: "get_invoice", failed: true}, recorder.calls[0])
}

func TestClient_TokenErrorStopsCall(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL},
		staticToken{err: shared.ConfigurationError("no credentials")}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.GetProduct(context.Background(), 1)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
	assert.Zero(t, hits.Load())
}

func TestClient_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":`)
	}, ClientConfig{})

	_, err := client.GetProduct(context.Background(), 1)
	assert.ErrorIs(t, err, integration.ErrInvalidResponse)
}

// ---------------------------------------------------------------------------
// Sanitize Tests
// ---------------------------------------------------------------------------

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"José  da Conceição\n", "Jose da Conceicao"},
		{"São Paulo", "Sao Paulo"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeText(tt.in))
	}
}
