package erp

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/nfse-bridge/internal/domain/integration"
)

// dateLayout is the date format used by the ERP API
const dateLayout = "2006-01-02"

// flexString accepts a JSON string or number. The ERP returns order and
// invoice numbers in either form depending on the endpoint.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

// amount renders a decimal as a bare JSON number with two places
func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// dataEnvelope is the {"data": ...} wrapper of every ERP response
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type idRef struct {
	ID int64 `json:"id"`
}

// ---------------------------------------------------------------------------
// Sales orders
// ---------------------------------------------------------------------------

type orderResponse struct {
	ID       int64           `json:"id"`
	Numero   flexString      `json:"numero"`
	Data     string          `json:"data"`
	Total    decimal.Decimal `json:"total"`
	Contato  orderContact    `json:"contato"`
	Situacao struct {
		ID    int64 `json:"id"`
		Valor int   `json:"valor"`
	} `json:"situacao"`
	Vendedor idRef       `json:"vendedor"`
	Itens    []orderItem `json:"itens"`
}

type orderContact struct {
	ID              int64  `json:"id"`
	Nome            string `json:"nome"`
	NumeroDocumento string `json:"numeroDocumento"`
	Email           string `json:"email"`
	Telefone        string `json:"telefone"`
}

type orderItem struct {
	Codigo     string          `json:"codigo"`
	Descricao  string          `json:"descricao"`
	Quantidade decimal.Decimal `json:"quantidade"`
	Valor      decimal.Decimal `json:"valor"`
	Desconto   decimal.Decimal `json:"desconto"`
	Produto    idRef           `json:"produto"`
}

func (o *orderResponse) toDomain() *integration.SalesOrder {
	order := &integration.SalesOrder{
		ID:        o.ID,
		Number:    string(o.Numero),
		Total:     o.Total,
		SellerID:  o.Vendedor.ID,
		Situation: integration.SalesOrderSituation(o.Situacao.Valor),
		Customer: integration.OrderCustomer{
			ContactID: o.Contato.ID,
			Name:      o.Contato.Nome,
			Document:  o.Contato.NumeroDocumento,
			Email:     o.Contato.Email,
			Phone:     o.Contato.Telefone,
		},
		Items: make([]integration.OrderItem, 0, len(o.Itens)),
	}
	if d, err := time.Parse(dateLayout, o.Data); err == nil {
		order.Date = d
	}
	for _, it := range o.Itens {
		order.Items = append(order.Items, integration.OrderItem{
			ProductID:   it.Produto.ID,
			Code:        it.Codigo,
			Description: it.Descricao,
			Quantity:    it.Quantidade,
			UnitPrice:   it.Valor,
			Discount:    it.Desconto,
		})
	}
	return order
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

type contactAddress struct {
	Endereco    string `json:"endereco,omitempty"`
	Numero      string `json:"numero,omitempty"`
	Complemento string `json:"complemento,omitempty"`
	Bairro      string `json:"bairro,omitempty"`
	Municipio   string `json:"municipio,omitempty"`
	UF          string `json:"uf,omitempty"`
	CEP         string `json:"cep,omitempty"`
}

type contactBody struct {
	ID              int64  `json:"id,omitempty"`
	Nome            string `json:"nome"`
	NumeroDocumento string `json:"numeroDocumento"`
	Tipo            string `json:"tipo"`
	Situacao        string `json:"situacao,omitempty"`
	Email           string `json:"email,omitempty"`
	Telefone        string `json:"telefone,omitempty"`
	Endereco        *struct {
		Geral    contactAddress `json:"geral"`
		Cobranca contactAddress `json:"cobranca"`
	} `json:"endereco,omitempty"`
}

func addressFromWire(a contactAddress) integration.Address {
	return integration.Address{
		Street:     a.Endereco,
		Number:     a.Numero,
		Complement: a.Complemento,
		District:   a.Bairro,
		City:       a.Municipio,
		State:      a.UF,
		ZipCode:    a.CEP,
	}
}

func addressToWire(a integration.Address) contactAddress {
	return contactAddress{
		Endereco:    a.Street,
		Numero:      a.Number,
		Complemento: a.Complement,
		Bairro:      a.District,
		Municipio:   a.City,
		UF:          a.State,
		CEP:         a.ZipCode,
	}
}

func (c *contactBody) toDomain() integration.Contact {
	contact := integration.Contact{
		ID:         c.ID,
		Name:       c.Nome,
		Document:   c.NumeroDocumento,
		PersonType: c.Tipo,
		Email:      c.Email,
		Phone:      c.Telefone,
	}
	if c.Endereco != nil {
		contact.Address = addressFromWire(c.Endereco.Geral)
		contact.BillingAddress = addressFromWire(c.Endereco.Cobranca)
	}
	return contact
}

func contactFromDomain(c *integration.Contact) contactBody {
	body := contactBody{
		Nome:            SanitizeText(c.Name),
		NumeroDocumento: integration.NormalizeDocument(c.Document),
		Tipo:            c.PersonType,
		Situacao:        "A",
		Email:           c.Email,
		Telefone:        c.Phone,
	}
	if body.Tipo == "" {
		body.Tipo = integration.PersonTypeIndividual
	}
	if !c.Address.IsZero() || !c.BillingAddress.IsZero() {
		body.Endereco = &struct {
			Geral    contactAddress `json:"geral"`
			Cobranca contactAddress `json:"cobranca"`
		}{
			Geral:    addressToWire(c.Address),
			Cobranca: addressToWire(c.BillingAddress),
		}
	}
	return body
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

type productResponse struct {
	ID     int64  `json:"id"`
	Codigo string `json:"codigo"`
	Nome   string `json:"nome"`
	Tipo   string `json:"tipo"`
}

// ---------------------------------------------------------------------------
// NFSe
// ---------------------------------------------------------------------------

type nfseContact struct {
	ID              int64           `json:"id"`
	Nome            string          `json:"nome"`
	NumeroDocumento string          `json:"numeroDocumento"`
	Email           string          `json:"email,omitempty"`
	Telefone        string          `json:"telefone,omitempty"`
	Endereco        *contactAddress `json:"endereco,omitempty"`
}

type nfseService struct {
	Codigo    string      `json:"codigo"`
	Descricao string      `json:"descricao"`
	Valor     json.Number `json:"valor"`
}

type nfseInstallment struct {
	Data           string      `json:"data"`
	Valor          json.Number `json:"valor"`
	FormaPagamento idRef       `json:"formaPagamento"`
}

type nfseRequest struct {
	NumeroRPS string            `json:"numeroRPS"`
	Serie     string            `json:"serie"`
	Data      string            `json:"data"`
	Pedido    string            `json:"numeroPedido,omitempty"`
	Contato   nfseContact       `json:"contato"`
	Vendedor  *idRef            `json:"vendedor,omitempty"`
	Servicos  []nfseService     `json:"servicos"`
	Parcelas  []nfseInstallment `json:"parcelas"`
}

func nfseRequestFromDraft(d *integration.InvoiceDraft) nfseRequest {
	issue := d.IssueDate.Format(dateLayout)
	req := nfseRequest{
		NumeroRPS: d.RpsNumber,
		Serie:     d.Series,
		Data:      issue,
		Pedido:    d.OrderNumber,
		Contato: nfseContact{
			ID:              d.Contact.ID,
			Nome:            SanitizeText(d.Contact.Name),
			NumeroDocumento: integration.NormalizeDocument(d.Contact.Document),
			Email:           d.Contact.Email,
			Telefone:        d.Contact.Phone,
		},
		Servicos: make([]nfseService, 0, len(d.Services)),
		Parcelas: []nfseInstallment{{
			Data:           issue,
			Valor:          amount(d.Total),
			FormaPagamento: idRef{ID: d.PaymentMethodID},
		}},
	}
	if addr := d.Contact.InvoiceAddress(); !addr.IsZero() {
		wire := addressToWire(addr)
		wire.Endereco = SanitizeText(wire.Endereco)
		wire.Bairro = SanitizeText(wire.Bairro)
		wire.Municipio = SanitizeText(wire.Municipio)
		req.Contato.Endereco = &wire
	}
	if d.SellerID != 0 {
		req.Vendedor = &idRef{ID: d.SellerID}
	}
	for _, s := range d.Services {
		req.Servicos = append(req.Servicos, nfseService{
			Codigo:    s.Code,
			Descricao: SanitizeText(s.Description),
			Valor:     amount(s.Value),
		})
	}
	return req
}

type nfseResponse struct {
	ID        int64      `json:"id"`
	Numero    flexString `json:"numero"`
	NumeroRPS flexString `json:"numeroRPS"`
	Serie     flexString `json:"serie"`
	Situacao  int        `json:"situacao"`
	Link      string     `json:"linkPDF"`
}

func (r *nfseResponse) toDomain() *integration.Invoice {
	return &integration.Invoice{
		ID:        r.ID,
		Number:    strings.TrimSpace(string(r.Numero)),
		RpsNumber: string(r.NumeroRPS),
		Series:    string(r.Serie),
		Situation: integration.NfseSituation(r.Situacao),
		Link:      r.Link,
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
