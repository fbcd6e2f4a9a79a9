package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	integrationapp "github.com/erp/nfse-bridge/internal/application/integration"
	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/interfaces/http/middleware"
)

// ConnectionService manages the ERP OAuth connection
type ConnectionService interface {
	BeginAuthorization(ctx context.Context) (string, error)
	Exchange(ctx context.Context, code, state string) (*integration.Credential, error)
	Configure(ctx context.Context, clientID, clientSecret string, initialOrderNumber int64) (*integration.Credential, error)
	Clear(ctx context.Context) error
	Status(ctx context.Context) (*integrationapp.CredentialStatus, error)
}

var _ ConnectionService = (*integrationapp.TokenManager)(nil)

// ERPHandler handles the OAuth flow and credential management
type ERPHandler struct {
	BaseHandler
	connection ConnectionService
}

// NewERPHandler creates a new ERPHandler
func NewERPHandler(connection ConnectionService) *ERPHandler {
	return &ERPHandler{connection: connection}
}

// AuthorizeResponse carries the ERP consent URL
type AuthorizeResponse struct {
	URL string `json:"url"`
}

// ConfigureCredentialsRequest is the body of PUT /erp/credentials
type ConfigureCredentialsRequest struct {
	ClientID           string `json:"client_id" binding:"required,max=255"`
	ClientSecret       string `json:"client_secret" binding:"required,max=255"`
	InitialOrderNumber int64  `json:"initial_order_number" binding:"gte=0"`
}

// Authorize returns the consent URL, or redirects to it with ?redirect=true
func (h *ERPHandler) Authorize(c *gin.Context) {
	url, err := h.connection.BeginAuthorization(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if redirect, _ := strconv.ParseBool(c.Query("redirect")); redirect {
		c.Redirect(http.StatusFound, url)
		return
	}
	h.Success(c, AuthorizeResponse{URL: url})
}

// Callback completes the OAuth flow with the code and state sent by the ERP
func (h *ERPHandler) Callback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		h.BadRequest(c, "Authorization denied: "+errParam)
		return
	}
	if _, err := h.connection.Exchange(c.Request.Context(), c.Query("code"), c.Query("state")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.status(c)
}

// ConfigureCredentials stores the OAuth client and the initial order number
func (h *ERPHandler) ConfigureCredentials(c *gin.Context) {
	var req ConfigureCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if _, err := h.connection.Configure(c.Request.Context(), req.ClientID, req.ClientSecret, req.InitialOrderNumber); err != nil {
		h.HandleError(c, err)
		return
	}
	h.status(c)
}

// ClearCredentials removes the stored credential
func (h *ERPHandler) ClearCredentials(c *gin.Context) {
	if err := h.connection.Clear(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// CredentialStatus reports whether the connection is configured and authorized
func (h *ERPHandler) CredentialStatus(c *gin.Context) {
	h.status(c)
}

func (h *ERPHandler) status(c *gin.Context) {
	status, err := h.connection.Status(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}
