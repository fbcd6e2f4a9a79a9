package erp

import (
	"errors"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Bling v3 REST endpoint
	DefaultBaseURL = "https://www.bling.com.br/Api/v3"
	// DefaultAuthorizeURL is the Bling v3 OAuth authorization page
	DefaultAuthorizeURL = "https://www.bling.com.br/Api/v3/oauth/authorize"
	// DefaultTokenURL is the Bling v3 OAuth token endpoint
	DefaultTokenURL = "https://www.bling.com.br/Api/v3/oauth/token"

	defaultTimeout       = 30 * time.Second
	defaultEmitTimeout   = 45 * time.Second
	defaultSubmitTimeout = 120 * time.Second

	// maxResponseSize is the maximum allowed response size from the ERP API (10MB)
	maxResponseSize = 10 * 1024 * 1024
	// maxErrorBodySize bounds the body kept on a RemoteAPIError
	maxErrorBodySize = 2048
)

// Errors for ERP client configuration
var (
	ErrConfigMissingBaseURL  = errors.New("erp: base URL is required")
	ErrConfigMissingTokenURL = errors.New("erp: token URL is required")
)

// ClientConfig holds configuration for the ERP REST client
type ClientConfig struct {
	// BaseURL is the root of the REST API, without trailing slash
	BaseURL string
	// Timeout is the deadline of a generic call
	Timeout time.Duration
	// EmitTimeout is the deadline of the NFSe creation call
	EmitTimeout time.Duration
	// SubmitTimeout is the deadline of the municipal submission call
	SubmitTimeout time.Duration
}

// Validate validates the configuration and fills in defaults
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.EmitTimeout <= 0 {
		c.EmitTimeout = defaultEmitTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = defaultSubmitTimeout
	}
	return nil
}

// OAuthConfig holds configuration for the ERP OAuth2 endpoints
type OAuthConfig struct {
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	Scopes       []string
	Timeout      time.Duration
}

// Validate validates the configuration and fills in defaults
func (c *OAuthConfig) Validate() error {
	if c.TokenURL == "" {
		return ErrConfigMissingTokenURL
	}
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = DefaultAuthorizeURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return nil
}
