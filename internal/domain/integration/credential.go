package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshSkew is how long before expiry a token is refreshed proactively.
const RefreshSkew = 5 * time.Minute

// NonceTTL bounds how long an authorization nonce can be verified.
const NonceTTL = 10 * time.Minute

// Credential is the OAuth2 client and token set of one deployment, optionally
// keyed by user. The persisted row is the source of truth after a restart.
type Credential struct {
	ID                 uuid.UUID
	UserKey            string
	ClientID           string
	ClientSecret       string
	AccessToken        string
	RefreshToken       string
	ExpiresAt          time.Time
	Active             bool
	InitialOrderNumber int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TokenGrant is the body of a successful token endpoint response.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// HasClient returns true when a client id and secret are configured
func (c *Credential) HasClient() bool {
	return c != nil && c.ClientID != "" && c.ClientSecret != ""
}

// HasAccessToken returns true when an access token is held
func (c *Credential) HasAccessToken() bool {
	return c != nil && c.AccessToken != ""
}

// NeedsRefresh reports whether now is at or past expiresAt - RefreshSkew.
func (c *Credential) NeedsRefresh(now time.Time) bool {
	return !now.Before(c.ExpiresAt.Add(-RefreshSkew))
}

// ApplyGrant replaces the whole token set; nothing is merged from the previous one.
func (c *Credential) ApplyGrant(grant *TokenGrant, now time.Time) {
	c.AccessToken = grant.AccessToken
	c.RefreshToken = grant.RefreshToken
	c.ExpiresAt = now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	c.Active = true
	c.UpdatedAt = now
}

// ClearTokens drops the token set and deactivates the credential
func (c *Credential) ClearTokens(now time.Time) {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.ExpiresAt = time.Time{}
	c.Active = false
	c.UpdatedAt = now
}

// Clone returns a copy that can be handed out without sharing state
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// CredentialStore persists credentials. Get returns a shared NOT_FOUND error
// when no credential exists for userKey.
type CredentialStore interface {
	Get(ctx context.Context, userKey string) (*Credential, error)
	Put(ctx context.Context, credential *Credential) error
	Delete(ctx context.Context, userKey string) error
}

// NonceStore holds single-use authorization nonces.
type NonceStore interface {
	// Add registers nonce until ttl elapses.
	Add(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume removes nonce and reports whether it was present and unexpired.
	Consume(ctx context.Context, nonce string) (bool, error)
}

// OAuthEndpoint is the ERP authorization server.
type OAuthEndpoint interface {
	AuthorizationURL(clientID, state string) string
	ExchangeCode(ctx context.Context, clientID, clientSecret, code string) (*TokenGrant, error)
	RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenGrant, error)
}
