// Package integration holds the ERP connection lifecycle: credential
// configuration, the OAuth2 authorization flow and token refresh.
package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/shared"
)

const refreshFlightKey = "refresh"

// CredentialStatus summarizes the ERP connection for operators
type CredentialStatus struct {
	Configured         bool       `json:"configured"`
	Connected          bool       `json:"connected"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	InitialOrderNumber int64      `json:"initial_order_number"`
}

// TokenManager owns the OAuth2 token lifecycle of the ERP connection and
// hands out a valid bearer token before every outbound call.
//
// The persisted credential is the source of truth; the in-memory copy is a
// cache filled on first use. Concurrent refreshes collapse into one round trip.
type TokenManager struct {
	store   integration.CredentialStore
	nonces  integration.NonceStore
	oauth   integration.OAuthEndpoint
	logger  *zap.Logger
	userKey string

	now      func() time.Time
	newNonce func() string

	mu     sync.Mutex
	cached *integration.Credential
	flight singleflight.Group
}

// NewTokenManager creates a token manager for the credential row keyed by userKey
func NewTokenManager(
	store integration.CredentialStore,
	nonces integration.NonceStore,
	oauth integration.OAuthEndpoint,
	userKey string,
	logger *zap.Logger,
) *TokenManager {
	return &TokenManager{
		store:    store,
		nonces:   nonces,
		oauth:    oauth,
		logger:   logger,
		userKey:  userKey,
		now:      time.Now,
		newNonce: uuid.NewString,
	}
}

// Ensure TokenManager implements TokenSource
var _ integration.TokenSource = (*TokenManager)(nil)

// ---------------------------------------------------------------------------
// Token access
// ---------------------------------------------------------------------------

// EnsureValidToken returns the cached access token, refreshing it first when
// it expires within integration.RefreshSkew.
func (m *TokenManager) EnsureValidToken(ctx context.Context) (string, error) {
	cred, err := m.configured(ctx)
	if err != nil {
		return "", err
	}
	if !cred.HasAccessToken() {
		return "", shared.AuthenticationError("ERP connection is not authorized", nil)
	}
	if !cred.NeedsRefresh(m.now()) {
		return cred.AccessToken, nil
	}

	m.logger.Info("ERP access token near expiry, refreshing",
		zap.Time("expires_at", cred.ExpiresAt),
	)
	refreshed, err := m.refresh(ctx, cred.AccessToken)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh forces a refresh-token grant
func (m *TokenManager) Refresh(ctx context.Context) (*integration.Credential, error) {
	return m.refresh(ctx, "")
}

// refresh runs the refresh grant once for all concurrent callers. When seen
// is set and the cached token already moved past it, the newer token is
// returned without another round trip.
func (m *TokenManager) refresh(ctx context.Context, seen string) (*integration.Credential, error) {
	v, err, joined := m.flight.Do(refreshFlightKey, func() (interface{}, error) {
		cred, err := m.configured(ctx)
		if err != nil {
			return nil, err
		}
		if seen != "" && cred.AccessToken != seen && !cred.NeedsRefresh(m.now()) {
			return cred, nil
		}
		if cred.RefreshToken == "" {
			return nil, shared.AuthenticationError("no refresh token held for the ERP connection", nil)
		}

		// The grant must finish even if the caller that started the flight goes away.
		grant, err := m.oauth.RefreshToken(context.WithoutCancel(ctx), cred.ClientID, cred.ClientSecret, cred.RefreshToken)
		if err != nil {
			m.logger.Warn("ERP token refresh failed", zap.Error(err))
			return nil, err
		}

		cred.ApplyGrant(grant, m.now())
		if err := m.persist(ctx, cred); err != nil {
			return nil, err
		}
		m.logger.Info("ERP access token refreshed", zap.Time("expires_at", cred.ExpiresAt))
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	if joined {
		m.logger.Debug("Joined in-flight ERP token refresh")
	}
	return v.(*integration.Credential).Clone(), nil
}

// ---------------------------------------------------------------------------
// Authorization flow
// ---------------------------------------------------------------------------

// BeginAuthorization issues a single-use nonce and returns the consent URL
func (m *TokenManager) BeginAuthorization(ctx context.Context) (string, error) {
	cred, err := m.configured(ctx)
	if err != nil {
		return "", err
	}

	nonce := m.newNonce()
	if err := m.nonces.Add(ctx, nonce, integration.NonceTTL); err != nil {
		return "", err
	}
	return m.oauth.AuthorizationURL(cred.ClientID, nonce), nil
}

// Exchange completes the authorization flow. The state must be a nonce issued
// by BeginAuthorization that was not used before.
func (m *TokenManager) Exchange(ctx context.Context, code, state string) (*integration.Credential, error) {
	if state == "" {
		return nil, shared.CsrfError("authorization state is missing")
	}
	ok, err := m.nonces.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Warn("Rejected OAuth callback with unknown or consumed state")
		return nil, shared.CsrfError("authorization state is invalid or already used")
	}
	if code == "" {
		return nil, shared.ValidationError("authorization code is required")
	}

	cred, err := m.configured(ctx)
	if err != nil {
		return nil, err
	}

	grant, err := m.oauth.ExchangeCode(ctx, cred.ClientID, cred.ClientSecret, code)
	if err != nil {
		m.logger.Warn("ERP authorization code exchange failed", zap.Error(err))
		return nil, err
	}

	cred.ApplyGrant(grant, m.now())
	if err := m.persist(ctx, cred); err != nil {
		return nil, err
	}
	m.logger.Info("ERP connection authorized", zap.Time("expires_at", cred.ExpiresAt))
	return cred.Clone(), nil
}

// ---------------------------------------------------------------------------
// Credential management
// ---------------------------------------------------------------------------

// Configure stores the OAuth client and the initial order number cursor.
// Changing the client id drops the tokens of the previous client.
func (m *TokenManager) Configure(ctx context.Context, clientID, clientSecret string, initialOrderNumber int64) (*integration.Credential, error) {
	if clientID == "" || clientSecret == "" {
		return nil, shared.ValidationError("client_id and client_secret are required")
	}
	if initialOrderNumber < 0 {
		return nil, shared.ValidationError("initial_order_number must not be negative")
	}

	now := m.now()
	cred, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		cred = &integration.Credential{
			ID:        uuid.New(),
			UserKey:   m.userKey,
			CreatedAt: now,
		}
	}
	if cred.ClientID != "" && cred.ClientID != clientID {
		cred.ClearTokens(now)
	}
	cred.ClientID = clientID
	cred.ClientSecret = clientSecret
	cred.InitialOrderNumber = initialOrderNumber
	cred.UpdatedAt = now

	if err := m.persist(ctx, cred); err != nil {
		return nil, err
	}
	return cred.Clone(), nil
}

// SetTokens replaces the whole stored credential
func (m *TokenManager) SetTokens(ctx context.Context, cred *integration.Credential) error {
	if cred == nil {
		return shared.ValidationError("credential is required")
	}
	next := cred.Clone()
	next.UserKey = m.userKey
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	next.UpdatedAt = m.now()
	return m.persist(ctx, next)
}

// Clear removes the credential entirely
func (m *TokenManager) Clear(ctx context.Context) error {
	if err := m.store.Delete(ctx, m.userKey); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	m.logger.Info("ERP credentials cleared")
	return nil
}

// Credential returns a copy of the current credential, or nil when none exists
func (m *TokenManager) Credential(ctx context.Context) (*integration.Credential, error) {
	return m.load(ctx)
}

// Status reports whether the connection is configured and authorized
func (m *TokenManager) Status(ctx context.Context) (*CredentialStatus, error) {
	cred, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	status := &CredentialStatus{}
	if cred == nil {
		return status, nil
	}
	status.Configured = cred.HasClient()
	status.Connected = cred.Active && cred.HasAccessToken()
	status.InitialOrderNumber = cred.InitialOrderNumber
	if !cred.ExpiresAt.IsZero() {
		expiresAt := cred.ExpiresAt
		status.ExpiresAt = &expiresAt
	}
	return status, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// load returns a copy of the cached credential, reading the store on a miss.
// A missing row yields (nil, nil).
func (m *TokenManager) load(ctx context.Context) (*integration.Credential, error) {
	m.mu.Lock()
	if m.cached != nil {
		cp := m.cached.Clone()
		m.mu.Unlock()
		return cp, nil
	}
	m.mu.Unlock()

	cred, err := m.store.Get(ctx, m.userKey)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	m.mu.Lock()
	if m.cached == nil {
		m.cached = cred.Clone()
	}
	m.mu.Unlock()
	return cred.Clone(), nil
}

// configured is load plus the client id and secret check
func (m *TokenManager) configured(ctx context.Context) (*integration.Credential, error) {
	cred, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if !cred.HasClient() {
		return nil, shared.ConfigurationError("ERP client id and secret are not configured")
	}
	return cred, nil
}

// persist writes the credential and then replaces the cached copy
func (m *TokenManager) persist(ctx context.Context, cred *integration.Credential) error {
	if err := m.store.Put(ctx, cred); err != nil {
		return err
	}
	m.mu.Lock()
	m.cached = cred.Clone()
	m.mu.Unlock()
	return nil
}
