package erp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/shared"
)

func TestOAuthClient_AuthorizationURL(t *testing.T) {
	client, err := NewOAuthClient(OAuthConfig{
		AuthorizeURL: "https://erp.example/oauth/authorize",
		TokenURL:     "https://erp.example/oauth/token",
		RedirectURI:  "https://app.example/callback",
	}, nil, zap.NewNop())
	require.NoError(t, err)

	raw := client.AuthorizationURL("client-1", "nonce-abc")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", u.Path)
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Equal(t, "nonce-abc", u.Query().Get("state"))
	assert.Equal(t, "https://app.example/callback", u.Query().Get("redirect_uri"))
}

func TestOAuthClient_ExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-1", user)
		assert.Equal(t, "secret-1", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":21600}`)
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{TokenURL: server.URL}, server.Client(), zap.NewNop())
	require.NoError(t, err)

	grant, err := client.ExchangeCode(context.Background(), "client-1", "secret-1", "the-code")
	require.NoError(t, err)
	assert.Equal(t, "at", grant.AccessToken)
	assert.Equal(t, "rt", grant.RefreshToken)
	assert.Equal(t, int64(21600), grant.ExpiresIn)
}

func TestOAuthClient_RefreshToken_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{TokenURL: server.URL}, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = client.RefreshToken(context.Background(), "c", "s", "rt-old")
	assert.ErrorIs(t, err, shared.ErrAuthentication)
	assert.Equal(t, shared.CodeAuthentication, shared.ErrorCode(err))
	var remote *shared.RemoteAPIError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
}

func TestOAuthClient_TokenServerErrorIsRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{TokenURL: server.URL}, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = client.RefreshToken(context.Background(), "c", "s", "rt-old")
	assert.Equal(t, shared.CodeRemoteAPI, shared.ErrorCode(err))
	assert.NotErrorIs(t, err, shared.ErrAuthentication)

	_, err = client.ExchangeCode(context.Background(), "c", "s", "bad-code")
	assert.Equal(t, shared.CodeRemoteAPI, shared.ErrorCode(err))
}

func TestOAuthClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{TokenURL: server.URL, Timeout: 20 * time.Millisecond}, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = client.ExchangeCode(context.Background(), "c", "s", "code")
	assert.ErrorIs(t, err, shared.ErrTimeout)
}

func TestOAuthConfig_Validate(t *testing.T) {
	cfg := OAuthConfig{}
	assert.ErrorIs(t, cfg.Validate(), ErrConfigMissingTokenURL)

	cfg = OAuthConfig{TokenURL: DefaultTokenURL}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultAuthorizeURL, cfg.AuthorizeURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}
