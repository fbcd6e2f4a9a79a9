package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/domain/shared"
)

// OAuthClient implements integration.OAuthEndpoint for the ERP
// authorization-code and refresh-token grants.
type OAuthClient struct {
	config     OAuthConfig
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *zap.Logger
}

// Ensure OAuthClient implements OAuthEndpoint
var _ integration.OAuthEndpoint = (*OAuthClient)(nil)

// NewOAuthClient creates a new OAuth client. A nil httpClient uses a default one.
func NewOAuthClient(config OAuthConfig, httpClient *http.Client, logger *zap.Logger) (*OAuthClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OAuthClient{
		config:     config,
		httpClient: httpClient,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}, nil
}

// AuthorizationURL builds the consent page URL carrying the state nonce
func (o *OAuthClient) AuthorizationURL(clientID, state string) string {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("state", state)
	if o.config.RedirectURI != "" {
		query.Set("redirect_uri", o.config.RedirectURI)
	}
	if len(o.config.Scopes) > 0 {
		query.Set("scope", strings.Join(o.config.Scopes, " "))
	}

	sep := "?"
	if strings.Contains(o.config.AuthorizeURL, "?") {
		sep = "&"
	}
	return o.config.AuthorizeURL + sep + query.Encode()
}

// ExchangeCode trades an authorization code for a token set
func (o *OAuthClient) ExchangeCode(ctx context.Context, clientID, clientSecret, code string) (*integration.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if o.config.RedirectURI != "" {
		form.Set("redirect_uri", o.config.RedirectURI)
	}
	return o.requestToken(ctx, "exchange_code", clientID, clientSecret, form)
}

// RefreshToken trades a refresh token for a new token set
func (o *OAuthClient) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*integration.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return o.requestToken(ctx, "refresh_token", clientID, clientSecret, form)
}

func (o *OAuthClient) requestToken(ctx context.Context, op, clientID, clientSecret string, form url.Values) (grant *integration.TokenGrant, err error) {
	ctx, span := o.tracer.Start(ctx, "erp.oauth."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	callCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("erp: failed to create token request: %w", err)
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, callCtx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError(ctx, callCtx, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.logger.Warn("ERP token endpoint rejected request",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
		)
		remote := shared.NewRemoteAPIError(op, resp.StatusCode, truncate(body, maxErrorBodySize))
		if op == "refresh_token" && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) {
			// invalid_grant: the refresh token was revoked or already used
			return nil, shared.AuthenticationError("ERP rejected the refresh token", remote)
		}
		return nil, remote
	}

	var g integration.TokenGrant
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", integration.ErrInvalidResponse, op, err)
	}
	if g.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s: empty access token", integration.ErrInvalidResponse, op)
	}
	return &g, nil
}
