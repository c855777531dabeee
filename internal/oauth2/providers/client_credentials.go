package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/oauth2/validation"
)

// ClientCredentials implements the RFC 6749 client credentials grant.
// The named families reuse it with their own defaults.
type ClientCredentials struct {
	name      string
	cfg       Config
	basicAuth bool
	validator *validation.Validator
}

// NewGeneric creates a provider for any standards-compliant token endpoint
func NewGeneric(cfg Config) (*ClientCredentials, error) {
	return newClientCredentials(TypeGeneric, cfg, false)
}

func newClientCredentials(name string, cfg Config, basicAuth bool) (*ClientCredentials, error) {
	cfg.applyDefaults()

	if cfg.TokenEndpoint == "" {
		return nil, errors.ConfigError(errors.CodeConfigMissingKey, "token_endpoint is required").
			WithContext("server", cfg.Server)
	}
	if _, err := url.ParseRequestURI(cfg.TokenEndpoint); err != nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalidValue, "token_endpoint is not a valid URL").
			WithContext("server", cfg.Server)
	}
	if cfg.ClientID == "" {
		return nil, errors.ConfigError(errors.CodeConfigMissingKey, "client_id is required").
			WithContext("server", cfg.Server)
	}

	validator, err := validation.New(cfg.JWT,
		validation.WithHTTPClient(cfg.HTTPClient),
		validation.WithClock(cfg.Now))
	if err != nil {
		if appErr, ok := errors.As(err); ok {
			appErr.WithContext("server", cfg.Server)
		}
		return nil, err
	}
	if validator.Enabled() {
		cfg.Logger.Info("JWT validation enabled",
			logging.String("provider", name),
			logging.String("audience", cfg.JWT.Audience),
			logging.String("issuer", cfg.JWT.Issuer))
	}

	return &ClientCredentials{
		name:      name,
		cfg:       cfg,
		basicAuth: basicAuth,
		validator: validator,
	}, nil
}

// Name returns the provider family
func (p *ClientCredentials) Name() string {
	return p.name
}

// TokenEndpoint returns the endpoint tokens are requested from
func (p *ClientCredentials) TokenEndpoint() string {
	return p.cfg.TokenEndpoint
}

// AcquireToken posts a client_credentials grant to the token endpoint
func (p *ClientCredentials) AcquireToken(ctx context.Context) (*TokenResult, error) {
	secret, err := p.cfg.secret()
	if err != nil {
		return nil, errors.InternalError("client secret is unavailable", err).
			WithContext("server", p.cfg.Server)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if p.cfg.Scope != "" {
		form.Set("scope", p.cfg.Scope)
	}
	if !p.basicAuth {
		form.Set("client_id", p.cfg.ClientID)
		form.Set("client_secret", secret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalidValue, "cannot build token request").
			WithContext("server", p.cfg.Server)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.basicAuth {
		req.SetBasicAuth(url.QueryEscape(p.cfg.ClientID), url.QueryEscape(secret))
	}

	return exchange(p.cfg.HTTPClient, req, p.cfg.Server, p.cfg.Now)
}

// ValidateToken verifies token when JWT validation is configured
func (p *ClientCredentials) ValidateToken(ctx context.Context, token string) (bool, error) {
	if !p.validator.Enabled() {
		return true, nil
	}
	if _, err := p.validator.Validate(ctx, token); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the JWKS refresher, if any
func (p *ClientCredentials) Close() error {
	p.validator.Close()
	return nil
}
