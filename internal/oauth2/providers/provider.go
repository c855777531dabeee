// Package providers implements the OAuth2 client-credentials families a
// DICOMweb server can sit behind and the factory that selects one.
package providers

import (
	"context"
	"net/http"
	"time"

	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/oauth2/validation"
)

// DefaultExpiresIn applies when a token response omits expires_in
const DefaultExpiresIn = 3600

// DefaultTokenType applies when a token response omits token_type
const DefaultTokenType = "Bearer"

// TokenResult is a successful token endpoint response
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
	Scope       string
}

// Lifetime returns expires_in as a duration
func (r *TokenResult) Lifetime() time.Duration {
	return time.Duration(r.ExpiresIn) * time.Second
}

// Provider acquires and validates tokens for one server
type Provider interface {
	// Name returns the provider family, e.g. "azure"
	Name() string
	// AcquireToken performs one token request. Errors are classified
	// AppErrors; retryable ones carry Retryable and, when the endpoint
	// sent one, RetryAfter.
	AcquireToken(ctx context.Context) (*TokenResult, error)
	// ValidateToken verifies a token issued by this provider. It returns
	// true without checking when validation is not configured.
	ValidateToken(ctx context.Context, token string) (bool, error)
}

// SecretFunc yields the client secret on demand so providers never hold
// the plaintext between requests
type SecretFunc func() (string, error)

// StaticSecret wraps a plaintext secret, mainly for tests
func StaticSecret(secret string) SecretFunc {
	return func() (string, error) { return secret, nil }
}

// Config carries everything a provider family needs
type Config struct {
	Server        string
	TokenEndpoint string
	ClientID      string
	ClientSecret  SecretFunc
	Scope         string
	TenantID      string
	// Resource is the managed identity audience; derived from Scope when empty
	Resource   string
	JWT        validation.Config
	HTTPClient *http.Client
	Logger     logging.Logger
	Now        func() time.Time
}

func (c *Config) applyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = logging.GetGlobalLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.Logger = c.Logger.WithFields(logging.String("server", c.Server))
}

func (c *Config) secret() (string, error) {
	if c.ClientSecret == nil {
		return "", nil
	}
	return c.ClientSecret()
}
