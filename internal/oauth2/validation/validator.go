// Package validation verifies JWT access tokens against a configured PEM
// public key or a remote JWKS.
package validation

import (
	"context"
	"crypto"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"dicomweb-oauth/internal/common/errors"
)

// DefaultAlgorithm is used when no algorithms are configured
const DefaultAlgorithm = "RS256"

// Config describes how tokens are verified. Validation is disabled when
// neither PublicKey nor JWKSURL is set.
type Config struct {
	PublicKey  string        `yaml:"public_key"`
	JWKSURL    string        `yaml:"jwks_url" validate:"omitempty,url"`
	Audience   string        `yaml:"audience"`
	Issuer     string        `yaml:"issuer"`
	Algorithms []string      `yaml:"algorithms"`
	Leeway     time.Duration `yaml:"leeway"`
}

// Enabled reports whether any verification key is configured
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.PublicKey) != "" || c.JWKSURL != ""
}

// Option customises a Validator
type Option func(*Validator)

// WithHTTPClient sets the client used to fetch the JWKS
func WithHTTPClient(client *http.Client) Option {
	return func(v *Validator) {
		v.httpClient = client
	}
}

// WithClock overrides the time source used for exp/nbf checks
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator checks signature and registered claims of JWTs
type Validator struct {
	config     Config
	algorithms []string
	staticKey  interface{}
	httpClient *http.Client
	now        func() time.Time

	jwksOnce sync.Once
	jwksErr  error
	jwks     *jwk.Cache
	cancel   context.CancelFunc
}

// New builds a validator. The PEM key is parsed eagerly so a bad key is a
// configuration error at startup rather than a validation failure later.
func New(config Config, opts ...Option) (*Validator, error) {
	v := &Validator{
		config:     config,
		algorithms: config.Algorithms,
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	if len(v.algorithms) == 0 {
		v.algorithms = []string{DefaultAlgorithm}
	}
	for _, alg := range v.algorithms {
		if strings.EqualFold(alg, "none") {
			return nil, errors.ConfigError(errors.CodeConfigInvalidValue, `jwt algorithm "none" is not allowed`)
		}
		if jwt.GetSigningMethod(alg) == nil {
			return nil, errors.ConfigError(errors.CodeConfigInvalidValue, fmt.Sprintf("unsupported jwt algorithm %q", alg))
		}
	}

	if pem := strings.TrimSpace(config.PublicKey); pem != "" {
		key, err := parsePublicKey([]byte(pem))
		if err != nil {
			return nil, errors.ConfigError(errors.CodeConfigInvalidValue, "jwt public key is not a valid PEM public key").
				WithContext("cause", err.Error())
		}
		v.staticKey = key
	}

	return v, nil
}

// Enabled reports whether tokens are actually verified
func (v *Validator) Enabled() bool {
	return v != nil && v.config.Enabled()
}

// Validate verifies token and returns its claims. A disabled validator
// accepts every token without parsing it.
func (v *Validator) Validate(ctx context.Context, token string) (jwt.MapClaims, error) {
	if !v.Enabled() {
		return jwt.MapClaims{}, nil
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.config.Audience))
	}
	if v.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.config.Leeway))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, v.keyFunc(ctx), parserOpts...); err != nil {
		return nil, errors.TokenValidationError(describe(err), err)
	}
	return claims, nil
}

// Close stops the background JWKS refresher
func (v *Validator) Close() {
	if v != nil && v.cancel != nil {
		v.cancel()
	}
}

func (v *Validator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if v.staticKey != nil {
			return v.staticKey, nil
		}

		set, err := v.keySet(ctx)
		if err != nil {
			return nil, err
		}

		kid, _ := t.Header["kid"].(string)
		var key jwk.Key
		var ok bool
		switch {
		case kid != "":
			key, ok = set.LookupKeyID(kid)
		case set.Len() == 1:
			key, ok = set.Key(0)
		}
		if !ok {
			return nil, fmt.Errorf("no signing key for kid %q", kid)
		}

		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("decode signing key: %w", err)
		}
		return raw, nil
	}
}

func (v *Validator) keySet(ctx context.Context) (jwk.Set, error) {
	v.jwksOnce.Do(func() {
		cacheCtx, cancel := context.WithCancel(context.Background())
		v.cancel = cancel
		v.jwks = jwk.NewCache(cacheCtx)
		v.jwksErr = v.jwks.Register(v.config.JWKSURL,
			jwk.WithHTTPClient(v.httpClient),
			jwk.WithMinRefreshInterval(15*time.Minute))
	})
	if v.jwksErr != nil {
		return nil, v.jwksErr
	}

	set, err := v.jwks.Get(ctx, v.config.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return set, nil
}

func parsePublicKey(pem []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	return jwt.ParseEdPublicKeyFromPEM(pem)
}

func describe(err error) string {
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case stderrors.Is(err, jwt.ErrTokenNotValidYet):
		return "token is not valid yet"
	case stderrors.Is(err, jwt.ErrTokenInvalidAudience):
		return "token audience mismatch"
	case stderrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "token issuer mismatch"
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid"
	case stderrors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	case stderrors.Is(err, jwt.ErrTokenUnverifiable):
		return "token cannot be verified"
	default:
		return "token validation failed"
	}
}
