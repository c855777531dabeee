package oauth2

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dicomweb-oauth/internal/config"
	"dicomweb-oauth/internal/crypto"
)

// ServerCredential is the immutable identity of one configured server.
// The client secret is only ever held encrypted.
type ServerCredential struct {
	Name           string
	URL            string
	TokenEndpoint  string
	ClientID       string
	Scope          string
	VerifyTLS      bool
	RefreshBuffer  time.Duration
	RequestTimeout time.Duration
	ProviderType   string

	clientSecret []byte
}

func newServerCredential(cfg config.ServerConfig, guard *crypto.SecretsGuard) (*ServerCredential, error) {
	secret, err := guard.EncryptString(cfg.ClientSecret)
	if err != nil {
		return nil, err
	}
	return &ServerCredential{
		Name:           cfg.Name,
		URL:            cfg.URL,
		TokenEndpoint:  cfg.TokenEndpoint,
		ClientID:       cfg.ClientID,
		Scope:          cfg.Scope,
		VerifyTLS:      cfg.TLSVerified(),
		RefreshBuffer:  cfg.RefreshBuffer,
		RequestTimeout: cfg.RequestTimeout,
		ProviderType:   cfg.ProviderType(),
		clientSecret:   secret,
	}, nil
}

// String never includes the secret
func (c *ServerCredential) String() string {
	return fmt.Sprintf("%s (%s, client_id=%s)", c.Name, c.ProviderType, c.ClientID)
}

// Token is an access token handed to callers
type Token struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// AuthorizationHeader formats the token for an Authorization header
func (t *Token) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return tokenType + " " + t.AccessToken
}

// cachedToken is the stored form of a Token; only the access token is
// encrypted so expiry can be checked without decrypting
type cachedToken struct {
	Ciphertext []byte    `json:"ciphertext"`
	TokenType  string    `json:"token_type"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// fresh reports whether the token is still outside the refresh buffer
func (c *cachedToken) fresh(now time.Time, refreshBuffer time.Duration) bool {
	return now.Add(refreshBuffer).Before(c.ExpiresAt)
}

func encodeToken(tok *Token, guard *crypto.SecretsGuard) ([]byte, error) {
	ciphertext, err := guard.EncryptString(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cachedToken{
		Ciphertext: ciphertext,
		TokenType:  tok.TokenType,
		IssuedAt:   tok.IssuedAt,
		ExpiresAt:  tok.ExpiresAt,
	})
}

func decodeToken(raw []byte) (*cachedToken, error) {
	var entry cachedToken
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *cachedToken) decrypt(guard *crypto.SecretsGuard) (*Token, error) {
	access, err := guard.DecryptString(c.Ciphertext)
	if err != nil {
		return nil, err
	}
	return &Token{
		AccessToken: access,
		TokenType:   c.TokenType,
		IssuedAt:    c.IssuedAt,
		ExpiresAt:   c.ExpiresAt,
	}, nil
}
