package oauth2

import (
	"strings"
	"testing"
	"time"

	"dicomweb-oauth/internal/config"
	"dicomweb-oauth/internal/crypto"
)

func TestServerCredential_HidesSecret(t *testing.T) {
	guard, err := crypto.NewSecretsGuard()
	if err != nil {
		t.Fatalf("NewSecretsGuard() error = %v", err)
	}
	defer guard.Destroy()

	cred, err := newServerCredential(config.ServerConfig{
		Name:          "dicom-a",
		TokenEndpoint: "https://login.microsoftonline.com/tenant/oauth2/v2.0/token",
		ClientID:      "client",
		ClientSecret:  "super-secret",
	}, guard)
	if err != nil {
		t.Fatalf("newServerCredential() error = %v", err)
	}

	if strings.Contains(cred.String(), "super-secret") {
		t.Errorf("String() leaks the secret: %s", cred.String())
	}
	if strings.Contains(string(cred.clientSecret), "super-secret") {
		t.Error("secret is stored in plaintext")
	}
	if cred.ProviderType != "azure" {
		t.Errorf("ProviderType = %q, want azure", cred.ProviderType)
	}

	plain, err := guard.DecryptString(cred.clientSecret)
	if err != nil || plain != "super-secret" {
		t.Errorf("DecryptString() = %q, %v", plain, err)
	}
}

func TestToken_AuthorizationHeader(t *testing.T) {
	tests := []struct {
		tokenType string
		want      string
	}{
		{"", "Bearer abc"},
		{"bearer", "Bearer abc"},
		{"BEARER", "Bearer abc"},
		{"MAC", "MAC abc"},
	}

	for _, tt := range tests {
		tok := &Token{AccessToken: "abc", TokenType: tt.tokenType}
		if got := tok.AuthorizationHeader(); got != tt.want {
			t.Errorf("AuthorizationHeader(%q) = %q, want %q", tt.tokenType, got, tt.want)
		}
	}
}

func TestCachedToken_Fresh(t *testing.T) {
	now := time.Now()
	entry := &cachedToken{ExpiresAt: now.Add(5 * time.Second)}

	tests := []struct {
		name   string
		now    time.Time
		buffer time.Duration
		want   bool
	}{
		{"well before expiry", now, 2 * time.Second, true},
		{"inside buffer", now.Add(3500 * time.Millisecond), 2 * time.Second, false},
		{"exactly at buffer edge", now.Add(3 * time.Second), 2 * time.Second, false},
		{"expired", now.Add(6 * time.Second), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.fresh(tt.now, tt.buffer); got != tt.want {
				t.Errorf("fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeToken(t *testing.T) {
	guard, err := crypto.NewSecretsGuardFromPassphrase("passphrase")
	if err != nil {
		t.Fatalf("NewSecretsGuardFromPassphrase() error = %v", err)
	}
	other, err := crypto.NewSecretsGuardFromPassphrase("different")
	if err != nil {
		t.Fatalf("NewSecretsGuardFromPassphrase() error = %v", err)
	}

	issued := time.Now().Truncate(time.Second)
	raw, err := encodeToken(&Token{AccessToken: "abc", TokenType: "Bearer", IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}, guard)
	if err != nil {
		t.Fatalf("encodeToken() error = %v", err)
	}

	entry, err := decodeToken(raw)
	if err != nil {
		t.Fatalf("decodeToken() error = %v", err)
	}
	tok, err := entry.decrypt(guard)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if tok.AccessToken != "abc" || !tok.ExpiresAt.Equal(issued.Add(time.Hour)) {
		t.Errorf("decrypt() = %+v", tok)
	}

	if _, err := entry.decrypt(other); err == nil {
		t.Error("decrypt() with a different key should fail")
	}
}
