package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dicomweb-oauth/internal/circuitbreaker"
	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/ratelimit"
	"dicomweb-oauth/internal/retry"
)

var envVars = []string{
	"DICOMWEB_OAUTH_CONFIG", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	"CACHE_BACKEND", "CACHE_ENCRYPTION_KEY", "REDIS_ADDRESS", "REDIS_PASSWORD",
	"REDIS_DB", "REDIS_POOL_SIZE", "REDIS_KEY_PREFIX", "DISTRIBUTED_LOCK_ENABLED",
	"METRICS_ENABLED",
}

func clearTestEnvVars(t *testing.T) {
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.ConfigPath != "./dicomweb-oauth.yaml" {
		t.Errorf("Load() ConfigPath = %v", config.ConfigPath)
	}
	if config.LogLevel != "info" {
		t.Errorf("Load() LogLevel = %v, want info", config.LogLevel)
	}
	if config.LogFormat != "json" {
		t.Errorf("Load() LogFormat = %v, want json", config.LogFormat)
	}
	if config.CacheBackend != CacheBackendLocal {
		t.Errorf("Load() CacheBackend = %v, want local", config.CacheBackend)
	}
	if config.RedisAddress != "localhost:6379" {
		t.Errorf("Load() RedisAddress = %v", config.RedisAddress)
	}
	if config.RedisPoolSize != 10 {
		t.Errorf("Load() RedisPoolSize = %v, want 10", config.RedisPoolSize)
	}
	if config.RedisKeyPrefix != "dicomweb-oauth:" {
		t.Errorf("Load() RedisKeyPrefix = %v", config.RedisKeyPrefix)
	}
	if !config.DistributedLock {
		t.Error("Load() DistributedLock should default to true")
	}
	if config.MetricsEnabled {
		t.Error("Load() MetricsEnabled should default to false")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("CACHE_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDRESS", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CACHE_ENCRYPTION_KEY", "shared-passphrase")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("LOG_FORMAT", "console")

	config := Load()

	if !config.UsesRedis() {
		t.Errorf("UsesRedis() = false for CACHE_BACKEND=%q", config.CacheBackend)
	}
	if config.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", config.RedisDB)
	}
	if !config.MetricsEnabled {
		t.Error("MetricsEnabled = false, want true")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		wantCode string
	}{
		{"unknown cache backend", func(c *Config) { c.CacheBackend = "memcached" }, errors.CodeConfigInvalidValue},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, errors.CodeConfigInvalidValue},
		{"redis without address", func(c *Config) { c.CacheBackend = CacheBackendRedis; c.RedisAddress = "" }, errors.CodeConfigMissingKey},
		{"redis db out of range", func(c *Config) { c.CacheBackend = CacheBackendRedis; c.RedisDB = 16 }, errors.CodeConfigInvalidValue},
		{"non numeric pool size", func(c *Config) { c.CacheBackend = CacheBackendRedis; c.RedisPoolSize = -1 }, errors.CodeConfigInvalidValue},
		{"empty config path", func(c *Config) { c.ConfigPath = "" }, errors.CodeConfigMissingKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			config := Load()
			tt.mutate(config)

			err := config.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if errors.CodeOf(err) != tt.wantCode {
				t.Errorf("CodeOf() = %q, want %q", errors.CodeOf(err), tt.wantCode)
			}
		})
	}
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

const serverFile = `
servers:
  dicom-b:
    url: https://pacs.example.org/dicom-web
    token_endpoint: https://idp.example.org/oauth/token
    client_id: client-b
    client_secret: ${DICOM_B_SECRET}
    rate_limit:
      requests: 2
      window: 60s
  dicom-a:
    url: https://dicom.example.org/dicomweb
    token_endpoint: https://login.microsoftonline.com/t/oauth2/v2.0/token
    client_id: ${DICOM_A_CLIENT_ID}
    client_secret: ${DICOM_A_SECRET}
    scope: https://dicom.healthcareapis.azure.com/.default
    refresh_buffer: 120s
    circuit_breaker: {failure_threshold: 3}
    retry: {strategy: linear, max_attempts: "${ATTEMPTS}", initial_delay: 500ms}
    jwt: {jwks_url: "https://login.microsoftonline.com/t/discovery/v2.0/keys", algorithms: [RS256]}
`

func TestParseServers(t *testing.T) {
	env := map[string]string{
		"DICOM_A_CLIENT_ID": "client-a",
		"DICOM_A_SECRET":    "secret-a",
		"DICOM_B_SECRET":    "12345",
		"ATTEMPTS":          "4",
	}

	servers, err := ParseServers([]byte(serverFile), lookupFrom(env))
	if err != nil {
		t.Fatalf("ParseServers() error = %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers) = %d, want 2", len(servers))
	}

	a, b := servers[0], servers[1]
	if a.Name != "dicom-a" || b.Name != "dicom-b" {
		t.Fatalf("servers not sorted: %s, %s", a.Name, b.Name)
	}

	if a.ClientID != "client-a" || a.ClientSecret != "secret-a" {
		t.Errorf("env expansion failed: %q / %q", a.ClientID, a.ClientSecret)
	}
	if b.ClientSecret != "12345" {
		t.Errorf("numeric-looking secret = %q", b.ClientSecret)
	}
	if a.RefreshBuffer != 120*time.Second {
		t.Errorf("RefreshBuffer = %v", a.RefreshBuffer)
	}
	if b.RefreshBuffer != DefaultRefreshBuffer {
		t.Errorf("default RefreshBuffer = %v", b.RefreshBuffer)
	}
	if !a.TLSVerified() || !b.TLSVerified() {
		t.Error("verify_tls should default to true")
	}
	if a.ProviderType() != "azure" || b.ProviderType() != "generic" {
		t.Errorf("ProviderType() = %s, %s", a.ProviderType(), b.ProviderType())
	}

	wantCB := circuitbreaker.Config{FailureThreshold: 3, OpenTimeout: 60 * time.Second}
	if a.CircuitBreaker != wantCB {
		t.Errorf("CircuitBreaker = %+v, want %+v", a.CircuitBreaker, wantCB)
	}
	if a.Retry.Strategy != retry.StrategyLinear || a.Retry.MaxAttempts != 4 || a.Retry.InitialDelay != 500*time.Millisecond {
		t.Errorf("Retry = %+v", a.Retry)
	}
	if a.Retry.MaxDelay != 30*time.Second {
		t.Errorf("partial retry block lost default max_delay: %v", a.Retry.MaxDelay)
	}

	if !b.RateLimit.IsEnabled() || b.RateLimit.Requests != 2 || b.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit = %+v", b.RateLimit)
	}
	if b.RateLimit.Algorithm != ratelimit.AlgorithmFixedWindow {
		t.Errorf("RateLimit.Algorithm = %v", b.RateLimit.Algorithm)
	}
}

func TestParseServers_MissingEnvVar(t *testing.T) {
	_, err := ParseServers([]byte(serverFile), lookupFrom(map[string]string{"ATTEMPTS": "3"}))
	if err == nil {
		t.Fatal("expected error for unset variable")
	}
	if errors.CodeOf(err) != errors.CodeConfigEnvMissing {
		t.Errorf("CodeOf() = %q, want CFG-003", errors.CodeOf(err))
	}
}

func TestParseServers_Errors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantCode string
	}{
		{"no servers", "servers: {}", errors.CodeConfigMissingKey},
		{"invalid yaml", "servers: [", errors.CodeConfigInvalidValue},
		{"missing client id", `
servers:
  a:
    token_endpoint: https://idp.example.org/token
    client_secret: s`, errors.CodeConfigMissingKey},
		{"missing token endpoint", `
servers:
  a:
    client_id: c
    client_secret: s`, errors.CodeConfigMissingKey},
		{"bad endpoint url", `
servers:
  a:
    token_endpoint: not-a-url
    client_id: c
    client_secret: s`, errors.CodeConfigInvalidValue},
		{"unknown provider", `
servers:
  a:
    token_endpoint: https://idp.example.org/token
    client_id: c
    client_secret: s
    provider: okta`, errors.CodeConfigInvalidValue},
		{"bad retry strategy", `
servers:
  a:
    token_endpoint: https://idp.example.org/token
    client_id: c
    client_secret: s
    retry: {strategy: random}`, errors.CodeConfigInvalidValue},
		{"none algorithm", `
servers:
  a:
    token_endpoint: https://idp.example.org/token
    client_id: c
    client_secret: s
    jwt: {jwks_url: "https://idp.example.org/keys", algorithms: [none]}`, errors.CodeConfigInvalidValue},
		{"bad duration", `
servers:
  a:
    token_endpoint: https://idp.example.org/token
    client_id: c
    client_secret: s
    refresh_buffer: soon`, errors.CodeConfigInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServers([]byte(tt.yaml), lookupFrom(nil))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsType(err, errors.ErrTypeConfig) {
				t.Errorf("error type = %v", errors.GetType(err))
			}
			if errors.CodeOf(err) != tt.wantCode {
				t.Errorf("CodeOf() = %q, want %q (%v)", errors.CodeOf(err), tt.wantCode, err)
			}
		})
	}
}

func TestParseServers_ManagedIdentityNeedsNoSecret(t *testing.T) {
	servers, err := ParseServers([]byte(`
servers:
  mi:
    url: https://ws.dicom.azurehealthcareapis.com
    provider: azure_managed_identity
`), lookupFrom(nil))
	if err != nil {
		t.Fatalf("ParseServers() error = %v", err)
	}
	if servers[0].ProviderType() != "azure_managed_identity" {
		t.Errorf("ProviderType() = %s", servers[0].ProviderType())
	}
}

func TestLoadServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	content := `
servers:
  pacs:
    token_endpoint: https://idp.example.org/token
    client_id: c
    client_secret: ${PACS_SECRET}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PACS_SECRET", "from-env")

	servers, err := LoadServers(path)
	if err != nil {
		t.Fatalf("LoadServers() error = %v", err)
	}
	if servers[0].ClientSecret != "from-env" {
		t.Errorf("ClientSecret = %q", servers[0].ClientSecret)
	}

	if _, err := LoadServers(filepath.Join(dir, "missing.yaml")); errors.CodeOf(err) != errors.CodeConfigMissingKey {
		t.Errorf("missing file CodeOf() = %q", errors.CodeOf(err))
	}
}

func TestApplyDefaults(t *testing.T) {
	s := ServerConfig{Name: "x", Provider: " Azure "}
	s.ApplyDefaults()

	if s.Provider != "azure" {
		t.Errorf("Provider = %q", s.Provider)
	}
	if s.RequestTimeout != DefaultRequestTimeout || s.RefreshBuffer != DefaultRefreshBuffer {
		t.Errorf("timeouts = %v / %v", s.RequestTimeout, s.RefreshBuffer)
	}
	if s.CircuitBreaker != circuitbreaker.DefaultConfig() {
		t.Errorf("CircuitBreaker = %+v", s.CircuitBreaker)
	}
	if s.RateLimit != ratelimit.DefaultConfig() {
		t.Errorf("RateLimit = %+v", s.RateLimit)
	}
	if s.VerifyTLS == nil || !*s.VerifyTLS || !s.TLSVerified() {
		t.Error("code-built server should verify TLS by default")
	}
}

func TestApplyDefaults_KeepsExplicitSettings(t *testing.T) {
	off := false
	tests := []struct {
		name        string
		server      ServerConfig
		wantVerify  bool
		wantLimited bool
		wantLimit   int
	}{
		{"explicit tls off", ServerConfig{Name: "x", VerifyTLS: &off}, false, true, 60},
		{"limit without enabled flag", ServerConfig{Name: "x", RateLimit: ratelimit.Config{Requests: 2, Window: time.Minute}}, true, true, 2},
		{"limiting disabled", ServerConfig{Name: "x", RateLimit: ratelimit.Config{Enabled: &off}}, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.server
			s.ApplyDefaults()
			if s.TLSVerified() != tt.wantVerify {
				t.Errorf("TLSVerified() = %v, want %v", s.TLSVerified(), tt.wantVerify)
			}
			if s.RateLimit.IsEnabled() != tt.wantLimited {
				t.Errorf("RateLimit.IsEnabled() = %v, want %v", s.RateLimit.IsEnabled(), tt.wantLimited)
			}
			if s.RateLimit.Requests != tt.wantLimit {
				t.Errorf("RateLimit.Requests = %d, want %d", s.RateLimit.Requests, tt.wantLimit)
			}
		})
	}
}

func TestParseServers_VerifyTLSFalse(t *testing.T) {
	doc := `
servers:
  dicom-a:
    token_endpoint: https://login.example.org/token
    client_id: c
    client_secret: s
    verify_tls: false
    rate_limit:
      enabled: false
`
	servers, err := ParseServers([]byte(doc), lookupFrom(nil))
	if err != nil {
		t.Fatalf("ParseServers() error = %v", err)
	}
	if servers[0].TLSVerified() {
		t.Error("verify_tls: false should disable verification")
	}
	if servers[0].RateLimit.IsEnabled() {
		t.Error("enabled: false should disable rate limiting")
	}
}
