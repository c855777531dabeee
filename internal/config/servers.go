package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"dicomweb-oauth/internal/circuitbreaker"
	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/oauth2/providers"
	"dicomweb-oauth/internal/oauth2/validation"
	"dicomweb-oauth/internal/ratelimit"
	"dicomweb-oauth/internal/retry"
)

// Server defaults
const (
	DefaultRefreshBuffer  = 300 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// ServerConfig is the OAuth configuration of one DICOMweb server
type ServerConfig struct {
	Name           string                `yaml:"-"`
	URL            string                `yaml:"url" validate:"omitempty,url"`
	TokenEndpoint  string                `yaml:"token_endpoint" validate:"omitempty,url"`
	ClientID       string                `yaml:"client_id"`
	ClientSecret   string                `yaml:"client_secret"`
	Scope          string                `yaml:"scope"`
	TenantID       string                `yaml:"tenant_id"`
	Resource       string                `yaml:"resource"`
	VerifyTLS      *bool                 `yaml:"verify_tls"`
	Provider       string                `yaml:"provider" validate:"omitempty,oneof=auto generic azure google aws keycloak azure_managed_identity"`
	RefreshBuffer  time.Duration         `yaml:"refresh_buffer" validate:"gte=0"`
	RequestTimeout time.Duration         `yaml:"request_timeout" validate:"gte=0"`
	CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
	Retry          retry.Config          `yaml:"retry"`
	RateLimit      ratelimit.Config      `yaml:"rate_limit"`
	JWT            validation.Config     `yaml:"jwt"`
}

// DefaultServerConfig is the starting point every server entry is decoded onto
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Provider:       providers.TypeAuto,
		RefreshBuffer:  DefaultRefreshBuffer,
		RequestTimeout: DefaultRequestTimeout,
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		Retry:          retry.DefaultConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
	}
}

// UnmarshalYAML decodes onto DefaultServerConfig so omitted keys keep
// their defaults, including nested blocks that are only partly set
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ServerConfig
	p := plain(DefaultServerConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = ServerConfig(p)
	return nil
}

// TLSVerified reports whether the token endpoint certificate is checked.
// An unset verify_tls means true.
func (s *ServerConfig) TLSVerified() bool {
	return s.VerifyTLS == nil || *s.VerifyTLS
}

// ProviderType returns the provider family this server resolves to
func (s *ServerConfig) ProviderType() string {
	return providers.Resolve(s.Provider, s.TokenEndpoint)
}

// ApplyDefaults fills zero values for servers built in code rather than
// decoded from YAML
func (s *ServerConfig) ApplyDefaults() {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = providers.TypeAuto
	}
	if s.RefreshBuffer == 0 {
		s.RefreshBuffer = DefaultRefreshBuffer
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	def := circuitbreaker.DefaultConfig()
	if s.CircuitBreaker.FailureThreshold == 0 {
		s.CircuitBreaker.FailureThreshold = def.FailureThreshold
	}
	if s.CircuitBreaker.OpenTimeout == 0 {
		s.CircuitBreaker.OpenTimeout = def.OpenTimeout
	}
	if s.VerifyTLS == nil {
		verify := true
		s.VerifyTLS = &verify
	}
	if s.RateLimit.Enabled == nil && s.RateLimit.Requests == 0 {
		s.RateLimit = ratelimit.DefaultConfig()
	}
}

// Validate checks one server. Missing required keys are CFG-001, anything
// present but wrong is CFG-002.
func (s *ServerConfig) Validate() error {
	if s.Name == "" {
		return errors.ConfigError(errors.CodeConfigMissingKey, "server name is required")
	}

	if err := validate.Struct(s); err != nil {
		return fromValidationError(s.Name, err)
	}

	kind := s.ProviderType()
	if s.TokenEndpoint == "" && kind != providers.TypeGoogle && kind != providers.TypeManagedIdentity {
		return missingKey(s.Name, "token_endpoint")
	}
	if kind != providers.TypeManagedIdentity {
		if s.ClientID == "" {
			return missingKey(s.Name, "client_id")
		}
		if s.ClientSecret == "" {
			return missingKey(s.Name, "client_secret")
		}
	}

	if err := s.CircuitBreaker.Validate(); err != nil {
		return invalidValue(s.Name, "circuit_breaker", err)
	}
	if err := s.Retry.Validate(); err != nil {
		return invalidValue(s.Name, "retry", err)
	}
	if err := s.RateLimit.Validate(); err != nil {
		return invalidValue(s.Name, "rate_limit", err)
	}
	if _, err := validation.New(s.JWT); err != nil {
		return invalidValue(s.Name, "jwt", err)
	}

	return nil
}

// File is the on-disk layout of the server configuration
type File struct {
	Servers map[string]ServerConfig `yaml:"servers"`
}

// LoadServers reads, expands and validates the server file at path
func LoadServers(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError(errors.CodeConfigMissingKey,
			fmt.Sprintf("cannot read server configuration %s", path)).
			WithContext("cause", err.Error())
	}
	return ParseServers(data, os.LookupEnv)
}

// ParseServers decodes a server file. ${VAR} references in values are
// resolved with lookup; an unset variable is CFG-003. Servers are returned
// sorted by name with defaults applied and validated.
func ParseServers(data []byte, lookup func(string) (string, bool)) ([]ServerConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalidValue, "server configuration is not valid YAML").
			WithContext("cause", err.Error())
	}
	if err := expandEnv(&root, lookup); err != nil {
		return nil, err
	}

	var file File
	if err := root.Decode(&file); err != nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalidValue, "server configuration has invalid values").
			WithContext("cause", err.Error())
	}
	if len(file.Servers) == 0 {
		return nil, errors.ConfigError(errors.CodeConfigMissingKey, "at least one server must be configured")
	}

	servers := make([]ServerConfig, 0, len(file.Servers))
	for name, server := range file.Servers {
		server.Name = name
		server.ApplyDefaults()
		if err := server.Validate(); err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(node *yaml.Node, lookup func(string) (string, bool)) error {
	if node.Kind == yaml.ScalarNode && strings.Contains(node.Value, "${") {
		var missing string
		node.Value = envReference.ReplaceAllStringFunc(node.Value, func(ref string) string {
			name := envReference.FindStringSubmatch(ref)[1]
			value, ok := lookup(name)
			if !ok && missing == "" {
				missing = name
			}
			return value
		})
		if missing != "" {
			return errors.ConfigError(errors.CodeConfigEnvMissing,
				fmt.Sprintf("environment variable %s is not set", missing)).
				WithContext("variable", missing).
				WithContext("line", node.Line)
		}
		// Re-resolve the tag so "${ATTEMPTS}" can feed an int field
		node.Tag = ""
		node.Style = 0
	}
	for _, child := range node.Content {
		if err := expandEnv(child, lookup); err != nil {
			return err
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func fromValidationError(server string, err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return invalidValue(server, "", err)
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "ServerConfig.")
	if fe.Tag() == "required" {
		return missingKey(server, field)
	}
	return errors.ConfigError(errors.CodeConfigInvalidValue,
		fmt.Sprintf("server %s: %s failed %q validation", server, field, fe.Tag())).
		WithContext("server", server).
		WithContext("field", field)
}

func missingKey(server, field string) error {
	return errors.ConfigError(errors.CodeConfigMissingKey,
		fmt.Sprintf("server %s: %s is required", server, field)).
		WithContext("server", server).
		WithContext("field", field)
}

func invalidValue(server, field string, cause error) error {
	err := errors.ConfigError(errors.CodeConfigInvalidValue,
		fmt.Sprintf("server %s: invalid %s", server, field)).
		WithContext("server", server)
	err.Cause = cause
	return err
}
