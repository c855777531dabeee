package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"dicomweb-oauth/internal/common/errors"
)

const (
	// IMDSEndpoint is the Azure Instance Metadata Service token endpoint
	IMDSEndpoint   = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion = "2018-02-01"

	// DefaultManagedIdentityResource is the Azure Health Data Services DICOM audience
	DefaultManagedIdentityResource = "https://dicom.healthcareapis.azure.com"
)

// ManagedIdentity obtains tokens from the local metadata service, so no
// client secret is configured. ClientID, when set, selects a user-assigned
// identity.
type ManagedIdentity struct {
	cfg      Config
	endpoint string
	resource string
}

// NewManagedIdentity creates an Azure managed identity provider
func NewManagedIdentity(cfg Config) (*ManagedIdentity, error) {
	cfg.applyDefaults()

	endpoint := cfg.TokenEndpoint
	if endpoint == "" {
		endpoint = IMDSEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalidValue, "managed identity endpoint is not a valid URL").
			WithContext("server", cfg.Server)
	}

	resource := cfg.Resource
	if resource == "" && cfg.Scope != "" {
		resource = strings.TrimSuffix(cfg.Scope, "/.default")
	}
	if resource == "" {
		resource = DefaultManagedIdentityResource
	}

	return &ManagedIdentity{cfg: cfg, endpoint: endpoint, resource: resource}, nil
}

// Name returns the provider family
func (m *ManagedIdentity) Name() string {
	return TypeManagedIdentity
}

// Resource returns the audience requested from the metadata service
func (m *ManagedIdentity) Resource() string {
	return m.resource
}

// AcquireToken requests a token from the metadata service
func (m *ManagedIdentity) AcquireToken(ctx context.Context) (*TokenResult, error) {
	u, _ := url.Parse(m.endpoint)
	q := u.Query()
	q.Set("api-version", imdsAPIVersion)
	q.Set("resource", m.resource)
	if m.cfg.ClientID != "" {
		q.Set("client_id", m.cfg.ClientID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.ConfigError(errors.CodeConfigInvalidValue, "cannot build metadata request").
			WithContext("server", m.cfg.Server)
	}
	req.Header.Set("Metadata", "true")
	req.Header.Set("Accept", "application/json")

	return exchange(m.cfg.HTTPClient, req, m.cfg.Server, m.cfg.Now)
}

// ValidateToken always succeeds; tokens come straight from the platform
func (m *ManagedIdentity) ValidateToken(context.Context, string) (bool, error) {
	return true, nil
}
