package providers

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	azureLoginHost     = "login.microsoftonline.com"
	azureDefaultTenant = "common"
)

// Azure is the Microsoft Entra ID family. Tokens are verified against the
// tenant's published key set unless other keys are configured.
type Azure struct {
	*ClientCredentials
	tenantID string
}

// NewAzure creates an Entra ID provider. The tenant comes from TenantID,
// then from the token endpoint path, then defaults to "common".
func NewAzure(cfg Config) (*Azure, error) {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = tenantFromEndpoint(cfg.TokenEndpoint)
	}

	if !cfg.JWT.Enabled() {
		cfg.JWT.JWKSURL = fmt.Sprintf("https://%s/%s/discovery/v2.0/keys", azureLoginHost, tenant)
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = fmt.Sprintf("https://%s/%s/v2.0", azureLoginHost, tenant)
	}

	cc, err := newClientCredentials(TypeAzure, cfg, false)
	if err != nil {
		return nil, err
	}
	return &Azure{ClientCredentials: cc, tenantID: tenant}, nil
}

// TenantID returns the resolved tenant
func (a *Azure) TenantID() string {
	return a.tenantID
}

// JWKSURL returns the key set tokens are verified against
func (a *Azure) JWKSURL() string {
	return a.cfg.JWT.JWKSURL
}

// Issuer returns the expected token issuer
func (a *Azure) Issuer() string {
	return a.cfg.JWT.Issuer
}

func tenantFromEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || !strings.EqualFold(u.Host, azureLoginHost) {
		return azureDefaultTenant
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return azureDefaultTenant
	}
	return segments[0]
}
