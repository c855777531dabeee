package providers

import (
	"strings"
)

const realmsSegment = "/realms/"

// Keycloak is a realm-scoped provider. The issuer and JWKS location are
// derived from the realm path of the token endpoint.
type Keycloak struct {
	*ClientCredentials
	realm string
}

// NewKeycloak creates a provider for a Keycloak realm
func NewKeycloak(cfg Config) (*Keycloak, error) {
	issuer, realm := keycloakIssuer(cfg.TokenEndpoint)
	if issuer != "" {
		if !cfg.JWT.Enabled() {
			cfg.JWT.JWKSURL = issuer + "/protocol/openid-connect/certs"
		}
		if cfg.JWT.Issuer == "" {
			cfg.JWT.Issuer = issuer
		}
	}

	cc, err := newClientCredentials(TypeKeycloak, cfg, false)
	if err != nil {
		return nil, err
	}
	return &Keycloak{ClientCredentials: cc, realm: realm}, nil
}

// Realm returns the realm parsed from the token endpoint
func (k *Keycloak) Realm() string {
	return k.realm
}

// keycloakIssuer returns "<base>/realms/<realm>" for an endpoint such as
// https://kc/auth/realms/dicom/protocol/openid-connect/token
func keycloakIssuer(endpoint string) (issuer, realm string) {
	idx := strings.Index(endpoint, realmsSegment)
	if idx < 0 {
		return "", ""
	}
	rest := endpoint[idx+len(realmsSegment):]
	realm = rest
	if slash := strings.Index(rest, "/"); slash >= 0 {
		realm = rest[:slash]
	}
	if realm == "" {
		return "", ""
	}
	return endpoint[:idx] + realmsSegment + realm, realm
}
