package providers

import (
	"strings"

	"dicomweb-oauth/internal/common/logging"
)

const (
	// GoogleTokenEndpoint is used when no endpoint is configured
	GoogleTokenEndpoint = "https://oauth2.googleapis.com/token"
	// GoogleHealthcareScope grants access to the Cloud Healthcare API
	GoogleHealthcareScope = "https://www.googleapis.com/auth/cloud-healthcare"
)

// NewGoogle creates a provider for the Cloud Healthcare API
func NewGoogle(cfg Config) (*ClientCredentials, error) {
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = GoogleTokenEndpoint
	}

	p, err := newClientCredentials(TypeGoogle, cfg, false)
	if err != nil {
		return nil, err
	}

	if cfg.Scope != "" && !strings.Contains(cfg.Scope, "googleapis.com/auth/cloud-healthcare") {
		p.cfg.Logger.Warn("Scope may not grant Cloud Healthcare API access",
			logging.String("scope", cfg.Scope),
			logging.String("recommended_scope", GoogleHealthcareScope))
	}
	return p, nil
}
