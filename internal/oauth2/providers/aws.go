package providers

// NewAWS creates a provider for a Cognito token endpoint fronting AWS
// HealthImaging. Cognito expects the client credentials as HTTP Basic auth.
func NewAWS(cfg Config) (*ClientCredentials, error) {
	return newClientCredentials(TypeAWS, cfg, true)
}
