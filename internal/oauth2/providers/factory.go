package providers

import (
	"strings"

	"dicomweb-oauth/internal/common/registry"
)

// Provider family identifiers
const (
	TypeAuto            = "auto"
	TypeGeneric         = "generic"
	TypeAzure           = "azure"
	TypeGoogle          = "google"
	TypeAWS             = "aws"
	TypeKeycloak        = "keycloak"
	TypeManagedIdentity = "azure_managed_identity"
)

// Factory creates providers of a single family
type Factory interface {
	registry.Factory
	Create(cfg Config) (Provider, error)
}

type factoryFunc struct {
	kind   string
	create func(Config) (Provider, error)
}

func (f factoryFunc) GetType() string { return f.kind }
func (f factoryFunc) Create(cfg Config) (Provider, error) { return f.create(cfg) }

// NewFactory adapts a constructor into a Factory
func NewFactory(kind string, create func(Config) (Provider, error)) Factory {
	return factoryFunc{kind: kind, create: create}
}

// Registry holds the known provider families
type Registry = registry.Registry[Factory]

// NewRegistry returns a registry with every built-in family registered
func NewRegistry() *Registry {
	reg := registry.New[Factory]()
	reg.Register(NewFactory(TypeGeneric, func(cfg Config) (Provider, error) { return NewGeneric(cfg) }))
	reg.Register(NewFactory(TypeAzure, func(cfg Config) (Provider, error) { return NewAzure(cfg) }))
	reg.Register(NewFactory(TypeGoogle, func(cfg Config) (Provider, error) { return NewGoogle(cfg) }))
	reg.Register(NewFactory(TypeAWS, func(cfg Config) (Provider, error) { return NewAWS(cfg) }))
	reg.Register(NewFactory(TypeKeycloak, func(cfg Config) (Provider, error) { return NewKeycloak(cfg) }))
	reg.Register(NewFactory(TypeManagedIdentity, func(cfg Config) (Provider, error) { return NewManagedIdentity(cfg) }))
	return reg
}

// Detect picks a family from the token endpoint. Managed identity is
// never detected; it must be requested explicitly.
func Detect(tokenEndpoint string) string {
	endpoint := strings.ToLower(tokenEndpoint)
	switch {
	case strings.Contains(endpoint, "login.microsoftonline.com"):
		return TypeAzure
	case strings.Contains(endpoint, "oauth2.googleapis.com"):
		return TypeGoogle
	case strings.Contains(endpoint, "amazoncognito.com"), strings.Contains(endpoint, "amazonaws.com"):
		return TypeAWS
	case strings.Contains(endpoint, realmsSegment):
		return TypeKeycloak
	default:
		return TypeGeneric
	}
}

// Resolve returns the family to use: providerType unless it is empty or
// "auto", in which case the family is detected from the endpoint
func Resolve(providerType, tokenEndpoint string) string {
	kind := strings.ToLower(strings.TrimSpace(providerType))
	if kind == "" || kind == TypeAuto {
		return Detect(tokenEndpoint)
	}
	return kind
}

// Create resolves the family and builds the provider. An unknown explicit
// type is a configuration error.
func Create(reg *Registry, providerType string, cfg Config) (Provider, error) {
	factory, err := reg.Get(Resolve(providerType, cfg.TokenEndpoint))
	if err != nil {
		return nil, err
	}
	return factory.Create(cfg)
}
