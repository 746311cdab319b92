package hosting

import (
	"fmt"
)

// NewProviderFunc is a constructor function for creating a hosting provider.
// This is used by the factory to avoid import cycles: the actual
// GitHub/GitLab constructors are registered at init time by the provider
// packages.
type NewProviderFunc func(remoteURL, token string) (Provider, error)

// Provider constructors registered by provider packages.
var providerConstructors = map[ProviderType]NewProviderFunc{}

// RegisterProvider registers a provider constructor.
// Called from init() in provider packages (github/, gitlab/).
func RegisterProvider(providerType ProviderType, constructor NewProviderFunc) {
	providerConstructors[providerType] = constructor
}

// NewProvider creates a hosting provider for the given remote URL.
// Returns nil (no error) when the remote is not a recognized provider, so
// callers can treat "no provider" as a successful partial outcome.
func NewProvider(remoteURL, token string) (Provider, error) {
	providerType := DetectProvider(remoteURL)
	if providerType == ProviderUnknown {
		return nil, nil
	}

	constructor, ok := providerConstructors[providerType]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", providerType)
	}
	return constructor(remoteURL, token)
}
