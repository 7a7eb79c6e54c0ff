// Package credentials resolves provider API keys and other secrets,
// trying each configured backend in order until one answers.
package credentials

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no backend has the requested secret.
var ErrNotFound = errors.New("secret not found")

// Manager resolves a named secret (e.g. "ANTHROPIC_API_KEY") to its value.
type Manager interface {
	GetSecret(name string) (string, error)
}

// envPrefix namespaces environment-variable secrets so GATEWAYCORE_ owns
// its own variables rather than colliding with unrelated ones.
const envPrefix = "GATEWAYCORE_"

// EnvManager resolves secrets from environment variables named
// GATEWAYCORE_<name>.
type EnvManager struct{}

func (EnvManager) GetSecret(name string) (string, error) {
	envName := envPrefix + name
	value := os.Getenv(envName)
	if value == "" {
		return "", fmt.Errorf("%w: %s not set in environment", ErrNotFound, envName)
	}
	return value, nil
}

// keyringService is the OS keychain service name secrets are stored under.
const keyringService = "gatewaycore"

// KeyringManager resolves secrets from the OS credential store (macOS
// Keychain, Windows Credential Manager, Linux Secret Service).
type KeyringManager struct{}

func (KeyringManager) GetSecret(name string) (string, error) {
	value, err := keyring.Get(keyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s not in keyring", ErrNotFound, name)
		}
		return "", fmt.Errorf("keyring lookup for %s: %w", name, err)
	}
	return value, nil
}

// SetSecret stores a secret in the OS credential store, for a pairing or
// onboarding flow to call after prompting the user.
func (KeyringManager) SetSecret(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("keyring store for %s: %w", name, err)
	}
	return nil
}

// CompositeManager tries each backend in order, returning the first
// successful resolution.
type CompositeManager struct {
	backends []Manager
}

// NewCompositeManager builds a CompositeManager trying backends in the
// given order.
func NewCompositeManager(backends ...Manager) *CompositeManager {
	return &CompositeManager{backends: backends}
}

func (c *CompositeManager) GetSecret(name string) (string, error) {
	var lastErr error
	for _, backend := range c.backends {
		value, err := backend.GetSecret(name)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return "", fmt.Errorf("%w: no secret backends configured", ErrNotFound)
	}
	return "", fmt.Errorf("%s: %w", name, lastErr)
}

// Default returns the gateway's standard resolution order: environment
// variables first (for containerized/CI deployments), then the OS
// keyring (for interactive desktop use).
func Default() *CompositeManager {
	return NewCompositeManager(EnvManager{}, KeyringManager{})
}
