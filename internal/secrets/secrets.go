// Package secrets resolves the secret bindings an invocation requires.
// Providers only supply values; whether a required secret is actually bound
// is judged by the contract validator, before anything executes.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// Provider resolves secret names to values.
type Provider interface {
	// Get returns the value bound to name, or ("", nil) when unbound.
	Get(ctx context.Context, name string) (string, error)
}

// envPrefix namespaces invocation secrets in the process environment so an
// unrelated variable can never silently satisfy a template's contract.
const envPrefix = "CONVEYOR_SECRET_"

// EnvProvider reads secrets from CONVEYOR_SECRET_* environment variables.
// This is the binding mechanism for CLI invocations.
type EnvProvider struct{}

// Get returns the environment-bound value for name.
func (EnvProvider) Get(ctx context.Context, name string) (string, error) {
	return os.Getenv(envPrefix + name), nil
}

// SecretsManagerProvider resolves secrets from a single Secrets Manager
// entry holding a JSON object of name/value pairs. The entry is fetched
// once and cached for the process lifetime.
type SecretsManagerProvider struct {
	client     *secretsmanager.Client
	secretName string

	mu     sync.Mutex
	cached map[string]string
}

// NewSecretsManagerProvider creates a provider reading from secretName.
func NewSecretsManagerProvider(client *secretsmanager.Client, secretName string) *SecretsManagerProvider {
	return &SecretsManagerProvider{
		client:     client,
		secretName: secretName,
	}
}

// Get returns the value bound to name in the secrets entry.
func (p *SecretsManagerProvider) Get(ctx context.Context, name string) (string, error) {
	values, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	return values[name], nil
}

func (p *SecretsManagerProvider) load(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretName),
	})
	if err != nil {
		// A missing entry means no secrets are bound for this environment;
		// the contract validator reports any the template actually requires.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException" {
			p.cached = map[string]string{}
			return p.cached, nil
		}
		return nil, fmt.Errorf("failed to get secret %s: %w", p.secretName, err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", p.secretName)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secret %s: %w", p.secretName, err)
	}

	p.cached = values
	return values, nil
}

// StaticProvider serves a fixed map. Used by tests and by CLI --secret flags.
type StaticProvider map[string]string

// Get returns the statically bound value for name.
func (p StaticProvider) Get(ctx context.Context, name string) (string, error) {
	return p[name], nil
}

// Chain consults providers in order and returns the first non-empty value.
type Chain []Provider

// Get returns the first bound value for name across the chain.
func (c Chain) Get(ctx context.Context, name string) (string, error) {
	for _, p := range c {
		value, err := p.Get(ctx, name)
		if err != nil {
			return "", err
		}
		if value != "" {
			return value, nil
		}
	}
	return "", nil
}

// ParseBinding parses a --secret NAME=VALUE flag.
func ParseBinding(s string) (name, value string, err error) {
	name, value, found := strings.Cut(s, "=")
	if !found || name == "" {
		return "", "", fmt.Errorf("invalid secret binding %q, expected NAME=VALUE", s)
	}
	return name, value, nil
}

// Resolve collects values for the given secret names from the provider.
// Unbound names are simply absent from the result; the contract validator
// decides whether that is an error.
func Resolve(ctx context.Context, provider Provider, names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	for _, name := range names {
		value, err := provider.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if value != "" {
			values[name] = value
		}
	}
	return values, nil
}
