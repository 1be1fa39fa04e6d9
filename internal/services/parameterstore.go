package services

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds all engine configuration values from Parameter Store
type Config struct {
	ArtifactBucket         string // S3 bucket receiving run artifacts
	CatalogDir             string // optional extra catalog directory
	OIDCIssuerURL          string // issuer for API caller authentication
	OIDCClientID           string
	AllowedSubject         string // restrict API access to one subject/email
	SessionTokenSecretName string
	CustomDomain           string
	WebIdentityTokenFile   string // token exchanged for role credentials
	SecretsName            string // Secrets Manager entry holding secret bindings
	WorkDir                string // base directory for step execution
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all engine configuration from Parameter Store
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client *ssm.Client
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client *ssm.Client, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	// Check cache first
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all engine configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/conveyor", s.env)

	// Use GetParametersByPath for efficient batch retrieval
	result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
	}

	params := make(map[string]string)
	for _, param := range result.Parameters {
		if param.Name != nil && param.Value != nil {
			params[*param.Name] = *param.Value
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	config := &Config{
		ArtifactBucket:         params[fmt.Sprintf("/%s/conveyor/artifact-bucket", s.env)],
		CatalogDir:             params[fmt.Sprintf("/%s/conveyor/catalog-dir", s.env)],
		OIDCIssuerURL:          params[fmt.Sprintf("/%s/conveyor/oidc-issuer-url", s.env)],
		OIDCClientID:           params[fmt.Sprintf("/%s/conveyor/oidc-client-id", s.env)],
		AllowedSubject:         params[fmt.Sprintf("/%s/conveyor/allowed-subject", s.env)],
		SessionTokenSecretName: params[fmt.Sprintf("/%s/conveyor/session-token-secret-name", s.env)],
		CustomDomain:           params[fmt.Sprintf("/%s/conveyor/custom-domain", s.env)],
		WebIdentityTokenFile:   params[fmt.Sprintf("/%s/conveyor/web-identity-token-file", s.env)],
		SecretsName:            params[fmt.Sprintf("/%s/conveyor/secrets-name", s.env)],
		WorkDir:                params[fmt.Sprintf("/%s/conveyor/work-dir", s.env)],
	}

	applyDefaults(config, s.env)

	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables
// This is a NoOp implementation for local development without AWS connection
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetConfig loads all engine configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := &Config{
		ArtifactBucket:         os.Getenv("ARTIFACT_BUCKET"),
		CatalogDir:             os.Getenv("CATALOG_DIR"),
		OIDCIssuerURL:          os.Getenv("OIDC_ISSUER_URL"),
		OIDCClientID:           os.Getenv("OIDC_CLIENT_ID"),
		AllowedSubject:         os.Getenv("ALLOWED_SUBJECT"),
		SessionTokenSecretName: os.Getenv("SESSION_TOKEN_SECRET_NAME"),
		CustomDomain:           os.Getenv("CUSTOM_DOMAIN"),
		WebIdentityTokenFile:   os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE"),
		SecretsName:            os.Getenv("SECRETS_NAME"),
		WorkDir:                os.Getenv("WORK_DIR"),
	}

	applyDefaults(config, e.env)

	return config, nil
}

func applyDefaults(config *Config, env string) {
	if config.SessionTokenSecretName == "" {
		config.SessionTokenSecretName = fmt.Sprintf("conveyor/%s/session-token", env)
	}
	if config.SecretsName == "" {
		config.SecretsName = fmt.Sprintf("conveyor/%s/secrets", env)
	}
	if config.WorkDir == "" {
		config.WorkDir = "/tmp/conveyor"
	}
}

func boolPtr(b bool) *bool {
	return &b
}
