package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretsManagerService struct {
	client *secretsmanager.Client
}

// OAuthConfig represents the OIDC client configuration used to authenticate
// API callers. Stored as a JSON object in Secrets Manager so the client
// secret never lands in Parameter Store.
type OAuthConfig struct {
	IssuerURL     string `json:"issuer_url"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	EndSessionURL string `json:"end_session_url"` // optional RP-initiated logout endpoint
}

func NewSecretsManagerService(client *secretsmanager.Client) *SecretsManagerService {
	return &SecretsManagerService{client: client}
}

// GetOAuthConfig retrieves the OIDC client configuration from AWS Secrets Manager.
// Values from Parameter Store (issuer, client id) take precedence when present
// so non-secret settings remain editable without a secret rotation.
func (s *SecretsManagerService) GetOAuthConfig(ctx context.Context, config Config) (*OAuthConfig, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "dev"
	}

	secretName := fmt.Sprintf("conveyor/%s/oauth", env)

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretName, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretName)
	}

	var oauthConfig OAuthConfig
	if err := json.Unmarshal([]byte(*result.SecretString), &oauthConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OAuth config: %w", err)
	}

	if config.OIDCIssuerURL != "" {
		oauthConfig.IssuerURL = config.OIDCIssuerURL
	}
	if config.OIDCClientID != "" {
		oauthConfig.ClientID = config.OIDCClientID
	}

	return &oauthConfig, nil
}

// GetSecret retrieves a secret value by path from AWS Secrets Manager
func (s *SecretsManagerService) GetSecret(ctx context.Context, secretPath string) (string, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", secretPath, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretPath)
	}

	return *result.SecretString, nil
}
