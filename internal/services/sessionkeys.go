package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
)

// SessionKeyVersion is one rotated session encryption key. The secret holds an
// array of these, most recent first, so cookies signed with the previous key
// stay valid across a rotation.
type SessionKeyVersion struct {
	Secret    string `json:"secret"` // base64-encoded 32-byte key
	Timestamp string `json:"timestamp"`
}

// SessionKeyService provides session cookie encryption keys from Secrets Manager
type SessionKeyService struct {
	client     *secretsmanager.Client
	secretName string
	onceFunc   func() ([][]byte, error)
}

// NewSessionKeyService creates a new session key service
func NewSessionKeyService(client *secretsmanager.Client, secretName string) *SessionKeyService {
	s := &SessionKeyService{
		client:     client,
		secretName: secretName,
	}

	// Keys are fetched once per Lambda lifecycle; Lambda recycling every few
	// hours naturally picks up rotated keys.
	s.onceFunc = sync.OnceValues(func() ([][]byte, error) {
		return s.fetchSessionKeys(context.Background())
	})

	return s
}

// GetSessionKeys returns the current session encryption keys from Secrets Manager.
func (s *SessionKeyService) GetSessionKeys(ctx context.Context) ([][]byte, error) {
	return s.onceFunc()
}

func (s *SessionKeyService) fetchSessionKeys(ctx context.Context) ([][]byte, error) {
	logger := zerolog.Ctx(ctx)

	logger.Info().Str("secret_name", s.secretName).Msg("Fetching session keys from Secrets Manager")

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", s.secretName, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", s.secretName)
	}

	var versions []SessionKeyVersion
	if err := json.Unmarshal([]byte(*result.SecretString), &versions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session key versions: %w", err)
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("no session key versions found in %s", s.secretName)
	}

	keys := make([][]byte, 0, len(versions))
	for i, version := range versions {
		decoded, err := base64.StdEncoding.DecodeString(version.Secret)
		if err != nil {
			logger.Warn().
				Int("index", i).
				Str("timestamp", version.Timestamp).
				Err(err).
				Msg("Failed to decode session key version, skipping")
			continue
		}

		// AES-256 requires 32-byte keys
		if len(decoded) != 32 {
			logger.Warn().
				Int("index", i).
				Int("length", len(decoded)).
				Str("timestamp", version.Timestamp).
				Msg("Session key version has invalid length, skipping")
			continue
		}

		keys = append(keys, decoded)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid session keys found in secret %s", s.secretName)
	}

	logger.Info().Int("key_count", len(keys)).Msg("Loaded session keys")

	return keys, nil
}
