package di

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/conveyorhq/conveyor/internal/auth"
	"github.com/conveyorhq/conveyor/internal/authz"
	"github.com/conveyorhq/conveyor/internal/services"
	"github.com/rs/zerolog"
)

func ProvideSessionKeyService(client *secretsmanager.Client, config *services.Config) *services.SessionKeyService {
	return services.NewSessionKeyService(client, config.SessionTokenSecretName)
}

func ProvideSessionKeys(ctx context.Context, keyService *services.SessionKeyService) ([][]byte, error) {
	logger := zerolog.Ctx(ctx)

	keys, err := keyService.GetSessionKeys(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch session keys from Secrets Manager")

		// Ephemeral keys break sessions across Lambda containers causing
		// auth loops, so in Lambda the keys must come from Secrets Manager.
		if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
			return nil, fmt.Errorf("session keys required in Lambda environment: %w", err)
		}

		logger.Warn().Msg("Using ephemeral session key for local development only")
		return [][]byte{}, nil
	}
	return keys, nil
}

func ProvideAuthenticator(ctx context.Context, secretsService *services.SecretsManagerService, config *services.Config, authorizer *authz.Authorizer, callbackURL CallbackURL, sessionKeys [][]byte, disableAuth DisableAuth) (*auth.Authenticator, error) {
	logger := zerolog.Ctx(ctx)

	if bool(disableAuth) {
		logger.Warn().Msg("⚠️  Authentication is DISABLED - using NoOp authenticator (development only)")
		return auth.NewNoOpAuthenticator(), nil
	}

	oauthConfig, err := secretsService.GetOAuthConfig(ctx, *config)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	if oauthConfig.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is not configured")
	}

	provider := &auth.OIDCProvider{
		IssuerURL:     oauthConfig.IssuerURL,
		EndSessionURL: oauthConfig.EndSessionURL,
	}

	// Local development runs over plain HTTP, so the Secure cookie flag
	// must come off when the callback points at localhost.
	callbackURLStr := string(callbackURL)
	isLocalDev := strings.HasPrefix(callbackURLStr, "http://localhost") ||
		strings.HasPrefix(callbackURLStr, "http://127.0.0.1")

	authenticator, err := auth.NewAuthenticator(ctx, auth.AuthenticatorInput{
		Provider:     provider,
		ClientID:     oauthConfig.ClientID,
		ClientSecret: oauthConfig.ClientSecret,
		CallbackURL:  callbackURLStr,
		Authorizer:   authorizer,
		SessionKeys:  sessionKeys,
		IsLocalDev:   isLocalDev,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	return authenticator, nil
}

func ProvideAuthorizer(logger zerolog.Logger, config *services.Config) *authz.Authorizer {
	if config.AllowedSubject == "" {
		logger.Info().Msg("Subject authorization disabled - all authenticated users allowed")
		return nil
	}

	logger.Info().
		Str("allowed_subject", config.AllowedSubject).
		Msg("Subject authorization enabled")

	return authz.NewSubjectAuthorizer([]string{config.AllowedSubject})
}
