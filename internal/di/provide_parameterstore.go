package di

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/conveyorhq/conveyor/internal/services"
	"github.com/rs/zerolog"
)

// ProvideSSMClient returns an SSM client, or nil when DISABLE_SSM=true so
// local runs can configure themselves from the environment.
func ProvideSSMClient(awsConfig aws.Config) *ssm.Client {
	if os.Getenv("DISABLE_SSM") == "true" {
		return nil
	}

	return ssm.NewFromConfig(awsConfig)
}

// ProvideParameterStore selects the configuration backend: SSM Parameter
// Store when a client is available, environment variables otherwise.
func ProvideParameterStore(ctx context.Context, ssmClient *ssm.Client, env string) services.ParameterStore {
	logger := zerolog.Ctx(ctx)

	if ssmClient == nil {
		logger.Info().Msg("Using environment variables for configuration (SSM disabled)")
		return services.NewEnvParameterStore(env)
	}

	logger.Info().Msg("Using AWS Systems Manager Parameter Store for configuration")
	return services.NewSSMParameterStore(ssmClient, env)
}

// ProvideAppConfig loads the engine configuration once at startup.
func ProvideAppConfig(ctx context.Context, store services.ParameterStore) (*services.Config, error) {
	logger := zerolog.Ctx(ctx)

	config, err := store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info().
		Str("artifact_bucket", config.ArtifactBucket).
		Str("work_dir", config.WorkDir).
		Bool("has_allowed_subject", config.AllowedSubject != "").
		Bool("has_custom_domain", config.CustomDomain != "").
		Msg("Engine configuration loaded")

	return config, nil
}
