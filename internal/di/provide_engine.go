package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"github.com/conveyorhq/conveyor/internal/catalog"
	"github.com/conveyorhq/conveyor/internal/dao/lockdao"
	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dao/stepdao"
	"github.com/conveyorhq/conveyor/internal/dao/templatedao"
	"github.com/conveyorhq/conveyor/internal/dispatcher"
	"github.com/conveyorhq/conveyor/internal/policy"
	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/secrets"
	"github.com/conveyorhq/conveyor/internal/sequencer"
	"github.com/conveyorhq/conveyor/internal/services"
)

// ProvideRegistry builds the working set: the embedded catalog, any extra
// catalog directory from configuration, and published revisions from DynamoDB.
func ProvideRegistry(ctx context.Context, dao *templatedao.DAO, config *services.Config) (*registry.Registry, error) {
	logger := zerolog.Ctx(ctx)

	r := registry.New(dao)
	if err := catalog.Load(r); err != nil {
		return nil, fmt.Errorf("failed to load built-in catalog: %w", err)
	}

	if config.CatalogDir != "" {
		if err := r.LoadDir(config.CatalogDir); err != nil {
			return nil, fmt.Errorf("failed to load catalog dir %s: %w", config.CatalogDir, err)
		}
		logger.Info().Str("catalog_dir", config.CatalogDir).Msg("Loaded extra catalog directory")
	}

	logger.Info().Int("templates", len(r.Names())).Msg("Registry ready")
	return r, nil
}

func ProvidePolicyValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

// ProvideSecretsProvider resolves secret bindings from the process
// environment first, then from the configured Secrets Manager entry.
func ProvideSecretsProvider(client *secretsmanager.Client, config *services.Config) secrets.Provider {
	chain := secrets.Chain{secrets.EnvProvider{}}
	if config.SecretsName != "" {
		chain = append(chain, secrets.NewSecretsManagerProvider(client, config.SecretsName))
	}
	return chain
}

func ProvideRoleExchanger(client *sts.Client, config *services.Config) *services.RoleExchanger {
	return services.NewRoleExchanger(client, config.WebIdentityTokenFile)
}

func ProvideArtifactStore(client *s3.Client, config *services.Config) *services.ArtifactStore {
	return services.NewArtifactStore(client, config.ArtifactBucket)
}

func ProvideRunner(config *services.Config) (sequencer.Runner, error) {
	return dispatcher.NewBuiltinRunner(config.WorkDir)
}

func ProvideDispatcher(
	env string,
	reg *registry.Registry,
	validator *policy.Validator,
	provider secrets.Provider,
	runner sequencer.Runner,
	runs *rundao.DAO,
	steps *stepdao.DAO,
	locks *lockdao.DAO,
	artifacts *services.ArtifactStore,
	roles *services.RoleExchanger,
) *dispatcher.Dispatcher {
	return &dispatcher.Dispatcher{
		Registry:  reg,
		Validator: validator,
		Secrets:   provider,
		Runner:    runner,
		Env:       env,
		Runs:      runs,
		Steps:     steps,
		Locks:     locks,
		Artifacts: artifacts,
		Roles:     roles,
	}
}
