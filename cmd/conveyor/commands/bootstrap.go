package commands

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/services"
)

// BootstrapCommand returns the bootstrap command for provisioning engine tables
func BootstrapCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "bootstrap",
		Usage: "Provision the DynamoDB tables for an environment",
		Description: `Create the run, step, template, and lock tables for one engine
environment. Existing tables are left untouched, so bootstrap is safe
to re-run.

Examples:
  # Provision dev tables
  conveyor bootstrap --env dev

  # Tear down an ephemeral test environment
  conveyor bootstrap --env test-pr-123 --delete`,
		Flags: []cli.Flag{
			envFlag(),
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "Delete the environment's tables instead of creating them",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadDefaultConfig(c.Context)
			if err != nil {
				return fmt.Errorf("failed to load AWS config: %w", err)
			}

			env := c.String("env")
			svc := services.NewTableService(dynamodb.NewFromConfig(cfg), env)
			ctx := logger.WithContext(c.Context)

			if c.Bool("delete") {
				if err := svc.DeleteTables(ctx); err != nil {
					return err
				}
				logger.Info().Str("env", env).Msg("Tables deleted")
				return nil
			}

			if err := svc.CreateTables(ctx); err != nil {
				return err
			}

			logger.Info().
				Str("env", env).
				Strs("tables", svc.Tables()).
				Msg("Bootstrap complete")
			return nil
		},
	}
}
