package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/contract"
	"github.com/conveyorhq/conveyor/internal/template"
)

// ValidateCommand returns the validate command for checking template files
func ValidateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a template file",
		ArgsUsage: "<template.yaml>",
		Description: `Parse and validate a template YAML file: input contract declarations,
placeholder references, gate expressions, and lock scope. Prints the
content digest the template would resolve to.

With --input flags, additionally dry-runs the parameter contract the way
a dispatch would, reporting every violation at once.

Examples:
  # Structural validation only
  conveyor validate templates/terraform-rds.yaml

  # Also check a concrete set of input bindings
  conveyor validate templates/terraform-rds.yaml \
    -i working_dir=stacks/rds -i aws_region=us-west-2 -i run_apply=true`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Input binding in key=value form to dry-run the contract (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one template file argument")
			}
			path := c.Args().First()

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			t, err := template.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			logger.Info().
				Str("template", t.Name).
				Str("digest", template.Digest(data)).
				Int("inputs", len(t.Inputs)).
				Int("secrets", len(t.Secrets)).
				Int("steps", len(t.Steps)).
				Msg("Template is valid")

			if inputFlags := c.StringSlice("input"); len(inputFlags) > 0 {
				inputs, err := parseBindings(inputFlags)
				if err != nil {
					return fmt.Errorf("invalid --input: %w", err)
				}

				// Secrets are declared-satisfied for a dry run; only the
				// input contract is being checked here.
				secretValues := map[string]string{}
				for _, s := range t.Secrets {
					secretValues[s.Name] = "dry-run"
				}

				if _, err := contract.Validate(t, inputs, secretValues); err != nil {
					return err
				}
				logger.Info().Msg("Input bindings satisfy the contract")
			}

			return nil
		},
	}
}
