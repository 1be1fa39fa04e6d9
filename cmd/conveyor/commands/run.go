package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/catalog"
	"github.com/conveyorhq/conveyor/internal/di"
	"github.com/conveyorhq/conveyor/internal/dispatcher"
	"github.com/conveyorhq/conveyor/internal/policy"
	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/secrets"
	"github.com/conveyorhq/conveyor/internal/template"
)

// runOutput is the JSON the run command prints on completion.
type runOutput struct {
	RunID       string           `json:"run_id,omitempty"`
	Template    string           `json:"template"`
	Digest      string           `json:"digest"`
	Status      string           `json:"status"`
	Mutating    bool             `json:"mutating"`
	ArtifactKey string           `json:"artifact_key,omitempty"`
	Steps       []runStepOutput  `json:"steps"`
	Error       string           `json:"error,omitempty"`
}

type runStepOutput struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Output   string `json:"output,omitempty"`
}

// RunCommand returns the run command for dispatching a template invocation
func RunCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Dispatch a pinned template run",
		ArgsUsage: "<template[@pin]>",
		Description: `Dispatch one invocation of a template. The pin selects the revision:
a sha256: digest, a vN tag, or a channel name (default: main).

Examples:
  # Run the working-set revision of terraform-plan
  conveyor run terraform-plan -i working_dir=stacks/vpc -i aws_region=us-west-2

  # Run a tagged revision with an inline secret binding
  conveyor run db-bootstrap@v2 \
    -i db_host=db.internal -i db_port=5432 -i db_name=app -i app_user=app \
    -s DB_PASSWORD=hunter2

  # Run by content digest, recording the run in DynamoDB
  conveyor run terraform-apply@sha256:2cf24d... --persist \
    -i working_dir=stacks/vpc -i aws_region=us-west-2`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Input binding in key=value form (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:    "secret",
				Aliases: []string{"s"},
				Usage:   "Inline secret binding in NAME=VALUE form (repeatable)",
			},
			&cli.StringFlag{
				Name:    "work-dir",
				Aliases: []string{"w"},
				Usage:   "Base directory for step execution",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "catalog",
				Usage: "Extra directory of template YAML files to load",
			},
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Engine environment (dev, stg, or prd)",
				Value:   "dev",
				EnvVars: []string{"ENV"},
			},
			&cli.BoolFlag{
				Name:  "persist",
				Usage: "Record the run, steps, locks, and artifacts in AWS",
			},
			&cli.StringFlag{
				Name:    "caller",
				Usage:   "Caller identity recorded on the run",
				EnvVars: []string{"USER"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one template ref argument")
			}

			ref, err := template.ParseRef(c.Args().First())
			if err != nil {
				return err
			}

			inputs, err := parseBindings(c.StringSlice("input"))
			if err != nil {
				return fmt.Errorf("invalid --input: %w", err)
			}
			inlineSecrets, err := parseBindings(c.StringSlice("secret"))
			if err != nil {
				return fmt.Errorf("invalid --secret: %w", err)
			}

			d, err := buildDispatcher(c)
			if err != nil {
				return err
			}

			ctx := logger.WithContext(c.Context)
			run, err := d.Dispatch(ctx, dispatcher.Request{
				Ref:     ref,
				Inputs:  inputs,
				Secrets: inlineSecrets,
				Trigger: dispatcher.TriggerCLI,
				Caller:  c.String("caller"),
				WorkDir: c.String("work-dir"),
			})
			if run != nil {
				printRun(run)
			}
			if err != nil {
				return err
			}
			return nil
		},
	}
}

// parseBindings converts repeated key=value flags into a map.
func parseBindings(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, err := secrets.ParseBinding(pair)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// buildDispatcher assembles the engine. Without --persist everything runs
// in-process with no AWS dependency; with it, the run is recorded the same
// way the API records its runs.
func buildDispatcher(c *cli.Context) (*dispatcher.Dispatcher, error) {
	env := c.String("env")

	if c.Bool("persist") {
		container, err := di.New(env,
			di.WithProviders(
				di.ProvideLogger,
				di.ProvideRunDAO,
				di.ProvideStepDAO,
				di.ProvideTemplateDAO,
				di.ProvideLockDAO,
				di.ProvideRegistry,
				di.ProvidePolicyValidator,
				di.ProvideSecretsProvider,
				di.ProvideRoleExchanger,
				di.ProvideArtifactStore,
				di.ProvideRunner,
				di.ProvideDispatcher,
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to setup DI container: %w", err)
		}
		d := di.MustGet[*dispatcher.Dispatcher](container)
		if dir := c.String("catalog"); dir != "" {
			if err := d.Registry.LoadDir(dir); err != nil {
				return nil, err
			}
		}
		return d, nil
	}

	r := registry.New(nil)
	if err := catalog.Load(r); err != nil {
		return nil, fmt.Errorf("failed to load built-in catalog: %w", err)
	}
	if dir := c.String("catalog"); dir != "" {
		if err := r.LoadDir(dir); err != nil {
			return nil, err
		}
	}

	validator, err := policy.NewValidator()
	if err != nil {
		return nil, err
	}

	runner, err := dispatcher.NewBuiltinRunner(c.String("work-dir"))
	if err != nil {
		return nil, err
	}

	return &dispatcher.Dispatcher{
		Registry:  r,
		Validator: validator,
		Secrets:   secrets.EnvProvider{},
		Runner:    runner,
		Env:       env,
	}, nil
}

func printRun(run *dispatcher.Run) {
	out := runOutput{
		RunID:       run.ID,
		Template:    run.Template,
		Digest:      run.Digest,
		Status:      string(run.Status),
		Mutating:    run.Mutating,
		ArtifactKey: run.ArtifactKey,
	}
	if run.Err != nil {
		out.Error = run.Err.Error()
	}
	for _, step := range run.Steps {
		s := runStepOutput{
			Name:   step.Name,
			Status: string(step.Status),
			Output: step.Output,
		}
		if !step.FinishedAt.IsZero() {
			s.Duration = step.FinishedAt.Sub(step.StartedAt).Round(time.Millisecond).String()
		}
		out.Steps = append(out.Steps, s)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}
