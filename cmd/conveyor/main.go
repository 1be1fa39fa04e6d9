package main

import (
	"context"
	"os"

	"github.com/conveyorhq/conveyor/cmd/conveyor/commands"
	"github.com/conveyorhq/conveyor/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "conveyor",
		Usage: "Declarative pipeline dispatch toolkit",
		Description: `A unified CLI for running and managing reusable pipeline templates.

This tool provides commands for:
  - Dispatching pinned template runs with typed inputs and secrets
  - Validating template files before publishing
  - Listing, inspecting, and publishing catalog templates
  - Inspecting recorded runs and their steps`,
		Commands: []*cli.Command{
			commands.RunCommand(&logger),
			commands.ValidateCommand(&logger),
			commands.TemplatesCommand(&logger),
			commands.RunsCommand(&logger),
			commands.BootstrapCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
