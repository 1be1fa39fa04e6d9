package commands

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dao/stepdao"
)

// RunsCommand returns the runs command for inspecting recorded runs
func RunsCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect recorded template runs",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List runs, newest first",
				Description: `List runs for one template, or the latest run of every template.

Examples:
  # Latest run per template
  conveyor runs list --env prd

  # Full history of one template
  conveyor runs list --env prd --template terraform-apply`,
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:    "template",
						Aliases: []string{"t"},
						Usage:   "Limit to runs of one template",
					},
				},
				Action: func(c *cli.Context) error {
					dao, _, err := newRunDAOs(c)
					if err != nil {
						return err
					}

					var records []rundao.Record
					if tmpl := c.String("template"); tmpl != "" {
						records, err = dao.Query(c.Context, rundao.NewPK(tmpl))
					} else {
						records, err = dao.QueryLatestRuns(c.Context)
					}
					if err != nil {
						return err
					}

					return printJSON(records)
				},
			},
			{
				Name:      "get",
				Aliases:   []string{"g"},
				Usage:     "Get one run and its recorded steps",
				ArgsUsage: "<run-id>",
				Flags:     []cli.Flag{envFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one run ID argument")
					}
					id := rundao.ID(c.Args().First())

					dao, steps, err := newRunDAOs(c)
					if err != nil {
						return err
					}

					record, err := dao.Find(c.Context, id)
					if err != nil {
						return err
					}

					stepRecords, err := steps.Query(c.Context, string(record.GetID()))
					if err != nil {
						return err
					}

					return printJSON(struct {
						Run   rundao.Record   `json:"run"`
						Steps []stepdao.Record `json:"steps"`
					}{Run: record, Steps: stepRecords})
				},
			},
		},
	}
}

func newRunDAOs(c *cli.Context) (*rundao.DAO, *stepdao.DAO, error) {
	cfg, err := config.LoadDefaultConfig(c.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	env := c.String("env")
	client := dynamodb.NewFromConfig(cfg)
	return rundao.New(client, rundao.TableName(env)),
		stepdao.New(client, stepdao.TableName(env)),
		nil
}
