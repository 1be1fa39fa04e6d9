package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/catalog"
	"github.com/conveyorhq/conveyor/internal/dao/templatedao"
	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/template"
)

// TemplatesCommand returns the templates command for managing the catalog
func TemplatesCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "templates",
		Aliases: []string{"t"},
		Usage:   "List, inspect, and publish catalog templates",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List templates in the working set",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "catalog",
						Usage: "Extra directory of template YAML files to load",
					},
				},
				Action: func(c *cli.Context) error {
					r, err := loadWorkingSet(c.String("catalog"), nil)
					if err != nil {
						return err
					}

					type row struct {
						Name        string `json:"name"`
						Digest      string `json:"digest"`
						Description string `json:"description,omitempty"`
						Mutating    bool   `json:"mutating"`
					}
					rows := []row{}
					for _, name := range r.Names() {
						rev, _ := r.Head(name)
						rows = append(rows, row{
							Name:        name,
							Digest:      rev.Digest,
							Description: rev.Template.Description,
							Mutating:    rev.Template.Lock != nil,
						})
					}
					return printJSON(rows)
				},
			},
			{
				Name:      "show",
				Usage:     "Print a template's source and contract",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "catalog",
						Usage: "Extra directory of template YAML files to load",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one template name argument")
					}
					name := c.Args().First()

					r, err := loadWorkingSet(c.String("catalog"), nil)
					if err != nil {
						return err
					}

					rev, ok := r.Head(name)
					if !ok {
						return fmt.Errorf("template %s not found in working set", name)
					}

					logger.Info().
						Str("template", name).
						Str("digest", rev.Digest).
						Msg("Working-set revision")
					fmt.Fprintln(os.Stdout, string(rev.Body))
					return nil
				},
			},
			{
				Name:      "pins",
				Usage:     "List published pins for a template",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{envFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one template name argument")
					}

					dao, err := newTemplateDAO(c)
					if err != nil {
						return err
					}

					records, err := dao.Query(c.Context, c.Args().First())
					if err != nil {
						return err
					}

					type row struct {
						Pin         string `json:"pin"`
						Kind        string `json:"kind"`
						Digest      string `json:"digest"`
						PublishedBy string `json:"published_by,omitempty"`
					}
					rows := []row{}
					for _, rec := range records {
						rows = append(rows, row{
							Pin:         rec.SK,
							Kind:        string(rec.Kind),
							Digest:      rec.Digest,
							PublishedBy: rec.PublishedBy,
						})
					}
					return printJSON(rows)
				},
			},
			{
				Name:      "publish",
				Aliases:   []string{"p"},
				Usage:     "Publish the working-set revision of a template under a pin",
				ArgsUsage: "<name@pin>",
				Description: `Publish records the current working-set revision under a tag or channel.
Tags (vN) are immutable: republishing a tag with different content fails.
Channels move freely.

Examples:
  # Tag the current revision of db-bootstrap as v3
  conveyor templates publish db-bootstrap@v3 --env prd

  # Advance the main channel
  conveyor templates publish db-bootstrap@main --env prd`,
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "catalog",
						Usage: "Extra directory of template YAML files to load",
					},
					&cli.StringFlag{
						Name:    "publisher",
						Usage:   "Identity recorded as the publisher",
						EnvVars: []string{"USER"},
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one name@pin argument")
					}

					ref, err := template.ParseRef(c.Args().First())
					if err != nil {
						return err
					}

					var kind templatedao.PinKind
					switch ref.Kind {
					case template.PinTag:
						kind = templatedao.KindTag
					case template.PinChannel:
						kind = templatedao.KindChannel
					default:
						return fmt.Errorf("cannot publish under a digest pin; digests identify content")
					}

					dao, err := newTemplateDAO(c)
					if err != nil {
						return err
					}

					r, err := loadWorkingSet(c.String("catalog"), dao)
					if err != nil {
						return err
					}

					record, err := r.Publish(c.Context, ref.Name, ref.Pin, kind, c.String("publisher"))
					if err != nil {
						return err
					}

					logger.Info().
						Str("template", ref.Name).
						Str("pin", ref.Pin).
						Str("kind", string(kind)).
						Str("digest", record.Digest).
						Msg("Published")
					return nil
				},
			},
		},
	}
}

// loadWorkingSet builds a registry from the embedded catalog plus an
// optional extra directory.
func loadWorkingSet(dir string, dao *templatedao.DAO) (*registry.Registry, error) {
	r := registry.New(dao)
	if err := catalog.Load(r); err != nil {
		return nil, fmt.Errorf("failed to load built-in catalog: %w", err)
	}
	if dir != "" {
		if err := r.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newTemplateDAO(c *cli.Context) (*templatedao.DAO, error) {
	cfg, err := config.LoadDefaultConfig(c.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	env := c.String("env")
	client := dynamodb.NewFromConfig(cfg)
	return templatedao.New(client, templatedao.TableName(env)), nil
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "env",
		Aliases: []string{"e"},
		Usage:   "Engine environment (dev, stg, or prd)",
		Value:   "dev",
		EnvVars: []string{"ENV"},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
