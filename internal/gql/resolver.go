package gql

import (
	_ "embed"

	"github.com/graph-gophers/graphql-go"
	"go.uber.org/dig"

	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dao/stepdao"
	"github.com/conveyorhq/conveyor/internal/dispatcher"
	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/services"
)

//go:embed schema.graphqls
var schemaString string

type Config struct {
	dig.In

	RunDAO     *rundao.DAO
	StepDAO    *stepdao.DAO
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	AppConfig  *services.Config
}

// Resolver is the root GraphQL resolver
type Resolver struct {
	runs       *rundao.DAO
	steps      *stepdao.DAO
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	appConfig  *services.Config
}

// NewResolver creates a new root resolver with the required dependencies
func NewResolver(config Config) *Resolver {
	return &Resolver{
		runs:       config.RunDAO,
		steps:      config.StepDAO,
		registry:   config.Registry,
		dispatcher: config.Dispatcher,
		appConfig:  config.AppConfig,
	}
}

// NewSchema creates a new GraphQL schema with the root resolver
func NewSchema(resolver *Resolver) (*graphql.Schema, error) {
	schema := graphql.MustParseSchema(schemaString, resolver)
	return schema, nil
}

// Ok returns "ok" for health checks
func (r *Resolver) Ok() string {
	return "ok"
}
