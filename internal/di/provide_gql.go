package di

import (
	"fmt"

	"github.com/conveyorhq/conveyor/internal/gql"
	"github.com/graph-gophers/graphql-go"
)

// ProvideGraphQL parses the schema against the resolver tree.
func ProvideGraphQL(config gql.Config) (*graphql.Schema, error) {
	schema, err := gql.NewSchema(gql.NewResolver(config))
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}
	return schema, nil
}
