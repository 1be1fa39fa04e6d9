package gql

import (
	"context"
	"errors"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	apperrors "github.com/conveyorhq/conveyor/internal/errors"
)

// Runs resolves the runs query. Without a template filter it returns the
// latest run per template; with one it returns every run of that template.
func (r *Resolver) Runs(ctx context.Context, args struct{ Template *string }) ([]*RunResolver, error) {
	var (
		records []rundao.Record
		err     error
	)
	if args.Template != nil && *args.Template != "" {
		records, err = r.runs.Query(ctx, rundao.NewPK(*args.Template))
	} else {
		records, err = r.runs.QueryLatestRuns(ctx)
	}
	if err != nil {
		return nil, err
	}

	resolvers := make([]*RunResolver, len(records))
	for i, record := range records {
		resolvers[i] = newRunResolver(record, r.steps, ctx)
	}
	return resolvers, nil
}

// Run resolves the run query by id.
func (r *Resolver) Run(ctx context.Context, args struct{ ID graphql.ID }) (*RunResolver, error) {
	record, err := r.runs.Find(ctx, rundao.ID(args.ID))
	if err != nil {
		// missing run resolves to null; a storage failure errors the query
		if errors.Is(err, apperrors.ErrRunNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return newRunResolver(record, r.steps, ctx), nil
}
