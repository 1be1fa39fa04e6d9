package gql

import (
	"context"
)

// Templates resolves the templates query from the loaded working set.
func (r *Resolver) Templates(ctx context.Context) ([]*TemplateResolver, error) {
	names := r.registry.Names()

	resolvers := make([]*TemplateResolver, 0, len(names))
	for _, name := range names {
		if rev, ok := r.registry.Head(name); ok {
			resolvers = append(resolvers, &TemplateResolver{revision: rev})
		}
	}
	return resolvers, nil
}

// Template resolves the template query by name.
func (r *Resolver) Template(ctx context.Context, args struct{ Name string }) (*TemplateResolver, error) {
	rev, ok := r.registry.Head(args.Name)
	if !ok {
		return nil, nil
	}
	return &TemplateResolver{revision: rev}, nil
}
