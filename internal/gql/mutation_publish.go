package gql

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/conveyorhq/conveyor/internal/auth"
	"github.com/conveyorhq/conveyor/internal/dao/templatedao"
	"github.com/conveyorhq/conveyor/internal/template"
)

// PublishInput is the publish mutation payload.
type PublishInput struct {
	Name string
	Pin  string
}

// PublishedPinResolver resolves the PublishedPin GraphQL type
type PublishedPinResolver struct {
	record templatedao.Record
}

func (r *PublishedPinResolver) Template() string { return r.record.PK.String() }
func (r *PublishedPinResolver) Pin() string      { return r.record.SK }
func (r *PublishedPinResolver) Kind() string     { return string(r.record.Kind) }
func (r *PublishedPinResolver) Digest() string   { return r.record.Digest }

// Publish resolves the publish mutation. The pin's kind follows its shape:
// v-prefixed pins become immutable tags, anything else a moving channel.
func (r *Resolver) Publish(ctx context.Context, args struct{ Input PublishInput }) (*PublishedPinResolver, error) {
	ref, err := template.ParseRef(args.Input.Name + "@" + args.Input.Pin)
	if err != nil {
		return nil, err
	}
	if ref.Kind == template.PinDigest {
		return nil, fmt.Errorf("digest pins are derived from content and cannot be published directly")
	}

	kind := templatedao.KindChannel
	if ref.Kind == template.PinTag {
		kind = templatedao.KindTag
	}

	publishedBy := ""
	if profile, ok := auth.ProfileFromContext(ctx); ok {
		publishedBy = profile.Email
	}

	record, err := r.registry.Publish(ctx, ref.Name, ref.Pin, kind, publishedBy)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("template", ref.Name).
		Str("pin", ref.Pin).
		Str("digest", record.Digest).
		Msg("Published template revision")

	return &PublishedPinResolver{record: record}, nil
}
