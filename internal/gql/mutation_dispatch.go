package gql

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/conveyorhq/conveyor/internal/auth"
	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dispatcher"
	"github.com/conveyorhq/conveyor/internal/template"
)

// BindingInput is one name/value input binding.
type BindingInput struct {
	Name  string
	Value string
}

// DispatchInput is the dispatch mutation payload.
type DispatchInput struct {
	Ref    string
	Inputs *[]BindingInput
}

// Dispatch resolves the dispatch mutation: it invokes a pinned template and
// returns the finished run. Secrets are never accepted over the API; they
// come from the engine's own secret provider.
func (r *Resolver) Dispatch(ctx context.Context, args struct{ Input DispatchInput }) (*RunResolver, error) {
	logger := zerolog.Ctx(ctx)

	ref, err := template.ParseRef(args.Input.Ref)
	if err != nil {
		return nil, err
	}

	inputs := map[string]string{}
	if args.Input.Inputs != nil {
		for _, binding := range *args.Input.Inputs {
			inputs[binding.Name] = binding.Value
		}
	}

	caller := ""
	if profile, ok := auth.ProfileFromContext(ctx); ok {
		caller = profile.Email
	}

	logger.Info().
		Str("ref", ref.String()).
		Str("caller", caller).
		Msg("Dispatch mutation called")

	run, err := r.dispatcher.Dispatch(ctx, dispatcher.Request{
		Ref:     ref,
		Inputs:  inputs,
		Trigger: dispatcher.TriggerAPI,
		Caller:  caller,
		WorkDir: r.appConfig.WorkDir,
	})
	if run == nil {
		return nil, err
	}

	// A failed run is still a run: surface it with its FAILED status rather
	// than collapsing the whole mutation into a bare error.
	record, findErr := r.runs.Find(ctx, rundao.ID(run.ID))
	if findErr != nil {
		return nil, fmt.Errorf("run %s finished but could not be loaded: %w", run.ID, findErr)
	}
	return newRunResolver(record, r.steps, ctx), nil
}
