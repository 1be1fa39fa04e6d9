// Package di wires the object graph with uber's dig. Constructors live in the
// provide_*.go files; mains compose them with WithProviders and pull roots out
// with MustGet.
package di

import (
	"github.com/conveyorhq/conveyor/internal/services"
	"go.uber.org/dig"
)

// Container is the subset of *dig.Container the rest of the codebase uses.
// Keeping it an interface lets tests substitute their own graph.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error

	// Scope creates a scoped sub-container with its own set of values.
	Scope(name string, opts ...dig.ScopeOption) *dig.Scope
}

// MustGet resolves a T from the container or panics. Use at process startup
// where a missing dependency is a programming error, not a runtime condition.
//
//	dao := MustGet[*rundao.DAO](container)
func MustGet[T any](container Container) (want T) {
	callback := func(got T) {
		want = got
	}
	if err := container.Invoke(callback); err != nil {
		panic(err)
	}
	return want
}

// core holds the constructors every entry point needs: AWS clients, parameter
// store backed config, and the shared services built on them.
var core = []any{
	ProvideAWSConfig,
	ProvideContext,
	ProvideSSMClient,
	ProvideParameterStore,
	ProvideAppConfig,
	ProvideDynamoDB,
	ProvideS3Client,
	ProvideSTSClient,
	ProvideSecretsManager,
	services.NewSecretsManagerService,
	services.NewTableService,
}

// New builds a container for the given environment. The environment name is
// registered as a plain string so any constructor can take it as a parameter,
// and the option values are registered under their exported types.
func New(env string, opts ...Option) (Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()
	statics := []any{
		func() string { return env },
		func() CallbackURL { return o.callbackURL },
		func() DisableAuth { return DisableAuth(o.disableAuth) },
	}
	for _, provider := range statics {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	for _, provider := range append(core, o.providers...) {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}
