package di

import (
	"testing"

	"go.uber.org/dig"
)

// Test types for dependency injection
type store struct {
	Name string
}

type engine struct {
	Store *store
	Env   string
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		opts    []Option
		wantErr bool
	}{
		{
			name: "creates container with no providers",
			env:  "dev",
		},
		{
			name: "creates container with single provider",
			env:  "staging",
			opts: []Option{
				WithProviders(func() *store {
					return &store{Name: "runs"}
				}),
			},
		},
		{
			name: "creates container with multiple providers",
			env:  "prod",
			opts: []Option{
				WithProviders(
					func() *store {
						return &store{Name: "runs"}
					},
					func(s *store, env string) *engine {
						return &engine{Store: s, Env: env}
					},
				),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, err := New(tt.env, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if container == nil && !tt.wantErr {
				t.Error("New() returned nil container without error")
			}
		})
	}
}

func TestNew_DuplicateProvider(t *testing.T) {
	_, err := New("dev",
		WithProviders(
			func() *store { return &store{Name: "a"} },
			func() *store { return &store{Name: "b"} },
		),
	)

	if err == nil {
		t.Error("New() should return error when providing duplicate types")
	}
}

func TestNew_ProvidesEnvironment(t *testing.T) {
	container, err := New("test-env")
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	var actualEnv string
	err = container.Invoke(func(env string) {
		actualEnv = env
	})
	if err != nil {
		t.Fatalf("Invoke() unexpected error: %v", err)
	}

	if actualEnv != "test-env" {
		t.Errorf("Environment = %v, want %v", actualEnv, "test-env")
	}
}

func TestNew_ProvidesOptions(t *testing.T) {
	container, err := New("dev",
		WithCallbackURL("http://localhost:8080/oauth/callback"),
		WithDisableAuth(true),
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	var (
		callbackURL CallbackURL
		disableAuth DisableAuth
	)
	err = container.Invoke(func(url CallbackURL, disable DisableAuth) {
		callbackURL = url
		disableAuth = disable
	})
	if err != nil {
		t.Fatalf("Invoke() unexpected error: %v", err)
	}

	if callbackURL != "http://localhost:8080/oauth/callback" {
		t.Errorf("CallbackURL = %v", callbackURL)
	}
	if !bool(disableAuth) {
		t.Error("DisableAuth = false, want true")
	}
}

func TestMustGet(t *testing.T) {
	t.Run("resolves nested dependencies", func(t *testing.T) {
		container, err := New("production",
			WithProviders(
				func() *store { return &store{Name: "runs"} },
				func(s *store, env string) *engine {
					return &engine{Store: s, Env: env}
				},
			),
		)
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}

		e := MustGet[*engine](container)
		if e.Store.Name != "runs" {
			t.Errorf("engine.Store.Name = %v, want %v", e.Store.Name, "runs")
		}
		if e.Env != "production" {
			t.Errorf("engine.Env = %v, want %v", e.Env, "production")
		}
	})

	t.Run("panics when dependency not found", func(t *testing.T) {
		container, err := New("dev")
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}

		defer func() {
			if r := recover(); r == nil {
				t.Error("MustGet() did not panic")
			}
		}()

		_ = MustGet[*engine](container)
	})
}

func TestContainer_Interface(t *testing.T) {
	var _ Container = (*dig.Container)(nil)
}
