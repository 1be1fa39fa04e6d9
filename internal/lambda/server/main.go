package main

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/auth"
	"github.com/conveyorhq/conveyor/internal/di"
	"github.com/conveyorhq/conveyor/internal/services"
)

//go:embed graphiql.html
var graphiqlHTML string

type Handler struct {
	authenticator *auth.Authenticator
	schema        *graphql.Schema
}

// loggingMiddleware threads the logger through the request context and logs
// one line per request with the final status and duration.
func loggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(logger.WithContext(r.Context()))
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			zerolog.Ctx(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status_code", rw.statusCode).
				Dur("duration", time.Since(start)).
				Msg("Request completed")
		})
	}
}

// responseWriter captures the status code for the request log line.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// stripEnvPrefixMiddleware removes the API Gateway stage prefix (/{env})
// from request paths so routes match in both deployed and local modes.
func stripEnvPrefixMiddleware(env string, next http.Handler) http.Handler {
	if env == "" {
		return next
	}

	prefix := "/" + env
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := strings.TrimPrefix(r.URL.Path, prefix); p != r.URL.Path {
			if p == "" {
				p = "/"
			}
			r.URL.Path = p
		}
		next.ServeHTTP(w, r)
	})
}

func NewHandler(container di.Container) *Handler {
	return &Handler{
		authenticator: di.MustGet[*auth.Authenticator](container),
		schema:        di.MustGet[*graphql.Schema](container),
	}
}

func setupContainer(env, callbackURL string, disableAuth bool) (di.Container, error) {
	return di.New(env,
		di.WithCallbackURL(callbackURL),
		di.WithDisableAuth(disableAuth),
		di.WithProviders(
			di.ProvideLogger,
			di.ProvideSessionKeyService,
			di.ProvideSessionKeys,
			di.ProvideAuthenticator,
			di.ProvideAuthorizer,
			di.ProvideRunDAO,
			di.ProvideStepDAO,
			di.ProvideTemplateDAO,
			di.ProvideLockDAO,
			di.ProvideRegistry,
			di.ProvidePolicyValidator,
			di.ProvideSecretsProvider,
			di.ProvideRoleExchanger,
			di.ProvideArtifactStore,
			di.ProvideRunner,
			di.ProvideDispatcher,
			di.ProvideGraphQL,
		),
	)
}

// handleGraphQL serves the GraphQL API
func (h *Handler) handleGraphQL() http.Handler {
	return &relay.Handler{Schema: h.schema}
}

// handleGraphiQL serves the GraphiQL interface
func (h *Handler) handleGraphiQL(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(graphiqlHTML))
}

// setupRouter configures all HTTP routes
func (h *Handler) setupRouter() http.Handler {
	mux := http.NewServeMux()

	// Auth routes (no authentication required)
	mux.HandleFunc("GET /login", h.authenticator.HandleLogin)
	mux.HandleFunc("GET /logout", h.authenticator.HandleLogout)
	mux.HandleFunc("GET /oauth/callback", h.authenticator.HandleCallback)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// GraphQL endpoints (authentication required - API mode: 403 on failure)
	// GET /graphql serves the GraphiQL interface
	// POST /graphql handles GraphQL queries
	requireAuthAPI := h.authenticator.RequireAuth(false)
	mux.Handle("GET /graphql", requireAuthAPI(http.HandlerFunc(h.handleGraphiQL)))
	mux.Handle("POST /graphql", requireAuthAPI(h.handleGraphQL()))

	// Everything else lands on the console (authentication required - redirect mode)
	requireAuth := h.authenticator.RequireAuth(true)
	mux.Handle("/", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/graphql", http.StatusTemporaryRedirect)
	})))

	return mux
}

// buildCallbackURL constructs the OAuth callback URL based on environment
func buildCallbackURL(customDomain string, port string) string {
	// For local development
	if port != "" {
		return fmt.Sprintf("http://localhost:%s/oauth/callback", port)
	}

	if customDomain != "" {
		return fmt.Sprintf("https://%s/oauth/callback", customDomain)
	}

	// Fallback (should not happen in production)
	return "http://localhost:8080/oauth/callback"
}

// serveAction starts a local HTTP server for testing
func serveAction(c *cli.Context) error {
	port := c.String("port")
	addr := fmt.Sprintf(":%s", port)
	env := c.String("env")
	disableAuth := c.Bool("disable-auth")

	callbackURL := buildCallbackURL("", port)

	container, err := setupContainer(env, callbackURL, disableAuth)
	if err != nil {
		return fmt.Errorf("failed to setup DI container: %w", err)
	}

	logger := di.MustGet[zerolog.Logger](container)

	if disableAuth {
		logger.Warn().Msg("⚠️  Authentication is DISABLED - this should only be used for development")
	}

	handler := NewHandler(container)
	router := handler.setupRouter()

	logger.Info().
		Str("addr", addr).
		Str("env", env).
		Str("callback_url", callbackURL).
		Bool("disable_auth", disableAuth).
		Msg("Starting HTTP server")

	httpHandler := loggingMiddleware(logger)(stripEnvPrefixMiddleware(env, router))

	server := &http.Server{
		Addr:    addr,
		Handler: httpHandler,
	}

	return server.ListenAndServe()
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "server").Logger()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = os.Getenv("ENVIRONMENT")
		}
		if env == "" {
			logger.Error().Msg("ENV or ENVIRONMENT variable is required")
			os.Exit(1)
		}

		disableAuth := os.Getenv("DISABLE_AUTH") == "true"

		ctx := logger.WithContext(context.Background())
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load AWS config")
			os.Exit(1)
		}

		var paramStore services.ParameterStore
		if os.Getenv("DISABLE_SSM") == "true" {
			paramStore = services.NewEnvParameterStore(env)
		} else {
			ssmClient := di.ProvideSSMClient(cfg)
			paramStore = services.NewSSMParameterStore(ssmClient, env)
		}

		appConfig, err := paramStore.GetConfig(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load configuration")
			os.Exit(1)
		}

		callbackURL := buildCallbackURL(appConfig.CustomDomain, "")

		logger.Info().
			Str("env", env).
			Str("callback_url", callbackURL).
			Bool("disable_auth", disableAuth).
			Msg("Initializing Lambda handler")

		if disableAuth {
			logger.Warn().Msg("⚠️  Authentication is DISABLED - this should only be used for development")
		}

		container, err := setupContainer(env, callbackURL, disableAuth)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to setup DI container")
			os.Exit(1)
		}

		handler := NewHandler(container)
		router := handler.setupRouter()
		httpHandler := loggingMiddleware(logger)(stripEnvPrefixMiddleware(env, router))

		// Use AWS Lambda HTTP adapter for API Gateway V2
		lambda.Start(httpadapter.NewV2(httpHandler).ProxyWithContext)
		return
	}

	// CLI mode for local testing
	app := &cli.App{
		Name:  "server",
		Usage: "Conveyor API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name (for stripping path prefix)",
				EnvVars: []string{"ENV", "ENVIRONMENT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start local HTTP server for testing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "port",
						Usage: "Port to listen on",
						Value: "8080",
					},
					&cli.BoolFlag{
						Name:    "disable-auth",
						Usage:   "Disable authentication (for local development only)",
						EnvVars: []string{"DISABLE_AUTH"},
					},
					&cli.BoolFlag{
						Name:    "disable-ssm",
						Usage:   "Disable AWS Systems Manager Parameter Store (use environment variables)",
						EnvVars: []string{"DISABLE_SSM"},
					},
				},
				Action: serveAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
