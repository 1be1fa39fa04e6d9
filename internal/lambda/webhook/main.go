package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/contract"
	"github.com/conveyorhq/conveyor/internal/di"
	"github.com/conveyorhq/conveyor/internal/dispatcher"
	apperrors "github.com/conveyorhq/conveyor/internal/errors"
	"github.com/conveyorhq/conveyor/internal/services"
	"github.com/conveyorhq/conveyor/internal/template"
)

// callerHeader carries the identity asserted by the API Gateway authorizer.
// Requests without it are dispatched with an empty caller, which admission
// policy rejects for webhook triggers.
const callerHeader = "x-conveyor-caller"

// WebhookRequest is the JSON body of a dispatch webhook. Secrets are never
// accepted over the webhook; they resolve from the engine's own provider.
type WebhookRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

type WebhookResponse struct {
	RunID    string `json:"run_id,omitempty"`
	Template string `json:"template,omitempty"`
	Digest   string `json:"digest,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Handler struct {
	dispatcher *dispatcher.Dispatcher
	workDir    string
}

func NewHandler(env string) (*Handler, error) {
	container, err := di.New(env,
		di.WithProviders(
			di.ProvideLogger,
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
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to setup DI container: %w", err)
	}

	appConfig := di.MustGet[*services.Config](container)

	return &Handler{
		dispatcher: di.MustGet[*dispatcher.Dispatcher](container),
		workDir:    appConfig.WorkDir,
	}, nil
}

// HandleEvent processes one API Gateway V2 request and dispatches the run.
func (h *Handler) HandleEvent(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	logger := zerolog.Ctx(ctx)

	var req WebhookRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, WebhookResponse{Error: "invalid JSON body"}), nil
	}
	if req.Ref == "" {
		return respond(http.StatusBadRequest, WebhookResponse{Error: "ref is required"}), nil
	}

	ref, err := template.ParseRef(req.Ref)
	if err != nil {
		return respond(http.StatusBadRequest, WebhookResponse{Error: err.Error()}), nil
	}

	caller := event.Headers[callerHeader]

	logger.Info().
		Str("template", ref.Name).
		Str("pin", ref.Pin).
		Str("caller", caller).
		Msg("Webhook dispatch received")

	run, err := h.dispatcher.Dispatch(ctx, dispatcher.Request{
		Ref:     ref,
		Inputs:  req.Inputs,
		Trigger: dispatcher.TriggerWebhook,
		Caller:  caller,
		WorkDir: h.workDir,
	})
	if err != nil {
		status := statusFor(err)
		resp := WebhookResponse{Error: err.Error()}
		if run != nil {
			resp.RunID = run.ID
			resp.Template = run.Template
			resp.Digest = run.Digest
			resp.Status = string(run.Status)
		}

		logger.Warn().
			Err(err).
			Str("template", ref.Name).
			Int("status", status).
			Msg("Webhook dispatch failed")
		return respond(status, resp), nil
	}

	logger.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Msg("Webhook dispatch completed")

	return respond(http.StatusOK, WebhookResponse{
		RunID:    run.ID,
		Template: run.Template,
		Digest:   run.Digest,
		Status:   string(run.Status),
	}), nil
}

// statusFor maps dispatch failures onto HTTP status codes.
func statusFor(err error) int {
	var contractErr *contract.Error
	switch {
	case errors.Is(err, apperrors.ErrTemplateNotFound),
		errors.Is(err, apperrors.ErrRevisionNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrPolicyDenied):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrLockHeld):
		return http.StatusConflict
	case errors.As(err, &contractErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respond(status int, body WebhookResponse) events.APIGatewayV2HTTPResponse {
	data, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "webhook").Logger()

	env := os.Getenv("ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		logger.Error().Msg("ENV or ENVIRONMENT variable is required")
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		handler, err := NewHandler(env)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create handler")
			os.Exit(1)
		}

		wrappedHandler := func(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
			ctx = logger.WithContext(ctx)
			return handler.HandleEvent(ctx, event)
		}
		lambda.Start(wrappedHandler)
		return
	}

	// CLI mode
	app := &cli.App{
		Name:  "webhook",
		Usage: "Dispatch template runs from API Gateway webhook events",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "disable-ssm",
				Usage:   "Disable AWS Systems Manager Parameter Store (use environment variables)",
				EnvVars: []string{"DISABLE_SSM"},
			},
		},
		Action: func(c *cli.Context) error {
			_, err := NewHandler(env)
			if err != nil {
				return fmt.Errorf("failed to create handler: %w", err)
			}

			logger.Info().Str("env", env).Msg("CLI mode - handler initialized successfully")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
