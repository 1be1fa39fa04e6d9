package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/conveyorhq/conveyor/internal/di"
	"github.com/conveyorhq/conveyor/internal/services"
)

// maxKeyVersions keeps enough previous keys that cookies issued before a
// rotation stay decryptable until they expire.
const maxKeyVersions = 3

type RotationEvent struct {
	Step               string `json:"Step"`
	Token              string `json:"Token"`
	SecretId           string `json:"SecretId"`
	ClientRequestToken string `json:"ClientRequestToken"`
}

type Handler struct {
	client *secretsmanager.Client
}

func NewHandler(ctx context.Context) (*Handler, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Handler{
		client: secretsmanager.NewFromConfig(cfg),
	}, nil
}

// generateSessionKey returns a fresh 256-bit key, base64 encoded.
func generateSessionKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

// filterValid drops versions that are not valid base64 or not 32 bytes.
// CloudFormation seeds the secret with placeholder text that must be discarded.
func filterValid(versions []services.SessionKeyVersion) []services.SessionKeyVersion {
	valid := []services.SessionKeyVersion{}
	for _, v := range versions {
		decoded, err := base64.StdEncoding.DecodeString(v.Secret)
		if err != nil {
			continue
		}
		if len(decoded) != 32 {
			continue
		}
		valid = append(valid, v)
	}
	return valid
}

// nextVersions prepends the new key and caps the history at maxKeyVersions.
func nextVersions(existing []services.SessionKeyVersion, newKey string, now time.Time) []services.SessionKeyVersion {
	versions := append([]services.SessionKeyVersion{{
		Secret:    newKey,
		Timestamp: now.UTC().Format(time.RFC3339),
	}}, filterValid(existing)...)

	if len(versions) > maxKeyVersions {
		versions = versions[:maxKeyVersions]
	}
	return versions
}

func (h *Handler) HandleRotation(ctx context.Context, event RotationEvent) error {
	switch event.Step {
	case "createSecret":
		return h.createSecret(ctx, event)
	case "setSecret":
		return h.setSecret(ctx, event)
	case "testSecret":
		return h.testSecret(ctx, event)
	case "finishSecret":
		return h.finishSecret(ctx, event)
	default:
		return fmt.Errorf("unknown rotation step: %s", event.Step)
	}
}

func (h *Handler) createSecret(ctx context.Context, event RotationEvent) error {
	logger := zerolog.Ctx(ctx)

	newKey, err := generateSessionKey()
	if err != nil {
		return err
	}

	existing := []services.SessionKeyVersion{}
	getCurrentOutput, err := h.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &event.SecretId,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to get current secret - starting fresh")
	} else if getCurrentOutput.SecretString == nil || *getCurrentOutput.SecretString == "" {
		logger.Warn().Msg("Secret is empty - starting fresh")
	} else if err := json.Unmarshal([]byte(*getCurrentOutput.SecretString), &existing); err != nil {
		logger.Warn().Err(err).Msg("Current secret is corrupt (invalid JSON) - overwriting with fresh key")
		existing = []services.SessionKeyVersion{}
	}

	versions := nextVersions(existing, newKey, time.Now())

	secretJSON, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	logger.Info().Int("version_count", len(versions)).Msg("Creating secret with valid key versions")

	_, err = h.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           &event.SecretId,
		SecretString:       stringPtr(string(secretJSON)),
		ClientRequestToken: &event.ClientRequestToken,
		VersionStages:      []string{"AWSPENDING"},
	})
	if err != nil {
		return fmt.Errorf("failed to put secret value: %w", err)
	}

	return nil
}

func (h *Handler) setSecret(ctx context.Context, event RotationEvent) error {
	// Nothing to set: the keys are consumed straight from Secrets Manager.
	return nil
}

func (h *Handler) testSecret(ctx context.Context, event RotationEvent) error {
	output, err := h.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     &event.SecretId,
		VersionStage: stringPtr("AWSPENDING"),
	})
	if err != nil {
		return fmt.Errorf("failed to get pending secret: %w", err)
	}

	var versions []services.SessionKeyVersion
	if err := json.Unmarshal([]byte(*output.SecretString), &versions); err != nil {
		return fmt.Errorf("pending secret is not valid JSON: %w", err)
	}

	if len(versions) == 0 {
		return fmt.Errorf("pending secret has no versions")
	}

	if _, err := base64.StdEncoding.DecodeString(versions[0].Secret); err != nil {
		return fmt.Errorf("pending secret is not valid base64: %w", err)
	}

	return nil
}

func (h *Handler) finishSecret(ctx context.Context, event RotationEvent) error {
	// Move AWSPENDING to AWSCURRENT
	_, err := h.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:            &event.SecretId,
		VersionStage:        stringPtr("AWSCURRENT"),
		MoveToVersionId:     &event.ClientRequestToken,
		RemoveFromVersionId: stringPtr("AWSCURRENT"),
	})
	if err != nil {
		return fmt.Errorf("failed to update version stage: %w", err)
	}

	return nil
}

func stringPtr(s string) *string {
	return &s
}

func handleRotateCommand(c *cli.Context) error {
	logger := di.ProvideLogger().With().Str("lambda", "rotator").Logger()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		ctx := context.Background()
		handler, err := NewHandler(ctx)
		if err != nil {
			return fmt.Errorf("failed to create handler: %w", err)
		}

		wrappedHandler := func(ctx context.Context, event RotationEvent) error {
			ctx = logger.WithContext(ctx)
			return handler.HandleRotation(ctx, event)
		}
		lambda.Start(wrappedHandler)
		return nil
	}

	// CLI mode for local testing
	ctx := logger.WithContext(context.Background())
	handler, err := NewHandler(ctx)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	secretID := c.String("secret-id")
	clientRequestToken := fmt.Sprintf("manual-%d", time.Now().Unix())

	steps := []string{"createSecret", "setSecret", "testSecret", "finishSecret"}
	for _, step := range steps {
		event := RotationEvent{
			Step:               step,
			SecretId:           secretID,
			ClientRequestToken: clientRequestToken,
		}

		if err := handler.HandleRotation(ctx, event); err != nil {
			return fmt.Errorf("%s step failed: %w", step, err)
		}
	}

	fmt.Println("Rotation completed successfully")
	return nil
}

func handleCancelRotationCommand(c *cli.Context) error {
	ctx := context.Background()
	handler, err := NewHandler(ctx)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	secretID := c.String("secret-id")
	versionID := c.String("version-id")

	fmt.Printf("Cancelling pending rotation for secret: %s\n", secretID)

	_, err = handler.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:            &secretID,
		VersionStage:        stringPtr("AWSPENDING"),
		RemoveFromVersionId: &versionID,
	})
	if err != nil {
		return fmt.Errorf("failed to remove AWSPENDING stage: %w", err)
	}

	fmt.Println("Successfully cancelled pending rotation")
	return nil
}

func main() {
	app := &cli.App{
		Name:           "rotator",
		Usage:          "Secrets Manager rotation function for session cookie keys",
		DefaultCommand: "rotate",
		Commands: []*cli.Command{
			{
				Name:  "rotate",
				Usage: "Manually trigger a rotation",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "secret-id",
						Usage:    "Secret ID to rotate",
						Required: true,
						EnvVars:  []string{"SECRET_ID"},
					},
				},
				Action: handleRotateCommand,
			},
			{
				Name:  "cancel-rotation",
				Usage: "Cancel a pending rotation",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "secret-id",
						Usage:    "Secret ID with pending rotation",
						Required: true,
						EnvVars:  []string{"SECRET_ID"},
					},
					&cli.StringFlag{
						Name:     "version-id",
						Usage:    "Version ID of the pending rotation to cancel",
						Required: true,
					},
				},
				Action: handleCancelRotationCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
