package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	apperrors "github.com/conveyorhq/conveyor/internal/errors"
)

const sessionDuration = int32(3600) // seconds; covers plan+apply for typical stacks

// RoleCredentials are short-lived credentials injected into step environments.
type RoleCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Env renders the credentials as the environment variables the AWS provider
// chain reads.
func (c RoleCredentials) Env() map[string]string {
	return map[string]string{
		"AWS_ACCESS_KEY_ID":     c.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": c.SecretAccessKey,
		"AWS_SESSION_TOKEN":     c.SessionToken,
	}
}

// RoleExchanger swaps the run's ambient web identity token for cloud role
// credentials. No static credentials are ever stored or bound as secrets;
// the only secret a caller supplies is the role to assume.
type RoleExchanger struct {
	client    *sts.Client
	tokenFile string
}

// NewRoleExchanger creates a RoleExchanger. tokenFile may be empty, in which
// case AWS_WEB_IDENTITY_TOKEN_FILE is consulted at exchange time.
func NewRoleExchanger(client *sts.Client, tokenFile string) *RoleExchanger {
	return &RoleExchanger{
		client:    client,
		tokenFile: tokenFile,
	}
}

// Exchange performs AssumeRoleWithWebIdentity for the given role.
func (r *RoleExchanger) Exchange(ctx context.Context, roleARN, sessionName string) (RoleCredentials, error) {
	logger := zerolog.Ctx(ctx)

	token, err := r.readToken()
	if err != nil {
		return RoleCredentials{}, err
	}

	result, err := r.client.AssumeRoleWithWebIdentity(ctx, &sts.AssumeRoleWithWebIdentityInput{
		RoleArn:          aws.String(roleARN),
		RoleSessionName:  aws.String(sanitizeSessionName(sessionName)),
		WebIdentityToken: aws.String(token),
		DurationSeconds:  aws.Int32(sessionDuration),
	})
	if err != nil {
		return RoleCredentials{}, fmt.Errorf("failed to assume role %s: %w", roleARN, err)
	}

	creds := result.Credentials
	if creds == nil {
		return RoleCredentials{}, fmt.Errorf("assume role %s returned no credentials", roleARN)
	}

	logger.Info().
		Str("role_arn", roleARN).
		Time("expiration", aws.ToTime(creds.Expiration)).
		Msg("Exchanged web identity token for role credentials")

	return RoleCredentials{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		Expiration:      aws.ToTime(creds.Expiration),
	}, nil
}

func (r *RoleExchanger) readToken() (string, error) {
	tokenFile := r.tokenFile
	if tokenFile == "" {
		tokenFile = os.Getenv("AWS_WEB_IDENTITY_TOKEN_FILE")
	}
	if tokenFile == "" {
		return "", apperrors.ErrWebIdentityTokenUnset
	}

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read web identity token: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", apperrors.ErrWebIdentityTokenUnset
	}
	return token, nil
}

// sanitizeSessionName maps a run ID to a valid STS session name.
func sanitizeSessionName(name string) string {
	mapped := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		case c == '=', c == ',', c == '.', c == '@', c == '-':
			return c
		default:
			return '-'
		}
	}, name)
	if len(mapped) > 64 {
		mapped = mapped[:64]
	}
	return mapped
}
