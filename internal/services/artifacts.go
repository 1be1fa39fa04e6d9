package services

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	apperrors "github.com/conveyorhq/conveyor/internal/errors"
)

// ArtifactStore uploads run artifacts (plan files, rendered site output) to
// S3, keyed by run ID so a caller can fetch exactly the bytes its invocation
// produced.
type ArtifactStore struct {
	client *s3.Client
	bucket string
}

// NewArtifactStore creates an ArtifactStore for the given bucket.
func NewArtifactStore(client *s3.Client, bucket string) *ArtifactStore {
	return &ArtifactStore{
		client: client,
		bucket: bucket,
	}
}

// Upload stores every listed path (file or directory) under the run's key
// prefix and returns that prefix. Missing paths are skipped: a failed run
// may legitimately not have produced its artifacts.
func (a *ArtifactStore) Upload(ctx context.Context, runID string, baseDir string, paths []string) (string, error) {
	if a.bucket == "" {
		return "", apperrors.ErrArtifactBucketUnset
	}

	logger := zerolog.Ctx(ctx)
	prefix := "runs/" + strings.ReplaceAll(runID, ":", "/")

	uploaded := 0
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(baseDir, p)
		}

		info, err := os.Stat(abs)
		if os.IsNotExist(err) {
			logger.Warn().Str("path", p).Msg("Artifact path missing, skipping")
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat artifact %s: %w", p, err)
		}

		if info.IsDir() {
			err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				rel, err := filepath.Rel(baseDir, path)
				if err != nil {
					rel = filepath.Base(path)
				}
				if err := a.putFile(ctx, prefix+"/"+filepath.ToSlash(rel), path); err != nil {
					return err
				}
				uploaded++
				return nil
			})
			if err != nil {
				return "", err
			}
			continue
		}

		if err := a.putFile(ctx, prefix+"/"+filepath.ToSlash(p), abs); err != nil {
			return "", err
		}
		uploaded++
	}

	logger.Info().
		Str("bucket", a.bucket).
		Str("prefix", prefix).
		Int("files", uploaded).
		Msg("Artifacts uploaded")

	return prefix, nil
}

func (a *ArtifactStore) putFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", key, err)
	}
	return nil
}
