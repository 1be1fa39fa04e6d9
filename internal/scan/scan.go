// Package scan wraps the gitleaks detector so the security-scan template can
// run in-process instead of shelling out to a separately installed binary.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
)

// maxFileSize skips files too large to plausibly be source or config.
const maxFileSize = 1 << 20

// Finding is one detected secret occurrence.
type Finding struct {
	RuleID      string
	Description string
	File        string
	StartLine   int
	Secret      string
}

// Scanner detects committed secrets using the default gitleaks ruleset.
type Scanner struct {
	detector *detect.Detector
}

// New creates a Scanner with the embedded default configuration.
func New() (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load gitleaks ruleset: %w", err)
	}
	return &Scanner{detector: detector}, nil
}

// ScanDir walks the tree rooted at dir and returns every finding. The .git
// directory is skipped; gitleaks' own path allowlists apply on top.
func (s *Scanner) ScanDir(ctx context.Context, dir string) ([]Finding, error) {
	logger := zerolog.Ctx(ctx)

	var findings []Finding
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		for _, f := range s.detector.Detect(detect.Fragment{
			Raw:      string(data),
			FilePath: rel,
		}) {
			findings = append(findings, fromReport(f, rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("dir", dir).
		Int("findings", len(findings)).
		Msg("Secret scan completed")

	return findings, nil
}

// Check runs a scan and converts any finding into a failure, which is how
// the security-scan template consumes it.
func (s *Scanner) Check(ctx context.Context, dir string) (string, error) {
	findings, err := s.ScanDir(ctx, dir)
	if err != nil {
		return "", err
	}
	if len(findings) == 0 {
		return "no leaks found\n", nil
	}

	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "%s:%d: %s (%s)\n", f.File, f.StartLine, f.Description, f.RuleID)
	}
	return sb.String(), fmt.Errorf("found %d potential secret(s)", len(findings))
}

func fromReport(f report.Finding, file string) Finding {
	if f.File == "" {
		f.File = file
	}
	return Finding{
		RuleID:      f.RuleID,
		Description: f.Description,
		File:        f.File,
		StartLine:   f.StartLine,
		Secret:      f.Secret,
	}
}
