package policy

import (
	"context"
	"testing"

	"github.com/conveyorhq/conveyor/internal/template"
)

// The embedded policy must parse at startup; every dispatch path constructs
// a validator, so a syntax regression here bricks the whole engine.
func TestNewValidator(t *testing.T) {
	if _, err := NewValidator(); err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}
}

func TestValidator_Check(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name        string
		inv         Invocation
		expectAllow bool
	}{
		{
			name: "read-only invocation on a channel pin",
			inv: Invocation{
				Template: "terraform-plan",
				Pin:      "main",
				PinKind:  template.PinChannel,
				Mutating: false,
				Trigger:  "cli",
				Caller:   "alice",
				Env:      "dev",
			},
			expectAllow: true,
		},
		{
			name: "mutating invocation on a tag pin",
			inv: Invocation{
				Template: "terraform-apply",
				Pin:      "v2",
				PinKind:  template.PinTag,
				Mutating: true,
				Trigger:  "cli",
				Caller:   "alice",
				Env:      "dev",
			},
			expectAllow: true,
		},
		{
			name: "mutating invocation on a channel pin",
			inv: Invocation{
				Template: "terraform-apply",
				Pin:      "main",
				PinKind:  template.PinChannel,
				Mutating: true,
				Trigger:  "cli",
				Caller:   "alice",
				Env:      "dev",
			},
			expectAllow: false,
		},
		{
			name: "webhook without caller identity",
			inv: Invocation{
				Template: "security-scan",
				Pin:      "v1",
				PinKind:  template.PinTag,
				Mutating: false,
				Trigger:  "webhook",
				Caller:   "",
				Env:      "dev",
			},
			expectAllow: false,
		},
		{
			name: "prd invocation on a channel pin",
			inv: Invocation{
				Template: "site-deploy",
				Pin:      "main",
				PinKind:  template.PinChannel,
				Mutating: false,
				Trigger:  "cli",
				Caller:   "alice",
				Env:      "prd",
			},
			expectAllow: false,
		},
		{
			name: "prd invocation on a digest pin",
			inv: Invocation{
				Template: "site-deploy",
				Pin:      "sha256:abc",
				PinKind:  template.PinDigest,
				Mutating: true,
				Trigger:  "cli",
				Caller:   "alice",
				Env:      "prd",
			},
			expectAllow: true,
		},
		{
			name: "stg invocation on a channel pin",
			inv: Invocation{
				Template: "site-deploy",
				Pin:      "main",
				PinKind:  template.PinChannel,
				Mutating: false,
				Trigger:  "cli",
				Caller:   "alice",
				Env:      "stg",
			},
			expectAllow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.Check(context.Background(), tt.inv)
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if result.Allowed != tt.expectAllow {
				t.Errorf("Allowed = %v, want %v (violations: %v)", result.Allowed, tt.expectAllow, result.Violations)
			}
			if !tt.expectAllow && len(result.Violations) == 0 {
				t.Error("Expected violations for denied invocation")
			}
		})
	}
}
