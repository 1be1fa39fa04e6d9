// Package policy gates invocations before any step runs. Admission rules
// live in rego so operators can reason about them without reading Go.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/conveyorhq/conveyor/internal/template"
)

//go:embed dispatch.rego
var policyContent string

type Validator struct {
	allow      rego.PreparedEvalQuery
	violations rego.PreparedEvalQuery
}

type Invocation struct {
	Template string
	Pin      string
	PinKind  template.PinKind
	Mutating bool
	Trigger  string
	Caller   string
	Env      string
}

type Result struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

func NewValidator() (*Validator, error) {
	allow, err := rego.New(
		rego.Query("data.dispatch.allow"),
		rego.Module("dispatch.rego", policyContent),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	violations, err := rego.New(
		rego.Query("data.dispatch.violations"),
		rego.Module("dispatch.rego", policyContent),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	return &Validator{
		allow:      allow,
		violations: violations,
	}, nil
}

// Check evaluates the invocation against the admission policy.
func (v *Validator) Check(ctx context.Context, inv Invocation) (*Result, error) {
	input := map[string]interface{}{
		"template": inv.Template,
		"pin":      inv.Pin,
		"pin_kind": pinKind(inv.PinKind),
		"mutating": inv.Mutating,
		"trigger":  inv.Trigger,
		"caller":   inv.Caller,
		"env":      inv.Env,
	}

	results, err := v.allow.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 {
		return &Result{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return &Result{
			Allowed:    false,
			Violations: []string{"policy evaluation returned non-boolean result"},
		}, nil
	}

	result := &Result{Allowed: allowed}
	if !allowed {
		result.Violations, err = v.getViolations(ctx, input)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (v *Validator) getViolations(ctx context.Context, input map[string]interface{}) ([]string, error) {
	results, err := v.violations.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}
	if len(results) == 0 {
		return []string{"unknown policy violation"}, nil
	}

	var violations []string
	switch value := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, violation := range value {
			if str, ok := violation.(string); ok {
				violations = append(violations, str)
			}
		}
	case map[string]interface{}:
		// Handle set type from Rego
		for violation := range value {
			violations = append(violations, violation)
		}
	}

	if len(violations) == 0 {
		return []string{"policy validation failed but no specific violations found"}, nil
	}

	return violations, nil
}

func pinKind(kind template.PinKind) string {
	switch kind {
	case template.PinDigest:
		return "digest"
	case template.PinTag:
		return "tag"
	default:
		return "channel"
	}
}
