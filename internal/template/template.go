// Package template defines the pipeline template model: a named, versioned
// sequence of external tool invocations with a typed input/secret contract.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// InputType enumerates the types accepted by a template input declaration.
type InputType string

const (
	TypeString  InputType = "string"
	TypeBoolean InputType = "boolean"
	TypeNumber  InputType = "number"
)

// InputSpec declares a single template input.
type InputSpec struct {
	Name        string    `yaml:"name"`
	Type        InputType `yaml:"type"`
	Required    bool      `yaml:"required,omitempty"`
	Default     *string   `yaml:"default,omitempty"` // raw form, coerced per Type at bind time
	Description string    `yaml:"description,omitempty"`
}

// SecretSpec declares a secret the template's steps depend on.
type SecretSpec struct {
	Name        string `yaml:"name"`
	Required    bool   `yaml:"required,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Step is a single external tool invocation within a template.
type Step struct {
	Name string   `yaml:"name"`
	Run  []string `yaml:"run"` // argv; element 0 is the tool

	Env map[string]string `yaml:"env,omitempty"`
	Dir string            `yaml:"dir,omitempty"`

	// If names a declared boolean input gating this step, optionally
	// negated with a leading "!". The step executes only when the gate
	// evaluates true. This is the only branching a template may express.
	If string `yaml:"if,omitempty"`

	// AlwaysRun steps execute even after an earlier step has failed.
	AlwaysRun bool `yaml:"always_run,omitempty"`

	// ForEach names a declared string input whose comma-separated value
	// expands this step into one step per element, in element order.
	// Elements are available to the step body as ${{ item }}.
	ForEach string `yaml:"for_each,omitempty"`

	Timeout Duration `yaml:"timeout,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Template is a callable pipeline definition.
type Template struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Inputs      []InputSpec  `yaml:"inputs,omitempty"`
	Secrets     []SecretSpec `yaml:"secrets,omitempty"`
	Steps       []Step       `yaml:"steps"`

	// Artifacts lists paths (relative to the invocation working directory,
	// after interpolation) uploaded to the artifact store on completion.
	Artifacts []string `yaml:"artifacts,omitempty"`

	// Lock declares when an invocation mutates external state and must
	// hold the apply lock for its scope.
	Lock *LockSpec `yaml:"lock,omitempty"`

	// AssumeRole declares that steps need cloud credentials obtained by
	// exchanging the ambient web identity token for the role named by a
	// bound secret.
	AssumeRole *AssumeRoleSpec `yaml:"assume_role,omitempty"`
}

// LockSpec marks a template as mutating, either unconditionally or when a
// boolean input is set. Scope may interpolate inputs; invocations sharing a
// scope serialize.
type LockSpec struct {
	Mutating   bool   `yaml:"mutating,omitempty"`
	MutatingIf string `yaml:"mutating_if,omitempty"`
	Scope      string `yaml:"scope,omitempty"`
}

// AssumeRoleSpec names the secret holding the role to assume and the input
// holding the region for the STS exchange.
type AssumeRoleSpec struct {
	RoleSecret  string `yaml:"role_secret"`
	RegionInput string `yaml:"region_input,omitempty"`
}

// Gate splits an if expression into the gating input name and whether the
// gate is negated.
func Gate(expr string) (name string, negated bool) {
	if strings.HasPrefix(expr, "!") {
		return expr[1:], true
	}
	return expr, false
}

// placeholderPattern matches ${{ inputs.x }}, ${{ secrets.y }} and ${{ item }}.
var placeholderPattern = regexp.MustCompile(`\$\{\{\s*([a-z]+)(?:\.([A-Za-z0-9_]+))?\s*\}\}`)

// Reference is a placeholder found in a step body.
type Reference struct {
	Kind string // "inputs", "secrets" or "item"
	Name string // empty for "item"
}

// References returns every placeholder used anywhere in the step.
func (s *Step) References() []Reference {
	var refs []Reference
	collect := func(text string) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
			refs = append(refs, Reference{Kind: m[1], Name: m[2]})
		}
	}
	for _, arg := range s.Run {
		collect(arg)
	}
	for _, v := range s.Env {
		collect(v)
	}
	collect(s.Dir)
	return refs
}

// Input returns the input declaration with the given name, if any.
func (t *Template) Input(name string) (InputSpec, bool) {
	for _, in := range t.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputSpec{}, false
}

// Secret returns the secret declaration with the given name, if any.
func (t *Template) Secret(name string) (SecretSpec, bool) {
	for _, s := range t.Secrets {
		if s.Name == name {
			return s, true
		}
	}
	return SecretSpec{}, false
}

// Validate checks the template's internal consistency: well-formed
// declarations, and every placeholder in a step body resolvable against the
// declared schema. Undeclared references are rejected here, at load time,
// rather than surfacing as a broken interpolation mid-run.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template is missing a name")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s declares no steps", t.Name)
	}

	seen := map[string]bool{}
	for _, in := range t.Inputs {
		if in.Name == "" {
			return fmt.Errorf("template %s: input with empty name", t.Name)
		}
		if seen[in.Name] {
			return fmt.Errorf("template %s: duplicate input %q", t.Name, in.Name)
		}
		seen[in.Name] = true

		switch in.Type {
		case TypeString, TypeBoolean, TypeNumber:
		case "":
			return fmt.Errorf("template %s: input %q is missing a type", t.Name, in.Name)
		default:
			return fmt.Errorf("template %s: input %q has unsupported type %q", t.Name, in.Name, in.Type)
		}
		if in.Required && in.Default != nil {
			return fmt.Errorf("template %s: input %q is required and cannot carry a default", t.Name, in.Name)
		}
	}

	seenSecrets := map[string]bool{}
	for _, s := range t.Secrets {
		if s.Name == "" {
			return fmt.Errorf("template %s: secret with empty name", t.Name)
		}
		if seenSecrets[s.Name] {
			return fmt.Errorf("template %s: duplicate secret %q", t.Name, s.Name)
		}
		seenSecrets[s.Name] = true
	}

	for i := range t.Steps {
		if err := t.validateStep(&t.Steps[i], i); err != nil {
			return err
		}
	}

	if t.Lock != nil {
		if t.Lock.MutatingIf != "" {
			in, ok := t.Input(t.Lock.MutatingIf)
			if !ok {
				return fmt.Errorf("template %s: lock gates on undeclared input %q", t.Name, t.Lock.MutatingIf)
			}
			if in.Type != TypeBoolean {
				return fmt.Errorf("template %s: lock gates on input %q of type %s, want boolean", t.Name, t.Lock.MutatingIf, in.Type)
			}
		}
		for _, m := range placeholderPattern.FindAllStringSubmatch(t.Lock.Scope, -1) {
			if m[1] != "inputs" {
				return fmt.Errorf("template %s: lock scope may only reference inputs, got %q", t.Name, m[1])
			}
			if _, ok := t.Input(m[2]); !ok {
				return fmt.Errorf("template %s: lock scope references undeclared input %q", t.Name, m[2])
			}
		}
	}

	if t.AssumeRole != nil {
		if _, ok := t.Secret(t.AssumeRole.RoleSecret); !ok {
			return fmt.Errorf("template %s: assume_role names undeclared secret %q", t.Name, t.AssumeRole.RoleSecret)
		}
		if t.AssumeRole.RegionInput != "" {
			if _, ok := t.Input(t.AssumeRole.RegionInput); !ok {
				return fmt.Errorf("template %s: assume_role names undeclared input %q", t.Name, t.AssumeRole.RegionInput)
			}
		}
	}

	return nil
}

func (t *Template) validateStep(step *Step, index int) error {
	label := step.Name
	if label == "" {
		label = fmt.Sprintf("step[%d]", index)
	}

	if len(step.Run) == 0 {
		return fmt.Errorf("template %s: %s has an empty run", t.Name, label)
	}

	if step.If != "" {
		gate, _ := Gate(step.If)
		in, ok := t.Input(gate)
		if !ok {
			return fmt.Errorf("template %s: %s gates on undeclared input %q", t.Name, label, gate)
		}
		if in.Type != TypeBoolean {
			return fmt.Errorf("template %s: %s gates on input %q of type %s, want boolean", t.Name, label, gate, in.Type)
		}
	}

	if step.ForEach != "" {
		in, ok := t.Input(step.ForEach)
		if !ok {
			return fmt.Errorf("template %s: %s iterates over undeclared input %q", t.Name, label, step.ForEach)
		}
		if in.Type != TypeString {
			return fmt.Errorf("template %s: %s iterates over input %q of type %s, want string", t.Name, label, step.ForEach, in.Type)
		}
	}

	for _, ref := range step.References() {
		switch ref.Kind {
		case "inputs":
			if _, ok := t.Input(ref.Name); !ok {
				return fmt.Errorf("template %s: %s references undeclared input %q", t.Name, label, ref.Name)
			}
		case "secrets":
			if _, ok := t.Secret(ref.Name); !ok {
				return fmt.Errorf("template %s: %s references undeclared secret %q", t.Name, label, ref.Name)
			}
		case "item":
			if step.ForEach == "" {
				return fmt.Errorf("template %s: %s uses ${{ item }} outside a for_each step", t.Name, label)
			}
		default:
			return fmt.Errorf("template %s: %s references unknown namespace %q", t.Name, label, ref.Kind)
		}
	}

	return nil
}

// Interpolate substitutes placeholders in text using the supplied resolver.
// The resolver receives the placeholder kind and name and returns the value.
func Interpolate(text string, resolve func(kind, name string) (string, error)) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		value, err := resolve(sub[1], sub[2])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// SplitList splits a comma-separated for_each value into trimmed, non-empty
// elements, preserving order.
func SplitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
