// Package contract validates a caller-supplied parameter and secret set
// against a template's declared schema. Validation is pure: it mutates
// nothing and runs before any external tool is invoked, so a rejected
// invocation leaves no partial state behind.
package contract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/conveyorhq/conveyor/internal/template"
)

// Value is a typed input value after coercion.
type Value struct {
	Type   template.InputType
	String string
	Bool   bool
	Number float64
}

// Render returns the value in the form substituted into step bodies.
func (v Value) Render() string {
	switch v.Type {
	case template.TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case template.TypeNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.String
	}
}

// Bindings is the validated result of an invocation's parameter set:
// every declared input resolved to a typed value (defaults applied),
// plus the secret values the template requires.
type Bindings struct {
	Inputs  map[string]Value
	Secrets map[string]string
}

// Bool returns the bound boolean input, or false when absent.
func (b *Bindings) Bool(name string) bool {
	v, ok := b.Inputs[name]
	return ok && v.Type == template.TypeBoolean && v.Bool
}

// Input returns the rendered form of a bound input, or "" when absent.
func (b *Bindings) Input(name string) string {
	v, ok := b.Inputs[name]
	if !ok {
		return ""
	}
	return v.Render()
}

// Resolve implements the placeholder resolver used for step interpolation.
// The "item" namespace is handled by the sequencer during for_each expansion.
func (b *Bindings) Resolve(kind, name string) (string, error) {
	switch kind {
	case "inputs":
		v, ok := b.Inputs[name]
		if !ok {
			return "", fmt.Errorf("input %q is not bound", name)
		}
		return v.Render(), nil
	case "secrets":
		v, ok := b.Secrets[name]
		if !ok {
			return "", fmt.Errorf("secret %q is not bound", name)
		}
		return v, nil
	default:
		return "", fmt.Errorf("unknown placeholder namespace %q", kind)
	}
}

// Error reports every contract violation found in a single pass, so a caller
// can fix all of them at once instead of replaying the invocation per field.
type Error struct {
	Template   string
	Violations []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invocation of %s rejected: %s", e.Template, strings.Join(e.Violations, "; "))
}

// Validate checks the supplied inputs and secrets against the template's
// declared schema and returns typed bindings, or an *Error naming every
// missing, unknown, or mistyped field.
func Validate(t *template.Template, inputs map[string]string, secrets map[string]string) (*Bindings, error) {
	var violations []string

	bound := &Bindings{
		Inputs:  make(map[string]Value, len(t.Inputs)),
		Secrets: make(map[string]string, len(t.Secrets)),
	}

	for _, spec := range t.Inputs {
		raw, supplied := inputs[spec.Name]
		switch {
		case supplied:
			value, err := coerce(spec, raw)
			if err != nil {
				violations = append(violations, err.Error())
				continue
			}
			bound.Inputs[spec.Name] = value
		case spec.Required:
			violations = append(violations, fmt.Sprintf("required input %q is missing", spec.Name))
		case spec.Default != nil:
			value, err := coerce(spec, *spec.Default)
			if err != nil {
				violations = append(violations, fmt.Sprintf("default for input %q is invalid: %v", spec.Name, err))
				continue
			}
			bound.Inputs[spec.Name] = value
		default:
			bound.Inputs[spec.Name] = zeroValue(spec.Type)
		}
	}

	// Unknown inputs are a caller error, not something to silently drop.
	var unknown []string
	for name := range inputs {
		if _, ok := t.Input(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		violations = append(violations, fmt.Sprintf("input %q is not declared by template %s", name, t.Name))
	}

	for _, spec := range t.Secrets {
		value, supplied := secrets[spec.Name]
		if !supplied || value == "" {
			if spec.Required {
				violations = append(violations, fmt.Sprintf("required secret %q is not bound", spec.Name))
			}
			continue
		}
		bound.Secrets[spec.Name] = value
	}

	if len(violations) > 0 {
		return nil, &Error{Template: t.Name, Violations: violations}
	}

	return bound, nil
}

func coerce(spec template.InputSpec, raw string) (Value, error) {
	switch spec.Type {
	case template.TypeString:
		return Value{Type: template.TypeString, String: raw}, nil
	case template.TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("input %q expects a boolean, got %q", spec.Name, raw)
		}
		return Value{Type: template.TypeBoolean, Bool: b}, nil
	case template.TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("input %q expects a number, got %q", spec.Name, raw)
		}
		return Value{Type: template.TypeNumber, Number: n}, nil
	default:
		return Value{}, fmt.Errorf("input %q has unsupported type %q", spec.Name, spec.Type)
	}
}

func zeroValue(t template.InputType) Value {
	return Value{Type: t}
}
