// Package sequencer executes a template's steps as an ordered, fail-fast
// sequence of external tool invocations. There is no retry, no backpressure,
// and no branching beyond a single boolean gate per step: step N+1 never
// starts unless step N succeeded, except steps marked always_run, which
// execute regardless so cleanup work still happens after a failure.
package sequencer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conveyorhq/conveyor/internal/contract"
	"github.com/conveyorhq/conveyor/internal/template"
	"github.com/rs/zerolog"
)

// Command is a fully interpolated step ready to execute.
type Command struct {
	Name    string
	Argv    []string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
}

// Runner executes one command and returns its combined output.
// A non-nil error marks the step, and therefore the invocation, as failed.
type Runner interface {
	Run(ctx context.Context, cmd Command) (output string, err error)
}

// StepStatus is the terminal state of a single step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "SUCCESS"
	StepStatusFailed  StepStatus = "FAILED"
	StepStatusSkipped StepStatus = "SKIPPED"
)

// StepResult records the outcome of one executed (or skipped) step.
type StepResult struct {
	Name       string
	Status     StepStatus
	Output     string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Result is the outcome of a full sequence.
type Result struct {
	Steps []StepResult
	// Err is the error of the first failing step; nil on success.
	Err error
}

// Sequencer expands, interpolates, and runs a template's steps.
type Sequencer struct {
	runner Runner

	// ExtraEnv is merged beneath each step's own env block. Used by the
	// dispatcher to inject exchanged cloud credentials.
	ExtraEnv map[string]string
}

// New creates a Sequencer backed by the given runner.
func New(runner Runner) *Sequencer {
	return &Sequencer{runner: runner}
}

// Expand resolves the template's steps against the bindings: for_each steps
// fan out into one command per list element, if-gated steps are dropped when
// the gate is false, and all placeholders are interpolated. Expansion is
// complete before anything runs, so an interpolation error aborts the
// invocation with zero steps executed.
func Expand(t *template.Template, bindings *contract.Bindings) ([]expandedStep, error) {
	var steps []expandedStep

	for i := range t.Steps {
		step := &t.Steps[i]

		if step.If != "" {
			gate, negated := template.Gate(step.If)
			if bindings.Bool(gate) == negated {
				steps = append(steps, expandedStep{
					name:    step.Name,
					skipped: true,
				})
				continue
			}
		}

		items := []string{""}
		if step.ForEach != "" {
			items = template.SplitList(bindings.Input(step.ForEach))
			if len(items) == 0 {
				return nil, fmt.Errorf("step %q iterates over input %q which is empty", step.Name, step.ForEach)
			}
		}

		for _, item := range items {
			cmd, err := interpolateStep(step, bindings, item)
			if err != nil {
				return nil, err
			}
			name := step.Name
			if step.ForEach != "" {
				name = fmt.Sprintf("%s [%s]", step.Name, item)
			}
			cmd.Name = name
			steps = append(steps, expandedStep{
				name:      name,
				cmd:       cmd,
				alwaysRun: step.AlwaysRun,
			})
		}
	}

	return steps, nil
}

type expandedStep struct {
	name      string
	cmd       Command
	alwaysRun bool
	skipped   bool
}

// Run executes the template's steps in order against the bound parameters.
// The returned Result always contains one entry per expanded step.
func (s *Sequencer) Run(ctx context.Context, t *template.Template, bindings *contract.Bindings) Result {
	logger := zerolog.Ctx(ctx)

	expanded, err := Expand(t, bindings)
	if err != nil {
		return Result{Err: err}
	}

	var result Result
	for _, step := range expanded {
		if step.skipped {
			result.Steps = append(result.Steps, StepResult{Name: step.name, Status: StepStatusSkipped})
			logger.Info().Str("step", step.name).Msg("Step skipped (gate is false)")
			continue
		}

		if result.Err != nil && !step.alwaysRun {
			result.Steps = append(result.Steps, StepResult{Name: step.name, Status: StepStatusSkipped})
			continue
		}

		cmd := step.cmd
		if len(s.ExtraEnv) > 0 {
			merged := make(map[string]string, len(s.ExtraEnv)+len(cmd.Env))
			for k, v := range s.ExtraEnv {
				merged[k] = v
			}
			for k, v := range cmd.Env {
				merged[k] = v
			}
			cmd.Env = merged
		}

		logger.Info().
			Str("step", step.name).
			Str("tool", cmd.Argv[0]).
			Msg("Running step")

		started := time.Now()
		output, runErr := s.runner.Run(ctx, cmd)
		output = redact(output, bindings.Secrets)

		sr := StepResult{
			Name:       step.name,
			Output:     output,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
		if runErr != nil {
			sr.Status = StepStatusFailed
			sr.Err = runErr
			logger.Error().
				Err(runErr).
				Str("step", step.name).
				Dur("duration", sr.FinishedAt.Sub(started)).
				Msg("Step failed")
			if result.Err == nil {
				result.Err = fmt.Errorf("step %q failed: %w", step.name, runErr)
			}
		} else {
			sr.Status = StepStatusSuccess
			logger.Info().
				Str("step", step.name).
				Dur("duration", sr.FinishedAt.Sub(started)).
				Msg("Step succeeded")
		}
		result.Steps = append(result.Steps, sr)
	}

	return result
}

func interpolateStep(step *template.Step, bindings *contract.Bindings, item string) (Command, error) {
	resolve := func(kind, name string) (string, error) {
		if kind == "item" {
			return item, nil
		}
		return bindings.Resolve(kind, name)
	}

	argv := make([]string, len(step.Run))
	for i, arg := range step.Run {
		v, err := template.Interpolate(arg, resolve)
		if err != nil {
			return Command{}, fmt.Errorf("step %q: %w", step.Name, err)
		}
		argv[i] = v
	}

	var env map[string]string
	if len(step.Env) > 0 {
		env = make(map[string]string, len(step.Env))
		for k, raw := range step.Env {
			v, err := template.Interpolate(raw, resolve)
			if err != nil {
				return Command{}, fmt.Errorf("step %q: %w", step.Name, err)
			}
			env[k] = v
		}
	}

	dir, err := template.Interpolate(step.Dir, resolve)
	if err != nil {
		return Command{}, fmt.Errorf("step %q: %w", step.Name, err)
	}

	return Command{
		Argv:    argv,
		Env:     env,
		Dir:     dir,
		Timeout: step.Timeout.Std(),
	}, nil
}

// redact masks bound secret values in captured tool output before it is
// stored or logged.
func redact(output string, secrets map[string]string) string {
	for _, value := range secrets {
		if value != "" {
			output = strings.ReplaceAll(output, value, "***")
		}
	}
	return output
}
