package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/internal/contract"
	apperrors "github.com/conveyorhq/conveyor/internal/errors"
	"github.com/conveyorhq/conveyor/internal/policy"
	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/sequencer"
	"github.com/conveyorhq/conveyor/internal/template"
)

const rdsTemplate = `name: terraform-rds
inputs:
  - name: working_dir
    type: string
    required: true
  - name: aws_region
    type: string
    required: true
  - name: run_apply
    type: boolean
    default: "false"
secrets:
  - name: AWS_ROLE_ARN
    required: true
lock:
  mutating_if: run_apply
  scope: ${{ inputs.working_dir }}
steps:
  - name: plan
    run: ["terraform", "plan"]
    dir: ${{ inputs.working_dir }}
  - name: apply
    if: run_apply
    run: ["terraform", "apply", "-auto-approve"]
    dir: ${{ inputs.working_dir }}
`

type fakeRunner struct {
	mu       sync.Mutex
	commands []sequencer.Command
	failOn   string
}

func (r *fakeRunner) Run(ctx context.Context, cmd sequencer.Command) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && cmd.Name == r.failOn {
		return "boom", fmt.Errorf("%s exited with error", cmd.Argv[0])
	}
	return "ok", nil
}

func (r *fakeRunner) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, cmd := range r.commands {
		names = append(names, cmd.Name)
	}
	return names
}

func newDispatcher(t *testing.T, runner sequencer.Runner) *Dispatcher {
	t.Helper()

	r := registry.New(nil)
	err := r.LoadFS(fstest.MapFS{
		"templates/terraform-rds.yaml": &fstest.MapFile{Data: []byte(rdsTemplate)},
	}, "templates")
	require.NoError(t, err)

	validator, err := policy.NewValidator()
	require.NoError(t, err)

	return &Dispatcher{
		Registry:  r,
		Validator: validator,
		Runner:    runner,
		Env:       "dev",
	}
}

func TestDispatch_PlanOnly(t *testing.T) {
	runner := &fakeRunner{}
	d := newDispatcher(t, runner)

	ref, err := template.ParseRef("terraform-rds")
	require.NoError(t, err)

	run, err := d.Dispatch(context.Background(), Request{
		Ref: ref,
		Inputs: map[string]string{
			"working_dir": "stacks/rds",
			"aws_region":  "us-west-2",
		},
		Secrets: map[string]string{"AWS_ROLE_ARN": "arn:aws:iam::123456789012:role/deploy"},
		Trigger: TriggerCLI,
		Caller:  "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "SUCCESS", string(run.Status))
	assert.False(t, run.Mutating)
	assert.Equal(t, []string{"plan"}, runner.names())

	// the gated apply still appears in the record, as skipped
	require.Len(t, run.Steps, 2)
	assert.Equal(t, sequencer.StepStatusSuccess, run.Steps[0].Status)
	assert.Equal(t, sequencer.StepStatusSkipped, run.Steps[1].Status)
}

func TestDispatch_ApplyNeedsImmutablePin(t *testing.T) {
	runner := &fakeRunner{}
	d := newDispatcher(t, runner)

	ref, err := template.ParseRef("terraform-rds") // channel pin
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{
		Ref: ref,
		Inputs: map[string]string{
			"working_dir": "stacks/rds",
			"aws_region":  "us-west-2",
			"run_apply":   "true",
		},
		Secrets: map[string]string{"AWS_ROLE_ARN": "arn:aws:iam::123456789012:role/deploy"},
		Trigger: TriggerCLI,
		Caller:  "alice",
	})
	assert.ErrorIs(t, err, apperrors.ErrPolicyDenied)
	assert.Empty(t, runner.names())
}

func TestDispatch_ApplyOnDigestPin(t *testing.T) {
	runner := &fakeRunner{}
	d := newDispatcher(t, runner)

	digest := template.Digest([]byte(rdsTemplate))
	ref, err := template.ParseRef("terraform-rds@" + digest)
	require.NoError(t, err)

	run, err := d.Dispatch(context.Background(), Request{
		Ref: ref,
		Inputs: map[string]string{
			"working_dir": "stacks/rds",
			"aws_region":  "us-west-2",
			"run_apply":   "true",
		},
		Secrets: map[string]string{"AWS_ROLE_ARN": "arn:aws:iam::123456789012:role/deploy"},
		Trigger: TriggerCLI,
		Caller:  "alice",
	})
	require.NoError(t, err)

	assert.True(t, run.Mutating)
	assert.Equal(t, digest, run.Digest)
	assert.Equal(t, []string{"plan", "apply"}, runner.names())
}

func TestDispatch_MissingSecretFailsBeforeExecution(t *testing.T) {
	runner := &fakeRunner{}
	d := newDispatcher(t, runner)

	ref, err := template.ParseRef("terraform-rds")
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{
		Ref: ref,
		Inputs: map[string]string{
			"working_dir": "stacks/rds",
			"aws_region":  "us-west-2",
		},
		Trigger: TriggerCLI,
		Caller:  "alice",
	})

	var contractErr *contract.Error
	require.ErrorAs(t, err, &contractErr)
	assert.Empty(t, runner.names())
}

func TestDispatch_StepFailureFailsRun(t *testing.T) {
	runner := &fakeRunner{failOn: "plan"}
	d := newDispatcher(t, runner)

	ref, err := template.ParseRef("terraform-rds")
	require.NoError(t, err)

	run, err := d.Dispatch(context.Background(), Request{
		Ref: ref,
		Inputs: map[string]string{
			"working_dir": "stacks/rds",
			"aws_region":  "us-west-2",
		},
		Secrets: map[string]string{"AWS_ROLE_ARN": "arn:aws:iam::123456789012:role/deploy"},
		Trigger: TriggerCLI,
		Caller:  "alice",
	})
	require.Error(t, err)

	assert.Equal(t, "FAILED", string(run.Status))
	assert.Error(t, run.Err)
	assert.Equal(t, sequencer.StepStatusFailed, run.Steps[0].Status)
}

func TestBuiltinRunner_UnknownBuiltin(t *testing.T) {
	runner := &BuiltinRunner{Base: &fakeRunner{}}
	_, err := runner.Run(context.Background(), sequencer.Command{
		Name: "bogus",
		Argv: []string{"internal:frobnicate"},
	})
	assert.Error(t, err)
}
