package sequencer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/internal/contract"
	"github.com/conveyorhq/conveyor/internal/template"
)

type recordingRunner struct {
	commands []Command
	failOn   string
}

func (r *recordingRunner) Run(ctx context.Context, cmd Command) (string, error) {
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && cmd.Name == r.failOn {
		return "stderr tail", fmt.Errorf("exit status 1")
	}
	return "done", nil
}

func bind(t *testing.T, tmpl *template.Template, inputs, secrets map[string]string) *contract.Bindings {
	t.Helper()
	bindings, err := contract.Validate(tmpl, inputs, secrets)
	require.NoError(t, err)
	return bindings
}

func strptr(s string) *string { return &s }

func TestRun_ForEachExecutesInElementOrder(t *testing.T) {
	tmpl := &template.Template{
		Name: "db-bootstrap",
		Inputs: []template.InputSpec{
			{Name: "sql_paths", Type: template.TypeString, Required: true},
		},
		Secrets: []template.SecretSpec{{Name: "DB_PASSWORD", Required: true}},
		Steps: []template.Step{
			{
				Name:    "apply",
				Run:     []string{"psql", "-f", "${{ item }}"},
				Env:     map[string]string{"PGPASSWORD": "${{ secrets.DB_PASSWORD }}"},
				ForEach: "sql_paths",
			},
		},
	}
	bindings := bind(t, tmpl,
		map[string]string{"sql_paths": "schema.sql, seed.sql"},
		map[string]string{"DB_PASSWORD": "s3cret"})

	runner := &recordingRunner{}
	result := New(runner).Run(context.Background(), tmpl, bindings)
	require.NoError(t, result.Err)

	require.Len(t, runner.commands, 2)
	assert.Equal(t, []string{"psql", "-f", "schema.sql"}, runner.commands[0].Argv)
	assert.Equal(t, []string{"psql", "-f", "seed.sql"}, runner.commands[1].Argv)
	assert.Equal(t, "s3cret", runner.commands[0].Env["PGPASSWORD"])

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "apply [schema.sql]", result.Steps[0].Name)
	assert.Equal(t, "apply [seed.sql]", result.Steps[1].Name)
}

func TestRun_FailFastWithAlwaysRun(t *testing.T) {
	tmpl := &template.Template{
		Name: "pipeline",
		Steps: []template.Step{
			{Name: "first", Run: []string{"true"}},
			{Name: "second", Run: []string{"false"}},
			{Name: "third", Run: []string{"true"}},
			{Name: "cleanup", Run: []string{"rm", "-rf", "tmp"}, AlwaysRun: true},
		},
	}
	bindings := bind(t, tmpl, nil, nil)

	runner := &recordingRunner{failOn: "second"}
	result := New(runner).Run(context.Background(), tmpl, bindings)

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), `step "second" failed`)

	require.Len(t, result.Steps, 4)
	assert.Equal(t, StepStatusSuccess, result.Steps[0].Status)
	assert.Equal(t, StepStatusFailed, result.Steps[1].Status)
	assert.Equal(t, StepStatusSkipped, result.Steps[2].Status)
	assert.Equal(t, StepStatusSuccess, result.Steps[3].Status)

	// third never reached the runner, cleanup did
	require.Len(t, runner.commands, 3)
	assert.Equal(t, "cleanup", runner.commands[2].Name)
}

func TestRun_GatedStepSkipped(t *testing.T) {
	tmpl := &template.Template{
		Name: "terraform-rds",
		Inputs: []template.InputSpec{
			{Name: "run_apply", Type: template.TypeBoolean, Default: strptr("false")},
		},
		Steps: []template.Step{
			{Name: "plan", Run: []string{"terraform", "plan"}},
			{Name: "apply", Run: []string{"terraform", "apply"}, If: "run_apply"},
		},
	}
	bindings := bind(t, tmpl, nil, nil)

	runner := &recordingRunner{}
	result := New(runner).Run(context.Background(), tmpl, bindings)
	require.NoError(t, result.Err)

	require.Len(t, runner.commands, 1)
	assert.Equal(t, "plan", runner.commands[0].Name)
	assert.Equal(t, StepStatusSkipped, result.Steps[1].Status)
}

func TestRun_NegatedGate(t *testing.T) {
	tmpl := &template.Template{
		Name: "db-bootstrap",
		Inputs: []template.InputSpec{
			{Name: "ssl", Type: template.TypeBoolean, Default: strptr("true")},
		},
		Steps: []template.Step{
			{Name: "secure", Run: []string{"psql"}, Env: map[string]string{"PGSSLMODE": "require"}, If: "ssl"},
			{Name: "insecure", Run: []string{"psql"}, Env: map[string]string{"PGSSLMODE": "disable"}, If: "!ssl"},
		},
	}

	runner := &recordingRunner{}
	result := New(runner).Run(context.Background(), tmpl, bind(t, tmpl, nil, nil))
	require.NoError(t, result.Err)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "secure", runner.commands[0].Name)

	runner = &recordingRunner{}
	result = New(runner).Run(context.Background(), tmpl, bind(t, tmpl, map[string]string{"ssl": "false"}, nil))
	require.NoError(t, result.Err)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "insecure", runner.commands[0].Name)
}

func TestRun_InterpolationErrorAbortsBeforeExecution(t *testing.T) {
	tmpl := &template.Template{
		Name: "pipeline",
		Inputs: []template.InputSpec{
			{Name: "paths", Type: template.TypeString, Required: true},
		},
		Steps: []template.Step{
			{Name: "first", Run: []string{"echo", "ok"}},
			{Name: "bad", Run: []string{"psql", "-f", "${{ item }}"}, ForEach: "paths"},
		},
	}

	bindings := bind(t, tmpl, map[string]string{"paths": " , "}, nil)

	runner := &recordingRunner{}
	result := New(runner).Run(context.Background(), tmpl, bindings)

	require.Error(t, result.Err)
	assert.Empty(t, runner.commands, "expansion failure must leave zero steps executed")
	assert.Empty(t, result.Steps)
}

func TestRun_ExtraEnvMergedBeneathStepEnv(t *testing.T) {
	tmpl := &template.Template{
		Name: "pipeline",
		Steps: []template.Step{
			{Name: "tool", Run: []string{"aws"}, Env: map[string]string{"AWS_REGION": "eu-west-1"}},
		},
	}

	runner := &recordingRunner{}
	seq := New(runner)
	seq.ExtraEnv = map[string]string{
		"AWS_ACCESS_KEY_ID": "AKIA",
		"AWS_REGION":        "us-east-1",
	}
	result := seq.Run(context.Background(), tmpl, bind(t, tmpl, nil, nil))
	require.NoError(t, result.Err)

	env := runner.commands[0].Env
	assert.Equal(t, "AKIA", env["AWS_ACCESS_KEY_ID"])
	assert.Equal(t, "eu-west-1", env["AWS_REGION"], "step env wins over injected env")
}

func TestRun_SecretsRedactedFromOutput(t *testing.T) {
	tmpl := &template.Template{
		Name:    "pipeline",
		Secrets: []template.SecretSpec{{Name: "TOKEN", Required: true}},
		Steps: []template.Step{
			{Name: "leaky", Run: []string{"curl"}, Env: map[string]string{"AUTH": "${{ secrets.TOKEN }}"}},
		},
	}
	bindings := bind(t, tmpl, nil, map[string]string{"TOKEN": "tk-123"})

	runner := leakyRunner{}
	result := New(runner).Run(context.Background(), tmpl, bindings)
	require.NoError(t, result.Err)
	assert.Equal(t, "posted with ***", result.Steps[0].Output)
}

type leakyRunner struct{}

func (leakyRunner) Run(ctx context.Context, cmd Command) (string, error) {
	return "posted with tk-123", nil
}

func TestRedact(t *testing.T) {
	out := redact("password is hunter2, again hunter2", map[string]string{"P": "hunter2"})
	assert.Equal(t, "password is ***, again ***", out)

	out = redact("untouched", map[string]string{"P": ""})
	assert.Equal(t, "untouched", out)
}
