// Package dispatcher drives an invocation end to end: resolve the pinned
// template, validate the parameter contract, admit it through policy, take
// the apply lock when the run mutates state, sequence the steps, and record
// every outcome.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/conveyorhq/conveyor/internal/contract"
	"github.com/conveyorhq/conveyor/internal/dao/lockdao"
	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dao/stepdao"
	apperrors "github.com/conveyorhq/conveyor/internal/errors"
	"github.com/conveyorhq/conveyor/internal/policy"
	"github.com/conveyorhq/conveyor/internal/registry"
	"github.com/conveyorhq/conveyor/internal/secrets"
	"github.com/conveyorhq/conveyor/internal/sequencer"
	"github.com/conveyorhq/conveyor/internal/services"
	"github.com/conveyorhq/conveyor/internal/template"
)

// Trigger identifies how an invocation entered the system.
const (
	TriggerCLI     = "cli"
	TriggerAPI     = "api"
	TriggerWebhook = "webhook"
)

// Request describes one invocation of a pinned template.
type Request struct {
	Ref     template.Ref
	Inputs  map[string]string
	Secrets map[string]string // inline bindings, consulted before the provider
	Trigger string
	Caller  string
	WorkDir string // base directory for step execution and artifact upload
}

// Run is the final account of a dispatched invocation.
type Run struct {
	ID          string
	Template    string
	Digest      string
	Status      rundao.RunStatus
	Mutating    bool
	Steps       []sequencer.StepResult
	ArtifactKey string
	Err         error
}

// Dispatcher wires the engine together. The DAOs and AWS-backed services
// may be nil, in which case runs execute without persistence. The policy
// validator and registry are always required.
type Dispatcher struct {
	Registry  *registry.Registry
	Validator *policy.Validator
	Secrets   secrets.Provider
	Runner    sequencer.Runner
	Env       string

	Runs      *rundao.DAO
	Steps     *stepdao.DAO
	Locks     *lockdao.DAO
	Artifacts *services.ArtifactStore
	Roles     *services.RoleExchanger
}

// Dispatch runs one invocation to completion. The returned Run carries the
// outcome even when its Err is non-nil; a nil *Run means the invocation was
// rejected before a run record existed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Run, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("template", req.Ref.Name).
		Str("pin", req.Ref.Pin).
		Logger()
	ctx = logger.WithContext(ctx)

	revision, err := d.Registry.Resolve(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	t := revision.Template

	secretValues, err := d.resolveSecrets(ctx, t, req.Secrets)
	if err != nil {
		return nil, err
	}

	bindings, err := contract.Validate(t, req.Inputs, secretValues)
	if err != nil {
		return nil, err
	}

	mutating := isMutating(t, bindings)

	result, err := d.Validator.Check(ctx, policy.Invocation{
		Template: t.Name,
		Pin:      req.Ref.Pin,
		PinKind:  req.Ref.Kind,
		Mutating: mutating,
		Trigger:  req.Trigger,
		Caller:   req.Caller,
		Env:      d.Env,
	})
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPolicyDenied, strings.Join(result.Violations, "; "))
	}

	run := &Run{
		Template: t.Name,
		Digest:   revision.Digest,
		Mutating: mutating,
		Status:   rundao.RunStatusPending,
	}

	sk := ksuid.New().String()
	run.ID = rundao.NewID(rundao.NewPK(t.Name), sk).String()
	if d.Runs != nil {
		_, err = d.Runs.Create(ctx, rundao.CreateInput{
			Template: t.Name,
			SK:       sk,
			Ref:      req.Ref.String(),
			Digest:   revision.Digest,
			Trigger:  req.Trigger,
			Caller:   req.Caller,
			Mutating: mutating,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create run record: %w", err)
		}
	}

	logger = logger.With().Str("run_id", run.ID).Logger()
	ctx = logger.WithContext(ctx)

	if mutating {
		release, err := d.acquireLock(ctx, t, bindings, run)
		if err != nil {
			d.finish(ctx, run, sk, err)
			return run, err
		}
		defer release()
	}

	if d.Runs != nil {
		if err := d.Runs.Start(ctx, rundao.NewPK(t.Name), sk); err != nil {
			d.finish(ctx, run, sk, err)
			return run, err
		}
	}
	run.Status = rundao.RunStatusInProgress

	seq := sequencer.New(d.Runner)
	seq.ExtraEnv, err = d.roleEnv(ctx, t, bindings)
	if err != nil {
		d.finish(ctx, run, sk, err)
		return run, err
	}

	outcome := seq.Run(ctx, t, bindings)
	run.Steps = outcome.Steps
	d.recordSteps(ctx, run.ID, outcome.Steps)

	if outcome.Err == nil && len(t.Artifacts) > 0 {
		run.ArtifactKey, err = d.uploadArtifacts(ctx, run.ID, req.WorkDir, t, bindings)
		if err != nil {
			d.finish(ctx, run, sk, err)
			return run, err
		}
	}

	d.finish(ctx, run, sk, outcome.Err)
	return run, outcome.Err
}

func (d *Dispatcher) resolveSecrets(ctx context.Context, t *template.Template, inline map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(t.Secrets))
	for _, s := range t.Secrets {
		names = append(names, s.Name)
	}

	provider := secrets.Provider(secrets.StaticProvider(inline))
	if d.Secrets != nil {
		provider = secrets.Chain{secrets.StaticProvider(inline), d.Secrets}
	}
	return secrets.Resolve(ctx, provider, names)
}

// isMutating reports whether this invocation, with these bindings, enables
// an apply-class step.
func isMutating(t *template.Template, b *contract.Bindings) bool {
	switch {
	case t.Lock == nil:
		return false
	case t.Lock.Mutating:
		return true
	case t.Lock.MutatingIf != "":
		return b.Bool(t.Lock.MutatingIf)
	default:
		return false
	}
}

// acquireLock takes the apply lock for the invocation's scope and returns
// the release func. Contention is surfaced as ErrLockHeld, not a wait.
func (d *Dispatcher) acquireLock(ctx context.Context, t *template.Template, b *contract.Bindings, run *Run) (func(), error) {
	if d.Locks == nil {
		return func() {}, nil
	}

	scope := "default"
	if t.Lock.Scope != "" {
		rendered, err := template.Interpolate(t.Lock.Scope, b.Resolve)
		if err != nil {
			return nil, err
		}
		if rendered != "" {
			scope = rendered
		}
	}

	record, acquired, err := d.Locks.Acquire(ctx, lockdao.AcquireInput{
		Template: t.Name,
		Scope:    scope,
		RunID:    run.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire apply lock: %w", err)
	}
	if !acquired {
		holder := ""
		if record != nil {
			holder = record.RunID
		}
		return nil, fmt.Errorf("%w: %s/%s held by %s", apperrors.ErrLockHeld, t.Name, scope, holder)
	}

	zerolog.Ctx(ctx).Info().
		Str("scope", scope).
		Msg("acquired apply lock")

	id := lockdao.NewID(t.Name, scope)
	return func() {
		if err := d.Locks.Release(context.WithoutCancel(ctx), lockdao.ReleaseInput{ID: id, RunID: run.ID}); err != nil {
			zerolog.Ctx(ctx).Warn().
				Err(err).
				Str("lock_id", id.String()).
				Msg("failed to release apply lock")
		}
	}, nil
}

// roleEnv exchanges the ambient web identity for the role the template
// declares and returns the credential environment for every step.
func (d *Dispatcher) roleEnv(ctx context.Context, t *template.Template, b *contract.Bindings) (map[string]string, error) {
	if t.AssumeRole == nil {
		return nil, nil
	}
	if d.Roles == nil {
		return nil, fmt.Errorf("template %s requires role assumption but no exchanger is configured", t.Name)
	}

	roleARN := b.Secrets[t.AssumeRole.RoleSecret]
	creds, err := d.Roles.Exchange(ctx, roleARN, fmt.Sprintf("conveyor-%s", t.Name))
	if err != nil {
		return nil, err
	}

	env := creds.Env()
	if t.AssumeRole.RegionInput != "" {
		if region := b.Input(t.AssumeRole.RegionInput); region != "" {
			env["AWS_REGION"] = region
			env["AWS_DEFAULT_REGION"] = region
		}
	}
	return env, nil
}

func (d *Dispatcher) recordSteps(ctx context.Context, runID string, steps []sequencer.StepResult) {
	if d.Steps == nil {
		return
	}
	for i, step := range steps {
		errMsg := ""
		if step.Err != nil {
			errMsg = step.Err.Error()
		}
		_, err := d.Steps.Put(ctx, stepdao.PutInput{
			RunID:      runID,
			Index:      i,
			Name:       step.Name,
			Status:     stepdao.StepStatus(step.Status),
			Output:     step.Output,
			ErrorMsg:   errMsg,
			StartedAt:  unixOrZero(step.StartedAt),
			FinishedAt: unixOrZero(step.FinishedAt),
		})
		if err != nil {
			zerolog.Ctx(ctx).Warn().
				Err(err).
				Str("step", step.Name).
				Msg("failed to record step outcome")
		}
	}
}

func (d *Dispatcher) uploadArtifacts(ctx context.Context, runID, workDir string, t *template.Template, b *contract.Bindings) (string, error) {
	if d.Artifacts == nil {
		zerolog.Ctx(ctx).Debug().Msg("no artifact store configured, skipping upload")
		return "", nil
	}

	paths := make([]string, 0, len(t.Artifacts))
	for _, p := range t.Artifacts {
		rendered, err := template.Interpolate(p, b.Resolve)
		if err != nil {
			return "", err
		}
		paths = append(paths, rendered)
	}
	return d.Artifacts.Upload(ctx, runID, workDir, paths)
}

// finish settles the run's terminal status and persists it.
func (d *Dispatcher) finish(ctx context.Context, run *Run, sk string, runErr error) {
	status := rundao.RunStatusSuccess
	if runErr != nil {
		status = rundao.RunStatusFailed
		run.Err = runErr
	}
	run.Status = status

	logger := zerolog.Ctx(ctx)
	event := logger.Info()
	if runErr != nil {
		event = logger.Error().Err(runErr)
	}
	event.Str("status", string(status)).Msg("run finished")

	if d.Runs == nil {
		return
	}

	update := rundao.UpdateInput{
		PK:     rundao.NewPK(run.Template),
		SK:     sk,
		Status: &status,
	}
	if runErr != nil {
		msg := runErr.Error()
		update.ErrorMsg = &msg
	}
	if run.ArtifactKey != "" {
		update.ArtifactKey = &run.ArtifactKey
	}
	if err := d.Runs.UpdateStatus(context.WithoutCancel(ctx), update); err != nil {
		logger.Warn().Err(err).Msg("failed to persist run status")
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
