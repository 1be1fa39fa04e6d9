package gql

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dao/stepdao"
)

// RunResolver resolves the Run GraphQL type
type RunResolver struct {
	run     rundao.Record
	stepDAO *stepdao.DAO
	ctx     context.Context
}

// newRunResolver creates a new RunResolver
func newRunResolver(run rundao.Record, stepDAO *stepdao.DAO, ctx context.Context) *RunResolver {
	return &RunResolver{
		run:     run,
		stepDAO: stepDAO,
		ctx:     ctx,
	}
}

// ID resolves the id field (format: {template}:{ksuid})
func (r *RunResolver) ID() graphql.ID {
	return graphql.ID(r.run.GetID())
}

// Template resolves the template field
func (r *RunResolver) Template() string {
	return r.run.PK.String()
}

// Ref resolves the ref field
func (r *RunResolver) Ref() string {
	return r.run.Ref
}

// Digest resolves the digest field
func (r *RunResolver) Digest() string {
	return r.run.Digest
}

// Trigger resolves the trigger field
func (r *RunResolver) Trigger() string {
	return r.run.Trigger
}

// Caller resolves the caller field
func (r *RunResolver) Caller() *string {
	if r.run.Caller == "" {
		return nil
	}
	return &r.run.Caller
}

// Mutating resolves the mutating field
func (r *RunResolver) Mutating() bool {
	return r.run.Mutating
}

// Status resolves the status field
func (r *RunResolver) Status() RunStatus {
	return FromModelRunStatus(r.run.Status)
}

// ErrorMsg resolves the errorMsg field
func (r *RunResolver) ErrorMsg() *string {
	return r.run.ErrorMsg
}

// ArtifactKey resolves the artifactKey field
func (r *RunResolver) ArtifactKey() *string {
	return r.run.ArtifactKey
}

// StartTime resolves the startTime field
func (r *RunResolver) StartTime() DateTime {
	return NewDateTimeFromUnix(r.run.CreatedAt)
}

// EndTime resolves the endTime field
func (r *RunResolver) EndTime() *DateTime {
	return NewDateTimePtrFromUnix(r.run.FinishedAt)
}

// Steps resolves the steps field by fetching recorded step outcomes in
// execution order.
func (r *RunResolver) Steps() ([]*StepResolver, error) {
	// A run with no recorded steps queries to an empty slice, not an error,
	// so anything the DAO reports here is a real storage failure.
	records, err := r.stepDAO.Query(r.ctx, r.run.GetID().String())
	if err != nil {
		return nil, err
	}

	resolvers := make([]*StepResolver, len(records))
	for i, record := range records {
		resolvers[i] = &StepResolver{step: record}
	}
	return resolvers, nil
}

// StepResolver resolves the Step GraphQL type
type StepResolver struct {
	step stepdao.Record
}

// Name resolves the name field
func (r *StepResolver) Name() string {
	return r.step.Name
}

// Status resolves the status field
func (r *StepResolver) Status() StepStatus {
	return StepStatus(r.step.Status)
}

// Output resolves the output field
func (r *StepResolver) Output() string {
	return r.step.Output
}

// ErrorMsg resolves the errorMsg field
func (r *StepResolver) ErrorMsg() *string {
	if r.step.ErrorMsg == "" {
		return nil
	}
	return &r.step.ErrorMsg
}

// StartTime resolves the startTime field
func (r *StepResolver) StartTime() *DateTime {
	return NewDateTimePtrFromUnix(&r.step.StartedAt)
}

// EndTime resolves the endTime field
func (r *StepResolver) EndTime() *DateTime {
	return NewDateTimePtrFromUnix(&r.step.FinishedAt)
}
