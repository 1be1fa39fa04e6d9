package gql

import "github.com/conveyorhq/conveyor/internal/dao/rundao"

// RunStatus represents the GraphQL RunStatus enum
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailed     RunStatus = "FAILED"
)

// FromModelRunStatus converts a rundao.RunStatus to gql.RunStatus
func FromModelRunStatus(status rundao.RunStatus) RunStatus {
	return RunStatus(status)
}

// StepStatus represents the GraphQL StepStatus enum
type StepStatus string

const (
	StepStatusSuccess StepStatus = "SUCCESS"
	StepStatusFailed  StepStatus = "FAILED"
	StepStatusSkipped StepStatus = "SKIPPED"
)
