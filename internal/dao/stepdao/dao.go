package stepdao

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
)

// TableName derives the steps table name for an engine environment.
func TableName(env string) string {
	return fmt.Sprintf("conveyor-%s-steps", env)
}

// PK is the DynamoDB partition key: the full run ID ({template}:{ksuid}).
type PK string

// NewPK creates a partition key from a run ID.
func NewPK(runID string) PK {
	return PK(runID)
}

// String returns the string representation.
func (pk PK) String() string {
	return string(pk)
}

// SK is the sort key: {index}/{step name}, with the index zero-padded so
// steps list in execution order.
type SK string

// NewSK creates a sort key from a step index and name.
func NewSK(index int, name string) SK {
	return SK(fmt.Sprintf("%04d/%s", index, name))
}

// ParseSK parses a sort key into index and step name components.
func ParseSK(sk SK) (index int, name string, err error) {
	s := string(sk)
	idx, name, found := strings.Cut(s, "/")
	if !found {
		return 0, "", fmt.Errorf("invalid SK format: %s, expected {index}/{name}", s)
	}
	index, err = strconv.Atoi(idx)
	if err != nil {
		return 0, "", fmt.Errorf("invalid SK index in %s: %w", s, err)
	}
	return index, name, nil
}

// StepStatus represents the outcome of a single step.
type StepStatus string

const (
	StatusSuccess StepStatus = "SUCCESS"
	StatusFailed  StepStatus = "FAILED"
	StatusSkipped StepStatus = "SKIPPED"
)

// Record represents one step outcome within a run.
type Record struct {
	PK         PK         `ddb:"hash" dynamodbav:"pk"`  // {template}:{ksuid}
	SK         SK         `ddb:"range" dynamodbav:"sk"` // {index}/{name}
	Name       string     `dynamodbav:"name"`
	Status     StepStatus `dynamodbav:"status"`
	Output     string     `dynamodbav:"output,omitempty"`    // redacted tool output tail
	ErrorMsg   string     `dynamodbav:"error_msg,omitempty"` // failure detail, if any
	StartedAt  int64      `dynamodbav:"started_at,omitempty"`
	FinishedAt int64      `dynamodbav:"finished_at,omitempty"`
	CreatedAt  int64      `dynamodbav:"created_at"`
}

// PutInput contains the fields needed to record a step outcome.
type PutInput struct {
	RunID      string
	Index      int
	Name       string
	Status     StepStatus
	Output     string
	ErrorMsg   string
	StartedAt  int64
	FinishedAt int64
}

// DAO provides data access operations for step outcome records.
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance.
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Put records the outcome of one step.
func (d *DAO) Put(ctx context.Context, input PutInput) (Record, error) {
	record := Record{
		PK:         NewPK(input.RunID),
		SK:         NewSK(input.Index, input.Name),
		Name:       input.Name,
		Status:     input.Status,
		Output:     input.Output,
		ErrorMsg:   input.ErrorMsg,
		StartedAt:  input.StartedAt,
		FinishedAt: input.FinishedAt,
		CreatedAt:  time.Now().Unix(),
	}

	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return Record{}, fmt.Errorf("failed to record step outcome: %w", err)
	}

	return record, nil
}

// Query returns every step outcome for a run, in execution order.
func (d *DAO) Query(ctx context.Context, runID string) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", runID).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query step outcomes: %w", err)
	}

	return records, nil
}

// DeleteRun removes every step outcome for a run.
func (d *DAO) DeleteRun(ctx context.Context, runID string) error {
	records, err := d.Query(ctx, runID)
	if err != nil {
		return err
	}
	for _, record := range records {
		err := d.table.Delete(record.PK.String()).
			Range(string(record.SK)).
			RunWithContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete step outcome %s: %w", record.SK, err)
		}
	}
	return nil
}
