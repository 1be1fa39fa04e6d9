package rundao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/gox/slicex"

	apperrors "github.com/conveyorhq/conveyor/internal/errors"
)

const latest = "latest"

// TableName derives the runs table name for an engine environment.
func TableName(env string) string {
	return fmt.Sprintf("conveyor-%s-runs", env)
}

// PK is the DynamoDB partition key: the template name.
type PK string

// NewPK creates a partition key for a template's runs.
func NewPK(tmpl string) PK {
	return PK(tmpl)
}

// String returns the string representation of the partition key.
func (pk PK) String() string {
	return string(pk)
}

// ID represents a run ID in format {template}:{ksuid}
// Example: db-bootstrap:2HFj3kLmNoPqRsTuVwXy
type ID string

func (id ID) String() string {
	return string(id)
}

// ParseID parses a run ID into its partition key (pk) and sort key (sk) components.
func ParseID(id ID) (pk PK, sk string, err error) {
	parts := strings.Split(string(id), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid run ID format: %s, expected {template}:{ksuid}", id)
	}
	return PK(parts[0]), parts[1], nil
}

// NewID constructs an ID from partition key and sort key.
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// RunStatus represents the current status of an invocation run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailed     RunStatus = "FAILED"
)

// Record represents an invocation run in DynamoDB.
type Record struct {
	PK          PK        `ddb:"hash" dynamodbav:"pk"`  // template name
	SK          string    `ddb:"range" dynamodbav:"sk"` // KSUID
	ID          ID        `dynamodbav:"id,omitempty"`   // only set on latest entries
	Template    string    `dynamodbav:"template,omitempty"`
	Ref         string    `dynamodbav:"ref,omitempty"`    // caller's pin, e.g. db-bootstrap@v1
	Digest      string    `dynamodbav:"digest,omitempty"` // resolved content digest
	Trigger     string    `dynamodbav:"trigger,omitempty"` // cli, api, webhook, schedule
	Caller      string    `dynamodbav:"caller,omitempty"`  // authenticated subject, if any
	Mutating    bool      `dynamodbav:"mutating,omitempty"` // invocation enables an apply-class step
	Status      RunStatus `dynamodbav:"status,omitempty"`
	ErrorMsg    *string   `dynamodbav:"error_msg,omitempty,omitempty"`
	ArtifactKey *string   `dynamodbav:"artifact_key,omitempty,omitempty"` // S3 key prefix of uploaded artifacts
	CreatedAt   int64     `dynamodbav:"created_at,omitempty"`
	FinishedAt  *int64    `dynamodbav:"finished_at,omitempty,omitempty"`
	UpdatedAt   int64     `dynamodbav:"updated_at,omitempty"`
}

// GetID returns the full run ID in format {template}:{ksuid}.
func (r *Record) GetID() ID {
	if r.ID != "" {
		return r.ID
	}
	return NewID(r.PK, r.SK)
}

// CreateInput contains the fields needed to create a new run record.
type CreateInput struct {
	Template string // template name
	SK       string // KSUID sort key
	Ref      string // caller's pin
	Digest   string // resolved content digest
	Trigger  string // cli, api, webhook, schedule
	Caller   string // authenticated subject
	Mutating bool   // invocation enables an apply-class step
}

// UpdateInput contains the fields that can be updated on a run record.
type UpdateInput struct {
	PK          PK
	SK          string
	Status      *RunStatus
	ErrorMsg    *string
	ArtifactKey *string
}

// DAO provides data access operations for run records.
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

// Create creates a new run record with initial status PENDING.
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	now := time.Now().Unix()

	record := Record{
		PK:        NewPK(input.Template),
		SK:        input.SK,
		Template:  input.Template,
		Ref:       input.Ref,
		Digest:    input.Digest,
		Trigger:   input.Trigger,
		Caller:    input.Caller,
		Mutating:  input.Mutating,
		Status:    RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return Record{}, fmt.Errorf("failed to create run record: %w", err)
	}

	return record, nil
}

// Find retrieves a run record by ID.
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	pk, sk, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record

	err = d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("%w: %s", apperrors.ErrRunNotFound, id)
		}
		return Record{}, fmt.Errorf("failed to find run record: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("%w: %s", apperrors.ErrRunNotFound, id)
	}

	return record, nil
}

// Delete removes a run record by ID.
func (d *DAO) Delete(ctx context.Context, id ID) error {
	pk, sk, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(pk).
		Range(sk).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete run record: %w", err)
	}

	return nil
}

// Start atomically moves a run to IN_PROGRESS. Called once the contract has
// been validated and the sequencer is about to execute the first step.
func (d *DAO) Start(ctx context.Context, pk PK, sk string) error {
	now := time.Now().Unix()
	status := RunStatusInProgress

	update := d.table.Update(pk.String()).
		Range(sk).
		Set("#Status = ?", string(status)).
		Set("#UpdatedAt = ?", now)

	put := d.table.Put(d.latestRecord(pk, sk, status, now))

	if _, err := d.db.TransactWriteItemsWithContext(ctx, update, put); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	return nil
}

// UpdateStatus updates the status of a run record and maintains the "latest"
// magic record (pk=latest, sk={template}) used to list recent runs per
// template without scanning the whole partition.
func (d *DAO) UpdateStatus(ctx context.Context, input UpdateInput) error {
	if input.Status == nil {
		return fmt.Errorf("status is required")
	}

	now := time.Now().Unix()

	update := d.table.Update(input.PK).
		Range(input.SK).
		Set("#Status = ?", string(*input.Status)).
		Set("#UpdatedAt = ?", now)

	if *input.Status == RunStatusSuccess || *input.Status == RunStatusFailed {
		update = update.Set("#FinishedAt = ?", now)
	}
	if input.ErrorMsg != nil {
		update = update.Set("#ErrorMsg = ?", *input.ErrorMsg)
	}
	if input.ArtifactKey != nil {
		update = update.Set("#ArtifactKey = ?", *input.ArtifactKey)
	}

	put := d.table.Put(d.latestRecord(input.PK, input.SK, *input.Status, now))

	if _, err := d.db.TransactWriteItemsWithContext(ctx, update, put); err != nil {
		return err
	}

	return nil
}

// Query returns all runs for a template.
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	return records, nil
}

// QueryLatestRuns returns the most recent run for each template, most
// recently updated first.
func (d *DAO) QueryLatestRuns(ctx context.Context) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", latest).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}

	for i := 0; i < len(records)-1; i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].UpdatedAt > records[i].UpdatedAt {
				records[i], records[j] = records[j], records[i]
			}
		}
	}

	ids := slicex.Map(records, func(r Record) ID { return r.GetID() })

	runs := make([]Record, 0, len(ids))
	for _, id := range ids {
		record, err := d.Find(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrRunNotFound) {
				// latest pointer may outlive a deleted run
				continue
			}
			return nil, err
		}
		runs = append(runs, record)
	}

	return runs, nil
}

func (d *DAO) latestRecord(pk PK, sk string, status RunStatus, now int64) *Record {
	return &Record{
		PK:        PK(latest),
		SK:        pk.String(), // SK in latest record = template name
		ID:        NewID(pk, sk),
		Template:  pk.String(),
		Status:    status,
		UpdatedAt: now,
	}
}
