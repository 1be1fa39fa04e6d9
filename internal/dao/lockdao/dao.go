package lockdao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/savaki/ddb/v2"
)

const (
	lockSK       = "LOCK"
	lockTTLHours = 4 // Auto-expire locks after 4 hours
)

// TableName derives the locks table name for an engine environment.
func TableName(env string) string {
	return fmt.Sprintf("conveyor-%s-locks", env)
}

// PK represents the partition key: {Template}/{Scope}
// Scope is the working directory the invocation mutates (or "default").
// Plan-only and read-only invocations never take a lock; only apply-class
// steps, whose external state (a Terraform state file, a database) must not
// see two writers.
type PK string

// NewPK creates a partition key from template and scope
func NewPK(tmpl, scope string) PK {
	if scope == "" {
		scope = "default"
	}
	return PK(fmt.Sprintf("%s/%s", tmpl, scope))
}

// ParsePK parses a partition key into template and scope components
func ParsePK(pk PK) (tmpl, scope string, err error) {
	s := string(pk)
	tmpl, scope, found := strings.Cut(s, "/")
	if !found || tmpl == "" || scope == "" {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {template}/{scope}", s)
	}
	return tmpl, scope, nil
}

// String returns the string representation
func (pk PK) String() string {
	return string(pk)
}

// ID represents a lock ID in format {template}/{scope}:LOCK
// Example: terraform-rds/infra/prod:LOCK
type ID string

// NewID creates an ID from template and scope
func NewID(tmpl, scope string) ID {
	pk := NewPK(tmpl, scope)
	return ID(fmt.Sprintf("%s:%s", pk, lockSK))
}

// ParseID parses an ID into template and scope components
func ParseID(id ID) (tmpl, scope string, err error) {
	s := string(id)
	body, sk, found := strings.Cut(s, ":")
	if !found {
		return "", "", fmt.Errorf("invalid ID format: %s, expected {template}/{scope}:LOCK", s)
	}
	if sk != lockSK {
		return "", "", fmt.Errorf("invalid ID format: %s, expected SK to be 'LOCK', got '%s'", s, sk)
	}
	return ParsePK(PK(body))
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// Record represents an apply lock
type Record struct {
	PK         PK     `ddb:"hash" dynamodbav:"pk"`  // {Template}/{Scope}
	SK         string `ddb:"range" dynamodbav:"sk"` // Always "LOCK"
	RunID      string `dynamodbav:"run_id"`         // {template}:{ksuid} of the run holding the lock
	AcquiredAt int64  `dynamodbav:"acquired_at"`    // Unix timestamp when lock was acquired
	TTL        int64  `dynamodbav:"ttl"`            // Unix timestamp for DynamoDB TTL expiry
}

// GetID returns the ID for this record
func (r *Record) GetID() ID {
	tmpl, scope, _ := ParsePK(r.PK)
	return NewID(tmpl, scope)
}

// AcquireInput contains fields for acquiring an apply lock
type AcquireInput struct {
	Template string // Template name
	Scope    string // Working directory being mutated
	RunID    string // Run ID of the acquiring invocation
}

// ReleaseInput contains fields for releasing an apply lock
type ReleaseInput struct {
	ID    ID     // Lock ID
	RunID string // Run ID (must match lock holder)
}

// DAO provides data access operations for apply locks
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Acquire attempts to acquire an apply lock.
// Returns (record, true) when this run holds the lock, or the competing
// holder's record with false when another run does.
func (d *DAO) Acquire(ctx context.Context, input AcquireInput) (*Record, bool, error) {
	id := NewID(input.Template, input.Scope)

	existing, err := d.Find(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check existing lock: %w", err)
	}

	if existing != nil {
		if existing.RunID == input.RunID {
			// Same run already holds the lock (retry scenario)
			return existing, true, nil
		}
		// Different run holds the lock
		return existing, false, nil
	}

	now := time.Now().Unix()
	ttl := now + (lockTTLHours * 3600)

	record := &Record{
		PK:         NewPK(input.Template, input.Scope),
		SK:         lockSK,
		RunID:      input.RunID,
		AcquiredAt: now,
		TTL:        ttl,
	}

	// The condition makes acquisition atomic: two runs racing past the read
	// above cannot both write, whichever loses sees the check fail.
	err = d.table.Put(record).
		Condition("attribute_not_exists(#PK)").
		RunWithContext(ctx)
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			holder, findErr := d.Find(ctx, id)
			if findErr != nil {
				return nil, false, fmt.Errorf("lost lock race but could not read holder: %w", findErr)
			}
			return holder, false, nil
		}
		return nil, false, fmt.Errorf("failed to create lock: %w", err)
	}

	return record, true, nil
}

// Find retrieves a lock record by ID.
// Returns nil if not found.
func (d *DAO) Find(ctx context.Context, id ID) (*Record, error) {
	tmpl, scope, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	pk := NewPK(tmpl, scope)
	var record Record

	err = d.table.Get(pk.String()).
		Range(lockSK).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}

	return &record, nil
}

// Release releases an apply lock.
// Only succeeds if the lock is held by the specified run.
func (d *DAO) Release(ctx context.Context, input ReleaseInput) error {
	tmpl, scope, err := ParseID(input.ID)
	if err != nil {
		return err
	}

	existing, err := d.Find(ctx, input.ID)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}

	if existing == nil {
		// No lock exists (already released or expired)
		return nil
	}

	if existing.RunID != input.RunID {
		return fmt.Errorf("lock not held by run %s (held by %s)", input.RunID, existing.RunID)
	}

	pk := NewPK(tmpl, scope)
	err = d.table.Delete(pk.String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}

// Delete removes a lock record regardless of holder.
// Use with caution - only for cleanup/recovery scenarios.
func (d *DAO) Delete(ctx context.Context, id ID) error {
	tmpl, scope, err := ParseID(id)
	if err != nil {
		return err
	}

	pk := NewPK(tmpl, scope)

	err = d.table.Delete(pk.String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}
