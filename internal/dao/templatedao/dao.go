package templatedao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"

	apperrors "github.com/conveyorhq/conveyor/internal/errors"
)

// TableName derives the templates table name for an engine environment.
func TableName(env string) string {
	return fmt.Sprintf("conveyor-%s-templates", env)
}

// PK is the DynamoDB partition key: the template name.
type PK string

// String returns the string representation of the partition key.
func (pk PK) String() string {
	return string(pk)
}

// PinKind distinguishes the mutability tier of a published pin.
type PinKind string

const (
	// KindTag is an intended-immutable release pin. Once published, the
	// digest behind a tag never changes; breaking changes bump the tag.
	KindTag PinKind = "TAG"
	// KindChannel is a mutable "latest" pin that follows new publishes.
	KindChannel PinKind = "CHANNEL"
)

// Record represents one published pin of a template.
type Record struct {
	PK          PK      `ddb:"hash" dynamodbav:"pk"`  // template name
	SK          string  `ddb:"range" dynamodbav:"sk"` // pin (tag or channel name)
	Kind        PinKind `dynamodbav:"kind"`
	Digest      string  `dynamodbav:"digest"`           // sha256 content digest
	Body        string  `dynamodbav:"body"`             // template YAML as published
	PublishedBy string  `dynamodbav:"published_by,omitempty"`
	CreatedAt   int64   `dynamodbav:"created_at,omitempty"`
	UpdatedAt   int64   `dynamodbav:"updated_at,omitempty"`
}

// PublishInput contains the fields needed to publish a template pin.
type PublishInput struct {
	Template    string
	Pin         string
	Kind        PinKind
	Digest      string
	Body        string
	PublishedBy string
}

// DAO provides data access operations for published template revisions.
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

// Publish records a template revision under a pin.
//
// Tags are the compatibility contract: re-publishing an existing tag with a
// different digest returns ErrTagImmutable. Publishing the identical digest
// under an existing tag is a no-op. Channels always move to the new digest.
func (d *DAO) Publish(ctx context.Context, input PublishInput) (Record, error) {
	now := time.Now().Unix()

	if input.Kind == KindTag {
		existing, err := d.Find(ctx, input.Template, input.Pin)
		if err != nil {
			return Record{}, err
		}
		if existing != nil {
			if existing.Digest != input.Digest {
				return Record{}, fmt.Errorf("tag %s@%s: %w", input.Template, input.Pin, apperrors.ErrTagImmutable)
			}
			return *existing, nil
		}
	}

	record := Record{
		PK:          PK(input.Template),
		SK:          input.Pin,
		Kind:        input.Kind,
		Digest:      input.Digest,
		Body:        input.Body,
		PublishedBy: input.PublishedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return Record{}, fmt.Errorf("failed to publish template revision: %w", err)
	}

	return record, nil
}

// Find retrieves a published pin. Returns nil if the pin has never been
// published.
func (d *DAO) Find(ctx context.Context, tmpl, pin string) (*Record, error) {
	var record Record

	err := d.table.Get(tmpl).
		Range(pin).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template pin: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}

	return &record, nil
}

// FindByDigest retrieves the published revision carrying the given digest.
func (d *DAO) FindByDigest(ctx context.Context, tmpl, digest string) (*Record, error) {
	records, err := d.Query(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Digest == digest {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Query returns every published pin for a template.
func (d *DAO) Query(ctx context.Context, tmpl string) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", tmpl).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query template pins: %w", err)
	}

	return records, nil
}

// Delete removes a published pin. Intended for channel cleanup; deleting a
// tag breaks the immutability contract for existing callers.
func (d *DAO) Delete(ctx context.Context, tmpl, pin string) error {
	err := d.table.Delete(tmpl).
		Range(pin).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete template pin: %w", err)
	}

	return nil
}
