package rundao

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/conveyorhq/conveyor/internal/errors"
)

func TestTableName(t *testing.T) {
	assert.Equal(t, "conveyor-dev-runs", TableName("dev"))
	assert.Equal(t, "conveyor-prod-runs", TableName("prod"))
}

func TestID(t *testing.T) {
	id := NewID(NewPK("db-bootstrap"), "2HFj3kLmNoPqRsTuVwXy")
	assert.Equal(t, "db-bootstrap:2HFj3kLmNoPqRsTuVwXy", id.String())

	pk, sk, err := ParseID(id)
	require.NoError(t, err)
	assert.Equal(t, NewPK("db-bootstrap"), pk)
	assert.Equal(t, "2HFj3kLmNoPqRsTuVwXy", sk)

	_, _, err = ParseID("missing-separator")
	assert.Error(t, err)

	_, _, err = ParseID("too:many:parts")
	assert.Error(t, err)
}

type testSetup struct {
	dao       *DAO
	client    *dynamodb.Client
	tableName string
}

// setupLocalDynamoDB creates a DynamoDB client configured for local testing.
// Set DYNAMODB_ENDPOINT to point at a local DynamoDB (e.g., http://localhost:8000).
func setupLocalDynamoDB(t *testing.T) *testSetup {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8000"
	}

	tableName := "test-runs-" + ksuid.New().String()

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("us-west-2"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	ctx := context.Background()
	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, 30*time.Second); err != nil {
		t.Fatalf("failed to wait for table: %v", err)
	}

	setup := &testSetup{
		dao:       New(client, tableName),
		client:    client,
		tableName: tableName,
	}
	t.Cleanup(func() {
		_, err := client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			t.Logf("failed to delete table: %v", err)
		}
	})
	return setup
}

func TestDAO_CreateAndFind(t *testing.T) {
	setup := setupLocalDynamoDB(t)
	ctx := context.Background()

	sk := ksuid.New().String()
	created, err := setup.dao.Create(ctx, CreateInput{
		Template: "db-bootstrap",
		SK:       sk,
		Ref:      "db-bootstrap@v1",
		Digest:   "sha256:abc",
		Trigger:  "cli",
		Caller:   "alice",
		Mutating: true,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, created.Status)

	found, err := setup.dao.Find(ctx, created.GetID())
	require.NoError(t, err)
	assert.Equal(t, "db-bootstrap@v1", found.Ref)
	assert.Equal(t, "alice", found.Caller)
	assert.True(t, found.Mutating)
	assert.Nil(t, found.FinishedAt)
}

func TestDAO_FindMissing(t *testing.T) {
	setup := setupLocalDynamoDB(t)

	_, err := setup.dao.Find(context.Background(), NewID("db-bootstrap", ksuid.New().String()))
	require.Error(t, err)

	// callers distinguish a missing run from a storage failure by sentinel
	assert.ErrorIs(t, err, apperrors.ErrRunNotFound)
}

func TestDAO_StartAndFinish(t *testing.T) {
	setup := setupLocalDynamoDB(t)
	ctx := context.Background()

	sk := ksuid.New().String()
	created, err := setup.dao.Create(ctx, CreateInput{
		Template: "terraform-apply",
		SK:       sk,
		Ref:      "terraform-apply@v2",
		Digest:   "sha256:def",
		Trigger:  "api",
		Caller:   "bob",
		Mutating: true,
	})
	require.NoError(t, err)

	require.NoError(t, setup.dao.Start(ctx, created.PK, sk))

	found, err := setup.dao.Find(ctx, created.GetID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusInProgress, found.Status)

	status := RunStatusFailed
	errMsg := `step "apply" failed: exit status 1`
	require.NoError(t, setup.dao.UpdateStatus(ctx, UpdateInput{
		PK:       created.PK,
		SK:       sk,
		Status:   &status,
		ErrorMsg: &errMsg,
	}))

	found, err = setup.dao.Find(ctx, created.GetID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, found.Status)
	require.NotNil(t, found.ErrorMsg)
	assert.Equal(t, errMsg, *found.ErrorMsg)
	require.NotNil(t, found.FinishedAt)
}

func TestDAO_QueryLatestRuns(t *testing.T) {
	setup := setupLocalDynamoDB(t)
	ctx := context.Background()

	for _, tmpl := range []string{"terraform-plan", "site-deploy"} {
		sk := ksuid.New().String()
		created, err := setup.dao.Create(ctx, CreateInput{
			Template: tmpl,
			SK:       sk,
			Ref:      tmpl + "@main",
			Digest:   "sha256:abc",
			Trigger:  "cli",
			Caller:   "alice",
		})
		require.NoError(t, err)

		status := RunStatusSuccess
		require.NoError(t, setup.dao.UpdateStatus(ctx, UpdateInput{
			PK:     created.PK,
			SK:     sk,
			Status: &status,
		}))
	}

	latest, err := setup.dao.QueryLatestRuns(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	for _, r := range latest {
		assert.Equal(t, RunStatusSuccess, r.Status)
	}
}
