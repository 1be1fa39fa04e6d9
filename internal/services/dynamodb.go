package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb/v2"

	"github.com/conveyorhq/conveyor/internal/dao/lockdao"
	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dao/stepdao"
	"github.com/conveyorhq/conveyor/internal/dao/templatedao"
)

// TableService provisions the DynamoDB tables backing the run, step,
// template, and lock stores for one environment.
type TableService struct {
	client *dynamodb.Client
	env    string
}

func NewTableService(client *dynamodb.Client, env string) *TableService {
	return &TableService{
		client: client,
		env:    env,
	}
}

// Tables returns the table names for this environment in creation order.
func (s *TableService) Tables() []string {
	return []string{
		rundao.TableName(s.env),
		stepdao.TableName(s.env),
		templatedao.TableName(s.env),
		lockdao.TableName(s.env),
	}
}

// CreateTables creates any missing tables and waits until each is active.
// Existing tables are left untouched.
func (s *TableService) CreateTables(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)
	db := ddb.New(s.client)

	tables := []struct {
		name  string
		model interface{}
	}{
		{rundao.TableName(s.env), rundao.Record{}},
		{stepdao.TableName(s.env), stepdao.Record{}},
		{templatedao.TableName(s.env), templatedao.Record{}},
		{lockdao.TableName(s.env), lockdao.Record{}},
	}

	for _, t := range tables {
		table := db.MustTable(t.name, t.model)
		if err := table.CreateTableIfNotExists(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
		logger.Info().Str("table", t.name).Msg("Table ready")
	}

	return nil
}

// DeleteTables removes all tables for this environment. Intended for
// tearing down ephemeral test environments only.
func (s *TableService) DeleteTables(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)
	db := ddb.New(s.client)

	tables := []struct {
		name  string
		model interface{}
	}{
		{rundao.TableName(s.env), rundao.Record{}},
		{stepdao.TableName(s.env), stepdao.Record{}},
		{templatedao.TableName(s.env), templatedao.Record{}},
		{lockdao.TableName(s.env), lockdao.Record{}},
	}

	for _, t := range tables {
		table := db.MustTable(t.name, t.model)
		if err := table.DeleteTableIfExists(ctx); err != nil {
			return fmt.Errorf("failed to delete table %s: %w", t.name, err)
		}
		logger.Info().Str("table", t.name).Msg("Table deleted")
	}

	return nil
}
