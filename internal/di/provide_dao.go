package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/conveyorhq/conveyor/internal/dao/lockdao"
	"github.com/conveyorhq/conveyor/internal/dao/rundao"
	"github.com/conveyorhq/conveyor/internal/dao/stepdao"
	"github.com/conveyorhq/conveyor/internal/dao/templatedao"
)

func ProvideRunDAO(env string, client *dynamodb.Client) *rundao.DAO {
	return rundao.New(client, rundao.TableName(env))
}

func ProvideStepDAO(env string, client *dynamodb.Client) *stepdao.DAO {
	return stepdao.New(client, stepdao.TableName(env))
}

func ProvideTemplateDAO(env string, client *dynamodb.Client) *templatedao.DAO {
	return templatedao.New(client, templatedao.TableName(env))
}

func ProvideLockDAO(env string, client *dynamodb.Client) *lockdao.DAO {
	return lockdao.New(client, lockdao.TableName(env))
}
