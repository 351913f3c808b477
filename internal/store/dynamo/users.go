// Package dynamo implements the persistent record stores on DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/tavernchat/users-api/internal/metrics"
	"github.com/tavernchat/users-api/internal/models"
	"github.com/tavernchat/users-api/internal/store"
)

// UserStore persists user records keyed by handle. Handles are stored
// normalized lowercase, which is what enforces case-insensitive uniqueness.
type UserStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

// NewUserStore creates a user store backed by the given table.
func NewUserStore(client *dynamodb.Client, tableName string, logger *logrus.Logger) *UserStore {
	return &UserStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Get fetches a user by handle. Returns store.ErrNotFound when absent.
func (s *UserStore) Get(ctx context.Context, handle string) (*models.User, error) {
	start := time.Now()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"handle": &types.AttributeValueMemberS{Value: handle},
		},
	})
	if err != nil {
		metrics.RecordStoreOperation("get", "failure", time.Since(start))
		return nil, fmt.Errorf("get user: %w", err)
	}

	if len(result.Item) == 0 {
		metrics.RecordStoreOperation("get", "miss", time.Since(start))
		return nil, store.ErrNotFound
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		metrics.RecordStoreOperation("get", "failure", time.Since(start))
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}

	metrics.RecordStoreOperation("get", "success", time.Since(start))
	return &user, nil
}

// Create persists a new user record. Returns store.ErrAlreadyExists when the
// handle is taken.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	start := time.Now()

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(handle)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			metrics.RecordStoreOperation("create", "conflict", time.Since(start))
			return store.ErrAlreadyExists
		}
		metrics.RecordStoreOperation("create", "failure", time.Since(start))
		return fmt.Errorf("create user: %w", err)
	}

	metrics.RecordStoreOperation("create", "success", time.Since(start))
	return nil
}

// UpdatePassword replaces the password hash and salt for an existing user.
// Both empty means a passwordless account.
func (s *UserStore) UpdatePassword(ctx context.Context, handle, password, salt string) error {
	start := time.Now()

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"handle": &types.AttributeValueMemberS{Value: handle},
		},
		UpdateExpression:    aws.String("SET password = :password, salt = :salt"),
		ConditionExpression: aws.String("attribute_exists(handle)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":password": &types.AttributeValueMemberS{Value: password},
			":salt":     &types.AttributeValueMemberS{Value: salt},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			metrics.RecordStoreOperation("update_password", "miss", time.Since(start))
			return store.ErrNotFound
		}
		metrics.RecordStoreOperation("update_password", "failure", time.Since(start))
		return fmt.Errorf("update password: %w", err)
	}

	metrics.RecordStoreOperation("update_password", "success", time.Since(start))
	return nil
}

// HealthCheck returns a probe verifying the users table is reachable.
func (s *UserStore) HealthCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(s.tableName),
		})
		if err != nil {
			return fmt.Errorf("users table unavailable: %w", err)
		}
		return nil
	}
}

// List returns every user record. The caller filters and sorts; the table is
// small (one record per account on a shared host).
func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	start := time.Now()

	var users []models.User
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordStoreOperation("list", "failure", time.Since(start))
			return nil, fmt.Errorf("scan users: %w", err)
		}

		var pageUsers []models.User
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageUsers); err != nil {
			metrics.RecordStoreOperation("list", "failure", time.Since(start))
			return nil, fmt.Errorf("unmarshal users: %w", err)
		}
		users = append(users, pageUsers...)
	}

	metrics.RecordStoreOperation("list", "success", time.Since(start))
	return users, nil
}
