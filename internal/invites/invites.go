// Package invites gates registration on invitation codes when enforcement is
// enabled.
package invites

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

	"github.com/tavernchat/users-api/internal/models"
)

// ErrInvalid is returned when a code is missing, unknown, or already used.
var ErrInvalid = errors.New("invalid invitation code")

// Validator checks and consumes invitation codes stored in DynamoDB. When
// enforcement is off every code (including none) validates, but a supplied
// code is still consumed on success so it cannot be reused later.
type Validator struct {
	client    *dynamodb.Client
	tableName string
	required  bool
	logger    *logrus.Logger
	now       func() time.Time
}

// NewValidator constructs a validator. required mirrors the global
// invitation-enforcement flag.
func NewValidator(client *dynamodb.Client, tableName string, required bool, logger *logrus.Logger) *Validator {
	return &Validator{
		client:    client,
		tableName: tableName,
		required:  required,
		logger:    logger,
		now:       time.Now,
	}
}

// Validate returns nil when the code is acceptable for registration, ErrInvalid
// otherwise. With enforcement off every code validates without a lookup;
// whatever the user typed must never block registration.
func (v *Validator) Validate(ctx context.Context, code string) error {
	if !v.required {
		return nil
	}
	if code == "" {
		return ErrInvalid
	}

	result, err := v.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(v.tableName),
		Key: map[string]types.AttributeValue{
			"code": &types.AttributeValueMemberS{Value: code},
		},
	})
	if err != nil {
		return fmt.Errorf("get invitation: %w", err)
	}

	if len(result.Item) == 0 {
		return ErrInvalid
	}

	var invitation models.Invitation
	if err := attributevalue.UnmarshalMap(result.Item, &invitation); err != nil {
		return fmt.Errorf("unmarshal invitation: %w", err)
	}
	if invitation.Used {
		return ErrInvalid
	}

	return nil
}

// Consume marks the code as used by the given handle. The conditional update
// makes redeeming a code single-use even under concurrent registrations.
func (v *Validator) Consume(ctx context.Context, code, handle string) error {
	if code == "" {
		return nil
	}

	_, err := v.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(v.tableName),
		Key: map[string]types.AttributeValue{
			"code": &types.AttributeValueMemberS{Value: code},
		},
		UpdateExpression:    aws.String("SET used = :used, used_by = :handle, used_at = :at"),
		ConditionExpression: aws.String("attribute_exists(code) AND used = :unused"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":used":   &types.AttributeValueMemberBOOL{Value: true},
			":unused": &types.AttributeValueMemberBOOL{Value: false},
			":handle": &types.AttributeValueMemberS{Value: handle},
			":at":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v.now().UnixMilli())},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrInvalid
		}
		return fmt.Errorf("consume invitation: %w", err)
	}

	v.logger.WithFields(logrus.Fields{
		"handle": handle,
	}).Info("Invitation code consumed")

	return nil
}

// HealthCheck returns a probe verifying the invitations table is reachable.
func (v *Validator) HealthCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := v.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(v.tableName),
		})
		if err != nil {
			return fmt.Errorf("invitations table unavailable: %w", err)
		}
		return nil
	}
}
