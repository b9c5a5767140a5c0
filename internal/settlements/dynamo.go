package settlements

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/x402casper/relay/internal/aws"
)

// DynamoStore persists settlements in a DynamoDB table keyed by deploy_hash.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a settlements store bound to a table.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new settlement record, guarding against hash collisions.
func (s *DynamoStore) Create(ctx context.Context, settlement *Settlement) error {
	now := s.nowFunc()
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = now
	}
	settlement.UpdatedAt = now

	item, err := attributevalue.MarshalMap(settlement)
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(deploy_hash)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("settlement %s already exists: %w", settlement.DeployHash, err)
		}
		return fmt.Errorf("put settlement: %w", err)
	}
	return nil
}

// Get fetches a settlement by deploy hash. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, deployHash string) (*Settlement, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       deployKey(deployHash),
	})
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var settlement Settlement
	if err := attributevalue.UnmarshalMap(out.Item, &settlement); err != nil {
		return nil, fmt.Errorf("unmarshal settlement: %w", err)
	}
	return &settlement, nil
}

// Transition conditionally updates the state from expected -> next.
func (s *DynamoStore) Transition(ctx context.Context, deployHash, expected, next string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      deployKey(deployHash),
		UpdateExpression:         awsString("SET #s = :next, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberS{Value: next},
			":expected": &types.AttributeValueMemberS{Value: expected},
			":ua":       &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("transition settlement: %w", err)
	}
	return nil
}

// Finalize conditionally records a terminal state together with execution
// cost and result detail.
func (s *DynamoStore) Finalize(ctx context.Context, deployHash, expected, next string, cost uint64, detail string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      deployKey(deployHash),
		UpdateExpression:         awsString("SET #s = :next, cost = :c, result_detail = :d, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberS{Value: next},
			":expected": &types.AttributeValueMemberS{Value: expected},
			":c":        &types.AttributeValueMemberN{Value: strconv.FormatUint(cost, 10)},
			":d":        &types.AttributeValueMemberS{Value: detail},
			":ua":       &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("finalize settlement: %w", err)
	}
	return nil
}

// IncrementAttempts increases the monitor attempt counter by 1.
func (s *DynamoStore) IncrementAttempts(ctx context.Context, deployHash string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              deployKey(deployHash),
		UpdateExpression: awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// isConditionalCheckFailed detects a lost conditional write. Matches both the
// typed exception and the generic API error code.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

func deployKey(deployHash string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"deploy_hash": &types.AttributeValueMemberS{Value: deployHash},
	}
}

func awsString(s string) *string { return &s }
