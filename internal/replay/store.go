package replay

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

// DynamoStore is the durable Guard for multi-instance deployments: the
// per-signer counter lives in a DynamoDB item and the check-and-set is a
// conditional UpdateItem, so two relay instances racing on the same
// (signer, nonce) still resolve to exactly one winner.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a Guard backed by the given table. The table's
// partition key must be signer_key.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Check reads the signer's counter without consuming the nonce.
func (s *DynamoStore) Check(ctx context.Context, signerKey string, nonce uint64) error {
	rec, err := s.Get(ctx, signerKey)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return verdictAgainst(rec.HighestNonce, nonce)
}

// Reserve advances the signer's counter to nonce iff the item does not exist
// yet or its highest_nonce is strictly lower. The condition makes the
// check-and-set atomic on the ledger of record.
func (s *DynamoStore) Reserve(ctx context.Context, signerKey string, nonce uint64) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"signer_key": &types.AttributeValueMemberS{Value: signerKey},
		},
		UpdateExpression:    awsString("SET highest_nonce = :n, consumed_at = :ts"),
		ConditionExpression: awsString("attribute_not_exists(signer_key) OR highest_nonce < :n"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n":  &types.AttributeValueMemberN{Value: strconv.FormatUint(nonce, 10)},
			":ts": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			// lost the race or a genuine replay; re-read to name the reason
			rec, getErr := s.Get(ctx, signerKey)
			if getErr != nil || rec == nil {
				return ErrAlreadyUsed
			}
			return verdictAgainst(rec.HighestNonce, nonce)
		}
		return fmt.Errorf("reserve nonce: %w", err)
	}
	return nil
}

// Get fetches the signer's nonce record. Returns (nil, nil) if the signer has
// never settled.
func (s *DynamoStore) Get(ctx context.Context, signerKey string) (*NonceRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"signer_key": &types.AttributeValueMemberS{Value: signerKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get nonce record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec NonceRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal nonce record: %w", err)
	}
	return &rec, nil
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

func verdictAgainst(highest, nonce uint64) error {
	switch {
	case nonce > highest:
		return nil
	case nonce == highest:
		return ErrAlreadyUsed
	default:
		return ErrOutOfOrder
	}
}

func awsString(s string) *string { return &s }
