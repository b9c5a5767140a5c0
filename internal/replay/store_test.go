package replay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockNonceTable simulates the nonce table: one item per signer with the
// conditional-update semantics Reserve relies on.
type mockNonceTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	// updateErr, when set, is returned from UpdateItem unconditionally
	updateErr error
}

func newMockNonceTable() *mockNonceTable {
	return &mockNonceTable{items: map[string]map[string]types.AttributeValue{}}
}

func (m *mockNonceTable) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockNonceTable) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := params.Key["signer_key"].(*types.AttributeValueMemberS).Value
	item, ok := m.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *mockNonceTable) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}

	key := params.Key["signer_key"].(*types.AttributeValueMemberS).Value
	nonce, err := strconv.ParseUint(params.ExpressionAttributeValues[":n"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}

	// attribute_not_exists(signer_key) OR highest_nonce < :n
	if item, ok := m.items[key]; ok {
		highest, _ := strconv.ParseUint(item["highest_nonce"].(*types.AttributeValueMemberN).Value, 10, 64)
		if highest >= nonce {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	m.items[key] = map[string]types.AttributeValue{
		"signer_key":    &types.AttributeValueMemberS{Value: key},
		"highest_nonce": &types.AttributeValueMemberN{Value: strconv.FormatUint(nonce, 10)},
		"consumed_at":   params.ExpressionAttributeValues[":ts"],
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestDynamoStore_ReserveAndCheck(t *testing.T) {
	mock := newMockNonceTable()
	store := NewDynamoStore(mock, "nonce-table")
	ctx := context.Background()

	if err := store.Check(ctx, "signer-1", 1); err != nil {
		t.Fatalf("fresh signer check failed: %v", err)
	}
	if err := store.Reserve(ctx, "signer-1", 1); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}

	if err := store.Check(ctx, "signer-1", 1); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed from check, got: %v", err)
	}
	if err := store.Reserve(ctx, "signer-1", 1); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed from reserve, got: %v", err)
	}
	if err := store.Reserve(ctx, "signer-1", 0); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got: %v", err)
	}
	if err := store.Reserve(ctx, "signer-1", 2); err != nil {
		t.Fatalf("higher nonce should succeed, got: %v", err)
	}
}

func TestDynamoStore_GetRecord(t *testing.T) {
	mock := newMockNonceTable()
	store := NewDynamoStore(mock, "nonce-table")
	store.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	rec, err := store.Get(ctx, "signer-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("expected nil record before any reserve, got: %+v", rec)
	}

	if err := store.Reserve(ctx, "signer-1", 9); err != nil {
		t.Fatal(err)
	}
	rec, err = store.Get(ctx, "signer-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.HighestNonce != 9 || rec.SignerKey != "signer-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ConsumedAt.IsZero() {
		t.Fatal("consumed_at not persisted")
	}
}

func TestDynamoStore_ConcurrentSameNonceExactlyOneWinner(t *testing.T) {
	mock := newMockNonceTable()
	store := NewDynamoStore(mock, "nonce-table")
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Reserve(ctx, "signer-1", 5); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestDynamoStore_ReserveSurfacesBackendError(t *testing.T) {
	mock := newMockNonceTable()
	mock.updateErr = errors.New("throughput exceeded")
	store := NewDynamoStore(mock, "nonce-table")

	err := store.Reserve(context.Background(), "signer-1", 1)
	if err == nil || errors.Is(err, ErrAlreadyUsed) || errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("backend failure must not masquerade as a replay verdict, got: %v", err)
	}
}
