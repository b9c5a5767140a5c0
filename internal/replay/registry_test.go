package replay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

const registryTestSigner = "01aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff00112233"

func TestRegistry_FreshSignerAcceptsAnyNonce(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	for i, nonce := range []uint64{0, 1, 42, 1 << 60} {
		signer := fmt.Sprintf("%s-%d", registryTestSigner, i)
		if err := r.Check(ctx, signer, nonce); err != nil {
			t.Fatalf("fresh signer should accept nonce %d, got: %v", nonce, err)
		}
	}
}

func TestRegistry_MonotonicPolicy(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if err := r.Reserve(ctx, registryTestSigner, 5); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}

	// same nonce: already used
	if err := r.Reserve(ctx, registryTestSigner, 5); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed for nonce 5, got: %v", err)
	}
	// lower nonce: out of order
	if err := r.Reserve(ctx, registryTestSigner, 3); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for nonce 3, got: %v", err)
	}
	// gaps are fine, only monotonicity matters
	if err := r.Reserve(ctx, registryTestSigner, 100); err != nil {
		t.Fatalf("nonce 100 after 5 should succeed, got: %v", err)
	}
	if err := r.Reserve(ctx, registryTestSigner, 6); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder for nonce 6 after 100, got: %v", err)
	}
}

func TestRegistry_CheckDoesNotConsume(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := r.Check(ctx, registryTestSigner, 1); err != nil {
			t.Fatalf("check %d should pass, got: %v", i, err)
		}
	}
	if rec := r.Record(registryTestSigner); rec != nil {
		t.Fatalf("check must not create a record, got: %+v", rec)
	}
	if err := r.Reserve(ctx, registryTestSigner, 1); err != nil {
		t.Fatalf("reserve after repeated checks should succeed, got: %v", err)
	}
}

func TestRegistry_SignersAreIndependent(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	if err := r.Reserve(ctx, "signer-a", 10); err != nil {
		t.Fatal(err)
	}
	// signer-b starts from scratch, nonce 1 is fine
	if err := r.Reserve(ctx, "signer-b", 1); err != nil {
		t.Fatalf("signer-b nonce 1 should succeed, got: %v", err)
	}
}

func TestRegistry_ConcurrentSameNonceExactlyOneWinner(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Reserve(ctx, registryTestSigner, 7); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner for a contested nonce, got %d", wins)
	}
	rec := r.Record(registryTestSigner)
	if rec == nil || rec.HighestNonce != 7 {
		t.Fatalf("unexpected record after contention: %+v", rec)
	}
}

func TestRegistry_ConcurrentDistinctNoncesAllLand(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	// shuffled distinct nonces: some reservations lose to a higher nonce that
	// landed first, but the high-water mark must end at the maximum
	nonces := rand.Perm(64)
	var wg sync.WaitGroup
	for _, n := range nonces {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			_ = r.Reserve(ctx, registryTestSigner, n+1)
		}(uint64(n))
	}
	wg.Wait()

	rec := r.Record(registryTestSigner)
	if rec == nil || rec.HighestNonce != 64 {
		t.Fatalf("expected high-water mark 64, got: %+v", rec)
	}
}

func TestRegistry_RecordUnknownSigner(t *testing.T) {
	r := NewRegistry()
	if rec := r.Record("never-seen"); rec != nil {
		t.Fatalf("expected nil record for unknown signer, got: %+v", rec)
	}
}
