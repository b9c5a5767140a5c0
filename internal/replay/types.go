// Package replay enforces the monotonic-nonce policy: a signer's nonce is
// accepted only if strictly greater than the highest nonce ever accepted for
// that signer. One counter per signer bounds storage and totally orders a
// signer's settlements. A granted reservation is never rolled back, even when
// a later pipeline stage fails: replay-safety over availability.
package replay

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyUsed indicates the nonce equals one that was already consumed.
	ErrAlreadyUsed = errors.New("replay: nonce already used")

	// ErrOutOfOrder indicates the nonce is below the signer's high-water mark.
	ErrOutOfOrder = errors.New("replay: nonce below highest accepted")
)

// NonceRecord is the per-signer high-water mark. Existence of a nonce at or
// below HighestNonce is the rejection signal; records are never un-reserved.
type NonceRecord struct {
	SignerKey    string    `dynamodbav:"signer_key"` // PK
	HighestNonce uint64    `dynamodbav:"highest_nonce"`
	ConsumedAt   time.Time `dynamodbav:"consumed_at"`
}

// Guard is the replay-protection interface the orchestrator depends on.
//
// Check is a non-consuming read used early in the pipeline so a replayed
// nonce is rejected before signature or conversion work, regardless of
// whether the replay tampered with amount or signature. Reserve is the
// consuming check-and-set, run only after every pure stage has passed and
// immediately before submission; concurrent Reserves for the same
// (signer, nonce) resolve with exactly one success.
type Guard interface {
	Check(ctx context.Context, signerKey string, nonce uint64) error
	Reserve(ctx context.Context, signerKey string, nonce uint64) error
}
