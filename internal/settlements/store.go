// Package settlements persists the per-deploy settlement lifecycle:
// SUBMITTED → PENDING → {CONFIRMED | FAILED | TIMED_OUT}. State transitions
// are conditional so the API's inline monitor and the queue worker can race
// safely: whoever finalizes first wins, the loser observes ErrStateMismatch.
package settlements

import (
	"context"
	"errors"
)

// ErrStateMismatch indicates a conditional transition found the record in a
// different state than expected.
var ErrStateMismatch = errors.New("settlements: state mismatch")

// Store is the persistence interface the orchestrator and worker depend on.
type Store interface {
	// Create persists a new settlement; fails if the deploy hash exists.
	Create(ctx context.Context, s *Settlement) error

	// Get fetches by deploy hash. Returns (nil, nil) when unknown.
	Get(ctx context.Context, deployHash string) (*Settlement, error)

	// Transition moves expected → next, ErrStateMismatch on a lost race.
	Transition(ctx context.Context, deployHash, expected, next string) error

	// Finalize moves expected → terminal next, recording cost and detail.
	Finalize(ctx context.Context, deployHash, expected, next string, cost uint64, detail string) error

	// IncrementAttempts bumps the monitor attempt counter.
	IncrementAttempts(ctx context.Context, deployHash string) error
}
