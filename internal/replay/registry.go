package replay

import (
	"context"
	"sync"
	"time"
)

// Registry is the in-process Guard: a concurrent map of per-signer counters.
// Contention is isolated per signer; requests from different signers never
// share a lock.
type Registry struct {
	mu      sync.Mutex // guards the signers map only
	signers map[string]*signerState
	nowFunc func() time.Time
}

type signerState struct {
	mu         sync.Mutex
	seen       bool
	highest    uint64
	consumedAt time.Time
}

// NewRegistry returns an empty in-memory nonce registry.
func NewRegistry() *Registry {
	return &Registry{
		signers: map[string]*signerState{},
		nowFunc: time.Now,
	}
}

func (r *Registry) state(signerKey string) *signerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.signers[signerKey]
	if !ok {
		st = &signerState{}
		r.signers[signerKey] = st
	}
	return st
}

// Check reports whether the nonce would currently be accepted, without
// consuming it.
func (r *Registry) Check(_ context.Context, signerKey string, nonce uint64) error {
	st := r.state(signerKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.verdict(nonce)
}

// Reserve atomically consumes the nonce. Exactly one of any set of concurrent
// Reserve calls with the same (signer, nonce) succeeds.
func (r *Registry) Reserve(_ context.Context, signerKey string, nonce uint64) error {
	st := r.state(signerKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.verdict(nonce); err != nil {
		return err
	}
	st.seen = true
	st.highest = nonce
	st.consumedAt = r.nowFunc()
	return nil
}

// Record returns the signer's current high-water mark, nil if the signer has
// never settled.
func (r *Registry) Record(signerKey string) *NonceRecord {
	st := r.state(signerKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.seen {
		return nil
	}
	return &NonceRecord{SignerKey: signerKey, HighestNonce: st.highest, ConsumedAt: st.consumedAt}
}

// verdict applies the monotonic policy. Caller holds st.mu.
func (st *signerState) verdict(nonce uint64) error {
	if !st.seen {
		return nil
	}
	switch {
	case nonce > st.highest:
		return nil
	case nonce == st.highest:
		return ErrAlreadyUsed
	default:
		return ErrOutOfOrder
	}
}
