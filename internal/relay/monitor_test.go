package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402casper/relay/internal/casper"
)

// flakyNode fails the first few polls, then reports execution.
type flakyNode struct {
	mu       sync.Mutex
	failures int
	polls    int
}

func (f *flakyNode) PutDeploy(ctx context.Context, deploy *casper.Deploy) (string, error) {
	return "", errors.New("not used")
}

func (f *flakyNode) GetDeployResult(ctx context.Context, deployHash string) (*casper.DeployResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &casper.DeployResult{DeployHash: deployHash, Executed: true, Success: true, Cost: 42}, nil
}

func TestMonitor_RepollsThroughTransientErrors(t *testing.T) {
	node := &flakyNode{failures: 3}
	m := NewMonitor(node, time.Millisecond, time.Second)

	res, err := m.Await(context.Background(), "deploy-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(42), res.Cost)
	assert.Equal(t, 4, node.polls)
}

func TestMonitor_BudgetExceeded(t *testing.T) {
	node := &flakyNode{failures: 1 << 30} // never recovers
	m := NewMonitor(node, time.Millisecond, 20*time.Millisecond)

	_, err := m.Await(context.Background(), "deploy-1")
	assert.ErrorIs(t, err, ErrMonitorTimeout)
}

func TestMonitor_ContextCancelled(t *testing.T) {
	node := &flakyNode{failures: 1 << 30}
	m := NewMonitor(node, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Await(ctx, "deploy-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewMonitor_Defaults(t *testing.T) {
	m := NewMonitor(&flakyNode{}, 0, 0)
	assert.Equal(t, 2*time.Second, m.Interval)
	assert.Equal(t, 90*time.Second, m.Budget)
}
