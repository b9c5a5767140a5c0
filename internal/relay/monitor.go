package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/x402casper/relay/internal/casper"
)

// ErrMonitorTimeout means the wall-clock budget ran out before the deploy
// reached a terminal execution state. Not a failure of the deploy itself: it
// may still land, and the caller can keep polling by hash.
var ErrMonitorTimeout = errors.New("relay: monitoring budget exceeded")

// NodeClient is the ledger RPC boundary the relay depends on.
// *casper.Client satisfies it; tests substitute fakes.
type NodeClient interface {
	PutDeploy(ctx context.Context, deploy *casper.Deploy) (string, error)
	GetDeployResult(ctx context.Context, deployHash string) (*casper.DeployResult, error)
}

// Monitor polls the node for a deploy's execution result at a bounded
// interval up to a wall-clock budget.
type Monitor struct {
	Node     NodeClient
	Interval time.Duration
	Budget   time.Duration
	Logger   *slog.Logger
}

// NewMonitor applies defaults: 2s interval, 90s budget.
func NewMonitor(node NodeClient, interval, budget time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if budget <= 0 {
		budget = 90 * time.Second
	}
	return &Monitor{Node: node, Interval: interval, Budget: budget, Logger: slog.Default()}
}

// Await polls until the deploy executes, the budget is spent, or ctx is
// cancelled. RPC errors during polling are transient by definition here: they
// are logged and the next tick re-polls.
func (m *Monitor) Await(ctx context.Context, deployHash string) (*casper.DeployResult, error) {
	deadline := time.Now().Add(m.Budget)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		res, err := m.Node.GetDeployResult(ctx, deployHash)
		if err != nil {
			m.Logger.Debug("monitor poll failed, will re-poll", "deploy_hash", deployHash, "error", err)
		} else if res.Executed {
			return res, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrMonitorTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
