package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/x402casper/relay/internal/relay"
	"github.com/x402casper/relay/internal/settlements"
)

// MetricsRecorder mirrors the orchestrator's metrics dependency.
type MetricsRecorder interface {
	RecordSettlementOutcome(ctx context.Context, chainName, state string, cost uint64) error
}

// Processor drives queued settlements to a terminal state. It is the safety
// net behind the API's inline monitor: if the HTTP caller gave up or the API
// instance died, the worker still finishes the bookkeeping.
type Processor struct {
	store     settlements.Store
	monitor   *relay.Monitor
	metrics   MetricsRecorder // nil disables metrics
	chainName string
	logger    *slog.Logger
}

// NewProcessor wires a worker processor.
func NewProcessor(store settlements.Store, monitor *relay.Monitor, metrics MetricsRecorder, chainName string) *Processor {
	return &Processor{
		store:     store,
		monitor:   monitor,
		metrics:   metrics,
		chainName: chainName,
		logger:    slog.Default(),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.logger.Error("worker error", "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg MonitorMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log := p.logger.With("deploy_hash", msg.DeployHash, "correlation_id", msg.CorrelationID)
	log.Info("monitoring settlement")

	settlement, err := p.store.Get(ctx, msg.DeployHash)
	if err != nil {
		return fmt.Errorf("failed to fetch settlement: %w", err)
	}
	if settlement == nil {
		// should never happen; DLQ if it does
		return fmt.Errorf("settlement not found: %s", msg.DeployHash)
	}
	if settlements.Terminal(settlement.State) {
		log.Info("settlement already terminal", "state", settlement.State)
		return nil
	}

	// SUBMITTED -> PENDING marks that a monitor has picked this up. A
	// mismatch means the inline monitor finalized first or a previous worker
	// attempt already moved it to PENDING; both are fine to continue from.
	if err := p.store.Transition(ctx, msg.DeployHash, settlements.StateSubmitted, settlements.StatePending); err != nil &&
		!errors.Is(err, settlements.ErrStateMismatch) {
		return fmt.Errorf("failed to mark settlement pending: %w", err)
	}
	if err := p.store.IncrementAttempts(ctx, msg.DeployHash); err != nil {
		log.Warn("failed to bump attempt counter", "error", err)
	}

	res, err := p.monitor.Await(ctx, msg.DeployHash)
	if errors.Is(err, relay.ErrMonitorTimeout) {
		p.finalize(ctx, log, msg.DeployHash, settlements.StateTimedOut, 0,
			"execution result not observed within the monitoring budget")
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitoring failed: %w", err)
	}

	if res.Success {
		p.finalize(ctx, log, msg.DeployHash, settlements.StateConfirmed, res.Cost, "")
		return nil
	}
	p.finalize(ctx, log, msg.DeployHash, settlements.StateFailed, res.Cost, res.ErrorMessage)
	return nil
}

func (p *Processor) finalize(ctx context.Context, log *slog.Logger, deployHash, state string, cost uint64, detail string) {
	err := p.store.Finalize(ctx, deployHash, settlements.StatePending, state, cost, detail)
	if errors.Is(err, settlements.ErrStateMismatch) {
		log.Info("settlement finalized elsewhere")
		return
	}
	if err != nil {
		log.Error("failed to finalize settlement", "state", state, "error", err)
		return
	}
	if p.metrics != nil {
		if err := p.metrics.RecordSettlementOutcome(ctx, p.chainName, state, cost); err != nil {
			log.Warn("failed to record settlement metric", "error", err)
		}
	}
	log.Info("settlement finalized", "state", state, "cost", cost)
}
