// Package relay sequences one settlement: validation happened at the HTTP
// boundary; here the pipeline runs replay pre-check → signature verification
// → parameter conversion → nonce reservation → deploy build → submission →
// monitoring, short-circuiting on the first failure with a classified error.
package relay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/x402casper/relay/internal/casper"
	"github.com/x402casper/relay/internal/payment"
	"github.com/x402casper/relay/internal/replay"
	"github.com/x402casper/relay/internal/settlements"
	"github.com/x402casper/relay/internal/validation"
)

// MonitorQueue hands a submitted deploy to the worker so it reaches a
// terminal state even if this process gives up first. *aws.Publisher
// satisfies it.
type MonitorQueue interface {
	SendMonitorMessage(ctx context.Context, messageBody string, attributes map[string]string) error
}

// MetricsRecorder emits settlement outcome metrics. *aws.Recorder satisfies it.
type MetricsRecorder interface {
	RecordSettlementOutcome(ctx context.Context, chainName, state string, cost uint64) error
}

// MonitorMessage is the queue payload from API to worker.
type MonitorMessage struct {
	DeployHash    string `json:"deploy_hash"`
	SignerKey     string `json:"signer_key"`
	Nonce         uint64 `json:"nonce"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Service is the relay orchestrator.
type Service struct {
	guard        replay.Guard
	store        settlements.Store
	builder      *casper.DeployBuilder
	node         NodeClient
	monitor      *Monitor
	queue        MonitorQueue    // nil disables the worker handoff
	metrics      MetricsRecorder // nil disables metrics
	chainName    string
	contractHash string
	logger       *slog.Logger
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Guard        replay.Guard
	Store        settlements.Store
	Builder      *casper.DeployBuilder
	Node         NodeClient
	Monitor      *Monitor
	Queue        MonitorQueue
	Metrics      MetricsRecorder
	ChainName    string
	ContractHash string
	Logger       *slog.Logger
}

// NewService validates required collaborators and returns the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Guard == nil || cfg.Store == nil || cfg.Builder == nil || cfg.Node == nil || cfg.Monitor == nil {
		return nil, errors.New("relay: guard, store, builder, node and monitor are required")
	}
	if cfg.ChainName == "" || cfg.ContractHash == "" {
		return nil, errors.New("relay: chain name and contract hash are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		guard:        cfg.Guard,
		store:        cfg.Store,
		builder:      cfg.Builder,
		node:         cfg.Node,
		monitor:      cfg.Monitor,
		queue:        cfg.Queue,
		metrics:      cfg.Metrics,
		chainName:    cfg.ChainName,
		contractHash: cfg.ContractHash,
		logger:       logger,
	}, nil
}

// SettleResult is the success payload for POST /settle.
type SettleResult struct {
	DeployHash string `json:"deploy_hash"`
	State      string `json:"state"`
	Cost       uint64 `json:"cost,omitempty"`
}

// Settle runs the full pipeline for one request. The request must already
// have passed structural validation.
func (s *Service) Settle(ctx context.Context, req *validation.SettleRequest) (*SettleResult, *Error) {
	corrID := uuid.NewString()
	nonce := req.NonceValue()
	log := s.logger.With("correlation_id", corrID, "signer", req.SignerKey, "nonce", nonce)

	// Replay pre-check before any crypto work: a replayed (signer, nonce) is
	// rejected here no matter what else the request tampered with. This read
	// does not consume the nonce.
	if err := s.guard.Check(ctx, req.SignerKey, nonce); err != nil {
		return nil, s.replayError(err)
	}

	signer, err := casper.ParsePublicKey(req.SignerKey)
	if err != nil {
		return nil, &Error{Kind: KindAuthentication, Detail: "signer key is not a supported public key", Err: err}
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return nil, &Error{Kind: KindAuthentication, Detail: "signature is not valid hex", Err: err}
	}

	intentPayload := payment.IntentPayload(s.chainName, s.contractHash, req.Amount, nonce)
	if err := payment.VerifySignature(signer, intentPayload, sig); err != nil {
		log.Info("signature verification failed", "error", err)
		return nil, &Error{Kind: KindAuthentication, Detail: "signature does not verify over the payment intent", Err: err}
	}

	params, err := casper.ConvertParams(req.SignerKey, req.Amount, nonce, s.contractHash)
	if err != nil {
		var convErr *casper.ConversionError
		if errors.As(err, &convErr) {
			return nil, &Error{
				Kind:   KindConversion,
				Detail: "value cannot be represented on the ledger",
				Fields: map[string]string{convErr.Field: convErr.Reason},
				Err:    err,
			}
		}
		return nil, &Error{Kind: KindInternal, Detail: "parameter conversion failed", Err: err}
	}

	// Consume the nonce. From here on it stays consumed no matter what fails
	// downstream: replay-safety over availability.
	if err := s.guard.Reserve(ctx, req.SignerKey, nonce); err != nil {
		return nil, s.replayError(err)
	}

	deploy, err := s.builder.Build(params, sig)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Detail: "failed to build settlement deploy", Err: err}
	}

	// The ledger may execute whatever reaches it; a client disconnect must
	// not abort a submission we have started.
	subCtx := context.WithoutCancel(ctx)

	deployHash, err := s.node.PutDeploy(subCtx, deploy)
	if err != nil {
		log.Error("deploy submission failed", "error", err)
		return nil, &Error{Kind: KindSubmission, Detail: "ledger rejected or did not acknowledge the deploy", Err: err}
	}
	log = log.With("deploy_hash", deployHash)
	log.Info("deploy submitted")

	settlement := &settlements.Settlement{
		DeployHash:    deployHash,
		SignerKey:     req.SignerKey,
		Nonce:         nonce,
		Amount:        req.Amount,
		State:         settlements.StateSubmitted,
		CorrelationID: corrID,
	}
	if err := s.store.Create(subCtx, settlement); err != nil {
		// the deploy is already on the wire; record-keeping failure must not
		// turn an accepted settlement into a client-visible error
		log.Error("failed to persist settlement record", "error", err)
	}

	s.enqueueMonitor(subCtx, log, MonitorMessage{
		DeployHash:    deployHash,
		SignerKey:     req.SignerKey,
		Nonce:         nonce,
		CorrelationID: corrID,
	})

	return s.awaitInline(ctx, log, deployHash)
}

// awaitInline drives the in-process monitor for the synchronous response
// path. On budget exhaustion the record is left live for the worker; the
// caller gets TIMED_OUT as an advisory state, not a failure.
func (s *Service) awaitInline(ctx context.Context, log *slog.Logger, deployHash string) (*SettleResult, *Error) {
	res, err := s.monitor.Await(ctx, deployHash)
	if err != nil {
		log.Warn("inline monitoring ended without terminal state", "error", err)
		return &SettleResult{DeployHash: deployHash, State: settlements.StateTimedOut}, nil
	}

	if res.Success {
		s.finalize(ctx, log, deployHash, settlements.StateConfirmed, res.Cost, "")
		return &SettleResult{DeployHash: deployHash, State: settlements.StateConfirmed, Cost: res.Cost}, nil
	}

	s.finalize(ctx, log, deployHash, settlements.StateFailed, res.Cost, res.ErrorMessage)
	return nil, &Error{
		Kind:   KindSubmission,
		Detail: "deploy execution failed: " + res.ErrorMessage,
		Fields: map[string]string{"deployHash": deployHash},
	}
}

// finalize records a terminal state, tolerating a lost race with the worker.
func (s *Service) finalize(ctx context.Context, log *slog.Logger, deployHash, state string, cost uint64, detail string) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.Finalize(ctx, deployHash, settlements.StateSubmitted, state, cost, detail)
	if errors.Is(err, settlements.ErrStateMismatch) {
		// worker got there first, or the record was already PENDING
		if err2 := s.store.Finalize(ctx, deployHash, settlements.StatePending, state, cost, detail); err2 != nil && !errors.Is(err2, settlements.ErrStateMismatch) {
			log.Error("failed to finalize settlement", "state", state, "error", err2)
		}
	} else if err != nil {
		log.Error("failed to finalize settlement", "state", state, "error", err)
	}

	if s.metrics != nil {
		if err := s.metrics.RecordSettlementOutcome(ctx, s.chainName, state, cost); err != nil {
			log.Warn("failed to record settlement metric", "error", err)
		}
	}
	log.Info("settlement finalized", "state", state, "cost", cost)
}

func (s *Service) enqueueMonitor(ctx context.Context, log *slog.Logger, msg MonitorMessage) {
	if s.queue == nil {
		return
	}
	body, _ := json.Marshal(msg)
	attrs := map[string]string{
		"deploy_hash":    msg.DeployHash,
		"correlation_id": msg.CorrelationID,
	}
	// best effort: the inline monitor still runs, so a queue outage degrades
	// durability of monitoring, not correctness of the settlement
	if err := s.queue.SendMonitorMessage(ctx, string(body), attrs); err != nil {
		log.Warn("failed to enqueue monitor message", "error", err)
	}
}

// StatusResult is the payload for GET /status/:deployHash.
type StatusResult struct {
	DeployHash   string `json:"deploy_hash"`
	State        string `json:"state"`
	Cost         uint64 `json:"cost,omitempty"`
	ResultDetail string `json:"result_detail,omitempty"`
	Terminal     bool   `json:"-"`
}

// Status is the independent read path: keyed only by deploy hash, no nonce or
// authorization logic involved.
func (s *Service) Status(ctx context.Context, deployHash string) (*StatusResult, *Error) {
	rec, err := s.store.Get(ctx, deployHash)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Detail: "failed to load settlement", Err: err}
	}
	if rec == nil {
		return nil, &Error{Kind: KindNotFound, Detail: "no settlement for that deploy hash"}
	}
	return &StatusResult{
		DeployHash:   rec.DeployHash,
		State:        rec.State,
		Cost:         rec.Cost,
		ResultDetail: rec.ResultDetail,
		Terminal:     settlements.Terminal(rec.State),
	}, nil
}

func (s *Service) replayError(err error) *Error {
	switch {
	case errors.Is(err, replay.ErrAlreadyUsed):
		return &Error{Kind: KindReplay, Detail: "nonce was already used by this signer", Err: err}
	case errors.Is(err, replay.ErrOutOfOrder):
		return &Error{Kind: KindReplay, Detail: "nonce is below the signer's highest accepted nonce", Err: err}
	default:
		return &Error{Kind: KindInternal, Detail: "replay guard unavailable", Err: err}
	}
}
