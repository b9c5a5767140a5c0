package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402casper/relay/internal/casper"
	"github.com/x402casper/relay/internal/payment"
	"github.com/x402casper/relay/internal/replay"
	"github.com/x402casper/relay/internal/settlements"
	"github.com/x402casper/relay/internal/validation"
)

const (
	testChain    = "test-net"
	testContract = "contract-A"
)

// fakeNode scripts the ledger boundary for pipeline tests.
type fakeNode struct {
	mu         sync.Mutex
	putErr     error
	deployHash string
	result     *casper.DeployResult
	resultErr  error
	puts       int
	polls      int
}

func (f *fakeNode) PutDeploy(ctx context.Context, deploy *casper.Deploy) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return "", f.putErr
	}
	if f.deployHash != "" {
		return f.deployHash, nil
	}
	return deploy.Hash, nil
}

func (f *fakeNode) GetDeployResult(ctx context.Context, deployHash string) (*casper.DeployResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	if f.result != nil {
		res := *f.result
		res.DeployHash = deployHash
		return &res, nil
	}
	return &casper.DeployResult{DeployHash: deployHash}, nil
}

type fakeQueue struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakeQueue) SendMonitorMessage(ctx context.Context, body string, attrs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (f *fakeMetrics) RecordSettlementOutcome(ctx context.Context, chainName, state string, cost uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, state)
	return nil
}

type testRig struct {
	service *Service
	node    *fakeNode
	store   *settlements.MemoryStore
	queue   *fakeQueue
	metrics *fakeMetrics
	signer  string
	priv    ed25519.PrivateKey
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	relayKeys, err := casper.GenerateKeyPair()
	require.NoError(t, err)
	builder, err := casper.NewDeployBuilder(relayKeys, testChain, testContract, "", 2_500_000_000, time.Minute, time.Minute)
	require.NoError(t, err)

	node := &fakeNode{result: &casper.DeployResult{Executed: true, Success: true, Cost: 123456}}
	store := settlements.NewMemoryStore()
	queue := &fakeQueue{}
	metrics := &fakeMetrics{}

	service, err := NewService(ServiceConfig{
		Guard:        replay.NewRegistry(),
		Store:        store,
		Builder:      builder,
		Node:         node,
		Monitor:      NewMonitor(node, time.Millisecond, 50*time.Millisecond),
		Queue:        queue,
		Metrics:      metrics,
		ChainName:    testChain,
		ContractHash: testContract,
	})
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := casper.PublicKey{Tag: casper.TagEd25519, Bytes: pub}

	return &testRig{
		service: service,
		node:    node,
		store:   store,
		queue:   queue,
		metrics: metrics,
		signer:  signer.Hex(),
		priv:    priv,
	}
}

// signedRequest builds a request whose signature genuinely covers the intent.
func (r *testRig) signedRequest(amount string, nonce uint64) *validation.SettleRequest {
	payload := payment.IntentPayload(testChain, testContract, amount, nonce)
	sig := ed25519.Sign(r.priv, []byte(payload))
	n := nonce
	return &validation.SettleRequest{
		SignerKey: r.signer,
		Amount:    amount,
		Nonce:     &n,
		Signature: hex.EncodeToString(sig),
	}
}

func TestSettle_Success(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	res, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.Nil(t, settleErr)
	assert.Equal(t, settlements.StateConfirmed, res.State)
	assert.Equal(t, uint64(123456), res.Cost)
	assert.NotEmpty(t, res.DeployHash)

	rec, err := rig.store.Get(ctx, res.DeployHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, settlements.StateConfirmed, rec.State)
	assert.Equal(t, uint64(123456), rec.Cost)
	assert.Equal(t, rig.signer, rec.SignerKey)
	assert.NotEmpty(t, rec.CorrelationID)

	assert.Len(t, rig.queue.bodies, 1, "worker handoff should be enqueued")
	assert.Contains(t, rig.queue.bodies[0], res.DeployHash)
	assert.Equal(t, []string{settlements.StateConfirmed}, rig.metrics.outcomes)
}

func TestSettle_ReplaySameNonce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.Nil(t, settleErr)

	_, settleErr = rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.NotNil(t, settleErr)
	assert.Equal(t, KindReplay, settleErr.Kind)
	assert.Equal(t, 1, rig.node.puts, "replay must be rejected before submission")
}

func TestSettle_ReplayRejectedDespiteTampering(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.Nil(t, settleErr)

	// replayed nonce with a different amount and a garbage signature: the
	// replay verdict must win over the signature verdict
	req := rig.signedRequest("999", 1)
	req.Signature = strings.Repeat("ab", 64)
	_, settleErr = rig.service.Settle(ctx, req)
	require.NotNil(t, settleErr)
	assert.Equal(t, KindReplay, settleErr.Kind)
}

func TestSettle_OutOfOrderNonce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 10))
	require.Nil(t, settleErr)

	_, settleErr = rig.service.Settle(ctx, rig.signedRequest("100", 5))
	require.NotNil(t, settleErr)
	assert.Equal(t, KindReplay, settleErr.Kind)
}

func TestSettle_TamperedSignatureDoesNotConsumeNonce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	req := rig.signedRequest("100", 1)
	req.Amount = "200" // signature no longer covers the intent
	_, settleErr := rig.service.Settle(ctx, req)
	require.NotNil(t, settleErr)
	assert.Equal(t, KindAuthentication, settleErr.Kind)
	assert.Equal(t, 0, rig.node.puts)

	// the nonce survives for a correctly signed retry
	_, settleErr = rig.service.Settle(ctx, rig.signedRequest("100", 1))
	assert.Nil(t, settleErr)
}

func TestSettle_BadSignatureHex(t *testing.T) {
	rig := newTestRig(t)

	req := rig.signedRequest("100", 1)
	req.Signature = "not-hex"
	_, settleErr := rig.service.Settle(context.Background(), req)
	require.NotNil(t, settleErr)
	assert.Equal(t, KindAuthentication, settleErr.Kind)
}

func TestSettle_ConversionFailureDoesNotConsumeNonce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// correctly signed, structurally valid, but too wide for 64-bit motes
	oversized := strings.Repeat("9", 30)
	_, settleErr := rig.service.Settle(ctx, rig.signedRequest(oversized, 1))
	require.NotNil(t, settleErr)
	assert.Equal(t, KindConversion, settleErr.Kind)
	assert.Contains(t, settleErr.Fields, "amount")
	assert.Equal(t, 0, rig.node.puts)

	// same nonce with a representable amount settles fine
	res, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.Nil(t, settleErr)
	assert.Equal(t, settlements.StateConfirmed, res.State)
}

func TestSettle_SubmissionFailureConsumesNonce(t *testing.T) {
	rig := newTestRig(t)
	rig.node.putErr = errors.New("node unreachable")
	ctx := context.Background()

	_, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.NotNil(t, settleErr)
	assert.Equal(t, KindSubmission, settleErr.Kind)

	// fail closed: the reservation is not rolled back
	_, settleErr = rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.NotNil(t, settleErr)
	assert.Equal(t, KindReplay, settleErr.Kind)
}

func TestSettle_ExecutionFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.node.result = &casper.DeployResult{Executed: true, Success: false, Cost: 5000, ErrorMessage: "User error: 1"}
	ctx := context.Background()

	_, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.NotNil(t, settleErr)
	assert.Equal(t, KindSubmission, settleErr.Kind)
	assert.Contains(t, settleErr.Detail, "User error: 1")

	deployHash := settleErr.Fields["deployHash"]
	require.NotEmpty(t, deployHash)
	rec, err := rig.store.Get(ctx, deployHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, settlements.StateFailed, rec.State)
	assert.Equal(t, "User error: 1", rec.ResultDetail)
	assert.Equal(t, uint64(5000), rec.Cost)
}

func TestSettle_MonitorTimeoutIsAdvisory(t *testing.T) {
	rig := newTestRig(t)
	rig.node.result = &casper.DeployResult{} // never executes within the budget
	ctx := context.Background()

	res, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.Nil(t, settleErr, "a timeout is not a failure")
	assert.Equal(t, settlements.StateTimedOut, res.State)
	assert.NotEmpty(t, res.DeployHash)

	// the record stays live for the worker to finish
	rec, err := rig.store.Get(ctx, res.DeployHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, settlements.StateSubmitted, rec.State)
}

func TestSettle_QueueOutageDoesNotFailSettlement(t *testing.T) {
	rig := newTestRig(t)
	rig.queue.err = errors.New("queue unavailable")

	res, settleErr := rig.service.Settle(context.Background(), rig.signedRequest("100", 1))
	require.Nil(t, settleErr)
	assert.Equal(t, settlements.StateConfirmed, res.State)
}

func TestStatus(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, statusErr := rig.service.Status(ctx, "unknown-hash")
	require.NotNil(t, statusErr)
	assert.Equal(t, KindNotFound, statusErr.Kind)

	res, settleErr := rig.service.Settle(ctx, rig.signedRequest("100", 1))
	require.Nil(t, settleErr)

	status, statusErr := rig.service.Status(ctx, res.DeployHash)
	require.Nil(t, statusErr)
	assert.Equal(t, settlements.StateConfirmed, status.State)
	assert.Equal(t, uint64(123456), status.Cost)
	assert.True(t, status.Terminal)
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)
}

func TestErrorHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:        400,
		KindAuthentication:    401,
		KindReplay:            409,
		KindConversion:        422,
		KindNotFound:          404,
		KindMonitoringTimeout: 202,
		KindSubmission:        500,
		KindInternal:          500,
	}
	for kind, want := range cases {
		e := &Error{Kind: kind}
		assert.Equal(t, want, e.HTTPStatus(), "kind %s", kind)
	}
}
