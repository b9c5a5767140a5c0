package casper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// RPCError is a JSON-RPC error object returned by the node. It is a node
// verdict, not a connectivity failure, and is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// DeployResult is the parsed outcome of info_get_deploy.
type DeployResult struct {
	DeployHash   string
	Executed     bool   // at least one execution result exists
	Success      bool   // executed without revert
	Cost         uint64 // motes charged to the relay account
	ErrorMessage string // revert detail, empty on success
}

// Client talks JSON-RPC 2.0 to a Casper node. All calls are time-bounded by
// the underlying HTTP client; submission additionally retries connectivity
// failures within the configured retry budget.
type Client struct {
	endpoint  string
	authToken string // managed node providers gate /rpc behind a token
	http      *http.Client
	retry     *RetryConfig
	nextID    atomic.Uint64
	logger    *slog.Logger
}

// NewClient returns a client for the given node RPC endpoint. authToken may be
// empty. A zero timeout defaults to 30s.
func NewClient(endpoint, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		endpoint:  endpoint,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
		retry:     DefaultRetryConfig(),
		logger:    slog.Default(),
	}
	c.retry.OnRetry = func(attempt int, err error) {
		c.logger.Warn("retrying node rpc call", "attempt", attempt, "error", err)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call performs one JSON-RPC round trip without retries.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", c.authToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("node rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{status: resp.StatusCode, body: truncate(string(respBody), 256)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

type putDeployResult struct {
	DeployHash string `json:"deploy_hash"`
}

// PutDeploy submits a signed deploy and returns the ledger-assigned deploy
// hash. Connectivity failures are retried within the bounded retry budget;
// node-side rejections surface immediately.
func (c *Client) PutDeploy(ctx context.Context, deploy *Deploy) (string, error) {
	var result putDeployResult
	err := withRetry(ctx, c.retry, func() error {
		return c.call(ctx, "account_put_deploy", map[string]any{"deploy": deploy}, &result)
	})
	if err != nil {
		return "", err
	}
	if result.DeployHash == "" {
		return "", fmt.Errorf("node accepted deploy but returned no hash")
	}
	return result.DeployHash, nil
}

type getDeployResult struct {
	ExecutionResults []struct {
		BlockHash string `json:"block_hash"`
		Result    struct {
			Success *struct {
				Cost string `json:"cost"`
			} `json:"Success,omitempty"`
			Failure *struct {
				Cost         string `json:"cost"`
				ErrorMessage string `json:"error_message"`
			} `json:"Failure,omitempty"`
		} `json:"result"`
	} `json:"execution_results"`
}

// GetDeployResult fetches the current execution status of a deploy. Not
// retried: monitoring loops re-poll on their own schedule, so a transient
// error here is reported to the caller as-is.
func (c *Client) GetDeployResult(ctx context.Context, deployHash string) (*DeployResult, error) {
	var raw getDeployResult
	if err := c.call(ctx, "info_get_deploy", map[string]any{"deploy_hash": deployHash}, &raw); err != nil {
		return nil, err
	}

	out := &DeployResult{DeployHash: deployHash}
	if len(raw.ExecutionResults) == 0 {
		return out, nil
	}

	out.Executed = true
	res := raw.ExecutionResults[0].Result
	switch {
	case res.Success != nil:
		out.Success = true
		out.Cost = parseMotes(res.Success.Cost)
	case res.Failure != nil:
		out.Cost = parseMotes(res.Failure.Cost)
		out.ErrorMessage = res.Failure.ErrorMessage
	default:
		out.Executed = false
	}
	return out, nil
}

func parseMotes(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
