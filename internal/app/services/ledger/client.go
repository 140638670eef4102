// Package ledger wraps calls to the external distributed ledger that receives
// proof-of-settlement submissions. Calls are guarded by a retry policy with
// endpoint failover, a circuit breaker and a submission rate limiter.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// SubmissionError reports that a ledger call exhausted its retry budget or
// was short-circuited by the breaker. It never rolls back a completed run.
type SubmissionError struct {
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("ledger submission failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmResult is the outcome of a confirmation query.
type ConfirmResult struct {
	Status        string
	Confirmations int
}

// Config holds ledger client configuration.
type Config struct {
	Endpoints []string
	Timeout   time.Duration
	Retry     RetryPolicy
	Breaker   BreakerConfig
	// SubmitRate caps proof submissions per second. Zero disables the cap.
	SubmitRate float64
}

// Client talks JSON-RPC to the configured ledger endpoints, rotating to the
// next endpoint after each failed attempt.
type Client struct {
	httpClient *http.Client
	retry      RetryPolicy
	breaker    *CircuitBreaker
	limiter    *rate.Limiter
	log        *logger.Logger

	mu        sync.Mutex
	endpoints []string
	next      int
}

// NewClient creates a ledger client. At least one endpoint is required.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one ledger endpoint required")
	}
	if log == nil {
		log = logger.NewDefault("ledger-client")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), 1)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		breaker:    NewCircuitBreaker(cfg.Breaker),
		limiter:    limiter,
		log:        log,
		endpoints:  append([]string(nil), cfg.Endpoints...),
	}, nil
}

// Breaker exposes the circuit breaker, mainly for health reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

func (c *Client) nextEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	endpoint := c.endpoints[c.next%len(c.endpoints)]
	c.next++
	return endpoint
}

// Submit sends a proof-of-settlement to the ledger and returns the assigned
// transaction reference. On failure after all attempts the receipt stays
// pending for asynchronous reconciliation; the settlement itself is final.
func (c *Client) Submit(ctx context.Context, proof settlement.Proof) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &SubmissionError{Attempts: 0, Err: err}
	}
	if err := c.breaker.Allow(); err != nil {
		return "", &SubmissionError{Attempts: 0, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if delay := c.retry.Backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				c.breaker.RecordFailure()
				return "", &SubmissionError{Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		endpoint := c.nextEndpoint()
		var result struct {
			TxRef string `json:"tx_ref"`
		}
		if err := c.call(ctx, endpoint, "settlement_submitProof", []interface{}{proof}, &result); err != nil {
			lastErr = err
			c.log.WithError(err).
				WithField("endpoint", endpoint).
				WithField("attempt", attempt).
				Warn("ledger submission attempt failed")
			continue
		}

		c.breaker.RecordSuccess()
		c.log.WithField("run_id", proof.RunID).
			WithField("tx_ref", result.TxRef).
			Info("settlement proof submitted")
		return result.TxRef, nil
	}

	c.breaker.RecordFailure()
	return "", &SubmissionError{Attempts: c.retry.MaxAttempts, Err: lastErr}
}

// Confirm queries the ledger for the confirmation state of a submission.
func (c *Client) Confirm(ctx context.Context, txRef string) (ConfirmResult, error) {
	if err := c.breaker.Allow(); err != nil {
		return ConfirmResult{}, err
	}

	var result struct {
		Status        string `json:"status"`
		Confirmations int    `json:"confirmations"`
	}
	if err := c.call(ctx, c.nextEndpoint(), "settlement_getProof", []interface{}{txRef}, &result); err != nil {
		c.breaker.RecordFailure()
		return ConfirmResult{}, err
	}

	c.breaker.RecordSuccess()
	return ConfirmResult{Status: result.Status, Confirmations: result.Confirmations}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, endpoint, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger returned HTTP %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}
