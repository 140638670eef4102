package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
)

func testProof() settlement.Proof {
	return settlement.Proof{
		RunID:                "run-1",
		FixingPrice:          decimal.RequireFromString("85.13"),
		TotalCashProcessed:   decimal.RequireFromString("877.00"),
		TotalGoldDistributed: decimal.RequireFromString("9.7867"),
		AccountsProcessed:    1,
		CompletedAt:          time.Now().UTC(),
	}
}

func rpcServer(t *testing.T, handler func(method string, w http.ResponseWriter)) (*httptest.Server, *int64) {
	t.Helper()
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(req.Method, w)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeResult(w http.ResponseWriter, result interface{}) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  json.RawMessage(raw),
	})
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func TestClient_Submit(t *testing.T) {
	srv, calls := rpcServer(t, func(method string, w http.ResponseWriter) {
		require.Equal(t, "settlement_submitProof", method)
		writeResult(w, map[string]string{"tx_ref": "0xfeed"})
	})

	client, err := NewClient(Config{Endpoints: []string{srv.URL}, Retry: fastRetry(3)}, nil)
	require.NoError(t, err)

	txRef, err := client.Submit(context.Background(), testProof())
	require.NoError(t, err)
	require.Equal(t, "0xfeed", txRef)
	require.EqualValues(t, 1, atomic.LoadInt64(calls))
}

func TestClient_SubmitExhaustsAttempts(t *testing.T) {
	srv, calls := rpcServer(t, func(_ string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client, err := NewClient(Config{Endpoints: []string{srv.URL}, Retry: fastRetry(3)}, nil)
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), testProof())
	var serr *SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, 3, serr.Attempts)
	require.EqualValues(t, 3, atomic.LoadInt64(calls), "three attempts means exactly three calls")
}

func TestClient_SubmitFailsOver(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(bad.Close)

	good, goodCalls := rpcServer(t, func(_ string, w http.ResponseWriter) {
		writeResult(w, map[string]string{"tx_ref": "0xbeef"})
	})

	client, err := NewClient(Config{Endpoints: []string{bad.URL, good.URL}, Retry: fastRetry(3)}, nil)
	require.NoError(t, err)

	txRef, err := client.Submit(context.Background(), testProof())
	require.NoError(t, err)
	require.Equal(t, "0xbeef", txRef)
	require.EqualValues(t, 1, atomic.LoadInt64(goodCalls), "second attempt must rotate to the healthy endpoint")
}

func TestClient_SubmitRPCError(t *testing.T) {
	srv, _ := rpcServer(t, func(_ string, w http.ResponseWriter) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": -32000, "message": "proof rejected"},
		})
	})

	client, err := NewClient(Config{Endpoints: []string{srv.URL}, Retry: fastRetry(2)}, nil)
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), testProof())
	var serr *SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Contains(t, serr.Err.Error(), "proof rejected")
}

func TestClient_Confirm(t *testing.T) {
	srv, _ := rpcServer(t, func(method string, w http.ResponseWriter) {
		require.Equal(t, "settlement_getProof", method)
		writeResult(w, map[string]interface{}{"status": "confirmed", "confirmations": 12})
	})

	client, err := NewClient(Config{Endpoints: []string{srv.URL}, Retry: fastRetry(3)}, nil)
	require.NoError(t, err)

	result, err := client.Confirm(context.Background(), "0xfeed")
	require.NoError(t, err)
	require.Equal(t, "confirmed", result.Status)
	require.Equal(t, 12, result.Confirmations)
}

func TestClient_BreakerShortCircuits(t *testing.T) {
	srv, calls := rpcServer(t, func(_ string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client, err := NewClient(Config{
		Endpoints: []string{srv.URL},
		Retry:     fastRetry(2),
		Breaker:   BreakerConfig{FailureThreshold: 1, RecoveryInterval: time.Hour},
	}, nil)
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), testProof())
	require.Error(t, err)
	require.Equal(t, CircuitOpen, client.Breaker().State())
	before := atomic.LoadInt64(calls)

	_, err = client.Submit(context.Background(), testProof())
	var serr *SubmissionError
	require.ErrorAs(t, err, &serr)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, before, atomic.LoadInt64(calls), "open circuit must not reach the wire")
}

func TestClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	require.Zero(t, p.Backoff(1), "first attempt has no delay")
	require.Equal(t, 100*time.Millisecond, p.Backoff(2))
	require.Equal(t, 200*time.Millisecond, p.Backoff(3))
	require.Equal(t, 400*time.Millisecond, p.Backoff(4))

	capped := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}
	require.Equal(t, 2*time.Second, capped.Backoff(5), "backoff must honor MaxDelay")
}

func TestRetryPolicy_JitterStaysInBand(t *testing.T) {
	p := DefaultRetryPolicy()
	for i := 0; i < 100; i++ {
		d := p.Backoff(2)
		require.GreaterOrEqual(t, d, 180*time.Millisecond)
		require.LessOrEqual(t, d, 220*time.Millisecond)
	}
}
