package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	settlementsvc "github.com/Aureus-Network/settlement_layer/internal/app/services/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
)

type fakeRunner struct {
	result    domain.Result
	runErr    error
	lastRun   domain.Run
	lastErr   error
	lastPrice decimal.Decimal
}

func (f *fakeRunner) RunSettlement(_ context.Context, price decimal.Decimal) (domain.Result, error) {
	f.lastPrice = price
	return f.result, f.runErr
}

func (f *fakeRunner) LastRun(_ context.Context) (domain.Run, error) {
	return f.lastRun, f.lastErr
}

func TestHandler_TriggerRun(t *testing.T) {
	runner := &fakeRunner{result: domain.Result{
		Status:               domain.ResultSuccess,
		RunID:                "run-1",
		TotalCashProcessed:   decimal.RequireFromString("877.00"),
		TotalGoldDistributed: decimal.RequireFromString("9.7867"),
		AccountsProcessed:    1,
		FixingPrice:          decimal.RequireFromString("85.13"),
	}}
	srv := httptest.NewServer(NewHandler(runner, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/settlement/runs", "application/json",
		strings.NewReader(`{"fixing_price":"85.13"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result domain.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, domain.ResultSuccess, result.Status)
	require.Equal(t, "run-1", result.RunID)
	require.True(t, runner.lastPrice.Equal(decimal.RequireFromString("85.13")))
}

func TestHandler_TriggerRunConflict(t *testing.T) {
	verr := &settlementsvc.ValidationError{Reason: "another settlement run is in progress"}
	runner := &fakeRunner{
		result: domain.Result{Status: domain.ResultError, ErrorMessage: verr.Error()},
		runErr: verr,
	}
	srv := httptest.NewServer(NewHandler(runner, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/settlement/runs", "application/json",
		strings.NewReader(`{"fixing_price":"85.13"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var result domain.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, domain.ResultError, result.Status)
	require.Contains(t, result.ErrorMessage, "in progress")
}

func TestHandler_TriggerRunBadPayload(t *testing.T) {
	srv := httptest.NewServer(NewHandler(&fakeRunner{}, nil))
	defer srv.Close()

	for _, body := range []string{`{`, `{"fixing_price":"not a number"}`, `{"unknown":1}`} {
		resp, err := http.Post(srv.URL+"/settlement/runs", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
	}
}

func TestHandler_TriggerRunMethodNotAllowed(t *testing.T) {
	srv := httptest.NewServer(NewHandler(&fakeRunner{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/settlement/runs")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandler_LastRun(t *testing.T) {
	runner := &fakeRunner{lastRun: domain.Run{
		ID:                   "run-9",
		Status:               domain.RunCompleted,
		FixingPrice:          decimal.RequireFromString("85.13"),
		TotalCashProcessed:   decimal.RequireFromString("877.00"),
		TotalGoldDistributed: decimal.RequireFromString("9.7867"),
		AccountsProcessed:    1,
		StartedAt:            time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC),
		FinishedAt:           time.Date(2025, 1, 3, 10, 0, 5, 0, time.UTC),
	}}
	srv := httptest.NewServer(NewHandler(runner, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/settlement/runs/last")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "run-9", payload["id"])
	require.Equal(t, "completed", payload["status"])
	require.Equal(t, "877", payload["total_cash_processed"])
	require.Equal(t, "9.7867", payload["total_gold_distributed"])
}

func TestHandler_LastRunNotFound(t *testing.T) {
	runner := &fakeRunner{lastErr: storage.ErrNotFound}
	srv := httptest.NewServer(NewHandler(runner, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/settlement/runs/last")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_AuditTrail(t *testing.T) {
	audit := NewAuditRing(10)
	audit.Record(context.Background(), settlementsvc.Event{
		RunID: "run-1", Kind: "run_completed", Severity: "info", Message: "done",
	})
	srv := httptest.NewServer(NewHandler(&fakeRunner{}, audit))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/settlement/audit")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []settlementsvc.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	require.Equal(t, "run_completed", events[0].Kind)
}

func TestHandler_Health(t *testing.T) {
	srv := httptest.NewServer(NewHandler(&fakeRunner{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuditRing_Caps(t *testing.T) {
	ring := NewAuditRing(3)
	for i := 0; i < 5; i++ {
		ring.Record(context.Background(), settlementsvc.Event{Message: string(rune('a' + i))})
	}
	events := ring.list()
	require.Len(t, events, 3)
	require.Equal(t, "c", events[0].Message)
	require.Equal(t, "e", events[2].Message)
}
