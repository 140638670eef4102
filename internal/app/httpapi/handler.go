// Package httpapi exposes the settlement layer's small REST surface: the run
// trigger, the last-run query and the audit trail. Authentication and
// routing policy live in the outer gateway, not here.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	domain "github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/metrics"
	settlementsvc "github.com/Aureus-Network/settlement_layer/internal/app/services/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
)

// Runner is the slice of the settlement service the API needs.
type Runner interface {
	RunSettlement(ctx context.Context, price decimal.Decimal) (domain.Result, error)
	LastRun(ctx context.Context) (domain.Run, error)
}

// handler bundles the HTTP endpoints.
type handler struct {
	runner Runner
	audit  *AuditRing
}

// NewHandler returns a mux exposing the settlement REST API. The audit ring
// should be the one attached to the orchestrator as its AuditSink so the
// audit endpoint has data to serve; nil disables the endpoint's content.
func NewHandler(runner Runner, audit *AuditRing) http.Handler {
	if audit == nil {
		audit = NewAuditRing(200)
	}
	h := &handler{runner: runner, audit: audit}
	mux := http.NewServeMux()
	mux.HandleFunc("/settlement/runs", h.runs)
	mux.HandleFunc("/settlement/runs/last", h.lastRun)
	mux.HandleFunc("/settlement/audit", h.auditTrail)
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		FixingPrice string `json:"fixing_price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := decimal.NewFromString(payload.FixingPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid fixing_price: %w", err))
		return
	}

	result, err := h.runner.RunSettlement(r.Context(), price)
	if err != nil {
		var verr *settlementsvc.ValidationError
		status := http.StatusInternalServerError
		if errors.As(err, &verr) {
			status = http.StatusConflict
		}
		writeJSON(w, status, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) lastRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	run, err := h.runner.LastRun(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no settlement run recorded yet"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runView(run))
}

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.list())
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runPayload struct {
	ID                    string `json:"id"`
	Status                string `json:"status"`
	FixingPrice           string `json:"fixing_price"`
	TotalCashProcessed    string `json:"total_cash_processed"`
	TotalGoldDistributed  string `json:"total_gold_distributed"`
	TotalBonusDistributed string `json:"total_bonus_distributed"`
	AccountsProcessed     int    `json:"accounts_processed"`
	ErrorDetail           string `json:"error_detail,omitempty"`
	StartedAt             string `json:"started_at"`
	FinishedAt            string `json:"finished_at,omitempty"`
}

func runView(run domain.Run) runPayload {
	view := runPayload{
		ID:                    run.ID,
		Status:                string(run.Status),
		FixingPrice:           run.FixingPrice.String(),
		TotalCashProcessed:    run.TotalCashProcessed.String(),
		TotalGoldDistributed:  run.TotalGoldDistributed.String(),
		TotalBonusDistributed: run.TotalBonusDistributed.String(),
		AccountsProcessed:     run.AccountsProcessed,
		ErrorDetail:           run.ErrorDetail,
		StartedAt:             run.StartedAt.Format(timeFormat),
	}
	if !run.FinishedAt.IsZero() {
		view.FinishedAt = run.FinishedAt.Format(timeFormat)
	}
	return view
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func decodeJSON(body io.Reader, out interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
