// Package settlement defines the records produced by a settlement run: the
// run itself, the pre-mutation balance snapshot, the ledger receipt and the
// caller-facing result payload.
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus tracks a run through its state machine. Terminal statuses are
// completed, rejected and failed; a run never leaves a terminal status.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunValidating RunStatus = "validating"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunRejected   RunStatus = "rejected"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunRejected, RunFailed:
		return true
	}
	return false
}

// Run is one execution of the conversion-and-bonus process, bound to a single
// fixing price. Only the orchestrator mutates a Run.
type Run struct {
	ID          string
	FixingPrice decimal.Decimal
	Status      RunStatus

	TotalCashProcessed    decimal.Decimal
	TotalGoldDistributed  decimal.Decimal
	TotalBonusDistributed decimal.Decimal
	AccountsProcessed     int

	ErrorDetail string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// BalanceEntry is one account's captured balances inside a snapshot.
type BalanceEntry struct {
	Cash decimal.Decimal
	Gold decimal.Decimal
}

// Snapshot is a restorable point-in-time image of every account balance,
// captured before the first mutation of a run.
type Snapshot struct {
	ID         string
	RunID      string
	Balances   map[string]BalanceEntry
	CapturedAt time.Time
	Restored   bool
}

// ReceiptStatus tracks the external ledger submission for a completed run.
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptSubmitted ReceiptStatus = "submitted"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFailed    ReceiptStatus = "failed"
)

// LedgerReceipt records the proof-of-settlement submission. The receipt is
// updated asynchronously as confirmations arrive and never influences the
// status of the run it belongs to.
type LedgerReceipt struct {
	ID            string
	RunID         string
	Status        ReceiptStatus
	TxRef         string
	Confirmations int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Proof is the payload submitted to the external ledger as cryptographic
// evidence that a run completed with the stated totals.
type Proof struct {
	RunID                string          `json:"run_id"`
	FixingPrice          decimal.Decimal `json:"fixing_price"`
	TotalCashProcessed   decimal.Decimal `json:"total_cash_processed"`
	TotalGoldDistributed decimal.Decimal `json:"total_gold_distributed"`
	AccountsProcessed    int             `json:"accounts_processed"`
	CompletedAt          time.Time       `json:"completed_at"`
}

// BonusAward is one referral bonus credit computed for a converted amount.
type BonusAward struct {
	AccountID  string
	Level      int
	BonusGrams decimal.Decimal
}

// Result is the caller-facing outcome of a settlement run.
type Result struct {
	Status                string          `json:"status"`
	RunID                 string          `json:"run_id"`
	TotalCashProcessed    decimal.Decimal `json:"total_cash_processed"`
	TotalGoldDistributed  decimal.Decimal `json:"total_gold_distributed"`
	TotalBonusDistributed decimal.Decimal `json:"total_bonus_distributed"`
	AccountsProcessed     int             `json:"accounts_processed"`
	FixingPrice           decimal.Decimal `json:"fixing_price"`
	ErrorMessage          string          `json:"error_message,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)
