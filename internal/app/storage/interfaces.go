package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/account"
	"github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
)

// ErrNotFound is returned by all stores when the requested record does not
// exist. Implementations wrap it so callers can match with errors.Is.
var ErrNotFound = errors.New("record not found")

// AccountStore persists client accounts and their balances.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
	UpdateBalances(ctx context.Context, id string, cash, gold decimal.Decimal) (account.Account, error)
}

// SettlementStore persists settlement run records.
type SettlementStore interface {
	CreateRun(ctx context.Context, run settlement.Run) (settlement.Run, error)
	UpdateRun(ctx context.Context, run settlement.Run) (settlement.Run, error)
	GetRun(ctx context.Context, id string) (settlement.Run, error)
	LastRun(ctx context.Context) (settlement.Run, error)
	ListActiveRuns(ctx context.Context) ([]settlement.Run, error)
}

// SnapshotStore persists balance snapshots. Snapshot records are append-only;
// the only in-place update is flipping the restored flag.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, snap settlement.Snapshot) (settlement.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (settlement.Snapshot, error)
	MarkSnapshotRestored(ctx context.Context, id string) (settlement.Snapshot, error)
}

// LedgerReceiptStore persists proof-of-settlement receipts.
type LedgerReceiptStore interface {
	CreateReceipt(ctx context.Context, rec settlement.LedgerReceipt) (settlement.LedgerReceipt, error)
	UpdateReceipt(ctx context.Context, rec settlement.LedgerReceipt) (settlement.LedgerReceipt, error)
	GetReceiptByRun(ctx context.Context, runID string) (settlement.LedgerReceipt, error)
	ListUnconfirmedReceipts(ctx context.Context) ([]settlement.LedgerReceipt, error)
}
