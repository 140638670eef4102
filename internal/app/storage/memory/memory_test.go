package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/account"
	"github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
)

func TestMemory_AccountLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()

	created, err := store.CreateAccount(ctx, account.Account{
		Owner:       "alice",
		CashBalance: decimal.RequireFromString("877.00"),
		Metadata:    map[string]string{"tier": "gold"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	_, err = store.CreateAccount(ctx, account.Account{ID: created.ID})
	require.Error(t, err, "duplicate IDs must be rejected")

	updated, err := store.UpdateBalances(ctx, created.ID, decimal.Zero, decimal.RequireFromString("9.7867"))
	require.NoError(t, err)
	require.True(t, updated.CashBalance.IsZero())
	require.True(t, updated.GoldBalance.Equal(decimal.RequireFromString("9.7867")))

	_, err = store.GetAccount(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

func TestMemory_ClonesOnRead(t *testing.T) {
	ctx := context.Background()
	store := New()

	created, err := store.CreateAccount(ctx, account.Account{
		Owner:    "alice",
		Metadata: map[string]string{"tier": "gold"},
	})
	require.NoError(t, err)

	got, err := store.GetAccount(ctx, created.ID)
	require.NoError(t, err)
	got.Metadata["tier"] = "mutated"

	again, err := store.GetAccount(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "gold", again.Metadata["tier"], "reads must not share the stored map")
}

func TestMemory_RunTerminalGuard(t *testing.T) {
	ctx := context.Background()
	store := New()

	run, err := store.CreateRun(ctx, settlement.Run{Status: settlement.RunPending})
	require.NoError(t, err)

	run.Status = settlement.RunCompleted
	run, err = store.UpdateRun(ctx, run)
	require.NoError(t, err)

	run.Status = settlement.RunProcessing
	_, err = store.UpdateRun(ctx, run)
	require.Error(t, err, "terminal runs must not transition")
}

func TestMemory_ListActiveRuns(t *testing.T) {
	ctx := context.Background()
	store := New()

	active, err := store.CreateRun(ctx, settlement.Run{Status: settlement.RunProcessing})
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, settlement.Run{Status: settlement.RunCompleted})
	require.NoError(t, err)

	runs, err := store.ListActiveRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, active.ID, runs[0].ID)

	_, err = store.LastRun(ctx)
	require.NoError(t, err)
}

func TestMemory_LastRunEmpty(t *testing.T) {
	store := New()
	_, err := store.LastRun(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemory_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := New()

	balances := map[string]settlement.BalanceEntry{
		"a": {Cash: decimal.RequireFromString("877.00")},
	}
	snap, err := store.CreateSnapshot(ctx, settlement.Snapshot{RunID: "run-1", Balances: balances})
	require.NoError(t, err)

	// Mutating the caller's map must not reach the stored snapshot.
	balances["a"] = settlement.BalanceEntry{Cash: decimal.Zero}

	loaded, err := store.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.True(t, loaded.Balances["a"].Cash.Equal(decimal.RequireFromString("877.00")))

	marked, err := store.MarkSnapshotRestored(ctx, snap.ID)
	require.NoError(t, err)
	require.True(t, marked.Restored)
}

func TestMemory_Receipts(t *testing.T) {
	ctx := context.Background()
	store := New()

	rec, err := store.CreateReceipt(ctx, settlement.LedgerReceipt{RunID: "run-1", Status: settlement.ReceiptPending})
	require.NoError(t, err)

	rec.Status = settlement.ReceiptConfirmed
	_, err = store.UpdateReceipt(ctx, rec)
	require.NoError(t, err)

	unconfirmed, err := store.ListUnconfirmedReceipts(ctx)
	require.NoError(t, err)
	require.Empty(t, unconfirmed)

	got, err := store.GetReceiptByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, settlement.ReceiptConfirmed, got.Status)
}
