package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/account"
	domain "github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage/memory"
)

// failingAccounts wraps the memory store and fails one numbered
// UpdateBalances call to exercise the rollback path.
type failingAccounts struct {
	*memory.Memory
	calls  int
	failOn int
}

func (f *failingAccounts) UpdateBalances(ctx context.Context, id string, cash, gold decimal.Decimal) (account.Account, error) {
	f.calls++
	if f.calls == f.failOn {
		return account.Account{}, errors.New("injected update failure")
	}
	return f.Memory.UpdateBalances(ctx, id, cash, gold)
}

type fakeLedger struct {
	calls int
	err   error
	txRef string
}

func (f *fakeLedger) Submit(_ context.Context, _ domain.Proof) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.txRef, nil
}

func buildService(t *testing.T, accounts storage.AccountStore, store *memory.Memory, ledger ProofSubmitter, lock RunLock) *Service {
	t.Helper()
	cfg := ValidatorConfig{
		Window:    Window{Weekday: time.Friday, CutoffHour: 17, Location: time.UTC},
		MinPrice:  dec(t, "20.00"),
		MaxPrice:  dec(t, "500.00"),
		Tolerance: dec(t, "0.01"),
	}
	validator := NewValidator(accounts, store, cfg, nil).
		WithClock(func() time.Time { return insideWindow })

	return New(Deps{
		Accounts:      accounts,
		Runs:          store,
		Receipts:      store,
		Calc:          NewCalculator(dec(t, "0.05")),
		Allocator:     NewAllocator(accounts, bonusRates(t), nil),
		Snap:          NewSnapshotter(accounts, store, nil),
		Validator:     validator,
		Lock:          lock,
		Ledger:        ledger,
		SubmitTimeout: time.Second,
	})
}

func seedReferralChain(t *testing.T, store *memory.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, row := range []struct {
		id, referrer, cash string
	}{
		{"c", "", "0"},
		{"b", "c", "0"},
		{"a", "b", "877.00"},
	} {
		_, err := store.CreateAccount(ctx, account.Account{
			ID:          row.id,
			ReferrerID:  row.referrer,
			CashBalance: dec(t, row.cash),
		})
		require.NoError(t, err)
	}
}

func TestService_RunSettlement(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedReferralChain(t, store)
	ledger := &fakeLedger{txRef: "0xabc"}

	svc := buildService(t, store, store, ledger, nil)

	result, err := svc.RunSettlement(ctx, dec(t, "85.13"))
	require.NoError(t, err)
	require.Equal(t, domain.ResultSuccess, result.Status)
	require.Equal(t, 1, result.AccountsProcessed)
	require.True(t, result.TotalCashProcessed.Equal(dec(t, "877.00")), "cash = %s", result.TotalCashProcessed)
	require.True(t, result.TotalGoldDistributed.Equal(dec(t, "9.7867")), "gold = %s", result.TotalGoldDistributed)
	require.True(t, result.TotalBonusDistributed.Equal(dec(t, "0.1174")), "bonus = %s", result.TotalBonusDistributed)

	a, err := store.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.True(t, a.CashBalance.IsZero())
	require.True(t, a.GoldBalance.Equal(dec(t, "9.7867")))

	b, err := store.GetAccount(ctx, "b")
	require.NoError(t, err)
	require.True(t, b.GoldBalance.Equal(dec(t, "0.0685")), "level 1 bonus = %s", b.GoldBalance)

	c, err := store.GetAccount(ctx, "c")
	require.NoError(t, err)
	require.True(t, c.GoldBalance.Equal(dec(t, "0.0489")), "level 2 bonus = %s", c.GoldBalance)

	run, err := svc.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, run.Status)
	require.False(t, run.FinishedAt.IsZero())

	require.Equal(t, 1, ledger.calls)
	rec, err := store.GetReceiptByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReceiptSubmitted, rec.Status)
	require.Equal(t, "0xabc", rec.TxRef)
}

func TestService_SecondRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedReferralChain(t, store)

	svc := buildService(t, store, store, nil, nil)

	_, err := svc.RunSettlement(ctx, dec(t, "85.13"))
	require.NoError(t, err)

	before, err := store.ListAccounts(ctx)
	require.NoError(t, err)

	result, err := svc.RunSettlement(ctx, dec(t, "85.13"))
	require.NoError(t, err)
	require.Equal(t, domain.ResultSuccess, result.Status)
	require.Equal(t, 0, result.AccountsProcessed)
	require.True(t, result.TotalGoldDistributed.IsZero())

	after, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for _, acct := range after {
		for _, prev := range before {
			if prev.ID == acct.ID {
				require.True(t, prev.CashBalance.Equal(acct.CashBalance))
				require.True(t, prev.GoldBalance.Equal(acct.GoldBalance))
			}
		}
	}
}

func TestService_LockHeldRejectsWithoutRunRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedReferralChain(t, store)

	lock := NewLocalRunLock()
	release, acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	svc := buildService(t, store, store, nil, lock)

	result, err := svc.RunSettlement(ctx, dec(t, "85.13"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, domain.ResultError, result.Status)
	require.Empty(t, result.RunID)

	_, err = svc.LastRun(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound, "a lock rejection must not leave a run record")
}

func TestService_PriceOutOfBoundsRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedReferralChain(t, store)

	svc := buildService(t, store, store, nil, nil)

	_, err := svc.RunSettlement(ctx, dec(t, "500.00"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	run, err := svc.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunRejected, run.Status)

	a, err := store.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.True(t, a.CashBalance.Equal(dec(t, "877.00")), "rejection must not touch balances")
}

func TestService_MutationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedReferralChain(t, store)

	// Call 1 zeroes account a; call 2 is the level-1 bonus credit.
	accounts := &failingAccounts{Memory: store, failOn: 2}

	svc := buildService(t, accounts, store, nil, nil)

	result, err := svc.RunSettlement(ctx, dec(t, "85.13"))
	var merr *MutationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, domain.ResultError, result.Status)

	run, err := svc.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunFailed, run.Status)
	require.Zero(t, run.AccountsProcessed)
	require.True(t, run.TotalGoldDistributed.IsZero())

	// Every balance must match the pre-run snapshot exactly.
	a, err := store.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.True(t, a.CashBalance.Equal(dec(t, "877.00")), "cash = %s", a.CashBalance)
	require.True(t, a.GoldBalance.IsZero(), "gold = %s", a.GoldBalance)

	for _, id := range []string{"b", "c"} {
		acct, err := store.GetAccount(ctx, id)
		require.NoError(t, err)
		require.True(t, acct.CashBalance.IsZero())
		require.True(t, acct.GoldBalance.IsZero())
	}
}

func TestService_LedgerFailureLeavesRunCompleted(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedReferralChain(t, store)
	ledger := &fakeLedger{err: errors.New("ledger unreachable")}

	svc := buildService(t, store, store, ledger, nil)

	result, err := svc.RunSettlement(ctx, dec(t, "85.13"))
	require.NoError(t, err, "ledger failure must not fail a completed run")
	require.Equal(t, domain.ResultSuccess, result.Status)

	run, err := svc.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, run.Status)

	rec, err := store.GetReceiptByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReceiptPending, rec.Status, "receipt stays pending for the confirmer")
}

func TestService_ConcurrentRunsSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedReferralChain(t, store)

	svc := buildService(t, store, store, nil, nil)

	const attempts = 8
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := svc.RunSettlement(ctx, dec(t, "85.13"))
			results <- err
		}()
	}

	var succeeded int
	for i := 0; i < attempts; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		}
	}
	require.GreaterOrEqual(t, succeeded, 1)

	// However the races resolved, account a was converted exactly once.
	a, err := store.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.True(t, a.CashBalance.IsZero())
	require.True(t, a.GoldBalance.Equal(dec(t, "9.7867")), "gold = %s", a.GoldBalance)
}
