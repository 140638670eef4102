package settlement

import (
	"context"
	"fmt"

	domain "github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// Snapshotter captures and restores point-in-time images of every account
// balance. A snapshot taken before the first mutation of a run is the
// compensating transaction for the whole run: the underlying store offers no
// native multi-row commit spanning the mutation loop.
type Snapshotter struct {
	accounts  storage.AccountStore
	snapshots storage.SnapshotStore
	log       *logger.Logger
}

// NewSnapshotter creates a snapshotter over the given stores.
func NewSnapshotter(accounts storage.AccountStore, snapshots storage.SnapshotStore, log *logger.Logger) *Snapshotter {
	if log == nil {
		log = logger.NewDefault("snapshotter")
	}
	return &Snapshotter{accounts: accounts, snapshots: snapshots, log: log}
}

// Capture reads every account's balances and persists them as one snapshot
// record bound to the run. Any failure here aborts the run before mutation.
func (s *Snapshotter) Capture(ctx context.Context, runID string) (domain.Snapshot, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return domain.Snapshot{}, &SnapshotError{Op: "capture", Err: err}
	}

	balances := make(map[string]domain.BalanceEntry, len(accounts))
	for _, acct := range accounts {
		balances[acct.ID] = domain.BalanceEntry{Cash: acct.CashBalance, Gold: acct.GoldBalance}
	}

	snap, err := s.snapshots.CreateSnapshot(ctx, domain.Snapshot{RunID: runID, Balances: balances})
	if err != nil {
		return domain.Snapshot{}, &SnapshotError{Op: "capture", Err: err}
	}

	s.log.WithField("snapshot_id", snap.ID).
		WithField("run_id", runID).
		WithField("accounts", len(balances)).
		Info("balance snapshot captured")
	return snap, nil
}

// Restore overwrites every captured account's balances with the snapshot
// values and marks the snapshot restored. Restoring an already-restored
// snapshot is a no-op.
func (s *Snapshotter) Restore(ctx context.Context, snapshotID string) error {
	snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return &SnapshotError{Op: "restore", Err: err}
	}
	if snap.Restored {
		s.log.WithField("snapshot_id", snapshotID).Info("snapshot already restored; nothing to do")
		return nil
	}

	for id, entry := range snap.Balances {
		if _, err := s.accounts.UpdateBalances(ctx, id, entry.Cash, entry.Gold); err != nil {
			return &SnapshotError{Op: "restore", Err: fmt.Errorf("account %s: %w", id, err)}
		}
	}

	if _, err := s.snapshots.MarkSnapshotRestored(ctx, snapshotID); err != nil {
		return &SnapshotError{Op: "restore", Err: err}
	}

	s.log.WithField("snapshot_id", snapshotID).
		WithField("accounts", len(snap.Balances)).
		Warn("balance snapshot restored")
	return nil
}

// VerifyIntegrity checks that the snapshot's account key set still matches
// the current account key set. A mismatch means accounts were created or
// deleted between capture and restore time.
func (s *Snapshotter) VerifyIntegrity(ctx context.Context, snapshotID string) (bool, error) {
	snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return false, &SnapshotError{Op: "verify", Err: err}
	}

	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return false, &SnapshotError{Op: "verify", Err: err}
	}

	if len(accounts) != len(snap.Balances) {
		return false, nil
	}
	for _, acct := range accounts {
		if _, ok := snap.Balances[acct.ID]; !ok {
			return false, nil
		}
	}
	return true, nil
}
