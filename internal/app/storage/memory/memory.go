// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It is intended for tests and prototyping and
// deliberately keeps the implementation simple.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/account"
	"github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
)

// Memory implements every storage interface against process-local maps.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	accounts  map[string]account.Account
	runs      map[string]settlement.Run
	runOrder  []string
	snapshots map[string]settlement.Snapshot
	receipts  map[string]settlement.LedgerReceipt
}

var _ storage.AccountStore = (*Memory)(nil)
var _ storage.SettlementStore = (*Memory)(nil)
var _ storage.SnapshotStore = (*Memory)(nil)
var _ storage.LedgerReceiptStore = (*Memory)(nil)

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		nextID:    1,
		accounts:  make(map[string]account.Account),
		runs:      make(map[string]settlement.Run),
		snapshots: make(map[string]settlement.Snapshot),
		receipts:  make(map[string]settlement.LedgerReceipt),
	}
}

func (m *Memory) nextIDLocked() string {
	id := m.nextID
	m.nextID++
	return fmt.Sprintf("%d", id)
}

// AccountStore implementation -------------------------------------------------

func (m *Memory) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct.ID == "" {
		acct.ID = m.nextIDLocked()
	} else if _, exists := m.accounts[acct.ID]; exists {
		return account.Account{}, fmt.Errorf("account %s already exists", acct.ID)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Metadata = copyMap(acct.Metadata)

	m.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (m *Memory) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.accounts[acct.ID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	acct.Metadata = copyMap(acct.Metadata)

	m.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return cloneAccount(acct), nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]account.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		result = append(result, cloneAccount(acct))
	}
	return result, nil
}

func (m *Memory) UpdateBalances(_ context.Context, id string, cash, gold decimal.Decimal) (account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}

	acct.CashBalance = cash
	acct.GoldBalance = gold
	acct.UpdatedAt = time.Now().UTC()
	m.accounts[id] = acct
	return cloneAccount(acct), nil
}

// SettlementStore implementation ----------------------------------------------

func (m *Memory) CreateRun(_ context.Context, run settlement.Run) (settlement.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		run.ID = m.nextIDLocked()
	} else if _, exists := m.runs[run.ID]; exists {
		return settlement.Run{}, fmt.Errorf("run %s already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	m.runs[run.ID] = run
	m.runOrder = append(m.runOrder, run.ID)
	return run, nil
}

func (m *Memory) UpdateRun(_ context.Context, run settlement.Run) (settlement.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.runs[run.ID]
	if !ok {
		return settlement.Run{}, fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}
	if original.Status.Terminal() {
		return settlement.Run{}, fmt.Errorf("run %s is terminal (%s)", run.ID, original.Status)
	}

	run.StartedAt = original.StartedAt
	m.runs[run.ID] = run
	return run, nil
}

func (m *Memory) GetRun(_ context.Context, id string) (settlement.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return settlement.Run{}, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return run, nil
}

func (m *Memory) LastRun(_ context.Context) (settlement.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.runOrder) == 0 {
		return settlement.Run{}, storage.ErrNotFound
	}
	return m.runs[m.runOrder[len(m.runOrder)-1]], nil
}

func (m *Memory) ListActiveRuns(_ context.Context) ([]settlement.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []settlement.Run
	for _, id := range m.runOrder {
		if run := m.runs[id]; !run.Status.Terminal() {
			active = append(active, run)
		}
	}
	return active, nil
}

// SnapshotStore implementation ------------------------------------------------

func (m *Memory) CreateSnapshot(_ context.Context, snap settlement.Snapshot) (settlement.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.ID == "" {
		snap.ID = m.nextIDLocked()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	snap.Balances = cloneBalances(snap.Balances)

	m.snapshots[snap.ID] = snap
	return cloneSnapshot(snap), nil
}

func (m *Memory) GetSnapshot(_ context.Context, id string) (settlement.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[id]
	if !ok {
		return settlement.Snapshot{}, fmt.Errorf("snapshot %s: %w", id, storage.ErrNotFound)
	}
	return cloneSnapshot(snap), nil
}

func (m *Memory) MarkSnapshotRestored(_ context.Context, id string) (settlement.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[id]
	if !ok {
		return settlement.Snapshot{}, fmt.Errorf("snapshot %s: %w", id, storage.ErrNotFound)
	}
	snap.Restored = true
	m.snapshots[id] = snap
	return cloneSnapshot(snap), nil
}

// LedgerReceiptStore implementation -------------------------------------------

func (m *Memory) CreateReceipt(_ context.Context, rec settlement.LedgerReceipt) (settlement.LedgerReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = m.nextIDLocked()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	m.receipts[rec.ID] = rec
	return rec, nil
}

func (m *Memory) UpdateReceipt(_ context.Context, rec settlement.LedgerReceipt) (settlement.LedgerReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	original, ok := m.receipts[rec.ID]
	if !ok {
		return settlement.LedgerReceipt{}, fmt.Errorf("receipt %s: %w", rec.ID, storage.ErrNotFound)
	}

	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	m.receipts[rec.ID] = rec
	return rec, nil
}

func (m *Memory) GetReceiptByRun(_ context.Context, runID string) (settlement.LedgerReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.receipts {
		if rec.RunID == runID {
			return rec, nil
		}
	}
	return settlement.LedgerReceipt{}, fmt.Errorf("receipt for run %s: %w", runID, storage.ErrNotFound)
}

func (m *Memory) ListUnconfirmedReceipts(_ context.Context) ([]settlement.LedgerReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []settlement.LedgerReceipt
	for _, rec := range m.receipts {
		if rec.Status == settlement.ReceiptPending || rec.Status == settlement.ReceiptSubmitted {
			result = append(result, rec)
		}
	}
	return result, nil
}

// helpers ---------------------------------------------------------------------

func cloneAccount(acct account.Account) account.Account {
	acct.Metadata = copyMap(acct.Metadata)
	return acct
}

func cloneSnapshot(snap settlement.Snapshot) settlement.Snapshot {
	snap.Balances = cloneBalances(snap.Balances)
	return snap
}

func cloneBalances(in map[string]settlement.BalanceEntry) map[string]settlement.BalanceEntry {
	if in == nil {
		return nil
	}
	out := make(map[string]settlement.BalanceEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
