package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/account"
	"github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Balances are
// stored as NUMERIC and scanned through strings so no float rounding happens
// on the way in or out.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)
var _ storage.LedgerReceiptStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	metadataJSON, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, owner, cash_balance, gold_balance, referrer_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, acct.ID, acct.Owner, acct.CashBalance.String(), acct.GoldBalance.String(),
		nullString(acct.ReferrerID), metadataJSON, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	existing, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		return account.Account{}, err
	}

	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET owner = $2, cash_balance = $3, gold_balance = $4, referrer_id = $5, metadata = $6, updated_at = $7
		WHERE id = $1
	`, acct.ID, acct.Owner, acct.CashBalance.String(), acct.GoldBalance.String(),
		nullString(acct.ReferrerID), metadataJSON, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, cash_balance, gold_balance, referrer_id, metadata, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, cash_balance, gold_balance, referrer_id, metadata, created_at, updated_at
		FROM accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) UpdateBalances(ctx context.Context, id string, cash, gold decimal.Decimal) (account.Account, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET cash_balance = $2, gold_balance = $3, updated_at = $4
		WHERE id = $1
	`, id, cash.String(), gold.String(), time.Now().UTC())
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return s.GetAccount(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		acct        account.Account
		cashRaw     string
		goldRaw     string
		referrer    sql.NullString
		metadataRaw []byte
	)
	if err := row.Scan(&acct.ID, &acct.Owner, &cashRaw, &goldRaw, &referrer, &metadataRaw, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return account.Account{}, err
	}

	var err error
	if acct.CashBalance, err = decimal.NewFromString(cashRaw); err != nil {
		return account.Account{}, fmt.Errorf("parse cash balance: %w", err)
	}
	if acct.GoldBalance, err = decimal.NewFromString(goldRaw); err != nil {
		return account.Account{}, fmt.Errorf("parse gold balance: %w", err)
	}
	if referrer.Valid {
		acct.ReferrerID = referrer.String
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &acct.Metadata); err != nil {
			return account.Account{}, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return acct, nil
}

// --- SettlementStore --------------------------------------------------------

func (s *Store) CreateRun(ctx context.Context, run settlement.Run) (settlement.Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_runs
			(id, fixing_price, status, total_cash, total_gold, total_bonus, accounts_processed, error_detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.ID, run.FixingPrice.String(), string(run.Status),
		run.TotalCashProcessed.String(), run.TotalGoldDistributed.String(), run.TotalBonusDistributed.String(),
		run.AccountsProcessed, nullString(run.ErrorDetail), run.StartedAt, nullTime(run.FinishedAt))
	if err != nil {
		return settlement.Run{}, err
	}
	return run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run settlement.Run) (settlement.Run, error) {
	existing, err := s.GetRun(ctx, run.ID)
	if err != nil {
		return settlement.Run{}, err
	}
	if existing.Status.Terminal() {
		return settlement.Run{}, fmt.Errorf("run %s is terminal (%s)", run.ID, existing.Status)
	}
	run.StartedAt = existing.StartedAt

	_, err = s.db.ExecContext(ctx, `
		UPDATE settlement_runs
		SET status = $2, total_cash = $3, total_gold = $4, total_bonus = $5,
		    accounts_processed = $6, error_detail = $7, finished_at = $8
		WHERE id = $1
	`, run.ID, string(run.Status),
		run.TotalCashProcessed.String(), run.TotalGoldDistributed.String(), run.TotalBonusDistributed.String(),
		run.AccountsProcessed, nullString(run.ErrorDetail), nullTime(run.FinishedAt))
	if err != nil {
		return settlement.Run{}, err
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (settlement.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fixing_price, status, total_cash, total_gold, total_bonus, accounts_processed, error_detail, started_at, finished_at
		FROM settlement_runs
		WHERE id = $1
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Run{}, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return run, err
}

func (s *Store) LastRun(ctx context.Context) (settlement.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fixing_price, status, total_cash, total_gold, total_bonus, accounts_processed, error_detail, started_at, finished_at
		FROM settlement_runs
		ORDER BY started_at DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Run{}, storage.ErrNotFound
	}
	return run, err
}

func (s *Store) ListActiveRuns(ctx context.Context) ([]settlement.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fixing_price, status, total_cash, total_gold, total_bonus, accounts_processed, error_detail, started_at, finished_at
		FROM settlement_runs
		WHERE status NOT IN ('completed', 'rejected', 'failed')
		ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []settlement.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (settlement.Run, error) {
	var (
		run         settlement.Run
		priceRaw    string
		statusRaw   string
		cashRaw     string
		goldRaw     string
		bonusRaw    string
		errorDetail sql.NullString
		finishedAt  sql.NullTime
	)
	if err := row.Scan(&run.ID, &priceRaw, &statusRaw, &cashRaw, &goldRaw, &bonusRaw,
		&run.AccountsProcessed, &errorDetail, &run.StartedAt, &finishedAt); err != nil {
		return settlement.Run{}, err
	}

	run.Status = settlement.RunStatus(statusRaw)
	var err error
	if run.FixingPrice, err = decimal.NewFromString(priceRaw); err != nil {
		return settlement.Run{}, fmt.Errorf("parse fixing price: %w", err)
	}
	if run.TotalCashProcessed, err = decimal.NewFromString(cashRaw); err != nil {
		return settlement.Run{}, fmt.Errorf("parse total cash: %w", err)
	}
	if run.TotalGoldDistributed, err = decimal.NewFromString(goldRaw); err != nil {
		return settlement.Run{}, fmt.Errorf("parse total gold: %w", err)
	}
	if run.TotalBonusDistributed, err = decimal.NewFromString(bonusRaw); err != nil {
		return settlement.Run{}, fmt.Errorf("parse total bonus: %w", err)
	}
	if errorDetail.Valid {
		run.ErrorDetail = errorDetail.String
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}

// --- SnapshotStore ----------------------------------------------------------

type balanceEntryJSON struct {
	Cash string `json:"cash"`
	Gold string `json:"gold"`
}

func (s *Store) CreateSnapshot(ctx context.Context, snap settlement.Snapshot) (settlement.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}

	encoded := make(map[string]balanceEntryJSON, len(snap.Balances))
	for id, entry := range snap.Balances {
		encoded[id] = balanceEntryJSON{Cash: entry.Cash.String(), Gold: entry.Gold.String()}
	}
	balancesJSON, err := json.Marshal(encoded)
	if err != nil {
		return settlement.Snapshot{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO balance_snapshots (id, run_id, balances, captured_at, restored)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.ID, snap.RunID, balancesJSON, snap.CapturedAt, snap.Restored)
	if err != nil {
		return settlement.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (settlement.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, balances, captured_at, restored
		FROM balance_snapshots
		WHERE id = $1
	`, id)

	var (
		snap        settlement.Snapshot
		balancesRaw []byte
	)
	if err := row.Scan(&snap.ID, &snap.RunID, &balancesRaw, &snap.CapturedAt, &snap.Restored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settlement.Snapshot{}, fmt.Errorf("snapshot %s: %w", id, storage.ErrNotFound)
		}
		return settlement.Snapshot{}, err
	}

	var encoded map[string]balanceEntryJSON
	if err := json.Unmarshal(balancesRaw, &encoded); err != nil {
		return settlement.Snapshot{}, fmt.Errorf("parse snapshot balances: %w", err)
	}
	snap.Balances = make(map[string]settlement.BalanceEntry, len(encoded))
	for acctID, entry := range encoded {
		cash, err := decimal.NewFromString(entry.Cash)
		if err != nil {
			return settlement.Snapshot{}, fmt.Errorf("parse snapshot cash: %w", err)
		}
		gold, err := decimal.NewFromString(entry.Gold)
		if err != nil {
			return settlement.Snapshot{}, fmt.Errorf("parse snapshot gold: %w", err)
		}
		snap.Balances[acctID] = settlement.BalanceEntry{Cash: cash, Gold: gold}
	}
	return snap, nil
}

func (s *Store) MarkSnapshotRestored(ctx context.Context, id string) (settlement.Snapshot, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE balance_snapshots SET restored = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return settlement.Snapshot{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return settlement.Snapshot{}, fmt.Errorf("snapshot %s: %w", id, storage.ErrNotFound)
	}
	return s.GetSnapshot(ctx, id)
}

// --- LedgerReceiptStore -----------------------------------------------------

func (s *Store) CreateReceipt(ctx context.Context, rec settlement.LedgerReceipt) (settlement.LedgerReceipt, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_receipts (id, run_id, status, tx_ref, confirmations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.RunID, string(rec.Status), nullString(rec.TxRef), rec.Confirmations, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return settlement.LedgerReceipt{}, err
	}
	return rec, nil
}

func (s *Store) UpdateReceipt(ctx context.Context, rec settlement.LedgerReceipt) (settlement.LedgerReceipt, error) {
	rec.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE ledger_receipts
		SET status = $2, tx_ref = $3, confirmations = $4, updated_at = $5
		WHERE id = $1
	`, rec.ID, string(rec.Status), nullString(rec.TxRef), rec.Confirmations, rec.UpdatedAt)
	if err != nil {
		return settlement.LedgerReceipt{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return settlement.LedgerReceipt{}, fmt.Errorf("receipt %s: %w", rec.ID, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetReceiptByRun(ctx context.Context, runID string) (settlement.LedgerReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, status, tx_ref, confirmations, created_at, updated_at
		FROM ledger_receipts
		WHERE run_id = $1
	`, runID)
	rec, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.LedgerReceipt{}, fmt.Errorf("receipt for run %s: %w", runID, storage.ErrNotFound)
	}
	return rec, err
}

func (s *Store) ListUnconfirmedReceipts(ctx context.Context) ([]settlement.LedgerReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, status, tx_ref, confirmations, created_at, updated_at
		FROM ledger_receipts
		WHERE status IN ('pending', 'submitted')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []settlement.LedgerReceipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}

func scanReceipt(row rowScanner) (settlement.LedgerReceipt, error) {
	var (
		rec       settlement.LedgerReceipt
		statusRaw string
		txRef     sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.RunID, &statusRaw, &txRef, &rec.Confirmations, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return settlement.LedgerReceipt{}, err
	}
	rec.Status = settlement.ReceiptStatus(statusRaw)
	if txRef.Valid {
		rec.TxRef = txRef.String
	}
	return rec, nil
}

// --- helpers ----------------------------------------------------------------

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
