// Package settlement implements the periodic cash-to-gold settlement engine:
// pooled cash balances are converted at a single fixing price, a structure
// fee is deducted, referral bonuses cascade up the referral chain, and a
// proof-of-settlement is submitted to the external ledger. The orchestrator
// guarantees an all-or-nothing outcome per run via a pre-mutation balance
// snapshot that doubles as a compensating transaction.
package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/metrics"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// ProofSubmitter submits settlement proofs to the external ledger.
type ProofSubmitter interface {
	Submit(ctx context.Context, proof domain.Proof) (txRef string, err error)
}

// Deps bundles the orchestrator's collaborators. Accounts, Runs, Calculator,
// Allocator, Snapshotter and Validator are required; the rest default.
type Deps struct {
	Accounts  storage.AccountStore
	Runs      storage.SettlementStore
	Receipts  storage.LedgerReceiptStore
	Calc      *Calculator
	Allocator *Allocator
	Snap      *Snapshotter
	Validator *Validator
	Lock      RunLock
	Ledger    ProofSubmitter
	Notifier  NotificationSink
	Audit     AuditSink
	Log       *logger.Logger

	// SubmitTimeout bounds the post-completion ledger submission. It is
	// deliberately distinct from the run context: a completed run must not
	// be cancelled by its caller going away.
	SubmitTimeout time.Duration
}

// Service is the settlement orchestrator. All balance mutation in the system
// flows through RunSettlement while the run lock is held; account updates
// within one run are strictly sequential.
type Service struct {
	accounts  storage.AccountStore
	runs      storage.SettlementStore
	receipts  storage.LedgerReceiptStore
	calc      *Calculator
	allocator *Allocator
	snap      *Snapshotter
	validator *Validator
	lock      RunLock
	ledger    ProofSubmitter
	notifier  NotificationSink
	audit     AuditSink
	log       *logger.Logger

	submitTimeout time.Duration
}

// New constructs the orchestrator.
func New(deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	lock := deps.Lock
	if lock == nil {
		lock = NewLocalRunLock()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	audit := deps.Audit
	if audit == nil {
		audit = NewLogAudit(log)
	}
	submitTimeout := deps.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 60 * time.Second
	}

	return &Service{
		accounts:      deps.Accounts,
		runs:          deps.Runs,
		receipts:      deps.Receipts,
		calc:          deps.Calc,
		allocator:     deps.Allocator,
		snap:          deps.Snap,
		validator:     deps.Validator,
		lock:          lock,
		ledger:        deps.Ledger,
		notifier:      notifier,
		audit:         audit,
		log:           log,
		submitTimeout: submitTimeout,
	}
}

// RunSettlement executes one full settlement run at the given fixing price.
// The returned Result is always populated; the error carries the typed
// failure for callers that need to distinguish rejection from rollback.
func (s *Service) RunSettlement(ctx context.Context, price decimal.Decimal) (domain.Result, error) {
	release, acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return errorResult("", price, err), fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		verr := &ValidationError{Reason: "another settlement run is in progress"}
		return errorResult("", price, verr), verr
	}
	defer release()

	started := time.Now()

	run, err := s.runs.CreateRun(ctx, domain.Run{FixingPrice: price, Status: domain.RunPending})
	if err != nil {
		return errorResult("", price, err), fmt.Errorf("create run record: %w", err)
	}
	s.record(ctx, run.ID, "run_started", "info", fmt.Sprintf("settlement run started at fixing price %s", price))

	run.Status = domain.RunValidating
	if run, err = s.runs.UpdateRun(ctx, run); err != nil {
		return errorResult(run.ID, price, err), fmt.Errorf("persist run transition: %w", err)
	}

	if err := s.validator.ValidatePrice(price); err != nil {
		return s.reject(ctx, run, err)
	}
	if err := s.validator.PreRun(ctx, run.ID); err != nil {
		return s.reject(ctx, run, err)
	}

	// Capture failure aborts before any mutation: fail closed.
	snap, err := s.snap.Capture(ctx, run.ID)
	if err != nil {
		return s.reject(ctx, run, err)
	}

	run.Status = domain.RunProcessing
	if run, err = s.runs.UpdateRun(ctx, run); err != nil {
		return errorResult(run.ID, price, err), fmt.Errorf("persist run transition: %w", err)
	}

	run, err = s.process(ctx, run, snap)
	if err != nil {
		return s.fail(ctx, run, snap, err)
	}

	if err := s.validator.ValidateResult(ctx, snap.Balances, run.TotalCashProcessed); err != nil {
		return s.fail(ctx, run, snap, err)
	}

	run.Status = domain.RunCompleted
	run.FinishedAt = time.Now().UTC()
	if run, err = s.runs.UpdateRun(ctx, run); err != nil {
		// The balances are consistent; losing the status write is an
		// operational problem, not a financial one.
		s.log.WithError(err).Error("persist completed run failed")
		s.notify(ctx, run.ID, "persistence", "critical", fmt.Sprintf("completed run %s could not be persisted: %v", run.ID, err))
	}

	metrics.ObserveRun(string(domain.RunCompleted), time.Since(started).Seconds(),
		run.AccountsProcessed, run.TotalGoldDistributed.InexactFloat64(), run.TotalBonusDistributed.InexactFloat64())
	s.record(ctx, run.ID, "run_completed", "info", fmt.Sprintf(
		"settlement completed: %d accounts, %s cash, %s gold, %s bonus",
		run.AccountsProcessed, run.TotalCashProcessed, run.TotalGoldDistributed, run.TotalBonusDistributed))

	// Best-effort: the run is final regardless of what the ledger does.
	s.submitProof(run)

	return successResult(run), nil
}

// process runs the sequential conversion loop and returns the run with its
// totals accumulated. Any error out of here triggers rollback.
func (s *Service) process(ctx context.Context, run domain.Run, snap domain.Snapshot) (domain.Run, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return run, &MutationError{Err: fmt.Errorf("list accounts: %w", err)}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	for _, listed := range accounts {
		// Re-read: an earlier conversion may have credited bonus gold here.
		acct, err := s.accounts.GetAccount(ctx, listed.ID)
		if err != nil {
			return run, &MutationError{AccountID: listed.ID, Err: err}
		}
		if !acct.CashBalance.IsPositive() {
			continue
		}

		conv, err := s.calc.Compute(acct.CashBalance, run.FixingPrice)
		if err != nil {
			return run, &MutationError{AccountID: acct.ID, Err: err}
		}

		if _, err := s.accounts.UpdateBalances(ctx, acct.ID, decimal.Zero, acct.GoldBalance.Add(conv.Grams)); err != nil {
			return run, &MutationError{AccountID: acct.ID, Err: err}
		}

		awards, err := s.allocator.Allocate(ctx, acct.ID, conv.Grams)
		if err != nil {
			return run, &MutationError{AccountID: acct.ID, Err: fmt.Errorf("allocate bonuses: %w", err)}
		}
		for _, award := range awards {
			if award.BonusGrams.IsZero() {
				continue
			}
			referrer, err := s.accounts.GetAccount(ctx, award.AccountID)
			if err != nil {
				return run, &MutationError{AccountID: award.AccountID, Err: err}
			}
			if _, err := s.accounts.UpdateBalances(ctx, referrer.ID, referrer.CashBalance, referrer.GoldBalance.Add(award.BonusGrams)); err != nil {
				return run, &MutationError{AccountID: referrer.ID, Err: err}
			}
			run.TotalBonusDistributed = run.TotalBonusDistributed.Add(award.BonusGrams)
		}

		run.TotalCashProcessed = run.TotalCashProcessed.Add(acct.CashBalance)
		run.TotalGoldDistributed = run.TotalGoldDistributed.Add(conv.Grams)
		run.AccountsProcessed++
	}

	return run, nil
}

// reject records a pre-condition failure. No mutation has occurred.
func (s *Service) reject(ctx context.Context, run domain.Run, cause error) (domain.Result, error) {
	run.Status = domain.RunRejected
	run.ErrorDetail = cause.Error()
	run.FinishedAt = time.Now().UTC()
	if _, err := s.runs.UpdateRun(ctx, run); err != nil {
		s.log.WithError(err).Error("persist rejected run failed")
	}

	metrics.ObserveRun(string(domain.RunRejected), 0, 0, 0, 0)
	s.record(ctx, run.ID, "run_rejected", "warning", cause.Error())
	return errorResult(run.ID, run.FixingPrice, cause), cause
}

// fail rolls the balances back to the snapshot and records the run as
// failed. A restore failure on top of a mutation failure is the worst case
// and escalates as fatal: consistency can no longer be guaranteed here.
func (s *Service) fail(ctx context.Context, run domain.Run, snap domain.Snapshot, cause error) (domain.Result, error) {
	s.log.WithError(cause).WithField("run_id", run.ID).Error("settlement failed; rolling back")

	if ok, err := s.snap.VerifyIntegrity(ctx, snap.ID); err != nil {
		s.log.WithError(err).Warn("snapshot integrity check failed")
	} else if !ok {
		s.log.WithField("snapshot_id", snap.ID).Warn("account set drifted since capture; restoring captured accounts only")
	}

	if err := s.snap.Restore(ctx, snap.ID); err != nil {
		s.notify(ctx, run.ID, "rollback", "fatal", fmt.Sprintf(
			"rollback of run %s FAILED (%v) after error: %v; manual intervention required", run.ID, err, cause))
	} else {
		metrics.ObserveRollback()
	}

	run.Status = domain.RunFailed
	run.ErrorDetail = cause.Error()
	run.FinishedAt = time.Now().UTC()
	run.TotalCashProcessed = decimal.Zero
	run.TotalGoldDistributed = decimal.Zero
	run.TotalBonusDistributed = decimal.Zero
	run.AccountsProcessed = 0
	if _, err := s.runs.UpdateRun(ctx, run); err != nil {
		s.log.WithError(err).Error("persist failed run failed")
	}

	metrics.ObserveRun(string(domain.RunFailed), 0, 0, 0, 0)
	s.notify(ctx, run.ID, "run_failed", "critical", cause.Error())
	s.record(ctx, run.ID, "run_failed", "critical", cause.Error())
	return errorResult(run.ID, run.FixingPrice, cause), cause
}

// submitProof creates the receipt and submits it to the ledger. Failures
// leave the receipt pending for the confirmer to reconcile later.
func (s *Service) submitProof(run domain.Run) {
	if s.receipts == nil {
		return
	}

	// Detached from the caller: the run is already terminal.
	ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
	defer cancel()

	rec, err := s.receipts.CreateReceipt(ctx, domain.LedgerReceipt{
		RunID:  run.ID,
		Status: domain.ReceiptPending,
	})
	if err != nil {
		s.log.WithError(err).Error("create ledger receipt failed")
		return
	}

	if s.ledger == nil {
		s.log.Warn("no ledger client configured; receipt left pending")
		return
	}

	txRef, err := s.ledger.Submit(ctx, domain.Proof{
		RunID:                run.ID,
		FixingPrice:          run.FixingPrice,
		TotalCashProcessed:   run.TotalCashProcessed,
		TotalGoldDistributed: run.TotalGoldDistributed,
		AccountsProcessed:    run.AccountsProcessed,
		CompletedAt:          run.FinishedAt,
	})
	if err != nil {
		metrics.ObserveLedgerSubmission("failed")
		s.log.WithError(err).WithField("run_id", run.ID).Warn("ledger submission failed; receipt stays pending")
		s.notify(ctx, run.ID, "ledger", "warning", fmt.Sprintf("proof submission for run %s deferred: %v", run.ID, err))
		return
	}

	rec.Status = domain.ReceiptSubmitted
	rec.TxRef = txRef
	if _, err := s.receipts.UpdateReceipt(ctx, rec); err != nil {
		s.log.WithError(err).Error("update ledger receipt failed")
		return
	}
	metrics.ObserveLedgerSubmission("submitted")
}

// LastRun returns the most recent settlement run record.
func (s *Service) LastRun(ctx context.Context) (domain.Run, error) {
	return s.runs.LastRun(ctx)
}

func (s *Service) notify(ctx context.Context, runID, kind, severity, message string) {
	s.notifier.NotifyAdmins(ctx, Event{
		Time: time.Now().UTC(), RunID: runID, Kind: kind, Severity: severity, Message: message,
	})
}

func (s *Service) record(ctx context.Context, runID, kind, severity, message string) {
	s.audit.Record(ctx, Event{
		Time: time.Now().UTC(), RunID: runID, Kind: kind, Severity: severity, Message: message,
	})
}

func successResult(run domain.Run) domain.Result {
	return domain.Result{
		Status:                domain.ResultSuccess,
		RunID:                 run.ID,
		TotalCashProcessed:    run.TotalCashProcessed,
		TotalGoldDistributed:  run.TotalGoldDistributed,
		TotalBonusDistributed: run.TotalBonusDistributed,
		AccountsProcessed:     run.AccountsProcessed,
		FixingPrice:           run.FixingPrice,
	}
}

func errorResult(runID string, price decimal.Decimal, err error) domain.Result {
	return domain.Result{
		Status:       domain.ResultError,
		RunID:        runID,
		FixingPrice:  price,
		ErrorMessage: err.Error(),
	}
}
