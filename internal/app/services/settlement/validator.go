package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// Window is the eligibility window for starting a settlement run: a weekday
// plus a time-of-day cutoff, evaluated in the given location.
type Window struct {
	Weekday      time.Weekday
	CutoffHour   int
	CutoffMinute int
	Location     *time.Location
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if local.Weekday() != w.Weekday {
		return false
	}
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), w.CutoffHour, w.CutoffMinute, 0, 0, loc)
	return local.Before(cutoff)
}

// ValidatorConfig bundles the validator's numeric bounds and timing window.
type ValidatorConfig struct {
	Window    Window
	MinPrice  decimal.Decimal
	MaxPrice  decimal.Decimal
	Tolerance decimal.Decimal
}

// Validator enforces the settlement pre-conditions before any mutation and
// the conservation invariant after the mutation loop.
type Validator struct {
	accounts storage.AccountStore
	runs     storage.SettlementStore
	cfg      ValidatorConfig
	now      func() time.Time
	log      *logger.Logger
}

// NewValidator creates a validator. The clock defaults to time.Now and is
// injectable for tests via WithClock.
func NewValidator(accounts storage.AccountStore, runs storage.SettlementStore, cfg ValidatorConfig, log *logger.Logger) *Validator {
	if log == nil {
		log = logger.NewDefault("settlement-validator")
	}
	return &Validator{
		accounts: accounts,
		runs:     runs,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

// WithClock overrides the validator's clock.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// PreRun checks every condition that must hold before a run may mutate state:
// the eligibility window, the absence of another non-terminal run (the run
// being validated excludes itself), and the health of every account record.
func (v *Validator) PreRun(ctx context.Context, currentRunID string) error {
	now := v.now()
	if !v.cfg.Window.Contains(now) {
		return &ValidationError{Reason: fmt.Sprintf(
			"outside eligibility window (now %s, window %s before %02d:%02d)",
			now.Format(time.RFC3339), v.cfg.Window.Weekday, v.cfg.Window.CutoffHour, v.cfg.Window.CutoffMinute)}
	}

	active, err := v.runs.ListActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("query active runs: %w", err)
	}
	for _, run := range active {
		if run.ID != currentRunID {
			return &ValidationError{Reason: fmt.Sprintf("settlement run %s already in progress (%s)", run.ID, run.Status)}
		}
	}

	accounts, err := v.accounts.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acct := range accounts {
		if acct.ID == "" {
			return &ValidationError{Reason: "orphan account record without identifier"}
		}
		if acct.CashBalance.IsNegative() {
			return &ValidationError{Reason: fmt.Sprintf("account %s holds negative cash balance %s", acct.ID, acct.CashBalance)}
		}
		if acct.GoldBalance.IsNegative() {
			return &ValidationError{Reason: fmt.Sprintf("account %s holds negative gold balance %s", acct.ID, acct.GoldBalance)}
		}
	}

	return nil
}

// ValidatePrice checks the fixing price against the configured open interval.
func (v *Validator) ValidatePrice(price decimal.Decimal) error {
	if price.Cmp(v.cfg.MinPrice) <= 0 || price.Cmp(v.cfg.MaxPrice) >= 0 {
		return &ValidationError{Reason: fmt.Sprintf(
			"fixing price %s outside bounds (%s, %s)", price, v.cfg.MinPrice, v.cfg.MaxPrice)}
	}
	return nil
}

// ValidateResult checks cash conservation after the mutation loop: the cash
// held now must equal the captured total minus the cash processed into gold,
// within the configured tolerance. A violation is an integrity failure that
// forces rollback, not a plain validation rejection.
func (v *Validator) ValidateResult(ctx context.Context, before map[string]domain.BalanceEntry, totalCashProcessed decimal.Decimal) error {
	accounts, err := v.accounts.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	totalBefore := decimal.Zero
	for _, entry := range before {
		totalBefore = totalBefore.Add(entry.Cash)
	}

	totalAfter := decimal.Zero
	for _, acct := range accounts {
		if acct.CashBalance.IsNegative() || acct.GoldBalance.IsNegative() {
			return &IntegrityError{Detail: fmt.Sprintf("account %s holds a negative balance after settlement", acct.ID)}
		}
		totalAfter = totalAfter.Add(acct.CashBalance)
	}

	expected := totalBefore.Sub(totalCashProcessed)
	drift := totalAfter.Sub(expected).Abs()
	if drift.Cmp(v.cfg.Tolerance) > 0 {
		return &IntegrityError{Detail: fmt.Sprintf(
			"cash conservation violated: expected %s, observed %s (drift %s)", expected, totalAfter, drift)}
	}
	return nil
}
