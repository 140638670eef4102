package app

import (
	"context"
	"fmt"

	"github.com/Aureus-Network/settlement_layer/internal/app/metrics"
	ledgersvc "github.com/Aureus-Network/settlement_layer/internal/app/services/ledger"
	settlementsvc "github.com/Aureus-Network/settlement_layer/internal/app/services/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage/memory"
	"github.com/Aureus-Network/settlement_layer/internal/app/system"
	"github.com/Aureus-Network/settlement_layer/internal/config"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts  storage.AccountStore
	Runs      storage.SettlementStore
	Snapshots storage.SnapshotStore
	Receipts  storage.LedgerReceiptStore
}

// Options carries optional collaborators built by the process entry point.
type Options struct {
	// Lock overrides the in-process run lock, e.g. with the redis lock.
	Lock settlementsvc.RunLock
	// PriceSource enables the cron scheduler when the config asks for it.
	PriceSource settlementsvc.PriceSource
	// Audit supplements the default log audit sink.
	Audit settlementsvc.AuditSink
}

// Application ties the settlement services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Settlement *settlementsvc.Service
	Ledger     *ledgersvc.Client
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Runs == nil {
		stores.Runs = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}
	if stores.Receipts == nil {
		stores.Receipts = mem
	}

	feeRate, err := cfg.FeeRate()
	if err != nil {
		return nil, err
	}
	bonusRates, err := cfg.BonusRates()
	if err != nil {
		return nil, err
	}
	minPrice, err := cfg.MinPrice()
	if err != nil {
		return nil, err
	}
	maxPrice, err := cfg.MaxPrice()
	if err != nil {
		return nil, err
	}
	tolerance, err := cfg.Tolerance()
	if err != nil {
		return nil, err
	}
	weekday, err := cfg.WindowWeekday()
	if err != nil {
		return nil, err
	}
	cutoffHour, cutoffMinute, loc, err := cfg.WindowCutoffTime()
	if err != nil {
		return nil, err
	}

	manager := system.NewManager()

	validator := settlementsvc.NewValidator(stores.Accounts, stores.Runs, settlementsvc.ValidatorConfig{
		Window: settlementsvc.Window{
			Weekday:      weekday,
			CutoffHour:   cutoffHour,
			CutoffMinute: cutoffMinute,
			Location:     loc,
		},
		MinPrice:  minPrice,
		MaxPrice:  maxPrice,
		Tolerance: tolerance,
	}, log)

	var ledgerClient *ledgersvc.Client
	if len(cfg.Ledger.Endpoints) > 0 {
		ledgerClient, err = ledgersvc.NewClient(ledgersvc.Config{
			Endpoints: cfg.Ledger.Endpoints,
			Timeout:   cfg.Ledger.Timeout.Duration(),
			Retry: ledgersvc.RetryPolicy{
				MaxAttempts: cfg.Ledger.MaxAttempts,
				BaseDelay:   cfg.Ledger.BaseDelay.Duration(),
				MaxDelay:    cfg.Ledger.MaxDelay.Duration(),
				Multiplier:  cfg.Ledger.Multiplier,
				Jitter:      cfg.Ledger.Jitter,
			},
			Breaker: ledgersvc.BreakerConfig{
				FailureThreshold: cfg.Ledger.FailureThreshold,
				RecoveryInterval: cfg.Ledger.RecoveryInterval.Duration(),
				OnStateChange: func(_, to ledgersvc.CircuitState) {
					metrics.SetLedgerCircuitState(int(to))
				},
			},
			SubmitRate: cfg.Ledger.SubmitRate,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure ledger client: %w", err)
		}
	} else {
		log.Warn("no ledger endpoints configured; proofs will stay pending")
	}

	deps := settlementsvc.Deps{
		Accounts:      stores.Accounts,
		Runs:          stores.Runs,
		Receipts:      stores.Receipts,
		Calc:          settlementsvc.NewCalculator(feeRate),
		Allocator:     settlementsvc.NewAllocator(stores.Accounts, bonusRates, log),
		Snap:          settlementsvc.NewSnapshotter(stores.Accounts, stores.Snapshots, log),
		Validator:     validator,
		Lock:          opts.Lock,
		Notifier:      settlementsvc.NewLogNotifier(log),
		Audit:         opts.Audit,
		Log:           log,
		SubmitTimeout: cfg.Settlement.SubmitTimeout.Duration(),
	}
	if ledgerClient != nil {
		deps.Ledger = ledgerClient
	}
	settlementService := settlementsvc.New(deps)

	if err := manager.Register(system.NoopService{ServiceName: "settlement"}); err != nil {
		return nil, fmt.Errorf("register settlement service: %w", err)
	}

	if ledgerClient != nil {
		confirmer := ledgersvc.NewConfirmer(stores.Receipts, stores.Runs, ledgerClient, log).
			WithInterval(cfg.Ledger.ConfirmInterval.Duration()).
			WithRequiredConfirmations(cfg.Ledger.RequiredConfirmations)
		if err := manager.Register(confirmer); err != nil {
			return nil, fmt.Errorf("register %s: %w", confirmer.Name(), err)
		}
	}

	if cfg.Settlement.SchedulerEnabled {
		if opts.PriceSource == nil {
			log.Warn("scheduler enabled but no price source configured; scheduler disabled")
		} else {
			scheduler := settlementsvc.NewScheduler(settlementService, opts.PriceSource, cfg.Settlement.SchedulerSpec, log)
			if err := manager.Register(scheduler); err != nil {
				return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
			}
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Settlement: settlementService,
		Ledger:     ledgerClient,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
