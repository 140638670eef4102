package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/Aureus-Network/settlement_layer/internal/app/system"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// PriceSource supplies the externally-fixed price for an unattended run. How
// the price is determined is not this package's concern.
type PriceSource interface {
	FixingPrice(ctx context.Context) (decimal.Decimal, error)
}

var _ system.Service = (*Scheduler)(nil)

// Scheduler triggers unattended settlement runs on a cron schedule. The cron
// expression should point inside the eligibility window; the validator still
// rejects runs outside it.
type Scheduler struct {
	service *Service
	source  PriceSource
	spec    string
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a scheduler firing on the given cron spec
// (e.g. "0 10 * * FRI").
func NewScheduler(service *Service, source PriceSource, spec string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("settlement-scheduler")
	}
	return &Scheduler{service: service, source: source, spec: spec, log: log}
}

func (s *Scheduler) Name() string { return "settlement-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.trigger(ctx) }); err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("spec", s.spec).Info("settlement scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) trigger(ctx context.Context) {
	if s.source == nil {
		s.log.Warn("no price source configured; skipping scheduled settlement")
		return
	}

	priceCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	price, err := s.source.FixingPrice(priceCtx)
	cancel()
	if err != nil {
		s.log.WithError(err).Warn("fixing price unavailable; skipping scheduled settlement")
		return
	}

	result, err := s.service.RunSettlement(ctx, price)
	if err != nil {
		s.log.WithError(err).Warn("scheduled settlement did not complete")
		return
	}
	s.log.WithField("run_id", result.RunID).
		WithField("accounts", result.AccountsProcessed).
		Info("scheduled settlement completed")
}
