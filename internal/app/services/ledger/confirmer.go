package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
	"github.com/Aureus-Network/settlement_layer/internal/app/system"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// Confirmer reconciles ledger receipts in the background: pending receipts
// are re-submitted, submitted receipts are polled until the required number
// of confirmations arrives. Receipt state never feeds back into run state.
type Confirmer struct {
	receipts storage.LedgerReceiptStore
	runs     storage.SettlementStore
	client   *Client
	log      *logger.Logger

	interval      time.Duration
	confirmations int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Confirmer)(nil)

// NewConfirmer creates a receipt reconciler.
func NewConfirmer(receipts storage.LedgerReceiptStore, runs storage.SettlementStore, client *Client, log *logger.Logger) *Confirmer {
	if log == nil {
		log = logger.NewDefault("ledger-confirmer")
	}
	return &Confirmer{
		receipts:      receipts,
		runs:          runs,
		client:        client,
		log:           log,
		interval:      30 * time.Second,
		confirmations: 6,
	}
}

// WithInterval overrides the polling interval.
func (c *Confirmer) WithInterval(interval time.Duration) *Confirmer {
	if interval > 0 {
		c.interval = interval
	}
	return c
}

// WithRequiredConfirmations overrides the confirmation depth treated as final.
func (c *Confirmer) WithRequiredConfirmations(n int) *Confirmer {
	if n > 0 {
		c.confirmations = n
	}
	return c
}

func (c *Confirmer) Name() string { return "ledger-confirmer" }

func (c *Confirmer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.tick(runCtx)
			}
		}
	}()

	c.log.Info("ledger confirmer started")
	return nil
}

func (c *Confirmer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (c *Confirmer) tick(ctx context.Context) {
	receipts, err := c.receipts.ListUnconfirmedReceipts(ctx)
	if err != nil {
		c.log.WithError(err).Warn("list unconfirmed receipts failed")
		return
	}

	for _, rec := range receipts {
		switch rec.Status {
		case settlement.ReceiptPending:
			c.resubmit(ctx, rec)
		case settlement.ReceiptSubmitted:
			c.poll(ctx, rec)
		}
	}
}

func (c *Confirmer) resubmit(ctx context.Context, rec settlement.LedgerReceipt) {
	run, err := c.runs.GetRun(ctx, rec.RunID)
	if err != nil {
		c.log.WithError(err).Warnf("load run %s for pending receipt failed", rec.RunID)
		return
	}

	txRef, err := c.client.Submit(ctx, settlement.Proof{
		RunID:                run.ID,
		FixingPrice:          run.FixingPrice,
		TotalCashProcessed:   run.TotalCashProcessed,
		TotalGoldDistributed: run.TotalGoldDistributed,
		AccountsProcessed:    run.AccountsProcessed,
		CompletedAt:          run.FinishedAt,
	})
	if err != nil {
		c.log.WithError(err).Warnf("re-submission for run %s failed; receipt stays pending", rec.RunID)
		return
	}

	rec.Status = settlement.ReceiptSubmitted
	rec.TxRef = txRef
	if _, err := c.receipts.UpdateReceipt(ctx, rec); err != nil {
		c.log.WithError(err).Warnf("update receipt %s failed", rec.ID)
		return
	}
	c.log.Infof("pending receipt for run %s submitted (tx %s)", rec.RunID, txRef)
}

func (c *Confirmer) poll(ctx context.Context, rec settlement.LedgerReceipt) {
	result, err := c.client.Confirm(ctx, rec.TxRef)
	if err != nil {
		c.log.WithError(err).Warnf("confirmation query for tx %s failed", rec.TxRef)
		return
	}

	rec.Confirmations = result.Confirmations
	if result.Status == "failed" {
		rec.Status = settlement.ReceiptFailed
	} else if result.Confirmations >= c.confirmations {
		rec.Status = settlement.ReceiptConfirmed
	}

	if _, err := c.receipts.UpdateReceipt(ctx, rec); err != nil {
		c.log.WithError(err).Warnf("update receipt %s failed", rec.ID)
		return
	}
	if rec.Status == settlement.ReceiptConfirmed {
		c.log.Infof("receipt for run %s confirmed at depth %d", rec.RunID, rec.Confirmations)
	}
}
