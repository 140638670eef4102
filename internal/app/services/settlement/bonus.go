package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/Aureus-Network/settlement_layer/internal/app/domain/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// Allocator computes the cascading referral bonus for a converted amount.
// Bonuses are computed from the gram amount (not the cash amount) and each
// level truncates independently; there is no cross-level rounding carry.
type Allocator struct {
	accounts storage.AccountStore
	rates    []decimal.Decimal
	log      *logger.Logger
}

// NewAllocator creates a bonus allocator. The rate slice is indexed by
// referral level minus one and bounds the walk depth.
func NewAllocator(accounts storage.AccountStore, rates []decimal.Decimal, log *logger.Logger) *Allocator {
	if log == nil {
		log = logger.NewDefault("bonus-allocator")
	}
	return &Allocator{accounts: accounts, rates: rates, log: log}
}

// CombinedRate returns the sum of all per-level rates, the ceiling on the
// total bonus paid for any single converted amount.
func (a *Allocator) CombinedRate() decimal.Decimal {
	total := decimal.Zero
	for _, r := range a.rates {
		total = total.Add(r)
	}
	return total
}

// Allocate walks the referral chain upward from the converted account and
// returns one award per reachable level. The walk stops at the configured
// depth, at the end of the chain, or as soon as an already-visited account
// reappears; the referral graph is not guaranteed acyclic upstream.
func (a *Allocator) Allocate(ctx context.Context, convertedID string, grams decimal.Decimal) ([]domain.BonusAward, error) {
	if grams.IsNegative() {
		return nil, fmt.Errorf("%w: negative gram amount %s", ErrInvalidInput, grams)
	}

	acct, err := a.accounts.GetAccount(ctx, convertedID)
	if err != nil {
		return nil, fmt.Errorf("load converted account: %w", err)
	}

	visited := map[string]struct{}{convertedID: {}}
	awards := make([]domain.BonusAward, 0, len(a.rates))

	current := acct.ReferrerID
	for level := 1; level <= len(a.rates) && current != ""; level++ {
		if _, seen := visited[current]; seen {
			a.log.WithField("account_id", current).
				WithField("converted_id", convertedID).
				Warn("referral cycle detected; terminating bonus walk")
			break
		}
		visited[current] = struct{}{}

		referrer, err := a.accounts.GetAccount(ctx, current)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				a.log.WithField("account_id", current).
					Warn("referrer missing; terminating bonus walk")
				break
			}
			return nil, fmt.Errorf("load referrer %s: %w", current, err)
		}

		bonus := grams.Mul(a.rates[level-1]).Truncate(GramPrecision)
		awards = append(awards, domain.BonusAward{
			AccountID:  referrer.ID,
			Level:      level,
			BonusGrams: bonus,
		})

		current = referrer.ReferrerID
	}

	return awards, nil
}
