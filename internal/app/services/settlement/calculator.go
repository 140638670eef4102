package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// GramPrecision is the number of decimal places carried by gold gram amounts.
const GramPrecision = 4

// CashPrecision is the number of decimal places carried by cash amounts.
const CashPrecision = 2

// ErrInvalidInput is wrapped by all Calculator input rejections.
var ErrInvalidInput = errors.New("invalid conversion input")

// Conversion is the outcome of converting one cash balance at a fixing price.
type Conversion struct {
	Fee       decimal.Decimal
	NetAmount decimal.Decimal
	Grams     decimal.Decimal
}

// Calculator performs the cash-to-gold conversion arithmetic. It is pure and
// deterministic; all rounding truncates toward zero so the institution never
// over-allocates grams.
type Calculator struct {
	feeRate decimal.Decimal
}

// NewCalculator creates a calculator with the given structure fee rate
// (e.g. 0.05 for 5%).
func NewCalculator(feeRate decimal.Decimal) *Calculator {
	return &Calculator{feeRate: feeRate}
}

// Compute derives the fee, net amount and resulting grams for a cash balance
// at the given fixing price. The price must be strictly positive; bound
// checks against the configured price corridor belong to the Validator.
func (c *Calculator) Compute(cash, price decimal.Decimal) (Conversion, error) {
	if cash.IsNegative() {
		return Conversion{}, fmt.Errorf("%w: negative cash balance %s", ErrInvalidInput, cash)
	}
	if !price.IsPositive() {
		return Conversion{}, fmt.Errorf("%w: non-positive fixing price %s", ErrInvalidInput, price)
	}

	fee := cash.Mul(c.feeRate).Truncate(CashPrecision)
	net := cash.Sub(fee)
	grams := net.Div(price).Truncate(GramPrecision)

	return Conversion{Fee: fee, NetAmount: net, Grams: grams}, nil
}
