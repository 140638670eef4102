package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a client holding a cash balance and a gold balance within
// the settlement layer. ReferrerID is an optional upward link into the
// referral forest; it is created elsewhere and only traversed here.
type Account struct {
	ID          string
	Owner       string
	CashBalance decimal.Decimal
	GoldBalance decimal.Decimal
	ReferrerID  string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasReferrer reports whether the account links to a referring account.
func (a Account) HasReferrer() bool {
	return a.ReferrerID != ""
}
