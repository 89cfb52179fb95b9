package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Token is a supported stablecoin on a specific chain
type Token struct {
	ID       uuid.UUID `db:"id"`
	Chain    Chain     `db:"chain"`
	Symbol   string    `db:"symbol"`
	Contract *string   `db:"contract"`
	Decimals int       `db:"decimals"`
	Active   bool      `db:"active"`
}

// CustodialAddress is a receiving address owned by the platform. Upstream
// address assignment keeps at most one open deposit per address, which is
// what makes fallback matching safe.
type CustodialAddress struct {
	ID        uuid.UUID `db:"id"`
	Chain     Chain     `db:"chain"`
	Address   string    `db:"address"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

// StarPackage is a purchasable topup bundle: pay PriceAmount of stablecoin,
// receive Stars plus an optional fixed BonusStars.
type StarPackage struct {
	ID          uuid.UUID       `db:"id"`
	Name        string          `db:"name"`
	PriceAmount decimal.Decimal `db:"price_amount"`
	Stars       int64           `db:"stars"`
	BonusStars  int64           `db:"bonus_stars"`
	Active      bool            `db:"active"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Coupon grants an extra bonus on top of a package, either percent-of-base
// or a fixed amount of stars.
type Coupon struct {
	ID           uuid.UUID  `db:"id"`
	Code         string     `db:"code"`
	PercentBonus *int       `db:"percent_bonus"`
	FixedBonus   *int64     `db:"fixed_bonus"`
	ValidFrom    *time.Time `db:"valid_from"`
	ValidUntil   *time.Time `db:"valid_until"`
	MaxUses      *int       `db:"max_uses"`
	Uses         int        `db:"uses"`
	Active       bool       `db:"active"`
}

// IsValidAt re-checks coupon validity at credit time. Validity is never
// trusted from request time.
func (c *Coupon) IsValidAt(t time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && t.After(*c.ValidUntil) {
		return false
	}
	if c.MaxUses != nil && c.Uses >= *c.MaxUses {
		return false
	}
	return true
}

// BonusFor computes the coupon bonus for a base star amount
func (c *Coupon) BonusFor(baseStars int64) int64 {
	if c.PercentBonus != nil {
		return baseStars * int64(*c.PercentBonus) / 100
	}
	if c.FixedBonus != nil {
		return *c.FixedBonus
	}
	return 0
}

// User carries the cached spendable balance. The balance must always equal
// the ledger delta sum for the user; mutations happen only inside the same
// transaction as the ledger write.
type User struct {
	ID           uuid.UUID  `db:"id"`
	StarBalance  int64      `db:"star_balance"`
	ReferredByID *uuid.UUID `db:"referred_by_id"`
	CreatedAt    time.Time  `db:"created_at"`
}
