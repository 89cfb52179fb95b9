package entities

import (
	"time"

	"github.com/google/uuid"
)

// ReferralSourceKind identifies the flow that triggered a referral payout
type ReferralSourceKind string

const (
	ReferralSourceTopup ReferralSourceKind = "topup"
	ReferralSourceEarn  ReferralSourceKind = "earn"
)

// ReferralBonus is one audit row per payout. (source_kind, source_id) is
// unique so a retried credit flow pays the referrer at most once.
type ReferralBonus struct {
	ID             uuid.UUID          `db:"id"`
	ReferrerID     uuid.UUID          `db:"referrer_id"`
	ReferredUserID uuid.UUID          `db:"referred_user_id"`
	Percent        int                `db:"percent"`
	BaseStars      int64              `db:"base_stars"`
	BonusStars     int64              `db:"bonus_stars"`
	SourceKind     ReferralSourceKind `db:"source_kind"`
	SourceID       uuid.UUID          `db:"source_id"`
	CreatedAt      time.Time          `db:"created_at"`
}

// ReferralConfig is the global referral policy, loaded per operation and
// passed in as a value rather than read from a shared mutable global.
type ReferralConfig struct {
	Enabled      bool
	Percent      int
	ApplyOnTopup bool
	ApplyOnEarn  bool
}

// BonusFor computes floor(base * percent / 100)
func (c ReferralConfig) BonusFor(baseStars int64) int64 {
	if c.Percent < 1 || c.Percent > 20 {
		return 0
	}
	return baseStars * int64(c.Percent) / 100
}

// AppliesTo reports whether the config enables payouts for the source kind
func (c ReferralConfig) AppliesTo(kind ReferralSourceKind) bool {
	if !c.Enabled {
		return false
	}
	switch kind {
	case ReferralSourceTopup:
		return c.ApplyOnTopup
	case ReferralSourceEarn:
		return c.ApplyOnEarn
	}
	return false
}
