package entities

import (
	"time"

	"github.com/google/uuid"
)

// StarTxType categorizes immutable ledger lines
type StarTxType string

const (
	StarTxTopup         StarTxType = "topup"
	StarTxBundleBonus   StarTxType = "bundle_bonus"
	StarTxCouponBonus   StarTxType = "coupon_bonus"
	StarTxReferralBonus StarTxType = "referral_bonus"
	StarTxRefund        StarTxType = "refund"
	StarTxHold          StarTxType = "hold"
	StarTxHoldRelease   StarTxType = "hold_release"
	StarTxNFTSale       StarTxType = "nft_sale"
	StarTxSpend         StarTxType = "spend"
	StarTxEarn          StarTxType = "earn"
)

// CreditLayerTypes are the layers creditDeposit applies, in order. Each layer
// is individually idempotent on (deposit_id, type).
var CreditLayerTypes = []StarTxType{StarTxTopup, StarTxBundleBonus, StarTxCouponBonus}

// StarTransaction is one append-only ledger line. Every balance mutation
// writes one of these in the same transaction, so the cached balance on the
// user row must always equal the Delta sum, which the reconciliation audit
// verifies.
type StarTransaction struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	Type      StarTxType `db:"type"`
	Delta     int64      `db:"delta"`
	Stars     int64      `db:"stars"`
	DepositID *uuid.UUID `db:"deposit_id"`
	RefType   *string    `db:"ref_type"`
	RefID     *uuid.UUID `db:"ref_id"`
	Note      *string    `db:"note"`
	CreatedAt time.Time  `db:"created_at"`
}
