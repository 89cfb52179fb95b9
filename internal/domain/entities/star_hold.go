package entities

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus represents the state of an escrowed amount
type HoldStatus string

const (
	// HoldStatusHeld means the stars are locked out of the spendable balance
	HoldStatusHeld HoldStatus = "held"
	// HoldStatusReleased means the stars were returned to the holder
	HoldStatusReleased HoldStatus = "released"
	// HoldStatusSettled means the stars were consumed by the counterparty
	// and are never returned to the holder
	HoldStatusSettled HoldStatus = "settled"
)

// HoldReason documents why funds were escrowed
type HoldReason string

const (
	HoldReasonAuctionBid     HoldReason = "auction_bid"
	HoldReasonSaleProceeds   HoldReason = "sale_proceeds"
	HoldReasonDepositDispute HoldReason = "deposit_dispute"
)

// StarHold is an escrowed amount outside the spendable balance.
// Creating a hold decrements the user's balance; releasing increments it;
// settling does not. A nil ReleaseAt means the hold only releases through an
// explicit call.
type StarHold struct {
	ID          uuid.UUID  `db:"id"`
	UserID      uuid.UUID  `db:"user_id"`
	AmountStars int64      `db:"amount_stars"`
	Status      HoldStatus `db:"status"`
	Reason      HoldReason `db:"reason"`
	RefType     *string    `db:"ref_type"`
	RefID       *uuid.UUID `db:"ref_id"`
	ReleaseAt   *time.Time `db:"release_at"`
	CreatedAt   time.Time  `db:"created_at"`
	ClosedAt    *time.Time `db:"closed_at"`
}
