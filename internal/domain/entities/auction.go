package entities

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus represents the state of a marketplace auction
type AuctionStatus string

const (
	AuctionStatusActive AuctionStatus = "active"
	AuctionStatusSold   AuctionStatus = "sold"
	AuctionStatusEnded  AuctionStatus = "ended"
)

// Auction is the settlement surface for held bidder funds. The winning bid's
// hold is settled (consumed), every losing bid's hold is released. Exactly
// one settle call wins the conditional status update; concurrent callers
// observe zero affected rows and no-op.
type Auction struct {
	ID            uuid.UUID     `db:"id"`
	SellerID      uuid.UUID     `db:"seller_id"`
	ItemRef       string        `db:"item_ref"`
	ReserveStars  int64         `db:"reserve_stars"`
	WinnerID      *uuid.UUID    `db:"winner_id"`
	WinningBid    *int64        `db:"winning_bid"`
	Status        AuctionStatus `db:"status"`
	EndsAt        time.Time     `db:"ends_at"`
	CreatedAt     time.Time     `db:"created_at"`
	SettledAt     *time.Time    `db:"settled_at"`
	FirstSale     bool          `db:"first_sale"`
	PayoutDelayed bool          `db:"payout_delayed"`
}

// AuctionBid tracks one bid and the hold escrowing its stars
type AuctionBid struct {
	ID        uuid.UUID `db:"id"`
	AuctionID uuid.UUID `db:"auction_id"`
	BidderID  uuid.UUID `db:"bidder_id"`
	Stars     int64     `db:"stars"`
	HoldID    uuid.UUID `db:"hold_id"`
	CreatedAt time.Time `db:"created_at"`
}
