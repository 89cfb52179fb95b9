package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
)

type auctionStore interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Auction, error)
	MarkSold(ctx context.Context, id, winnerID uuid.UUID, winningBid int64) (bool, error)
	MarkEnded(ctx context.Context, id uuid.UUID) (bool, error)
	InsertBid(ctx context.Context, bid *entities.AuctionBid) error
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]*entities.AuctionBid, error)
}

// AuctionSettler settles auctions against the escrow engine: the winning
// bid's hold is consumed in favor of the seller, every losing hold goes back
// to its bidder.
type AuctionSettler struct {
	auctions auctionStore
	escrow   *Service
}

// NewAuctionSettler creates an auction settler on top of the escrow service
func NewAuctionSettler(auctions auctionStore, escrow *Service) *AuctionSettler {
	return &AuctionSettler{auctions: auctions, escrow: escrow}
}

// delay on a seller's first sale before proceeds become spendable
const firstSalePayoutDelay = 7 * 24 * time.Hour

// PlaceBid escrows the bid amount and records the bid
func (a *AuctionSettler) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, stars int64) (*entities.AuctionBid, error) {
	refType := "auction"
	hold, err := a.escrow.CreateHold(ctx, bidderID, stars, entities.HoldReasonAuctionBid, &refType, &auctionID, nil)
	if err != nil {
		return nil, err
	}

	bid := &entities.AuctionBid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Stars:     stars,
		HoldID:    hold.ID,
		CreatedAt: time.Now(),
	}
	if err := a.auctions.InsertBid(ctx, bid); err != nil {
		// Bid row failed after the hold committed; give the stars back.
		if relErr := a.escrow.ReleaseHoldNow(ctx, hold.ID, nil); relErr != nil {
			a.escrow.logger.Error("orphaned bid hold", "error", relErr, "hold_id", hold.ID)
		}
		return nil, err
	}

	return bid, nil
}

// Settle closes an auction exactly once. Concurrent settle calls race on the
// conditional status update; the losers observe an already-closed auction and
// return without touching any hold.
func (a *AuctionSettler) Settle(ctx context.Context, auctionID uuid.UUID) error {
	return a.escrow.runner.RunInTx(ctx, func(ctx context.Context) error {
		auction, err := a.auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status != entities.AuctionStatusActive {
			a.escrow.logger.Info("auction already settled", "auction_id", auctionID)
			return nil
		}

		bids, err := a.auctions.ListBids(ctx, auctionID)
		if err != nil {
			return err
		}

		winner := pickWinner(bids, auction.ReserveStars)
		if winner == nil {
			return a.endUnsold(ctx, auction, bids)
		}

		won, err := a.auctions.MarkSold(ctx, auctionID, winner.BidderID, winner.Stars)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		winningHold, err := a.escrow.holds.GetByID(ctx, winner.HoldID)
		if err != nil {
			return err
		}
		if err := a.paySeller(ctx, auction, winningHold); err != nil {
			return err
		}

		for _, bid := range bids {
			if bid.ID == winner.ID {
				continue
			}
			hold, err := a.escrow.holds.GetByID(ctx, bid.HoldID)
			if err != nil {
				return err
			}
			if err := a.escrow.releaseLocked(ctx, hold, nil); err != nil {
				return err
			}
		}

		return a.escrow.enqueue(ctx, entities.OutboxAuctionSettled, &auction.SellerID, map[string]interface{}{
			"auction_id":  auctionID,
			"winner_id":   winner.BidderID,
			"winning_bid": winner.Stars,
		})
	})
}

// paySeller settles the winning hold in favor of the seller. On a delayed
// payout the proceeds land and are immediately re-held with a maturity date,
// so the ledger shows the sale but the stars are not yet spendable.
func (a *AuctionSettler) paySeller(ctx context.Context, auction *entities.Auction, winningHold *entities.StarHold) error {
	note := fmt.Sprintf("auction %s", auction.ItemRef)
	if err := a.escrow.settleLocked(ctx, winningHold, auction.SellerID, entities.StarTxNFTSale, &note); err != nil {
		return err
	}

	if !auction.PayoutDelayed && !auction.FirstSale {
		return nil
	}

	releaseAt := time.Now().Add(firstSalePayoutDelay)
	refType := "auction"
	hold := &entities.StarHold{
		ID:          uuid.New(),
		UserID:      auction.SellerID,
		AmountStars: winningHold.AmountStars,
		Status:      entities.HoldStatusHeld,
		Reason:      entities.HoldReasonSaleProceeds,
		RefType:     &refType,
		RefID:       &auction.ID,
		ReleaseAt:   &releaseAt,
		CreatedAt:   time.Now(),
	}
	if err := a.escrow.users.AdjustBalance(ctx, auction.SellerID, -hold.AmountStars); err != nil {
		return fmt.Errorf("hold sale proceeds: %w", err)
	}
	if err := a.escrow.holds.Insert(ctx, hold); err != nil {
		return err
	}
	return a.escrow.writeHoldRow(ctx, hold, entities.StarTxHold, -hold.AmountStars)
}

func (a *AuctionSettler) endUnsold(ctx context.Context, auction *entities.Auction, bids []*entities.AuctionBid) error {
	won, err := a.auctions.MarkEnded(ctx, auction.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	for _, bid := range bids {
		hold, err := a.escrow.holds.GetByID(ctx, bid.HoldID)
		if err != nil {
			return err
		}
		if err := a.escrow.releaseLocked(ctx, hold, nil); err != nil {
			return err
		}
	}
	return nil
}

// pickWinner returns the highest bid meeting the reserve. Bids arrive sorted
// highest first.
func pickWinner(bids []*entities.AuctionBid, reserve int64) *entities.AuctionBid {
	if len(bids) == 0 {
		return nil
	}
	if bids[0].Stars < reserve {
		return nil
	}
	return bids[0]
}
