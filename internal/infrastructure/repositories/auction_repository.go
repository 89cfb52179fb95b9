package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

const auctionColumns = `id, seller_id, item_ref, reserve_stars, winner_id, winning_bid, status, first_sale, payout_delayed, ends_at, created_at, settled_at`

// AuctionRepository handles auction and bid rows for escrow settlement
type AuctionRepository struct {
	db *sqlx.DB
}

// NewAuctionRepository creates a new auction repository
func NewAuctionRepository(db *sqlx.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

// Create inserts a new auction
func (r *AuctionRepository) Create(ctx context.Context, auction *entities.Auction) error {
	query := `
		INSERT INTO auctions (id, seller_id, item_ref, reserve_stars, status, first_sale, payout_delayed, ends_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.ItemRef, auction.ReserveStars,
		auction.Status, auction.FirstSale, auction.PayoutDelayed, auction.EndsAt, auction.CreatedAt)
	if err != nil {
		return fmt.Errorf("create auction: %w", err)
	}

	return nil
}

// GetByID retrieves an auction
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	var auction entities.Auction
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &auction, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auction %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get auction: %w", err)
	}

	return &auction, nil
}

// GetForUpdate retrieves an auction with a row lock for settlement
func (r *AuctionRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1 FOR UPDATE`

	var auction entities.Auction
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &auction, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auction %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get auction for update: %w", err)
	}

	return &auction, nil
}

// MarkSold settles an active auction with the winning bid. The status guard
// makes the settlement single-shot: a racing second settle sees zero rows.
func (r *AuctionRepository) MarkSold(ctx context.Context, id, winnerID uuid.UUID, winningBid int64) (bool, error) {
	query := `
		UPDATE auctions
		SET status = $2, winner_id = $3, winning_bid = $4, settled_at = $5
		WHERE id = $1 AND status = $6
	`

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, id, entities.AuctionStatusSold, winnerID, winningBid, time.Now(), entities.AuctionStatusActive)
	if err != nil {
		return false, fmt.Errorf("mark auction sold: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}

// MarkEnded closes an active auction without a sale
func (r *AuctionRepository) MarkEnded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE auctions
		SET status = $2, settled_at = $3
		WHERE id = $1 AND status = $4
	`

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, id, entities.AuctionStatusEnded, time.Now(), entities.AuctionStatusActive)
	if err != nil {
		return false, fmt.Errorf("mark auction ended: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}

// InsertBid records a bid backed by an escrow hold
func (r *AuctionRepository) InsertBid(ctx context.Context, bid *entities.AuctionBid) error {
	query := `
		INSERT INTO auction_bids (id, auction_id, bidder_id, stars, hold_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Stars, bid.HoldID, bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}

	return nil
}

// ListBids retrieves an auction's bids, highest first
func (r *AuctionRepository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*entities.AuctionBid, error) {
	query := `
		SELECT id, auction_id, bidder_id, stars, hold_id, created_at
		FROM auction_bids
		WHERE auction_id = $1
		ORDER BY stars DESC, created_at
	`

	var bids []*entities.AuctionBid
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &bids, query, auctionID); err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}

	return bids, nil
}
