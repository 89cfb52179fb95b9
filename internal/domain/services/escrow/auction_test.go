package escrow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/stars-service/stars_service/internal/domain/entities"
)

type mockAuctionStore struct {
	mock.Mock
}

func (m *mockAuctionStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Auction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Auction), args.Error(1)
}

func (m *mockAuctionStore) MarkSold(ctx context.Context, id, winnerID uuid.UUID, winningBid int64) (bool, error) {
	args := m.Called(ctx, id, winnerID, winningBid)
	return args.Bool(0), args.Error(1)
}

func (m *mockAuctionStore) MarkEnded(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockAuctionStore) InsertBid(ctx context.Context, bid *entities.AuctionBid) error {
	return m.Called(ctx, bid).Error(0)
}

func (m *mockAuctionStore) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*entities.AuctionBid, error) {
	args := m.Called(ctx, auctionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.AuctionBid), args.Error(1)
}

func TestPickWinner(t *testing.T) {
	high := &entities.AuctionBid{ID: uuid.New(), Stars: 300}
	low := &entities.AuctionBid{ID: uuid.New(), Stars: 100}

	assert.Nil(t, pickWinner(nil, 50))
	assert.Nil(t, pickWinner([]*entities.AuctionBid{low}, 200))
	assert.Equal(t, high, pickWinner([]*entities.AuctionBid{high, low}, 200))
}

func TestSettlePaysWinnerHoldToSeller(t *testing.T) {
	f := newFixture()
	auctions := new(mockAuctionStore)
	settler := NewAuctionSettler(auctions, f.svc)

	sellerID := uuid.New()
	winnerID := uuid.New()
	loserID := uuid.New()
	auction := &entities.Auction{
		ID:           uuid.New(),
		SellerID:     sellerID,
		ItemRef:      "nft-42",
		ReserveStars: 100,
		Status:       entities.AuctionStatusActive,
	}
	winningBid := &entities.AuctionBid{ID: uuid.New(), AuctionID: auction.ID, BidderID: winnerID, Stars: 300, HoldID: uuid.New()}
	losingBid := &entities.AuctionBid{ID: uuid.New(), AuctionID: auction.ID, BidderID: loserID, Stars: 150, HoldID: uuid.New()}

	winningHold := &entities.StarHold{ID: winningBid.HoldID, UserID: winnerID, AmountStars: 300, Status: entities.HoldStatusHeld}
	losingHold := &entities.StarHold{ID: losingBid.HoldID, UserID: loserID, AmountStars: 150, Status: entities.HoldStatusHeld}

	auctions.On("GetForUpdate", mock.Anything, auction.ID).Return(auction, nil)
	auctions.On("ListBids", mock.Anything, auction.ID).Return([]*entities.AuctionBid{winningBid, losingBid}, nil)
	auctions.On("MarkSold", mock.Anything, auction.ID, winnerID, int64(300)).Return(true, nil)
	f.holds.On("GetByID", mock.Anything, winningBid.HoldID).Return(winningHold, nil)
	f.holds.On("GetByID", mock.Anything, losingBid.HoldID).Return(losingHold, nil)
	f.holds.On("CloseIfHeld", mock.Anything, winningBid.HoldID, entities.HoldStatusSettled).Return(true, nil)
	f.holds.On("CloseIfHeld", mock.Anything, losingBid.HoldID, entities.HoldStatusReleased).Return(true, nil)
	f.ledger.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.users.On("AdjustBalance", mock.Anything, sellerID, int64(300)).Return(nil)
	f.users.On("AdjustBalance", mock.Anything, loserID, int64(150)).Return(nil)
	f.outbox.On("Insert", mock.Anything, mock.Anything).Return(nil)

	err := settler.Settle(context.Background(), auction.ID)

	assert.NoError(t, err)
	f.users.AssertExpectations(t)
	f.users.AssertNotCalled(t, "AdjustBalance", mock.Anything, winnerID, mock.Anything)
}

func TestSettleDelayedPayoutReholdsProceeds(t *testing.T) {
	f := newFixture()
	auctions := new(mockAuctionStore)
	settler := NewAuctionSettler(auctions, f.svc)

	sellerID := uuid.New()
	winnerID := uuid.New()
	auction := &entities.Auction{
		ID:           uuid.New(),
		SellerID:     sellerID,
		ItemRef:      "nft-1",
		ReserveStars: 100,
		Status:       entities.AuctionStatusActive,
		FirstSale:    true,
	}
	winningBid := &entities.AuctionBid{ID: uuid.New(), AuctionID: auction.ID, BidderID: winnerID, Stars: 300, HoldID: uuid.New()}
	winningHold := &entities.StarHold{ID: winningBid.HoldID, UserID: winnerID, AmountStars: 300, Status: entities.HoldStatusHeld}

	auctions.On("GetForUpdate", mock.Anything, auction.ID).Return(auction, nil)
	auctions.On("ListBids", mock.Anything, auction.ID).Return([]*entities.AuctionBid{winningBid}, nil)
	auctions.On("MarkSold", mock.Anything, auction.ID, winnerID, int64(300)).Return(true, nil)
	f.holds.On("GetByID", mock.Anything, winningBid.HoldID).Return(winningHold, nil)
	f.holds.On("CloseIfHeld", mock.Anything, winningBid.HoldID, entities.HoldStatusSettled).Return(true, nil)
	f.ledger.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.users.On("AdjustBalance", mock.Anything, sellerID, int64(300)).Return(nil)
	f.users.On("AdjustBalance", mock.Anything, sellerID, int64(-300)).Return(nil)

	var reheld *entities.StarHold
	f.holds.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		reheld = args.Get(1).(*entities.StarHold)
	}).Return(nil)
	f.outbox.On("Insert", mock.Anything, mock.Anything).Return(nil)

	err := settler.Settle(context.Background(), auction.ID)

	assert.NoError(t, err)
	assert.NotNil(t, reheld)
	assert.Equal(t, sellerID, reheld.UserID)
	assert.Equal(t, int64(300), reheld.AmountStars)
	assert.Equal(t, entities.HoldReasonSaleProceeds, reheld.Reason)
	assert.NotNil(t, reheld.ReleaseAt)
}

func TestSettleUnsoldReleasesAllBids(t *testing.T) {
	f := newFixture()
	auctions := new(mockAuctionStore)
	settler := NewAuctionSettler(auctions, f.svc)

	bidderID := uuid.New()
	auction := &entities.Auction{
		ID:           uuid.New(),
		SellerID:     uuid.New(),
		ReserveStars: 500,
		Status:       entities.AuctionStatusActive,
	}
	bid := &entities.AuctionBid{ID: uuid.New(), AuctionID: auction.ID, BidderID: bidderID, Stars: 300, HoldID: uuid.New()}
	hold := &entities.StarHold{ID: bid.HoldID, UserID: bidderID, AmountStars: 300, Status: entities.HoldStatusHeld}

	auctions.On("GetForUpdate", mock.Anything, auction.ID).Return(auction, nil)
	auctions.On("ListBids", mock.Anything, auction.ID).Return([]*entities.AuctionBid{bid}, nil)
	auctions.On("MarkEnded", mock.Anything, auction.ID).Return(true, nil)
	f.holds.On("GetByID", mock.Anything, bid.HoldID).Return(hold, nil)
	f.holds.On("CloseIfHeld", mock.Anything, bid.HoldID, entities.HoldStatusReleased).Return(true, nil)
	f.users.On("AdjustBalance", mock.Anything, bidderID, int64(300)).Return(nil)
	f.ledger.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.outbox.On("Insert", mock.Anything, mock.Anything).Return(nil)

	err := settler.Settle(context.Background(), auction.ID)

	assert.NoError(t, err)
	auctions.AssertNotCalled(t, "MarkSold", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.users.AssertExpectations(t)
}

func TestSettleClosedAuctionIsNoOp(t *testing.T) {
	f := newFixture()
	auctions := new(mockAuctionStore)
	settler := NewAuctionSettler(auctions, f.svc)

	auction := &entities.Auction{ID: uuid.New(), Status: entities.AuctionStatusSold}
	auctions.On("GetForUpdate", mock.Anything, auction.ID).Return(auction, nil)

	err := settler.Settle(context.Background(), auction.ID)

	assert.NoError(t, err)
	auctions.AssertNotCalled(t, "ListBids", mock.Anything, mock.Anything)
}
