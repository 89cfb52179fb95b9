package credit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
)

func TestAssignUser(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	dep := &entities.Deposit{ID: uuid.New(), Status: entities.DepositStatusUnmatched}

	f.deposits.On("GetForUpdate", mock.Anything, dep.ID).Return(dep, nil)
	f.deposits.On("AssignUser", mock.Anything, dep.ID, userID).Return(nil)
	f.deposits.On("AppendEvent", mock.Anything, mock.Anything).Return(nil)

	err := f.svc.AssignUser(context.Background(), dep.ID, userID)

	assert.NoError(t, err)
	f.deposits.AssertExpectations(t)
}

func TestAssignUserRejectsCreditedDeposit(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	dep := &entities.Deposit{ID: uuid.New(), UserID: &owner, Status: entities.DepositStatusCredited}

	f.deposits.On("GetForUpdate", mock.Anything, dep.ID).Return(dep, nil)

	err := f.svc.AssignUser(context.Background(), dep.ID, uuid.New())

	assert.ErrorIs(t, err, domainerrors.ErrConflict)
	f.deposits.AssertNotCalled(t, "AssignUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestForceFailIdempotent(t *testing.T) {
	f := newFixture()
	dep := &entities.Deposit{ID: uuid.New(), Status: entities.DepositStatusFailed}

	f.deposits.On("GetForUpdate", mock.Anything, dep.ID).Return(dep, nil)

	err := f.svc.ForceFail(context.Background(), dep.ID, "dead on chain")

	assert.NoError(t, err)
	f.deposits.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDepositTrailIncludesLedgerRows(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	dep := &entities.Deposit{ID: uuid.New(), UserID: &userID, Status: entities.DepositStatusCredited}
	events := []*entities.DepositEvent{{ID: uuid.New(), DepositID: dep.ID, Type: entities.DepositEventCredited}}
	rows := []*entities.StarTransaction{
		{ID: uuid.New(), UserID: userID, Type: entities.StarTxTopup, Delta: 100, DepositID: &dep.ID},
		{ID: uuid.New(), UserID: userID, Type: entities.StarTxBundleBonus, Delta: 10, DepositID: &dep.ID},
	}

	f.deposits.On("GetByID", mock.Anything, dep.ID).Return(dep, nil)
	f.deposits.On("ListEvents", mock.Anything, dep.ID).Return(events, nil)
	f.ledger.On("ListForDeposit", mock.Anything, dep.ID).Return(rows, nil)

	got, gotEvents, gotLedger, err := f.svc.DepositTrail(context.Background(), dep.ID)

	assert.NoError(t, err)
	assert.Equal(t, dep.ID, got.ID)
	assert.Len(t, gotEvents, 1)
	assert.Len(t, gotLedger, 2)
	assert.Equal(t, entities.StarTxTopup, gotLedger[0].Type)
}

func TestUserHistoryClampsLimit(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.ledger.On("ListForUser", mock.Anything, userID, 50, 0).
		Return([]*entities.StarTransaction{}, nil)

	_, err := f.svc.UserHistory(context.Background(), userID, 0, -3)

	assert.NoError(t, err)
	f.ledger.AssertExpectations(t)
}

func TestReviewQueueValidatesStatus(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ReviewQueue(context.Background(), entities.DepositStatusCredited, 10, 0)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	f.deposits.On("ListByStatus", mock.Anything, entities.DepositStatusNeedsReview, 50, 0).
		Return([]*entities.Deposit{}, nil)

	_, err = f.svc.ReviewQueue(context.Background(), entities.DepositStatusNeedsReview, 0, 0)
	assert.NoError(t, err)
	f.deposits.AssertExpectations(t)
}
