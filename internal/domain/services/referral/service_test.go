package referral

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/pkg/logger"
)

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *mockUserStore) AdjustBalance(ctx context.Context, id uuid.UUID, delta int64) error {
	return m.Called(ctx, id, delta).Error(0)
}

type mockLedgerStore struct {
	mock.Mock
}

func (m *mockLedgerStore) Insert(ctx context.Context, tx *entities.StarTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

type mockBonusStore struct {
	mock.Mock
}

func (m *mockBonusStore) Insert(ctx context.Context, bonus *entities.ReferralBonus) error {
	return m.Called(ctx, bonus).Error(0)
}

func enabledConfig() entities.ReferralConfig {
	return entities.ReferralConfig{Enabled: true, Percent: 5, ApplyOnTopup: true, ApplyOnEarn: true}
}

func TestApplyPaysReferrer(t *testing.T) {
	users := new(mockUserStore)
	ledger := new(mockLedgerStore)
	bonuses := new(mockBonusStore)
	svc := NewService(users, ledger, bonuses, enabledConfig(), logger.NewNop())

	referrerID := uuid.New()
	userID := uuid.New()
	sourceID := uuid.New()

	users.On("GetByID", mock.Anything, userID).
		Return(&entities.User{ID: userID, ReferredByID: &referrerID}, nil)

	var bonus *entities.ReferralBonus
	bonuses.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		bonus = args.Get(1).(*entities.ReferralBonus)
	}).Return(nil)

	var entry *entities.StarTransaction
	ledger.On("Insert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		entry = args.Get(1).(*entities.StarTransaction)
	}).Return(nil)
	users.On("AdjustBalance", mock.Anything, referrerID, int64(5)).Return(nil)

	err := svc.Apply(context.Background(), entities.ReferralSourceTopup, sourceID, userID, 100, nil)

	assert.NoError(t, err)
	assert.Equal(t, referrerID, bonus.ReferrerID)
	assert.Equal(t, int64(5), bonus.BonusStars)
	assert.Equal(t, sourceID, bonus.SourceID)
	assert.Equal(t, referrerID, entry.UserID)
	assert.Equal(t, entities.StarTxReferralBonus, entry.Type)
	assert.Equal(t, int64(5), entry.Delta)
	users.AssertExpectations(t)
}

func TestApplySkipsUserWithoutReferrer(t *testing.T) {
	users := new(mockUserStore)
	ledger := new(mockLedgerStore)
	bonuses := new(mockBonusStore)
	svc := NewService(users, ledger, bonuses, enabledConfig(), logger.NewNop())

	userID := uuid.New()
	users.On("GetByID", mock.Anything, userID).Return(&entities.User{ID: userID}, nil)

	err := svc.Apply(context.Background(), entities.ReferralSourceTopup, uuid.New(), userID, 100, nil)

	assert.NoError(t, err)
	bonuses.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplySkipsDisabledKind(t *testing.T) {
	cfg := entities.ReferralConfig{Enabled: true, Percent: 5, ApplyOnTopup: false, ApplyOnEarn: true}
	users := new(mockUserStore)
	svc := NewService(users, new(mockLedgerStore), new(mockBonusStore), cfg, logger.NewNop())

	err := svc.Apply(context.Background(), entities.ReferralSourceTopup, uuid.New(), uuid.New(), 100, nil)

	assert.NoError(t, err)
	users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestApplyDeduplicatesRetriedSource(t *testing.T) {
	users := new(mockUserStore)
	ledger := new(mockLedgerStore)
	bonuses := new(mockBonusStore)
	svc := NewService(users, ledger, bonuses, enabledConfig(), logger.NewNop())

	referrerID := uuid.New()
	userID := uuid.New()

	users.On("GetByID", mock.Anything, userID).
		Return(&entities.User{ID: userID, ReferredByID: &referrerID}, nil)
	bonuses.On("Insert", mock.Anything, mock.Anything).Return(domainerrors.ErrAlreadyExists)

	err := svc.Apply(context.Background(), entities.ReferralSourceTopup, uuid.New(), userID, 100, nil)

	assert.NoError(t, err)
	ledger.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplySkipsZeroBonus(t *testing.T) {
	users := new(mockUserStore)
	bonuses := new(mockBonusStore)
	svc := NewService(users, new(mockLedgerStore), bonuses, enabledConfig(), logger.NewNop())

	referrerID := uuid.New()
	userID := uuid.New()
	users.On("GetByID", mock.Anything, userID).
		Return(&entities.User{ID: userID, ReferredByID: &referrerID}, nil)

	// 5% of 19 floors to 0
	err := svc.Apply(context.Background(), entities.ReferralSourceTopup, uuid.New(), userID, 19, nil)

	assert.NoError(t, err)
	bonuses.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}
