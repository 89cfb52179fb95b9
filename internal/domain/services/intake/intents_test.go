package intake

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
)

func TestCreateDepositIntent(t *testing.T) {
	deposits := new(mockDepositStore)
	catalog := new(mockCatalogStore)
	svc := newTestService(deposits, new(mockAuditStore), catalog, new(mockCrediter))

	userID := uuid.New()
	tokenID := uuid.New()
	packageID := uuid.New()
	addrID := uuid.New()

	catalog.On("GetToken", mock.Anything, tokenID).
		Return(&entities.Token{ID: tokenID, Chain: entities.ChainPolygon, Symbol: "USDC", Active: true}, nil)
	catalog.On("GetPackage", mock.Anything, packageID).
		Return(&entities.StarPackage{ID: packageID, Name: "starter", PriceAmount: decimal.RequireFromString("9.99"), Stars: 100, Active: true}, nil)
	catalog.On("PickCustodialAddress", mock.Anything, entities.ChainPolygon).
		Return(&entities.CustodialAddress{ID: addrID, Address: "0xcustody", Active: true}, nil)

	var created *entities.Deposit
	deposits.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*entities.Deposit)
	}).Return(nil)
	deposits.On("AppendEvent", mock.Anything, mock.Anything).Return(nil)

	intent, err := svc.CreateDeposit(context.Background(), userID, tokenID, packageID, nil)

	assert.NoError(t, err)
	assert.Equal(t, "0xcustody", intent.Address)
	assert.Equal(t, created.ID.String(), intent.Memo)
	assert.Equal(t, entities.DepositStatusCreated, created.Status)
	assert.Equal(t, "9.99", created.ExpectedAmount.String())
	assert.Equal(t, userID, *created.UserID)
}

func TestCreateDepositRejectsInactiveToken(t *testing.T) {
	deposits := new(mockDepositStore)
	catalog := new(mockCatalogStore)
	svc := newTestService(deposits, new(mockAuditStore), catalog, new(mockCrediter))

	tokenID := uuid.New()
	catalog.On("GetToken", mock.Anything, tokenID).
		Return(&entities.Token{ID: tokenID, Symbol: "OLD", Active: false}, nil)

	_, err := svc.CreateDeposit(context.Background(), uuid.New(), tokenID, uuid.New(), nil)

	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
	deposits.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateDepositRejectsInvalidCoupon(t *testing.T) {
	deposits := new(mockDepositStore)
	catalog := new(mockCatalogStore)
	svc := newTestService(deposits, new(mockAuditStore), catalog, new(mockCrediter))

	tokenID := uuid.New()
	packageID := uuid.New()
	code := "EXPIRED"
	past := time.Now().Add(-time.Hour)

	catalog.On("GetToken", mock.Anything, tokenID).
		Return(&entities.Token{ID: tokenID, Chain: entities.ChainPolygon, Active: true}, nil)
	catalog.On("GetPackage", mock.Anything, packageID).
		Return(&entities.StarPackage{ID: packageID, PriceAmount: decimal.RequireFromString("9.99"), Active: true}, nil)
	catalog.On("GetCouponByCode", mock.Anything, code).
		Return(&entities.Coupon{ID: uuid.New(), Code: code, Active: true, ValidUntil: &past}, nil)

	_, err := svc.CreateDeposit(context.Background(), uuid.New(), tokenID, packageID, &code)

	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
	deposits.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestMarkSubmittedStampsTxHash(t *testing.T) {
	deposits := new(mockDepositStore)
	svc := newTestService(deposits, new(mockAuditStore), new(mockCatalogStore), new(mockCrediter))

	depositID := uuid.New()
	txHash := "0xabc"

	deposits.On("Transition", mock.Anything, depositID, entities.DepositStatusCreated, entities.DepositStatusSubmitted, (*string)(nil)).Return(nil)
	deposits.On("StampTxHash", mock.Anything, depositID, txHash).Return(nil)
	deposits.On("AppendEvent", mock.Anything, mock.Anything).Return(nil)

	err := svc.MarkSubmitted(context.Background(), depositID, &txHash)

	assert.NoError(t, err)
	deposits.AssertExpectations(t)
}
