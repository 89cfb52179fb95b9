package intake

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/pkg/logger"
)

type fakeRunner struct{}

func (fakeRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type mockDepositStore struct {
	mock.Mock
}

func (m *mockDepositStore) Create(ctx context.Context, deposit *entities.Deposit) error {
	return m.Called(ctx, deposit).Error(0)
}

func (m *mockDepositStore) GetByTxHash(ctx context.Context, chain entities.Chain, tokenID uuid.UUID, txHash string) (*entities.Deposit, error) {
	args := m.Called(ctx, chain, tokenID, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Deposit), args.Error(1)
}

func (m *mockDepositStore) GetByMemo(ctx context.Context, chain entities.Chain, tokenID uuid.UUID, memo string) (*entities.Deposit, error) {
	args := m.Called(ctx, chain, tokenID, memo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Deposit), args.Error(1)
}

func (m *mockDepositStore) GetLatestOpenByAddress(ctx context.Context, custodialAddressID uuid.UUID) (*entities.Deposit, error) {
	args := m.Called(ctx, custodialAddressID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Deposit), args.Error(1)
}

func (m *mockDepositStore) RecordObservation(ctx context.Context, id uuid.UUID, txHash string, amount decimal.Decimal, memo *string) error {
	return m.Called(ctx, id, txHash, amount, memo).Error(0)
}

func (m *mockDepositStore) StampTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	return m.Called(ctx, id, txHash).Error(0)
}

func (m *mockDepositStore) Transition(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error {
	return m.Called(ctx, id, from, to, reason).Error(0)
}

func (m *mockDepositStore) AppendEvent(ctx context.Context, event *entities.DepositEvent) error {
	return m.Called(ctx, event).Error(0)
}

type mockAuditStore struct {
	mock.Mock
}

func (m *mockAuditStore) Record(ctx context.Context, provider string, chain entities.Chain, payload []byte) (*entities.WebhookAuditEntry, bool, error) {
	args := m.Called(ctx, provider, chain, payload)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*entities.WebhookAuditEntry), args.Bool(1), args.Error(2)
}

func (m *mockAuditStore) MarkProcessed(ctx context.Context, id uuid.UUID, status entities.WebhookAuditStatus, depositID *uuid.UUID) error {
	return m.Called(ctx, id, status, depositID).Error(0)
}

type mockCatalogStore struct {
	mock.Mock
}

func (m *mockCatalogStore) GetCustodialAddress(ctx context.Context, chain entities.Chain, address string) (*entities.CustodialAddress, error) {
	args := m.Called(ctx, chain, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CustodialAddress), args.Error(1)
}

func (m *mockCatalogStore) GetTokenByContract(ctx context.Context, chain entities.Chain, contract string) (*entities.Token, error) {
	args := m.Called(ctx, chain, contract)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Token), args.Error(1)
}

func (m *mockCatalogStore) GetTokenBySymbol(ctx context.Context, chain entities.Chain, symbol string) (*entities.Token, error) {
	args := m.Called(ctx, chain, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Token), args.Error(1)
}

func (m *mockCatalogStore) GetToken(ctx context.Context, id uuid.UUID) (*entities.Token, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Token), args.Error(1)
}

func (m *mockCatalogStore) GetPackage(ctx context.Context, id uuid.UUID) (*entities.StarPackage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.StarPackage), args.Error(1)
}

func (m *mockCatalogStore) GetCouponByCode(ctx context.Context, code string) (*entities.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Coupon), args.Error(1)
}

func (m *mockCatalogStore) PickCustodialAddress(ctx context.Context, chain entities.Chain) (*entities.CustodialAddress, error) {
	args := m.Called(ctx, chain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CustodialAddress), args.Error(1)
}

type mockCrediter struct {
	mock.Mock
}

func (m *mockCrediter) CreditDeposit(ctx context.Context, depositID uuid.UUID) error {
	return m.Called(ctx, depositID).Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		Payment: config.PaymentConfig{ToleranceBps: 50},
	}
}

func newTestService(deposits *mockDepositStore, audits *mockAuditStore, catalog *mockCatalogStore, crediter *mockCrediter) *Service {
	return NewService(deposits, audits, catalog, crediter, fakeRunner{}, testConfig(), logger.NewNop())
}

func TestProcessWebhookDuplicateIsNoOp(t *testing.T) {
	deposits := new(mockDepositStore)
	audits := new(mockAuditStore)
	catalog := new(mockCatalogStore)
	crediter := new(mockCrediter)
	svc := newTestService(deposits, audits, catalog, crediter)

	payload := []byte(`{"tx_hash":"0xabc","to_address":"0xdead","amount":"100"}`)
	entry := &entities.WebhookAuditEntry{ID: uuid.New(), Status: entities.WebhookAuditProcessed}
	audits.On("Record", mock.Anything, "alchemy", entities.ChainEthereum, payload).Return(entry, false, nil)

	err := svc.ProcessWebhook(context.Background(), "alchemy", entities.ChainEthereum, payload)

	assert.NoError(t, err)
	audits.AssertExpectations(t)
	deposits.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	crediter.AssertNotCalled(t, "CreditDeposit", mock.Anything, mock.Anything)
}

func TestProcessWebhookInvalidPayload(t *testing.T) {
	deposits := new(mockDepositStore)
	audits := new(mockAuditStore)
	catalog := new(mockCatalogStore)
	crediter := new(mockCrediter)
	svc := newTestService(deposits, audits, catalog, crediter)

	payload := []byte(`{"to_address":"0xdead","amount":"100"}`)
	entry := &entities.WebhookAuditEntry{ID: uuid.New(), Status: entities.WebhookAuditReceived}
	audits.On("Record", mock.Anything, "alchemy", entities.ChainEthereum, payload).Return(entry, true, nil)
	audits.On("MarkProcessed", mock.Anything, entry.ID, entities.WebhookAuditFailed, (*uuid.UUID)(nil)).Return(nil)

	err := svc.ProcessWebhook(context.Background(), "alchemy", entities.ChainEthereum, payload)

	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
	audits.AssertExpectations(t)
}

func TestProcessWebhookUnknownAddressIgnored(t *testing.T) {
	deposits := new(mockDepositStore)
	audits := new(mockAuditStore)
	catalog := new(mockCatalogStore)
	crediter := new(mockCrediter)
	svc := newTestService(deposits, audits, catalog, crediter)

	payload := []byte(`{"tx_hash":"0xabc","to_address":"0xstranger","amount":"100","asset_symbol":"USDC"}`)
	entry := &entities.WebhookAuditEntry{ID: uuid.New(), Status: entities.WebhookAuditReceived}
	audits.On("Record", mock.Anything, "alchemy", entities.ChainEthereum, payload).Return(entry, true, nil)
	catalog.On("GetCustodialAddress", mock.Anything, entities.ChainEthereum, "0xstranger").Return(nil, domainerrors.ErrNotFound)
	audits.On("MarkProcessed", mock.Anything, entry.ID, entities.WebhookAuditProcessed, (*uuid.UUID)(nil)).Return(nil)

	err := svc.ProcessWebhook(context.Background(), "alchemy", entities.ChainEthereum, payload)

	assert.NoError(t, err)
	deposits.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	crediter.AssertNotCalled(t, "CreditDeposit", mock.Anything, mock.Anything)
}

func TestProcessWebhookConfirmsAndCredits(t *testing.T) {
	deposits := new(mockDepositStore)
	audits := new(mockAuditStore)
	catalog := new(mockCatalogStore)
	crediter := new(mockCrediter)
	svc := newTestService(deposits, audits, catalog, crediter)

	tokenID := uuid.New()
	addrID := uuid.New()
	userID := uuid.New()
	dep := &entities.Deposit{
		ID:             uuid.New(),
		UserID:         &userID,
		Chain:          entities.ChainEthereum,
		TokenID:        tokenID,
		Status:         entities.DepositStatusSubmitted,
		ExpectedAmount: decimal.RequireFromString("100"),
	}

	payload := []byte(`{"tx_hash":"0xabc","to_address":"0xcustody","amount":"100.2","asset_symbol":"USDC"}`)
	entry := &entities.WebhookAuditEntry{ID: uuid.New(), Status: entities.WebhookAuditReceived}

	audits.On("Record", mock.Anything, "alchemy", entities.ChainEthereum, payload).Return(entry, true, nil)
	catalog.On("GetCustodialAddress", mock.Anything, entities.ChainEthereum, "0xcustody").
		Return(&entities.CustodialAddress{ID: addrID, Chain: entities.ChainEthereum}, nil)
	catalog.On("GetTokenBySymbol", mock.Anything, entities.ChainEthereum, "USDC").
		Return(&entities.Token{ID: tokenID, Chain: entities.ChainEthereum, Symbol: "USDC"}, nil)
	deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(dep, nil)
	deposits.On("RecordObservation", mock.Anything, dep.ID, "0xabc", mock.Anything, mock.Anything).Return(nil)
	deposits.On("AppendEvent", mock.Anything, mock.Anything).Return(nil)
	deposits.On("Transition", mock.Anything, dep.ID, entities.DepositStatusSubmitted, entities.DepositStatusConfirmed, mock.Anything).Return(nil)
	audits.On("MarkProcessed", mock.Anything, entry.ID, entities.WebhookAuditProcessed, &dep.ID).Return(nil)
	crediter.On("CreditDeposit", mock.Anything, dep.ID).Return(nil)

	err := svc.ProcessWebhook(context.Background(), "alchemy", entities.ChainEthereum, payload)

	assert.NoError(t, err)
	deposits.AssertExpectations(t)
	crediter.AssertExpectations(t)
}

func TestProcessWebhookLeavesSettledDepositUntouched(t *testing.T) {
	deposits := new(mockDepositStore)
	audits := new(mockAuditStore)
	catalog := new(mockCatalogStore)
	crediter := new(mockCrediter)
	svc := newTestService(deposits, audits, catalog, crediter)

	tokenID := uuid.New()
	addrID := uuid.New()
	userID := uuid.New()
	dep := &entities.Deposit{
		ID:             uuid.New(),
		UserID:         &userID,
		Chain:          entities.ChainEthereum,
		TokenID:        tokenID,
		Status:         entities.DepositStatusCredited,
		ExpectedAmount: decimal.RequireFromString("100"),
	}

	// Same tx hash, different amount: a late redelivery after the deposit
	// settled must not rewrite the recorded observation.
	payload := []byte(`{"tx_hash":"0xabc","to_address":"0xcustody","amount":"999","asset_symbol":"USDC"}`)
	entry := &entities.WebhookAuditEntry{ID: uuid.New(), Status: entities.WebhookAuditReceived}

	audits.On("Record", mock.Anything, "alchemy", entities.ChainEthereum, payload).Return(entry, true, nil)
	catalog.On("GetCustodialAddress", mock.Anything, entities.ChainEthereum, "0xcustody").
		Return(&entities.CustodialAddress{ID: addrID, Chain: entities.ChainEthereum}, nil)
	catalog.On("GetTokenBySymbol", mock.Anything, entities.ChainEthereum, "USDC").
		Return(&entities.Token{ID: tokenID, Chain: entities.ChainEthereum, Symbol: "USDC"}, nil)
	deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(dep, nil)
	audits.On("MarkProcessed", mock.Anything, entry.ID, entities.WebhookAuditProcessed, &dep.ID).Return(nil)

	err := svc.ProcessWebhook(context.Background(), "alchemy", entities.ChainEthereum, payload)

	assert.NoError(t, err)
	audits.AssertExpectations(t)
	deposits.AssertNotCalled(t, "RecordObservation", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	deposits.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	crediter.AssertNotCalled(t, "CreditDeposit", mock.Anything, mock.Anything)
}

func TestProcessWebhookToleranceViolationParks(t *testing.T) {
	deposits := new(mockDepositStore)
	audits := new(mockAuditStore)
	catalog := new(mockCatalogStore)
	crediter := new(mockCrediter)
	svc := newTestService(deposits, audits, catalog, crediter)

	tokenID := uuid.New()
	addrID := uuid.New()
	dep := &entities.Deposit{
		ID:             uuid.New(),
		Chain:          entities.ChainEthereum,
		TokenID:        tokenID,
		Status:         entities.DepositStatusSubmitted,
		ExpectedAmount: decimal.RequireFromString("100"),
	}

	payload := []byte(`{"tx_hash":"0xabc","to_address":"0xcustody","amount":"90","asset_symbol":"USDC"}`)
	entry := &entities.WebhookAuditEntry{ID: uuid.New(), Status: entities.WebhookAuditReceived}

	audits.On("Record", mock.Anything, "alchemy", entities.ChainEthereum, payload).Return(entry, true, nil)
	catalog.On("GetCustodialAddress", mock.Anything, entities.ChainEthereum, "0xcustody").
		Return(&entities.CustodialAddress{ID: addrID}, nil)
	catalog.On("GetTokenBySymbol", mock.Anything, entities.ChainEthereum, "USDC").
		Return(&entities.Token{ID: tokenID}, nil)
	deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(dep, nil)
	deposits.On("RecordObservation", mock.Anything, dep.ID, "0xabc", mock.Anything, mock.Anything).Return(nil)
	deposits.On("AppendEvent", mock.Anything, mock.Anything).Return(nil)
	deposits.On("Transition", mock.Anything, dep.ID, entities.DepositStatusSubmitted, entities.DepositStatusNeedsReview, mock.Anything).Return(nil)
	audits.On("MarkProcessed", mock.Anything, entry.ID, entities.WebhookAuditProcessed, &dep.ID).Return(nil)

	err := svc.ProcessWebhook(context.Background(), "alchemy", entities.ChainEthereum, payload)

	assert.NoError(t, err)
	deposits.AssertExpectations(t)
	crediter.AssertNotCalled(t, "CreditDeposit", mock.Anything, mock.Anything)
}

func TestProcessWebhookUnmatchedRecordsDeposit(t *testing.T) {
	deposits := new(mockDepositStore)
	audits := new(mockAuditStore)
	catalog := new(mockCatalogStore)
	crediter := new(mockCrediter)
	svc := newTestService(deposits, audits, catalog, crediter)

	tokenID := uuid.New()
	addrID := uuid.New()

	payload := []byte(`{"tx_hash":"0xabc","to_address":"0xcustody","amount":"42","asset_symbol":"USDC"}`)
	entry := &entities.WebhookAuditEntry{ID: uuid.New(), Status: entities.WebhookAuditReceived}

	audits.On("Record", mock.Anything, "alchemy", entities.ChainEthereum, payload).Return(entry, true, nil)
	catalog.On("GetCustodialAddress", mock.Anything, entities.ChainEthereum, "0xcustody").
		Return(&entities.CustodialAddress{ID: addrID}, nil)
	catalog.On("GetTokenBySymbol", mock.Anything, entities.ChainEthereum, "USDC").
		Return(&entities.Token{ID: tokenID}, nil)
	deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(nil, domainerrors.ErrNotFound)
	deposits.On("GetLatestOpenByAddress", mock.Anything, addrID).Return(nil, domainerrors.ErrNotFound)

	var created *entities.Deposit
	deposits.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*entities.Deposit)
	}).Return(nil)
	deposits.On("RecordObservation", mock.Anything, mock.Anything, "0xabc", mock.Anything, mock.Anything).Return(nil)
	deposits.On("AppendEvent", mock.Anything, mock.Anything).Return(nil)
	audits.On("MarkProcessed", mock.Anything, entry.ID, entities.WebhookAuditProcessed, mock.Anything).Return(nil)

	err := svc.ProcessWebhook(context.Background(), "alchemy", entities.ChainEthereum, payload)

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.Equal(t, entities.DepositStatusUnmatched, created.Status)
	assert.Nil(t, created.UserID)
	assert.Equal(t, "42", created.ExpectedAmount.String())
	crediter.AssertNotCalled(t, "CreditDeposit", mock.Anything, mock.Anything)
}

func TestMatchDepositPriority(t *testing.T) {
	tokenID := uuid.New()
	addrID := uuid.New()
	memo := "order-123"
	obs := &entities.Observation{TxHash: "0xabc", ToAddress: "0xcustody", Amount: decimal.RequireFromString("100"), Memo: &memo}

	t.Run("tx hash wins over memo", func(t *testing.T) {
		deposits := new(mockDepositStore)
		svc := newTestService(deposits, new(mockAuditStore), new(mockCatalogStore), new(mockCrediter))

		dep := &entities.Deposit{ID: uuid.New()}
		deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(dep, nil)

		result, err := svc.matchDeposit(context.Background(), entities.ChainEthereum, tokenID, addrID, obs)
		assert.NoError(t, err)
		assert.Equal(t, "tx_hash", result.rule)
		assert.Equal(t, dep.ID, result.deposit.ID)
		deposits.AssertNotCalled(t, "GetByMemo", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("memo wins over address fallback", func(t *testing.T) {
		deposits := new(mockDepositStore)
		svc := newTestService(deposits, new(mockAuditStore), new(mockCatalogStore), new(mockCrediter))

		dep := &entities.Deposit{ID: uuid.New()}
		deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(nil, domainerrors.ErrNotFound)
		deposits.On("GetByMemo", mock.Anything, entities.ChainEthereum, tokenID, memo).Return(dep, nil)

		result, err := svc.matchDeposit(context.Background(), entities.ChainEthereum, tokenID, addrID, obs)
		assert.NoError(t, err)
		assert.Equal(t, "memo", result.rule)
		deposits.AssertNotCalled(t, "GetLatestOpenByAddress", mock.Anything, mock.Anything)
	})

	t.Run("address fallback last", func(t *testing.T) {
		deposits := new(mockDepositStore)
		svc := newTestService(deposits, new(mockAuditStore), new(mockCatalogStore), new(mockCrediter))

		dep := &entities.Deposit{ID: uuid.New()}
		deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(nil, domainerrors.ErrNotFound)
		deposits.On("GetByMemo", mock.Anything, entities.ChainEthereum, tokenID, memo).Return(nil, domainerrors.ErrNotFound)
		deposits.On("GetLatestOpenByAddress", mock.Anything, addrID).Return(dep, nil)

		result, err := svc.matchDeposit(context.Background(), entities.ChainEthereum, tokenID, addrID, obs)
		assert.NoError(t, err)
		assert.Equal(t, "address_fallback", result.rule)
	})

	t.Run("nothing matches", func(t *testing.T) {
		deposits := new(mockDepositStore)
		svc := newTestService(deposits, new(mockAuditStore), new(mockCatalogStore), new(mockCrediter))

		deposits.On("GetByTxHash", mock.Anything, entities.ChainEthereum, tokenID, "0xabc").Return(nil, domainerrors.ErrNotFound)
		deposits.On("GetByMemo", mock.Anything, entities.ChainEthereum, tokenID, memo).Return(nil, domainerrors.ErrNotFound)
		deposits.On("GetLatestOpenByAddress", mock.Anything, addrID).Return(nil, domainerrors.ErrNotFound)

		_, err := svc.matchDeposit(context.Background(), entities.ChainEthereum, tokenID, addrID, obs)
		assert.ErrorIs(t, err, domainerrors.ErrUnmatched)
	})
}
