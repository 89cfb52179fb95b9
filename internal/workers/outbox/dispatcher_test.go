package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/pkg/logger"
)

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entities.OutboxMessage, error) {
	args := m.Called(ctx, now, lease, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.OutboxMessage), args.Error(1)
}

func (m *mockMessageStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockMessageStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts, maxAttempts int, nextAttemptAt time.Time, lastError string) error {
	return m.Called(ctx, id, attempts, maxAttempts, nextAttemptAt, lastError).Error(0)
}

func (m *mockMessageStore) CountPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, msg *entities.OutboxMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{OutboxPollSeconds: 1, OutboxBatchSize: 20, OutboxMaxAttempts: 8}
}

func TestDispatchBatchDeliversAndMarksSent(t *testing.T) {
	store := new(mockMessageStore)
	notifier := new(mockNotifier)
	d := NewDispatcher(store, notifier, testWorkerConfig(), logger.NewNop())

	msg := &entities.OutboxMessage{ID: uuid.New(), Kind: entities.OutboxDepositCredited, Status: entities.OutboxPending}
	store.On("ClaimDue", mock.Anything, mock.Anything, claimLease, 20).Return([]*entities.OutboxMessage{msg}, nil)
	notifier.On("Notify", mock.Anything, msg).Return(nil)
	store.On("MarkSent", mock.Anything, msg.ID).Return(nil)

	err := d.dispatchBatch(context.Background())

	assert.NoError(t, err)
	store.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestDispatchBatchSchedulesRetryOnFailure(t *testing.T) {
	store := new(mockMessageStore)
	notifier := new(mockNotifier)
	d := NewDispatcher(store, notifier, testWorkerConfig(), logger.NewNop())

	failing := &entities.OutboxMessage{ID: uuid.New(), Kind: entities.OutboxDepositCredited, Attempts: 2}
	healthy := &entities.OutboxMessage{ID: uuid.New(), Kind: entities.OutboxHoldReleased}
	store.On("ClaimDue", mock.Anything, mock.Anything, claimLease, 20).Return([]*entities.OutboxMessage{failing, healthy}, nil)
	notifier.On("Notify", mock.Anything, failing).Return(errors.New("push gateway down"))
	notifier.On("Notify", mock.Anything, healthy).Return(nil)
	store.On("MarkFailed", mock.Anything, failing.ID, 3, 8, mock.Anything, "push gateway down").Return(nil)
	store.On("MarkSent", mock.Anything, healthy.ID).Return(nil)

	err := d.dispatchBatch(context.Background())

	assert.NoError(t, err)
	store.AssertExpectations(t)
	// one failure never blocks the rest of the batch
	store.AssertNotCalled(t, "MarkSent", mock.Anything, failing.ID)
}

func TestDispatchBatchClaimLeasesBeforeDelivery(t *testing.T) {
	store := new(mockMessageStore)
	notifier := new(mockNotifier)
	d := NewDispatcher(store, notifier, testWorkerConfig(), logger.NewNop())

	var claimedAt, notifiedAt int
	calls := 0
	msg := &entities.OutboxMessage{ID: uuid.New(), Kind: entities.OutboxDepositCredited}
	store.On("ClaimDue", mock.Anything, mock.Anything, claimLease, 20).Run(func(mock.Arguments) {
		calls++
		claimedAt = calls
	}).Return([]*entities.OutboxMessage{msg}, nil)
	notifier.On("Notify", mock.Anything, msg).Run(func(mock.Arguments) {
		calls++
		notifiedAt = calls
	}).Return(nil)
	store.On("MarkSent", mock.Anything, msg.ID).Return(nil)

	err := d.dispatchBatch(context.Background())

	assert.NoError(t, err)
	// the lease is taken before the notifier runs, so delivery happens with
	// no claiming statement still in flight
	assert.Equal(t, 1, claimedAt)
	assert.Equal(t, 2, notifiedAt)
}

func TestDispatchBatchEmptyQueue(t *testing.T) {
	store := new(mockMessageStore)
	notifier := new(mockNotifier)
	d := NewDispatcher(store, notifier, testWorkerConfig(), logger.NewNop())

	store.On("ClaimDue", mock.Anything, mock.Anything, claimLease, 20).Return([]*entities.OutboxMessage{}, nil)

	err := d.dispatchBatch(context.Background())

	assert.NoError(t, err)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}
