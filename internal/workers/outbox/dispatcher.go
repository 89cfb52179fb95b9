package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/internal/infrastructure/metrics"
	"github.com/stars-service/stars_service/pkg/logger"
	"github.com/stars-service/stars_service/pkg/retry"
)

// Notifier delivers one notification to the outside world. The implementation
// decides the channel; a delivery error schedules a retry, it never touches
// ledger state.
type Notifier interface {
	Notify(ctx context.Context, msg *entities.OutboxMessage) error
}

type messageStore interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entities.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts, maxAttempts int, nextAttemptAt time.Time, lastError string) error
	CountPending(ctx context.Context) (int, error)
}

// claimLease is how long a claimed batch stays invisible to other
// dispatchers. It only has to outlast one delivery round.
const claimLease = 2 * time.Minute

// Dispatcher drains the transactional outbox on a polling loop. Concurrent
// dispatchers are safe: ClaimDue leases its batch with SKIP LOCKED, and
// delivery runs outside any database transaction so a slow or hung notifier
// never pins a connection or row locks.
type Dispatcher struct {
	messages messageStore
	notifier Notifier
	cfg      config.WorkerConfig
	backoff  retry.Config
	logger   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates an outbox dispatcher
func NewDispatcher(messages messageStore, notifier Notifier, cfg config.WorkerConfig, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		messages: messages,
		notifier: notifier,
		cfg:      cfg,
		backoff:  retry.DefaultConfig(),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
	d.logger.Info("outbox dispatcher started",
		"poll_seconds", d.cfg.OutboxPollSeconds, "batch_size", d.cfg.OutboxBatchSize)
}

// Stop halts polling and waits for the in-flight batch
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("outbox dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Duration(d.cfg.OutboxPollSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.dispatchBatch(ctx); err != nil {
				d.logger.Error("outbox batch failed", "error", err)
			}
			d.reportBacklog(ctx)
		}
	}
}

// dispatchBatch leases due messages, then delivers and records each outcome
// with short standalone statements. No transaction stays open across the
// notifier call.
func (d *Dispatcher) dispatchBatch(ctx context.Context) error {
	msgs, err := d.messages.ClaimDue(ctx, time.Now(), claimLease, d.cfg.OutboxBatchSize)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if err := d.notifier.Notify(ctx, msg); err != nil {
			metrics.OutboxFailures.Inc()
			attempts := msg.Attempts + 1
			nextAttempt := time.Now().Add(retry.NextDelay(d.backoff, attempts))
			if markErr := d.messages.MarkFailed(ctx, msg.ID, attempts, d.cfg.OutboxMaxAttempts, nextAttempt, err.Error()); markErr != nil {
				return markErr
			}
			d.logger.Warn("notification delivery failed",
				"message_id", msg.ID, "kind", msg.Kind, "attempts", attempts, "error", err)
			continue
		}

		if err := d.messages.MarkSent(ctx, msg.ID); err != nil {
			return err
		}
		metrics.OutboxDelivered.Inc()
		d.logger.Info("notification delivered", "message_id", msg.ID, "kind", msg.Kind)
	}

	return nil
}

func (d *Dispatcher) reportBacklog(ctx context.Context) {
	pending, err := d.messages.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.OutboxPending.Set(float64(pending))
}
