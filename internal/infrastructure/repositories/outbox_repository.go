package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

// OutboxRepository handles the transactional outbox for side effects
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Insert enqueues a message. Callers write it inside the same transaction as
// the state change it announces, so either both commit or neither does.
func (r *OutboxRepository) Insert(ctx context.Context, msg *entities.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (id, user_id, kind, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		msg.ID, msg.UserID, msg.Kind, msg.Payload, msg.Status, msg.Attempts, msg.NextAttemptAt, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}

	return nil
}

// ClaimDue leases a batch of pending messages whose retry time has passed by
// pushing next_attempt_at forward. The claim is one self-contained statement:
// SKIP LOCKED divides the backlog between concurrent dispatchers, and the
// lease keeps other dispatchers off the batch while delivery runs outside any
// transaction. A dispatcher that dies mid-batch just lets the lease expire.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entities.OutboxMessage, error) {
	query := `
		UPDATE outbox_messages
		SET next_attempt_at = $3
		WHERE id IN (
			SELECT id
			FROM outbox_messages
			WHERE status = $1 AND next_attempt_at <= $2
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, kind, payload, status, attempts, next_attempt_at, last_error, created_at, sent_at
	`

	var msgs []*entities.OutboxMessage
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &msgs, query, entities.OutboxPending, now, now.Add(lease), limit); err != nil {
		return nil, fmt.Errorf("claim due outbox messages: %w", err)
	}

	return msgs, nil
}

// MarkSent stamps a message delivered
func (r *OutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbox_messages SET status = $2, sent_at = $3 WHERE id = $1`

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, id, entities.OutboxSent, time.Now()); err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure and schedules the retry. Once the
// attempt budget is spent the message parks as failed for manual review.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, maxAttempts int, nextAttemptAt time.Time, lastError string) error {
	status := entities.OutboxPending
	if attempts >= maxAttempts {
		status = entities.OutboxFailed
	}

	query := `
		UPDATE outbox_messages
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5
		WHERE id = $1
	`

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, id, status, attempts, nextAttemptAt, lastError); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// CountPending reports the backlog size for metrics
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM outbox_messages WHERE status = $1`

	var count int
	q := database.FromContext(ctx, r.db)
	if err := q.GetContext(ctx, &count, query, entities.OutboxPending); err != nil {
		return 0, fmt.Errorf("count pending outbox messages: %w", err)
	}

	return count, nil
}
