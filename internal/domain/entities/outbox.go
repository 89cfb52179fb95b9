package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus tracks delivery of one notification intent
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxKind identifies the notification template
type OutboxKind string

const (
	OutboxDepositCredited OutboxKind = "deposit_credited"
	OutboxDepositRefunded OutboxKind = "deposit_refunded"
	OutboxDepositReview   OutboxKind = "deposit_needs_review"
	OutboxHoldReleased    OutboxKind = "hold_released"
	OutboxAuctionSettled  OutboxKind = "auction_settled"
)

// OutboxMessage is a notification intent written in the same transaction as
// the state change it announces. Delivery is asynchronous with its own
// retry/backoff and can never roll back a committed credit.
type OutboxMessage struct {
	ID            uuid.UUID       `db:"id"`
	UserID        *uuid.UUID      `db:"user_id"`
	Kind          OutboxKind      `db:"kind"`
	Payload       json.RawMessage `db:"payload"`
	Status        OutboxStatus    `db:"status"`
	Attempts      int             `db:"attempts"`
	NextAttemptAt time.Time       `db:"next_attempt_at"`
	LastError     *string         `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	SentAt        *time.Time      `db:"sent_at"`
}
