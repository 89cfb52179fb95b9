package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// WebhookAuditStatus tracks processing of one raw delivery
type WebhookAuditStatus string

const (
	WebhookAuditReceived  WebhookAuditStatus = "received"
	WebhookAuditProcessed WebhookAuditStatus = "processed"
	WebhookAuditFailed    WebhookAuditStatus = "failed"
)

// WebhookAuditEntry is the content-addressed dedupe row for one raw webhook
// delivery. (provider, sha256) is unique; a byte-identical redelivery is a
// no-op after the first processing.
type WebhookAuditEntry struct {
	ID          uuid.UUID          `db:"id"`
	Provider    string             `db:"provider"`
	Chain       Chain              `db:"chain"`
	SHA256      string             `db:"sha256"`
	Status      WebhookAuditStatus `db:"status"`
	DepositID   *uuid.UUID         `db:"deposit_id"`
	CreatedAt   time.Time          `db:"created_at"`
	ProcessedAt *time.Time         `db:"processed_at"`
}

// PayloadDigest computes the canonical digest of a raw webhook payload
func PayloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
