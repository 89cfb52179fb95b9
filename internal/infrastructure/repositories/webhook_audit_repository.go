package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

// WebhookAuditRepository handles the content-addressed webhook dedupe ledger
type WebhookAuditRepository struct {
	db *sqlx.DB
}

// NewWebhookAuditRepository creates a new webhook audit repository
func NewWebhookAuditRepository(db *sqlx.DB) *WebhookAuditRepository {
	return &WebhookAuditRepository{db: db}
}

// Record inserts a dedupe row for a raw delivery. A unique constraint on
// (provider, sha256) makes byte-identical redeliveries conflict; the conflict
// is treated as success with isNew=false so the caller can skip processing
// without failing the provider's request.
func (r *WebhookAuditRepository) Record(ctx context.Context, provider string, chain entities.Chain, payload []byte) (*entities.WebhookAuditEntry, bool, error) {
	entry := &entities.WebhookAuditEntry{
		ID:        uuid.New(),
		Provider:  provider,
		Chain:     chain,
		SHA256:    entities.PayloadDigest(payload),
		Status:    entities.WebhookAuditReceived,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO webhook_audit_log (id, provider, chain, sha256, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		entry.ID, entry.Provider, entry.Chain, entry.SHA256, entry.Status, entry.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			existing, getErr := r.getByDigest(ctx, provider, entry.SHA256)
			if getErr != nil {
				return nil, false, fmt.Errorf("load duplicate audit entry: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("record webhook delivery: %w", err)
	}

	return entry, true, nil
}

// MarkProcessed stamps the terminal processing status and matched deposit
func (r *WebhookAuditRepository) MarkProcessed(ctx context.Context, id uuid.UUID, status entities.WebhookAuditStatus, depositID *uuid.UUID) error {
	query := `
		UPDATE webhook_audit_log
		SET status = $2, deposit_id = COALESCE($3, deposit_id), processed_at = $4
		WHERE id = $1
	`

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, id, status, depositID, time.Now()); err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}

func (r *WebhookAuditRepository) getByDigest(ctx context.Context, provider, digest string) (*entities.WebhookAuditEntry, error) {
	query := `
		SELECT id, provider, chain, sha256, status, deposit_id, created_at, processed_at
		FROM webhook_audit_log
		WHERE provider = $1 AND sha256 = $2
	`

	var entry entities.WebhookAuditEntry
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &entry, query, provider, digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit entry not found")
		}
		return nil, fmt.Errorf("get audit entry: %w", err)
	}

	return &entry, nil
}
