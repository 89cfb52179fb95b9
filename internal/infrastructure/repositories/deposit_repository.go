package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

const depositColumns = `id, user_id, chain, token_id, custodial_address_id, package_id,
	expected_amount, actual_amount, tx_hash, memo, status, failure_reason,
	coupon_id, coupon_code, created_at, confirmed_at, credited_at, refunded_at`

// DepositRepository handles deposit persistence
type DepositRepository struct {
	db *sqlx.DB
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// Create inserts a new deposit intent
func (r *DepositRepository) Create(ctx context.Context, deposit *entities.Deposit) error {
	query := `
		INSERT INTO deposits (
			id, user_id, chain, token_id, custodial_address_id, package_id,
			expected_amount, tx_hash, memo, status, coupon_id, coupon_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		deposit.ID,
		deposit.UserID,
		deposit.Chain,
		deposit.TokenID,
		deposit.CustodialAddressID,
		deposit.PackageID,
		deposit.ExpectedAmount,
		deposit.TxHash,
		deposit.Memo,
		deposit.Status,
		deposit.CouponID,
		deposit.CouponCode,
		deposit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create deposit: %w", err)
	}

	return nil
}

// GetByID retrieves a deposit by ID
func (r *DepositRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`

	var deposit entities.Deposit
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &deposit, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deposit %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get deposit: %w", err)
	}

	return &deposit, nil
}

// GetForUpdate retrieves a deposit with a row lock. Must run inside a
// transaction; the lock serializes concurrent credit attempts.
func (r *DepositRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1 FOR UPDATE`

	var deposit entities.Deposit
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &deposit, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deposit %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get deposit for update: %w", err)
	}

	return &deposit, nil
}

// GetByTxHash retrieves a deposit matching the observed transaction hash
func (r *DepositRepository) GetByTxHash(ctx context.Context, chain entities.Chain, tokenID uuid.UUID, txHash string) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE chain = $1 AND token_id = $2 AND tx_hash = $3`

	var deposit entities.Deposit
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &deposit, query, chain, tokenID, txHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit by tx hash: %w", err)
	}

	return &deposit, nil
}

// GetByMemo retrieves an open deposit whose stored memo or own id equals the
// observed memo
func (r *DepositRepository) GetByMemo(ctx context.Context, chain entities.Chain, tokenID uuid.UUID, memo string) (*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE chain = $1 AND token_id = $2
		  AND (memo = $3 OR id::text = $3)
		  AND status = ANY($4)
		ORDER BY created_at DESC
		LIMIT 1
	`

	var deposit entities.Deposit
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &deposit, query, chain, tokenID, memo, pq.Array(openStatusStrings()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit by memo: %w", err)
	}

	return &deposit, nil
}

// GetLatestOpenByAddress retrieves the most recent open, uncredited deposit
// for a custodial address. Only correct because addresses carry at most one
// open deposit by construction upstream; with two concurrently open deposits
// on one address the most recent wins, a documented limitation.
func (r *DepositRepository) GetLatestOpenByAddress(ctx context.Context, custodialAddressID uuid.UUID) (*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE custodial_address_id = $1
		  AND status = ANY($2)
		  AND credited_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	var deposit entities.Deposit
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &deposit, query, custodialAddressID, pq.Array(openStatusStrings()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, fmt.Errorf("get open deposit by address: %w", err)
	}

	return &deposit, nil
}

// RecordObservation stamps the observed tx hash, amount and memo on a deposit
func (r *DepositRepository) RecordObservation(ctx context.Context, id uuid.UUID, txHash string, amount decimal.Decimal, memo *string) error {
	query := `
		UPDATE deposits
		SET tx_hash = COALESCE(tx_hash, $2),
		    actual_amount = $3,
		    memo = COALESCE($4, memo)
		WHERE id = $1
	`

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, id, txHash, amount, memo); err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

// StampTxHash records a client-reported transaction hash without clobbering
// one an observation already wrote
func (r *DepositRepository) StampTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	query := `UPDATE deposits SET tx_hash = COALESCE(tx_hash, $2) WHERE id = $1`

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, id, txHash); err != nil {
		return fmt.Errorf("stamp tx hash: %w", err)
	}
	return nil
}

// Transition moves a deposit from one status to another with a conditional
// update. Returns ErrInvalidTransition when the row was not in the expected
// status, which is how concurrent writers lose the race safely.
func (r *DepositRepository) Transition(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error {
	if err := from.ValidateTransition(to); err != nil {
		return err
	}

	now := time.Now()
	query := `
		UPDATE deposits
		SET status = $3,
		    failure_reason = COALESCE($4, failure_reason),
		    confirmed_at = CASE WHEN $3 = 'confirmed' THEN $5 ELSE confirmed_at END,
		    credited_at = CASE WHEN $3 = 'credited' THEN $5 ELSE credited_at END,
		    refunded_at = CASE WHEN $3 = 'refunded' THEN $5 ELSE refunded_at END
		WHERE id = $1 AND status = $2
	`

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, id, from, to, reason, now)
	if err != nil {
		return fmt.Errorf("transition deposit: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domainerrors.TransitionError(string(from), string(to))
	}

	return nil
}

// AssignUser attaches a user to an unmatched deposit
func (r *DepositRepository) AssignUser(ctx context.Context, id, userID uuid.UUID) error {
	query := `UPDATE deposits SET user_id = $2 WHERE id = $1 AND user_id IS NULL`

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("assign user: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("deposit %s already has a user: %w", id, domainerrors.ErrConflict)
	}
	return nil
}

// ListByStatus retrieves deposits in a status, newest first
func (r *DepositRepository) ListByStatus(ctx context.Context, status entities.DepositStatus, limit, offset int) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var deposits []*entities.Deposit
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &deposits, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("list deposits by status: %w", err)
	}

	return deposits, nil
}

// ListStaleSubmitted retrieves deposits stuck in submitted longer than the cutoff
func (r *DepositRepository) ListStaleSubmitted(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`

	var deposits []*entities.Deposit
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &deposits, query, entities.DepositStatusSubmitted, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list stale submitted deposits: %w", err)
	}

	return deposits, nil
}

// AppendEvent adds one audit trail row for a deposit
func (r *DepositRepository) AppendEvent(ctx context.Context, event *entities.DepositEvent) error {
	var data []byte
	if event.Data != nil {
		var err error
		data, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	query := `
		INSERT INTO deposit_events (id, deposit_id, type, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		event.ID, event.DepositID, event.Type, event.Message, data, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append deposit event: %w", err)
	}

	return nil
}

// ListEvents retrieves the audit trail for a deposit, oldest first
func (r *DepositRepository) ListEvents(ctx context.Context, depositID uuid.UUID) ([]*entities.DepositEvent, error) {
	query := `
		SELECT id, deposit_id, type, message, created_at
		FROM deposit_events
		WHERE deposit_id = $1
		ORDER BY created_at
	`

	var events []*entities.DepositEvent
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &events, query, depositID); err != nil {
		return nil, fmt.Errorf("list deposit events: %w", err)
	}

	return events, nil
}

func openStatusStrings() []string {
	out := make([]string, len(entities.OpenDepositStatuses))
	for i, s := range entities.OpenDepositStatuses {
		out[i] = string(s)
	}
	return out
}
