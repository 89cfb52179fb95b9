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
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

// LedgerRepository handles the append-only star transaction ledger
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Insert appends one ledger line. The partial unique index on
// (deposit_id, type) is the idempotency key for crediting flows; a conflict
// means the layer was already applied and surfaces as ErrAlreadyExists.
func (r *LedgerRepository) Insert(ctx context.Context, tx *entities.StarTransaction) error {
	query := `
		INSERT INTO star_transactions (id, user_id, type, delta, stars, deposit_id, ref_type, ref_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		tx.ID, tx.UserID, tx.Type, tx.Delta, tx.Stars, tx.DepositID, tx.RefType, tx.RefID, tx.Note, tx.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("ledger row for deposit %v type %s: %w", tx.DepositID, tx.Type, domainerrors.ErrAlreadyExists)
		}
		return fmt.Errorf("insert star transaction: %w", err)
	}

	return nil
}

// ListForDeposit retrieves all ledger rows tied to a deposit
func (r *LedgerRepository) ListForDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.StarTransaction, error) {
	query := `
		SELECT id, user_id, type, delta, stars, deposit_id, ref_type, ref_id, note, created_at
		FROM star_transactions
		WHERE deposit_id = $1
		ORDER BY created_at
	`

	var txs []*entities.StarTransaction
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &txs, query, depositID); err != nil {
		return nil, fmt.Errorf("list ledger rows for deposit: %w", err)
	}

	return txs, nil
}

// SumCreditedForDeposit sums the credit-layer rows granted to the deposit's
// owner. This is what a refund reverses: the stars actually credited, bonuses
// included, not the on-chain amount. Referral payouts went to a different
// user and are not clawed back.
func (r *LedgerRepository) SumCreditedForDeposit(ctx context.Context, depositID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(delta), 0)
		FROM star_transactions
		WHERE deposit_id = $1 AND delta > 0 AND type = ANY($2)
	`

	layers := make([]string, len(entities.CreditLayerTypes))
	for i, t := range entities.CreditLayerTypes {
		layers[i] = string(t)
	}

	var sum int64
	q := database.FromContext(ctx, r.db)
	if err := q.GetContext(ctx, &sum, query, depositID, pq.Array(layers)); err != nil {
		return 0, fmt.Errorf("sum credited for deposit: %w", err)
	}

	return sum, nil
}

// SumDeltaForUser derives the ledger balance for a user. Holds debit the
// balance and write a ledger row in the same transaction, so the
// reconciliation audit expects this sum to equal the cached balance exactly.
func (r *LedgerRepository) SumDeltaForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(delta), 0) FROM star_transactions WHERE user_id = $1`

	var sum int64
	q := database.FromContext(ctx, r.db)
	if err := q.GetContext(ctx, &sum, query, userID); err != nil {
		return 0, fmt.Errorf("sum ledger delta: %w", err)
	}

	return sum, nil
}

// CountTopupCreditsSince counts topup credit rows for a user since a cutoff
func (r *LedgerRepository) CountTopupCreditsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM star_transactions
		WHERE user_id = $1 AND type = $2 AND created_at >= $3
	`

	var count int
	q := database.FromContext(ctx, r.db)
	if err := q.GetContext(ctx, &count, query, userID, entities.StarTxTopup, since); err != nil {
		return 0, fmt.Errorf("count topup credits: %w", err)
	}

	return count, nil
}

// SumCreditedStarsSince sums stars credited to a user across all credit
// layers since a cutoff
func (r *LedgerRepository) SumCreditedStarsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(delta), 0)
		FROM star_transactions
		WHERE user_id = $1 AND delta > 0 AND type = ANY($2) AND created_at >= $3
	`

	layers := make([]string, len(entities.CreditLayerTypes))
	for i, t := range entities.CreditLayerTypes {
		layers[i] = string(t)
	}

	var sum int64
	q := database.FromContext(ctx, r.db)
	if err := q.GetContext(ctx, &sum, query, userID, pq.Array(layers), since); err != nil {
		return 0, fmt.Errorf("sum credited stars: %w", err)
	}

	return sum, nil
}

// LastTopupCreditAt returns the time of the user's most recent topup credit,
// or nil when none exists
func (r *LedgerRepository) LastTopupCreditAt(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	query := `
		SELECT created_at
		FROM star_transactions
		WHERE user_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var at time.Time
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &at, query, userID, entities.StarTxTopup)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last topup credit: %w", err)
	}

	return &at, nil
}

// ListForUser retrieves a user's ledger history, newest first
func (r *LedgerRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarTransaction, error) {
	query := `
		SELECT id, user_id, type, delta, stars, deposit_id, ref_type, ref_id, note, created_at
		FROM star_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var txs []*entities.StarTransaction
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &txs, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("list ledger rows for user: %w", err)
	}

	return txs, nil
}
