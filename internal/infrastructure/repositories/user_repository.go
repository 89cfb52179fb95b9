package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

// UserRepository handles the user rows carrying the cached star balance
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	query := `SELECT id, star_balance, referred_by_id, created_at FROM users WHERE id = $1`

	var user entities.User
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &user, nil
}

// GetForUpdate retrieves a user with a row lock for balance mutations
func (r *UserRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	query := `SELECT id, star_balance, referred_by_id, created_at FROM users WHERE id = $1 FOR UPDATE`

	var user entities.User
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get user for update: %w", err)
	}

	return &user, nil
}

// AdjustBalance applies a signed delta to the cached balance. The guard
// clause keeps the balance non-negative even under concurrent debits. Zero
// affected rows means either the user does not exist or the debit would
// have overdrawn; a follow-up read tells the two apart.
func (r *UserRepository) AdjustBalance(ctx context.Context, id uuid.UUID, delta int64) error {
	query := `
		UPDATE users
		SET star_balance = star_balance + $2
		WHERE id = $1 AND star_balance + $2 >= 0
	`

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var balance int64
		err := q.GetContext(ctx, &balance, `SELECT star_balance FROM users WHERE id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", id, domainerrors.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read balance after failed adjust: %w", err)
		}
		return domainerrors.InsufficientStarsError(balance, -delta)
	}

	return nil
}

// ListIDs retrieves user ids in pages for the reconciliation audit
func (r *UserRepository) ListIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	query := `SELECT id FROM users ORDER BY created_at LIMIT $1 OFFSET $2`

	var ids []uuid.UUID
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &ids, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}

	return ids, nil
}
