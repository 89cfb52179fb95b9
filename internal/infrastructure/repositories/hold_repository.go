package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

const holdColumns = `id, user_id, amount_stars, status, reason, ref_type, ref_id, release_at, created_at, closed_at`

// HoldRepository handles escrowed star holds
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new hold repository
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// Insert creates a new hold row
func (r *HoldRepository) Insert(ctx context.Context, hold *entities.StarHold) error {
	query := `
		INSERT INTO star_holds (id, user_id, amount_stars, status, reason, ref_type, ref_id, release_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		hold.ID, hold.UserID, hold.AmountStars, hold.Status, hold.Reason,
		hold.RefType, hold.RefID, hold.ReleaseAt, hold.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}

	return nil
}

// GetByID retrieves a hold
func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.StarHold, error) {
	query := `SELECT ` + holdColumns + ` FROM star_holds WHERE id = $1`

	var hold entities.StarHold
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &hold, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("hold %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get hold: %w", err)
	}

	return &hold, nil
}

// CloseIfHeld flips a hold out of held with a conditional update. Exactly
// one caller observes affected == true even when a release races a
// settlement; everyone else must treat false as "someone already closed it".
func (r *HoldRepository) CloseIfHeld(ctx context.Context, id uuid.UUID, to entities.HoldStatus) (bool, error) {
	query := `
		UPDATE star_holds
		SET status = $2, closed_at = $3
		WHERE id = $1 AND status = $4
	`

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, id, to, time.Now(), entities.HoldStatusHeld)
	if err != nil {
		return false, fmt.Errorf("close hold: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}

// ListMaturedHeld retrieves held rows whose release time has passed.
// A nil userID scans platform-wide for the sweep job.
func (r *HoldRepository) ListMaturedHeld(ctx context.Context, userID *uuid.UUID, now time.Time, limit int) ([]*entities.StarHold, error) {
	query := `
		SELECT ` + holdColumns + `
		FROM star_holds
		WHERE status = $1 AND release_at IS NOT NULL AND release_at <= $2
		  AND ($3::uuid IS NULL OR user_id = $3)
		ORDER BY release_at
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`

	var holds []*entities.StarHold
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &holds, query, entities.HoldStatusHeld, now, userID, limit); err != nil {
		return nil, fmt.Errorf("list matured holds: %w", err)
	}

	return holds, nil
}

// SumOpenByUser totals a user's held stars, for the conservation audit
func (r *HoldRepository) SumOpenByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount_stars), 0)
		FROM star_holds
		WHERE user_id = $1 AND status = $2
	`

	var sum int64
	q := database.FromContext(ctx, r.db)
	if err := q.GetContext(ctx, &sum, query, userID, entities.HoldStatusHeld); err != nil {
		return 0, fmt.Errorf("sum open holds: %w", err)
	}

	return sum, nil
}

// ListOpenByUser retrieves a user's held rows, oldest first
func (r *HoldRepository) ListOpenByUser(ctx context.Context, userID uuid.UUID) ([]*entities.StarHold, error) {
	query := `
		SELECT ` + holdColumns + `
		FROM star_holds
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at
	`

	var holds []*entities.StarHold
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &holds, query, userID, entities.HoldStatusHeld); err != nil {
		return nil, fmt.Errorf("list open holds: %w", err)
	}

	return holds, nil
}
