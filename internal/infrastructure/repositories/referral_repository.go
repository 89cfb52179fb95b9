package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

// ReferralRepository handles referral bonus audit rows
type ReferralRepository struct {
	db *sqlx.DB
}

// NewReferralRepository creates a new referral repository
func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// Insert appends one payout audit row. (source_kind, source_id) is unique so
// a retried credit flow pays at most once; the conflict surfaces as
// ErrAlreadyExists.
func (r *ReferralRepository) Insert(ctx context.Context, bonus *entities.ReferralBonus) error {
	query := `
		INSERT INTO referral_bonuses (id, referrer_id, referred_user_id, percent, base_stars, bonus_stars, source_kind, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	q := database.FromContext(ctx, r.db)
	_, err := q.ExecContext(ctx, query,
		bonus.ID, bonus.ReferrerID, bonus.ReferredUserID, bonus.Percent,
		bonus.BaseStars, bonus.BonusStars, bonus.SourceKind, bonus.SourceID, bonus.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("referral bonus for %s/%s: %w", bonus.SourceKind, bonus.SourceID, domainerrors.ErrAlreadyExists)
		}
		return fmt.Errorf("insert referral bonus: %w", err)
	}

	return nil
}

// ExistsBySource reports whether a payout was already made for the source event
func (r *ReferralRepository) ExistsBySource(ctx context.Context, kind entities.ReferralSourceKind, sourceID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM referral_bonuses WHERE source_kind = $1 AND source_id = $2)`

	var exists bool
	q := database.FromContext(ctx, r.db)
	if err := q.GetContext(ctx, &exists, query, kind, sourceID); err != nil {
		return false, fmt.Errorf("check referral bonus: %w", err)
	}

	return exists, nil
}
