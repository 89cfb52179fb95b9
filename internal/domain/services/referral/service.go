package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/pkg/logger"
)

type userStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	AdjustBalance(ctx context.Context, id uuid.UUID, delta int64) error
}

type ledgerStore interface {
	Insert(ctx context.Context, tx *entities.StarTransaction) error
}

type bonusStore interface {
	Insert(ctx context.Context, bonus *entities.ReferralBonus) error
}

// Service pays referrers a percentage of stars their referees earn or buy
type Service struct {
	users   userStore
	ledger  ledgerStore
	bonuses bonusStore
	cfg     entities.ReferralConfig
	logger  *logger.Logger
}

// NewService creates a referral service
func NewService(users userStore, ledger ledgerStore, bonuses bonusStore, cfg entities.ReferralConfig, logger *logger.Logger) *Service {
	return &Service{users: users, ledger: ledger, bonuses: bonuses, cfg: cfg, logger: logger}
}

// Apply pays the referral bonus for one source event. creditedStars is the
// full amount the event credits, bonus layers included; the payout is a
// percentage of it. Must run inside the caller's transaction so the payout
// commits or rolls back with the credit that triggered it. (sourceKind,
// sourceID) dedupes retried flows; paying twice for one event is impossible.
func (s *Service) Apply(ctx context.Context, kind entities.ReferralSourceKind, sourceID, userID uuid.UUID, creditedStars int64, depositID *uuid.UUID) error {
	if !s.cfg.AppliesTo(kind) {
		return nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load referred user: %w", err)
	}
	if user.ReferredByID == nil {
		return nil
	}

	bonus := s.cfg.BonusFor(creditedStars)
	if bonus <= 0 {
		return nil
	}

	now := time.Now()
	row := &entities.ReferralBonus{
		ID:             uuid.New(),
		ReferrerID:     *user.ReferredByID,
		ReferredUserID: userID,
		Percent:        s.cfg.Percent,
		BaseStars:      creditedStars,
		BonusStars:     bonus,
		SourceKind:     kind,
		SourceID:       sourceID,
		CreatedAt:      now,
	}
	if err := s.bonuses.Insert(ctx, row); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("record referral bonus: %w", err)
	}

	refType := "referral"
	entry := &entities.StarTransaction{
		ID:        uuid.New(),
		UserID:    *user.ReferredByID,
		Type:      entities.StarTxReferralBonus,
		Delta:     bonus,
		Stars:     bonus,
		DepositID: depositID,
		RefType:   &refType,
		RefID:     &row.ID,
		CreatedAt: now,
	}
	if err := s.ledger.Insert(ctx, entry); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("write referral ledger row: %w", err)
	}

	if err := s.users.AdjustBalance(ctx, *user.ReferredByID, bonus); err != nil {
		return fmt.Errorf("credit referrer: %w", err)
	}

	s.logger.Info("referral bonus paid",
		"referrer_id", *user.ReferredByID,
		"referred_user_id", userID,
		"bonus_stars", bonus,
		"source_kind", kind,
		"source_id", sourceID)

	return nil
}
