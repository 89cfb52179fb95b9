package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/internal/infrastructure/metrics"
	"github.com/stars-service/stars_service/pkg/logger"
)

type userStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	ListIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error)
}

type ledgerStore interface {
	SumDeltaForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type depositStore interface {
	ListStaleSubmitted(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Deposit, error)
	Transition(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error
	AppendEvent(ctx context.Context, event *entities.DepositEvent) error
}

type holdReleaser interface {
	ReleaseMaturedHolds(ctx context.Context, userID *uuid.UUID, now time.Time, limit int) (int, error)
}

const (
	auditPageSize  = 500
	sweepBatchSize = 200
)

// Service runs the scheduled integrity jobs: the balance audit, the
// stale-submitted sweep, and the matured-hold sweep.
type Service struct {
	users    userStore
	ledger   ledgerStore
	deposits depositStore
	escrow   holdReleaser
	cfg      config.PaymentConfig
	logger   *logger.Logger
}

// NewService creates a reconciliation service
func NewService(
	users userStore,
	ledger ledgerStore,
	deposits depositStore,
	escrow holdReleaser,
	cfg config.PaymentConfig,
	logger *logger.Logger,
) *Service {
	return &Service{
		users:    users,
		ledger:   ledger,
		deposits: deposits,
		escrow:   escrow,
		cfg:      cfg,
		logger:   logger,
	}
}

// AuditBalances verifies that every user's cached balance equals the ledger
// delta sum. Every balance mutation writes a ledger row in the same
// transaction, so any drift means a bug or manual interference. Drift is
// reported, never auto-corrected.
func (s *Service) AuditBalances(ctx context.Context) (int, error) {
	mismatches := 0
	offset := 0

	for {
		ids, err := s.users.ListIDs(ctx, auditPageSize, offset)
		if err != nil {
			return mismatches, fmt.Errorf("list users: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			user, err := s.users.GetByID(ctx, id)
			if err != nil {
				return mismatches, err
			}
			ledgerSum, err := s.ledger.SumDeltaForUser(ctx, id)
			if err != nil {
				return mismatches, err
			}
			if user.StarBalance != ledgerSum {
				mismatches++
				metrics.BalanceDrift.Inc()
				s.logger.Error("balance drift detected",
					"user_id", id,
					"cached_balance", user.StarBalance,
					"ledger_sum", ledgerSum,
					"drift", user.StarBalance-ledgerSum)
			}
		}

		offset += auditPageSize
	}

	if mismatches == 0 {
		s.logger.Info("balance audit clean")
	}
	return mismatches, nil
}

// SweepStaleSubmitted parks deposits stuck in submitted longer than the
// configured age for review. A late webhook can still recover them; review
// is not terminal.
func (s *Service) SweepStaleSubmitted(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.StaleSubmittedAge())
	deposits, err := s.deposits.ListStaleSubmitted(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale deposits: %w", err)
	}

	swept := 0
	for _, dep := range deposits {
		reason := fmt.Sprintf("no observation %s after submission", s.cfg.StaleSubmittedAge())
		if err := s.deposits.Transition(ctx, dep.ID, entities.DepositStatusSubmitted, entities.DepositStatusNeedsReview, &reason); err != nil {
			// A webhook may have advanced it since the listing. Skip.
			s.logger.Info("stale sweep lost race", "deposit_id", dep.ID, "error", err)
			continue
		}
		if err := s.deposits.AppendEvent(ctx, &entities.DepositEvent{
			ID:        uuid.New(),
			DepositID: dep.ID,
			Type:      entities.DepositEventStatusChanged,
			Message:   reason,
			CreatedAt: time.Now(),
		}); err != nil {
			return swept, err
		}
		metrics.DepositsParkedForReview.WithLabelValues("stale_submitted").Inc()
		swept++
	}

	if swept > 0 {
		s.logger.Info("stale submitted deposits parked for review", "count", swept)
	}
	return swept, nil
}

// SweepMaturedHolds releases matured holds platform-wide
func (s *Service) SweepMaturedHolds(ctx context.Context) (int, error) {
	released, err := s.escrow.ReleaseMaturedHolds(ctx, nil, time.Now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("release matured holds: %w", err)
	}
	if released > 0 {
		s.logger.Info("matured holds released", "count", released)
	}
	return released, nil
}
