package credit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
)

// Operator actions on stuck deposits. Each one is a thin state change; the
// heavy lifting stays in the credit and refund flows.

// AssignUser attaches a user to an unmatched deposit so it can be credited
func (s *Service) AssignUser(ctx context.Context, depositID, userID uuid.UUID) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		dep, err := s.deposits.GetForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if dep.Status != entities.DepositStatusUnmatched && dep.Status != entities.DepositStatusNeedsReview {
			return fmt.Errorf("deposit %s is %s, not awaiting assignment: %w",
				depositID, dep.Status, domainerrors.ErrConflict)
		}

		if err := s.deposits.AssignUser(ctx, depositID, userID); err != nil {
			return err
		}
		return s.appendEvent(ctx, depositID, entities.DepositEventUserAssigned,
			fmt.Sprintf("user %s assigned by operator", userID),
			map[string]interface{}{"user_id": userID})
	})
}

// ForceFail closes a deposit that will never complete
func (s *Service) ForceFail(ctx context.Context, depositID uuid.UUID, reason string) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		dep, err := s.deposits.GetForUpdate(ctx, depositID)
		if err != nil {
			return err
		}
		if dep.Status == entities.DepositStatusFailed {
			return nil
		}
		if err := s.deposits.Transition(ctx, dep.ID, dep.Status, entities.DepositStatusFailed, &reason); err != nil {
			return err
		}
		return s.appendEvent(ctx, dep.ID, entities.DepositEventStatusChanged,
			fmt.Sprintf("force-failed: %s", reason), nil)
	})
}

// ReviewQueue lists deposits waiting for an operator decision
func (s *Service) ReviewQueue(ctx context.Context, status entities.DepositStatus, limit, offset int) ([]*entities.Deposit, error) {
	if status != entities.DepositStatusNeedsReview && status != entities.DepositStatusUnmatched {
		return nil, fmt.Errorf("status %s is not a review queue: %w", status, domainerrors.ErrInvalidInput)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.deposits.ListByStatus(ctx, status, limit, offset)
}

// DepositTrail returns a deposit with its full audit trail: the event rows
// and every ledger line the deposit produced.
func (s *Service) DepositTrail(ctx context.Context, depositID uuid.UUID) (*entities.Deposit, []*entities.DepositEvent, []*entities.StarTransaction, error) {
	dep, err := s.deposits.GetByID(ctx, depositID)
	if err != nil {
		return nil, nil, nil, err
	}
	events, err := s.deposits.ListEvents(ctx, depositID)
	if err != nil {
		return nil, nil, nil, err
	}
	ledger, err := s.ledger.ListForDeposit(ctx, depositID)
	if err != nil {
		return nil, nil, nil, err
	}
	return dep, events, ledger, nil
}

// UserHistory pages through a user's ledger, newest first
func (s *Service) UserHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.ListForUser(ctx, userID, limit, offset)
}
