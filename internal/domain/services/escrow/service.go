package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
	"github.com/stars-service/stars_service/pkg/logger"
)

type holdStore interface {
	Insert(ctx context.Context, hold *entities.StarHold) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.StarHold, error)
	CloseIfHeld(ctx context.Context, id uuid.UUID, to entities.HoldStatus) (bool, error)
	ListMaturedHeld(ctx context.Context, userID *uuid.UUID, now time.Time, limit int) ([]*entities.StarHold, error)
	SumOpenByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ListOpenByUser(ctx context.Context, userID uuid.UUID) ([]*entities.StarHold, error)
}

type userStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	AdjustBalance(ctx context.Context, id uuid.UUID, delta int64) error
}

type ledgerStore interface {
	Insert(ctx context.Context, tx *entities.StarTransaction) error
}

type outboxStore interface {
	Insert(ctx context.Context, msg *entities.OutboxMessage) error
}

// Service escrows stars outside the spendable balance. Creating a hold debits
// the balance, releasing credits it back, settling hands the stars to a
// counterparty instead. Every path pairs its balance adjustment with a ledger
// row in the same transaction, so the ledger delta sum always equals the
// cached balance.
type Service struct {
	holds  holdStore
	users  userStore
	ledger ledgerStore
	outbox outboxStore
	runner database.Runner
	logger *logger.Logger
}

// NewService creates an escrow service
func NewService(
	holds holdStore,
	users userStore,
	ledger ledgerStore,
	outbox outboxStore,
	runner database.Runner,
	logger *logger.Logger,
) *Service {
	return &Service{
		holds:  holds,
		users:  users,
		ledger: ledger,
		outbox: outbox,
		runner: runner,
		logger: logger,
	}
}

// BalanceSummary is a user's spendable balance next to what escrow holds back
type BalanceSummary struct {
	UserID    uuid.UUID            `json:"user_id"`
	Spendable int64                `json:"spendable_stars"`
	Held      int64                `json:"held_stars"`
	OpenHolds []*entities.StarHold `json:"open_holds"`
}

// Balance reports a user's spendable balance alongside the stars escrowed in
// open holds. Spendable plus held is everything the user owns.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (*BalanceSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	held, err := s.holds.SumOpenByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	open, err := s.holds.ListOpenByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceSummary{
		UserID:    userID,
		Spendable: user.StarBalance,
		Held:      held,
		OpenHolds: open,
	}, nil
}

// CreateHold locks stars out of the spendable balance. Fails with
// ErrInsufficientStars when the balance cannot cover the amount; the check
// and the decrement are one conditional update, so a concurrent spend cannot
// slip between them.
func (s *Service) CreateHold(ctx context.Context, userID uuid.UUID, amount int64, reason entities.HoldReason, refType *string, refID *uuid.UUID, releaseAt *time.Time) (*entities.StarHold, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("hold amount must be positive: %w", domainerrors.ErrInvalidInput)
	}

	hold := &entities.StarHold{
		ID:          uuid.New(),
		UserID:      userID,
		AmountStars: amount,
		Status:      entities.HoldStatusHeld,
		Reason:      reason,
		RefType:     refType,
		RefID:       refID,
		ReleaseAt:   releaseAt,
		CreatedAt:   time.Now(),
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.AdjustBalance(ctx, userID, -amount); err != nil {
			return err
		}
		if err := s.holds.Insert(ctx, hold); err != nil {
			return err
		}
		return s.writeHoldRow(ctx, hold, entities.StarTxHold, -amount)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("hold created",
		"hold_id", hold.ID, "user_id", userID, "stars", amount, "reason", reason)
	return hold, nil
}

// ReleaseHoldNow returns a single hold to its owner. Safe to race with a
// settlement or another release: only the caller whose conditional update
// lands performs the balance credit, everyone else no-ops.
func (s *Service) ReleaseHoldNow(ctx context.Context, holdID uuid.UUID, note *string) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		hold, err := s.holds.GetByID(ctx, holdID)
		if err != nil {
			return err
		}
		return s.releaseLocked(ctx, hold, note)
	})
}

// ReleaseMaturedHolds returns every matured hold to its owner, for one user
// or platform-wide when userID is nil. Returns how many holds were released.
func (s *Service) ReleaseMaturedHolds(ctx context.Context, userID *uuid.UUID, now time.Time, limit int) (int, error) {
	released := 0
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		holds, err := s.holds.ListMaturedHeld(ctx, userID, now, limit)
		if err != nil {
			return err
		}
		for _, hold := range holds {
			if err := s.releaseLocked(ctx, hold, nil); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// SettleHold consumes a hold: the escrowed stars go to the beneficiary, never
// back to the holder. The holder's balance was already debited at creation,
// so settlement writes no row for the holder.
func (s *Service) SettleHold(ctx context.Context, holdID, beneficiaryID uuid.UUID, txType entities.StarTxType, note *string) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		hold, err := s.holds.GetByID(ctx, holdID)
		if err != nil {
			return err
		}
		return s.settleLocked(ctx, hold, beneficiaryID, txType, note)
	})
}

// SpendStars debits stars for an in-app purchase. When the balance falls
// short it first releases the user's matured holds and retries once.
func (s *Service) SpendStars(ctx context.Context, userID uuid.UUID, amount int64, note *string) error {
	if amount <= 0 {
		return fmt.Errorf("spend amount must be positive: %w", domainerrors.ErrInvalidInput)
	}

	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		err := s.users.AdjustBalance(ctx, userID, -amount)
		if errors.Is(err, domainerrors.ErrInsufficientStars) {
			holds, listErr := s.holds.ListMaturedHeld(ctx, &userID, time.Now(), 100)
			if listErr != nil {
				return listErr
			}
			for _, hold := range holds {
				if relErr := s.releaseLocked(ctx, hold, nil); relErr != nil {
					return relErr
				}
			}
			err = s.users.AdjustBalance(ctx, userID, -amount)
		}
		if err != nil {
			return err
		}

		entry := &entities.StarTransaction{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      entities.StarTxSpend,
			Delta:     -amount,
			Stars:     amount,
			Note:      note,
			CreatedAt: time.Now(),
		}
		return s.ledger.Insert(ctx, entry)
	})
}

func (s *Service) releaseLocked(ctx context.Context, hold *entities.StarHold, note *string) error {
	won, err := s.holds.CloseIfHeld(ctx, hold.ID, entities.HoldStatusReleased)
	if err != nil {
		return err
	}
	if !won {
		s.logger.Info("hold already closed", "hold_id", hold.ID)
		return nil
	}

	if err := s.users.AdjustBalance(ctx, hold.UserID, hold.AmountStars); err != nil {
		return fmt.Errorf("return held stars: %w", err)
	}
	if err := s.writeHoldRow(ctx, hold, entities.StarTxHoldRelease, hold.AmountStars); err != nil {
		return err
	}

	return s.enqueue(ctx, entities.OutboxHoldReleased, &hold.UserID, map[string]interface{}{
		"hold_id": hold.ID,
		"stars":   hold.AmountStars,
	})
}

func (s *Service) settleLocked(ctx context.Context, hold *entities.StarHold, beneficiaryID uuid.UUID, txType entities.StarTxType, note *string) error {
	won, err := s.holds.CloseIfHeld(ctx, hold.ID, entities.HoldStatusSettled)
	if err != nil {
		return err
	}
	if !won {
		s.logger.Info("hold already closed", "hold_id", hold.ID)
		return nil
	}

	refType := "hold"
	entry := &entities.StarTransaction{
		ID:        uuid.New(),
		UserID:    beneficiaryID,
		Type:      txType,
		Delta:     hold.AmountStars,
		Stars:     hold.AmountStars,
		RefType:   &refType,
		RefID:     &hold.ID,
		Note:      note,
		CreatedAt: time.Now(),
	}
	if err := s.ledger.Insert(ctx, entry); err != nil {
		return fmt.Errorf("write settlement row: %w", err)
	}
	if err := s.users.AdjustBalance(ctx, beneficiaryID, hold.AmountStars); err != nil {
		return fmt.Errorf("credit beneficiary: %w", err)
	}

	s.logger.Info("hold settled",
		"hold_id", hold.ID, "beneficiary_id", beneficiaryID, "stars", hold.AmountStars)
	return nil
}

func (s *Service) writeHoldRow(ctx context.Context, hold *entities.StarHold, txType entities.StarTxType, delta int64) error {
	refType := "hold"
	entry := &entities.StarTransaction{
		ID:        uuid.New(),
		UserID:    hold.UserID,
		Type:      txType,
		Delta:     delta,
		Stars:     hold.AmountStars,
		RefType:   &refType,
		RefID:     &hold.ID,
		CreatedAt: time.Now(),
	}
	if err := s.ledger.Insert(ctx, entry); err != nil {
		return fmt.Errorf("write %s row: %w", txType, err)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, kind entities.OutboxKind, userID *uuid.UUID, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	return s.outbox.Insert(ctx, &entities.OutboxMessage{
		ID:            uuid.New(),
		UserID:        userID,
		Kind:          kind,
		Payload:       body,
		Status:        entities.OutboxPending,
		NextAttemptAt: time.Now(),
		CreatedAt:     time.Now(),
	})
}
