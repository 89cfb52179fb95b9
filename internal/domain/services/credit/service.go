package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/domain/services/risk"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
	"github.com/stars-service/stars_service/internal/infrastructure/metrics"
	"github.com/stars-service/stars_service/pkg/logger"
)

type depositStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	Transition(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error
	AssignUser(ctx context.Context, id, userID uuid.UUID) error
	AppendEvent(ctx context.Context, event *entities.DepositEvent) error
	ListByStatus(ctx context.Context, status entities.DepositStatus, limit, offset int) ([]*entities.Deposit, error)
	ListEvents(ctx context.Context, depositID uuid.UUID) ([]*entities.DepositEvent, error)
}

type ledgerStore interface {
	Insert(ctx context.Context, tx *entities.StarTransaction) error
	SumCreditedForDeposit(ctx context.Context, depositID uuid.UUID) (int64, error)
	ListForDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.StarTransaction, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarTransaction, error)
}

type userStore interface {
	AdjustBalance(ctx context.Context, id uuid.UUID, delta int64) error
}

type catalogStore interface {
	GetPackage(ctx context.Context, id uuid.UUID) (*entities.StarPackage, error)
	GetCouponByCode(ctx context.Context, code string) (*entities.Coupon, error)
	ConsumeCouponUse(ctx context.Context, id uuid.UUID) error
}

type outboxStore interface {
	Insert(ctx context.Context, msg *entities.OutboxMessage) error
}

type riskGate interface {
	Evaluate(ctx context.Context, userID uuid.UUID, pendingStars int64, now time.Time) (risk.Decision, error)
	RecordCredit(ctx context.Context, userID uuid.UUID, now time.Time)
}

type referralApplier interface {
	Apply(ctx context.Context, kind entities.ReferralSourceKind, sourceID, userID uuid.UUID, creditedStars int64, depositID *uuid.UUID) error
}

// Service applies and reverses star credits. Every mutation runs in one
// serializable transaction; the ledger's unique keys make each layer
// single-shot no matter how often the flow is retried.
type Service struct {
	deposits  depositStore
	ledger    ledgerStore
	users     userStore
	catalog   catalogStore
	outbox    outboxStore
	gate      riskGate
	referrals referralApplier
	runner    database.Runner
	logger    *logger.Logger
}

// NewService creates a credit service
func NewService(
	deposits depositStore,
	ledger ledgerStore,
	users userStore,
	catalog catalogStore,
	outbox outboxStore,
	gate riskGate,
	referrals referralApplier,
	runner database.Runner,
	logger *logger.Logger,
) *Service {
	return &Service{
		deposits:  deposits,
		ledger:    ledger,
		users:     users,
		catalog:   catalog,
		outbox:    outbox,
		gate:      gate,
		referrals: referrals,
		runner:    runner,
		logger:    logger,
	}
}

// CreditDeposit credits a confirmed deposit through the risk gate. Calling it
// again on an already-credited deposit is a no-op.
func (s *Service) CreditDeposit(ctx context.Context, depositID uuid.UUID) error {
	return s.credit(ctx, depositID, false, "confirmed observation")
}

// ManualCredit credits a deposit by operator decision, bypassing the risk
// gate. Allowed from needs_review and unmatched in addition to confirmed.
func (s *Service) ManualCredit(ctx context.Context, depositID uuid.UUID, note string) error {
	return s.credit(ctx, depositID, true, note)
}

func (s *Service) credit(ctx context.Context, depositID uuid.UUID, manual bool, reason string) error {
	var credited int64
	var creditedUser uuid.UUID
	var applied bool

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		dep, err := s.deposits.GetForUpdate(ctx, depositID)
		if err != nil {
			return err
		}

		if dep.Status == entities.DepositStatusCredited {
			s.logger.Info("deposit already credited", "deposit_id", depositID)
			return nil
		}

		if dep.UserID == nil {
			return s.parkUnmatched(ctx, dep)
		}

		switch dep.Status {
		case entities.DepositStatusConfirmed:
		case entities.DepositStatusNeedsReview, entities.DepositStatusUnmatched:
			if !manual {
				return fmt.Errorf("deposit %s awaits operator action: %w", depositID, domainerrors.ErrConflict)
			}
		default:
			return domainerrors.TransitionError(string(dep.Status), string(entities.DepositStatusCredited))
		}

		base, bundle, err := s.packageStars(ctx, dep)
		if err != nil {
			return err
		}
		if base == 0 {
			return s.parkForReview(ctx, dep, "no star package resolves to a base amount")
		}

		now := time.Now()
		coupon, err := s.resolveCoupon(ctx, dep, now)
		if err != nil {
			return err
		}
		var couponBonus int64
		if coupon != nil {
			couponBonus = coupon.BonusFor(base)
		}

		// The gate judges the full amount this credit intends to add, not
		// just what is left after idempotent layer skips.
		intended := base + bundle + couponBonus

		if !manual {
			decision, err := s.gate.Evaluate(ctx, *dep.UserID, intended, now)
			if err != nil {
				return fmt.Errorf("evaluate risk gate: %w", err)
			}
			if !decision.Allowed {
				metrics.DepositsParkedForReview.WithLabelValues(decision.Rule).Inc()
				return s.parkForRisk(ctx, dep, decision)
			}
		}

		total := int64(0)
		add := func(txType entities.StarTxType, stars int64, note *string) error {
			delta, err := s.applyLayer(ctx, dep, txType, stars, now, note)
			if err != nil {
				return err
			}
			total += delta
			return nil
		}

		if err := add(entities.StarTxTopup, base, nil); err != nil {
			return err
		}
		if bundle > 0 {
			if err := add(entities.StarTxBundleBonus, bundle, nil); err != nil {
				return err
			}
		}
		if couponBonus > 0 {
			if err := s.catalog.ConsumeCouponUse(ctx, coupon.ID); err != nil {
				if !errors.Is(err, domainerrors.ErrConflict) {
					return fmt.Errorf("consume coupon: %w", err)
				}
				if err := s.appendEvent(ctx, dep.ID, entities.DepositEventStatusChanged,
					"coupon exhausted at credit time", map[string]interface{}{"code": coupon.Code}); err != nil {
					return err
				}
				couponBonus = 0
				intended = base + bundle
			} else if err := add(entities.StarTxCouponBonus, couponBonus, &coupon.Code); err != nil {
				return err
			}
		}

		if total > 0 {
			if err := s.users.AdjustBalance(ctx, *dep.UserID, total); err != nil {
				return fmt.Errorf("credit user balance: %w", err)
			}
		}

		// The referrer's cut is a percentage of everything the deposit
		// credits, bonus layers included. Using intended rather than total
		// keeps the payout stable when a retry skips already-applied layers.
		if err := s.referrals.Apply(ctx, entities.ReferralSourceTopup, dep.ID, *dep.UserID, intended, &dep.ID); err != nil {
			return fmt.Errorf("apply referral bonus: %w", err)
		}

		if err := s.deposits.Transition(ctx, dep.ID, dep.Status, entities.DepositStatusCredited, &reason); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, dep.ID, entities.DepositEventCredited,
			fmt.Sprintf("credited %d stars", total),
			map[string]interface{}{"stars": total, "manual": manual}); err != nil {
			return err
		}

		if err := s.enqueue(ctx, entities.OutboxDepositCredited, dep.UserID, map[string]interface{}{
			"deposit_id": dep.ID,
			"stars":      total,
		}); err != nil {
			return err
		}

		credited = total
		creditedUser = *dep.UserID
		applied = true
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		metrics.DepositsCredited.Inc()
		metrics.StarsCredited.Add(float64(credited))
		s.gate.RecordCredit(ctx, creditedUser, time.Now())
		s.logger.Info("deposit credited",
			"deposit_id", depositID, "user_id", creditedUser, "stars", credited, "manual", manual)
	}

	return nil
}

// RefundDeposit reverses everything the deposit credited to its owner with a
// single refund row. Refunding an uncredited deposit is a zero-value no-op;
// refunding twice is impossible because refunded is terminal.
func (s *Service) RefundDeposit(ctx context.Context, depositID uuid.UUID, reason string) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		dep, err := s.deposits.GetForUpdate(ctx, depositID)
		if err != nil {
			return err
		}

		if dep.Status == entities.DepositStatusRefunded {
			return nil
		}
		if dep.Status != entities.DepositStatusCredited {
			s.logger.Info("refund of uncredited deposit is a no-op",
				"deposit_id", depositID, "status", dep.Status)
			return nil
		}

		sum, err := s.ledger.SumCreditedForDeposit(ctx, dep.ID)
		if err != nil {
			return err
		}

		if sum > 0 {
			entry := &entities.StarTransaction{
				ID:        uuid.New(),
				UserID:    *dep.UserID,
				Type:      entities.StarTxRefund,
				Delta:     -sum,
				Stars:     sum,
				DepositID: &dep.ID,
				Note:      &reason,
				CreatedAt: time.Now(),
			}
			if err := s.ledger.Insert(ctx, entry); err != nil {
				if !errors.Is(err, domainerrors.ErrAlreadyExists) {
					return fmt.Errorf("write refund row: %w", err)
				}
			} else {
				if err := s.users.AdjustBalance(ctx, *dep.UserID, -sum); err != nil {
					return fmt.Errorf("debit refunded stars: %w", err)
				}
			}
		}

		if err := s.deposits.Transition(ctx, dep.ID, entities.DepositStatusCredited, entities.DepositStatusRefunded, &reason); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, dep.ID, entities.DepositEventRefunded,
			fmt.Sprintf("refunded %d stars", sum),
			map[string]interface{}{"stars": sum, "reason": reason}); err != nil {
			return err
		}

		return s.enqueue(ctx, entities.OutboxDepositRefunded, dep.UserID, map[string]interface{}{
			"deposit_id": dep.ID,
			"stars":      sum,
		})
	})
}

// applyLayer writes one credit-layer ledger row. An existing row for the same
// (deposit, type) means the layer was applied by a previous committed run; it
// contributes nothing to this run's balance adjustment.
func (s *Service) applyLayer(ctx context.Context, dep *entities.Deposit, txType entities.StarTxType, stars int64, now time.Time, note *string) (int64, error) {
	entry := &entities.StarTransaction{
		ID:        uuid.New(),
		UserID:    *dep.UserID,
		Type:      txType,
		Delta:     stars,
		Stars:     stars,
		DepositID: &dep.ID,
		Note:      note,
		CreatedAt: now,
	}
	if err := s.ledger.Insert(ctx, entry); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			s.logger.Info("credit layer already applied",
				"deposit_id", dep.ID, "type", txType)
			return 0, nil
		}
		return 0, fmt.Errorf("write %s row: %w", txType, err)
	}
	return stars, nil
}

func (s *Service) packageStars(ctx context.Context, dep *entities.Deposit) (base, bundle int64, err error) {
	if dep.PackageID == nil {
		return 0, 0, nil
	}
	pkg, err := s.catalog.GetPackage(ctx, *dep.PackageID)
	if err != nil {
		return 0, 0, fmt.Errorf("load package: %w", err)
	}
	return pkg.Stars, pkg.BonusStars, nil
}

// resolveCoupon re-validates the deposit's coupon at credit time. A missing
// or expired coupon drops the layer and leaves an event; it never blocks the
// credit. Use consumption happens later, once the layers actually apply.
func (s *Service) resolveCoupon(ctx context.Context, dep *entities.Deposit, now time.Time) (*entities.Coupon, error) {
	if dep.CouponCode == nil || *dep.CouponCode == "" {
		return nil, nil
	}

	coupon, err := s.catalog.GetCouponByCode(ctx, *dep.CouponCode)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, s.appendEvent(ctx, dep.ID, entities.DepositEventStatusChanged,
				"coupon not found at credit time", map[string]interface{}{"code": *dep.CouponCode})
		}
		return nil, fmt.Errorf("load coupon: %w", err)
	}

	if !coupon.IsValidAt(now) {
		return nil, s.appendEvent(ctx, dep.ID, entities.DepositEventStatusChanged,
			"coupon invalid at credit time", map[string]interface{}{"code": coupon.Code})
	}

	return coupon, nil
}

func (s *Service) parkUnmatched(ctx context.Context, dep *entities.Deposit) error {
	if dep.Status == entities.DepositStatusUnmatched {
		return nil
	}
	reason := "no user attached"
	if err := s.deposits.Transition(ctx, dep.ID, dep.Status, entities.DepositStatusUnmatched, &reason); err != nil {
		return err
	}
	return s.appendEvent(ctx, dep.ID, entities.DepositEventStatusChanged,
		"parked as unmatched: no user attached", nil)
}

func (s *Service) parkForReview(ctx context.Context, dep *entities.Deposit, reason string) error {
	if dep.Status != entities.DepositStatusNeedsReview {
		if err := s.deposits.Transition(ctx, dep.ID, dep.Status, entities.DepositStatusNeedsReview, &reason); err != nil {
			return err
		}
	}
	metrics.DepositsParkedForReview.WithLabelValues("zero_base_stars").Inc()
	return s.appendEvent(ctx, dep.ID, entities.DepositEventStatusChanged, reason, nil)
}

func (s *Service) parkForRisk(ctx context.Context, dep *entities.Deposit, decision risk.Decision) error {
	reason := fmt.Sprintf("risk rule %s: %s", decision.Rule, decision.Detail)
	if dep.Status != entities.DepositStatusNeedsReview {
		if err := s.deposits.Transition(ctx, dep.ID, dep.Status, entities.DepositStatusNeedsReview, &reason); err != nil {
			return err
		}
	}
	if err := s.appendEvent(ctx, dep.ID, entities.DepositEventRiskHold, reason,
		map[string]interface{}{"rule": decision.Rule}); err != nil {
		return err
	}
	s.logger.Warn("deposit held by risk gate", "deposit_id", dep.ID, "rule", decision.Rule)

	return s.enqueue(ctx, entities.OutboxDepositReview, dep.UserID, map[string]interface{}{
		"deposit_id": dep.ID,
		"rule":       decision.Rule,
	})
}

func (s *Service) appendEvent(ctx context.Context, depositID uuid.UUID, eventType entities.DepositEventType, message string, data map[string]interface{}) error {
	return s.deposits.AppendEvent(ctx, &entities.DepositEvent{
		ID:        uuid.New(),
		DepositID: depositID,
		Type:      eventType,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	})
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
