package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
	"github.com/stars-service/stars_service/internal/infrastructure/metrics"
	"github.com/stars-service/stars_service/pkg/logger"
)

type depositStore interface {
	Create(ctx context.Context, deposit *entities.Deposit) error
	GetByTxHash(ctx context.Context, chain entities.Chain, tokenID uuid.UUID, txHash string) (*entities.Deposit, error)
	GetByMemo(ctx context.Context, chain entities.Chain, tokenID uuid.UUID, memo string) (*entities.Deposit, error)
	GetLatestOpenByAddress(ctx context.Context, custodialAddressID uuid.UUID) (*entities.Deposit, error)
	RecordObservation(ctx context.Context, id uuid.UUID, txHash string, amount decimal.Decimal, memo *string) error
	StampTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	Transition(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error
	AppendEvent(ctx context.Context, event *entities.DepositEvent) error
}

type auditStore interface {
	Record(ctx context.Context, provider string, chain entities.Chain, payload []byte) (*entities.WebhookAuditEntry, bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, status entities.WebhookAuditStatus, depositID *uuid.UUID) error
}

type catalogStore interface {
	GetCustodialAddress(ctx context.Context, chain entities.Chain, address string) (*entities.CustodialAddress, error)
	GetTokenByContract(ctx context.Context, chain entities.Chain, contract string) (*entities.Token, error)
	GetTokenBySymbol(ctx context.Context, chain entities.Chain, symbol string) (*entities.Token, error)
	GetToken(ctx context.Context, id uuid.UUID) (*entities.Token, error)
	GetPackage(ctx context.Context, id uuid.UUID) (*entities.StarPackage, error)
	GetCouponByCode(ctx context.Context, code string) (*entities.Coupon, error)
	PickCustodialAddress(ctx context.Context, chain entities.Chain) (*entities.CustodialAddress, error)
}

type crediter interface {
	CreditDeposit(ctx context.Context, depositID uuid.UUID) error
}

// Service turns raw provider webhooks into deposit state transitions.
// Processing is split in two transactions: the intake transaction records the
// observation and moves the deposit, then crediting runs in its own
// transaction so a credit failure never loses the observation.
type Service struct {
	deposits depositStore
	audits   auditStore
	catalog  catalogStore
	crediter crediter
	runner   database.Runner
	cfg      *config.Config
	validate *validator.Validate
	logger   *logger.Logger
}

// NewService creates an intake service
func NewService(
	deposits depositStore,
	audits auditStore,
	catalog catalogStore,
	crediter crediter,
	runner database.Runner,
	cfg *config.Config,
	logger *logger.Logger,
) *Service {
	return &Service{
		deposits: deposits,
		audits:   audits,
		catalog:  catalog,
		crediter: crediter,
		runner:   runner,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// ProcessWebhook handles one raw delivery end to end: dedupe, normalize,
// match, verify tolerance, advance the deposit, and trigger crediting when
// the chain policy confirms immediately. Byte-identical redeliveries of an
// already-processed payload are silent no-ops.
func (s *Service) ProcessWebhook(ctx context.Context, provider string, chain entities.Chain, payload []byte) error {
	metrics.WebhooksReceived.WithLabelValues(provider, string(chain)).Inc()

	entry, isNew, err := s.audits.Record(ctx, provider, chain, payload)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	if !isNew && entry.Status == entities.WebhookAuditProcessed {
		metrics.WebhooksDuplicate.WithLabelValues(provider, string(chain)).Inc()
		s.logger.Info("duplicate webhook delivery skipped",
			"provider", provider, "chain", chain, "sha256", entry.SHA256)
		return nil
	}

	obs, err := s.parseObservation(payload)
	if err != nil {
		s.markFailed(ctx, entry.ID)
		return err
	}

	addr, err := s.catalog.GetCustodialAddress(ctx, chain, obs.ToAddress)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			// Transfer to an address we do not own. Recorded and ignored.
			s.logger.Warn("webhook for unknown address",
				"provider", provider, "chain", chain, "to_address", obs.ToAddress)
			return s.audits.MarkProcessed(ctx, entry.ID, entities.WebhookAuditProcessed, nil)
		}
		s.markFailed(ctx, entry.ID)
		return fmt.Errorf("resolve custodial address: %w", err)
	}

	token, err := s.resolveToken(ctx, chain, obs)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			s.logger.Warn("webhook for unsupported token",
				"provider", provider, "chain", chain, "tx_hash", obs.TxHash)
			return s.audits.MarkProcessed(ctx, entry.ID, entities.WebhookAuditProcessed, nil)
		}
		s.markFailed(ctx, entry.ID)
		return fmt.Errorf("resolve token: %w", err)
	}

	var depositID uuid.UUID
	var confirmed bool

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		result, err := s.matchDeposit(ctx, chain, token.ID, addr.ID, obs)
		if errors.Is(err, domainerrors.ErrUnmatched) {
			dep, err := s.recordUnmatched(ctx, chain, token.ID, addr.ID, obs)
			if err != nil {
				return err
			}
			depositID = dep.ID
			return s.audits.MarkProcessed(ctx, entry.ID, entities.WebhookAuditProcessed, &dep.ID)
		}
		if err != nil {
			return err
		}

		dep := result.deposit
		depositID = dep.ID

		// A tx-hash match can land on a deposit that already settled. Its
		// observed amount is part of the settled record; a late redelivery
		// must not rewrite it.
		if !dep.Status.IsOpen() {
			s.logger.Info("observation for settled deposit ignored",
				"deposit_id", dep.ID, "status", dep.Status, "tx_hash", obs.TxHash)
			return s.audits.MarkProcessed(ctx, entry.ID, entities.WebhookAuditProcessed, &dep.ID)
		}

		if err := s.deposits.RecordObservation(ctx, dep.ID, obs.TxHash, obs.Amount, obs.Memo); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, dep.ID, entities.DepositEventObservationMatch,
			fmt.Sprintf("matched by %s", result.rule),
			map[string]interface{}{"rule": result.rule, "tx_hash": obs.TxHash, "amount": obs.Amount.String()}); err != nil {
			return err
		}

		if !WithinTolerance(dep.ExpectedAmount, obs.Amount, s.cfg.Payment.ToleranceBps) {
			return s.parkForReview(ctx, entry.ID, dep, obs)
		}

		target := entities.DepositStatusObserved
		if s.cfg.ChainPolicy(string(chain)).ConfirmImmediately {
			target = entities.DepositStatusConfirmed
		}
		if dep.Status != target && dep.Status.CanTransitionTo(target) {
			if err := s.deposits.Transition(ctx, dep.ID, dep.Status, target, nil); err != nil {
				return err
			}
			if err := s.appendEvent(ctx, dep.ID, entities.DepositEventStatusChanged,
				fmt.Sprintf("%s -> %s", dep.Status, target), nil); err != nil {
				return err
			}
		}
		confirmed = target == entities.DepositStatusConfirmed || dep.Status == entities.DepositStatusConfirmed

		return s.audits.MarkProcessed(ctx, entry.ID, entities.WebhookAuditProcessed, &dep.ID)
	})
	if err != nil {
		s.markFailed(ctx, entry.ID)
		return fmt.Errorf("process observation: %w", err)
	}

	if confirmed {
		if err := s.crediter.CreditDeposit(ctx, depositID); err != nil {
			// The observation is committed; crediting retries through the
			// provider's redelivery or an operator action.
			s.logger.Error("credit after confirm failed", "error", err, "deposit_id", depositID)
			return fmt.Errorf("credit deposit: %w", err)
		}
	}

	return nil
}

func (s *Service) parseObservation(payload []byte) (*entities.Observation, error) {
	var obs entities.Observation
	if err := json.Unmarshal(payload, &obs); err != nil {
		return nil, fmt.Errorf("decode observation: %w", domainerrors.ErrInvalidInput)
	}
	if err := s.validate.Struct(&obs); err != nil {
		return nil, fmt.Errorf("validate observation: %w", domainerrors.ErrInvalidInput)
	}
	if obs.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive amount: %w", domainerrors.ErrInvalidInput)
	}
	return &obs, nil
}

func (s *Service) resolveToken(ctx context.Context, chain entities.Chain, obs *entities.Observation) (*entities.Token, error) {
	if obs.TokenContract != nil && *obs.TokenContract != "" {
		return s.catalog.GetTokenByContract(ctx, chain, *obs.TokenContract)
	}
	if obs.AssetSymbol != nil && *obs.AssetSymbol != "" {
		return s.catalog.GetTokenBySymbol(ctx, chain, *obs.AssetSymbol)
	}
	return nil, domainerrors.ErrNotFound
}

// recordUnmatched keeps an observation with no matching intent as an
// unmatched deposit so an operator can later assign a user and credit it.
func (s *Service) recordUnmatched(ctx context.Context, chain entities.Chain, tokenID, addressID uuid.UUID, obs *entities.Observation) (*entities.Deposit, error) {
	dep := &entities.Deposit{
		ID:                 uuid.New(),
		Chain:              chain,
		TokenID:            tokenID,
		CustodialAddressID: addressID,
		ExpectedAmount:     obs.Amount,
		TxHash:             &obs.TxHash,
		Memo:               obs.Memo,
		Status:             entities.DepositStatusUnmatched,
		CreatedAt:          time.Now(),
	}
	if err := s.deposits.Create(ctx, dep); err != nil {
		return nil, fmt.Errorf("record unmatched observation: %w", err)
	}
	if err := s.deposits.RecordObservation(ctx, dep.ID, obs.TxHash, obs.Amount, obs.Memo); err != nil {
		return nil, err
	}
	if err := s.appendEvent(ctx, dep.ID, entities.DepositEventCreated,
		"unmatched observation recorded",
		map[string]interface{}{"tx_hash": obs.TxHash, "amount": obs.Amount.String()}); err != nil {
		return nil, err
	}

	s.logger.Warn("unmatched chain observation",
		"chain", chain, "tx_hash", obs.TxHash, "amount", obs.Amount.String())
	return dep, nil
}

func (s *Service) parkForReview(ctx context.Context, auditID uuid.UUID, dep *entities.Deposit, obs *entities.Observation) error {
	reason := fmt.Sprintf("amount %s outside %d bps tolerance of expected %s",
		obs.Amount.String(), s.cfg.Payment.ToleranceBps, dep.ExpectedAmount.String())

	if dep.Status != entities.DepositStatusNeedsReview {
		if err := s.deposits.Transition(ctx, dep.ID, dep.Status, entities.DepositStatusNeedsReview, &reason); err != nil {
			return err
		}
	}
	if err := s.appendEvent(ctx, dep.ID, entities.DepositEventToleranceFail, reason,
		map[string]interface{}{"expected": dep.ExpectedAmount.String(), "actual": obs.Amount.String()}); err != nil {
		return err
	}

	metrics.DepositsParkedForReview.WithLabelValues("tolerance_violation").Inc()
	s.logger.Warn("deposit parked for review", "deposit_id", dep.ID, "reason", reason)

	return s.audits.MarkProcessed(ctx, auditID, entities.WebhookAuditProcessed, &dep.ID)
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

func (s *Service) markFailed(ctx context.Context, auditID uuid.UUID) {
	if err := s.audits.MarkProcessed(ctx, auditID, entities.WebhookAuditFailed, nil); err != nil {
		s.logger.Error("mark webhook failed", "error", err, "audit_id", auditID)
	}
}
