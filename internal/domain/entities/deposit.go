package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
)

// Chain identifies a supported blockchain
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainTron     Chain = "tron"
	ChainSolana   Chain = "solana"
)

// DepositStatus represents the lifecycle state of a topup deposit
type DepositStatus string

const (
	DepositStatusCreated     DepositStatus = "created"
	DepositStatusSubmitted   DepositStatus = "submitted"
	DepositStatusObserved    DepositStatus = "observed"
	DepositStatusConfirmed   DepositStatus = "confirmed"
	DepositStatusCredited    DepositStatus = "credited"
	DepositStatusNeedsReview DepositStatus = "needs_review"
	DepositStatusUnmatched   DepositStatus = "unmatched"
	DepositStatusFailed      DepositStatus = "failed"
	DepositStatusRefunded    DepositStatus = "refunded"
)

// ValidDepositTransitions defines allowed status transitions.
// Forward movement is monotonic; refund is a separate terminal branch that
// may only be entered from credited. Review and unmatched states are
// recoverable through admin action.
var ValidDepositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusCreated:     {DepositStatusSubmitted, DepositStatusObserved, DepositStatusConfirmed, DepositStatusNeedsReview, DepositStatusUnmatched, DepositStatusFailed},
	DepositStatusSubmitted:   {DepositStatusObserved, DepositStatusConfirmed, DepositStatusNeedsReview, DepositStatusUnmatched, DepositStatusFailed},
	DepositStatusObserved:    {DepositStatusConfirmed, DepositStatusNeedsReview, DepositStatusUnmatched, DepositStatusFailed},
	DepositStatusConfirmed:   {DepositStatusCredited, DepositStatusNeedsReview, DepositStatusUnmatched, DepositStatusFailed},
	DepositStatusNeedsReview: {DepositStatusConfirmed, DepositStatusCredited, DepositStatusFailed},
	DepositStatusUnmatched:   {DepositStatusConfirmed, DepositStatusCredited, DepositStatusFailed},
	DepositStatusCredited:    {DepositStatusRefunded},
	DepositStatusFailed:      {},
	DepositStatusRefunded:    {},
}

// OpenDepositStatuses are the statuses still eligible for webhook matching.
var OpenDepositStatuses = []DepositStatus{
	DepositStatusCreated,
	DepositStatusSubmitted,
	DepositStatusObserved,
	DepositStatusConfirmed,
}

// IsValid checks if the status is a known deposit status
func (s DepositStatus) IsValid() bool {
	_, ok := ValidDepositTransitions[s]
	return ok
}

// CanTransitionTo checks if transition to new status is allowed
func (s DepositStatus) CanTransitionTo(newStatus DepositStatus) bool {
	for _, status := range ValidDepositTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is possible
func (s DepositStatus) IsTerminal() bool {
	return len(ValidDepositTransitions[s]) == 0
}

// IsOpen returns true if the deposit is still eligible for webhook matching
func (s DepositStatus) IsOpen() bool {
	for _, open := range OpenDepositStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error if the transition is illegal
func (s DepositStatus) ValidateTransition(newStatus DepositStatus) error {
	if !newStatus.IsValid() {
		return domainerrors.TransitionError(string(s), string(newStatus))
	}
	if !s.CanTransitionTo(newStatus) {
		return domainerrors.TransitionError(string(s), string(newStatus))
	}
	return nil
}

// Deposit is one attempted topup of the internal stars balance
type Deposit struct {
	ID                 uuid.UUID           `db:"id"`
	UserID             *uuid.UUID          `db:"user_id"`
	Chain              Chain               `db:"chain"`
	TokenID            uuid.UUID           `db:"token_id"`
	CustodialAddressID uuid.UUID           `db:"custodial_address_id"`
	PackageID          *uuid.UUID          `db:"package_id"`
	ExpectedAmount     decimal.Decimal     `db:"expected_amount"`
	ActualAmount       decimal.NullDecimal `db:"actual_amount"`
	TxHash             *string             `db:"tx_hash"`
	Memo               *string             `db:"memo"`
	Status             DepositStatus       `db:"status"`
	FailureReason      *string             `db:"failure_reason"`
	CouponID           *uuid.UUID          `db:"coupon_id"`
	CouponCode         *string             `db:"coupon_code"`
	CreatedAt          time.Time           `db:"created_at"`
	ConfirmedAt        *time.Time          `db:"confirmed_at"`
	CreditedAt         *time.Time          `db:"credited_at"`
	RefundedAt         *time.Time          `db:"refunded_at"`
}

// DepositEventType categorizes deposit audit trail entries
type DepositEventType string

const (
	DepositEventCreated          DepositEventType = "created"
	DepositEventStatusChanged    DepositEventType = "status_changed"
	DepositEventObservationMatch DepositEventType = "observation_matched"
	DepositEventToleranceFail    DepositEventType = "tolerance_violation"
	DepositEventRiskHold         DepositEventType = "risk_hold"
	DepositEventCredited         DepositEventType = "credited"
	DepositEventRefunded         DepositEventType = "refunded"
	DepositEventUserAssigned     DepositEventType = "user_assigned"
)

// DepositEvent is one audit trail row, appended on every transition.
// This is what an operator reads to diagnose a stuck deposit.
type DepositEvent struct {
	ID        uuid.UUID              `db:"id"`
	DepositID uuid.UUID              `db:"deposit_id"`
	Type      DepositEventType       `db:"type"`
	Message   string                 `db:"message"`
	Data      map[string]interface{} `db:"-"`
	CreatedAt time.Time              `db:"created_at"`
}

// Observation is a normalized fact about a chain transfer, extracted from a
// provider webhook payload by the chain-specific extractor.
type Observation struct {
	TxHash        string          `json:"tx_hash" validate:"required"`
	ToAddress     string          `json:"to_address" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	TokenContract *string         `json:"token_contract,omitempty"`
	AssetSymbol   *string         `json:"asset_symbol,omitempty"`
	Memo          *string         `json:"memo,omitempty"`
}
