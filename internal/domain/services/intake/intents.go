package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
)

// DepositIntent is what a client needs to complete a topup: where to send,
// how much, and the memo that ties the transfer back to this deposit.
type DepositIntent struct {
	Deposit *entities.Deposit
	Address string
	Memo    string
}

// CreateDeposit opens a topup intent: reserves a custodial address, stamps
// the expected amount from the package price, and uses the deposit id as the
// payment memo. The coupon is only recorded here; validity is re-checked at
// credit time.
func (s *Service) CreateDeposit(ctx context.Context, userID, tokenID, packageID uuid.UUID, couponCode *string) (*DepositIntent, error) {
	token, err := s.catalog.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if !token.Active {
		return nil, fmt.Errorf("token %s disabled: %w", token.Symbol, domainerrors.ErrInvalidInput)
	}

	pkg, err := s.catalog.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return nil, fmt.Errorf("package %s inactive: %w", pkg.Name, domainerrors.ErrInvalidInput)
	}

	var couponID *uuid.UUID
	if couponCode != nil && *couponCode != "" {
		coupon, err := s.catalog.GetCouponByCode(ctx, *couponCode)
		if err != nil {
			return nil, err
		}
		if !coupon.IsValidAt(time.Now()) {
			return nil, fmt.Errorf("coupon %s not valid: %w", coupon.Code, domainerrors.ErrInvalidInput)
		}
		couponID = &coupon.ID
	}

	addr, err := s.catalog.PickCustodialAddress(ctx, token.Chain)
	if err != nil {
		return nil, err
	}

	depositID := uuid.New()
	memo := depositID.String()
	dep := &entities.Deposit{
		ID:                 depositID,
		UserID:             &userID,
		Chain:              token.Chain,
		TokenID:            token.ID,
		CustodialAddressID: addr.ID,
		PackageID:          &pkg.ID,
		ExpectedAmount:     pkg.PriceAmount,
		Memo:               &memo,
		Status:             entities.DepositStatusCreated,
		CouponID:           couponID,
		CouponCode:         couponCode,
		CreatedAt:          time.Now(),
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.deposits.Create(ctx, dep); err != nil {
			return err
		}
		return s.appendEvent(ctx, dep.ID, entities.DepositEventCreated,
			fmt.Sprintf("topup intent for package %s", pkg.Name),
			map[string]interface{}{"package_id": pkg.ID, "expected_amount": pkg.PriceAmount.String()})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit intent created",
		"deposit_id", dep.ID, "user_id", userID, "chain", token.Chain, "package_id", pkg.ID)

	return &DepositIntent{Deposit: dep, Address: addr.Address, Memo: memo}, nil
}

// MarkSubmitted records the client's claim that the transfer was sent,
// optionally with the transaction hash.
func (s *Service) MarkSubmitted(ctx context.Context, depositID uuid.UUID, txHash *string) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.deposits.Transition(ctx, depositID, entities.DepositStatusCreated, entities.DepositStatusSubmitted, nil); err != nil {
			return err
		}
		if txHash != nil && *txHash != "" {
			if err := s.deposits.StampTxHash(ctx, depositID, *txHash); err != nil {
				return err
			}
		}
		return s.appendEvent(ctx, depositID, entities.DepositEventStatusChanged, "client reported submission", nil)
	})
}
