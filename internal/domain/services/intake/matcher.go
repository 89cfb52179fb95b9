package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
)

// matchResult records which rule found the deposit, for the audit trail
type matchResult struct {
	deposit *entities.Deposit
	rule    string
}

// matchDeposit resolves an observation to an open deposit. Rules run in
// strict priority order: exact tx hash, then memo (a stored memo or the
// deposit's own id), then the most recent open deposit on the custodial
// address. The fallback is only sound because address assignment keeps at
// most one open deposit per address; with two concurrently open deposits the
// most recent wins, a documented limitation.
func (s *Service) matchDeposit(ctx context.Context, chain entities.Chain, tokenID, addressID uuid.UUID, obs *entities.Observation) (*matchResult, error) {
	dep, err := s.deposits.GetByTxHash(ctx, chain, tokenID, obs.TxHash)
	if err == nil {
		return &matchResult{deposit: dep, rule: "tx_hash"}, nil
	}
	if !errors.Is(err, domainerrors.ErrNotFound) {
		return nil, fmt.Errorf("match by tx hash: %w", err)
	}

	if obs.Memo != nil && *obs.Memo != "" {
		dep, err = s.deposits.GetByMemo(ctx, chain, tokenID, *obs.Memo)
		if err == nil {
			return &matchResult{deposit: dep, rule: "memo"}, nil
		}
		if !errors.Is(err, domainerrors.ErrNotFound) {
			return nil, fmt.Errorf("match by memo: %w", err)
		}
	}

	dep, err = s.deposits.GetLatestOpenByAddress(ctx, addressID)
	if err == nil {
		return &matchResult{deposit: dep, rule: "address_fallback"}, nil
	}
	if !errors.Is(err, domainerrors.ErrNotFound) {
		return nil, fmt.Errorf("match by address: %w", err)
	}

	return nil, domainerrors.ErrUnmatched
}
