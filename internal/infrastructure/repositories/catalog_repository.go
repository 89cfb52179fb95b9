package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stars-service/stars_service/internal/domain/entities"
	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
	"github.com/stars-service/stars_service/internal/infrastructure/database"
)

// CatalogRepository handles the pricing catalog: tokens, custodial
// addresses, star packages and coupons
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetToken retrieves an accepted token by id
func (r *CatalogRepository) GetToken(ctx context.Context, id uuid.UUID) (*entities.Token, error) {
	query := `SELECT id, chain, symbol, contract, decimals, active FROM tokens WHERE id = $1`

	var token entities.Token
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &token, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get token: %w", err)
	}

	return &token, nil
}

// GetTokenBySymbol resolves a token by chain and symbol, case-insensitive
func (r *CatalogRepository) GetTokenBySymbol(ctx context.Context, chain entities.Chain, symbol string) (*entities.Token, error) {
	query := `SELECT id, chain, symbol, contract, decimals, active FROM tokens WHERE chain = $1 AND LOWER(symbol) = $2 AND active = true`

	var token entities.Token
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &token, query, chain, strings.ToLower(symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token %s on %s: %w", symbol, chain, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get token by symbol: %w", err)
	}

	return &token, nil
}

// GetTokenByContract resolves a token by chain and contract address
func (r *CatalogRepository) GetTokenByContract(ctx context.Context, chain entities.Chain, contract string) (*entities.Token, error) {
	query := `SELECT id, chain, symbol, contract, decimals, active FROM tokens WHERE chain = $1 AND LOWER(contract) = $2 AND active = true`

	var token entities.Token
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &token, query, chain, strings.ToLower(contract))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token contract %s on %s: %w", contract, chain, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get token by contract: %w", err)
	}

	return &token, nil
}

// GetCustodialAddress resolves a deposit address by chain and address string
func (r *CatalogRepository) GetCustodialAddress(ctx context.Context, chain entities.Chain, address string) (*entities.CustodialAddress, error) {
	query := `SELECT id, chain, address, active, created_at FROM custodial_addresses WHERE chain = $1 AND LOWER(address) = $2`

	var addr entities.CustodialAddress
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &addr, query, chain, strings.ToLower(address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("custodial address %s on %s: %w", address, chain, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get custodial address: %w", err)
	}

	return &addr, nil
}

// PickCustodialAddress returns an active deposit address for the chain
func (r *CatalogRepository) PickCustodialAddress(ctx context.Context, chain entities.Chain) (*entities.CustodialAddress, error) {
	query := `SELECT id, chain, address, active, created_at FROM custodial_addresses WHERE chain = $1 AND active = true ORDER BY created_at LIMIT 1`

	var addr entities.CustodialAddress
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &addr, query, chain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no active custodial address on %s: %w", chain, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("pick custodial address: %w", err)
	}

	return &addr, nil
}

// GetPackage retrieves a star package by id
func (r *CatalogRepository) GetPackage(ctx context.Context, id uuid.UUID) (*entities.StarPackage, error) {
	query := `SELECT id, name, price_amount, stars, bonus_stars, active FROM star_packages WHERE id = $1`

	var pkg entities.StarPackage
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &pkg, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("package %s: %w", id, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get package: %w", err)
	}

	return &pkg, nil
}

// ListActivePackages retrieves the purchasable packages ordered by price
func (r *CatalogRepository) ListActivePackages(ctx context.Context) ([]*entities.StarPackage, error) {
	query := `SELECT id, name, price_amount, stars, bonus_stars, active FROM star_packages WHERE active = true ORDER BY price_amount`

	var pkgs []*entities.StarPackage
	q := database.FromContext(ctx, r.db)
	if err := q.SelectContext(ctx, &pkgs, query); err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	return pkgs, nil
}

// GetCouponByCode retrieves a coupon by its redemption code
func (r *CatalogRepository) GetCouponByCode(ctx context.Context, code string) (*entities.Coupon, error) {
	query := `
		SELECT id, code, percent_bonus, fixed_bonus, valid_from, valid_until, max_uses, uses, active
		FROM coupons
		WHERE UPPER(code) = $1
	`

	var coupon entities.Coupon
	q := database.FromContext(ctx, r.db)
	err := q.GetContext(ctx, &coupon, query, strings.ToUpper(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("coupon %s: %w", code, domainerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return &coupon, nil
}

// ConsumeCouponUse increments a coupon's use counter without passing max_uses.
// Zero affected rows means the coupon was exhausted or deactivated between
// validation and consumption.
func (r *CatalogRepository) ConsumeCouponUse(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE coupons
		SET uses = uses + 1
		WHERE id = $1 AND active = true AND (max_uses IS NULL OR uses < max_uses)
	`

	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("consume coupon use: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("coupon %s exhausted: %w", id, domainerrors.ErrConflict)
	}

	return nil
}
