package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/domain/services/intake"
	"github.com/stars-service/stars_service/pkg/logger"
)

type depositIntents interface {
	CreateDeposit(ctx context.Context, userID, tokenID, packageID uuid.UUID, couponCode *string) (*intake.DepositIntent, error)
	MarkSubmitted(ctx context.Context, depositID uuid.UUID, txHash *string) error
}

type depositReader interface {
	DepositTrail(ctx context.Context, depositID uuid.UUID) (*entities.Deposit, []*entities.DepositEvent, []*entities.StarTransaction, error)
}

type packageCatalog interface {
	ListActivePackages(ctx context.Context) ([]*entities.StarPackage, error)
}

// DepositHandlers serves the client-facing topup surface
type DepositHandlers struct {
	intents depositIntents
	reader  depositReader
	catalog packageCatalog
	logger  *logger.Logger
}

// NewDepositHandlers creates deposit handlers
func NewDepositHandlers(intents depositIntents, reader depositReader, catalog packageCatalog, logger *logger.Logger) *DepositHandlers {
	return &DepositHandlers{intents: intents, reader: reader, catalog: catalog, logger: logger}
}

type createDepositRequest struct {
	TokenID    uuid.UUID `json:"token_id" binding:"required"`
	PackageID  uuid.UUID `json:"package_id" binding:"required"`
	CouponCode *string   `json:"coupon_code,omitempty"`
}

// Create handles POST /deposits
func (h *DepositHandlers) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: ErrCodeUnauthorized})
		return
	}

	var req createDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidationError(c, err)
		return
	}

	intent, err := h.intents.CreateDeposit(c.Request.Context(), userID, req.TokenID, req.PackageID, req.CouponCode)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"deposit_id":      intent.Deposit.ID,
		"chain":           intent.Deposit.Chain,
		"pay_to_address":  intent.Address,
		"memo":            intent.Memo,
		"expected_amount": intent.Deposit.ExpectedAmount,
		"status":          intent.Deposit.Status,
	})
}

type submitDepositRequest struct {
	TxHash *string `json:"tx_hash,omitempty"`
}

// Submit handles POST /deposits/:id/submit
func (h *DepositHandlers) Submit(c *gin.Context) {
	depositID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid deposit id", Code: ErrCodeInvalidRequest})
		return
	}

	var req submitDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidationError(c, err)
		return
	}

	if err := h.intents.MarkSubmitted(c.Request.Context(), depositID, req.TxHash); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted"})
}

// Get handles GET /deposits/:id
func (h *DepositHandlers) Get(c *gin.Context) {
	depositID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid deposit id", Code: ErrCodeInvalidRequest})
		return
	}

	dep, events, ledger, err := h.reader.DepositTrail(c.Request.Context(), depositID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deposit": dep, "events": events, "ledger": ledger})
}

// ListPackages handles GET /packages
func (h *DepositHandlers) ListPackages(c *gin.Context) {
	pkgs, err := h.catalog.ListActivePackages(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": pkgs})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	id, ok := raw.(uuid.UUID)
	return id, ok
}
