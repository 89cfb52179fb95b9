package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/pkg/logger"
)

type creditOperations interface {
	ManualCredit(ctx context.Context, depositID uuid.UUID, note string) error
	RefundDeposit(ctx context.Context, depositID uuid.UUID, reason string) error
	AssignUser(ctx context.Context, depositID, userID uuid.UUID) error
	ForceFail(ctx context.Context, depositID uuid.UUID, reason string) error
	ReviewQueue(ctx context.Context, status entities.DepositStatus, limit, offset int) ([]*entities.Deposit, error)
}

type auctionOperations interface {
	Settle(ctx context.Context, auctionID uuid.UUID) error
}

// AdminHandlers serves the operator surface for stuck deposits and
// marketplace settlement
type AdminHandlers struct {
	credits  creditOperations
	auctions auctionOperations
	logger   *logger.Logger
}

// NewAdminHandlers creates admin handlers
func NewAdminHandlers(credits creditOperations, auctions auctionOperations, logger *logger.Logger) *AdminHandlers {
	return &AdminHandlers{credits: credits, auctions: auctions, logger: logger}
}

type noteRequest struct {
	Note string `json:"note" binding:"required"`
}

// Credit handles POST /admin/deposits/:id/credit
func (h *AdminHandlers) Credit(c *gin.Context) {
	depositID, ok := pathID(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidationError(c, err)
		return
	}

	if err := h.credits.ManualCredit(c.Request.Context(), depositID, req.Note); err != nil {
		RespondError(c, err)
		return
	}
	h.logger.Info("operator credited deposit", "deposit_id", depositID, "admin", c.GetString("admin_subject"))
	c.JSON(http.StatusOK, gin.H{"status": "credited"})
}

// Refund handles POST /admin/deposits/:id/refund
func (h *AdminHandlers) Refund(c *gin.Context) {
	depositID, ok := pathID(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidationError(c, err)
		return
	}

	if err := h.credits.RefundDeposit(c.Request.Context(), depositID, req.Note); err != nil {
		RespondError(c, err)
		return
	}
	h.logger.Info("operator refunded deposit", "deposit_id", depositID, "admin", c.GetString("admin_subject"))
	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

type assignUserRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// AssignUser handles POST /admin/deposits/:id/assign
func (h *AdminHandlers) AssignUser(c *gin.Context) {
	depositID, ok := pathID(c)
	if !ok {
		return
	}
	var req assignUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidationError(c, err)
		return
	}

	if err := h.credits.AssignUser(c.Request.Context(), depositID, req.UserID); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "assigned"})
}

// Fail handles POST /admin/deposits/:id/fail
func (h *AdminHandlers) Fail(c *gin.Context) {
	depositID, ok := pathID(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondValidationError(c, err)
		return
	}

	if err := h.credits.ForceFail(c.Request.Context(), depositID, req.Note); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}

// ReviewQueue handles GET /admin/deposits?status=needs_review
func (h *AdminHandlers) ReviewQueue(c *gin.Context) {
	status := entities.DepositStatus(c.DefaultQuery("status", string(entities.DepositStatusNeedsReview)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	deposits, err := h.credits.ReviewQueue(c.Request.Context(), status, limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": deposits})
}

// SettleAuction handles POST /admin/auctions/:id/settle
func (h *AdminHandlers) SettleAuction(c *gin.Context) {
	auctionID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.auctions.Settle(c.Request.Context(), auctionID); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "settled"})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id", Code: ErrCodeInvalidRequest})
		return uuid.Nil, false
	}
	return id, true
}
