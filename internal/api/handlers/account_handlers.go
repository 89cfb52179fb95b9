package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/internal/domain/services/escrow"
	"github.com/stars-service/stars_service/pkg/logger"
)

type balanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (*escrow.BalanceSummary, error)
}

type historyReader interface {
	UserHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarTransaction, error)
}

// AccountHandlers serves the authenticated user's balance and ledger history
type AccountHandlers struct {
	balances balanceReader
	history  historyReader
	logger   *logger.Logger
}

// NewAccountHandlers creates account handlers
func NewAccountHandlers(balances balanceReader, history historyReader, logger *logger.Logger) *AccountHandlers {
	return &AccountHandlers{balances: balances, history: history, logger: logger}
}

// Balance handles GET /account/balance
func (h *AccountHandlers) Balance(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: ErrCodeUnauthorized})
		return
	}

	summary, err := h.balances.Balance(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Ledger handles GET /account/ledger
func (h *AccountHandlers) Ledger(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: ErrCodeUnauthorized})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.history.UserHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}
