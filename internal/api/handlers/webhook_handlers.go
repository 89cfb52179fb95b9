package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/pkg/logger"
)

// WebhookProcessor handles one raw provider delivery
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, provider string, chain entities.Chain, payload []byte) error
}

// WebhookHandlers receives chain observation webhooks. Signature verification
// happens in middleware before these run.
type WebhookHandlers struct {
	processor WebhookProcessor
	logger    *logger.Logger
}

// NewWebhookHandlers creates webhook handlers
func NewWebhookHandlers(processor WebhookProcessor, logger *logger.Logger) *WebhookHandlers {
	return &WebhookHandlers{processor: processor, logger: logger}
}

// Receive handles POST /webhooks/:provider/:chain. Providers retry on
// non-2xx, so processing failures return 500 to request a redelivery while
// duplicates and unmatched observations acknowledge with 200.
func (h *WebhookHandlers) Receive(c *gin.Context) {
	provider := c.Param("provider")
	chain := entities.Chain(c.Param("chain"))

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil || len(payload) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty payload", Code: ErrCodeInvalidRequest})
		return
	}

	if err := h.processor.ProcessWebhook(c.Request.Context(), provider, chain, payload); err != nil {
		h.logger.Error("webhook processing failed",
			"provider", provider, "chain", chain, "error", err)
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
