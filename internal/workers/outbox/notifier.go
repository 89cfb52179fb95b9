package outbox

import (
	"context"

	"github.com/stars-service/stars_service/internal/domain/entities"
	"github.com/stars-service/stars_service/pkg/logger"
)

// LogNotifier writes notifications to the log. Stands in until a push or
// email channel is wired behind the Notifier boundary.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the message as delivered
func (n *LogNotifier) Notify(_ context.Context, msg *entities.OutboxMessage) error {
	n.logger.Info("notification",
		"kind", msg.Kind,
		"user_id", msg.UserID,
		"payload", string(msg.Payload))
	return nil
}
