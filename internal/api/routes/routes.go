package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/stars-service/stars_service/internal/api/handlers"
	"github.com/stars-service/stars_service/internal/api/middleware"
	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/pkg/logger"
)

// Handlers bundles the handler groups the router mounts
type Handlers struct {
	Core     *handlers.CoreHandlers
	Webhooks *handlers.WebhookHandlers
	Deposits *handlers.DepositHandlers
	Account  *handlers.AccountHandlers
	Admin    *handlers.AdminHandlers
}

// SetupRoutes configures all application routes
func SetupRoutes(cfg *config.Config, log *logger.Logger, h Handlers) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	router.GET("/health", h.Core.Health)
	router.GET("/ready", h.Core.Ready)
	router.GET("/metrics", h.Core.Metrics())

	// Provider deliveries are authenticated by HMAC signature, not JWT
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.WebhookSignature(cfg.Payment, log))
	webhooks.POST("/:provider/:chain", h.Webhooks.Receive)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/packages", h.Deposits.ListPackages)

		deposits := v1.Group("/deposits")
		deposits.Use(middleware.UserAuth(cfg.JWT))
		{
			deposits.POST("", h.Deposits.Create)
			deposits.POST("/:id/submit", h.Deposits.Submit)
			deposits.GET("/:id", h.Deposits.Get)
		}

		account := v1.Group("/account")
		account.Use(middleware.UserAuth(cfg.JWT))
		{
			account.GET("/balance", h.Account.Balance)
			account.GET("/ledger", h.Account.Ledger)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.JWT, log))
		{
			admin.GET("/deposits", h.Admin.ReviewQueue)
			admin.POST("/deposits/:id/credit", h.Admin.Credit)
			admin.POST("/deposits/:id/refund", h.Admin.Refund)
			admin.POST("/deposits/:id/assign", h.Admin.AssignUser)
			admin.POST("/deposits/:id/fail", h.Admin.Fail)
			admin.POST("/auctions/:id/settle", h.Admin.SettleAuction)
		}
	}

	return router
}
