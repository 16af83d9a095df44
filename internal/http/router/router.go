package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/http/handlers"
	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
)

// Handlers все хэндлеры API.
type Handlers struct {
	Health        *handlers.HealthHandler
	Orders        *handlers.OrderHandler
	Disputes      *handlers.DisputeHandler
	Withdrawals   *handlers.WithdrawalHandler
	Wallets       *handlers.WalletHandler
	Webhooks      *handlers.WebhookHandler
	Notifications *handlers.NotificationHandler
	WS            *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokens middleware.TokenParser, limits limiter.Store) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")

	// Вебхук защищён подписью, а не токеном; лимит по IP не ставим, шлюз ретраит сам.
	api.POST("/webhooks/payments", h.Webhooks.Payments)
	api.GET("/ws", h.WS.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.Use(middleware.RateLimitMiddleware(limits, cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		protected.POST("/orders", h.Orders.Checkout)
		protected.GET("/orders", h.Orders.List)
		protected.GET("/orders/:id", middleware.UUIDValidator("id"), h.Orders.Get)
		protected.POST("/orders/:id/confirm-payment", middleware.UUIDValidator("id"), h.Orders.ConfirmPayment)
		protected.POST("/orders/:id/deliver", middleware.UUIDValidator("id"), h.Orders.Deliver)
		protected.POST("/orders/:id/accept", middleware.UUIDValidator("id"), h.Orders.Accept)
		protected.POST("/orders/:id/revision", middleware.UUIDValidator("id"), h.Orders.RequestRevision)
		protected.POST("/orders/:id/cancel", middleware.UUIDValidator("id"), h.Orders.Cancel)
		protected.POST("/orders/:id/dispute", middleware.UUIDValidator("id"), h.Disputes.Open)
		protected.GET("/orders/:id/dispute", middleware.UUIDValidator("id"), h.Disputes.GetByOrder)

		protected.POST("/withdrawals", h.Withdrawals.Create)
		protected.GET("/withdrawals", h.Withdrawals.List)
		protected.GET("/withdrawals/:id", middleware.UUIDValidator("id"), h.Withdrawals.Get)
		protected.POST("/withdrawals/:id/cancel", middleware.UUIDValidator("id"), h.Withdrawals.Cancel)

		protected.GET("/wallet", h.Wallets.Get)
		protected.GET("/wallet/ledger", h.Wallets.Ledger)

		protected.GET("/notifications", h.Notifications.List)
		protected.POST("/notifications/:id/read", middleware.UUIDValidator("id"), h.Notifications.MarkOne)
		protected.POST("/notifications/read", h.Notifications.MarkMany)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/disputes", h.Disputes.List)
		admin.POST("/disputes/:id/review", middleware.UUIDValidator("id"), h.Disputes.Review)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), h.Disputes.Resolve)
		admin.POST("/reconcile", h.Wallets.Reconcile)
		admin.POST("/wallets/:id/unfreeze", middleware.UUIDValidator("id"), h.Wallets.Unfreeze)
	}

	return r
}
