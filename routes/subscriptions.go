package routes

import (
	"fiscalai-backend/cache"
	"fiscalai-backend/handlers/subscriptions"
	"fiscalai-backend/middleware"

	"github.com/gin-gonic/gin"
)

func SubscriptionsRoutes(r *gin.Engine, h *subscriptions.Handler, redisClient *cache.Redis) {
	// Webhooks authenticate themselves (shared secret / signature), no JWT.
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)
	r.POST("/subscriptions/webhook/stripe", h.StripeWebhook)

	authed := r.Group("/subscriptions", middleware.JWTAuth())
	authed.GET("/status", h.SubscriptionStatus)
	authed.GET("/verify", h.VerifySubscription)

	mutating := authed.Group("", middleware.Idempotency(redisClient))
	mutating.POST("/start", h.StartSubscription)
	mutating.POST("/process-payment", h.ProcessPayment)
	mutating.POST("/confirm-checkout", h.ConfirmCheckout)
	mutating.POST("/cancel", h.CancelSubscription)
	mutating.POST("/reactivate", h.ReactivateSubscription)
	mutating.POST("/check-payment", h.CheckPayment)
	mutating.POST("/trial", h.ActivateTrial)
}
