package subscriptions

import (
	"errors"
	"net/http"

	"fiscalai-backend/billing"
	"fiscalai-backend/db"
	"fiscalai-backend/gateway"
	pagarmegw "fiscalai-backend/gateway/pagarme"
	stripegw "fiscalai-backend/gateway/stripe"
	"fiscalai-backend/models"
	"fiscalai-backend/utils"

	"github.com/gin-gonic/gin"
)

// Handler carries the billing service and the provider adapters. Everything
// is injected at startup; handlers hold no package-level state.
type Handler struct {
	svc     *billing.Service
	stripe  *stripegw.Client
	pagarme *pagarmegw.Client
}

func NewHandler(svc *billing.Service, stripe *stripegw.Client, pagarme *pagarmegw.Client) *Handler {
	return &Handler{svc: svc, stripe: stripe, pagarme: pagarme}
}

type startRequest struct {
	PlanCode string `json:"planCode" binding:"required"`
	Provider string `json:"provider" binding:"required,oneof=stripe pagarme"`
}

type processPaymentRequest struct {
	CardToken string `json:"cardToken" binding:"required"`
}

// StartSubscription opens a checkout: creates or restarts the user's PENDING
// subscription and ensures a provider customer exists. No payment happens yet.
// @Summary Start a subscription checkout
// @Description Create or restart the user's pending subscription for a plan; returns the subscription awaiting payment
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body startRequest true "Plan code and provider"
// @Security BearerAuth
// @Success 200 {object} models.Subscription
// @Failure 400 {object} map[string]string "error: Invalid request"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 409 {object} map[string]string "error: Subscription already exists"
// @Router /subscriptions/start [post]
func (h *Handler) StartSubscription(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error(), "code": "validation_error"})
		return
	}

	sub, err := h.svc.StartCheckout(user, req.PlanCode, req.Provider)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "StartSubscription")
		return
	}
	utils.LogSuccessWithUser(user.ID, "Checkout started in StartSubscription")
	c.JSON(http.StatusOK, sub)
}

// ProcessPayment submits a tokenized card for the pending subscription.
// @Summary Submit a card token and create the provider subscription
// @Description Exchange the single-use card token for a stored payment method and create the subscription at the gateway; activates immediately when the gateway reports the charge as paid
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body processPaymentRequest true "Card token from the provider's client-side tokenization"
// @Security BearerAuth
// @Success 200 {object} billing.RecordResult
// @Failure 400 {object} map[string]string "error: Invalid token or no pending subscription"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 402 {object} map[string]string "error: Payment rejected by the gateway"
// @Router /subscriptions/process-payment [post]
func (h *Handler) ProcessPayment(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req processPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error(), "code": "validation_error"})
		return
	}

	result, err := h.svc.ProcessPayment(user, req.CardToken)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "ProcessPayment")
		return
	}
	utils.LogSuccessWithUser(user.ID, "Payment processed in ProcessPayment")
	c.JSON(http.StatusOK, result)
}

// ConfirmCheckout simulates a confirmed payment outside production.
// @Summary Simulate a payment confirmation (non-production)
// @Description Run the activation path as if the gateway had confirmed the payment; disabled in production
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} billing.RecordResult
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 403 {object} map[string]string "error: Disabled in production"
// @Router /subscriptions/confirm-checkout [post]
func (h *Handler) ConfirmCheckout(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	result, err := h.svc.ConfirmCheckoutTest(user)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "ConfirmCheckout")
		return
	}
	utils.LogSuccessWithUser(user.ID, "Checkout confirmed (simulated) in ConfirmCheckout")
	c.JSON(http.StatusOK, result)
}

// CancelSubscription cancels at the provider and flips the local status.
// @Summary Cancel the user's subscription
// @Description Cancel at the gateway and mark the subscription CANCELED; access runs to the end of the paid period
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Subscription
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: No subscription"
// @Router /subscriptions/cancel [post]
func (h *Handler) CancelSubscription(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	sub, err := h.svc.Cancel(user)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "CancelSubscription")
		return
	}
	utils.LogSuccessWithUser(user.ID, "Subscription canceled in CancelSubscription")
	c.JSON(http.StatusOK, sub)
}

// ReactivateSubscription undoes a cancellation before the period end.
// @Summary Reactivate a canceled subscription
// @Description Reactivate while the paid period is still running; afterwards a new checkout is required
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Subscription
// @Failure 400 {object} map[string]string "error: Period ended"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: No subscription"
// @Router /subscriptions/reactivate [post]
func (h *Handler) ReactivateSubscription(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	sub, err := h.svc.Reactivate(user)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "ReactivateSubscription")
		return
	}
	utils.LogSuccessWithUser(user.ID, "Subscription reactivated in ReactivateSubscription")
	c.JSON(http.StatusOK, sub)
}

// ActivateTrial starts the one-time free trial.
// @Summary Activate the free trial
// @Description Start the 7-day trial; each user may use it exactly once
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Subscription
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 403 {object} map[string]string "error: Trial already used"
// @Router /subscriptions/trial [post]
func (h *Handler) ActivateTrial(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	sub, err := h.svc.ActivateTrial(user)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "ActivateTrial")
		return
	}
	utils.LogSuccessWithUser(user.ID, "Trial activated in ActivateTrial")
	c.JSON(http.StatusOK, sub)
}

// SubscriptionStatus returns the user's subscription and recent payments.
// @Summary Current subscription status
// @Description Return the subscription row plus the most recent payment attempts
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "subscription, payments"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: No subscription"
// @Router /subscriptions/status [get]
func (h *Handler) SubscriptionStatus(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	sub, err := h.svc.SubscriptionByUser(user.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No subscription found", "code": "not_found"})
		return
	}

	var payments []models.Payment
	if err := db.DB.Where("subscription_id = ?", sub.ID).Order("created_at DESC").Limit(10).Find(&payments).Error; err != nil {
		utils.LogErrorWithUser(user.ID, err, "Error fetching payments in SubscriptionStatus")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching payments", "code": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub, "payments": payments})
}

// VerifySubscription reconciles read-only against the gateway.
// @Summary Compare local status with the gateway
// @Description Read-only reconciliation: reports a discrepancy without changing anything; use check-payment to act on it
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} billing.VerifyResult
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: No subscription"
// @Router /subscriptions/verify [get]
func (h *Handler) VerifySubscription(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	result, err := h.svc.Verify(user)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "VerifySubscription")
		return
	}
	c.JSON(http.StatusOK, result)
}

// CheckPayment reconciles against the gateway and activates when paid.
// @Summary Confirm a payment directly with the gateway
// @Description Activating reconciliation: queries the gateway and, if it reports the charge as paid, activates through the same atomic path as a webhook
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} billing.RecordResult
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: No subscription"
// @Router /subscriptions/check-payment [post]
func (h *Handler) CheckPayment(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	result, err := h.svc.ConfirmPayment(user)
	if err != nil {
		h.respondBillingError(c, user.ID, err, "CheckPayment")
		return
	}
	utils.LogSuccessWithUser(user.ID, "Payment check completed in CheckPayment")
	c.JSON(http.StatusOK, result)
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		utils.LogError(nil, "User not authenticated in subscriptions handler")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated", "code": "unauthorized"})
		return nil, false
	}

	var user models.User
	if err := db.DB.First(&user, "id = ?", userID).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "User not found in subscriptions handler")
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found", "code": "not_found"})
		return nil, false
	}
	return &user, true
}

// respondBillingError maps service errors onto stable HTTP codes. Gateway
// rejections are the user's problem (402), network failures are ours (503),
// validation and lifecycle misuse are 4xx.
func (h *Handler) respondBillingError(c *gin.Context, userID interface{}, err error, where string) {
	var illegal billing.ErrIllegalTransition
	switch {
	case errors.Is(err, billing.ErrNoSubscription):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, billing.ErrSubscriptionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "subscription_exists"})
	case errors.Is(err, billing.ErrTrialAlreadyUsed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "trial_used"})
	case errors.Is(err, billing.ErrSimulationDisallowed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "forbidden"})
	case errors.Is(err, billing.ErrNotPayable),
		errors.Is(err, billing.ErrPeriodEnded),
		errors.Is(err, billing.ErrNotCancelable),
		errors.As(err, &illegal),
		errors.Is(err, gateway.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
	case errors.Is(err, gateway.ErrGateway):
		utils.LogErrorWithUser(userID, err, "Gateway rejected the request in "+where)
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "code": "payment_rejected"})
	case errors.Is(err, gateway.ErrNetwork):
		utils.LogErrorWithUser(userID, err, "Gateway unreachable in "+where)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment provider temporarily unavailable, please retry", "code": "gateway_unavailable"})
	default:
		utils.LogErrorWithUser(userID, err, "Unexpected error in "+where)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "code": "internal_error"})
	}
}
