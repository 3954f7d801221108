package subscriptions

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"fiscalai-backend/utils"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = int64(65536)

// PagarmeWebhook ingests events from the legacy shared-secret provider.
// Once the secret checks out the response is always 200: telling the provider
// to retry an authenticated event only produces retry storms, and the ledger's
// idempotency absorbs genuine redeliveries anyway.
// @Summary Legacy provider webhook
// @Description Receive order/charge events authenticated by shared secret; always acknowledges with 200 after authentication
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "status, eventId, eventType, processingTimeMs"
// @Failure 400 {object} map[string]string "error: Invalid JSON"
// @Failure 401 {object} map[string]string "error: Invalid webhook secret"
// @Router /subscriptions/webhook [post]
func (h *Handler) PagarmeWebhook(c *gin.Context) {
	start := time.Now()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Could not read request body"})
		return
	}

	payload, ok := decodeWebhookBody(body)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is not valid JSON"})
		return
	}

	if !h.authenticateWebhook(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
		return
	}

	// Authenticated from here on: every outcome acknowledges with 200.
	ev, err := h.pagarme.ParseEvent(payload)
	if err != nil {
		utils.LogError(err, "Unparseable pagarme webhook event")
		c.JSON(http.StatusOK, gin.H{
			"status":           "error",
			"error":            err.Error(),
			"processingTimeMs": time.Since(start).Milliseconds(),
		})
		return
	}

	result, err := h.svc.HandleEvent(ev)
	if err != nil {
		utils.LogError(err, "Handler failed for pagarme event "+ev.RawType)
		c.JSON(http.StatusOK, gin.H{
			"status":           "error",
			"eventId":          ev.ID,
			"eventType":        ev.RawType,
			"processingTimeMs": time.Since(start).Milliseconds(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           result.Status,
		"eventId":          ev.ID,
		"eventType":        ev.RawType,
		"processingTimeMs": time.Since(start).Milliseconds(),
	})
}

// StripeWebhook ingests signature-verified events from the modern provider.
// @Summary Stripe webhook
// @Description Receive Stripe events verified by the Stripe-Signature header
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool "received: true"
// @Failure 400 {object} map[string]string "error: Signature verification failed"
// @Router /subscriptions/webhook/stripe [post]
func (h *Handler) StripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Could not read request body"})
		return
	}

	ev, err := h.stripe.ParseWebhook(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe signature verification failed"})
		return
	}

	if _, err := h.svc.HandleEvent(ev); err != nil {
		// Logged and acknowledged: Stripe must not redeliver an event we
		// authenticated, the ledger will absorb any replay.
		utils.LogError(err, "Handler failed for stripe event "+ev.RawType)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// decodeWebhookBody accepts the payload shapes seen in the wild: a JSON
// object, a JSON-encoded string containing an object, or an already-decoded
// object forwarded by an upstream proxy.
func decodeWebhookBody(body []byte) (map[string]interface{}, bool) {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false
	}
	switch v := decoded.(type) {
	case map[string]interface{}:
		return v, true
	case string:
		var inner map[string]interface{}
		if err := json.Unmarshal([]byte(v), &inner); err != nil {
			return nil, false
		}
		return inner, true
	default:
		return nil, false
	}
}

// authenticateWebhook checks the shared secret against the dedicated header,
// a bearer-style Authorization header, or the token query parameter.
func (h *Handler) authenticateWebhook(c *gin.Context) bool {
	secret := h.pagarme.WebhookSecret()
	if secret == "" {
		utils.LogError(nil, "Pagarme webhook secret not configured")
		return false
	}

	candidates := []string{
		c.GetHeader("X-Pagarme-Webhook-Secret"),
		strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "),
		c.Query("token"),
	}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}
