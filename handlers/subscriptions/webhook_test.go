package subscriptions

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fiscalai-backend/models"
	"fiscalai-backend/testutils"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func postWebhook(r http.Handler, path string, body []byte, configure func(*http.Request)) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if configure != nil {
		configure(req)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func orderPaidBody(t *testing.T) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":   "hook_1",
		"type": "order.paid",
		"data": map[string]interface{}{
			"id":     "or_abc123",
			"amount": 9700,
			"charges": []map[string]interface{}{
				{"id": "ch_abc123"},
			},
		},
	})
	assert.NoError(t, err)
	return body
}

func TestPagarmeWebhook_RejectsInvalidJSON(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	resp := postWebhook(r, "/subscriptions/webhook", []byte("{not json"), nil)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPagarmeWebhook_RejectsMissingSecret(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	resp := postWebhook(r, "/subscriptions/webhook", orderPaidBody(t), nil)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestPagarmeWebhook_RejectsWrongSecret(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	resp := postWebhook(r, "/subscriptions/webhook", orderPaidBody(t), func(req *http.Request) {
		req.Header.Set("X-Pagarme-Webhook-Secret", "wrong")
	})

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestPagarmeWebhook_OrderCreatedIsAcknowledgedAndIgnored(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	body, _ := json.Marshal(map[string]interface{}{
		"type": "order.created",
		"data": map[string]interface{}{"id": "or_new1"},
	})
	resp := postWebhook(r, "/subscriptions/webhook", body, func(req *http.Request) {
		req.Header.Set("X-Pagarme-Webhook-Secret", testPagarmeSecret)
	})

	assert.Equal(t, http.StatusOK, resp.Code)
	var respBody map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "ignored", respBody["status"])
}

func TestPagarmeWebhook_AcceptsQueryTokenAuth(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	body, _ := json.Marshal(map[string]interface{}{
		"type": "order.created",
		"data": map[string]interface{}{"id": "or_new1"},
	})
	resp := postWebhook(r, "/subscriptions/webhook?token="+testPagarmeSecret, body, nil)

	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestPagarmeWebhook_AcceptsStringWrappedBody(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	inner, _ := json.Marshal(map[string]interface{}{
		"type": "order.created",
		"data": map[string]interface{}{"id": "or_new1"},
	})
	wrapped, _ := json.Marshal(string(inner))
	resp := postWebhook(r, "/subscriptions/webhook", wrapped, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+testPagarmeSecret)
	})

	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestPagarmeWebhook_UnknownSubscriptionStillAcknowledges(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "payments" WHERE provider_transaction_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE provider_subscription_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	resp := postWebhook(r, "/subscriptions/webhook", orderPaidBody(t), func(req *http.Request) {
		req.Header.Set("X-Pagarme-Webhook-Secret", testPagarmeSecret)
	})

	assert.Equal(t, http.StatusOK, resp.Code)
	var respBody map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "subscription_not_found", respBody["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPagarmeWebhook_DuplicateDeliveryIsAbsorbed(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook", h.PagarmeWebhook)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "payments" WHERE provider_transaction_id = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "subscription_id", "status"}).
			AddRow("p-1", "s-1", string(models.PaymentPaid)))
	mock.ExpectRollback()

	resp := postWebhook(r, "/subscriptions/webhook", orderPaidBody(t), func(req *http.Request) {
		req.Header.Set("X-Pagarme-Webhook-Secret", testPagarmeSecret)
	})

	assert.Equal(t, http.StatusOK, resp.Code)
	var respBody map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "already_processed", respBody["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook/stripe", h.StripeWebhook)

	body := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	resp := postWebhook(r, "/subscriptions/webhook/stripe", body, func(req *http.Request) {
		req.Header.Set("Stripe-Signature", "t=1234567890,v1=deadbeef")
	})

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStripeWebhook_AcknowledgesVerifiedEvent(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := testutils.SetupTestRouter()
	r.POST("/subscriptions/webhook/stripe", h.StripeWebhook)

	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": "invoice.paid",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             "in_abc1",
				"payment_intent": "pi_abc1",
				"amount_paid":    9700,
				"parent": map[string]interface{}{
					"subscription_details": map[string]interface{}{
						"subscription": "sub_abc1",
					},
				},
			},
		},
	})
	sp := stripe.GenerateTestSignedPayload(&stripe.UnsignedPayload{
		Payload: payload,
		Secret:  testStripeSecret,
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "payments" WHERE provider_transaction_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`SELECT (.+) FROM "payments" WHERE provider_invoice_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE provider_subscription_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	resp := postWebhook(r, "/subscriptions/webhook/stripe", payload, func(req *http.Request) {
		req.Header.Set("Stripe-Signature", sp.Header)
	})

	assert.Equal(t, http.StatusOK, resp.Code)
	var respBody map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, true, respBody["received"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecodeWebhookBody(t *testing.T) {
	payload, ok := decodeWebhookBody([]byte(`{"type":"order.paid"}`))
	assert.True(t, ok)
	assert.Equal(t, "order.paid", payload["type"])

	payload, ok = decodeWebhookBody([]byte(`"{\"type\":\"order.paid\"}"`))
	assert.True(t, ok)
	assert.Equal(t, "order.paid", payload["type"])

	_, ok = decodeWebhookBody([]byte(`[1,2,3]`))
	assert.False(t, ok)

	_, ok = decodeWebhookBody([]byte(`not json`))
	assert.False(t, ok)
}
