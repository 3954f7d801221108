package subscriptions

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"fiscalai-backend/billing"
	"fiscalai-backend/db"
	pagarmegw "fiscalai-backend/gateway/pagarme"
	stripegw "fiscalai-backend/gateway/stripe"
	"fiscalai-backend/models"
	"fiscalai-backend/testutils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

const (
	testUserID        = "22222222-2222-2222-2222-222222222222"
	testSubID         = "11111111-1111-1111-1111-111111111111"
	testPagarmeSecret = "whsec_pagarme_test"
	testStripeSecret  = "whsec_stripe_test"
)

func TestMain(m *testing.M) {
	testutils.InitTestMain()
	log.SetOutput(io.Discard)
	exitCode := m.Run()
	log.SetOutput(os.Stdout)
	os.Exit(exitCode)
}

func newTestHandler() *Handler {
	stripeClient := stripegw.New("sk_test_123", testStripeSecret, time.Second)
	pagarmeClient := pagarmegw.New("http://localhost", "sk_test", testPagarmeSecret, time.Second)
	svc := billing.NewService(nil, "test", stripeClient, pagarmeClient)
	return NewHandler(svc, stripeClient, pagarmeClient)
}

// newTestHandlerWithDB builds a handler whose service uses the sqlmock-backed
// connection installed by testutils.SetupTestDB. Call SetupTestDB first.
func newTestHandlerWithDB(t *testing.T) *Handler {
	t.Helper()
	stripeClient := stripegw.New("sk_test_123", testStripeSecret, time.Second)
	pagarmeClient := pagarmegw.New("http://localhost", "sk_test", testPagarmeSecret, time.Second)
	svc := billing.NewService(db.DB, "test", stripeClient, pagarmeClient)
	return NewHandler(svc, stripeClient, pagarmeClient)
}

func authenticatedRouter(h gin.HandlerFunc) *gin.Engine {
	r := testutils.SetupTestRouter()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", testUserID)
		c.Next()
	})
	r.Any("/endpoint", h)
	return r
}

func userRows(mock sqlmock.Sqlmock, hasUsedTrial bool) *sqlmock.Rows {
	return mock.NewRows([]string{
		"id", "email", "name", "role", "has_used_trial", "enable", "pagarme_customer_id",
	}).AddRow(testUserID, "maria@example.com", "Maria", "USER", hasUsedTrial, true, "cust_1x")
}

func doJSON(r http.Handler, method string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, "/endpoint", &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestStartSubscription_Unauthenticated(t *testing.T) {
	h := newTestHandler()
	r := testutils.SetupTestRouter()
	r.POST("/endpoint", h.StartSubscription)

	resp := doJSON(r, http.MethodPost, map[string]string{"planCode": "pro", "provider": "pagarme"})

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestStartSubscription_RejectsUnknownProvider(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := authenticatedRouter(h.StartSubscription)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, false))

	resp := doJSON(r, http.MethodPost, map[string]string{"planCode": "pro", "provider": "paypal"})

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	var respBody map[string]string
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "validation_error", respBody["code"])
}

func TestStartSubscription_ExistingActiveSubscriptionConflicts(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	// The customer lookup goes out to the gateway; answer it locally.
	gatewayServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cust_1x"}`))
	}))
	defer gatewayServer.Close()

	stripeClient := stripegw.New("sk_test_123", testStripeSecret, time.Second)
	pagarmeClient := pagarmegw.New(gatewayServer.URL, "sk_test", testPagarmeSecret, time.Second)
	svc := billing.NewService(db.DB, "test", stripeClient, pagarmeClient)
	h := NewHandler(svc, stripeClient, pagarmeClient)
	r := authenticatedRouter(h.StartSubscription)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, false))
	mock.ExpectQuery(`SELECT (.+) FROM "plans" WHERE code = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "code", "amount_cents", "billing_cycle", "active"}).
			AddRow("44444444-4444-4444-4444-444444444444", "pro", int64(9700), "MONTHLY", true))
	// The fake customer already exists upstream, so the reference survives.
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE user_id = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "user_id", "status", "provider"}).
			AddRow(testSubID, testUserID, string(models.SubscriptionActive), "pagarme"))

	resp := doJSON(r, http.MethodPost, map[string]string{"planCode": "pro", "provider": "pagarme"})

	assert.Equal(t, http.StatusConflict, resp.Code)
	var respBody map[string]string
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "subscription_exists", respBody["code"])
}

func TestActivateTrial_SecondUseIsForbidden(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := authenticatedRouter(h.ActivateTrial)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, true))

	resp := doJSON(r, http.MethodPost, nil)

	assert.Equal(t, http.StatusForbidden, resp.Code)
	var respBody map[string]string
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.Equal(t, "trial_used", respBody["code"])
}

func TestActivateTrial_FirstUseSucceeds(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := authenticatedRouter(h.ActivateTrial)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, false))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE user_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`INSERT INTO "subscriptions" (.+) RETURNING "id"`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(testSubID))
	mock.ExpectExec(`UPDATE "users" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM "notifications" WHERE user_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectQuery(`INSERT INTO "notifications" (.+) RETURNING "id"`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("n-1"))
	mock.ExpectCommit()

	resp := doJSON(r, http.MethodPost, nil)

	assert.Equal(t, http.StatusOK, resp.Code)
	var sub models.Subscription
	json.Unmarshal(resp.Body.Bytes(), &sub)
	assert.Equal(t, models.SubscriptionTrial, sub.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStatus_ReturnsSubscriptionAndPayments(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := authenticatedRouter(h.SubscriptionStatus)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, false))
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE user_id = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "user_id", "status", "provider"}).
			AddRow(testSubID, testUserID, string(models.SubscriptionActive), "pagarme"))
	mock.ExpectQuery(`SELECT (.+) FROM "payments" WHERE subscription_id = (.+)`).
		WillReturnRows(mock.NewRows([]string{"id", "subscription_id", "amount", "status"}).
			AddRow("p-1", testSubID, 97.00, string(models.PaymentPaid)))

	resp := doJSON(r, http.MethodGet, nil)

	assert.Equal(t, http.StatusOK, resp.Code)
	var respBody map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &respBody)
	assert.NotNil(t, respBody["subscription"])
	payments := respBody["payments"].([]interface{})
	assert.Len(t, payments, 1)
}

func TestSubscriptionStatus_NoSubscription(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := authenticatedRouter(h.SubscriptionStatus)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, false))
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE user_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)

	resp := doJSON(r, http.MethodGet, nil)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestConfirmCheckout_DisabledInProduction(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	stripeClient := stripegw.New("sk_test_123", testStripeSecret, time.Second)
	pagarmeClient := pagarmegw.New("http://localhost", "sk_test", testPagarmeSecret, time.Second)
	svc := billing.NewService(db.DB, "production", stripeClient, pagarmeClient)
	h := NewHandler(svc, stripeClient, pagarmeClient)
	r := authenticatedRouter(h.ConfirmCheckout)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, false))

	resp := doJSON(r, http.MethodPost, nil)

	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestCancelSubscription_NoSubscription(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	h := newTestHandlerWithDB(t)
	r := authenticatedRouter(h.CancelSubscription)

	mock.ExpectQuery(`SELECT (.+) FROM "users" WHERE id = (.+)`).
		WillReturnRows(userRows(mock, false))
	mock.ExpectQuery(`SELECT (.+) FROM "subscriptions" WHERE user_id = (.+)`).
		WillReturnError(gorm.ErrRecordNotFound)

	resp := doJSON(r, http.MethodPost, nil)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}
