package pagarme

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"fiscalai-backend/gateway"

	"github.com/sony/gobreaker/v2"
)

const (
	prefixCustomer = "cust_"
	prefixCard     = "card_"
	prefixToken    = "token_"
	prefixOrder    = "or_"
	prefixCharge   = "ch_"
)

const maxNetworkRetries = 2

// Client talks to the legacy order/charge API generation. Every charge is a
// one-shot order; recurrence is driven by our own scheduler, not the provider.
// Calls run through a circuit breaker so a provider outage fails fast instead
// of tying up request handlers on timeouts.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker[[]byte]
}

func New(baseURL, apiKey, webhookSecret string, timeout time.Duration) *Client {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "pagarme",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: timeout},
		breaker:       breaker,
	}
}

func (c *Client) Name() string { return "pagarme" }

// WebhookSecret is the shared secret expected on inbound webhook requests.
// The legacy API generation does not sign payloads.
func (c *Client) WebhookSecret() string { return c.webhookSecret }

func (c *Client) CreateOrGetCustomer(existingRef string, in gateway.CustomerInput) (string, error) {
	if existingRef != "" {
		if err := gateway.RequirePrefix(existingRef, prefixCustomer, "customer reference"); err != nil {
			return "", err
		}
		if _, err := c.do(http.MethodGet, "/customers/"+existingRef, nil); err == nil {
			return existingRef, nil
		} else if !errors.Is(err, gateway.ErrNotFound) {
			return "", err
		}
	}

	body, err := c.do(http.MethodPost, "/customers", map[string]interface{}{
		"name":     in.Name,
		"email":    in.Email,
		"document": in.TaxDocument,
		"type":     "individual",
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed customer response: %v", gateway.ErrGateway, err)
	}
	return resp.ID, nil
}

func (c *Client) AttachPaymentMethod(customerRef, token string) (string, error) {
	if err := gateway.RequirePrefix(customerRef, prefixCustomer, "customer reference"); err != nil {
		return "", err
	}
	if err := gateway.RequirePrefix(token, prefixToken, "card token"); err != nil {
		return "", err
	}

	body, err := c.do(http.MethodPost, "/customers/"+customerRef+"/cards", map[string]interface{}{
		"token": token,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed card response: %v", gateway.ErrGateway, err)
	}
	return resp.ID, nil
}

// CreateSubscription places the first order. The order id doubles as the
// subscription reference; follow-up periods are new orders issued by Charge.
func (c *Client) CreateSubscription(in gateway.SubscriptionInput) (gateway.SubscriptionResult, error) {
	if err := gateway.RequirePrefix(in.CustomerRef, prefixCustomer, "customer reference"); err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if err := gateway.RequirePrefix(in.PaymentMethodRef, prefixCard, "card reference"); err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if err := gateway.ValidateAmount(in.AmountCents); err != nil {
		return gateway.SubscriptionResult{}, err
	}

	order, err := c.createOrder(in.CustomerRef, in.PaymentMethodRef, in.AmountCents, in.Description)
	if err != nil {
		return gateway.SubscriptionResult{}, err
	}
	return gateway.SubscriptionResult{
		SubscriptionRef: order.ID,
		TransactionRef:  order.chargeID(),
		Status:          orderStatus(order.Status),
	}, nil
}

func (c *Client) CancelSubscription(subscriptionRef string) error {
	if err := gateway.RequirePrefix(subscriptionRef, prefixOrder, "order reference"); err != nil {
		return err
	}
	// Closing the order stops a pending charge; paid orders stay as they
	// are and the local status flip is what revokes access.
	_, err := c.do(http.MethodPatch, "/orders/"+subscriptionRef+"/closed", nil)
	if err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return err
	}
	return nil
}

func (c *Client) GetStatus(subscriptionRef string) (gateway.StatusResult, error) {
	if err := gateway.RequirePrefix(subscriptionRef, prefixOrder, "order reference"); err != nil {
		return gateway.StatusResult{}, err
	}

	body, err := c.do(http.MethodGet, "/orders/"+subscriptionRef, nil)
	if err != nil {
		return gateway.StatusResult{}, err
	}
	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return gateway.StatusResult{}, fmt.Errorf("%w: malformed order response: %v", gateway.ErrGateway, err)
	}
	return gateway.StatusResult{
		Status:         orderStatus(order.Status),
		TransactionRef: order.chargeID(),
		AmountCents:    order.Amount,
	}, nil
}

func (c *Client) Charge(customerRef, paymentMethodRef string, amountCents int64, description string) (gateway.ChargeResult, error) {
	if err := gateway.RequirePrefix(customerRef, prefixCustomer, "customer reference"); err != nil {
		return gateway.ChargeResult{}, err
	}
	if err := gateway.RequirePrefix(paymentMethodRef, prefixCard, "card reference"); err != nil {
		return gateway.ChargeResult{}, err
	}
	if err := gateway.ValidateAmount(amountCents); err != nil {
		return gateway.ChargeResult{}, err
	}

	order, err := c.createOrder(customerRef, paymentMethodRef, amountCents, description)
	if err != nil {
		return gateway.ChargeResult{}, err
	}
	res := gateway.ChargeResult{
		TransactionRef: order.chargeID(),
		Status:         orderStatus(order.Status),
	}
	if res.TransactionRef == "" {
		res.TransactionRef = order.ID
	}
	if res.Status == gateway.StatusFailed {
		res.FailureReason = order.failureMessage()
		res.FailureCode = "card_declined"
	}
	return res, nil
}

type orderResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	Charges []struct {
		ID              string `json:"id"`
		Status          string `json:"status"`
		LastTransaction struct {
			AcquirerMessage string `json:"acquirer_message"`
		} `json:"last_transaction"`
	} `json:"charges"`
}

func (o *orderResponse) chargeID() string {
	if len(o.Charges) > 0 {
		return o.Charges[0].ID
	}
	return ""
}

func (o *orderResponse) failureMessage() string {
	if len(o.Charges) > 0 && o.Charges[0].LastTransaction.AcquirerMessage != "" {
		return o.Charges[0].LastTransaction.AcquirerMessage
	}
	return "charge refused by the acquirer"
}

func (c *Client) createOrder(customerRef, cardRef string, amountCents int64, description string) (*orderResponse, error) {
	body, err := c.do(http.MethodPost, "/orders", map[string]interface{}{
		"customer_id": customerRef,
		"items": []map[string]interface{}{
			{"amount": amountCents, "description": description, "quantity": 1},
		},
		"payments": []map[string]interface{}{
			{
				"payment_method": "credit_card",
				"credit_card":    map[string]interface{}{"card_id": cardRef},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: malformed order response: %v", gateway.ErrGateway, err)
	}
	return &order, nil
}

func orderStatus(status string) gateway.Status {
	switch status {
	case "paid":
		return gateway.StatusPaid
	case "failed", "payment_failed":
		return gateway.StatusFailed
	case "canceled":
		return gateway.StatusCanceled
	case "pending", "processing":
		return gateway.StatusPending
	default:
		return gateway.StatusUnknown
	}
}

// do performs one API call through the circuit breaker, retrying transient
// network failures only. Validation and gateway rejections are never retried.
func (c *Client) do(method, path string, payload interface{}) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxNetworkRetries; attempt++ {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.doOnce(method, path, payload)
		})
		if err == nil {
			return body, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: pagarme circuit open: %v", gateway.ErrNetwork, err)
		}
		lastErr = err
		if !gateway.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(method, path string, payload interface{}) ([]byte, error) {
	var reqBody *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
		}
		reqBody = bytes.NewBuffer(encoded)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", gateway.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return buf.Bytes(), nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", gateway.ErrNotFound, method, path)
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: pagarme returned %d", gateway.ErrNetwork, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: pagarme returned %d: %s", gateway.ErrGateway, resp.StatusCode, apiErrorMessage(buf.Bytes()))
	}
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: request timed out: %v", gateway.ErrNetwork, err)
	}
	return fmt.Errorf("%w: %v", gateway.ErrNetwork, err)
}

func apiErrorMessage(body []byte) string {
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return resp.Message
	}
	return string(body)
}
