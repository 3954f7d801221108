package stripegw

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fiscalai-backend/gateway"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/subscription"
)

const (
	prefixCustomer      = "cus_"
	prefixPaymentMethod = "pm_"
	prefixToken         = "tok_"
	prefixSubscription  = "sub_"
)

// Client is the modern invoice-based provider adapter. The API key and
// timeout are supplied at construction; nothing touches the SDK's package
// globals, so two clients with different keys can coexist (and tests can
// point the backend elsewhere).
type Client struct {
	customers     customer.Client
	paymentMethod paymentmethod.Client
	subscriptions subscription.Client
	webhookSecret string
}

func New(apiKey, webhookSecret string, timeout time.Duration) *Client {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	})
	return &Client{
		customers:     customer.Client{B: backend, Key: apiKey},
		paymentMethod: paymentmethod.Client{B: backend, Key: apiKey},
		subscriptions: subscription.Client{B: backend, Key: apiKey},
		webhookSecret: webhookSecret,
	}
}

func (c *Client) Name() string { return "stripe" }

func (c *Client) CreateOrGetCustomer(existingRef string, in gateway.CustomerInput) (string, error) {
	if existingRef != "" {
		if err := gateway.RequirePrefix(existingRef, prefixCustomer, "customer reference"); err != nil {
			return "", err
		}
		// The stored reference may point at a customer deleted on the
		// provider side; recreate it in that case.
		cust, err := c.customers.Get(existingRef, nil)
		if err == nil && !cust.Deleted {
			return existingRef, nil
		}
		if err != nil && !errors.Is(classify(err), gateway.ErrNotFound) {
			return "", classify(err)
		}
	}

	params := &stripe.CustomerParams{
		Name:  stripe.String(in.Name),
		Email: stripe.String(in.Email),
	}
	if in.TaxDocument != "" {
		params.AddMetadata("tax_document", in.TaxDocument)
	}
	cust, err := c.customers.New(params)
	if err != nil {
		return "", classify(err)
	}
	return cust.ID, nil
}

func (c *Client) AttachPaymentMethod(customerRef, token string) (string, error) {
	if err := gateway.RequirePrefix(customerRef, prefixCustomer, "customer reference"); err != nil {
		return "", err
	}

	// A single-use card token must first be exchanged for a payment method;
	// an existing pm_ reference is attached as-is.
	pmID := token
	if err := gateway.RequirePrefix(token, prefixPaymentMethod, "payment method"); err != nil {
		if err := gateway.RequirePrefix(token, prefixToken, "card token"); err != nil {
			return "", err
		}
		pm, err := c.paymentMethod.New(&stripe.PaymentMethodParams{
			Type: stripe.String("card"),
			Card: &stripe.PaymentMethodCardParams{Token: stripe.String(token)},
		})
		if err != nil {
			return "", classify(err)
		}
		pmID = pm.ID
	}

	pm, err := c.paymentMethod.Attach(pmID, &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerRef),
	})
	if err != nil {
		return "", classify(err)
	}
	return pm.ID, nil
}

func (c *Client) CreateSubscription(in gateway.SubscriptionInput) (gateway.SubscriptionResult, error) {
	if err := gateway.RequirePrefix(in.CustomerRef, prefixCustomer, "customer reference"); err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if err := gateway.RequirePrefix(in.PaymentMethodRef, prefixPaymentMethod, "payment method"); err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if err := gateway.RequirePrefix(in.PlanRef, "price_", "price reference"); err != nil {
		return gateway.SubscriptionResult{}, err
	}
	if err := gateway.ValidateAmount(in.AmountCents); err != nil {
		return gateway.SubscriptionResult{}, err
	}

	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(in.CustomerRef),
		DefaultPaymentMethod: stripe.String(in.PaymentMethodRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PlanRef), Quantity: stripe.Int64(1)},
		},
	}
	params.AddExpand("latest_invoice")

	s, err := c.subscriptions.New(params)
	if err != nil {
		return gateway.SubscriptionResult{}, classify(err)
	}

	res := gateway.SubscriptionResult{
		SubscriptionRef: s.ID,
		Status:          subscriptionStatus(s),
	}
	if s.LatestInvoice != nil {
		res.InvoiceRef = s.LatestInvoice.ID
	}
	if end := periodEnd(s); !end.IsZero() {
		res.CurrentPeriodEnd = end
	}
	return res, nil
}

func (c *Client) CancelSubscription(subscriptionRef string) error {
	if err := gateway.RequirePrefix(subscriptionRef, prefixSubscription, "subscription reference"); err != nil {
		return err
	}
	_, err := c.subscriptions.Cancel(subscriptionRef, &stripe.SubscriptionCancelParams{
		Prorate: stripe.Bool(false),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) GetStatus(subscriptionRef string) (gateway.StatusResult, error) {
	if err := gateway.RequirePrefix(subscriptionRef, prefixSubscription, "subscription reference"); err != nil {
		return gateway.StatusResult{}, err
	}

	params := &stripe.SubscriptionParams{}
	params.AddExpand("latest_invoice")
	s, err := c.subscriptions.Get(subscriptionRef, params)
	if err != nil {
		return gateway.StatusResult{}, classify(err)
	}

	res := gateway.StatusResult{
		Status:           gateway.StatusPending,
		CurrentPeriodEnd: periodEnd(s),
	}
	if s.LatestInvoice != nil {
		res.InvoiceRef = s.LatestInvoice.ID
		res.AmountCents = s.LatestInvoice.AmountPaid
		if s.LatestInvoice.Status == stripe.InvoiceStatusPaid {
			res.Status = gateway.StatusPaid
		}
	}
	switch subscriptionStatus(s) {
	case gateway.StatusCanceled:
		res.Status = gateway.StatusCanceled
	case gateway.StatusFailed:
		res.Status = gateway.StatusFailed
	}
	return res, nil
}

// Charge is not supported: the invoice-based provider rebills on its own.
func (c *Client) Charge(customerRef, paymentMethodRef string, amountCents int64, description string) (gateway.ChargeResult, error) {
	return gateway.ChargeResult{}, fmt.Errorf("%w: stripe subscriptions rebill automatically, direct charges are not supported", gateway.ErrValidation)
}

func subscriptionStatus(s *stripe.Subscription) gateway.Status {
	switch s.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return gateway.StatusPaid
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return gateway.StatusCanceled
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

// periodEnd reads the current period end, which lives on the subscription
// items since the basil API version.
func periodEnd(s *stripe.Subscription) time.Time {
	if s.Items == nil || len(s.Items.Data) == 0 {
		return time.Time{}
	}
	if ts := s.Items.Data[0].CurrentPeriodEnd; ts > 0 {
		return time.Unix(ts, 0)
	}
	return time.Time{}
}

// classify maps SDK errors onto the gateway taxonomy so callers can decide
// whether to retry without importing stripe types.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", gateway.ErrNotFound, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s (%s)", gateway.ErrGateway, stripeErr.Msg, stripeErr.Code)
	}
	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return fmt.Errorf("%w: %v", gateway.ErrGateway, err)
	}
	return fmt.Errorf("%w: %v", gateway.ErrNetwork, err)
}
