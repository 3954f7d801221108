package gateway

import (
	"time"

	"fiscalai-backend/models"
)

// Status is the normalized payment/subscription state reported by a provider.
type Status string

const (
	StatusPaid     Status = "paid"
	StatusPending  Status = "pending"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
	StatusUnknown  Status = "unknown"
)

// EventKind is the canonical classification of a webhook payload. Each adapter
// maps its own event-type strings (order.paid/charge.paid on the legacy API,
// invoice.paid/invoice.payment_succeeded on the modern one) into exactly one
// kind, so the router never inspects provider strings.
type EventKind string

const (
	EventPaymentConfirmed     EventKind = "payment_confirmed"
	EventPaymentFailed        EventKind = "payment_failed"
	EventSubscriptionCreated  EventKind = "subscription_created"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	EventUnknown              EventKind = "unknown"
)

// Event is the provider-neutral form of one webhook delivery.
type Event struct {
	ID              string
	Kind            EventKind
	RawType         string
	Provider        string
	SubscriptionRef string
	TransactionRef  string
	InvoiceRef      string
	CustomerRef     string
	AmountCents     int64
	Method          string
	FailureReason   string
	// FailureCode distinguishes a declined card from a misconfigured
	// integration so user-facing alerts do not blame the wrong side.
	FailureCode string
}

type CustomerInput struct {
	Name        string
	Email       string
	TaxDocument string
}

type SubscriptionInput struct {
	CustomerRef      string
	PaymentMethodRef string
	PlanRef          string
	Cycle            models.BillingCycle
	AmountCents      int64
	Description      string
}

type SubscriptionResult struct {
	SubscriptionRef  string
	InvoiceRef       string
	TransactionRef   string
	Status           Status
	CurrentPeriodEnd time.Time
}

type StatusResult struct {
	Status           Status
	InvoiceRef       string
	TransactionRef   string
	AmountCents      int64
	CurrentPeriodEnd time.Time
}

type ChargeResult struct {
	TransactionRef string
	Status         Status
	FailureReason  string
	FailureCode    string
}

// Gateway hides the two provider API generations behind one contract.
//
// Raw card data never crosses this boundary: AttachPaymentMethod exchanges a
// short-lived single-use token (produced by the provider's client-side
// tokenization) for a durable payment-method reference on the customer, and
// everything downstream only ever sees references.
type Gateway interface {
	Name() string

	// CreateOrGetCustomer returns a valid customer reference, reusing
	// existingRef when the provider still knows it.
	CreateOrGetCustomer(existingRef string, in CustomerInput) (string, error)

	// AttachPaymentMethod trades a one-time card token for a reusable
	// payment-method reference attached to the customer.
	AttachPaymentMethod(customerRef, token string) (string, error)

	CreateSubscription(in SubscriptionInput) (SubscriptionResult, error)
	CancelSubscription(subscriptionRef string) error

	// GetStatus queries the provider directly; used by reconciliation when
	// the webhook channel is delayed or distrusted.
	GetStatus(subscriptionRef string) (StatusResult, error)

	// Charge issues a one-shot charge. Only meaningful for the legacy
	// provider, which does not rebill on its own.
	Charge(customerRef, paymentMethodRef string, amountCents int64, description string) (ChargeResult, error)
}
