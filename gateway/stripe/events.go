package stripegw

import (
	"encoding/json"
	"fmt"

	"fiscalai-backend/gateway"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
// Signature failures are ErrValidation: the caller must reject the request
// before any processing. Stripe delivers events pinned to the account's API
// version, which rarely matches the SDK's pin, so the version check is off.
func (c *Client) ParseWebhook(payload []byte, sigHeader string) (gateway.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return gateway.Event{}, fmt.Errorf("%w: stripe signature verification failed: %v", gateway.ErrValidation, err)
	}
	return c.normalize(event)
}

func (c *Client) normalize(event stripe.Event) (gateway.Event, error) {
	out := gateway.Event{
		ID:       event.ID,
		Provider: c.Name(),
		RawType:  string(event.Type),
		Kind:     gateway.EventUnknown,
	}

	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded":
		out.Kind = gateway.EventPaymentConfirmed
		return c.fillFromInvoice(out, event.Data.Raw)
	case "invoice.payment_failed":
		out.Kind = gateway.EventPaymentFailed
		ev, err := c.fillFromInvoice(out, event.Data.Raw)
		if err != nil {
			return ev, err
		}
		ev.FailureCode = "card_declined"
		ev.FailureReason = "payment of the latest invoice failed"
		return ev, nil
	case "customer.subscription.created":
		out.Kind = gateway.EventSubscriptionCreated
	case "customer.subscription.deleted":
		out.Kind = gateway.EventSubscriptionCanceled
	default:
		return out, nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return out, fmt.Errorf("%w: malformed subscription payload: %v", gateway.ErrValidation, err)
	}
	out.SubscriptionRef = sub.ID
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	return out, nil
}

// fillFromInvoice digs the subscription reference out of the invoice payload.
// Since the basil API version it lives under parent.subscription_details; the
// top-level subscription field is kept as a fallback for older payloads.
func (c *Client) fillFromInvoice(out gateway.Event, raw json.RawMessage) (gateway.Event, error) {
	var invoice map[string]interface{}
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return out, fmt.Errorf("%w: malformed invoice payload: %v", gateway.ErrValidation, err)
	}

	if id, ok := invoice["id"].(string); ok {
		out.InvoiceRef = id
	}
	if parent, ok := invoice["parent"].(map[string]interface{}); ok {
		if details, ok := parent["subscription_details"].(map[string]interface{}); ok {
			if sub, ok := details["subscription"].(string); ok && sub != "" {
				out.SubscriptionRef = sub
			}
		}
	}
	if out.SubscriptionRef == "" {
		if sub, ok := invoice["subscription"].(string); ok {
			out.SubscriptionRef = sub
		}
	}
	if cust, ok := invoice["customer"].(string); ok {
		out.CustomerRef = cust
	}
	if pi, ok := invoice["payment_intent"].(string); ok {
		out.TransactionRef = pi
	}
	if amount, ok := invoice["amount_paid"].(float64); ok && amount > 0 {
		out.AmountCents = int64(amount)
	} else if due, ok := invoice["amount_due"].(float64); ok {
		out.AmountCents = int64(due)
	}
	out.Method = "card"

	if out.SubscriptionRef == "" {
		return out, fmt.Errorf("%w: invoice event %s carries no subscription reference", gateway.ErrValidation, out.ID)
	}
	return out, nil
}
