package pagarme

import (
	"fmt"

	"fiscalai-backend/gateway"
)

// ParseEvent normalizes an already-decoded legacy webhook payload. The event
// type lives in "type" on current payloads and "event" on the oldest ones.
// order.paid and charge.paid are the only payment-confirmed signals; an
// order.created alone never confirms anything.
func (c *Client) ParseEvent(payload map[string]interface{}) (gateway.Event, error) {
	eventType, _ := payload["type"].(string)
	if eventType == "" {
		eventType, _ = payload["event"].(string)
	}
	if eventType == "" {
		return gateway.Event{}, fmt.Errorf("%w: payload carries neither type nor event", gateway.ErrValidation)
	}

	out := gateway.Event{
		Provider: c.Name(),
		RawType:  eventType,
		Kind:     gateway.EventUnknown,
	}
	if id, ok := payload["id"].(string); ok {
		out.ID = id
	}

	switch eventType {
	case "order.paid", "charge.paid":
		out.Kind = gateway.EventPaymentConfirmed
	case "order.payment_failed", "charge.payment_failed", "charge.refused":
		out.Kind = gateway.EventPaymentFailed
	case "order.created", "order.pending":
		out.Kind = gateway.EventSubscriptionCreated
	case "order.canceled", "order.closed":
		out.Kind = gateway.EventSubscriptionCanceled
	default:
		return out, nil
	}

	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return out, fmt.Errorf("%w: event %s carries no data object", gateway.ErrValidation, eventType)
	}

	if id, ok := data["id"].(string); ok {
		switch {
		case hasPrefix(id, prefixOrder):
			out.SubscriptionRef = id
		case hasPrefix(id, prefixCharge):
			out.TransactionRef = id
		}
	}
	if order, ok := data["order"].(map[string]interface{}); ok {
		if id, ok := order["id"].(string); ok {
			out.SubscriptionRef = id
		}
	}
	if charges, ok := data["charges"].([]interface{}); ok && len(charges) > 0 {
		if charge, ok := charges[0].(map[string]interface{}); ok {
			if id, ok := charge["id"].(string); ok {
				out.TransactionRef = id
			}
		}
	}
	if customer, ok := data["customer"].(map[string]interface{}); ok {
		if id, ok := customer["id"].(string); ok {
			out.CustomerRef = id
		}
	}
	if amount, ok := data["amount"].(float64); ok {
		out.AmountCents = int64(amount)
	}
	if method, ok := data["payment_method"].(string); ok {
		out.Method = method
	} else {
		out.Method = "credit_card"
	}

	if out.Kind == gateway.EventPaymentFailed {
		out.FailureCode = "card_declined"
		out.FailureReason = "charge refused by the acquirer"
		if last, ok := data["last_transaction"].(map[string]interface{}); ok {
			if msg, ok := last["acquirer_message"].(string); ok && msg != "" {
				out.FailureReason = msg
			}
			if code, ok := last["gateway_response_code"].(string); ok && code == "integration_error" {
				out.FailureCode = "gateway_error"
				out.FailureReason = "payment gateway configuration error"
			}
		}
	}

	if out.SubscriptionRef == "" && out.TransactionRef == "" {
		return out, fmt.Errorf("%w: event %s carries no order or charge reference", gateway.ErrValidation, eventType)
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) > len(prefix) && s[:len(prefix)] == prefix
}
