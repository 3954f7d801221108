package billing

import (
	"errors"
	"fmt"
	"time"

	"fiscalai-backend/gateway"
	"fiscalai-backend/models"
	"fiscalai-backend/utils"

	"gorm.io/gorm"
)

// RecordResult is what event processing reports back to the caller. It is
// informational: webhook handlers echo it and always acknowledge.
type RecordResult struct {
	Status             string                    `json:"status"`
	PaymentID          string                    `json:"paymentId,omitempty"`
	SubscriptionID     string                    `json:"subscriptionId,omitempty"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscriptionStatus,omitempty"`
}

// errAlreadyProcessed aborts the transaction when a concurrent delivery won
// the race on the payment unique constraint.
var errAlreadyProcessed = errors.New("payment already processed")

type eventHandler func(*Service, gateway.Event) (RecordResult, error)

// eventHandlers is the static dispatch table, resolved once at startup.
// subscription-created events are acknowledged and ignored on purpose:
// creation does not imply payment, and activating on them would open a window
// where access exists before money moved.
var eventHandlers = map[gateway.EventKind]eventHandler{
	gateway.EventPaymentConfirmed:     (*Service).RecordPayment,
	gateway.EventPaymentFailed:        (*Service).RecordFailedPayment,
	gateway.EventSubscriptionCanceled: (*Service).recordGatewayCancel,
}

// HandleEvent dispatches a normalized gateway event. Unknown kinds are
// acknowledged as ignored, never errored.
func (s *Service) HandleEvent(ev gateway.Event) (RecordResult, error) {
	handler, ok := eventHandlers[ev.Kind]
	if !ok {
		return RecordResult{Status: ResultIgnored}, nil
	}
	return handler(s, ev)
}

// RecordPayment applies a confirmed payment. The payment insert, the
// subscription transition and the user notification commit in one
// transaction; an observer never sees one without the others. Redelivered
// events short-circuit on the existing PAID row and write nothing.
func (s *Service) RecordPayment(ev gateway.Event) (RecordResult, error) {
	if ev.TransactionRef == "" && ev.InvoiceRef == "" {
		return RecordResult{}, fmt.Errorf("%w: payment event %s has no transaction or invoice reference", gateway.ErrValidation, ev.ID)
	}

	var result RecordResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if existing, err := s.findPayment(tx, ev); err != nil {
			return err
		} else if existing != nil && existing.Status == models.PaymentPaid {
			result = RecordResult{
				Status:         ResultAlreadyProcessed,
				PaymentID:      existing.ID,
				SubscriptionID: existing.SubscriptionID,
			}
			return errAlreadyProcessed
		}

		sub, err := s.subscriptionByEvent(tx, ev)
		if err != nil {
			return err
		}
		if sub == nil {
			// The event can race ahead of the synchronous path that
			// creates the row; the provider will redeliver.
			result = RecordResult{Status: ResultSubscriptionNotFound}
			return errAlreadyProcessed
		}

		now := time.Now()
		payment := models.Payment{
			SubscriptionID:        sub.ID,
			ProviderTransactionId: ev.TransactionRef,
			ProviderInvoiceId:     ev.InvoiceRef,
			AmountCents:           ev.AmountCents,
			Amount:                CentsToMajor(ev.AmountCents),
			Status:                models.PaymentPaid,
			Method:                ev.Method,
			PaidAt:                &now,
		}
		if existing, err := s.findPayment(tx, ev); err != nil {
			return err
		} else if existing != nil {
			// A FAILED attempt for the same charge that eventually
			// went through: flip the row instead of inserting.
			payment.ID = existing.ID
			payment.CreatedAt = existing.CreatedAt
			if err := tx.Save(&payment).Error; err != nil {
				return err
			}
		} else if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A concurrent delivery won the insert race.
				result = RecordResult{Status: ResultAlreadyProcessed, SubscriptionID: sub.ID}
				return errAlreadyProcessed
			}
			return err
		}

		if err := Transition(sub, models.SubscriptionActive); err != nil {
			return err
		}
		advancePeriod(sub, now)
		sub.CanceledAt = nil
		if err := tx.Save(sub).Error; err != nil {
			return err
		}

		if _, err := notifyOnce(tx, sub.UserID, "Payment Confirmed",
			fmt.Sprintf("Your payment of %.2f was confirmed and your subscription is active.", payment.Amount),
			models.NotificationSuccess, notificationWindow); err != nil {
			return err
		}

		result = RecordResult{
			Status:             ResultProcessed,
			PaymentID:          payment.ID,
			SubscriptionID:     sub.ID,
			SubscriptionStatus: sub.Status,
		}
		return nil
	})

	if err != nil && !errors.Is(err, errAlreadyProcessed) {
		return RecordResult{}, err
	}
	if result.Status == ResultAlreadyProcessed {
		utils.LogInfo(fmt.Sprintf("duplicate payment event absorbed (txn=%s invoice=%s)", ev.TransactionRef, ev.InvoiceRef))
	}
	return result, nil
}

// RecordFailedPayment records a FAILED attempt and gates future access by
// moving the subscription to PAST_DUE. The current period end is left
// untouched: paid-for access is never revoked early.
func (s *Service) RecordFailedPayment(ev gateway.Event) (RecordResult, error) {
	var result RecordResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionByEvent(tx, ev)
		if err != nil {
			return err
		}
		if sub == nil {
			result = RecordResult{Status: ResultSubscriptionNotFound}
			return errAlreadyProcessed
		}

		existing, err := s.findPayment(tx, ev)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == models.PaymentPaid {
			// A paid row for this charge already exists: the failure
			// event arrived out of order and is stale.
			result = RecordResult{Status: ResultAlreadyProcessed, PaymentID: existing.ID, SubscriptionID: sub.ID}
			return errAlreadyProcessed
		}

		payment := models.Payment{
			SubscriptionID:        sub.ID,
			ProviderTransactionId: ev.TransactionRef,
			ProviderInvoiceId:     ev.InvoiceRef,
			AmountCents:           ev.AmountCents,
			Amount:                CentsToMajor(ev.AmountCents),
			Status:                models.PaymentFailed,
			Method:                ev.Method,
			FailureReason:         ev.FailureReason,
		}
		if existing != nil {
			payment.ID = existing.ID
			payment.CreatedAt = existing.CreatedAt
			if err := tx.Save(&payment).Error; err != nil {
				return err
			}
		} else if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				result = RecordResult{Status: ResultAlreadyProcessed, SubscriptionID: sub.ID}
				return errAlreadyProcessed
			}
			return err
		}

		if CanTransition(sub.Status, models.SubscriptionPastDue) && sub.Status != models.SubscriptionPastDue {
			if err := Transition(sub, models.SubscriptionPastDue); err != nil {
				return err
			}
			if err := tx.Save(sub).Error; err != nil {
				return err
			}
		}

		title, message := failureNotification(ev)
		if _, err := notifyOnce(tx, sub.UserID, title, message, models.NotificationAlert, notificationWindow); err != nil {
			return err
		}

		result = RecordResult{
			Status:             ResultProcessed,
			PaymentID:          payment.ID,
			SubscriptionID:     sub.ID,
			SubscriptionStatus: sub.Status,
		}
		return nil
	})

	if err != nil && !errors.Is(err, errAlreadyProcessed) {
		return RecordResult{}, err
	}
	if result.Status == ResultProcessed {
		// Email is best-effort and deliberately outside the transaction.
		var sub models.Subscription
		if err := s.db.First(&sub, "id = ?", result.SubscriptionID).Error; err == nil {
			var user models.User
			if err := s.db.First(&user, "id = ?", sub.UserID).Error; err == nil && user.Email != "" {
				go utils.SendMail(user.Email, utils.PaymentFailedMail(user.Email, ev.FailureReason))
			}
		}
	}
	return result, nil
}

// recordGatewayCancel applies a provider-initiated cancellation.
func (s *Service) recordGatewayCancel(ev gateway.Event) (RecordResult, error) {
	var result RecordResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionByEvent(tx, ev)
		if err != nil {
			return err
		}
		if sub == nil {
			result = RecordResult{Status: ResultSubscriptionNotFound}
			return errAlreadyProcessed
		}
		if sub.Status == models.SubscriptionCanceled {
			result = RecordResult{Status: ResultAlreadyProcessed, SubscriptionID: sub.ID, SubscriptionStatus: sub.Status}
			return errAlreadyProcessed
		}

		if err := Transition(sub, models.SubscriptionCanceled); err != nil {
			return err
		}
		now := time.Now()
		sub.CanceledAt = &now
		sub.NextBillingAt = nil
		if err := tx.Save(sub).Error; err != nil {
			return err
		}

		if _, err := notifyOnce(tx, sub.UserID, "Subscription Canceled",
			"Your subscription was canceled by the payment provider.",
			models.NotificationAlert, notificationWindow); err != nil {
			return err
		}

		result = RecordResult{Status: ResultProcessed, SubscriptionID: sub.ID, SubscriptionStatus: sub.Status}
		return nil
	})

	if err != nil && !errors.Is(err, errAlreadyProcessed) {
		return RecordResult{}, err
	}
	return result, nil
}

// findPayment looks up an existing attempt by the provider identifiers, which
// carry the unique indexes used for idempotency.
func (s *Service) findPayment(tx *gorm.DB, ev gateway.Event) (*models.Payment, error) {
	var payment models.Payment
	if ev.TransactionRef != "" {
		err := tx.First(&payment, "provider_transaction_id = ?", ev.TransactionRef).Error
		if err == nil {
			return &payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.InvoiceRef != "" {
		err := tx.First(&payment, "provider_invoice_id = ?", ev.InvoiceRef).Error
		if err == nil {
			return &payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// failureNotification picks the user-facing message. A gateway configuration
// problem must not read as if the user's card was refused.
func failureNotification(ev gateway.Event) (string, string) {
	if ev.FailureCode == "gateway_error" {
		return "Payment Problem",
			"We could not process your payment due to a problem on our side. No action is needed; we are looking into it."
	}
	reason := ev.FailureReason
	if reason == "" {
		reason = "your card was declined"
	}
	return "Payment Failed",
		fmt.Sprintf("Your subscription payment failed: %s. Please update your payment method to keep your access.", reason)
}
