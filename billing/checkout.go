package billing

import (
	"errors"
	"fmt"
	"time"

	"fiscalai-backend/gateway"
	"fiscalai-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Errors surfaced to the synchronous client API. Handlers map them onto
// stable HTTP codes.
var (
	ErrSubscriptionExists   = errors.New("an active or trial subscription already exists")
	ErrNoSubscription       = errors.New("no subscription found")
	ErrNotPayable           = errors.New("subscription is not awaiting payment")
	ErrTrialAlreadyUsed     = errors.New("trial already used")
	ErrPeriodEnded          = errors.New("subscription period has ended, start a new checkout")
	ErrNotCancelable        = errors.New("subscription cannot be canceled in its current status")
	ErrSimulationDisallowed = errors.New("simulated confirmation is disabled in production")
)

// StartCheckout creates (or restarts) the user's PENDING subscription and
// makes sure a provider customer exists. No money moves here; activation only
// ever follows a confirmed payment.
func (s *Service) StartCheckout(user *models.User, planCode, providerName string) (*models.Subscription, error) {
	gw, err := s.Gateway(providerName)
	if err != nil {
		return nil, err
	}

	var plan models.Plan
	if err := s.db.First(&plan, "code = ? AND active = true", planCode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown plan %q", gateway.ErrValidation, planCode)
		}
		return nil, err
	}

	customerRef, err := gw.CreateOrGetCustomer(user.ProviderCustomerId(providerName), gateway.CustomerInput{
		Name:        user.Name,
		Email:       user.Email,
		TaxDocument: user.TaxDocument,
	})
	if err != nil {
		return nil, err
	}
	if customerRef != user.ProviderCustomerId(providerName) {
		column := "stripe_customer_id"
		if providerName == "pagarme" {
			column = "pagarme_customer_id"
		}
		if err := s.db.Model(user).Update(column, customerRef).Error; err != nil {
			return nil, err
		}
	}

	providerPlan := plan.StripePriceId
	if providerName == "pagarme" {
		providerPlan = plan.PagarmePlanId
	}

	sub, err := s.SubscriptionByUser(user.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = &models.Subscription{
			UserID:             user.ID,
			PlanID:             plan.ID,
			Status:             models.SubscriptionPending,
			Provider:           providerName,
			ProviderPlanId:     providerPlan,
			BillingCycle:       plan.BillingCycle,
			CurrentPeriodStart: time.Now(),
		}
		if err := s.db.Create(sub).Error; err != nil {
			return nil, err
		}
		return sub, nil
	case err != nil:
		return nil, err
	}

	switch {
	case sub.Status == models.SubscriptionPending || sub.Status == models.SubscriptionPastDue:
		// Retry of an unfinished or failing checkout: repoint at the
		// requested plan.
	case CanRestart(sub.Status):
		sub.Status = models.SubscriptionPending
		sub.CanceledAt = nil
		sub.TrialEndsAt = nil
		sub.CurrentPeriodEnd = nil
		sub.NextBillingAt = nil
		sub.ProviderSubscriptionId = ""
	default:
		return nil, ErrSubscriptionExists
	}

	sub.PlanID = plan.ID
	sub.Provider = providerName
	sub.ProviderPlanId = providerPlan
	sub.BillingCycle = plan.BillingCycle
	sub.CurrentPeriodStart = time.Now()
	if err := s.db.Save(sub).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// ProcessPayment exchanges the client-side card token for a durable payment
// method, creates the provider subscription and, when the provider already
// reports the first charge as paid, activates through the same transaction
// path a webhook would take.
func (s *Service) ProcessPayment(user *models.User, token string) (RecordResult, error) {
	sub, err := s.SubscriptionByUser(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RecordResult{}, ErrNoSubscription
		}
		return RecordResult{}, err
	}
	if sub.Status != models.SubscriptionPending && sub.Status != models.SubscriptionPastDue {
		return RecordResult{}, ErrNotPayable
	}

	var plan models.Plan
	if err := s.db.First(&plan, "id = ?", sub.PlanID).Error; err != nil {
		return RecordResult{}, err
	}
	gw, err := s.Gateway(sub.Provider)
	if err != nil {
		return RecordResult{}, err
	}

	customerRef := user.ProviderCustomerId(sub.Provider)
	if customerRef == "" {
		return RecordResult{}, fmt.Errorf("%w: user has no %s customer, start checkout first", gateway.ErrValidation, sub.Provider)
	}

	paymentMethodRef, err := gw.AttachPaymentMethod(customerRef, token)
	if err != nil {
		return RecordResult{}, err
	}

	created, err := gw.CreateSubscription(gateway.SubscriptionInput{
		CustomerRef:      customerRef,
		PaymentMethodRef: paymentMethodRef,
		PlanRef:          sub.ProviderPlanId,
		Cycle:            sub.BillingCycle,
		AmountCents:      plan.AmountCents,
		Description:      plan.Name,
	})
	if err != nil {
		return RecordResult{}, err
	}

	sub.ProviderSubscriptionId = created.SubscriptionRef
	sub.ProviderCardId = paymentMethodRef
	if err := s.db.Save(sub).Error; err != nil {
		return RecordResult{}, err
	}

	if created.Status != gateway.StatusPaid {
		// First charge still settling; the webhook (or a verify call)
		// finishes the activation.
		return RecordResult{
			Status:             ResultProcessed,
			SubscriptionID:     sub.ID,
			SubscriptionStatus: sub.Status,
		}, nil
	}

	return s.RecordPayment(gateway.Event{
		ID:              "sync_" + created.SubscriptionRef,
		Kind:            gateway.EventPaymentConfirmed,
		Provider:        sub.Provider,
		SubscriptionRef: created.SubscriptionRef,
		TransactionRef:  created.TransactionRef,
		InvoiceRef:      created.InvoiceRef,
		AmountCents:     plan.AmountCents,
		Method:          "card",
	})
}

// ConfirmCheckoutTest simulates a confirmed payment. Only available outside
// production; it runs the exact activation path a webhook would.
func (s *Service) ConfirmCheckoutTest(user *models.User) (RecordResult, error) {
	if s.IsProduction() {
		return RecordResult{}, ErrSimulationDisallowed
	}
	sub, err := s.SubscriptionByUser(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RecordResult{}, ErrNoSubscription
		}
		return RecordResult{}, err
	}

	var plan models.Plan
	if err := s.db.First(&plan, "id = ?", sub.PlanID).Error; err != nil {
		return RecordResult{}, err
	}

	return s.RecordPayment(gateway.Event{
		ID:              "sim_" + uuid.NewString(),
		Kind:            gateway.EventPaymentConfirmed,
		Provider:        sub.Provider,
		SubscriptionRef: sub.ProviderSubscriptionId,
		TransactionRef:  "sim_" + uuid.NewString(),
		CustomerRef:     user.ProviderCustomerId(sub.Provider),
		AmountCents:     plan.AmountCents,
		Method:          "simulated",
	})
}

// Cancel cancels on the provider first, then flips the local status. The row
// is never deleted and paid-for access runs to the period end.
func (s *Service) Cancel(user *models.User) (*models.Subscription, error) {
	sub, err := s.SubscriptionByUser(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	if sub.Status == models.SubscriptionCanceled {
		return sub, nil
	}
	if !CanTransition(sub.Status, models.SubscriptionCanceled) {
		return nil, ErrNotCancelable
	}

	if sub.ProviderSubscriptionId != "" {
		gw, err := s.Gateway(sub.Provider)
		if err != nil {
			return nil, err
		}
		if err := gw.CancelSubscription(sub.ProviderSubscriptionId); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return nil, err
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := Transition(sub, models.SubscriptionCanceled); err != nil {
			return err
		}
		now := time.Now()
		sub.CanceledAt = &now
		sub.NextBillingAt = nil
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		_, err := notifyOnce(tx, sub.UserID, "Subscription Canceled",
			"Your subscription was canceled. You keep access until the end of the paid period.",
			models.NotificationInfo, notificationWindow)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Reactivate undoes a cancellation while the paid period is still running.
// After the period end a new checkout (and a new payment) is required.
func (s *Service) Reactivate(user *models.User) (*models.Subscription, error) {
	sub, err := s.SubscriptionByUser(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	if sub.Status != models.SubscriptionCanceled {
		return nil, fmt.Errorf("%w: only canceled subscriptions can be reactivated", gateway.ErrValidation)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.After(time.Now()) {
		return nil, ErrPeriodEnded
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := Transition(sub, models.SubscriptionActive); err != nil {
			return err
		}
		sub.CanceledAt = nil
		sub.NextBillingAt = sub.CurrentPeriodEnd
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		_, err := notifyOnce(tx, sub.UserID, "Subscription Reactivated",
			"Welcome back! Your subscription is active again.",
			models.NotificationSuccess, notificationWindow)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ActivateTrial starts the one-time free trial. No payment is involved, so
// this is the only activation-like path not gated on a payment artifact; the
// HasUsedTrial flag makes it single-use per user.
func (s *Service) ActivateTrial(user *models.User) (*models.Subscription, error) {
	if user.HasUsedTrial {
		return nil, ErrTrialAlreadyUsed
	}

	var sub *models.Subscription
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.SubscriptionByUser(user.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now()
		trialEnd := now.AddDate(0, 0, trialDays)

		if existing == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			sub = &models.Subscription{
				UserID:             user.ID,
				Status:             models.SubscriptionTrial,
				BillingCycle:       models.CycleMonthly,
				CurrentPeriodStart: now,
				CurrentPeriodEnd:   &trialEnd,
				TrialEndsAt:        &trialEnd,
			}
			if err := tx.Create(sub).Error; err != nil {
				return err
			}
		} else {
			if err := Transition(existing, models.SubscriptionTrial); err != nil {
				return err
			}
			existing.CurrentPeriodStart = now
			existing.CurrentPeriodEnd = &trialEnd
			existing.TrialEndsAt = &trialEnd
			if err := tx.Save(existing).Error; err != nil {
				return err
			}
			sub = existing
		}

		if err := tx.Model(user).Update("has_used_trial", true).Error; err != nil {
			return err
		}
		user.HasUsedTrial = true

		_, err = notifyOnce(tx, user.ID, "Trial Started",
			fmt.Sprintf("Your %d-day free trial is active. Enjoy!", trialDays),
			models.NotificationSuccess, notificationWindow)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
