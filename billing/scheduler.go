package billing

import (
	"fmt"
	"time"

	"fiscalai-backend/gateway"
	"fiscalai-backend/models"
	"fiscalai-backend/utils"
)

// RunRecurringBilling issues the next charge for every due subscription on
// plans the provider does not rebill by itself. One subscription's failure
// never aborts the batch. Returns how many subscriptions were charged
// successfully.
func (s *Service) RunRecurringBilling(now time.Time) (int, error) {
	var due []models.Subscription
	err := s.db.
		Joins("JOIN plans ON plans.id = subscriptions.plan_id AND plans.auto_rebill = false").
		Where("subscriptions.status = ? AND subscriptions.next_billing_at IS NOT NULL AND subscriptions.next_billing_at <= ?",
			models.SubscriptionActive, now).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	charged := 0
	for i := range due {
		if err := s.rebillOne(&due[i]); err != nil {
			utils.LogError(err, fmt.Sprintf("recurring billing failed for subscription %s", due[i].ID))
			continue
		}
		charged++
	}
	return charged, nil
}

func (s *Service) rebillOne(sub *models.Subscription) error {
	var user models.User
	if err := s.db.First(&user, "id = ?", sub.UserID).Error; err != nil {
		return err
	}
	var plan models.Plan
	if err := s.db.First(&plan, "id = ?", sub.PlanID).Error; err != nil {
		return err
	}
	gw, err := s.Gateway(sub.Provider)
	if err != nil {
		return err
	}

	customerRef := user.ProviderCustomerId(sub.Provider)
	if sub.ProviderCardId == "" {
		return fmt.Errorf("%w: subscription %s has no stored card to rebill", gateway.ErrValidation, sub.ID)
	}

	charge, err := gw.Charge(customerRef, sub.ProviderCardId, plan.AmountCents,
		fmt.Sprintf("%s renewal", plan.Name))
	if err != nil {
		if gateway.IsRetryable(err) {
			// Transient outage: leave next_billing_at untouched so the
			// next run retries.
			return err
		}
		_, recordErr := s.RecordFailedPayment(gateway.Event{
			Kind:            gateway.EventPaymentFailed,
			Provider:        sub.Provider,
			SubscriptionRef: sub.ProviderSubscriptionId,
			TransactionRef:  fmt.Sprintf("rebill_%s_%d", sub.ID, time.Now().Unix()),
			AmountCents:     plan.AmountCents,
			Method:          "credit_card",
			FailureReason:   err.Error(),
		})
		if recordErr != nil {
			return recordErr
		}
		return err
	}

	ev := gateway.Event{
		Provider:        sub.Provider,
		SubscriptionRef: sub.ProviderSubscriptionId,
		TransactionRef:  charge.TransactionRef,
		AmountCents:     plan.AmountCents,
		Method:          "credit_card",
	}
	if charge.Status == gateway.StatusPaid {
		ev.Kind = gateway.EventPaymentConfirmed
		_, err = s.RecordPayment(ev)
		return err
	}

	ev.Kind = gateway.EventPaymentFailed
	ev.FailureReason = charge.FailureReason
	ev.FailureCode = charge.FailureCode
	_, err = s.RecordFailedPayment(ev)
	if err != nil {
		return err
	}
	return fmt.Errorf("charge %s not paid (status %s)", charge.TransactionRef, charge.Status)
}

// StartScheduler runs RunRecurringBilling on a fixed interval until stop is
// closed.
func (s *Service) StartScheduler(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				charged, err := s.RunRecurringBilling(now)
				if err != nil {
					utils.LogError(err, "recurring billing run failed")
					continue
				}
				if charged > 0 {
					utils.LogSuccess(fmt.Sprintf("recurring billing charged %d subscriptions", charged))
				}
			}
		}
	}()
}
