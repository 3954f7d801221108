package billing

import (
	"errors"
	"fmt"

	"fiscalai-backend/gateway"
	"fiscalai-backend/models"

	"gorm.io/gorm"
)

// VerifyResult reports how local state compares with the provider. It is a
// read-only snapshot: Verify never mutates, so a concurrent webhook and a
// manual check cannot race to apply conflicting updates.
type VerifyResult struct {
	SubscriptionID string                    `json:"subscriptionId"`
	LocalStatus    models.SubscriptionStatus `json:"localStatus"`
	GatewayStatus  gateway.Status            `json:"gatewayStatus"`
	InSync         bool                      `json:"inSync"`
	// ActionRequired is set when the gateway reports a paid charge the
	// local row does not reflect yet; the caller may then trigger
	// ConfirmPayment.
	ActionRequired bool `json:"actionRequired"`
}

// Verify queries the provider directly and reports any discrepancy without
// acting on it.
func (s *Service) Verify(user *models.User) (VerifyResult, error) {
	sub, err := s.SubscriptionByUser(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return VerifyResult{}, ErrNoSubscription
		}
		return VerifyResult{}, err
	}
	if sub.ProviderSubscriptionId == "" {
		return VerifyResult{
			SubscriptionID: sub.ID,
			LocalStatus:    sub.Status,
			GatewayStatus:  gateway.StatusUnknown,
			InSync:         sub.Status == models.SubscriptionPending || sub.Status == models.SubscriptionTrial,
		}, nil
	}

	gw, err := s.Gateway(sub.Provider)
	if err != nil {
		return VerifyResult{}, err
	}
	remote, err := gw.GetStatus(sub.ProviderSubscriptionId)
	if err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{
		SubscriptionID: sub.ID,
		LocalStatus:    sub.Status,
		GatewayStatus:  remote.Status,
	}
	switch remote.Status {
	case gateway.StatusPaid:
		result.InSync = sub.Status == models.SubscriptionActive
		result.ActionRequired = !result.InSync
	case gateway.StatusFailed:
		result.InSync = sub.Status == models.SubscriptionPastDue
	case gateway.StatusCanceled:
		result.InSync = sub.Status == models.SubscriptionCanceled || sub.Status == models.SubscriptionExpired
	default:
		result.InSync = sub.Status == models.SubscriptionPending
	}
	return result, nil
}

// ConfirmPayment is the activating reconciliation variant: it asks the
// provider for the subscription status and, when paid, applies the confirmed
// payment through the same atomic path a webhook would. A webhook racing in
// with the same transaction id is absorbed as a duplicate by the ledger.
func (s *Service) ConfirmPayment(user *models.User) (RecordResult, error) {
	sub, err := s.SubscriptionByUser(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RecordResult{}, ErrNoSubscription
		}
		return RecordResult{}, err
	}
	if sub.ProviderSubscriptionId == "" {
		return RecordResult{}, fmt.Errorf("%w: subscription has no provider reference yet", gateway.ErrValidation)
	}

	gw, err := s.Gateway(sub.Provider)
	if err != nil {
		return RecordResult{}, err
	}
	remote, err := gw.GetStatus(sub.ProviderSubscriptionId)
	if err != nil {
		return RecordResult{}, err
	}
	if remote.Status != gateway.StatusPaid {
		return RecordResult{
			Status:             ResultIgnored,
			SubscriptionID:     sub.ID,
			SubscriptionStatus: sub.Status,
		}, nil
	}

	amount := remote.AmountCents
	if amount == 0 {
		var plan models.Plan
		if err := s.db.First(&plan, "id = ?", sub.PlanID).Error; err == nil {
			amount = plan.AmountCents
		}
	}

	return s.RecordPayment(gateway.Event{
		ID:              "poll_" + sub.ProviderSubscriptionId,
		Kind:            gateway.EventPaymentConfirmed,
		Provider:        sub.Provider,
		SubscriptionRef: sub.ProviderSubscriptionId,
		TransactionRef:  remote.TransactionRef,
		InvoiceRef:      remote.InvoiceRef,
		AmountCents:     amount,
		Method:          "card",
	})
}
