package billing

import (
	"errors"
	"fmt"
	"time"

	"fiscalai-backend/gateway"
	"fiscalai-backend/models"

	"gorm.io/gorm"
)

// Result statuses reported to callers. Webhook handlers echo them in the
// acknowledgement body; none of them is an error.
const (
	ResultProcessed            = "processed"
	ResultAlreadyProcessed     = "already_processed"
	ResultSubscriptionNotFound = "subscription_not_found"
	ResultIgnored              = "ignored"
)

// notificationWindow is the dedup window for user-facing alerts.
const notificationWindow = 30 * time.Minute

// trialDays is the default trial length when the plan does not set one.
const trialDays = 7

// Service owns every subscription status change. Handlers, webhook routing
// and the scheduler all funnel through it; nothing else writes Subscription
// or Payment rows.
type Service struct {
	db       *gorm.DB
	gateways map[string]gateway.Gateway
	env      string
}

func NewService(db *gorm.DB, env string, gateways ...gateway.Gateway) *Service {
	byName := make(map[string]gateway.Gateway, len(gateways))
	for _, gw := range gateways {
		byName[gw.Name()] = gw
	}
	return &Service{db: db, gateways: byName, env: env}
}

// Gateway returns the adapter registered under name.
func (s *Service) Gateway(name string) (gateway.Gateway, error) {
	gw, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway registered as %q", gateway.ErrValidation, name)
	}
	return gw, nil
}

// IsProduction gates test-only confirmation paths.
func (s *Service) IsProduction() bool {
	return s.env == "production"
}

// CentsToMajor converts an integer minor-unit amount into the major-unit
// decimal stored on Payment rows. 9700 centavos round-trips to exactly 97.00.
func CentsToMajor(cents int64) float64 {
	return float64(cents) / 100
}

// SubscriptionByUser loads the user's single subscription row.
func (s *Service) SubscriptionByUser(userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.First(&sub, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// subscriptionByEvent resolves the local subscription a normalized event
// refers to. A miss is expected when the webhook races ahead of the
// synchronous path that creates the row, so callers treat nil as
// informational rather than an error.
func (s *Service) subscriptionByEvent(tx *gorm.DB, ev gateway.Event) (*models.Subscription, error) {
	var sub models.Subscription
	if ev.SubscriptionRef != "" {
		err := tx.First(&sub, "provider_subscription_id = ?", ev.SubscriptionRef).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.CustomerRef != "" {
		var user models.User
		column := "stripe_customer_id"
		if ev.Provider == "pagarme" {
			column = "pagarme_customer_id"
		}
		if err := tx.First(&user, column+" = ?", ev.CustomerRef).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		err := tx.First(&sub, "user_id = ?", user.ID).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// advancePeriod moves the subscription's period forward from now according to
// its billing cycle and updates NextBillingAt.
func advancePeriod(sub *models.Subscription, now time.Time) {
	years, months := sub.BillingCycle.PeriodLength()
	if years == 0 && months == 0 {
		// PER_INVOICE has no recurrence.
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = nil
		sub.NextBillingAt = nil
		return
	}
	end := now.AddDate(years, months, 0)
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = &end
	sub.NextBillingAt = &end
}
