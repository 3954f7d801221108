package models

import (
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionPending  SubscriptionStatus = "PENDING"
	SubscriptionTrial    SubscriptionStatus = "TRIAL"
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
	SubscriptionExpired  SubscriptionStatus = "EXPIRED"
)

type BillingCycle string

const (
	CycleMonthly    BillingCycle = "MONTHLY"
	CycleSemiannual BillingCycle = "SEMIANNUAL"
	CycleAnnual     BillingCycle = "ANNUAL"
	CyclePerInvoice BillingCycle = "PER_INVOICE"
)

// PeriodLength returns the calendar length of one billing period.
// PER_INVOICE has no recurring period and returns zeroes.
func (c BillingCycle) PeriodLength() (years int, months int) {
	switch c {
	case CycleMonthly:
		return 0, 1
	case CycleSemiannual:
		return 0, 6
	case CycleAnnual:
		return 1, 0
	default:
		return 0, 0
	}
}

// Subscription is the single billing row of a user. Cancellation is a status
// flip, never a deletion, so the row survives the whole account lifetime.
type Subscription struct {
	ID                     string             `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID                 string             `json:"userId" gorm:"type:uuid;not null;uniqueIndex"`
	PlanID                 string             `json:"planId" gorm:"type:uuid"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:varchar(20);default:'PENDING'"`
	Provider               string             `json:"provider" gorm:"type:varchar(20)"`
	ProviderSubscriptionId string             `json:"providerSubscriptionId" gorm:"index"`
	ProviderPlanId         string             `json:"providerPlanId"`
	ProviderCardId         string             `json:"providerCardId"`
	BillingCycle           BillingCycle       `json:"billingCycle" gorm:"type:varchar(20);default:'MONTHLY'"`
	CurrentPeriodStart     time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd"`
	NextBillingAt          *time.Time         `json:"nextBillingAt"`
	CanceledAt             *time.Time         `json:"canceledAt"`
	TrialEndsAt            *time.Time         `json:"trialEndsAt"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}
