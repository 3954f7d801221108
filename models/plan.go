package models

import (
	"time"
)

// Plan is a sellable subscription tier. AmountCents is the price in integer
// minor units (centavos); amounts never leave the gateway boundary as floats.
// AutoRebill is false for the legacy provider, whose orders are one-shot and
// must be re-charged by the recurring-billing scheduler.
type Plan struct {
	ID             string       `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Code           string       `json:"code" gorm:"uniqueIndex"`
	Name           string       `json:"name"`
	AmountCents    int64        `json:"amountCents"`
	Currency       string       `json:"currency" gorm:"type:varchar(3);default:'BRL'"`
	BillingCycle   BillingCycle `json:"billingCycle" gorm:"type:varchar(20)"`
	StripePriceId  string       `json:"stripePriceId"`
	PagarmePlanId  string       `json:"pagarmePlanId"`
	AutoRebill     bool         `json:"autoRebill"`
	TrialDays      int          `json:"trialDays"`
	Active         bool         `json:"active" gorm:"default:true"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}
