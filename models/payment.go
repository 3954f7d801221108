package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "PAID"
	PaymentFailed PaymentStatus = "FAILED"
)

// Payment is one payment attempt reported by a gateway. The provider
// transaction/invoice ids carry unique indexes: they are the idempotency keys
// that absorb webhook redeliveries. Rows are never deleted, failed attempts
// included.
type Payment struct {
	ID                    string        `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	SubscriptionID        string        `json:"subscriptionId" gorm:"type:uuid;not null;index"`
	ProviderTransactionId string        `json:"providerTransactionId" gorm:"uniqueIndex:idx_payments_provider_txn,where:provider_transaction_id <> ''"`
	ProviderInvoiceId     string        `json:"providerInvoiceId" gorm:"uniqueIndex:idx_payments_provider_invoice,where:provider_invoice_id <> ''"`
	Amount                float64       `json:"amount" gorm:"type:numeric(12,2)"`
	AmountCents           int64         `json:"amountCents"`
	Status                PaymentStatus `json:"status" gorm:"type:varchar(10)"`
	Method                string        `json:"method"`
	FailureReason         string        `json:"failureReason"`
	PaidAt                *time.Time    `json:"paidAt"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}
