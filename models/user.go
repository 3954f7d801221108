package models

import (
	"database/sql"
	"time"
)

type Role string

const (
	AdminRole Role = "ADMIN"
	UserRole  Role = "USER"
)

type User struct {
	ID                string       `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Email             string       `json:"email" gorm:"uniqueIndex" binding:"required,email"`
	Password          string       `json:"password" binding:"required,min=6"`
	Name              string       `json:"name"`
	Role              Role         `json:"role" gorm:"type:varchar(10);default:'USER'"`
	TaxDocument       string       `json:"taxDocument"`
	StripeCustomerId  string       `json:"stripeCustomerId"`
	PagarmeCustomerId string       `json:"pagarmeCustomerId"`
	HasUsedTrial      bool         `json:"hasUsedTrial"`
	Enable            bool         `json:"enable" gorm:"default:true"`
	EmailVerifiedAt   sql.NullTime `json:"emailVerifiedAt"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// ProviderCustomerId returns the stored customer reference for a provider.
func (u *User) ProviderCustomerId(provider string) string {
	switch provider {
	case "stripe":
		return u.StripeCustomerId
	case "pagarme":
		return u.PagarmeCustomerId
	}
	return ""
}
