package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is a gateway-issued stored card token. Rows are deduplicated
// by (user_id, gateway_token); the expiry year is always stored four-digit.
type PaymentMethod struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_payment_methods_user_token"`
	GatewayCustomerID string    `gorm:"column:gateway_customer_id;not null"`
	GatewayToken      string    `gorm:"column:gateway_token;not null;uniqueIndex:ux_payment_methods_user_token"`
	Brand             string    `gorm:"column:brand"`
	Last4             string    `gorm:"column:last4"`
	ExpiryMonth       int       `gorm:"column:expiry_month;not null"`
	ExpiryYear        int       `gorm:"column:expiry_year;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
