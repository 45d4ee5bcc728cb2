package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

// CheckoutSession is a time-boxed, token-addressed record tracking one
// checkout attempt through the ordered steps. The Version column backs
// conditional updates so concurrent step transitions cannot double-apply.
type CheckoutSession struct {
	ID                      uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionToken            string              `gorm:"column:session_token;uniqueIndex;not null"`
	UserID                  *uuid.UUID          `gorm:"column:user_id;type:uuid"`
	Status                  enums.SessionStatus `gorm:"column:status;not null;default:'active'"`
	CurrentStep             enums.CheckoutStep  `gorm:"column:current_step;not null;default:'information'"`
	CartItems               []types.CartItem    `gorm:"column:cart_items;type:jsonb;serializer:json;not null"`
	CartTotalCents          int                 `gorm:"column:cart_total_cents;not null"`
	CustomerInfo            *types.JSONMap      `gorm:"column:customer_info;type:jsonb;serializer:json"`
	ShippingAddress         *types.Address      `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress          *types.Address      `gorm:"column:billing_address;type:jsonb;serializer:json"`
	SelectedPaymentMethodID *string             `gorm:"column:selected_payment_method_id"`
	PaymentIntentID         *string             `gorm:"column:payment_intent_id"`
	Version                 int                 `gorm:"column:version;not null;default:0"`
	ExpiresAt               time.Time           `gorm:"column:expires_at;not null"`
	CompletedAt             *time.Time          `gorm:"column:completed_at"`
	CreatedAt               time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
