package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

// Order is created synchronously for full_upfront carts, or asynchronously
// from a webhook-confirmed consultation payment for consultation_first carts.
// Orders are never hard-deleted; cancellation is a status change.
type Order struct {
	ID                    uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	SessionID             *uuid.UUID               `gorm:"column:session_id;type:uuid;index"`
	Status                enums.OrderStatus        `gorm:"column:status;not null;default:'pending'"`
	PaymentFlowType       enums.PaymentFlowType    `gorm:"column:payment_flow_type;not null"`
	ConsultationStatus    enums.ConsultationStatus `gorm:"column:consultation_status;not null;default:'not_required'"`
	PaymentStatus         enums.PaymentStatus      `gorm:"column:payment_status;not null;default:'pending'"`
	ConsultationPaymentID *string                  `gorm:"column:consultation_payment_id;index"`
	ProductPaymentID      *string                  `gorm:"column:product_payment_id;index"`
	TotalCents            int                      `gorm:"column:total_cents;not null"`
	ConsultationFeeCents  int                      `gorm:"column:consultation_fee_cents;not null;default:0"`
	DeliveryAddress       *types.Address           `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	PaymentMetadata       *types.JSONMap           `gorm:"column:payment_metadata;type:jsonb;serializer:json"`
	PhysicianNotes        *string                  `gorm:"column:physician_notes"`
	Items                 []OrderItem              `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Phases                []OrderPaymentPhase      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
