package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is one purchased product line. For consultation_first orders the
// physician may replace the line set with approved products and quantities.
type OrderItem struct {
	ID                   uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID            string    `gorm:"column:product_id;not null"`
	Name                 string    `gorm:"column:name;not null"`
	Qty                  int       `gorm:"column:qty;not null"`
	UnitPriceCents       int       `gorm:"column:unit_price_cents;not null"`
	TotalCents           int       `gorm:"column:total_cents;not null"`
	RequiresConsultation bool      `gorm:"column:requires_consultation;not null;default:false"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
}
