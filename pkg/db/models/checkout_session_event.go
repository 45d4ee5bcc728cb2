package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

// CheckoutSessionEvent is an append-only audit row. Writes are best-effort
// and never block the request that produced them.
type CheckoutSessionEvent struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID uuid.UUID              `gorm:"column:session_id;type:uuid;not null;index"`
	EventType enums.SessionEventType `gorm:"column:event_type;not null"`
	Step      *string                `gorm:"column:step"`
	Referrer  *string                `gorm:"column:referrer"`
	IPAddress *string                `gorm:"column:ip_address"`
	UserAgent *string                `gorm:"column:user_agent"`
	Metadata  *types.JSONMap         `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
