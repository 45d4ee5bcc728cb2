package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/enums"
)

// GatewayTransactionRef maps a gateway transaction id back to the checkout
// context that initiated it. Written when the transaction is created so the
// webhook handler can recover (user, session, order, purpose) without
// string-parsing a composite local id.
type GatewayTransactionRef struct {
	GenieTransactionID string                   `gorm:"column:genie_transaction_id;primaryKey"`
	UserID             uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	SessionID          *uuid.UUID               `gorm:"column:session_id;type:uuid"`
	OrderID            *uuid.UUID               `gorm:"column:order_id;type:uuid"`
	Purpose            enums.TransactionPurpose `gorm:"column:purpose;not null"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
}
