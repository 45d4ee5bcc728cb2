package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/enums"
)

// OrderPaymentPhase is one discrete charge attempt within an order's payment
// lifecycle. At most one active (pending/processing) phase may exist per
// (order_id, phase_type); terminal transitions come only from webhooks.
type OrderPaymentPhase struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index:idx_phase_order_type"`
	PhaseType            enums.PhaseType   `gorm:"column:phase_type;not null;index:idx_phase_order_type"`
	PhaseStatus          enums.PhaseStatus `gorm:"column:phase_status;not null;default:'pending'"`
	GenieTransactionID   string            `gorm:"column:genie_transaction_id;not null;index"`
	AmountCents          int               `gorm:"column:amount_cents;not null"`
	Currency             string            `gorm:"column:currency;not null"`
	FailureReason        *string           `gorm:"column:failure_reason"`
	InitiatedAt          time.Time         `gorm:"column:initiated_at;not null"`
	CompletedAt          *time.Time        `gorm:"column:completed_at"`
	FailedAt             *time.Time        `gorm:"column:failed_at"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
