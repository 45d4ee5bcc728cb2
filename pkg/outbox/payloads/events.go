package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/enums"
)

// SessionCompletedEvent marks a checkout session that reached the complete step.
type SessionCompletedEvent struct {
	SessionID    uuid.UUID  `json:"session_id"`
	SessionToken string     `json:"session_token"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	CompletedAt  time.Time  `json:"completed_at"`
}

// SessionCancelledEvent is emitted when a shopper abandons a session explicitly.
type SessionCancelledEvent struct {
	SessionID    uuid.UUID  `json:"session_id"`
	SessionToken string     `json:"session_token"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	CancelledAt  time.Time  `json:"cancelled_at"`
}

// OrderCreatedEvent signals that a new order exists, whichever payment flow
// produced it.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID             `json:"order_id"`
	UserID         uuid.UUID             `json:"user_id"`
	SessionID      *uuid.UUID            `json:"session_id,omitempty"`
	FlowType       enums.PaymentFlowType `json:"flow_type"`
	Status         enums.OrderStatus     `json:"status"`
	TotalCents     int                   `json:"total_cents"`
	RequiresReview bool                  `json:"requires_review"`
}

// ConsultationPaidEvent reports a confirmed consultation-fee charge.
type ConsultationPaidEvent struct {
	OrderID              uuid.UUID `json:"order_id"`
	UserID               uuid.UUID `json:"user_id"`
	GenieTransactionID   string    `json:"genie_transaction_id"`
	ConsultationFeeCents int       `json:"consultation_fee_cents"`
	PaidAt               time.Time `json:"paid_at"`
}

// OrderDecisionEvent is emitted when a physician approves or rejects an order.
type OrderDecisionEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	UserID     uuid.UUID         `json:"user_id"`
	Status     enums.OrderStatus `json:"status"`
	Approved   bool              `json:"approved"`
	ReviewerID string            `json:"reviewer_id,omitempty"`
	DecidedAt  time.Time         `json:"decided_at"`
}

// OrderCancelledEvent is emitted whenever a buyer cancels a pending order.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	UserID      uuid.UUID `json:"user_id"`
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason,omitempty"`
}

// PaymentConfirmedEvent reports a settled gateway transaction tied to a phase.
type PaymentConfirmedEvent struct {
	OrderID            uuid.UUID           `json:"order_id"`
	GenieTransactionID string              `json:"genie_transaction_id"`
	Phase              enums.PhaseType     `json:"phase"`
	AmountCents        int                 `json:"amount_cents"`
	PaymentStatus      enums.PaymentStatus `json:"payment_status"`
	ConfirmedAt        time.Time           `json:"confirmed_at"`
}

// PaymentFailedEvent reports a transaction that ended voided, cancelled or failed.
type PaymentFailedEvent struct {
	OrderID            uuid.UUID       `json:"order_id"`
	GenieTransactionID string          `json:"genie_transaction_id"`
	Phase              enums.PhaseType `json:"phase"`
	FailureReason      string          `json:"failure_reason"`
	FailedAt           time.Time       `json:"failed_at"`
}

// PaymentMethodStoredEvent reports a newly synced stored card.
type PaymentMethodStoredEvent struct {
	UserID          uuid.UUID `json:"user_id"`
	PaymentMethodID uuid.UUID `json:"payment_method_id"`
	Brand           string    `json:"brand"`
	Last4           string    `json:"last4"`
	StoredAt        time.Time `json:"stored_at"`
}
