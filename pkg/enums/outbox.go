package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column on outbox events.
type OutboxAggregateType string

const (
	AggregateCheckoutSession OutboxAggregateType = "checkout_session"
	AggregateOrder           OutboxAggregateType = "order"
	AggregatePaymentPhase    OutboxAggregateType = "payment_phase"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCheckoutSession,
	AggregateOrder,
	AggregatePaymentPhase,
}

// IsValid reports whether the value matches the canonical aggregate set.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to the event_type column on outbox events.
type OutboxEventType string

const (
	EventSessionCompleted    OutboxEventType = "session_completed"
	EventSessionCancelled    OutboxEventType = "session_cancelled"
	EventOrderCreated        OutboxEventType = "order_created"
	EventConsultationPaid    OutboxEventType = "consultation_paid"
	EventOrderApproved       OutboxEventType = "order_approved"
	EventOrderRejected       OutboxEventType = "order_rejected"
	EventOrderCancelled      OutboxEventType = "order_cancelled"
	EventPaymentConfirmed    OutboxEventType = "payment_confirmed"
	EventPaymentFailed       OutboxEventType = "payment_failed"
	EventPaymentVoided       OutboxEventType = "payment_voided"
	EventPaymentMethodStored OutboxEventType = "payment_method_stored"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSessionCompleted,
	EventSessionCancelled,
	EventOrderCreated,
	EventConsultationPaid,
	EventOrderApproved,
	EventOrderRejected,
	EventOrderCancelled,
	EventPaymentConfirmed,
	EventPaymentFailed,
	EventPaymentVoided,
	EventPaymentMethodStored,
}

// IsValid reports whether the value matches the canonical event set.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
