package enums

// OrderStatus is the free-form order lifecycle string. Prescription orders
// pass through physician_review before the product charge is attempted.
type OrderStatus string

const (
	OrderStatusPending                OrderStatus = "pending"
	OrderStatusProcessing             OrderStatus = "processing"
	OrderStatusPhysicianReview        OrderStatus = "physician_review"
	OrderStatusApprovedPendingPayment OrderStatus = "approved_pending_payment"
	OrderStatusRejected               OrderStatus = "rejected"
	OrderStatusPaymentFailed          OrderStatus = "payment_failed"
	OrderStatusCancelled              OrderStatus = "cancelled"
	OrderStatusCompleted              OrderStatus = "completed"
	OrderStatusShipped                OrderStatus = "shipped"
)

// PaymentFlowType selects how a cart is charged.
type PaymentFlowType string

const (
	FlowFullUpfront       PaymentFlowType = "full_upfront"
	FlowConsultationFirst PaymentFlowType = "consultation_first"
)

// ConsultationStatus tracks the consultation charge and review outcome.
type ConsultationStatus string

const (
	ConsultationStatusNotRequired ConsultationStatus = "not_required"
	ConsultationStatusPending     ConsultationStatus = "pending"
	ConsultationStatusPaid        ConsultationStatus = "paid"
	ConsultationStatusRejected    ConsultationStatus = "rejected"
)

// PaymentStatus is the order-level payment summary.
type PaymentStatus string

const (
	PaymentStatusPending          PaymentStatus = "pending"
	PaymentStatusConfirmed        PaymentStatus = "confirmed"
	PaymentStatusConsultationPaid PaymentStatus = "consultation_paid"
	PaymentStatusFullyPaid        PaymentStatus = "fully_paid"
	PaymentStatusVoided           PaymentStatus = "voided"
	PaymentStatusCancelled        PaymentStatus = "cancelled"
	PaymentStatusFailed           PaymentStatus = "failed"
)
