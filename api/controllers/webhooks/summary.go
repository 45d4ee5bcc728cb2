package webhooks

import (
	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/db/models"
)

// orderSummary is the compact order view returned to webhook callers.
type orderSummary struct {
	OrderID            uuid.UUID `json:"order_id"`
	Status             string    `json:"status"`
	ConsultationStatus string    `json:"consultation_status"`
	PaymentStatus      string    `json:"payment_status"`
	TotalCents         int       `json:"total_cents"`
}

func newOrderSummary(order *models.Order) orderSummary {
	if order == nil {
		return orderSummary{}
	}
	return orderSummary{
		OrderID:            order.ID,
		Status:             string(order.Status),
		ConsultationStatus: string(order.ConsultationStatus),
		PaymentStatus:      string(order.PaymentStatus),
		TotalCents:         order.TotalCents,
	}
}
