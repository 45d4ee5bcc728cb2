package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/api/responses"
	orderssvc "github.com/veloramed/telehealth-backend/internal/orders"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

// GetOrder returns one of the caller's orders with its lines and payment
// phases.
func GetOrder(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetForUser(r.Context(), caller, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// CancelOrder backs the caller out of an order that has not settled.
func CancelOrder(svc orderssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), caller, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type orderResponse struct {
	ID                   uuid.UUID            `json:"id"`
	Status               string               `json:"status"`
	PaymentFlowType      string               `json:"payment_flow_type"`
	ConsultationStatus   string               `json:"consultation_status"`
	PaymentStatus        string               `json:"payment_status"`
	TotalCents           int                  `json:"total_cents"`
	ConsultationFeeCents int                  `json:"consultation_fee_cents"`
	DeliveryAddress      *types.Address       `json:"delivery_address,omitempty"`
	PhysicianNotes       *string              `json:"physician_notes,omitempty"`
	Items                []orderItemResponse  `json:"items"`
	Phases               []orderPhaseResponse `json:"payment_phases"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

type orderItemResponse struct {
	ProductID            string `json:"product_id"`
	Name                 string `json:"name"`
	Qty                  int    `json:"quantity"`
	UnitPriceCents       int    `json:"unit_price_cents"`
	TotalCents           int    `json:"total_cents"`
	RequiresConsultation bool   `json:"requires_consultation"`
}

type orderPhaseResponse struct {
	PhaseType     string     `json:"phase_type"`
	PhaseStatus   string     `json:"phase_status"`
	AmountCents   int        `json:"amount_cents"`
	Currency      string     `json:"currency"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	InitiatedAt   time.Time  `json:"initiated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:            item.ProductID,
			Name:                 item.Name,
			Qty:                  item.Qty,
			UnitPriceCents:       item.UnitPriceCents,
			TotalCents:           item.TotalCents,
			RequiresConsultation: item.RequiresConsultation,
		})
	}
	phases := make([]orderPhaseResponse, 0, len(order.Phases))
	for _, phase := range order.Phases {
		phases = append(phases, orderPhaseResponse{
			PhaseType:     string(phase.PhaseType),
			PhaseStatus:   string(phase.PhaseStatus),
			AmountCents:   phase.AmountCents,
			Currency:      phase.Currency,
			FailureReason: phase.FailureReason,
			InitiatedAt:   phase.InitiatedAt,
			CompletedAt:   phase.CompletedAt,
			FailedAt:      phase.FailedAt,
		})
	}
	return orderResponse{
		ID:                   order.ID,
		Status:               string(order.Status),
		PaymentFlowType:      string(order.PaymentFlowType),
		ConsultationStatus:   string(order.ConsultationStatus),
		PaymentStatus:        string(order.PaymentStatus),
		TotalCents:           order.TotalCents,
		ConsultationFeeCents: order.ConsultationFeeCents,
		DeliveryAddress:      order.DeliveryAddress,
		PhysicianNotes:       order.PhysicianNotes,
		Items:                items,
		Phases:               phases,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "orderID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed order id")
	}
	return id, nil
}
