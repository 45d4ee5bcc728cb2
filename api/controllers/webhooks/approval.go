package webhooks

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/api/responses"
	"github.com/veloramed/telehealth-backend/api/validators"
	"github.com/veloramed/telehealth-backend/internal/approvals"
	"github.com/veloramed/telehealth-backend/internal/payments"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
)

// PhysicianDecision receives the review platform's verdict callback. The
// decision is final once recorded: a failed product charge is reported in the
// response body rather than failing the delivery, so the review platform
// never retries an already-decided order.
func PhysicianDecision(svc approvals.Service, webhookSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "approval service unavailable"))
			return
		}

		if !authorizedReviewCaller(r, webhookSecret) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid review credentials"))
			return
		}

		var payload physicianDecisionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.HandleDecision(ctx, payload.OrderID, approvals.Decision{
			Approved:       payload.Approved,
			ReviewerID:     payload.ReviewerID,
			PhysicianNotes: payload.PhysicianNotes,
			ApprovedItems:  payload.ApprovedItems,
		})
		if err != nil {
			// The decision applied but the follow-up charge did not. Report
			// the failure without asking the review platform to redeliver.
			if order != nil {
				resp := physicianDecisionResponse{Order: newOrderSummary(order)}
				if typed := pkgerrors.As(err); typed != nil {
					resp.ChargeError = typed.Error()
				} else {
					resp.ChargeError = err.Error()
				}
				responses.WriteSuccess(w, resp)
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, physicianDecisionResponse{Order: newOrderSummary(order)})
	}
}

type physicianDecisionRequest struct {
	OrderID        uuid.UUID               `json:"order_id" validate:"required"`
	Approved       bool                    `json:"approved"`
	ReviewerID     string                  `json:"reviewer_id" validate:"required"`
	PhysicianNotes *string                 `json:"physician_notes,omitempty"`
	ApprovedItems  []payments.ApprovedItem `json:"approved_items,omitempty" validate:"omitempty,dive"`
}

type physicianDecisionResponse struct {
	Order       orderSummary `json:"order"`
	ChargeError string       `json:"charge_error,omitempty"`
}

func authorizedReviewCaller(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	return hmac.Equal([]byte(raw), []byte(secret))
}
