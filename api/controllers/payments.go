package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/api/middleware"
	"github.com/veloramed/telehealth-backend/api/responses"
	checkoutsvc "github.com/veloramed/telehealth-backend/internal/checkout"
	"github.com/veloramed/telehealth-backend/internal/paymentmethods"
	paymentssvc "github.com/veloramed/telehealth-backend/internal/payments"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
)

// ProcessPayment starts payment for the session behind the token. The caller
// must be signed in and own the session; full_upfront carts produce an order
// immediately, consultation_first carts come back with a gateway redirect.
func ProcessPayment(sessions checkoutsvc.Service, payments paymentssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessions == nil || payments == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		token, err := sessionTokenParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := sessions.GetSession(r.Context(), token, &caller)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := payments.ProcessPayment(r.Context(), paymentssvc.ProcessPaymentInput{
			Session:  session,
			CallerID: caller,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
	}
}

// ListPaymentMethods returns the caller's stored card tokens, newest first.
func ListPaymentMethods(methods paymentmethods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if methods == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stored, err := methods.ListForUser(r.Context(), caller)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]paymentMethodResponse, 0, len(stored))
		for _, method := range stored {
			out = append(out, newPaymentMethodResponse(method))
		}
		responses.WriteSuccess(w, out)
	}
}

type paymentMethodResponse struct {
	ID          uuid.UUID `json:"id"`
	Brand       string    `json:"brand,omitempty"`
	Last4       string    `json:"last4,omitempty"`
	ExpiryMonth int       `json:"expiry_month"`
	ExpiryYear  int       `json:"expiry_year"`
	CreatedAt   time.Time `json:"created_at"`
}

func newPaymentMethodResponse(method models.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:          method.ID,
		Brand:       method.Brand,
		Last4:       method.Last4,
		ExpiryMonth: method.ExpiryMonth,
		ExpiryYear:  method.ExpiryYear,
		CreatedAt:   method.CreatedAt,
	}
}

// requireCaller resolves the authenticated user or fails with unauthorized.
func requireCaller(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "malformed user id")
	}
	return id, nil
}
