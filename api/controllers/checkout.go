package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/api/middleware"
	"github.com/veloramed/telehealth-backend/api/responses"
	"github.com/veloramed/telehealth-backend/api/validators"
	checkoutsvc "github.com/veloramed/telehealth-backend/internal/checkout"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

// CreateCheckoutSession opens a new session for the supplied cart. Anonymous
// shoppers are allowed; a signed-in caller is attached as the owner.
func CreateCheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload createSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CreateSession(r.Context(), checkoutsvc.CreateSessionInput{
			UserID:       callerID(r),
			CartItems:    payload.CartItems,
			CustomerInfo: payload.CustomerInfo,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newSessionResponse(session))
	}
}

// GetCheckoutSession returns the session behind the token, enforcing
// ownership for sessions bound to an account.
func GetCheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionTokenParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.GetSession(r.Context(), token, callerID(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}

// UpdateCheckoutSession patches the allow-listed session attributes.
func UpdateCheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionTokenParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.UpdateSession(r.Context(), token, callerID(r), checkoutsvc.UpdateSessionInput{
			CurrentStep:             payload.CurrentStep,
			CustomerInfo:            payload.CustomerInfo,
			ShippingAddress:         payload.ShippingAddress,
			BillingAddress:          payload.BillingAddress,
			SelectedPaymentMethodID: payload.SelectedPaymentMethodID,
			PaymentIntentID:         payload.PaymentIntentID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}

// ExtendCheckoutSession pushes the expiry forward within the hard cap.
func ExtendCheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionTokenParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.ExtendSession(r.Context(), token, callerID(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}

// CancelCheckoutSession abandons the session.
func CancelCheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionTokenParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CancelSession(r.Context(), token, callerID(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}

// CompleteCheckoutSession marks the session complete once payment has
// settled.
func CompleteCheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionTokenParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CompleteSession(r.Context(), token, callerID(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}

// EvaluateCheckoutStep asks the step guard whether the shopper may view the
// requested step. A malformed token is not an error; the shopper is sent back
// to the cart like any other dead session.
func EvaluateCheckoutStep(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step := chi.URLParam(r, "step")

		raw := chi.URLParam(r, "token")
		token, err := validators.ValidateSessionToken(raw)
		if err != nil {
			responses.WriteSuccess(w, stepDecisionResponse{
				Allowed:        false,
				RedirectTarget: checkoutsvc.RedirectCart,
				Reason:         checkoutsvc.ReasonInvalidToken,
			})
			return
		}

		var payload stepEvaluationRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		meta := checkoutsvc.PageViewMeta{
			Referrer:  payload.Referrer,
			IPAddress: clientIP(r),
			UserAgent: headerPtr(r, "User-Agent"),
		}

		decision, err := svc.EvaluateStepAccess(r.Context(), token, step, meta)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newStepDecisionResponse(decision))
	}
}

type createSessionRequest struct {
	CartItems    []types.CartItem `json:"cart_items" validate:"required,min=1"`
	CustomerInfo *types.JSONMap   `json:"customer_info,omitempty"`
}

type updateSessionRequest struct {
	CurrentStep             *string        `json:"current_step,omitempty"`
	CustomerInfo            *types.JSONMap `json:"customer_info,omitempty"`
	ShippingAddress         *types.Address `json:"shipping_address,omitempty"`
	BillingAddress          *types.Address `json:"billing_address,omitempty"`
	SelectedPaymentMethodID *string        `json:"selected_payment_method_id,omitempty"`
	PaymentIntentID         *string        `json:"payment_intent_id,omitempty"`
}

type stepEvaluationRequest struct {
	Referrer *string `json:"referrer,omitempty"`
}

type sessionResponse struct {
	SessionToken            string           `json:"session_token"`
	Status                  string           `json:"status"`
	CurrentStep             string           `json:"current_step"`
	CartItems               []types.CartItem `json:"cart_items"`
	CartTotalCents          int              `json:"cart_total_cents"`
	CustomerInfo            *types.JSONMap   `json:"customer_info,omitempty"`
	ShippingAddress         *types.Address   `json:"shipping_address,omitempty"`
	BillingAddress          *types.Address   `json:"billing_address,omitempty"`
	SelectedPaymentMethodID *string          `json:"selected_payment_method_id,omitempty"`
	ExpiresAt               time.Time        `json:"expires_at"`
	CompletedAt             *time.Time       `json:"completed_at,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
}

func newSessionResponse(session *models.CheckoutSession) sessionResponse {
	if session == nil {
		return sessionResponse{}
	}
	return sessionResponse{
		SessionToken:            session.SessionToken,
		Status:                  string(session.Status),
		CurrentStep:             string(session.CurrentStep),
		CartItems:               session.CartItems,
		CartTotalCents:          session.CartTotalCents,
		CustomerInfo:            session.CustomerInfo,
		ShippingAddress:         session.ShippingAddress,
		BillingAddress:          session.BillingAddress,
		SelectedPaymentMethodID: session.SelectedPaymentMethodID,
		ExpiresAt:               session.ExpiresAt,
		CompletedAt:             session.CompletedAt,
		CreatedAt:               session.CreatedAt,
	}
}

type stepDecisionResponse struct {
	Allowed        bool             `json:"allowed"`
	RedirectTarget string           `json:"redirect_target,omitempty"`
	RedirectStep   string           `json:"redirect_step,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Session        *sessionResponse `json:"session,omitempty"`
}

func newStepDecisionResponse(decision checkoutsvc.StepDecision) stepDecisionResponse {
	resp := stepDecisionResponse{
		Allowed:        decision.Allowed,
		RedirectTarget: decision.RedirectTarget,
		RedirectStep:   string(decision.RedirectStep),
		Reason:         decision.Reason,
	}
	if decision.Session != nil {
		session := newSessionResponse(decision.Session)
		resp.Session = &session
	}
	return resp
}

func sessionTokenParam(r *http.Request) (string, error) {
	return validators.ValidateSessionToken(chi.URLParam(r, "token"))
}

// callerID resolves the authenticated user, if any. Checkout endpoints accept
// anonymous traffic so a missing or malformed ID degrades to guest.
func callerID(r *http.Request) *uuid.UUID {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func clientIP(r *http.Request) *string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return &forwarded
	}
	if r.RemoteAddr != "" {
		addr := r.RemoteAddr
		return &addr
	}
	return nil
}

func headerPtr(r *http.Request, name string) *string {
	if value := r.Header.Get(name); value != "" {
		return &value
	}
	return nil
}
