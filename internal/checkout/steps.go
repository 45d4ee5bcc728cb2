package checkout

import (
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
)

// Redirect targets handed back to the storefront when a step request is
// refused.
const (
	RedirectCart     = "cart"
	RedirectCheckout = "checkout"
)

// Guard refusal reasons. These are surfaced verbatim to the client so the UI
// can explain why it bounced.
const (
	ReasonInvalidToken     = "invalid session token"
	ReasonSessionNotFound  = "session not found"
	ReasonSessionExpired   = "session expired"
	ReasonSessionInactive  = "session no longer active"
	ReasonUnknownStep      = "unknown checkout step"
	ReasonStepNotReached   = "step not yet reachable"
	ReasonSessionCompleted = "session already completed"
	ReasonAuthFastForward  = "information step skipped for signed-in user"
)

// StepDecision is the outcome of evaluating a step request against the
// session's state. When Allowed is false the client is told where to go
// instead: RedirectTarget is "cart" (restart) or "checkout" (stay in flow,
// at RedirectStep).
type StepDecision struct {
	Allowed        bool
	RedirectTarget string
	RedirectStep   enums.CheckoutStep
	Reason         string
	Session        *models.CheckoutSession
}

func allowStep(session *models.CheckoutSession) StepDecision {
	return StepDecision{Allowed: true, Session: session}
}

func redirectToCart(reason string) StepDecision {
	return StepDecision{
		RedirectTarget: RedirectCart,
		Reason:         reason,
	}
}

func redirectToStep(session *models.CheckoutSession, step enums.CheckoutStep, reason string) StepDecision {
	return StepDecision{
		RedirectTarget: RedirectCheckout,
		RedirectStep:   step,
		Reason:         reason,
		Session:        session,
	}
}

// evaluateStepOrder applies the pure ordering rules: canonical step names,
// completed-session pinning, the authenticated fast-forward past
// information, and the forward-skip guard. Expiry and status checks happen
// before this is called.
func evaluateStepOrder(session *models.CheckoutSession, requested enums.CheckoutStep) StepDecision {
	if !requested.IsValid() {
		return redirectToStep(session, session.CurrentStep, ReasonUnknownStep)
	}

	if session.Status == enums.SessionStatusCompleted {
		if requested == enums.StepComplete {
			return allowStep(session)
		}
		return redirectToStep(session, enums.StepComplete, ReasonSessionCompleted)
	}

	if session.UserID != nil && requested == enums.StepInformation {
		return redirectToStep(session, enums.StepPayment, ReasonAuthFastForward)
	}

	if requested.Index() > session.CurrentStep.Index()+1 {
		furthest := enums.Steps()[session.CurrentStep.Index()+1]
		return redirectToStep(session, furthest, ReasonStepNotReached)
	}

	return allowStep(session)
}
