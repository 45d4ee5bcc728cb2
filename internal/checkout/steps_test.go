package checkout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
)

func sessionAt(step enums.CheckoutStep) *models.CheckoutSession {
	return &models.CheckoutSession{
		ID:          uuid.New(),
		Status:      enums.SessionStatusActive,
		CurrentStep: step,
	}
}

func TestEvaluateStepOrderUnknownStep(t *testing.T) {
	session := sessionAt(enums.StepPayment)
	decision := evaluateStepOrder(session, enums.CheckoutStep("warehouse"))

	assert.False(t, decision.Allowed)
	assert.Equal(t, RedirectCheckout, decision.RedirectTarget)
	assert.Equal(t, enums.StepPayment, decision.RedirectStep)
	assert.Equal(t, ReasonUnknownStep, decision.Reason)
}

func TestEvaluateStepOrderForwardSkip(t *testing.T) {
	session := sessionAt(enums.StepInformation)

	// One step ahead is reachable.
	decision := evaluateStepOrder(session, enums.StepPayment)
	assert.True(t, decision.Allowed)

	// Two steps ahead is not; redirect lands on the furthest allowed step.
	decision = evaluateStepOrder(session, enums.StepProcessing)
	assert.False(t, decision.Allowed)
	assert.Equal(t, enums.StepPayment, decision.RedirectStep)
	assert.Equal(t, ReasonStepNotReached, decision.Reason)

	// Stepping backward is always allowed.
	session = sessionAt(enums.StepProcessing)
	decision = evaluateStepOrder(session, enums.StepInformation)
	assert.True(t, decision.Allowed)
}

func TestEvaluateStepOrderAuthFastForward(t *testing.T) {
	userID := uuid.New()
	session := sessionAt(enums.StepInformation)
	session.UserID = &userID

	decision := evaluateStepOrder(session, enums.StepInformation)
	assert.False(t, decision.Allowed)
	assert.Equal(t, enums.StepPayment, decision.RedirectStep)
	assert.Equal(t, ReasonAuthFastForward, decision.Reason)

	// The shortcut only applies to the information step.
	decision = evaluateStepOrder(session, enums.StepPayment)
	assert.True(t, decision.Allowed)
}

func TestEvaluateStepOrderCompletedSession(t *testing.T) {
	session := sessionAt(enums.StepComplete)
	session.Status = enums.SessionStatusCompleted

	decision := evaluateStepOrder(session, enums.StepPayment)
	assert.False(t, decision.Allowed)
	assert.Equal(t, enums.StepComplete, decision.RedirectStep)
	assert.Equal(t, ReasonSessionCompleted, decision.Reason)

	decision = evaluateStepOrder(session, enums.StepComplete)
	assert.True(t, decision.Allowed)
}
