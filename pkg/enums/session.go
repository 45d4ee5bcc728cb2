package enums

import "fmt"

// SessionStatus is the lifecycle state of a checkout session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusCancelled SessionStatus = "cancelled"
)

var validSessionStatuses = []SessionStatus{
	SessionStatusActive,
	SessionStatusCompleted,
	SessionStatusExpired,
	SessionStatusCancelled,
}

// IsValid reports whether the value matches the canonical session_status set.
func (s SessionStatus) IsValid() bool {
	for _, candidate := range validSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session can no longer be mutated.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired || s == SessionStatusCancelled
}

// CheckoutStep is one of the ordered steps a session moves through.
type CheckoutStep string

const (
	StepInformation CheckoutStep = "information"
	StepPayment     CheckoutStep = "payment"
	StepProcessing  CheckoutStep = "processing"
	StepComplete    CheckoutStep = "complete"
)

// orderedSteps fixes the canonical progression; index comparisons rely on it.
var orderedSteps = []CheckoutStep{
	StepInformation,
	StepPayment,
	StepProcessing,
	StepComplete,
}

// Steps returns the canonical ordered step list.
func Steps() []CheckoutStep {
	steps := make([]CheckoutStep, len(orderedSteps))
	copy(steps, orderedSteps)
	return steps
}

// IsValid reports whether the value is a canonical step name.
func (s CheckoutStep) IsValid() bool {
	return s.Index() >= 0
}

// Index returns the step's position in the canonical order, or -1.
func (s CheckoutStep) Index() int {
	for i, candidate := range orderedSteps {
		if candidate == s {
			return i
		}
	}
	return -1
}

// ParseCheckoutStep converts raw input into a CheckoutStep.
func ParseCheckoutStep(value string) (CheckoutStep, error) {
	step := CheckoutStep(value)
	if !step.IsValid() {
		return "", fmt.Errorf("invalid checkout step %q", value)
	}
	return step, nil
}

// SessionEventType labels checkout session audit events.
type SessionEventType string

const (
	SessionEventCreated    SessionEventType = "session_created"
	SessionEventPageView   SessionEventType = "page_view"
	SessionEventProgressed SessionEventType = "step_progressed"
	SessionEventCompleted  SessionEventType = "session_completed"
	SessionEventCancelled  SessionEventType = "session_cancelled"
	SessionEventExpired    SessionEventType = "session_expired"
	SessionEventExtended   SessionEventType = "session_extended"
)
