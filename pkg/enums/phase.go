package enums

import "fmt"

// PhaseType identifies one discrete charge inside an order's payment lifecycle.
type PhaseType string

const (
	PhaseConsultation PhaseType = "consultation"
	PhaseProducts     PhaseType = "products"
)

// PhaseStatus is the state of a single payment phase. Terminal states are
// driven exclusively by gateway webhook events and are never re-opened.
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusProcessing PhaseStatus = "processing"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusCancelled  PhaseStatus = "cancelled"
	PhaseStatusFailed     PhaseStatus = "failed"
)

// IsActive reports whether the phase still awaits a gateway outcome.
func (s PhaseStatus) IsActive() bool {
	return s == PhaseStatusPending || s == PhaseStatusProcessing
}

// TransactionPurpose classifies a gateway transaction reference row.
type TransactionPurpose string

const (
	PurposeConsultation TransactionPurpose = "consultation"
	PurposeProducts     TransactionPurpose = "products"
	PurposeTokenization TransactionPurpose = "tokenization"
)

// ParseTransactionPurpose converts raw input into a TransactionPurpose.
func ParseTransactionPurpose(value string) (TransactionPurpose, error) {
	switch TransactionPurpose(value) {
	case PurposeConsultation, PurposeProducts, PurposeTokenization:
		return TransactionPurpose(value), nil
	}
	return "", fmt.Errorf("invalid transaction purpose %q", value)
}
