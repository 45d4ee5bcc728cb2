package payments

import (
	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

// DetermineFlowType classifies a cart. A single item that needs a consultation
// switches the whole cart to consultation_first; one fee covers every
// prescription line in the order.
func DetermineFlowType(items []types.CartItem) enums.PaymentFlowType {
	for _, item := range items {
		if item.RequiresConsultation {
			return enums.FlowConsultationFirst
		}
	}
	return enums.FlowFullUpfront
}

// ConsultationFeeCents picks the fee to charge for a consultation_first cart.
// Items may carry their own fee from the catalog; the highest one wins so a
// multi-vertical cart is never undercharged. Falls back to the configured
// default when the catalog supplies none.
func ConsultationFeeCents(items []types.CartItem, defaultFeeCents int) int {
	fee := 0
	for _, item := range items {
		if !item.RequiresConsultation {
			continue
		}
		if item.ConsultationFeeCents > fee {
			fee = item.ConsultationFeeCents
		}
	}
	if fee == 0 {
		fee = defaultFeeCents
	}
	return fee
}
