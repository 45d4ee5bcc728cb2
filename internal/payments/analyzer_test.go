package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

func TestDetermineFlowType(t *testing.T) {
	otc := []types.CartItem{
		{ProductID: "p1", Qty: 2, UnitPriceCents: 1000},
		{ProductID: "p2", Qty: 1, UnitPriceCents: 500},
	}
	assert.Equal(t, enums.FlowFullUpfront, DetermineFlowType(otc))

	// One prescription line flips the whole cart.
	mixed := append(otc, types.CartItem{ProductID: "rx1", Qty: 1, UnitPriceCents: 3000, RequiresConsultation: true})
	assert.Equal(t, enums.FlowConsultationFirst, DetermineFlowType(mixed))

	assert.Equal(t, enums.FlowFullUpfront, DetermineFlowType(nil))
}

func TestConsultationFeeCents(t *testing.T) {
	items := []types.CartItem{
		{ProductID: "rx1", RequiresConsultation: true, ConsultationFeeCents: 1500},
		{ProductID: "rx2", RequiresConsultation: true, ConsultationFeeCents: 3000},
		{ProductID: "p1", ConsultationFeeCents: 9900}, // not a consultation item, ignored
	}
	assert.Equal(t, 3000, ConsultationFeeCents(items, 2500))

	// No catalog fee falls back to the configured default.
	bare := []types.CartItem{{ProductID: "rx1", RequiresConsultation: true}}
	assert.Equal(t, 2500, ConsultationFeeCents(bare, 2500))
}
