package types

// CartItem is a snapshot of one product line inside a checkout session.
// Prices are integer cents; the server recomputes totals from these values
// and never trusts client-supplied aggregates.
type CartItem struct {
	ProductID            string `json:"product_id"`
	Name                 string `json:"name"`
	Qty                  int    `json:"quantity"`
	UnitPriceCents       int    `json:"unit_price_cents"`
	RequiresConsultation bool   `json:"requires_consultation"`
	ConsultationFeeCents int    `json:"consultation_fee_cents,omitempty"`
	HealthVertical       string `json:"health_vertical,omitempty"`
}

// LineTotalCents returns unit price times quantity for the item.
func (c CartItem) LineTotalCents() int {
	return c.UnitPriceCents * c.Qty
}
