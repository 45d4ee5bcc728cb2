package genie

// Transaction states delivered by the gateway, both on API responses and on
// webhook callbacks.
const (
	StateInitiated       = "INITIATED"
	StateQRCodeGenerated = "QR_CODE_GENERATED"
	StateConfirmed       = "CONFIRMED"
	StateVoided          = "VOIDED"
	StateCancelled       = "CANCELLED"
	StateFailed          = "FAILED"
)

// Webhook event types.
const (
	EventTransactionStateChanged = "TRANSACTION_STATE_CHANGED"
	EventCardTokenized           = "CARD_TOKENIZED"
)

// Webhook signature headers.
const (
	HeaderSignatureNonce     = "X-Signature-Nonce"
	HeaderSignatureTimestamp = "X-Signature-Timestamp"
	HeaderSignature          = "X-Signature"
)

// Customer is a gateway-side customer record.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Product is one line item attached to a gateway transaction.
type Product struct {
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Qty       int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// Transaction is the gateway's view of a charge attempt.
type Transaction struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CustomerID  string `json:"customerId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// StoredToken is a reusable card reference held by the gateway. ExpiryYear is
// the raw two-digit value as delivered; callers widen it before persisting.
type StoredToken struct {
	Token       string `json:"token"`
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
}

// WebhookEvent is the JSON body of a gateway callback.
type WebhookEvent struct {
	EventType     string `json:"eventType"`
	TransactionID string `json:"transactionId"`
	State         string `json:"state"`
	CustomerID    string `json:"customerId,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Provider      string `json:"provider,omitempty"`
	LocalID       string `json:"localId,omitempty"`
}

// CreateCustomerInput identifies the shopper to the gateway.
type CreateCustomerInput struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CreateTransactionInput opens a hosted-payment transaction scoped to the
// given products.
type CreateTransactionInput struct {
	CustomerID string    `json:"customerId,omitempty"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Products   []Product `json:"products"`
	LocalID    string    `json:"localId,omitempty"`
}

// ChargeStoredTokenInput charges a previously tokenized card without shopper
// interaction.
type ChargeStoredTokenInput struct {
	CustomerID    string `json:"customerId"`
	Token         string `json:"token"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}
