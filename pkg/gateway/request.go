package gateway

import "encoding/json"

// PaymentRequest captures a buffered payment against the backend.
// IdempotencyKey is carried in both the body and the Idempotency-Key header;
// the backend deduplicates on it, which is what makes replaying the same
// capture after a transient failure safe.
type PaymentRequest struct {
	OrderID               string `json:"order_id"`
	PaymentMethod         string `json:"payment_method"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	IdempotencyKey        string `json:"idempotency_key"`
	StripePaymentIntentID string `json:"stripe_payment_intent_id,omitempty"`
}

// IntentRequest creates a remote payment intent for an online card capture.
type IntentRequest struct {
	OrderID     string       `json:"order_id"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	CardDetails *CardDetails `json:"card_details,omitempty"`
}

// CardDetails is display-only card information forwarded to the backend.
type CardDetails struct {
	Last4  string `json:"last4"`
	Brand  string `json:"brand"`
	Expiry string `json:"expiry"`
}

// OrderRequest replays a buffered order document.
type OrderRequest struct {
	OrderID        string          `json:"order_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Order          json.RawMessage `json:"order"`
}
