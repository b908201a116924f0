package gateway

// PaymentResponse is returned by POST /payments and GET /payments/lookup.
type PaymentResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status,omitempty"`
}

// IntentResponse is returned by POST /payment-intents.
type IntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
}

// OrderResponse is returned by POST /orders.
type OrderResponse struct {
	OrderID string `json:"order_id"`
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Detail string `json:"detail"`
}
