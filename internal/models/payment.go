package models

import "time"

type PaymentMethod string
type PaymentStatus string

const (
	MethodCard        PaymentMethod = "CARD"
	MethodCash        PaymentMethod = "CASH"
	MethodContactless PaymentMethod = "CONTACTLESS"
)

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCaptured  PaymentStatus = "CAPTURED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// CardDetails holds display-only card information. Raw card data never
// reaches this process; it stays inside the payment terminal.
type CardDetails struct {
	Last4  string `json:"last4"`
	Brand  string `json:"brand"`
	Expiry string `json:"expiry"`
}

// BufferedPaymentIntent is a payment capture deferred because the terminal
// was offline or an online attempt failed. It is the payload of a
// CREATE_PAYMENT sync operation.
//
// IdempotencyKey is derived once when the payment is buffered and never
// regenerated, so every retry of the same logical payment reaches the
// backend with the same key.
type BufferedPaymentIntent struct {
	ID              string         `json:"id"`
	OrderID         string         `json:"orderId"`
	PaymentIntentID *string        `json:"paymentIntentId,omitempty"`
	Amount          int64          `json:"amount"` // minor units
	Currency        string         `json:"currency"`
	Method          PaymentMethod  `json:"paymentMethod"`
	CardDetails     *CardDetails   `json:"cardDetails,omitempty"`
	Status          PaymentStatus  `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
	CapturedAt      *time.Time     `json:"capturedAt,omitempty"`
	FailureReason   *string        `json:"failureReason,omitempty"`
	IdempotencyKey  string         `json:"idempotencyKey"`
	RetryCount      int            `json:"retryCount"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Terminal reports whether the payment reached a state no transition may leave.
func (p *BufferedPaymentIntent) Terminal() bool {
	switch p.Status {
	case PaymentCaptured, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}
