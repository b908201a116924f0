package payment

import "time"

// Status is the aggregate read model published to the UI (footer indicator,
// badges). It is recomputed from the cache on every mutation and never
// persisted.
type Status struct {
	Online          bool       `json:"online"`
	PendingPayments int        `json:"pendingPayments"`
	FailedPayments  int        `json:"failedPayments"`
	IsProcessing    bool       `json:"isProcessing"`
	LastAttemptAt   *time.Time `json:"lastAttemptAt,omitempty"`
	Errors          []string   `json:"errors,omitempty"`
}

// CardBufferResult is returned by BufferCardPayment. RequiresOnlineProcessing
// tells the caller to show a "will process when back online" affordance.
type CardBufferResult struct {
	PaymentID                string `json:"paymentId"`
	RequiresOnlineProcessing bool   `json:"requiresOnlineProcessing"`
}
