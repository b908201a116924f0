package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type OperationType string
type OperationStatus string

const (
	OpCreatePayment OperationType = "CREATE_PAYMENT"
	OpCreateOrder   OperationType = "CREATE_ORDER"
)

const (
	OpStatusPending   OperationStatus = "PENDING"
	OpStatusSynced    OperationStatus = "SYNCED"
	OpStatusFailed    OperationStatus = "FAILED"
	OpStatusCancelled OperationStatus = "CANCELLED"
)

// SyncOperation is a unit of deferred work in the outbox. The payload column
// carries the type-specific body (a BufferedPaymentIntent for CREATE_PAYMENT,
// the raw order document for CREATE_ORDER); payment_id, order_id and
// payment_status are promoted out of the payload so the store can be queried
// without unmarshalling every row.
//
// There is no persisted in-flight status: an attempt interrupted by a crash
// leaves the row PENDING and is simply re-attempted with the same idempotency
// key on the next run.
type SyncOperation struct {
	Seq            int64           `db:"seq" json:"-"`
	ID             string          `db:"id" json:"id"`
	Type           OperationType   `db:"type" json:"type"`
	Status         OperationStatus `db:"status" json:"status"`
	RetryCount     int             `db:"retry_count" json:"retryCount"`
	NextAttemptAt  *time.Time      `db:"next_attempt_at" json:"nextAttemptAt,omitempty"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotencyKey"`
	OrderID        string          `db:"order_id" json:"orderId"`
	PaymentID      *string         `db:"payment_id" json:"paymentId,omitempty"`
	PaymentStatus  *PaymentStatus  `db:"payment_status" json:"paymentStatus,omitempty"`
	Payload        types.JSONText  `db:"payload" json:"payload"`
	FailureReason  *string         `db:"failure_reason" json:"failureReason,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"-"`
}

// Terminal reports whether the operation can never be attempted again.
func (op *SyncOperation) Terminal() bool {
	switch op.Status {
	case OpStatusSynced, OpStatusFailed, OpStatusCancelled:
		return true
	}
	return false
}
