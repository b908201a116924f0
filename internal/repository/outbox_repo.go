package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tillpoint/possync/internal/models"
)

// OutboxRepository provides access to the sync_operations table. The payment
// manager is the sole writer of payment rows; the repository itself enforces
// nothing beyond atomic row updates.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Add durably appends a new operation. The row is committed before Add
// returns; a crash immediately after still finds it on the next start.
func (r *OutboxRepository) Add(op *models.SyncOperation) error {
	const q = `
        INSERT INTO sync_operations (
            id, type, status, retry_count, next_attempt_at, idempotency_key,
            order_id, payment_id, payment_status, payload, failure_reason,
            created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12
        )`
	stmt, err := r.db.Preparex(q)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.Exec(
		op.ID,
		op.Type,
		op.Status,
		op.RetryCount,
		op.NextAttemptAt,
		op.IdempotencyKey,
		op.OrderID,
		op.PaymentID,
		op.PaymentStatus,
		string(op.Payload),
		op.FailureReason,
		op.CreatedAt,
	)
	return err
}

// Update rewrites the mutable fields of an operation in a single statement.
func (r *OutboxRepository) Update(op *models.SyncOperation) error {
	const q = `
        UPDATE sync_operations SET
            status = $2,
            retry_count = $3,
            next_attempt_at = $4,
            payment_status = $5,
            payload = $6,
            failure_reason = $7,
            updated_at = $8
        WHERE id = $1`
	stmt, err := r.db.Preparex(q)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.Exec(
		op.ID,
		op.Status,
		op.RetryCount,
		op.NextAttemptAt,
		op.PaymentStatus,
		string(op.Payload),
		op.FailureReason,
		time.Now().UTC(),
	)
	return err
}

// GetByID returns a single operation, or nil when it does not exist.
func (r *OutboxRepository) GetByID(id string) (*models.SyncOperation, error) {
	const q = `SELECT * FROM sync_operations WHERE id = $1`
	var op models.SyncOperation
	if err := r.db.Get(&op, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

// GetByPaymentID returns the operation carrying the given buffered payment.
func (r *OutboxRepository) GetByPaymentID(paymentID string) (*models.SyncOperation, error) {
	const q = `SELECT * FROM sync_operations WHERE payment_id = $1`
	var op models.SyncOperation
	if err := r.db.Get(&op, q, paymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

// GetPending returns all non-terminal operations in creation (FIFO) order.
func (r *OutboxRepository) GetPending() ([]models.SyncOperation, error) {
	const q = `
        SELECT * FROM sync_operations
        WHERE status = 'PENDING'
        ORDER BY seq ASC`
	var ops []models.SyncOperation
	if err := r.db.Select(&ops, q); err != nil {
		return nil, err
	}
	return ops, nil
}

// GetDuePending returns pending operations whose backoff has expired,
// in creation (FIFO) order. Items still inside their backoff window are
// skipped so one stuck operation does not starve the rest of the queue.
func (r *OutboxRepository) GetDuePending(now time.Time) ([]models.SyncOperation, error) {
	const q = `
        SELECT * FROM sync_operations
        WHERE status = 'PENDING'
          AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
        ORDER BY seq ASC`
	var ops []models.SyncOperation
	if err := r.db.Select(&ops, q, now.UTC()); err != nil {
		return nil, err
	}
	return ops, nil
}

// ListAll returns every retained operation in creation order. Used to
// hydrate the manager's cache at startup.
func (r *OutboxRepository) ListAll() ([]models.SyncOperation, error) {
	const q = `SELECT * FROM sync_operations ORDER BY seq ASC`
	var ops []models.SyncOperation
	if err := r.db.Select(&ops, q); err != nil {
		return nil, err
	}
	return ops, nil
}

// ListPayments returns all payment-typed operations in creation order.
func (r *OutboxRepository) ListPayments() ([]models.SyncOperation, error) {
	const q = `
        SELECT * FROM sync_operations
        WHERE type = 'CREATE_PAYMENT'
        ORDER BY seq ASC`
	var ops []models.SyncOperation
	if err := r.db.Select(&ops, q); err != nil {
		return nil, err
	}
	return ops, nil
}

// CountPaymentsByStatus aggregates buffered payments by payment status.
func (r *OutboxRepository) CountPaymentsByStatus() (map[models.PaymentStatus]int, error) {
	const q = `
        SELECT payment_status, COUNT(*) AS n
        FROM sync_operations
        WHERE type = 'CREATE_PAYMENT' AND payment_status IS NOT NULL
        GROUP BY payment_status`
	rows, err := r.db.Queryx(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.PaymentStatus]int)
	for rows.Next() {
		var status models.PaymentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteTerminalBefore removes terminal operations created before the cutoff.
// PENDING rows are never deleted regardless of age.
func (r *OutboxRepository) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	const q = `
        DELETE FROM sync_operations
        WHERE status IN ('SYNCED', 'FAILED', 'CANCELLED')
          AND created_at < $1`
	res, err := r.db.Exec(q, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
