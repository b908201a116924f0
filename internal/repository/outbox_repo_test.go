package repository

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/require"

	"github.com/tillpoint/possync/internal/models"
	"github.com/tillpoint/possync/internal/store"
)

func openTestDB(t *testing.T) (*sqlx.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "possync.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func newOp(orderID string, createdAt time.Time) *models.SyncOperation {
	pid := uuid.New().String()
	ps := models.PaymentPending
	return &models.SyncOperation{
		ID:             uuid.New().String(),
		Type:           models.OpCreatePayment,
		Status:         models.OpStatusPending,
		IdempotencyKey: "cash_payment_" + orderID + "_1",
		OrderID:        orderID,
		PaymentID:      &pid,
		PaymentStatus:  &ps,
		Payload:        types.JSONText(`{}`),
		CreatedAt:      createdAt,
	}
}

func TestAddAndGetPendingFIFO(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewOutboxRepository(db)

	now := time.Now().UTC()
	a := newOp("ORD-A", now)
	b := newOp("ORD-B", now.Add(time.Millisecond))
	c := newOp("ORD-C", now.Add(2*time.Millisecond))
	for _, op := range []*models.SyncOperation{a, b, c} {
		require.NoError(t, repo.Add(op))
	}

	pending, err := repo.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, "ORD-A", pending[0].OrderID)
	require.Equal(t, "ORD-B", pending[1].OrderID)
	require.Equal(t, "ORD-C", pending[2].OrderID)
}

func TestPayloadScansBackIntact(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewOutboxRepository(db)

	op := newOp("ORD-PAY", time.Now().UTC())
	op.Payload = types.JSONText(`{"orderId":"ORD-PAY","amount":2100,"paymentMethod":"CASH"}`)
	require.NoError(t, repo.Add(op))

	// Every row-reading path must be able to scan the payload column.
	got, err := repo.GetByID(op.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.JSONEq(t, string(op.Payload), string(got.Payload))

	due, err := repo.GetDuePending(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.JSONEq(t, string(op.Payload), string(due[0].Payload))

	all, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.JSONEq(t, string(op.Payload), string(all[0].Payload))
}

func TestGetDuePendingSkipsBackoffWindow(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewOutboxRepository(db)

	now := time.Now().UTC()
	due := newOp("ORD-DUE", now)
	later := newOp("ORD-LATER", now)
	future := now.Add(time.Hour)
	later.NextAttemptAt = &future
	require.NoError(t, repo.Add(due))
	require.NoError(t, repo.Add(later))

	got, err := repo.GetDuePending(now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ORD-DUE", got[0].OrderID)
}

func TestUpdateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "possync.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	repo := NewOutboxRepository(db)

	op := newOp("ORD-DUR", time.Now().UTC())
	require.NoError(t, repo.Add(op))

	op.Status = models.OpStatusSynced
	ps := models.PaymentCaptured
	op.PaymentStatus = &ps
	op.RetryCount = 2
	require.NoError(t, repo.Update(op))
	require.NoError(t, db.Close())

	// A committed write must be visible after the next open.
	db2, err := store.Open(path)
	require.NoError(t, err)
	defer db2.Close()
	repo2 := NewOutboxRepository(db2)

	got, err := repo2.GetByID(op.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, models.OpStatusSynced, got.Status)
	require.Equal(t, models.PaymentCaptured, *got.PaymentStatus)
	require.Equal(t, 2, got.RetryCount)
}

func TestGetByPaymentID(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewOutboxRepository(db)

	op := newOp("ORD-X", time.Now().UTC())
	require.NoError(t, repo.Add(op))

	got, err := repo.GetByPaymentID(*op.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, op.ID, got.ID)

	missing, err := repo.GetByPaymentID("nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCountPaymentsByStatus(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewOutboxRepository(db)

	now := time.Now().UTC()
	statuses := []models.PaymentStatus{
		models.PaymentPending,
		models.PaymentPending,
		models.PaymentFailed,
		models.PaymentCaptured,
	}
	for i, ps := range statuses {
		op := newOp("ORD-"+string(rune('A'+i)), now)
		s := ps
		op.PaymentStatus = &s
		require.NoError(t, repo.Add(op))
	}

	counts, err := repo.CountPaymentsByStatus()
	require.NoError(t, err)
	require.Equal(t, 2, counts[models.PaymentPending])
	require.Equal(t, 1, counts[models.PaymentFailed])
	require.Equal(t, 1, counts[models.PaymentCaptured])
}

func TestDeleteTerminalBeforeKeepsPending(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewOutboxRepository(db)

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	recent := time.Now().UTC()

	oldSynced := newOp("ORD-OLD-SYNCED", old)
	oldSynced.Status = models.OpStatusSynced
	oldPending := newOp("ORD-OLD-PENDING", old)
	recentSynced := newOp("ORD-NEW-SYNCED", recent)
	recentSynced.Status = models.OpStatusSynced
	for _, op := range []*models.SyncOperation{oldSynced, oldPending, recentSynced} {
		require.NoError(t, repo.Add(op))
	}

	n, err := repo.DeleteTerminalBefore(time.Now().UTC().Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	all, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, op := range all {
		require.NotEqual(t, "ORD-OLD-SYNCED", op.OrderID)
	}
}

func TestCacheRepoRoundTrip(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewCacheRepository(db)

	_, err := repo.Get("menu")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, repo.Put("menu", json.RawMessage(`{"categories":["pizza"]}`)))
	got, err := repo.Get("menu")
	require.NoError(t, err)
	require.JSONEq(t, `{"categories":["pizza"]}`, string(got))

	// Overwrite.
	require.NoError(t, repo.Put("menu", json.RawMessage(`{"categories":["pasta"]}`)))
	got, err = repo.Get("menu")
	require.NoError(t, err)
	require.JSONEq(t, `{"categories":["pasta"]}`, string(got))
}
