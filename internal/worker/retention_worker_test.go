package worker

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tillpoint/possync/internal/repository"
	"github.com/tillpoint/possync/internal/store"
)

type fakeSweeper struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int64
	err     error
}

func (s *fakeSweeper) RemoveTerminalBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.n, s.err
}

func newRetentionRepo(t *testing.T) *repository.OutboxRepository {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "possync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewOutboxRepository(db)
}

func TestRetentionSweepUsesRetentionWindow(t *testing.T) {
	sweeper := &fakeSweeper{n: 3}
	w := NewRetentionWorker(sweeper, newRetentionRepo(t), time.Hour, 24*time.Hour)

	before := time.Now().UTC().Add(-24 * time.Hour)
	w.run()
	after := time.Now().UTC().Add(-24 * time.Hour)

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	require.Len(t, sweeper.cutoffs, 1)
	cutoff := sweeper.cutoffs[0]
	require.False(t, cutoff.Before(before))
	require.False(t, cutoff.After(after))
}

func TestRetentionSweepSurvivesSweeperError(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("store locked")}
	w := NewRetentionWorker(sweeper, newRetentionRepo(t), time.Hour, 24*time.Hour)

	require.NotPanics(t, w.run)
	require.NotPanics(t, w.run)

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	require.Len(t, sweeper.cutoffs, 2, "a failed sweep must not stop later runs")
}
