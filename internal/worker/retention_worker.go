package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tillpoint/possync/internal/repository"
)

// TerminalSweeper removes terminal operations older than a cutoff. The sweep
// goes through the payment manager rather than straight at the store so the
// manager's cache is pruned together with the rows.
type TerminalSweeper interface {
	RemoveTerminalBefore(cutoff time.Time) (int64, error)
}

// RetentionWorker periodically removes terminal operations older than the
// retention window. Pending operations are never swept regardless of age.
type RetentionWorker struct {
	sweeper  TerminalSweeper
	repo     *repository.OutboxRepository
	interval time.Duration
	maxAge   time.Duration
}

// NewRetentionWorker constructs a RetentionWorker.
func NewRetentionWorker(sweeper TerminalSweeper, repo *repository.OutboxRepository, interval, maxAge time.Duration) *RetentionWorker {
	return &RetentionWorker{
		sweeper:  sweeper,
		repo:     repo,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Start begins the periodic sweep until context is canceled.
func (w *RetentionWorker) Start(ctx context.Context) {
	log.Info().
		Dur("interval", w.interval).
		Dur("max_age", w.maxAge).
		Msg("Starting retention worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run()
		case <-ctx.Done():
			log.Info().Msg("Retention worker stopped")
			return
		}
	}
}

func (w *RetentionWorker) run() {
	cutoff := time.Now().UTC().Add(-w.maxAge)
	n, err := w.sweeper.RemoveTerminalBefore(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Retention sweep failed")
		return
	}
	if n == 0 {
		return
	}

	counts, err := w.repo.CountPaymentsByStatus()
	if err != nil {
		log.Error().Err(err).Msg("Failed to count retained payments")
	}
	log.Info().
		Int64("swept", n).
		Interface("retained", counts).
		Msg("Retention sweep completed")
}
