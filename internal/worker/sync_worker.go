package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor is the slice of the payment manager the sync worker drives.
type Processor interface {
	TriggerProcessing(ctx context.Context)
	Reconcile(ctx context.Context)
}

// ConnectivitySource exposes the connectivity monitor to the worker.
type ConnectivitySource interface {
	Offline() bool
	OnChange(fn func(offline bool)) func()
}

// SyncWorker drains the outbox on a fixed interval while the terminal is
// online, and immediately on every offline-to-online transition. Ticks while
// offline are skipped so no network calls are wasted.
type SyncWorker struct {
	processor Processor
	conn      ConnectivitySource
	interval  time.Duration
}

// NewSyncWorker constructs a SyncWorker.
func NewSyncWorker(processor Processor, conn ConnectivitySource, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		processor: processor,
		conn:      conn,
		interval:  interval,
	}
}

// Start begins the periodic sync loop until context is canceled.
func (w *SyncWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting sync worker")

	unsub := w.conn.OnChange(func(offline bool) {
		if offline {
			return
		}
		// Back online: reconcile against the backend first, then drain.
		go func() {
			w.processor.Reconcile(ctx)
			w.processor.TriggerProcessing(ctx)
		}()
	})
	defer unsub()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.conn.Offline() {
				continue
			}
			w.processor.TriggerProcessing(ctx)
		case <-ctx.Done():
			log.Info().Msg("Sync worker stopped")
			return
		}
	}
}
