package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ProbeFunc checks backend reachability. A nil error means online.
type ProbeFunc func(ctx context.Context) error

// Monitor tracks online/offline transitions for the terminal. It replaces
// browser-style navigator.onLine with an active reachability probe against
// the backend health endpoint.
//
// Subscribers fire only on actual transitions; repeated identical probe
// results are deduplicated. Offline() is a synchronous snapshot and is the
// value every buffering decision must read at the moment of the request.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu      sync.Mutex
	offline bool
	subs    map[int]func(offline bool)
	nextID  int
}

// NewMonitor constructs a Monitor. The terminal starts optimistically online;
// the first probe corrects that within one interval.
func NewMonitor(probe ProbeFunc, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]func(bool)),
	}
}

// Offline returns the last-known connectivity state.
func (m *Monitor) Offline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline
}

// OnChange registers a callback fired on every transition. The returned
// function unsubscribes; it is safe to call from within the callback itself.
func (m *Monitor) OnChange(fn func(offline bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// SetOffline applies a connectivity state directly. Used by tests and by the
// maintenance endpoint; the probe loop calls it too.
func (m *Monitor) SetOffline(offline bool) {
	m.mu.Lock()
	if m.offline == offline {
		m.mu.Unlock()
		return
	}
	m.offline = offline
	// Copy before iterating so a callback unsubscribing itself (or anyone
	// else) during notification cannot corrupt the map.
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	log.Info().Bool("offline", offline).Msg("Connectivity state changed")
	for _, fn := range subs {
		m.notify(fn, offline)
	}
}

// notify isolates a panicking subscriber so the rest still fire.
func (m *Monitor) notify(fn func(bool), offline bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Connectivity subscriber panicked")
		}
	}()
	fn(offline)
}

// Start runs the periodic reachability probe until context is canceled.
func (m *Monitor) Start(ctx context.Context) {
	log.Info().Dur("interval", m.interval).Msg("Starting connectivity monitor")

	m.runProbe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runProbe(ctx)
		case <-ctx.Done():
			log.Info().Msg("Connectivity monitor stopped")
			return
		}
	}
}

func (m *Monitor) runProbe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.probe(probeCtx)
	m.SetOffline(err != nil)
}
