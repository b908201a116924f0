package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu         sync.Mutex
	triggers   int
	reconciles int
}

func (p *fakeProcessor) TriggerProcessing(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.triggers++
}

func (p *fakeProcessor) Reconcile(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciles++
}

func (p *fakeProcessor) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triggers, p.reconciles
}

type fakeConnSource struct {
	mu      sync.Mutex
	offline bool
	subs    []func(bool)
}

func (c *fakeConnSource) Offline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

func (c *fakeConnSource) OnChange(fn func(offline bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
	return func() {}
}

func (c *fakeConnSource) set(offline bool) {
	c.mu.Lock()
	c.offline = offline
	subs := make([]func(bool), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(offline)
	}
}

func TestOnlineTransitionTriggersReconcileThenDrain(t *testing.T) {
	proc := &fakeProcessor{}
	conn := &fakeConnSource{offline: true}
	w := NewSyncWorker(proc, conn, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the worker a moment to subscribe before flipping state.
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.subs) == 1
	}, time.Second, time.Millisecond)

	conn.set(false)

	require.Eventually(t, func() bool {
		triggers, reconciles := proc.counts()
		return triggers == 1 && reconciles == 1
	}, time.Second, time.Millisecond)
}

func TestOfflineTransitionDoesNotTrigger(t *testing.T) {
	proc := &fakeProcessor{}
	conn := &fakeConnSource{}
	w := NewSyncWorker(proc, conn, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.subs) == 1
	}, time.Second, time.Millisecond)

	conn.set(true)

	time.Sleep(50 * time.Millisecond)
	triggers, reconciles := proc.counts()
	require.Zero(t, triggers)
	require.Zero(t, reconciles)
}

func TestTickerSkipsWhileOffline(t *testing.T) {
	proc := &fakeProcessor{}
	conn := &fakeConnSource{offline: true}
	w := NewSyncWorker(proc, conn, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	triggers, _ := proc.counts()
	require.Zero(t, triggers, "no drains should happen while offline")

	// Flip state without notifying so only the ticker path can fire.
	conn.mu.Lock()
	conn.offline = false
	conn.mu.Unlock()

	require.Eventually(t, func() bool {
		triggers, _ := proc.counts()
		return triggers >= 1
	}, time.Second, time.Millisecond)
}
