package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitionsAreDeduplicated(t *testing.T) {
	m := NewMonitor(nil, time.Second)

	var mu sync.Mutex
	var events []bool
	m.OnChange(func(offline bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, offline)
	})

	m.SetOffline(true)
	m.SetOffline(true) // repeated identical signal
	m.SetOffline(false)
	m.SetOffline(false)
	m.SetOffline(true)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false, true}, events)
}

func TestOfflineSnapshot(t *testing.T) {
	m := NewMonitor(nil, time.Second)
	require.False(t, m.Offline(), "starts optimistically online")
	m.SetOffline(true)
	require.True(t, m.Offline())
}

func TestUnsubscribeDuringNotification(t *testing.T) {
	m := NewMonitor(nil, time.Second)

	var unsub func()
	fired := 0
	unsub = m.OnChange(func(bool) {
		fired++
		unsub() // self-unsubscribe mid-notification
	})

	require.NotPanics(t, func() {
		m.SetOffline(true)
		m.SetOffline(false)
	})
	require.Equal(t, 1, fired)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	m := NewMonitor(nil, time.Second)

	m.OnChange(func(bool) { panic("boom") })
	fired := false
	m.OnChange(func(bool) { fired = true })

	require.NotPanics(t, func() { m.SetOffline(true) })
	require.True(t, fired)
}

func TestProbeDrivesState(t *testing.T) {
	healthy := true
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return errors.New("unhealthy")
		}
		return nil
	}

	m := NewMonitor(probe, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	require.Eventually(t, func() bool { return !m.Offline() }, time.Second, 5*time.Millisecond)

	mu.Lock()
	healthy = false
	mu.Unlock()
	require.Eventually(t, func() bool { return m.Offline() }, time.Second, 5*time.Millisecond)

	mu.Lock()
	healthy = true
	mu.Unlock()
	require.Eventually(t, func() bool { return !m.Offline() }, time.Second, 5*time.Millisecond)
}
