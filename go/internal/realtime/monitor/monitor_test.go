package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/realtime/backoff"
	"github.com/mcdev12/festtrivia/go/internal/realtime/connstate"
	"github.com/mcdev12/festtrivia/go/internal/realtime/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	clock     *clockwork.FakeClock
	tracker   *connstate.Tracker
	scheduler *backoff.Scheduler
	notices   *notify.Recorder
	probes    atomic.Int32
	reconnect atomic.Int32
}

func newFixture() *fixture {
	clock := clockwork.NewFakeClock()
	scheduler := backoff.NewScheduler(backoff.DefaultPolicy(), clock, zerolog.Nop())
	return &fixture{
		clock:     clock,
		tracker:   connstate.New(clock, scheduler),
		scheduler: scheduler,
		notices:   &notify.Recorder{},
	}
}

func (f *fixture) monitor(probe ProberFunc, activeGame bool, reconnect func(context.Context) error) *Monitor {
	return New(DefaultConfig(), Options{
		Prober: ProberFunc(func(ctx context.Context) error {
			f.probes.Add(1)
			return probe(ctx)
		}),
		Tracker:    f.tracker,
		Scheduler:  f.scheduler,
		Notifier:   f.notices,
		Clock:      f.clock,
		Logger:     zerolog.Nop(),
		ActiveGame: func() bool { return activeGame },
		Reconnect: func(ctx context.Context) error {
			f.reconnect.Add(1)
			if reconnect == nil {
				return nil
			}
			return reconnect(ctx)
		},
	})
}

func healthy(context.Context) error { return nil }

func TestMonitor_OfflineIsImmediateAndNotifiesOnce(t *testing.T) {
	f := newFixture()
	m := f.monitor(healthy, false, nil)

	m.HandleOffline(context.Background())
	assert.Equal(t, connstate.StatusOffline, m.Status())

	m.HandleOffline(context.Background())
	assert.Equal(t, 1, f.notices.Count(notify.KindDestructive, notify.ConnectionLost.TitleKey))
}

func TestMonitor_OnlineWithoutGameGoesStraightOnline(t *testing.T) {
	f := newFixture()
	m := f.monitor(healthy, false, nil)

	f.scheduler.Schedule(func() {})
	m.HandleOffline(context.Background())

	require.NoError(t, m.HandleOnline(context.Background()))
	assert.Equal(t, connstate.StatusOnline, m.Status())
	assert.Equal(t, int32(0), f.reconnect.Load())
	assert.Equal(t, 0, f.scheduler.Attempts())
	assert.Equal(t, 1, f.notices.Count(notify.KindDefault, notify.ConnectionRestored.TitleKey))
}

func TestMonitor_OnlineWithGameReconnects(t *testing.T) {
	f := newFixture()
	var during connstate.NetworkStatus
	m := f.monitor(healthy, true, func(context.Context) error {
		during = f.tracker.NetworkStatus()
		return nil
	})

	m.HandleOffline(context.Background())
	require.NoError(t, m.HandleOnline(context.Background()))

	assert.Equal(t, connstate.StatusReconnecting, during)
	assert.Equal(t, connstate.StatusOnline, m.Status())
	assert.Equal(t, int32(1), f.reconnect.Load())
}

func TestMonitor_FailedReconnectGoesOfflineAndSchedulesRetry(t *testing.T) {
	f := newFixture()
	m := f.monitor(healthy, true, func(context.Context) error {
		return errors.New("subscribe failed")
	})

	m.HandleOffline(context.Background())
	require.Error(t, m.HandleOnline(context.Background()))

	assert.Equal(t, connstate.StatusOffline, m.Status())
	assert.True(t, f.scheduler.Pending())
	assert.Equal(t, 1, f.scheduler.Attempts())

	// the retry fires after the first backoff delay
	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return f.reconnect.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_OfflineDuringRecoveryWins(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	m := f.monitor(func(context.Context) error {
		close(started)
		<-release
		return nil
	}, true, nil)

	done := make(chan error, 1)
	go func() { done <- m.Recover(context.Background()) }()

	<-started
	m.HandleOffline(context.Background())
	close(release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, connstate.StatusOffline, m.Status())
	assert.Equal(t, int32(0), f.reconnect.Load())
}

func TestMonitor_RecoverIsSingleFlight(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	m := f.monitor(func(context.Context) error {
		close(started)
		<-release
		return nil
	}, false, nil)

	done := make(chan error, 1)
	go func() { done <- m.Recover(context.Background()) }()
	<-started

	require.NoError(t, m.Recover(context.Background()))
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.probes.Load())
}

func TestMonitor_TickOnlyProbesWhenUnhealthy(t *testing.T) {
	f := newFixture()
	m := f.monitor(healthy, false, nil)

	f.tracker.MarkHealthy(f.clock.Now())
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, int32(0), f.probes.Load())

	f.tracker.MarkDisconnected()
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, int32(1), f.probes.Load())
}

func TestMonitor_OnlineEventWhileHealthyIsIgnored(t *testing.T) {
	f := newFixture()
	m := f.monitor(healthy, true, nil)

	f.tracker.MarkHealthy(f.clock.Now())
	require.NoError(t, m.HandleOnline(context.Background()))
	assert.Equal(t, int32(0), f.probes.Load())
	assert.Equal(t, int32(0), f.reconnect.Load())
	assert.Equal(t, connstate.StatusOnline, m.Status())

	f.tracker.MarkDisconnected()
	require.NoError(t, m.HandleOnline(context.Background()))
	assert.Equal(t, int32(1), f.reconnect.Load())
}

func TestMonitor_ProbeFailureMarksOffline(t *testing.T) {
	f := newFixture()
	m := f.monitor(func(context.Context) error { return errors.New("timeout") }, true, nil)

	require.Error(t, m.Tick(context.Background()))
	assert.Equal(t, connstate.StatusOffline, m.Status())
	assert.Equal(t, int32(0), f.reconnect.Load())
	assert.Equal(t, 1, f.notices.Count(notify.KindDestructive, notify.ConnectionLost.TitleKey))
}

func TestMonitor_NotificationCooldownPerDirection(t *testing.T) {
	f := newFixture()
	m := f.monitor(healthy, false, nil)
	ctx := context.Background()

	m.HandleOffline(ctx)
	require.NoError(t, m.HandleOnline(ctx))
	m.HandleOffline(ctx)
	require.NoError(t, m.HandleOnline(ctx))

	assert.Equal(t, 1, f.notices.Count(notify.KindDestructive, notify.ConnectionLost.TitleKey))
	assert.Equal(t, 1, f.notices.Count(notify.KindDefault, notify.ConnectionRestored.TitleKey))

	f.clock.Advance(31 * time.Second)
	m.HandleOffline(ctx)
	require.NoError(t, m.HandleOnline(ctx))

	assert.Equal(t, 2, f.notices.Count(notify.KindDestructive, notify.ConnectionLost.TitleKey))
	assert.Equal(t, 2, f.notices.Count(notify.KindDefault, notify.ConnectionRestored.TitleKey))
}

func TestHTTPProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	prober := NewHTTPProber(srv.URL, "/health", time.Second)
	assert.NoError(t, prober.Probe(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, prober.Probe(context.Background()))
}
