package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/realtime/backoff"
	"github.com/mcdev12/festtrivia/go/internal/realtime/connstate"
	"github.com/mcdev12/festtrivia/go/internal/realtime/notify"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ErrSuperseded is returned by Recover when the network went offline while it ran.
var ErrSuperseded = errors.New("monitor: recovery superseded by offline event")

type Config struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	NotifyCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProbeInterval:  30 * time.Second,
		ProbeTimeout:   5 * time.Second,
		NotifyCooldown: 30 * time.Second,
	}
}

type Options struct {
	Prober    Prober
	Tracker   *connstate.Tracker
	Scheduler *backoff.Scheduler
	Notifier  notify.Notifier
	Clock     clockwork.Clock
	Logger    zerolog.Logger

	// ActiveGame reports whether a non-terminal game is bound.
	ActiveGame func() bool
	// Reconnect re-establishes subscriptions and refetches state for the active game.
	Reconnect func(ctx context.Context) error
}

// Monitor tracks network reachability and drives recovery of the active game.
type Monitor struct {
	cfg  Config
	opts Options

	mu           sync.Mutex
	epoch        uint64
	recovering   bool
	lastLost     time.Time
	lastRestored time.Time
}

func New(cfg Config, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoOpNotifier{}
	}
	if opts.ActiveGame == nil {
		opts.ActiveGame = func() bool { return false }
	}
	if opts.Reconnect == nil {
		opts.Reconnect = func(context.Context) error { return nil }
	}
	return &Monitor{cfg: cfg, opts: opts}
}

// Status returns the current network status.
func (m *Monitor) Status() connstate.NetworkStatus {
	return m.opts.Tracker.NetworkStatus()
}

// HandleOffline switches to offline immediately. A recovery already in flight is
// invalidated and will not overwrite the status.
func (m *Monitor) HandleOffline(ctx context.Context) {
	m.mu.Lock()
	m.epoch++
	prev := m.opts.Tracker.NetworkStatus()
	m.opts.Tracker.SetNetworkStatus(connstate.StatusOffline)
	m.mu.Unlock()

	m.opts.Logger.Warn().Str("previous", string(prev)).Msg("network offline")
	if prev != connstate.StatusOffline {
		m.notifyLost(ctx)
	}
}

// HandleOnline reacts to the network coming back. It is a no-op while already online
// with connected feeds.
func (m *Monitor) HandleOnline(ctx context.Context) error {
	if m.healthy() {
		m.opts.Logger.Debug().Msg("network online event while healthy, ignoring")
		return nil
	}
	m.opts.Logger.Info().Msg("network online event")
	return m.Recover(ctx)
}

// Tick probes when the network is not online or the feeds are not connected.
func (m *Monitor) Tick(ctx context.Context) error {
	if m.healthy() {
		return nil
	}
	return m.Recover(ctx)
}

func (m *Monitor) healthy() bool {
	return m.Status() == connstate.StatusOnline && m.opts.Tracker.IsConnected()
}

// Run ticks every probe interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.opts.Clock.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.opts.Logger.Info().Dur("interval", m.cfg.ProbeInterval).Msg("connection monitor started")

	for {
		select {
		case <-ctx.Done():
			m.opts.Logger.Info().Msg("connection monitor shutting down")
			return nil
		case <-ticker.Chan():
			if err := m.Tick(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
				m.opts.Logger.Debug().Err(err).Msg("periodic probe failed")
			}
		}
	}
}

// Recover probes the backend and, with an active game, runs the reconnect callback.
// Concurrent calls collapse into the one already running.
func (m *Monitor) Recover(ctx context.Context) error {
	m.mu.Lock()
	if m.recovering {
		m.mu.Unlock()
		return nil
	}
	m.recovering = true
	epoch := m.epoch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.opts.Prober.Probe(probeCtx)
	cancel()
	if err != nil {
		m.opts.Logger.Warn().Err(err).Msg("backend unreachable")
		if m.setStatus(epoch, connstate.StatusOffline) {
			m.notifyLost(ctx)
		}
		return err
	}

	if !m.opts.ActiveGame() {
		if m.setStatus(epoch, connstate.StatusOnline) {
			m.notifyRestored(ctx)
		}
		m.opts.Scheduler.Reset()
		return nil
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.opts.Tracker.SetNetworkStatus(connstate.StatusReconnecting)
	m.mu.Unlock()

	m.opts.Logger.Info().Msg("reconnecting to active game")

	if err := m.opts.Reconnect(ctx); err != nil {
		m.opts.Logger.Error().Err(err).Msg("reconnection failed")
		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			return ErrSuperseded
		}
		m.opts.Tracker.SetNetworkStatus(connstate.StatusOffline)
		m.mu.Unlock()

		delay := m.opts.Scheduler.Schedule(func() {
			m.Recover(context.Background())
		})
		m.opts.Logger.Info().Dur("retry_in", delay).Msg("scheduled reconnection retry")
		return err
	}

	if !m.setStatus(epoch, connstate.StatusOnline) {
		return ErrSuperseded
	}
	m.notifyRestored(ctx)
	return nil
}

// WatchNATS turns disconnect and reconnect callbacks of nc into network events.
func (m *Monitor) WatchNATS(nc *nats.Conn) {
	nc.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		m.opts.Logger.Warn().Err(err).Msg("NATS disconnected")
		m.HandleOffline(context.Background())
	})
	nc.SetReconnectHandler(func(c *nats.Conn) {
		m.opts.Logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		go m.HandleOnline(context.Background())
	})
}

// setStatus applies status unless the epoch moved on. It reports whether the status
// changed.
func (m *Monitor) setStatus(epoch uint64, status connstate.NetworkStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false
	}
	prev := m.opts.Tracker.NetworkStatus()
	m.opts.Tracker.SetNetworkStatus(status)
	return prev != status
}

func (m *Monitor) notifyLost(ctx context.Context) {
	if !m.cooledDown(&m.lastLost) {
		return
	}
	m.opts.Notifier.Notify(ctx, notify.ConnectionLost)
}

func (m *Monitor) notifyRestored(ctx context.Context) {
	if !m.cooledDown(&m.lastRestored) {
		return
	}
	m.opts.Notifier.Notify(ctx, notify.ConnectionRestored)
}

func (m *Monitor) cooledDown(last *time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.opts.Clock.Now()
	if !last.IsZero() && now.Sub(*last) < m.cfg.NotifyCooldown {
		return false
	}
	*last = now
	return true
}
