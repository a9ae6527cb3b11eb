package connstate

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// NetworkStatus is the connection monitor's view of the network.
type NetworkStatus string

const (
	StatusOnline       NetworkStatus = "online"
	StatusOffline      NetworkStatus = "offline"
	StatusReconnecting NetworkStatus = "reconnecting"
)

// ConnectionState is a point-in-time copy of the tracked connection.
type ConnectionState struct {
	IsConnected       bool          `json:"isConnected"`
	NetworkStatus     NetworkStatus `json:"networkStatus"`
	ReconnectAttempts int           `json:"reconnectAttempts"`
	LastSyncTimestamp time.Time     `json:"lastSyncTimestamp"`
}

// AttemptCounter reports the reconnection attempts made since the last successful connect.
type AttemptCounter interface {
	Attempts() int
}

// Tracker holds the process-local connection state shared by the realtime components.
// The logical connection flag (change feeds healthy) and the network status are tracked
// separately: the network can be online while the feeds are still down.
type Tracker struct {
	clock    clockwork.Clock
	attempts AttemptCounter

	mu        sync.RWMutex
	connected bool
	status    NetworkStatus
	lastSync  time.Time
}

// New returns a tracker in its initial state: not connected, network online,
// last sync at construction time.
func New(clock clockwork.Clock, attempts AttemptCounter) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		clock:    clock,
		attempts: attempts,
		status:   StatusOnline,
		lastSync: clock.Now(),
	}
}

// MarkHealthy records a confirmed update at the given time. It reports whether this call
// moved the connection from disconnected to connected.
func (t *Tracker) MarkHealthy(at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if at.After(t.lastSync) {
		t.lastSync = at
	}
	if t.connected {
		return false
	}
	t.connected = true
	return true
}

// MarkDisconnected clears the connection flag. It reports whether the flag was set.
func (t *Tracker) MarkDisconnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.connected
	t.connected = false
	return was
}

// Touch moves the last sync timestamp forward without changing the connection flag.
func (t *Tracker) Touch(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.lastSync) {
		t.lastSync = at
	}
}

func (t *Tracker) SetNetworkStatus(status NetworkStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

func (t *Tracker) NetworkStatus() NetworkStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Tracker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *Tracker) LastSync() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSync
}

// SinceLastSync is how long ago the last confirmed update happened.
func (t *Tracker) SinceLastSync() time.Duration {
	return t.clock.Since(t.LastSync())
}

// Snapshot returns a consistent copy of the state.
func (t *Tracker) Snapshot() ConnectionState {
	t.mu.RLock()
	state := ConnectionState{
		IsConnected:       t.connected,
		NetworkStatus:     t.status,
		LastSyncTimestamp: t.lastSync,
	}
	t.mu.RUnlock()

	if t.attempts != nil {
		state.ReconnectAttempts = t.attempts.Attempts()
	}
	return state
}
