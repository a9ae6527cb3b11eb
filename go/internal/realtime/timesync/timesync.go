package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// CacheKey is the fixed key the offset is cached under.
	CacheKey = "trivia:server_time_offset"
	// DefaultTTL is how long a cached offset stays valid.
	DefaultTTL = 5 * time.Minute
)

// Fetcher returns the backend's current time.
type Fetcher interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (time.Time, error)

func (f FetcherFunc) ServerTime(ctx context.Context) (time.Time, error) { return f(ctx) }

// CachedOffset is the persisted shape of a derived offset.
type CachedOffset struct {
	OffsetMs int64 `json:"offset_ms"`
	CachedAt int64 `json:"cached_at"` // unix milliseconds, client clock
}

// Offset returns the cached offset as a duration.
func (c CachedOffset) Offset() time.Duration {
	return time.Duration(c.OffsetMs) * time.Millisecond
}

// Expired reports whether the entry is older than ttl at now.
func (c CachedOffset) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.UnixMilli(c.CachedAt)) > ttl
}

// Store persists cached offsets. Writes are idempotent recomputations, so stores need no
// coordination beyond last-writer-wins.
type Store interface {
	Load(ctx context.Context, key string) (CachedOffset, bool, error)
	Save(ctx context.Context, key string, offset CachedOffset) error
}

// Syncer estimates the offset between the client clock and the server clock.
type Syncer struct {
	fetcher Fetcher
	store   Store
	clock   clockwork.Clock
	ttl     time.Duration
	logger  zerolog.Logger

	mu      sync.RWMutex
	offset  time.Duration
	derived bool
}

// NewSyncer creates a Syncer. A nil store keeps the cache in memory.
func NewSyncer(fetcher Fetcher, store Store, clock clockwork.Clock, logger zerolog.Logger) *Syncer {
	if store == nil {
		store = NewMemoryStore()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		ttl:     DefaultTTL,
		logger:  logger,
	}
}

// WithTTL overrides the cache TTL.
func (s *Syncer) WithTTL(ttl time.Duration) *Syncer {
	s.ttl = ttl
	return s
}

// Sync returns the clock offset, using the cache when it is still valid.
// On network failure it returns 0 and caches nothing.
func (s *Syncer) Sync(ctx context.Context) time.Duration {
	if offset, ok := s.Cached(ctx); ok {
		s.remember(offset)
		return offset
	}
	return s.ForceSync(ctx)
}

// ForceSync measures the offset against the server regardless of the cache.
func (s *Syncer) ForceSync(ctx context.Context) time.Duration {
	t0 := s.clock.Now()
	serverTime, err := s.fetcher.ServerTime(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("server time sync failed, assuming zero offset")
		return 0
	}
	t1 := s.clock.Now()

	roundTrip := t1.Sub(t0)
	latency := roundTrip / 2
	offset := serverTime.Add(latency).Sub(t1)

	entry := CachedOffset{
		OffsetMs: offset.Milliseconds(),
		CachedAt: t1.UnixMilli(),
	}
	if err := s.store.Save(ctx, CacheKey, entry); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache server time offset")
	}
	s.remember(offset)

	s.logger.Debug().
		Dur("offset", offset).
		Dur("round_trip", roundTrip).
		Msg("server time synced")

	return offset
}

// Cached reads the offset cache, treating entries older than the TTL as absent.
func (s *Syncer) Cached(ctx context.Context) (time.Duration, bool) {
	entry, ok, err := s.store.Load(ctx, CacheKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read server time offset cache")
		return 0, false
	}
	if !ok || entry.Expired(s.clock.Now(), s.ttl) {
		return 0, false
	}
	return entry.Offset(), true
}

// Offset returns the last derived offset (0 if none).
func (s *Syncer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Derived reports whether an offset has been measured or loaded.
func (s *Syncer) Derived() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.derived
}

// ServerNow returns the client clock corrected by the last derived offset.
func (s *Syncer) ServerNow() time.Time {
	return s.clock.Now().Add(s.Offset())
}

func (s *Syncer) remember(offset time.Duration) {
	s.mu.Lock()
	s.offset = offset
	s.derived = true
	s.mu.Unlock()
}
