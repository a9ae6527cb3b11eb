package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/festtrivia/go/internal/models"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/mcdev12/festtrivia/go/internal/realtime/feed"
	"github.com/mcdev12/festtrivia/go/internal/realtime/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu           sync.Mutex
	healthy      int
	disconnected []error
}

func (r *recordingReporter) MarkHealthy(time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy++
}

func (r *recordingReporter) MarkDisconnected(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, err)
}

func (r *recordingReporter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy, len(r.disconnected)
}

// failingSource fails subscriptions to one feed and delegates the rest.
type failingSource struct {
	feed.Source
	failOn events.FeedType
}

func (f failingSource) Subscribe(ctx context.Context, gameID uuid.UUID, ft events.FeedType) (feed.Subscription, error) {
	if ft == f.failOn {
		return nil, errors.New("channel error")
	}
	return f.Source.Subscribe(ctx, gameID, ft)
}

type fixture struct {
	clock    *clockwork.FakeClock
	hub      *feed.Hub
	reporter *recordingReporter
	notices  *notify.Recorder
	manager  *Manager
}

func newFixture(source func(*feed.Hub) feed.Source) *fixture {
	f := &fixture{
		clock:    clockwork.NewFakeClock(),
		hub:      feed.NewHub(zerolog.Nop()),
		reporter: &recordingReporter{},
		notices:  &notify.Recorder{},
	}
	var src feed.Source = f.hub
	if source != nil {
		src = source(f.hub)
	}
	f.manager = NewManager(src, f.reporter, f.notices, f.clock, zerolog.Nop(), DefaultConfig())
	return f
}

func stateEvent(t *testing.T, gameID uuid.UUID, question int) events.ChangeEvent {
	t.Helper()
	ev, err := events.NewChangeEvent(gameID, events.FeedGameState, events.OpUpdate, time.Now(),
		models.GameState{ID: gameID, Status: models.GameStatusQuestion, CurrentQuestion: question})
	require.NoError(t, err)
	return ev
}

func next(t *testing.T, ch <-chan events.ChangeEvent) events.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.ChangeEvent{}
	}
}

func TestThrottle_DropsWithinWindow(t *testing.T) {
	th := NewThrottle(500 * time.Millisecond)
	start := time.Unix(1_700_000_000, 0)

	assert.True(t, th.Allow(events.FeedGameState, start))
	assert.False(t, th.Allow(events.FeedGameState, start.Add(499*time.Millisecond)))
	assert.True(t, th.Allow(events.FeedAnswers, start.Add(100*time.Millisecond)))
	assert.True(t, th.Allow(events.FeedGameState, start.Add(500*time.Millisecond)))
	// measured from the last accepted event, not the last dropped one
	assert.False(t, th.Allow(events.FeedGameState, start.Add(900*time.Millisecond)))
	assert.True(t, th.Allow(events.FeedGameState, start.Add(time.Second)))
}

func TestManager_DeliversAndMarksHealthy(t *testing.T) {
	f := newFixture(nil)
	gameID := uuid.New()

	streams, err := f.manager.Open(context.Background(), gameID)
	require.NoError(t, err)
	require.Len(t, streams, len(events.AllFeeds))
	assert.Equal(t, 4, f.manager.Subscribed())

	ev := stateEvent(t, gameID, 1)
	f.hub.Publish(ev)

	got := next(t, streams[events.FeedGameState])
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, f.clock.Now(), got.ReceivedAt)

	require.Eventually(t, func() bool {
		healthy, _ := f.reporter.counts()
		return healthy == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ThrottlesBurstsPerFeed(t *testing.T) {
	f := newFixture(nil)
	gameID := uuid.New()

	streams, err := f.manager.Open(context.Background(), gameID, events.FeedGameState)
	require.NoError(t, err)

	first := stateEvent(t, gameID, 1)
	f.hub.Publish(first)
	f.hub.Publish(stateEvent(t, gameID, 2))
	assert.Equal(t, first.ID, next(t, streams[events.FeedGameState]).ID)

	require.Eventually(t, func() bool {
		return f.manager.Stats().Dropped[events.FeedGameState] == 1
	}, time.Second, 5*time.Millisecond)

	f.clock.Advance(500 * time.Millisecond)
	third := stateEvent(t, gameID, 3)
	f.hub.Publish(third)
	assert.Equal(t, third.ID, next(t, streams[events.FeedGameState]).ID)

	stats := f.manager.Stats()
	assert.Equal(t, 2, stats.Delivered[events.FeedGameState])
	assert.Equal(t, 1, stats.Dropped[events.FeedGameState])
}

func TestManager_SetupFailureReleasesPartialSubscriptions(t *testing.T) {
	f := newFixture(func(h *feed.Hub) feed.Source {
		return failingSource{Source: h, failOn: events.FeedAnswers}
	})
	gameID := uuid.New()

	streams, err := f.manager.Open(context.Background(), gameID)
	require.Error(t, err)
	assert.NotNil(t, streams)

	for _, ft := range events.AllFeeds {
		assert.Equal(t, 0, f.hub.Open(gameID, ft), "feed %s left open", ft)
	}
	assert.Equal(t, 0, f.manager.Subscribed())

	_, disconnected := f.reporter.counts()
	assert.Equal(t, 1, disconnected)
	assert.Equal(t, 1, f.notices.Count(notify.KindDestructive, notify.SubscriptionFailed.TitleKey))
}

func TestManager_TransportErrorReportsDisconnectAndResubscribeKeepsStreams(t *testing.T) {
	f := newFixture(nil)
	gameID := uuid.New()

	streams, err := f.manager.Open(context.Background(), gameID, events.FeedGameState)
	require.NoError(t, err)

	f.hub.Fail(gameID, errors.New("socket closed"))
	require.Eventually(t, func() bool {
		_, disconnected := f.reporter.counts()
		return disconnected == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.manager.Resubscribe(context.Background()))
	assert.Equal(t, 1, f.hub.Open(gameID, events.FeedGameState))

	ev := stateEvent(t, gameID, 4)
	f.hub.Publish(ev)
	assert.Equal(t, ev.ID, next(t, streams[events.FeedGameState]).ID)
}

func TestManager_GameChangeReleasesEverything(t *testing.T) {
	f := newFixture(nil)
	first, second := uuid.New(), uuid.New()

	oldStreams, err := f.manager.Open(context.Background(), first)
	require.NoError(t, err)

	_, err = f.manager.Open(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, second, f.manager.GameID())

	for _, ft := range events.AllFeeds {
		assert.Equal(t, 0, f.hub.Open(first, ft))
		assert.Equal(t, 1, f.hub.Open(second, ft))
		_, ok := <-oldStreams[ft]
		assert.False(t, ok, "stream %s of the previous game still open", ft)
	}
}

func TestManager_CloseClosesOutputsWithoutReportingDisconnect(t *testing.T) {
	f := newFixture(nil)
	gameID := uuid.New()

	streams, err := f.manager.Open(context.Background(), gameID, events.FeedLeaderboard)
	require.NoError(t, err)

	f.manager.Close()
	_, ok := <-streams[events.FeedLeaderboard]
	assert.False(t, ok)
	assert.Equal(t, 0, f.hub.Open(gameID, events.FeedLeaderboard))
	assert.Equal(t, uuid.Nil, f.manager.GameID())

	_, disconnected := f.reporter.counts()
	assert.Equal(t, 0, disconnected)
	assert.ErrorIs(t, f.manager.Resubscribe(context.Background()), ErrNotOpen)

	// closing twice is harmless
	f.manager.Close()
}

func TestManager_OpenRequiresGame(t *testing.T) {
	f := newFixture(nil)
	_, err := f.manager.Open(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, ErrNoGame)
}
