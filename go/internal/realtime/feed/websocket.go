package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/rs/zerolog"
)

// WebSocketConfig holds configuration for WebSocket feed subscriptions
type WebSocketConfig struct {
	URL              string // e.g. ws://localhost:8081/ws/feeds
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	Buffer           int
}

// DefaultWebSocketConfig returns default WebSocket feed configuration
func DefaultWebSocketConfig(feedURL string) WebSocketConfig {
	return WebSocketConfig{
		URL:              feedURL,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		Buffer:           DefaultBuffer,
	}
}

// WebSocketSource subscribes to feeds over one WebSocket connection per (game, feed).
type WebSocketSource struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func NewWebSocketSource(cfg WebSocketConfig, logger zerolog.Logger) *WebSocketSource {
	return &WebSocketSource{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger,
	}
}

func (s *WebSocketSource) Subscribe(ctx context.Context, gameID uuid.UUID, feed events.FeedType) (Subscription, error) {
	target, err := FeedURL(s.cfg.URL, gameID, feed)
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, target, s.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s feed: status %d: %w", feed, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s feed: %w", feed, err)
	}

	st := newStream(gameID, feed, s.cfg.Buffer, s.logger)
	done := make(chan struct{})
	st.stop = func() error {
		close(done)
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return conn.Close()
	}

	go s.readPump(conn, st)
	go s.pingPump(conn, st, done)

	s.logger.Debug().
		Str("game_id", gameID.String()).
		Str("feed", string(feed)).
		Msg("WebSocket feed subscribed")

	return st, nil
}

// FeedURL adds the game and feed query parameters to a feed endpoint.
func FeedURL(base string, gameID uuid.UUID, feed events.FeedType) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("game_id", gameID.String())
	q.Set("feed", string(feed))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WebSocketSource) readPump(conn *websocket.Conn, st *stream) {
	defer conn.Close()

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		var ev events.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if st.closed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Error().
					Err(err).
					Str("feed", string(st.feed)).
					Msg("unexpected WebSocket close error")
			}
			st.finish(fmt.Errorf("read %s feed: %w", st.feed, err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		st.push(ev)
	}
}

func (s *WebSocketSource) pingPump(conn *websocket.Conn, st *stream, done <-chan struct{}) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if st.closed() {
				return
			}
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Error().
					Err(err).
					Str("feed", string(st.feed)).
					Msg("failed to send ping")
				st.finish(fmt.Errorf("ping %s feed: %w", st.feed, err))
				conn.Close()
				return
			}
		}
	}
}
