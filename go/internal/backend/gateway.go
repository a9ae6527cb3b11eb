package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/festtrivia/go/clients/trivia_client"
	"github.com/mcdev12/festtrivia/go/internal/realtime/events"
	"github.com/rs/zerolog"
)

type feedKey struct {
	gameID uuid.UUID
	feed   events.FeedType
}

// Gateway fans change events out to WebSocket subscribers of (game, feed).
type Gateway struct {
	connections map[feedKey]map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   GatewayConfig
	logger   zerolog.Logger

	broadcastCh chan events.ChangeEvent
}

// Connection is one subscriber socket.
type Connection struct {
	ID      string
	Key     feedKey
	Conn    *websocket.Conn
	Send    chan []byte
	gateway *Gateway

	ConnectedAt time.Time
}

// GatewayConfig holds configuration for WebSocket subscribers
type GatewayConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultGatewayConfig returns default WebSocket configuration
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development
			return true
		},
	}
}

func NewGateway(config GatewayConfig, logger zerolog.Logger) *Gateway {
	return &Gateway{
		connections: make(map[feedKey]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		logger:      logger,
		broadcastCh: make(chan events.ChangeEvent, 1000),
	}
}

// Start processes broadcasts until ctx is done.
func (g *Gateway) Start(ctx context.Context) {
	g.logger.Info().Msg("feed gateway started")

	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Msg("feed gateway shutting down")
			g.closeAll()
			return
		case ev := <-g.broadcastCh:
			g.handleBroadcast(ev)
		}
	}
}

// Publish queues ev for its subscribers.
func (g *Gateway) Publish(_ context.Context, ev events.ChangeEvent) error {
	select {
	case g.broadcastCh <- ev:
		return nil
	default:
		g.logger.Warn().Str("game_id", ev.GameID.String()).Msg("broadcast channel full, dropping event")
		return fmt.Errorf("broadcast channel full")
	}
}

// HandleFeed upgrades a subscription request: /ws/feeds?game_id=...&feed=...
func (g *Gateway) HandleFeed(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.URL.Query().Get("game_id"))
	if err != nil {
		http.Error(w, "invalid game_id format", http.StatusBadRequest)
		return
	}
	feed := events.FeedType(r.URL.Query().Get("feed"))
	if !feed.Valid() {
		http.Error(w, "unknown feed", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		g.logger.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Key:         feedKey{gameID: gameID, feed: feed},
		Conn:        conn,
		Send:        make(chan []byte, 256),
		gateway:     g,
		ConnectedAt: time.Now(),
	}
	g.register(c)

	go c.writePump()
	go c.readPump()

	g.logger.Info().
		Str("connection_id", c.ID).
		Str("game_id", gameID.String()).
		Str("feed", string(feed)).
		Msg("feed subscriber connected")
}

// HandleStats reports subscriber counts.
func (g *Gateway) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.Stats()); err != nil {
		g.logger.Error().Err(err).Msg("failed to write gateway stats")
	}
}

func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(trivia_client.FeedsPath, g.HandleFeed)
	mux.HandleFunc("/ws/stats", g.HandleStats)
}

// GatewayStats summarizes active subscribers.
type GatewayStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveGames      int            `json:"active_games"`
	Feeds            map[string]int `json:"feeds"`
}

func (g *Gateway) Stats() GatewayStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GatewayStats{Feeds: make(map[string]int)}
	games := make(map[uuid.UUID]bool)
	for key, conns := range g.connections {
		stats.TotalConnections += len(conns)
		stats.Feeds[string(key.feed)] += len(conns)
		games[key.gameID] = true
	}
	stats.ActiveGames = len(games)
	return stats
}

// Subscribers returns how many sockets follow a game's feed.
func (g *Gateway) Subscribers(gameID uuid.UUID, feed events.FeedType) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections[feedKey{gameID: gameID, feed: feed}])
}

func (g *Gateway) register(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connections[c.Key] == nil {
		g.connections[c.Key] = make(map[*Connection]bool)
	}
	g.connections[c.Key][c] = true
}

func (g *Gateway) unregister(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if conns, ok := g.connections[c.Key]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			close(c.Send)
			if len(conns) == 0 {
				delete(g.connections, c.Key)
			}
			g.logger.Debug().Str("connection_id", c.ID).Msg("feed subscriber unregistered")
		}
	}
}

func (g *Gateway) handleBroadcast(ev events.ChangeEvent) {
	key := feedKey{gameID: ev.GameID, feed: ev.Feed}

	g.mu.RLock()
	targets := make([]*Connection, 0, len(g.connections[key]))
	for c := range g.connections[key] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, c := range targets {
		select {
		case c.Send <- data:
		default:
			g.logger.Warn().Str("connection_id", c.ID).Msg("subscriber send buffer full, closing connection")
			g.unregister(c)
			c.Conn.Close()
		}
	}
}

func (g *Gateway) closeAll() {
	g.mu.RLock()
	var all []*Connection
	for _, conns := range g.connections {
		for c := range conns {
			all = append(all, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range all {
		g.unregister(c)
	}
}

func (c *Connection) writePump() {
	cfg := c.gateway.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.gateway.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.gateway.logger.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; subscribers never send data.
func (c *Connection) readPump() {
	cfg := c.gateway.config
	defer func() {
		c.gateway.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
