package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/festtrivia/go/clients/trivia_client"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// StateHandler serves read-only game state over plain HTTP.
type StateHandler struct {
	engine *Engine
	logger zerolog.Logger
}

func NewStateHandler(engine *Engine, logger zerolog.Logger) *StateHandler {
	return &StateHandler{engine: engine, logger: logger}
}

// HandleListGames handles GET /api/games
func (h *StateHandler) HandleListGames(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.engine.Games())
}

// HandleGetGameState handles GET /api/games/{id}/state
func (h *StateHandler) HandleGetGameState(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid game ID format", http.StatusBadRequest)
		return
	}

	state, err := h.engine.State(gameID)
	if errors.Is(err, ErrGameNotFound) {
		http.Error(w, "Game not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to get game state")
		http.Error(w, "Failed to get game state", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, state)
}

func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games", h.HandleListGames)
	mux.HandleFunc("GET /api/games/{id}/state", h.HandleGetGameState)
}

func (h *StateHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// NewMux mounts the RPC service, the feed gateway, state endpoints and the health check.
func NewMux(service *Service, gateway *Gateway, state *StateHandler, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	if gateway != nil {
		gateway.RegisterRoutes(mux)
	}
	state.RegisterRoutes(mux)

	mux.HandleFunc(trivia_client.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error().Err(err).Msg("failed to write health check response")
		}
	})
	return mux
}

// NewServer wraps handler with CORS and h2c so connect clients can use HTTP/2 without TLS.
func NewServer(port string, handler http.Handler) *http.Server {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: h2c.NewHandler(c.Handler(handler), &http2.Server{}),
	}
}
