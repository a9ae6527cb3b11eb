package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/mcdev12/festtrivia/go/internal/backend"
	"github.com/mcdev12/festtrivia/go/internal/dbconfig"
	"github.com/mcdev12/festtrivia/go/internal/realtime/feed"
	"github.com/mcdev12/festtrivia/go/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	port := getEnv("BACKEND_PORT", "8080")
	natsURL := getEnv("NATS_URL", "")
	persist := getEnvAsBool("BACKEND_PERSIST", false)
	games := getEnvAsInt("BACKEND_GAMES", 1)

	pack, err := loadPack(getEnv("PACK_FILE", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load question pack")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway := backend.NewGateway(backend.DefaultGatewayConfig(), log.Logger)
	fanout := backend.NewFanout(log.Logger, gateway)

	if natsURL != "" {
		cfg := feed.DefaultNATSConfig()
		cfg.URL = natsURL
		nc, err := feed.ConnectNATS(cfg, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		publisher, err := backend.NewJetStreamPublisher(ctx, nc, cfg, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create JetStream publisher")
		}
		defer publisher.Close()
		fanout.Add(publisher)
	}

	var writer *store.Writer
	if persist {
		db, err := store.Open(ctx, dbconfig.DSNFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		writer = store.NewWriter(db, log.Logger)
		if err := writer.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		fanout.Add(writer)
	}

	clock := clockwork.NewRealClock()
	engine := backend.NewEngine(fanout, clock, log.Logger)
	defer engine.Stop()

	for i := 0; i < games; i++ {
		state, err := engine.CreateGame(ctx, pack, true)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create game")
		}
		if writer != nil {
			if err := saveGame(ctx, writer, engine, state.ID); err != nil {
				log.Error().Err(err).Str("game_id", state.ID.String()).Msg("failed to persist game")
			}
		}
		log.Info().Str("game_id", state.ID.String()).Msg("game open for players")
	}

	service := backend.NewService(engine, clock, log.Logger)
	mux := backend.NewMux(service, gateway, backend.NewStateHandler(engine, log.Logger), log.Logger)
	server := backend.NewServer(port, mux)

	log.Info().
		Str("port", port).
		Str("pack", pack.Title).
		Bool("nats", natsURL != "").
		Bool("persist", persist).
		Msg("starting trivia backend")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gateway.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("trivia backend stopped with error")
	}
	log.Info().Msg("trivia backend shutdown complete")
}

func loadPack(path string) (*backend.Pack, error) {
	if path == "" {
		return backend.DefaultPack()
	}
	return backend.LoadPack(path)
}

func saveGame(ctx context.Context, writer *store.Writer, engine *backend.Engine, gameID uuid.UUID) error {
	state, err := engine.State(gameID)
	if err != nil {
		return err
	}
	questions, keys, err := engine.Questions(gameID)
	if err != nil {
		return err
	}
	records := make([]store.QuestionRecord, len(questions))
	for i, q := range questions {
		records[i] = store.QuestionRecord{Question: q, CorrectOption: keys[i]}
	}
	return writer.SaveGame(ctx, state, records)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
