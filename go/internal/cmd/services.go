package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/festtrivia/go/clients/trivia_client"
	"github.com/mcdev12/festtrivia/go/internal/content"
	"github.com/mcdev12/festtrivia/go/internal/dbconfig"
	"github.com/mcdev12/festtrivia/go/internal/realtime/feed"
	"github.com/mcdev12/festtrivia/go/internal/realtime/monitor"
	"github.com/mcdev12/festtrivia/go/internal/realtime/notify"
	"github.com/mcdev12/festtrivia/go/internal/realtime/session"
	"github.com/mcdev12/festtrivia/go/internal/realtime/timesync"
	"github.com/mcdev12/festtrivia/go/internal/store"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Services holds the session and every connection it depends on.
type Services struct {
	Client  *trivia_client.TriviaClient
	Session *session.Session

	closers []func()
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *Services) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

func setupServices(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Services, error) {
	// Wire up dependency injection chain
	// Transports → session components → session
	svc := &Services{Client: trivia_client.NewTriviaClient(cfg.BackendURL, cfg.APIKey)}

	notifier, err := setupNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	data, err := setupDataSource(ctx, cfg, svc)
	if err != nil {
		svc.Close()
		return nil, err
	}

	source, nc, err := setupFeeds(ctx, cfg, svc, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}

	timeStore, err := setupTimeStore(ctx, cfg, svc)
	if err != nil {
		svc.Close()
		return nil, err
	}

	sessCfg := session.DefaultConfig()
	sessCfg.Monitor.ProbeInterval = time.Duration(cfg.Probe.IntervalSec) * time.Second
	sessCfg.Monitor.ProbeTimeout = time.Duration(cfg.Probe.TimeoutSec) * time.Second
	sessCfg.TimeSyncTTL = cfg.timeCacheTTL()

	sess, err := session.New(sessCfg, session.Deps{
		Data:      data,
		Answers:   svc.Client,
		Feeds:     source,
		Time:      svc.Client,
		Prober:    setupProber(cfg, nc),
		TimeStore: timeStore,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	if nc != nil {
		sess.WatchNATS(nc)
	}
	svc.Session = sess
	svc.onClose(sess.Disconnect)
	return svc, nil
}

func setupNotifier(cfg *Config, logger zerolog.Logger) (notify.Notifier, error) {
	catalog := content.NewCatalog(cfg.Locale)
	if cfg.ContentFile != "" {
		loaded, err := content.LoadCatalog(cfg.ContentFile, cfg.Locale)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	return notify.NewLogNotifier(logger, catalog, cfg.Locale), nil
}

func setupDataSource(ctx context.Context, cfg *Config, svc *Services) (session.DataSource, error) {
	if cfg.Data != "postgres" {
		return svc.Client, nil
	}
	pool, err := store.Connect(ctx, databaseURL(cfg))
	if err != nil {
		return nil, err
	}
	svc.onClose(pool.Close)
	return store.NewReader(pool), nil
}

func setupFeeds(ctx context.Context, cfg *Config, svc *Services, logger zerolog.Logger) (feed.Source, *nats.Conn, error) {
	logger = logger.With().Str("transport", cfg.Feeds.Transport).Logger()

	switch cfg.Feeds.Transport {
	case "nats":
		natsCfg := feed.DefaultNATSConfig()
		natsCfg.URL = cfg.Feeds.NATSURL
		nc, err := feed.ConnectNATS(natsCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		svc.onClose(nc.Close)
		source, err := feed.NewNATSSource(nc, natsCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return source, nc, nil

	case "postgres":
		source := feed.NewPGNotifySource(feed.DefaultPGNotifyConfig(databaseURL(cfg)), logger)
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			if err := source.Run(runCtx); err != nil {
				logger.Error().Err(err).Msg("postgres listener stopped")
			}
		}()
		svc.onClose(cancel)
		return source, nil, nil

	default:
		wsCfg := feed.DefaultWebSocketConfig(cfg.Feeds.WebSocketURL)
		if cfg.APIKey != "" {
			wsCfg.Header = map[string][]string{trivia_client.APIKeyHeader: {cfg.APIKey}}
		}
		return feed.NewWebSocketSource(wsCfg, logger), nil, nil
	}
}

func setupTimeStore(ctx context.Context, cfg *Config, svc *Services) (timesync.Store, error) {
	switch cfg.TimeCache.Store {
	case "redis":
		rdb, err := timesync.ConnectRedis(ctx, cfg.TimeCache.RedisAddr, cfg.TimeCache.RedisDB)
		if err != nil {
			return nil, err
		}
		svc.onClose(func() { rdb.Close() })
		return timesync.NewRedisStore(rdb, cfg.timeCacheTTL()), nil
	case "file":
		fileStore, err := timesync.NewFileStore(cfg.TimeCache.Dir)
		if err != nil {
			return nil, fmt.Errorf("time cache dir: %w", err)
		}
		return fileStore, nil
	default:
		return timesync.NewMemoryStore(), nil
	}
}

func setupProber(cfg *Config, nc *nats.Conn) monitor.Prober {
	timeout := time.Duration(cfg.Probe.TimeoutSec) * time.Second
	if cfg.Probe.Kind == "nats" && nc != nil {
		return monitor.NewNATSProber(nc, timeout)
	}
	return monitor.NewHTTPProber(cfg.BackendURL, trivia_client.HealthPath, timeout)
}

func databaseURL(cfg *Config) string {
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL
	}
	return dbconfig.DSNFromEnv()
}
