package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modwarden/warden/automod/cachestore"
	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/consumer"
	"github.com/modwarden/warden/automod/correlation"
	"github.com/modwarden/warden/automod/countstore"
	"github.com/modwarden/warden/automod/engine"
	"github.com/modwarden/warden/automod/modlog"
	"github.com/modwarden/warden/automod/platform"
	"github.com/modwarden/warden/automod/scheduler"
	"github.com/modwarden/warden/automod/store"
	"github.com/modwarden/warden/internal/ticker"
	"github.com/modwarden/warden/util"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// how long stored messages are kept for duplicate checks and cleanup
const messageRetention = 24 * time.Hour

type Server struct {
	Engine    *engine.Engine
	Consumer  *consumer.DiscordConsumer
	Scheduler *scheduler.Scheduler

	logger         *slog.Logger
	session        *discordgo.Session
	config         *config.FileProvider
	store          *store.GormStore
	sweepInterval  time.Duration
	expiryInterval time.Duration
	metricsListen  string
}

type Config struct {
	Logger          *slog.Logger
	DiscordToken    string
	GuildConfigPath string
	WatchConfig     bool
	RedisURL        string
	SlackWebhookURL string
	Workers         int
	SweepInterval   time.Duration
	ExpiryInterval  time.Duration
	MetricsListen   string
}

func NewServer(db *gorm.DB, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if nil == logger {
		logger = slog.Default()
	}

	guilds, err := config.NewFileProvider(cfg.GuildConfigPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading guild config: %w", err)
	}
	if cfg.WatchConfig {
		guilds.Watch()
	}

	st, err := store.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing message store: %w", err)
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	if cfg.RedisURL != "" {
		rcs, err := countstore.NewRedisCountStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %w", err)
		}
		counters = rcs

		rcache, err := cachestore.NewRedisCacheStore(cfg.RedisURL, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %w", err)
		}
		cache = rcache
		logger.Info("using redis for counters and caches")
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(50_000, 30*time.Minute)
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Client = &http.Client{
		Transport: util.InstrumentedTransport(),
		Timeout:   20 * time.Second,
	}
	self, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("fetching bot user: %w", err)
	}

	plat := platform.NewDiscord(session, cache, logger)

	actionLog := modlog.MultiLog{
		modlog.NewSlogLog(logger),
		modlog.NewChannelLog(guilds, plat),
	}
	if cfg.SlackWebhookURL != "" {
		actionLog = append(actionLog, modlog.NewSlackLog(cfg.SlackWebhookURL, logger))
	}

	eng := &engine.Engine{
		Logger:         logger,
		Config:         guilds,
		Counters:       counters,
		Correlations:   correlation.NewRegistry(logger),
		Store:          st,
		Platform:       plat,
		ActionLog:      actionLog,
		SelfID:         self.ID,
		CooldownWindow: engine.DefaultCooldownWindow,
		CooldownTTL:    engine.DefaultCooldownTTL,
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 16
	}
	sched := scheduler.NewScheduler(workers, "warden", logger, eng.ProcessEvent)

	return &Server{
		Engine:    eng,
		Scheduler: sched,
		Consumer: &consumer.DiscordConsumer{
			Logger:    logger.With("component", "consumer"),
			Session:   session,
			Scheduler: sched,
		},
		logger:         logger,
		session:        session,
		config:         guilds,
		store:          st,
		sweepInterval:  cfg.SweepInterval,
		expiryInterval: cfg.ExpiryInterval,
		metricsListen:  cfg.MetricsListen,
	}, nil
}

// Runs the gateway consumer and background maintenance until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.Engine.Correlations.StartSweeper(ctx, s.sweepInterval)
	defer s.Engine.Correlations.Close()

	expiryInterval := s.expiryInterval
	if expiryInterval <= 0 {
		expiryInterval = 30 * time.Second
	}
	// a failed pass is retried on the next tick
	expiry := ticker.Start(ctx, expiryInterval, func(ctx context.Context) error {
		if err := s.Engine.RunExpiry(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("punishment expiry pass failed", "err", err)
		}
		return nil
	})
	defer expiry.Stop()

	prune := ticker.Start(ctx, time.Hour, func(ctx context.Context) error {
		n, err := s.store.PruneMessages(ctx, time.Now().Add(-messageRetention))
		if err != nil {
			s.logger.Warn("failed to prune stored messages", "err", err)
			return nil
		}
		if n > 0 {
			s.logger.Info("pruned stored messages", "count", n)
		}
		return nil
	})
	defer prune.Stop()

	g, gctx := errgroup.WithContext(ctx)

	metrics := &http.Server{Addr: s.metricsListen, Handler: metricsHandler()}
	g.Go(func() error {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metrics.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := s.Consumer.Run(gctx)
		s.logger.Info("draining queued events")
		s.Scheduler.Shutdown()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("gateway consumer: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
