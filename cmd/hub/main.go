package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/seismic-feed-hub/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/seismic-feed-hub/internal/adapter/kafka"
	"github.com/couchcryptid/seismic-feed-hub/internal/config"
	"github.com/couchcryptid/seismic-feed-hub/internal/connector"
	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/engine"
	"github.com/couchcryptid/seismic-feed-hub/internal/leaderlock"
	"github.com/couchcryptid/seismic-feed-hub/internal/observability"
	"github.com/couchcryptid/seismic-feed-hub/internal/store"
	"github.com/couchcryptid/seismic-feed-hub/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional change sink.
	var publisher engine.Publisher
	var kafkaPub *kafkaadapter.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaSinkTopic, logger)
		publisher = kafkaPub
		logger.Info("kafka change sink enabled", "topic", cfg.KafkaSinkTopic)
	}

	eng := engine.New(store.New(clock), cfg.MailboxSize, publisher, clock, logger, metrics)

	// Leader election gates the regional push connections so only one process
	// per deployment holds them open. Without redis they run ungated.
	var gate connector.Gate
	var redisStore *leaderlock.RedisStore
	if cfg.RedisAddr != "" {
		redisStore, err = leaderlock.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			cfg.LeaderKey, cfg.LeaderStaleAfter+cfg.LeaderHeartbeat)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		lease := leaderlock.New(redisStore, leaseOwnerID(), cfg.LeaderStaleAfter,
			cfg.LeaderHeartbeat, clock, logger)
		gate = lease.Held
		go lease.Run(ctx)
		logger.Info("leader election enabled", "key", cfg.LeaderKey)
	} else {
		logger.Info("leader election disabled, regional push runs ungated")
	}

	var wg sync.WaitGroup
	startConnector := func(c connector.Connector) {
		eng.Register(c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
	}

	startConnector(connector.NewPrimary(cfg.PrimaryFeedURL, cfg.PrimaryRetryDelay,
		eng.Inject, clock, logger, metrics))

	regional := map[domain.SourceID]string{
		domain.SourceRegionalJMA: cfg.RegionalJMAURL,
		domain.SourceRegionalSC:  cfg.RegionalSCURL,
		domain.SourceRegionalFJ:  cfg.RegionalFJURL,
	}
	for source, url := range regional {
		if url == "" {
			continue
		}
		startConnector(connector.NewRegionalPush(source, url,
			cfg.RegionalBackoffFloor, cfg.RegionalBackoffCeiling,
			eng.Inject, gate, clock, logger, metrics))
	}

	if cfg.RegionalPollURL != "" {
		startConnector(connector.NewRegionalPoll(cfg.RegionalPollURL, cfg.RegionalPollInterval,
			eng.Inject, clock, logger, metrics))
	}

	if cfg.TelemetryCoordURL != "" {
		client := telemetry.NewClient(cfg.TelemetryCoordURL, cfg.TelemetryIntensityURL,
			cfg.TelemetryTimeout, logger)
		startConnector(connector.NewTelemetryPoll(client, cfg.TelemetryInterval,
			cfg.TelemetryCooldown, eng.Inject, clock, logger, metrics))
	}

	if cfg.ScrapeURL != "" {
		startConnector(connector.NewScrapedTable(cfg.ScrapeURL, cfg.ScrapeInterval,
			eng.Inject, clock, logger, metrics))
	}

	if cfg.HistoryURL != "" {
		go seedHistory(ctx, eng, cfg.HistoryURL, logger)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, eng, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := eng.Run(ctx); err != nil {
			logger.Error("engine error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// seedHistory performs the one-time bulk load of recent events.
func seedHistory(ctx context.Context, eng *engine.Engine, url string, logger *slog.Logger) {
	client := &http.Client{Timeout: 30 * time.Second}
	events, err := connector.FetchHistory(ctx, client, url)
	if err != nil {
		logger.Warn("history seed failed", "error", err)
		return
	}
	if err := eng.SeedHistory(ctx, events); err != nil {
		logger.Warn("history seed aborted", "error", err)
		return
	}
	logger.Info("history seeded", "events", len(events))
}

func leaseOwnerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
