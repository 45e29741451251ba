package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/fraud-signal-service/internal/api/rest"
	"github.com/davidleathers/fraud-signal-service/internal/api/websocket"
	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/cache"
	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/config"
	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/history"
	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/telemetry"
	"github.com/davidleathers/fraud-signal-service/internal/metrics"
	"github.com/davidleathers/fraud-signal-service/internal/service/fraud"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	os.Exit(run(*configPath))
}

// run starts the service and returns the process exit code once every deferred cleanup has run
func run(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	zapLogger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		logger.Error("failed to create logger", "error", err)
		return 1
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, telemetry.FromConfig(cfg))
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger, zapLogger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return 1
	}
	logger.Info("server stopped")
	return 0
}

// app holds the wired components of the service
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store  *history.Store
	ipset  *cache.IPSet
	redis  *redis.Client
	syncer *cache.BlacklistSyncer
	hub    *websocket.SignalHub
	router *rest.Router
	server *rest.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, zapLogger *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  history.NewStore(),
		ipset:  cache.NewIPSet(cfg.Fraud.Blacklist.IPs...),
	}

	healthCfg := rest.DefaultHealthConfig()
	healthCfg.ServiceName = telemetry.ServiceName
	healthCfg.ServiceVersion = cfg.Version
	healthCfg.Environment = cfg.Environment
	health := rest.NewHealthService(healthCfg)

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis, zapLogger)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.syncer = cache.NewBlacklistSyncer(client, cfg.Fraud.Blacklist.RedisKey, cfg.Fraud.Blacklist.IPs,
			a.ipset, cfg.Fraud.Blacklist.RefreshInterval, zapLogger.Named("blacklist"))
		a.syncer.OnSync = RecordBlacklistSync

		health.RegisterChecker(rest.NewRedisHealthChecker(client, "redis"))
		health.RegisterChecker(rest.NewBlacklistHealthChecker(a.syncer.LastSync, 3*cfg.Fraud.Blacklist.RefreshInterval))
	}
	blacklistSize.Set(float64(a.ipset.Len()))

	registry, err := metrics.NewRegistry(otel.GetMeterProvider(), metrics.Sources{
		HistoryStats:  a.store.Stats,
		BlacklistSize: a.ipset.Len,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	service := fraud.NewService(a.store, a.ipset,
		fraud.WithMetrics(metrics.Recorders{registry, prometheusRecorder{}}),
		fraud.WithLogger(logger),
	)

	a.hub = websocket.NewSignalHub(zapLogger.Named("signal_feed"))
	a.hub.OnDrop = RecordFeedDrop

	routerCfg := rest.RouterConfig{
		Service:      service,
		Publisher:    a.hub,
		Health:       health,
		Metrics:      MetricsHandler(),
		SignalStream: websocket.NewHandler(a.hub, zapLogger.Named("signal_feed")),
		Instrument:   InstrumentHTTPHandler,
		RateLimit:    cfg.RateLimit,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	// the admin endpoints only exist when there is a shared store to write to
	if a.syncer != nil {
		routerCfg.Blacklist = a.syncer
	}

	a.router = rest.NewRouter(routerCfg)
	a.server = rest.NewServer(cfg.Server, a.router, logger)

	return a, nil
}

// Run serves until ctx is done and then shuts every component down
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.ListenAndServe()
	})

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return a.router.RunMaintenance(gctx)
	})

	if a.syncer != nil {
		g.Go(func() error {
			return a.syncer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.hub.Stop()
		if err := a.server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	})

	a.logger.Info("fraud signal service started",
		"addr", a.server.Addr(),
		"environment", a.cfg.Environment,
		"redis", a.cfg.Redis.Enabled,
		"blacklist_size", a.ipset.Len())

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases external connections
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
}
