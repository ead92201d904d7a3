package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/TP-Master1-GL/TERRABIA/pkg/database"
	"github.com/TP-Master1-GL/TERRABIA/pkg/health"
	"github.com/TP-Master1-GL/TERRABIA/pkg/httpclient"
	pkgkafka "github.com/TP-Master1-GL/TERRABIA/pkg/kafka"
	pkgmiddleware "github.com/TP-Master1-GL/TERRABIA/pkg/middleware"
	"github.com/TP-Master1-GL/TERRABIA/pkg/tracing"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/api"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/config"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/event"
	handler "github.com/TP-Master1-GL/TERRABIA/services/web/internal/handler/http"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/proxy"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository/memory"
	redisrepo "github.com/TP-Master1-GL/TERRABIA/services/web/internal/repository/redis"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/session"
)

// ProxyPrefix is where the marketplace API passthrough is mounted.
const ProxyPrefix = "/api/proxy"

// App wires together all dependencies and runs the web client server.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	registry       *session.Registry
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		tracerShutdown: tracerShutdown,
	}

	healthHandler := health.NewHandler()

	// Session snapshot storage.
	store, err := a.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	healthHandler.Register("session-store", store.Ping)

	// Marketplace API client.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.APITimeout
	httpCfg.MaxRetries = cfg.APIMaxRetries
	cbCfg := httpclient.DefaultCircuitBreakerConfig(api.ServiceName)
	cbCfg.Timeout = cfg.BreakerTimeout
	apiClient := api.NewClient(
		cfg.APIBaseURL,
		httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), cbCfg, logger),
		logger,
	)
	healthHandler.RegisterNonCritical("marketplace-api", func(ctx context.Context) error {
		u, err := url.Parse(apiClient.BaseURL())
		if err != nil {
			return fmt.Errorf("parse API base URL: %w", err)
		}
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", hostPort(u))
		if err != nil {
			return fmt.Errorf("marketplace API unreachable: %w", err)
		}
		_ = conn.Close()
		return nil
	})

	deps := session.Deps{
		API:    apiClient,
		Store:  store,
		Logger: logger,
	}

	// Session events are optional.
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		deps.Events = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Info("kafka brokers not configured, session events disabled")
	}

	a.registry = session.NewRegistry(deps, session.RegistryConfig{
		IdleTTL:        cfg.SessionIdleTTL,
		RestoreWait:    cfg.SessionRestoreWait,
		RestoreTimeout: cfg.APITimeout,
		MaxSessions:    cfg.SessionMaxActive,
	})

	apiProxy, err := proxy.New(proxy.Config{
		TargetURL:       cfg.APIBaseURL,
		Prefix:          ProxyPrefix,
		DialTimeout:     cfg.ProxyDialTimeout,
		ResponseTimeout: cfg.ProxyResponseTimeout,
		IdleTimeout:     cfg.ProxyIdleTimeout,
		MaxIdleConns:    cfg.ProxyMaxIdleConns,
	}, handler.SessionToken, logger)
	if err != nil {
		return nil, fmt.Errorf("init api proxy: %w", err)
	}

	corsCfg := pkgmiddleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(handler.RouterConfig{
		Registry:    a.registry,
		Marketplace: apiClient,
		Proxy:       apiProxy,
		Health:      healthHandler,
		Cookie: handler.CookieConfig{
			Name:   cfg.CookieName,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.SessionTTL,
		},
		CORS:                  corsCfg,
		FormAttemptsPerMinute: cfg.FormAttemptsPerMinute,
		FormAttemptsBurst:     cfg.FormAttemptsBurst,
		TrustedProxyCIDRs:     cfg.TrustedProxyCIDRs,
		MetricsAllowedCIDRs:   cfg.MetricsAllowedCIDRs,
		PprofAllowedCIDRs:     cfg.PprofAllowedCIDRs,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// sessionStore builds the configured snapshot store.
func (a *App) sessionStore(ctx context.Context) (repository.SessionStore, error) {
	if a.cfg.SessionStore != config.StoreRedis {
		a.logger.Warn("using in-memory session store, sessions do not survive a restart")
		return memory.NewSessionStore(a.cfg.SessionTTL), nil
	}

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Host = a.cfg.RedisHost
	redisCfg.Port = a.cfg.RedisPort
	redisCfg.Password = a.cfg.RedisPassword
	redisCfg.DB = a.cfg.RedisDB

	rdb, err := database.NewRedisClient(ctx, redisCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	prometheus.MustRegister(database.NewRedisPoolCollector(rdb, handler.ServiceName))
	a.rdb = rdb

	return redisrepo.NewSessionStore(rdb, a.cfg.SessionTTL), nil
}

// hostPort returns u's host with the scheme's default port filled in.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

// Run starts the HTTP server and the session eviction loop, and blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.registry.Run(ctx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application in order:
// 1. HTTP server (drain in-flight requests)
// 2. Session registry
// 3. Kafka producer (flush session events published by drained requests)
// 4. Redis client
// 5. Tracer
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.registry.Close()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
