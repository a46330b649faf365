package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentrun/agentrun/api/handlers"
	"github.com/agentrun/agentrun/approval"
	"github.com/agentrun/agentrun/config"
	"github.com/agentrun/agentrun/internal/database"
	"github.com/agentrun/agentrun/internal/metrics"
	"github.com/agentrun/agentrun/internal/server"
	"github.com/agentrun/agentrun/internal/telemetry"
	"github.com/agentrun/agentrun/jobs"
	"github.com/agentrun/agentrun/run"
	"github.com/agentrun/agentrun/store"
	"github.com/agentrun/agentrun/stream"
)

// Server wires every component together: persistence, the approval
// stack, the run orchestrator, and the HTTP/metrics listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	otelProviders *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector   *metrics.Collector
	store       *store.Store
	poolManager *database.PoolManager
	redisClient *redis.Client

	gate        *approval.Gate
	links       *approval.LinkStore
	coordinator *approval.Coordinator

	broker   *stream.Broker
	registry *jobs.Registry
	limiter  *jobs.UserLimiter

	orchestrator *run.Orchestrator

	// clientFactory constructs generation clients. When nil the run
	// endpoints are not registered; the approval surface still works.
	clientFactory run.ClientFactory
	titles        run.TitleGenerator

	rateLimiterCancel context.CancelFunc
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// WithClientFactory configures the generation engine and enables the run
// endpoints.
func (s *Server) WithClientFactory(factory run.ClientFactory, titles run.TitleGenerator) *Server {
	s.clientFactory = factory
	s.titles = titles
	return s
}

// Start brings up every component and both listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("agentrun", prometheus.DefaultRegisterer, s.logger)

	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	s.initApproval()
	s.initRun()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("run_endpoints_enabled", s.orchestrator != nil),
		zap.Bool("approval_links_enabled", s.links != nil),
	)
	return nil
}

func (s *Server) initStore() error {
	st, err := store.Open(store.Config{
		Driver: s.cfg.Database.Driver,
		DSN:    s.cfg.Database.DSN(),
	}, s.logger)
	if err != nil {
		return err
	}
	s.store = st

	pm, err := database.NewPoolManager(st.DB(), database.PoolConfig{
		MaxIdleConns:        s.cfg.Database.MaxIdleConns,
		MaxOpenConns:        s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
		HealthCheckInterval: database.DefaultPoolConfig().HealthCheckInterval,
	}, s.collector, s.logger)
	if err != nil {
		return err
	}
	s.poolManager = pm
	return nil
}

func (s *Server) initApproval() {
	s.gate = approval.NewGate(s.cfg.Approval.Deadline, s.logger)

	if s.cfg.Redis.Addr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		s.links = approval.NewLinkStore(s.redisClient, s.cfg.Redis.KeyPrefix, s.cfg.Approval.LinkTTL, s.logger)
	} else {
		s.logger.Info("Redis not configured, approval links disabled (inline approvals only)")
	}

	s.coordinator = approval.NewCoordinator(s.gate, s.links, s.logger)
}

func (s *Server) initRun() {
	s.broker = stream.NewBroker(s.logger)
	s.registry = jobs.NewRegistry(s.broker, s.logger)
	s.limiter = jobs.NewUserLimiter(s.cfg.Run.MaxPendingPerUser)

	if s.clientFactory == nil {
		s.logger.Info("Generation client factory not configured, run endpoints disabled")
		return
	}

	s.orchestrator = run.NewOrchestrator(
		s.registry, s.broker, s.store, s.limiter,
		s.clientFactory, s.titles, s.collector,
		run.Config{
			SubscriberGrace: s.cfg.Run.SubscriberGrace,
			HeadlessGrace:   s.cfg.Run.HeadlessGrace,
			TitleTimeout:    s.cfg.Run.TitleTimeout,
		},
		s.logger,
	)
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewPingCheck("conversations", s.store.Ping))
	if s.links != nil {
		healthHandler.RegisterCheck(handlers.NewPingCheck("approval_links", s.links.Ping))
	}

	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	approvalHandler := handlers.NewApprovalHandler(s.coordinator, s.collector, s.logger)
	mux.HandleFunc("/api/v1/pending-approval", approvalHandler.HandleGetPendingApproval)
	mux.HandleFunc("/api/v1/tool-confirmation", approvalHandler.HandleToolConfirmation)

	if s.orchestrator != nil {
		runHandler := handlers.NewRunHandler(s.orchestrator, s.registry, s.broker, s.logger)
		mux.HandleFunc("/api/v1/runs", runHandler.HandleStart)
		mux.HandleFunc("/api/v1/runs/events", runHandler.HandleEvents)
		mux.HandleFunc("/api/v1/runs/cancel", runHandler.HandleCancel)
		mux.HandleFunc("/api/v1/runs/cancel-all", runHandler.HandleCancelAll)
		mux.HandleFunc("/api/v1/runs/active", runHandler.HandleActive)
		s.logger.Info("Run API routes registered")
	}

	skipAuthPaths := []string{"/health", "/ready", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimit, s.cfg.Server.RateBurst, s.logger),
		JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a shutdown signal arrives, then tears the
// server down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners and releases every component.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.registry != nil {
		s.registry.Close()
	}
	if s.broker != nil {
		s.broker.Close()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.poolManager != nil {
		if err := s.poolManager.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
