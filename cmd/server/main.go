package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/affiliate/affiliates"
	"github.com/liamcoop/affiliate/goals"
	"github.com/liamcoop/affiliate/internal/config"
	"github.com/liamcoop/affiliate/internal/logger"
	"github.com/liamcoop/affiliate/rules"
)

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Deps are the services the HTTP API is built on
type Deps struct {
	Tracker      *goals.Tracker
	Affiliates   *affiliates.Service
	Registry     *rules.Registry
	Metrics      *prometheus.Registry
	HealthChecks map[string]HealthCheck
}

type Server struct {
	tracker     *goals.Tracker
	affiliates  *affiliates.Service
	registry    *rules.Registry
	metrics     *prometheus.Registry
	httpMetrics *httpMetrics
	checks      map[string]HealthCheck
	router      *chi.Mux
}

// NewServer wires the routes over deps
func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewRegistry()
	}

	s := &Server{
		tracker:     deps.Tracker,
		affiliates:  deps.Affiliates,
		registry:    deps.Registry,
		metrics:     deps.Metrics,
		httpMetrics: newHTTPMetrics(deps.Metrics),
		checks:      deps.HealthChecks,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(s.httpMetrics.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	r.Get("/api/v1/rule-types", s.handleRuleTypes)

	r.Route("/api/v1/goals", func(r chi.Router) {
		r.Get("/", s.handleListGoals)
		r.Post("/", s.handleCreateGoal)

		r.Route("/{goalId}", func(r chi.Router) {
			r.Get("/", s.handleGetGoal)
			r.Put("/", s.handleUpdateGoal)
			r.Delete("/", s.handleDeleteGoal)
			r.Post("/eligibility", s.handleEligibility)
		})
	})

	r.Post("/api/v1/track", s.handleTrack)

	r.Route("/api/v1/affiliates", func(r chi.Router) {
		r.Post("/", s.handleSignup)
		r.Get("/{affiliateId}", s.handleGetAffiliate)
		r.Get("/{affiliateId}/referrals", s.handleListReferrals)
		r.Get("/{affiliateId}/credits", s.handleListCredits)
		r.Post("/{affiliateId}/invitations", s.handleInvite)
		r.Get("/{affiliateId}/invitations", s.handleListInvitations)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// buildDeps picks PostgreSQL and Redis when configured and in-memory
// implementations otherwise. The returned func releases connections.
func buildDeps(ctx context.Context, cfg *config.Config) (Deps, func(), error) {
	registry := rules.DefaultRegistry()

	policy, err := goals.ParsePolicy(cfg.EligibilityPolicy)
	if err != nil {
		return Deps{}, nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "affiliate_log_errors_total",
			Help: "Errors logged, including sampled-out ones",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "affiliate_log_warnings_total",
			Help: "Warnings logged, including sampled-out ones",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
	)
	goalMetrics := goals.NewMetrics(promRegistry)

	checks := make(map[string]HealthCheck)
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var goalStore goals.GoalStore = goals.NewInMemoryGoalStore()
	var affiliateStore affiliates.Store = affiliates.NewInMemoryStore()

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return Deps{}, nil, fmt.Errorf("failed to open database: %w", err)
		}
		closers = append(closers, func() { db.Close() })

		if err := db.PingContext(ctx); err != nil {
			cleanup()
			return Deps{}, nil, fmt.Errorf("failed to ping database: %w", err)
		}

		goalStore = goals.NewPostgresGoalStore(db)
		affiliateStore = affiliates.NewPostgresStore(db)
		checks["database"] = db.PingContext
		logger.Info("using PostgreSQL stores")
	} else {
		logger.Warn("DATABASE_URL not set, goals and affiliates are kept in memory")
	}

	cacheConfig := goals.CacheConfig{TTL: cfg.GoalCacheTTL}
	var cache goals.GoalsCache = goals.NewInMemoryGoalsCache(cacheConfig)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cleanup()
			return Deps{}, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			cleanup()
			return Deps{}, nil, fmt.Errorf("failed to ping redis: %w", err)
		}

		cache = goals.NewRedisGoalsCache(client, goals.DefaultRedisCacheKey, cacheConfig)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("using Redis goals cache", "ttl", cfg.GoalCacheTTL)
	}

	evaluator := goals.NewEvaluator(registry,
		goals.WithPolicy(policy),
		goals.WithMetrics(goalMetrics),
	)
	tracker := goals.NewTracker(goalStore, evaluator, registry,
		goals.WithCache(cache),
		goals.WithTrackerMetrics(goalMetrics),
	)
	affiliateService := affiliates.NewService(affiliateStore,
		affiliates.WithMultiLevel(cfg.MultiLevelReferrals),
		affiliates.WithCreditCounter(tracker),
	)

	return Deps{
		Tracker:      tracker,
		Affiliates:   affiliateService,
		Registry:     registry,
		Metrics:      promRegistry,
		HealthChecks: checks,
	}, cleanup, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	deps, cleanup, err := buildDeps(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to initialise services", "error", err)
	}
	defer cleanup()

	server := NewServer(deps)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"addr", cfg.Addr(),
			"policy", cfg.EligibilityPolicy,
			"multi_level_referrals", cfg.MultiLevelReferrals)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("log exporter shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
