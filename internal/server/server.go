// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New opens every backend, builds the
// services and handlers on top of them, and mounts the routes. Nothing below
// it knows about the others' concrete types.
//
// DEPENDENCY CHAIN:
//
//	sqlite.DB ──► services ──► handlers ──► chi routes
//	cache (Redis or in-memory) ─┘   │
//	events.Multi{live.Hub, NATS} ───┘
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/vibehub/internal/auth"
	"github.com/sakif/vibehub/internal/cache"
	"github.com/sakif/vibehub/internal/config"
	"github.com/sakif/vibehub/internal/events"
	"github.com/sakif/vibehub/internal/handler"
	"github.com/sakif/vibehub/internal/live"
	"github.com/sakif/vibehub/internal/metrics"
	"github.com/sakif/vibehub/internal/middleware"
	sqliteRepo "github.com/sakif/vibehub/internal/repository/sqlite"
	"github.com/sakif/vibehub/internal/service"
	"github.com/sakif/vibehub/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database, the websocket hub and the optional Redis
// and NATS connections. Close releases them; Start calls it on the way out.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	clock    clockwork.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db     *sqliteRepo.DB
	hub    *live.Hub
	redis  *cache.Redis // nil when REDIS_URL is unset or unreachable
	nats   *events.NATS // nil when NATS_URL is unset or unreachable
	tokens *auth.TokenService
}

// New opens every backend and wires the routes.
//
// Redis and NATS are optional: when configured but unreachable the server
// logs a warning and runs with the in-memory cache and without the event
// bus.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	clock := clockwork.NewRealClock()
	db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL, clock)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	reg := metrics.NewRegistry()
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		clock:    clock,
		registry: reg,
		metrics:  metrics.New(reg),
		db:       db,
		tokens:   tokens,
	}
	s.hub = live.NewHub(clock, logger, s.metrics.Live)

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Warn("redis unavailable, using in-memory cache", slog.String("error", err.Error()))
		} else {
			s.redis = rc
		}
	}
	if cfg.NATSURL != "" {
		nc, err := events.NewNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("nats unavailable, events stay in-process", slog.String("error", err.Error()))
		} else {
			s.nats = nc
		}
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler, traced by otelhttp.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, telemetry.ServiceName)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                   → dependency health
// GET    /metrics                   → Prometheus
// POST   /auth/signup|login|logout  → password sessions
// GET    /auth/github/*             → GitHub OAuth (only when configured)
// GET    /api/vibes, /api/vibes/{id}, /api/users/{id},
//        /api/leaderboard, /api/resonance  → public, optional auth
// *      /api/me, /api/me/vibes, POST|DELETE /api/vibes... → auth required
// GET    /ws/resonance              → websocket stream
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP first so the logger and the rate limiter see them;
// Recoverer inside the logger so a panic is logged as a 500.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(s.metrics.HTTP.Middleware)
	s.router.Use(chimiddleware.Recoverer)

	var store cache.Cache = cache.NewMemory(s.config.CacheTTL, s.clock)
	if s.redis != nil {
		store = s.redis
	}
	rt := cache.NewReadThrough(store, s.logger)
	rt.OnLookup = s.metrics.Cache.ObserveLookup

	publishers := events.Multi{s.hub}
	if s.nats != nil {
		publishers = append(publishers, s.nats)
	}

	authService := service.NewAuthService(s.db, s.tokens, auth.NewPasswordService(), s.clock, s.logger)
	vibeService := service.NewVibeService(s.db, s.db, rt, publishers, s.metrics.Vibes, s.clock, s.logger)
	voteService := service.NewVoteService(s.db, rt, publishers, s.metrics.Votes, s.clock, s.logger)
	userService := service.NewUserService(s.db, s.db, rt, s.logger)
	leaderboardService := service.NewLeaderboardService(s.db, s.db, rt, s.logger)

	var github *auth.GitHubProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL)
	}

	authHandler := handler.NewAuthHandler(authService, userService, github, s.tokens, s.config.CookieSecure, s.logger)
	vibeHandler := handler.NewVibeHandler(vibeService, voteService, s.logger)
	communityHandler := handler.NewCommunityHandler(userService, leaderboardService)
	liveHandler := handler.NewLiveHandler(s.hub, leaderboardService, s.logger)

	checks := map[string]handler.Pinger{"database": s.db}
	if s.redis != nil {
		checks["redis"] = s.redis
	}
	if s.nats != nil {
		checks["nats"] = s.nats
	}
	healthHandler := handler.NewHealthHandler(checks)

	voteLimiter := middleware.NewKeyedLimiter(s.config.VoteRate, s.config.VoteBurst, s.clock)
	byUser := func(r *http.Request) string {
		if id, ok := auth.UserIDFromContext(r.Context()); ok {
			return "user:" + id
		}
		return ""
	}

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler(s.registry))
	s.router.Get("/ws/resonance", liveHandler.HandleResonanceSocket)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignup)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(s.tokens))
			r.Get("/vibes", vibeHandler.HandleFeed)
			r.Get("/vibes/{id}", vibeHandler.HandleGet)
			r.Get("/users/{id}", communityHandler.HandleProfile)
			r.Get("/leaderboard", communityHandler.HandleLeaderboard)
			r.Get("/resonance", communityHandler.HandleResonance)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Put("/me", authHandler.HandleUpdateMe)
			r.Get("/me/vibes", vibeHandler.HandleMine)
			r.Post("/vibes", vibeHandler.HandleCreate)
			r.Delete("/vibes/{id}", vibeHandler.HandleDelete)
			r.With(middleware.RateLimit(voteLimiter, byUser)).
				Post("/vibes/{id}/vote", vibeHandler.HandleVote)
		})
	})
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the hub, event bus, cache and database (Close)
//
// Websocket connections are hijacked, so Shutdown does not wait for them;
// the hub closes them in step 3.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("redis", s.redis != nil),
			slog.Bool("nats", s.nats != nil),
			slog.Bool("github_oauth", s.config.GitHubEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases every backend and returns the joined errors.
func (s *Server) Close() error {
	s.hub.Stop()

	var errs []error
	if s.nats != nil {
		errs = append(errs, s.nats.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("closing backends", slog.String("error", err.Error()))
	}
	return err
}
