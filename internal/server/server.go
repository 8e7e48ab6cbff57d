// Package server provides the HTTP server and routing for QuantDesk.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/auth"
	"github.com/karanmehta/quantdesk/internal/cache"
	"github.com/karanmehta/quantdesk/internal/config"
	"github.com/karanmehta/quantdesk/internal/database"
	"github.com/karanmehta/quantdesk/internal/marketdata"
	"github.com/karanmehta/quantdesk/internal/orders"
	"github.com/karanmehta/quantdesk/internal/portfolio"
	"github.com/karanmehta/quantdesk/internal/reliability"
	"github.com/karanmehta/quantdesk/internal/scheduler"
	"github.com/karanmehta/quantdesk/internal/state"
)

// Config holds server configuration.
type Config struct {
	Log          zerolog.Logger
	Config       *config.Config
	CacheDB      *database.DB
	StateDB      *database.DB
	CacheStore   *cache.Store
	StateStore   *state.Store
	TokenManager *auth.Manager
	MarketData   *marketdata.Service
	Portfolio    *portfolio.Service
	Orders       *orders.Service
	Backup       *reliability.BackupService // nil when backups are disabled
	Scheduler    *scheduler.Scheduler
	Port         int
	DevMode      bool
}

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	cfg        *config.Config
	cacheDB    *database.DB
	stateDB    *database.DB
	cacheStore *cache.Store
	stateStore *state.Store
	tokens     *auth.Manager
	marketData *marketdata.Service
	portfolio  *portfolio.Service
	orders     *orders.Service
	backup     *reliability.BackupService
	sched      *scheduler.Scheduler
	jobs       map[string]scheduler.Job
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cfg:        cfg.Config,
		cacheDB:    cfg.CacheDB,
		stateDB:    cfg.StateDB,
		cacheStore: cfg.CacheStore,
		stateStore: cfg.StateStore,
		tokens:     cfg.TokenManager,
		marketData: cfg.MarketData,
		portfolio:  cfg.Portfolio,
		orders:     cfg.Orders,
		backup:     cfg.Backup,
		sched:      cfg.Scheduler,
		jobs:       map[string]scheduler.Job{},
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// RegisterJob makes a scheduled job triggerable via the API.
func (s *Server) RegisterJob(job scheduler.Job) {
	s.jobs[job.Name()] = job
}

// setupMiddleware configures middleware.
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/status", s.handleAuthStatus)
			r.Get("/authorization", s.handleAuthorizationInfo)
			r.Post("/token", s.handleStoreToken)
			r.Post("/logout", s.handleLogout)
		})

		r.Route("/capital", func(r chi.Router) {
			r.Get("/", s.handleCapitalState)
			r.Get("/history", s.handleCapitalHistory)
			r.Post("/initialize", s.handleInitializeCapital)
			r.Post("/adjust", s.handleAdjustCapital)
			r.Post("/allocate", s.handleAllocateCapital)
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/today", s.handleSessionToday)
			r.Get("/recent", s.handleRecentSessions)
			r.Post("/trade-result", s.handleTradeResult)
			r.Post("/circuit-breaker", s.handleCircuitBreaker)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/{category}", s.handleSettingsByCategory)
			r.Put("/{category}/{key}", s.handleSetSetting)
		})

		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/summary", s.handlePortfolioSummary)
			r.Get("/positions", s.handlePositions)
			r.Get("/holdings", s.handleHoldings)
			r.Get("/funds", s.handleFunds)
			r.Get("/pnl", s.handleUnrealizedPnL)
			r.Post("/refresh", s.handlePortfolioRefresh)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleOrderBook)
			r.Get("/pending", s.handlePendingOrders)
			r.Get("/summary", s.handleOrdersSummary)
			r.Get("/history", s.handleOrderHistory)
			r.Get("/trades", s.handleTradeBook)
			r.Get("/{orderID}", s.handleOrderStatus)
			r.Get("/{orderID}/trades", s.handleOrderTrades)
			r.Post("/audit", s.handleLogOrderAction)
		})

		r.Route("/market", func(r chi.Router) {
			r.Get("/quote", s.handleQuote)
			r.Get("/candles", s.handleCandles)
			r.Get("/returns", s.handleReturns)
			r.Get("/volatility", s.handleVolatility)
			r.Get("/indicators", s.handleIndicators)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
			r.Get("/cache/stats", s.handleCacheStats)
			r.Post("/cache/clear", s.handleCacheClear)
			r.Post("/cache/sweep", s.handleCacheSweep)
			r.Get("/database/stats", s.handleDatabaseStats)
			r.Get("/backups", s.handleListBackups)
			r.Post("/jobs/{name}", s.handleTriggerJob)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests, including a quick database
// check so load balancers see storage faults.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	databases := map[string]string{}
	for name, db := range map[string]*database.DB{"cache": s.cacheDB, "state": s.stateDB} {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(r.Context()); err != nil {
			databases[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			databases[name] = "ok"
		}
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"version":   "1.0.0",
		"service":   "quantdesk",
		"databases": databases,
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

// decodeBody decodes a JSON request body into dest.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
