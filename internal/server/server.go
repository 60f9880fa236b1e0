// Package server implements the REST surface (C9): a versioned JSON API for
// instances, watchlists, orders, positions, symbols, and polling control,
// plus the unversioned /healthz and /metrics operational endpoints.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jabez4jc/tradecontrol/internal/alerts"
	"github.com/jabez4jc/tradecontrol/internal/apierrors"
	"github.com/jabez4jc/tradecontrol/internal/broadcaster"
	"github.com/jabez4jc/tradecontrol/internal/database/repositories"
	"github.com/jabez4jc/tradecontrol/internal/domain"
	"github.com/jabez4jc/tradecontrol/internal/marketcache"
	"github.com/jabez4jc/tradecontrol/internal/polling"
	"github.com/jabez4jc/tradecontrol/internal/safeswitch"
	"github.com/jabez4jc/tradecontrol/internal/scheduler"
	"github.com/jabez4jc/tradecontrol/internal/selfhealth"
)

// ClientFactory returns a domain.BrokerClient bound to the given instance.
type ClientFactory func(domain.Instance) domain.BrokerClient

// Config wires every collaborator the REST surface dispatches to.
type Config struct {
	Port        int
	CORSOrigin  string
	DevMode     bool
	Log         zerolog.Logger
	Instances   *repositories.InstanceRepository
	Watchlists  *repositories.WatchlistRepository
	Orders      *repositories.OrderRepository
	Positions   *repositories.PositionRepository
	Cache       *marketcache.Cache
	Resolver    domain.ContractResolver
	NewClient   ClientFactory
	Broadcaster *broadcaster.Broadcaster
	SafeSwitch  *safeswitch.Coordinator
	AlertSink   *alerts.Sink
	Polling     *polling.Controller
	Health      *selfhealth.Checker
	MarketHours *scheduler.MarketHoursService
}

// Server is the HTTP front door for the control plane.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger

	instances   *instanceHandlers
	watchlists  *watchlistHandlers
	orders      *orderHandlers
	positions   *positionHandlers
	symbols     *symbolHandlers
	polling     *pollingHandlers
	health      *selfhealth.Checker
	marketHours *scheduler.MarketHoursService
}

// New constructs a Server and wires its routes. Call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		health:      cfg.Health,
		marketHours: cfg.MarketHours,
	}

	s.instances = &instanceHandlers{
		instances:  cfg.Instances,
		newClient:  cfg.NewClient,
		safeSwitch: cfg.SafeSwitch,
		log:        s.log.With().Str("handler", "instances").Logger(),
	}
	s.watchlists = &watchlistHandlers{
		watchlists:  cfg.Watchlists,
		instances:   cfg.Instances,
		broadcaster: cfg.Broadcaster,
		log:         s.log.With().Str("handler", "watchlists").Logger(),
	}
	s.orders = &orderHandlers{
		orders:    cfg.Orders,
		instances: cfg.Instances,
		newClient: cfg.NewClient,
		log:       s.log.With().Str("handler", "orders").Logger(),
	}
	s.positions = &positionHandlers{
		positions: cfg.Positions,
		instances: cfg.Instances,
		newClient: cfg.NewClient,
		alertSink: cfg.AlertSink,
		log:       s.log.With().Str("handler", "positions").Logger(),
	}
	s.symbols = &symbolHandlers{
		cache:    cfg.Cache,
		resolver: cfg.Resolver,
		log:      s.log.With().Str("handler", "symbols").Logger(),
	}
	s.polling = &pollingHandlers{polling: cfg.Polling, log: s.log.With().Str("handler", "polling").Logger()}

	s.setupMiddleware(cfg.CORSOrigin, cfg.DevMode)
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(corsOrigin string, devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.instances.list)
			r.Post("/", s.instances.create)
			r.Post("/test/connection", s.instances.testConnection)
			r.Post("/test/apikey", s.instances.testAPIKey)
			r.Get("/{id}", s.instances.get)
			r.Put("/{id}", s.instances.update)
			r.Delete("/{id}", s.instances.delete)
			r.Post("/{id}/refresh", s.instances.refresh)
			r.Post("/{id}/health", s.instances.checkHealth)
			r.Post("/{id}/pnl", s.instances.refreshPnL)
			r.Post("/{id}/analyzer/toggle", s.instances.toggleAnalyzer)
		})

		r.Route("/watchlists", func(r chi.Router) {
			r.Get("/", s.watchlists.list)
			r.Post("/", s.watchlists.create)
			r.Get("/{id}", s.watchlists.get)
			r.Put("/{id}", s.watchlists.update)
			r.Delete("/{id}", s.watchlists.delete)
			r.Post("/{id}/clone", s.watchlists.clone)
			r.Post("/{id}/place-orders", s.watchlists.placeOrders)

			r.Route("/{id}/symbols", func(r chi.Router) {
				r.Get("/", s.watchlists.listSymbols)
				r.Post("/", s.watchlists.createSymbol)
				r.Put("/{sid}", s.watchlists.updateSymbol)
				r.Delete("/{sid}", s.watchlists.deleteSymbol)
			})

			r.Route("/{id}/instances", func(r chi.Router) {
				r.Post("/", s.watchlists.bindInstances)
				r.Delete("/", s.watchlists.unbindInstances)
				r.Delete("/{iid}", s.watchlists.unbindInstance)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.orders.list)
			r.Post("/{id}/cancel", s.orders.cancel)
			r.Post("/cancel-all", s.orders.cancelAll)
		})

		r.Route("/positions", func(r chi.Router) {
			r.Get("/aggregate/pnl", s.positions.aggregatePnL)
			r.Get("/{instanceId}", s.positions.list)
			r.Get("/{instanceId}/pnl", s.positions.pnl)
			r.Post("/{instanceId}/close", s.positions.closeAll)
		})

		r.Route("/symbols", func(r chi.Router) {
			r.Get("/search", s.symbols.search)
			r.Post("/validate", s.symbols.validate)
			r.Post("/quotes", s.symbols.quotes)
		})

		r.Get("/market-hours", s.handleMarketHours)

		r.Route("/polling", func(r chi.Router) {
			r.Get("/status", s.polling.status)
			r.Post("/start", s.polling.startOrders)
			r.Post("/stop", s.polling.stopOrders)
			r.Post("/market-data/start", s.polling.startMarketData)
			r.Post("/market-data/stop", s.polling.stopMarketData)
		})
	})
}

func (s *Server) handleMarketHours(w http.ResponseWriter, r *http.Request) {
	if s.marketHours == nil {
		writeJSON(w, s.log, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, s.log, http.StatusOK, s.marketHours.GetAllMarketStatuses())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}

// Start begins serving; it blocks until the listener exits.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("server starting")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// writeJSON and writeError are thin aliases kept local so handler files read
// naturally without repeating the apierrors package qualifier everywhere.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	apierrors.WriteJSON(w, log, status, data)
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	apierrors.WriteError(w, log, err)
}

// decodeJSON decodes a request body, wrapping any failure as a VALIDATION error.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apierrors.Validation("request body is required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierrors.Wrap(apierrors.KindValidation, "invalid request body", err)
	}
	return nil
}
