// Package api exposes the delivery coordination service over HTTP: JSON
// endpoints for the views and operator actions, a websocket stream of view
// changes, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/inteldesk/pkg/delivery"
	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/logging"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
)

// Coordinator is the part of the delivery service the API drives.
type Coordinator interface {
	SubscribeForOperation(operationID string) error
	UnsubscribeForOperation(operationID string) error
	SubscribedOperations() []string

	OpenDeliveries() delivery.View
	OpenDeliveriesByImportance() delivery.View
	OpenDeliveriesByAge() delivery.View
	Selected() *intel.DetailedOpenIntelDelivery

	OpenDeliveriesChange() (<-chan delivery.View, func())
	OpenDeliveriesByImportanceChange() (<-chan delivery.View, func())
	OpenDeliveriesByAgeChange() (<-chan delivery.View, func())
	SelectedChange() (<-chan *intel.DetailedOpenIntelDelivery, func())

	Select(deliveryID string) bool
	RemoveDeliveryAndSelectNext(deliveryID string) bool
	ScheduleAttemptAndSelectNext(ctx context.Context, deliveryID, channelID string) error
	CancelAndSelectNext(ctx context.Context, deliveryID string, success bool, note string) error
}

var _ Coordinator = (*delivery.Service)(nil)

// Server is the inteldesk API server.
type Server struct {
	coord      Coordinator
	cfg        ServerConfig
	log        *logging.Logger
	router     chi.Router
	httpServer *http.Server
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:8480)
	Address string

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// upgrades. Same-origin requests are always accepted.
	AllowedOrigins []string
}

// NewServer creates a new API server.
func NewServer(coord Coordinator, cfg ServerConfig, log *logging.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8480"
	}

	s := &Server{
		coord: coord,
		cfg:   cfg,
		log:   logging.OrNop(log).WithComponent("api"),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.withLogging)

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/operations", s.handleListOperations)
		r.Put("/operations/{operationID}/subscription", s.handleSubscribe)
		r.Delete("/operations/{operationID}/subscription", s.handleUnsubscribe)

		r.Get("/deliveries", s.handleDeliveries)
		r.Get("/deliveries/by-importance", s.handleDeliveriesByImportance)
		r.Get("/deliveries/by-age", s.handleDeliveriesByAge)
		r.Get("/selected", s.handleSelected)

		r.Post("/deliveries/{deliveryID}/select", s.handleSelect)
		r.Post("/deliveries/{deliveryID}/remove", s.handleRemove)
		r.Post("/deliveries/{deliveryID}/attempts", s.handleScheduleAttempt)
		r.Post("/deliveries/{deliveryID}/cancel", s.handleCancel)

		r.Get("/ws", s.handleStream)
	})
	s.router = router

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("api listening", "address", s.cfg.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		telemetry.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.log.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Helpers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Error: message})
}

type errorResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}
