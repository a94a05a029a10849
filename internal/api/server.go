// Package api exposes the chip desk over a JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth/v5"

	"github.com/cmatc13/chipdesk/internal/chip"
	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/internal/txflow"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/health"
	"github.com/cmatc13/chipdesk/pkg/logging"
	"github.com/cmatc13/chipdesk/pkg/metrics"
)

const (
	serviceLabel   = "api"
	maxRequestBody = 1 << 16

	unresolvedMessage = "transaction state unknown; it may still complete"
)

// Desk is the session the API drives.
type Desk interface {
	Connect(ctx context.Context, id string) (lumx.Wallet, error)
	Wallet() (lumx.Wallet, bool)
	CreateChip(ctx context.Context, in chip.CreateInput) (chip.Receipt, error)
	BuyChip(ctx context.Context, in chip.BuyInput) (chip.Receipt, error)
	SetPermission(ctx context.Context, in chip.PermissionInput) (chip.Receipt, error)
	TransferChip(ctx context.Context, in chip.TransferInput) (chip.Receipt, error)
	CreatedChips() []int64
	GrantedChips() []int64
	States() map[chip.Feature]txflow.State
}

// Server represents the API server
type Server struct {
	config           *config.Config
	router           *chi.Mux
	desk             Desk
	tokenAuth        *jwtauth.JWTAuth
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, desk Desk, logger *logging.Logger, metricsCollector *metrics.Metrics, healthRegistry *health.Registry) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:           cfg,
		router:           r,
		desk:             desk,
		logger:           logger,
		metricsCollector: metricsCollector,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:              ":" + cfg.API.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.Auth.JWTSecret != "" {
		s.tokenAuth = jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(SecureHeaders)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware(s.metricsCollector, serviceLabel))
	s.router.Use(RecovererWithMetrics(s.logger, s.metricsCollector, serviceLabel))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metricsCollector.Handler())

	s.router.Route("/"+s.config.API.Version, func(r chi.Router) {
		if s.tokenAuth != nil {
			r.Use(jwtauth.Verifier(s.tokenAuth))
			r.Use(jwtauth.Authenticator)
		}

		r.Get("/wallet", s.handleGetWallet)
		r.Get("/chips", s.handleListChips)
		r.Get("/operations", s.handleOperations)

		// Writes reach the remote API and hold a poll loop.
		r.Group(func(r chi.Router) {
			if s.config.API.RateLimit > 0 {
				r.Use(httprate.LimitByIP(s.config.API.RateLimit, time.Minute))
			}
			r.Use(RequireJSON(s.logger))

			r.Post("/wallet", s.handleConnectWallet)
			r.Post("/chips", s.handleCreateChip)
			r.Post("/chips/{id}/buy", s.handleBuyChip)
			r.Post("/chips/{id}/permission", s.handleSetPermission)
			r.Post("/chips/{id}/transfer", s.handleTransferChip)
		})
	})
}

// Start starts the API server. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "port", s.config.API.Port)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Error starting server", "error", err)
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("API server shutdown complete")
	return nil
}

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.healthRegistry.RunChecks(r.Context())
	status := health.Overall(checks)

	httpStatus := http.StatusOK
	if status == health.StatusDown {
		httpStatus = http.StatusServiceUnavailable
	}

	resp := Response{
		Success: status == health.StatusUp,
		Message: "Service health status: " + string(status),
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().Unix(),
			"version":   s.config.API.Version,
			"checks":    checks,
			"system": map[string]interface{}{
				"go_version":    runtime.Version(),
				"go_goroutines": runtime.NumGoroutine(),
			},
		},
	}

	s.renderJSON(w, resp, httpStatus)
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.renderError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// chipID parses the {id} path parameter.
func (s *Server) chipID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		s.renderError(w, "Chip id must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// renderOutcome renders the result of a chip operation.
func (s *Server) renderOutcome(w http.ResponseWriter, receipt chip.Receipt, err error) {
	if err == nil {
		s.renderJSON(w, Response{Success: true, Message: "Transaction confirmed", Data: receipt}, http.StatusOK)
		return
	}

	status := errors.HTTPStatus(err)
	switch status {
	case http.StatusAccepted:
		s.renderJSON(w, Response{Success: false, Message: unresolvedMessage, Data: receipt}, status)
		return
	case http.StatusBadGateway:
		var subErr *txflow.SubmissionError
		if errors.As(err, &subErr) {
			s.metricsCollector.RecordError(serviceLabel, "upstream", strconv.Itoa(subErr.StatusCode))
			s.renderJSON(w, Response{
				Success: false,
				Error:   err.Error(),
				Data:    map[string]interface{}{"upstreamStatus": subErr.StatusCode},
			}, status)
			return
		}
	}

	s.renderError(w, err.Error(), status)
}

// renderJSON renders a JSON response
func (s *Server) renderJSON(w http.ResponseWriter, data interface{}, status int) {
	writeJSON(s.logger, w, data, status)
}

// renderError renders an error response
func (s *Server) renderError(w http.ResponseWriter, message string, status int) {
	s.metricsCollector.RecordError(serviceLabel, "http", strconv.Itoa(status))
	s.renderJSON(w, Response{Success: false, Error: message}, status)
}

func writeJSON(logger *logging.Logger, w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response", "error", err)
	}
}
