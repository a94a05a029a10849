package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cmatc13/chipdesk/internal/events"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/health"
	"github.com/cmatc13/chipdesk/pkg/logging"
	"github.com/cmatc13/chipdesk/pkg/metrics"
	"github.com/cmatc13/chipdesk/pkg/service"
)

// ServiceName is the registry name of the HTTP API.
const ServiceName = "chip-api"

// APIService wraps the API server as a Service
type APIService struct {
	server           *Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics

	mu         sync.RWMutex
	status     service.Status
	serveErr   error
	uptimeDone chan struct{}
}

// NewAPIService creates a new API service
func NewAPIService(cfg *config.Config, desk Desk, logger *logging.Logger, metricsCollector *metrics.Metrics, healthRegistry *health.Registry) *APIService {
	s := &APIService{
		server:           NewServer(cfg, desk, logger, metricsCollector, healthRegistry),
		logger:           logger,
		metricsCollector: metricsCollector,
		status:           service.StatusStopped,
	}

	healthRegistry.Register(ServiceName, health.ServiceChecker(ServiceName, func(ctx context.Context) error {
		return s.Health()
	}))

	return s
}

// Name returns the service name
func (s *APIService) Name() string {
	return ServiceName
}

// Server returns the wrapped HTTP server.
func (s *APIService) Server() *Server {
	return s.server
}

// Start initializes and starts the service
func (s *APIService) Start(ctx context.Context) error {
	s.setStatus(service.StatusStarting, nil)
	s.logger.Info("Starting API service")

	go func() {
		if err := s.server.Start(); err != nil {
			s.setStatus(service.StatusError, err)
		}
	}()

	s.metricsCollector.ServiceLastStarted.Set(float64(time.Now().Unix()))
	s.uptimeDone = make(chan struct{})
	s.metricsCollector.RecordUptime(s.uptimeDone)

	s.setStatus(service.StatusRunning, nil)
	s.logger.Info("API service started successfully")
	return nil
}

// Stop gracefully shuts down the service
func (s *APIService) Stop(ctx context.Context) error {
	s.setStatus(service.StatusStopping, nil)
	s.logger.Info("Stopping API service")

	err := s.server.Shutdown(ctx)
	if s.uptimeDone != nil {
		close(s.uptimeDone)
		s.uptimeDone = nil
	}

	s.setStatus(service.StatusStopped, nil)
	s.logger.Info("API service stopped")
	return err
}

// Status returns the current service status
func (s *APIService) Status() service.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Health performs a health check
func (s *APIService) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.serveErr != nil {
		return fmt.Errorf("server failed: %w", s.serveErr)
	}
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *APIService) Dependencies() []string {
	return []string{events.ServiceName}
}

func (s *APIService) setStatus(status service.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A listen failure sticks until the next Start.
	if s.serveErr != nil && status == service.StatusRunning {
		return
	}
	s.status = status
	if err != nil || status == service.StatusStarting {
		s.serveErr = err
	}
}
