package events

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/logging"
	"github.com/cmatc13/chipdesk/pkg/metrics"
	"github.com/cmatc13/chipdesk/pkg/service"
)

// ServiceName is the registry name of the outcome publisher.
const ServiceName = "tx-events"

// NewPublisher returns a Kafka publisher, or Noop when no brokers are configured.
func NewPublisher(cfg config.KafkaConfig, logger *logging.Logger, m *metrics.Metrics) (Publisher, error) {
	if strings.TrimSpace(cfg.Brokers) == "" {
		logger.Info("No Kafka brokers configured, outcome events disabled")
		return Noop{}, nil
	}
	return NewKafkaPublisher(cfg, logger, m)
}

// PublisherService wraps a Publisher as a Service
type PublisherService struct {
	publisher Publisher

	mu     sync.RWMutex
	status service.Status
}

// NewPublisherService creates a new publisher service
func NewPublisherService(publisher Publisher) *PublisherService {
	return &PublisherService{
		publisher: publisher,
		status:    service.StatusStopped,
	}
}

// Name returns the service name
func (s *PublisherService) Name() string {
	return ServiceName
}

// Publisher returns the wrapped publisher.
func (s *PublisherService) Publisher() Publisher {
	return s.publisher
}

// Start checks the backend is reachable and marks the service running
func (s *PublisherService) Start(ctx context.Context) error {
	s.setStatus(service.StatusStarting)

	if err := s.publisher.Ping(ctx); err != nil {
		s.setStatus(service.StatusError)
		return fmt.Errorf("outcome publisher unreachable: %w", err)
	}

	s.setStatus(service.StatusRunning)
	return nil
}

// Stop flushes and closes the publisher
func (s *PublisherService) Stop(ctx context.Context) error {
	s.setStatus(service.StatusStopping)
	err := s.publisher.Close()
	s.setStatus(service.StatusStopped)
	return err
}

// Status returns the current service status
func (s *PublisherService) Status() service.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Health performs a health check
func (s *PublisherService) Health() error {
	if s.Status() != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *PublisherService) Dependencies() []string {
	return []string{}
}

func (s *PublisherService) setStatus(status service.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}
