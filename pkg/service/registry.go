package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cmatc13/chipdesk/pkg/logging"
)

// Registry manages all services and their lifecycle
type Registry struct {
	services     map[string]Service
	mutex        sync.RWMutex
	logger       *logging.Logger
	healthPoll   time.Duration
	healthExpiry time.Duration
}

// NewRegistry creates a new service registry
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		services:     make(map[string]Service),
		logger:       logger,
		healthPoll:   500 * time.Millisecond,
		healthExpiry: 30 * time.Second,
	}
}

// WithHealthWait overrides how often and how long StartAll waits for a
// freshly started service to report healthy.
func (r *Registry) WithHealthWait(poll, expiry time.Duration) *Registry {
	r.healthPoll = poll
	r.healthExpiry = expiry
	return r
}

// Register adds a service to the registry
func (r *Registry) Register(svc Service) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := svc.Name()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	r.services[name] = svc
	r.logger.Info("Service registered", "service", name)
	return nil
}

// Get returns a service by name
func (r *Registry) Get(name string) (Service, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	svc, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("service %s not found", name)
	}

	return svc, nil
}

// StartAll starts all services in dependency order
func (r *Registry) StartAll(ctx context.Context) error {
	order, err := r.order()
	if err != nil {
		return err
	}

	for _, name := range order {
		svc, _ := r.Get(name)
		r.logger.Info("Starting service", "service", name)

		if err := svc.Start(ctx); err != nil {
			r.logger.Error("Failed to start service", "service", name, "error", err)
			return fmt.Errorf("failed to start service %s: %w", name, err)
		}

		if err := r.waitForHealth(ctx, svc); err != nil {
			return err
		}
	}

	return nil
}

// StopAll stops all services in reverse dependency order. Errors are logged
// and the remaining services are still stopped.
func (r *Registry) StopAll(ctx context.Context) error {
	order, err := r.order()
	if err != nil {
		return err
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		svc, _ := r.Get(order[i])
		r.logger.Info("Stopping service", "service", order[i])

		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("Error stopping service", "service", order[i], "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to stop service %s: %w", order[i], err)
			}
		}
	}

	return firstErr
}

// HealthCheck performs health checks on all services
func (r *Registry) HealthCheck() map[string]error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	results := make(map[string]error, len(r.services))
	for name, svc := range r.services {
		results[name] = svc.Health()
	}

	return results
}

func (r *Registry) order() ([]string, error) {
	r.mutex.RLock()
	graph := make(map[string][]string, len(r.services))
	for name, svc := range r.services {
		graph[name] = svc.Dependencies()
	}
	r.mutex.RUnlock()

	order, err := topologicalSort(graph)
	if err != nil {
		return nil, fmt.Errorf("dependency cycle detected: %w", err)
	}
	return order, nil
}

// waitForHealth waits for a service to become healthy
func (r *Registry) waitForHealth(ctx context.Context, svc Service) error {
	if svc.Health() == nil {
		return nil
	}

	ticker := time.NewTicker(r.healthPoll)
	defer ticker.Stop()

	timeout := time.NewTimer(r.healthExpiry)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("timeout waiting for service %s to become healthy", svc.Name())
		case <-ticker.C:
			if err := svc.Health(); err == nil {
				return nil
			}
		}
	}
}

// topologicalSort returns service names so that every service comes after
// its dependencies. Ties are broken by name so start order is stable.
func topologicalSort(graph map[string][]string) ([]string, error) {
	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	order := make([]string, 0, len(graph))

	var visit func(node string) error
	visit = func(node string) error {
		if onStack[node] {
			return fmt.Errorf("dependency cycle detected involving service %s", node)
		}
		if visited[node] {
			return nil
		}

		onStack[node] = true
		for _, dep := range graph[node] {
			// External dependencies are not managed here.
			if _, exists := graph[dep]; !exists {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		onStack[node] = false
		visited[node] = true

		order = append(order, node)
		return nil
	}

	for _, node := range names {
		if err := visit(node); err != nil {
			return nil, err
		}
	}

	return order, nil
}
