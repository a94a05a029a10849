// Package health provides health check capabilities for the application.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cmatc13/chipdesk/pkg/logging"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusUp indicates the component is healthy.
	StatusUp Status = "UP"
	// StatusDown indicates the component is unhealthy.
	StatusDown Status = "DOWN"
	// StatusUnknown indicates the component's health is unknown.
	StatusUnknown Status = "UNKNOWN"
)

// Check represents a health check for a component.
type Check struct {
	Name        string
	Status      Status
	Message     string
	LastChecked time.Time
	Error       error
}

// MarshalJSON implements the json.Marshaler interface.
func (c Check) MarshalJSON() ([]byte, error) {
	var errorStr string
	if c.Error != nil {
		errorStr = c.Error.Error()
	}

	return json.Marshal(struct {
		Name        string    `json:"name"`
		Status      Status    `json:"status"`
		Message     string    `json:"message,omitempty"`
		LastChecked time.Time `json:"last_checked"`
		Error       string    `json:"error,omitempty"`
	}{
		Name:        c.Name,
		Status:      c.Status,
		Message:     c.Message,
		LastChecked: c.LastChecked,
		Error:       errorStr,
	})
}

// Checker defines a function that performs a health check.
type Checker func(ctx context.Context) Check

// Registry manages health checks for the application.
type Registry struct {
	checks map[string]Checker
	mutex  sync.RWMutex
	logger *logging.Logger
}

// NewRegistry creates a new health check registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		checks: make(map[string]Checker),
		logger: logger,
	}
}

// Register adds a health check to the registry.
func (r *Registry) Register(name string, checker Checker) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.checks[name] = checker
	r.logger.Debug("Registered health check", "name", name)
}

// RunChecks runs all registered health checks.
func (r *Registry) RunChecks(ctx context.Context) map[string]Check {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	results := make(map[string]Check, len(r.checks))
	for name, checker := range r.checks {
		results[name] = checker(ctx)
	}

	return results
}

// Overall folds individual results into one status: any DOWN wins, then UNKNOWN.
func Overall(checks map[string]Check) Status {
	status := StatusUp
	for _, check := range checks {
		if check.Status == StatusDown {
			return StatusDown
		}
		if check.Status == StatusUnknown {
			status = StatusUnknown
		}
	}
	return status
}

// Handler returns an HTTP handler for health checks.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		checks := r.RunChecks(req.Context())
		status := Overall(checks)

		response := struct {
			Status    Status           `json:"status"`
			Timestamp time.Time        `json:"timestamp"`
			Checks    map[string]Check `json:"checks"`
		}{
			Status:    status,
			Timestamp: time.Now(),
			Checks:    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			r.logger.Error("Failed to encode health check response", "error", err)
		}
	})
}

// ServiceChecker creates a health check for an in-process service.
func ServiceChecker(serviceName string, checkFn func(ctx context.Context) error) Checker {
	return newChecker(serviceName, "Service "+serviceName, checkFn)
}

// DependencyChecker creates a health check for an external dependency
// reachable at target (Redis address, Kafka brokers, API base URL).
func DependencyChecker(dependencyName, target string, checkFn func(ctx context.Context) error) Checker {
	return newChecker(dependencyName, fmt.Sprintf("Dependency %s at %s", dependencyName, target), checkFn)
}

func newChecker(name, subject string, checkFn func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		check := Check{
			Name:        name,
			Status:      StatusUnknown,
			LastChecked: time.Now(),
		}

		if err := checkFn(ctx); err != nil {
			check.Status = StatusDown
			check.Error = err
			check.Message = fmt.Sprintf("%s is unhealthy: %v", subject, err)
		} else {
			check.Status = StatusUp
			check.Message = fmt.Sprintf("%s is healthy", subject)
		}

		return check
	}
}
