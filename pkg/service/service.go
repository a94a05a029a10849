// Package service defines the lifecycle contract for long-running chipdesk
// components and a registry that starts and stops them in dependency order.
package service

import (
	"context"
)

// Status represents the current state of a service.
type Status string

const (
	// StatusStopped indicates the service is not running.
	StatusStopped Status = "STOPPED"
	// StatusStarting indicates the service is in the process of starting.
	StatusStarting Status = "STARTING"
	// StatusRunning indicates the service is running normally.
	StatusRunning Status = "RUNNING"
	// StatusStopping indicates the service is in the process of stopping.
	StatusStopping Status = "STOPPING"
	// StatusError indicates the service encountered an error.
	StatusError Status = "ERROR"
)

// Service is implemented by every component the registry manages.
type Service interface {
	// Name returns the unique service name.
	Name() string

	// Start must not block; long-running work goes into goroutines.
	Start(ctx context.Context) error

	// Stop releases resources and waits for in-flight work up to ctx's deadline.
	Stop(ctx context.Context) error

	// Status returns the current service status.
	Status() Status

	// Health returns nil when the service is functioning.
	Health() error

	// Dependencies lists services that must be started first.
	Dependencies() []string
}
