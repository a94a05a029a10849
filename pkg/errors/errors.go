// Package errors provides the domain error type shared by every chipdesk package.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Domain errors wrap one of these so callers can match on
// the category with Is without knowing the concrete type.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrConflict     = errors.New("conflicting operation in progress")
	ErrPrecondition = errors.New("precondition not met")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("upstream unavailable")
	ErrTimeout      = errors.New("operation timed out")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New creates a plain error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Error represents a domain error with additional context.
type Error struct {
	// Original is the wrapped cause.
	Original error
	// Domain is the package area the error comes from ("transaction", "chip", "api").
	Domain string
	// Code is a machine-readable error code.
	Code string
	// Message is a human-readable error message.
	Message string
	// Operation is the operation that failed ("SubmitAndAwait", "CreateChip").
	Operation string
	// Fields carries extra context for logging.
	Fields map[string]interface{}
}

// Error implements the error interface.
// Format: [Domain.Operation] Code=CODE: Message: Original
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString("[")
	if e.Domain != "" {
		sb.WriteString(e.Domain)
		if e.Operation != "" {
			sb.WriteString(".")
			sb.WriteString(e.Operation)
		}
	} else if e.Operation != "" {
		sb.WriteString(e.Operation)
	}
	sb.WriteString("] ")

	if e.Code != "" {
		sb.WriteString("Code=")
		sb.WriteString(e.Code)
		sb.WriteString(": ")
	}

	sb.WriteString(e.Message)

	if e.Original != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Original.Error())
	}

	return sb.String()
}

// Unwrap implements the errors.Unwrap contract.
func (e *Error) Unwrap() error {
	return e.Original
}

// Wrap wraps err with a message, keeping domain, code and operation if err
// is already a domain error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return &Error{
			Original:  domainErr.Original,
			Domain:    domainErr.Domain,
			Code:      domainErr.Code,
			Message:   message,
			Operation: domainErr.Operation,
			Fields:    domainErr.Fields,
		}
	}

	return &Error{Original: err, Message: message}
}

// WithField returns a copy of err carrying key=value in its Fields.
func WithField(err error, key string, value interface{}) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if !errors.As(err, &domainErr) {
		return &Error{Original: err, Fields: map[string]interface{}{key: value}}
	}

	fields := make(map[string]interface{}, len(domainErr.Fields)+1)
	for k, v := range domainErr.Fields {
		fields[k] = v
	}
	fields[key] = value

	copied := *domainErr
	copied.Fields = fields
	return &copied
}

// CodeOf returns the code of the first domain error in err's chain, or "".
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Sprintf is a convenience wrapper around fmt.Sprintf.
func Sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
