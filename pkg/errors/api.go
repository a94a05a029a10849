package errors

import "net/http"

// API error codes
const (
	// APIErrBadRequest indicates a malformed request body or parameter
	APIErrBadRequest = "API_BAD_REQUEST"
	// APIErrUnauthorized indicates a missing or invalid token
	APIErrUnauthorized = "API_UNAUTHORIZED"
	// APIErrNotFound indicates a resource was not found
	APIErrNotFound = "API_NOT_FOUND"
	// APIErrRateLimitExceeded indicates a rate limit was exceeded
	APIErrRateLimitExceeded = "API_RATE_LIMIT_EXCEEDED"
	// APIErrInternalServer indicates an internal server error
	APIErrInternalServer = "API_INTERNAL_SERVER"
)

// API domain name
const APIDomain = "api"

// NewAPIError creates a new API error
func NewAPIError(code string, message string, err error) error {
	return &Error{
		Domain:   APIDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// HTTPStatus maps any error produced by chipdesk to an HTTP status code.
// Domain codes take precedence; otherwise the sentinel category decides.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch CodeOf(err) {
	case APIErrBadRequest:
		return http.StatusBadRequest
	case APIErrUnauthorized:
		return http.StatusUnauthorized
	case APIErrNotFound, ChipErrWalletNotFound:
		return http.StatusNotFound
	case APIErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case ChipErrNoWallet, ChipErrPermissionRequired:
		return http.StatusPreconditionFailed
	case ChipErrMissingCredentials:
		return http.StatusServiceUnavailable
	case TransactionErrSubmission:
		return http.StatusBadGateway
	case TransactionErrTimeout:
		return http.StatusAccepted
	case TransactionErrBusy, TransactionErrHandleInUse:
		return http.StatusConflict
	}

	switch {
	case Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrConflict):
		return http.StatusConflict
	case Is(err, ErrPrecondition):
		return http.StatusPreconditionFailed
	case Is(err, ErrTimeout):
		return http.StatusAccepted
	case Is(err, ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
