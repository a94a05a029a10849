package errors

// Transaction error codes
const (
	// TransactionErrSubmission indicates the remote API rejected a submission
	TransactionErrSubmission = "TRANSACTION_SUBMISSION_REJECTED"
	// TransactionErrTimeout indicates no hash was observed before the deadline
	TransactionErrTimeout = "TRANSACTION_TIMEOUT"
	// TransactionErrPollRead indicates a single status read failed
	TransactionErrPollRead = "TRANSACTION_POLL_READ"
	// TransactionErrHandleInUse indicates a poll loop already owns the transaction id
	TransactionErrHandleInUse = "TRANSACTION_HANDLE_IN_USE"
	// TransactionErrInvalidTransition indicates an illegal feature state change
	TransactionErrInvalidTransition = "TRANSACTION_INVALID_TRANSITION"
	// TransactionErrBusy indicates the feature already has a transaction in flight
	TransactionErrBusy = "TRANSACTION_BUSY"
	// TransactionErrAborted indicates the caller abandoned the wait
	TransactionErrAborted = "TRANSACTION_ABORTED"
	// TransactionErrLease indicates the lease store could not be reached
	TransactionErrLease = "TRANSACTION_LEASE_UNAVAILABLE"
	// TransactionErrPublish indicates an outcome event could not be published
	TransactionErrPublish = "TRANSACTION_PUBLISH"
)

// Transaction domain name
const TransactionDomain = "transaction"

// Transaction operations
const (
	OpSubmitAndAwait  = "SubmitAndAwait"
	OpSubmit          = "Submit"
	OpPoll            = "Poll"
	OpAcquireLease    = "AcquireLease"
	OpTransition      = "Transition"
	OpPublishOutcome  = "PublishOutcome"
	OpCreateWallet    = "CreateWallet"
	OpGetWallet       = "GetWallet"
	OpGetTransaction  = "GetTransaction"
	OpSubmitCustomTxn = "SubmitCustom"
)

// NewTransactionError creates a new transaction error
func NewTransactionError(code string, message string, err error) error {
	return &Error{
		Domain:   TransactionDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// TransactionWrap wraps an error with transaction domain, operation and code
func TransactionWrap(err error, operation string, code string, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Domain:    TransactionDomain,
		Operation: operation,
		Code:      code,
		Message:   message,
		Original:  err,
	}
}

// IsTransactionError checks if an error is a transaction error with the given code
func IsTransactionError(err error, code string) bool {
	var domainErr *Error
	if As(err, &domainErr) {
		return domainErr.Domain == TransactionDomain && domainErr.Code == code
	}
	return false
}
