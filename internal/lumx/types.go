// Package lumx is a client for the custodial wallet and transaction API that
// executes chip contract calls on behalf of a wallet.
package lumx

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/cmatc13/chipdesk/pkg/errors"
)

// Wallet is a custodial account reference. It is replaced wholesale, never
// mutated in place.
type Wallet struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// Operation is a single contract call inside a custom transaction.
type Operation struct {
	FunctionSignature string        `json:"functionSignature"`
	ArgumentsValues   []interface{} `json:"argumentsValues"`
	// MessageValue is the wei attached to the call, omitted when nil.
	MessageValue *big.Int `json:"messageValue,omitempty"`
}

// TransactionRequest is the body of POST /transactions/custom. It is built
// fresh for every user action.
type TransactionRequest struct {
	WalletID        string      `json:"walletId"`
	ContractAddress string      `json:"contractAddress"`
	Operations      []Operation `json:"operations"`
}

// Validate checks the request carries everything the API needs.
func (r TransactionRequest) Validate() error {
	if strings.TrimSpace(r.WalletID) == "" {
		return fmt.Errorf("walletId is required: %w", errors.ErrInvalidInput)
	}
	if strings.TrimSpace(r.ContractAddress) == "" {
		return fmt.Errorf("contractAddress is required: %w", errors.ErrInvalidInput)
	}
	if len(r.Operations) == 0 {
		return fmt.Errorf("at least one operation is required: %w", errors.ErrInvalidInput)
	}
	for i, op := range r.Operations {
		if strings.TrimSpace(op.FunctionSignature) == "" {
			return fmt.Errorf("operation %d has no function signature: %w", i, errors.ErrInvalidInput)
		}
		if op.MessageValue != nil && op.MessageValue.Sign() < 0 {
			return fmt.Errorf("operation %d has a negative message value: %w", i, errors.ErrInvalidInput)
		}
	}
	return nil
}

// Handle identifies a submitted transaction. It is only a poll key.
type Handle struct {
	TransactionID string `json:"id"`
}

// Result is the body of GET /transactions/{id}. An empty hash means the
// transaction is still pending; the API exposes no failure state.
type Result struct {
	TransactionHash string `json:"transactionHash,omitempty"`
}

// Confirmed reports whether the result carries a transaction hash.
func (r Result) Confirmed() bool {
	return r.TransactionHash != ""
}

// SubmissionError is returned when POST /transactions/custom does not
// produce a transaction id. The caller decides whether to resubmit.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transaction submission rejected with HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transaction submission rejected with HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets callers match the category with errors.Is.
func (e *SubmissionError) Unwrap() error {
	return errors.ErrUnavailable
}

// StatusError is returned when any other endpoint answers with a non-2xx status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lumx %s failed: HTTP %d %s", e.Operation, e.StatusCode, e.Body)
}

// Unwrap lets callers match the category with errors.Is.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == 404 {
		return errors.ErrNotFound
	}
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return errors.ErrUnauthorized
	}
	return errors.ErrUnavailable
}

// ErrWalletNotFound is returned by GetWallet for unknown wallet ids.
var ErrWalletNotFound = errors.NewChipError(errors.ChipErrWalletNotFound, "wallet not found", errors.ErrNotFound)
