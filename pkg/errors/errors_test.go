package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormat(t *testing.T) {
	err := &Error{
		Domain:    TransactionDomain,
		Operation: OpSubmit,
		Code:      TransactionErrSubmission,
		Message:   "rejected",
		Original:  ErrUnavailable,
	}

	assert.Equal(t, "[transaction.Submit] Code=TRANSACTION_SUBMISSION_REJECTED: rejected: upstream unavailable", err.Error())
	assert.True(t, Is(err, ErrUnavailable))
}

func TestWrapKeepsDomainAndCode(t *testing.T) {
	base := NewChipError(ChipErrInvalidAddress, "bad address", ErrInvalidInput)
	wrapped := Wrap(base, "create chip")

	var domainErr *Error
	require.True(t, As(wrapped, &domainErr))
	assert.Equal(t, ChipDomain, domainErr.Domain)
	assert.Equal(t, ChipErrInvalidAddress, domainErr.Code)
	assert.Equal(t, "create chip", domainErr.Message)
	assert.True(t, Is(wrapped, ErrInvalidInput))
}

func TestWithFieldCopies(t *testing.T) {
	base := NewTransactionError(TransactionErrTimeout, "timed out", ErrTimeout)
	withID := WithField(base, "transaction_id", "tx-1")

	var original, copied *Error
	require.True(t, As(base, &original))
	require.True(t, As(withID, &copied))
	assert.Nil(t, original.Fields)
	assert.Equal(t, "tx-1", copied.Fields["transaction_id"])
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"submission", NewTransactionError(TransactionErrSubmission, "", ErrUnavailable), http.StatusBadGateway},
		{"timeout", NewTransactionError(TransactionErrTimeout, "", ErrTimeout), http.StatusAccepted},
		{"busy", NewTransactionError(TransactionErrBusy, "", ErrConflict), http.StatusConflict},
		{"no wallet", NewChipError(ChipErrNoWallet, "", ErrPrecondition), http.StatusPreconditionFailed},
		{"credentials", NewChipError(ChipErrMissingCredentials, "", ErrPrecondition), http.StatusServiceUnavailable},
		{"validation", NewChipError(ChipErrInvalidData, "", ErrInvalidInput), http.StatusBadRequest},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrNotFound), http.StatusNotFound},
		{"unknown", New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}
