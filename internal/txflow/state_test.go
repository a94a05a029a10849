package txflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/chipdesk/pkg/errors"
)

func TestNextTransitions(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	polling := State{Kind: KindPolling, TransactionID: "tx-1"}

	tests := []struct {
		name string
		from State
		ev   Event
		want State
	}{
		{"submit from zero value", State{}, Event{Type: EventSubmit}, State{Kind: KindSubmitting}},
		{"submit from idle", State{Kind: KindIdle}, Event{Type: EventSubmit}, State{Kind: KindSubmitting}},
		{"resubmit after success", State{Kind: KindSucceeded, Hash: "0x1"}, Event{Type: EventSubmit}, State{Kind: KindSubmitting}},
		{"resubmit after failure", State{Kind: KindFailed}, Event{Type: EventSubmit}, State{Kind: KindSubmitting}},
		{"resubmit after timeout", State{Kind: KindTimedOut}, Event{Type: EventSubmit}, State{Kind: KindSubmitting}},
		{"accepted", State{Kind: KindSubmitting}, Event{Type: EventAccepted, TransactionID: "tx-1"}, polling},
		{"rejected", State{Kind: KindSubmitting}, Event{Type: EventRejected, Reason: "HTTP 500"}, State{Kind: KindFailed, Reason: "HTTP 500"}},
		{"confirmed", polling, Event{Type: EventConfirmed, Hash: "0xabc"}, State{Kind: KindSucceeded, TransactionID: "tx-1", Hash: "0xabc"}},
		{"expired", polling, Event{Type: EventExpired}, State{Kind: KindTimedOut, TransactionID: "tx-1", Reason: "transaction state unknown; it may still complete"}},
		{"aborted while polling", polling, Event{Type: EventAborted, Reason: "stop"}, State{Kind: KindFailed, TransactionID: "tx-1", Reason: "stop"}},
		{"aborted while submitting", State{Kind: KindSubmitting}, Event{Type: EventAborted, Reason: "stop"}, State{Kind: KindFailed, Reason: "stop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ev.At = at
			tt.want.UpdatedAt = at

			got, err := Next(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		from Kind
		ev   EventType
	}{
		{KindSubmitting, EventSubmit},
		{KindPolling, EventSubmit},
		{KindIdle, EventAccepted},
		{KindPolling, EventAccepted},
		{KindPolling, EventRejected},
		{KindSubmitting, EventConfirmed},
		{KindSucceeded, EventConfirmed},
		{KindSubmitting, EventExpired},
		{KindTimedOut, EventExpired},
		{KindIdle, EventAborted},
		{KindSucceeded, EventAborted},
		{KindIdle, EventType("BOGUS")},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			from := State{Kind: tt.from, TransactionID: "tx-1"}
			got, err := Next(from, Event{Type: tt.ev})
			require.Error(t, err)
			assert.True(t, errors.IsTransactionError(err, errors.TransactionErrInvalidTransition))
			assert.ErrorIs(t, err, errors.ErrConflict)
			assert.Equal(t, from, got)
		})
	}
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, KindSubmitting.Busy())
	assert.True(t, KindPolling.Busy())
	assert.False(t, KindIdle.Busy())
	assert.False(t, KindTimedOut.Busy())

	assert.True(t, KindSucceeded.Terminal())
	assert.True(t, KindFailed.Terminal())
	assert.True(t, KindTimedOut.Terminal())
	assert.False(t, KindPolling.Terminal())
}
