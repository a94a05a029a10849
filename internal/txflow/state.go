package txflow

import (
	"fmt"
	"time"

	"github.com/cmatc13/chipdesk/pkg/errors"
)

// Kind is the lifecycle position of a feature's most recent transaction.
type Kind string

const (
	KindIdle       Kind = "IDLE"
	KindSubmitting Kind = "SUBMITTING"
	KindPolling    Kind = "POLLING"
	KindSucceeded  Kind = "SUCCEEDED"
	KindFailed     Kind = "FAILED"
	KindTimedOut   Kind = "TIMED_OUT"
)

// Busy reports whether a transaction is in flight.
func (k Kind) Busy() bool {
	return k == KindSubmitting || k == KindPolling
}

// Terminal reports whether the kind ends a submission.
func (k Kind) Terminal() bool {
	return k == KindSucceeded || k == KindFailed || k == KindTimedOut
}

// State is the observable state of one feature.
type State struct {
	Kind          Kind      `json:"status"`
	TransactionID string    `json:"transactionId,omitempty"`
	Hash          string    `json:"hash,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EventType names an input to the state machine.
type EventType string

const (
	EventSubmit    EventType = "SUBMIT"
	EventAccepted  EventType = "ACCEPTED"
	EventRejected  EventType = "REJECTED"
	EventConfirmed EventType = "CONFIRMED"
	EventExpired   EventType = "EXPIRED"
	EventAborted   EventType = "ABORTED"
)

// Event drives a transition. Only the fields relevant to Type are read.
type Event struct {
	Type          EventType
	TransactionID string
	Hash          string
	Reason        string
	At            time.Time
}

// ErrInvalidTransition is the category of every rejected transition.
var ErrInvalidTransition = errors.NewTransactionError(
	errors.TransactionErrInvalidTransition,
	"invalid state transition",
	errors.ErrConflict,
)

// Next applies ev to s. It is pure: s is never modified.
func Next(s State, ev Event) (State, error) {
	next := State{UpdatedAt: ev.At}

	switch ev.Type {
	case EventSubmit:
		if s.Kind.Busy() {
			return s, invalid(s, ev)
		}
		next.Kind = KindSubmitting

	case EventAccepted:
		if s.Kind != KindSubmitting {
			return s, invalid(s, ev)
		}
		next.Kind = KindPolling
		next.TransactionID = ev.TransactionID

	case EventRejected:
		if s.Kind != KindSubmitting {
			return s, invalid(s, ev)
		}
		next.Kind = KindFailed
		next.Reason = ev.Reason

	case EventConfirmed:
		if s.Kind != KindPolling {
			return s, invalid(s, ev)
		}
		next.Kind = KindSucceeded
		next.TransactionID = s.TransactionID
		next.Hash = ev.Hash

	case EventExpired:
		if s.Kind != KindPolling {
			return s, invalid(s, ev)
		}
		next.Kind = KindTimedOut
		next.TransactionID = s.TransactionID
		next.Reason = "transaction state unknown; it may still complete"

	case EventAborted:
		if !s.Kind.Busy() {
			return s, invalid(s, ev)
		}
		next.Kind = KindFailed
		next.TransactionID = s.TransactionID
		next.Reason = ev.Reason

	default:
		return s, invalid(s, ev)
	}

	return next, nil
}

func invalid(s State, ev Event) error {
	from := s.Kind
	if from == "" {
		from = KindIdle
	}
	return errors.Wrap(
		errors.WithField(ErrInvalidTransition, "from", string(from)),
		fmt.Sprintf("cannot apply %s in state %s", ev.Type, from),
	)
}
