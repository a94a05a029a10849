// Package events publishes terminal transaction outcomes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the terminal classification of an outcome.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	// StatusTimedOut means no hash was seen before the deadline; the
	// transaction may still have completed.
	StatusTimedOut Status = "TIMED_OUT"
	StatusRejected Status = "REJECTED"
)

var (
	// Topic for confirmed transactions
	confirmedTopic = "chip_confirmed"

	// Topic for transactions whose state is unknown
	unresolvedTopic = "chip_unresolved"

	// Topic for rejected submissions
	rejectedTopic = "chip_rejected"
)

// Outcome describes how one chip operation ended.
type Outcome struct {
	OperationID   string    `json:"operationId"`
	Feature       string    `json:"feature"`
	TransactionID string    `json:"transactionId,omitempty"`
	Hash          string    `json:"hash,omitempty"`
	Status        Status    `json:"status"`
	Selector      string    `json:"selector"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToJSON serializes the outcome.
func (o Outcome) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

// Topic returns the topic an outcome with status s is published to.
func Topic(s Status) string {
	switch s {
	case StatusConfirmed:
		return confirmedTopic
	case StatusTimedOut:
		return unresolvedTopic
	default:
		return rejectedTopic
	}
}

// Publisher delivers outcomes. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, o Outcome) error
	// Ping reports whether the publisher can reach its backend.
	Ping(ctx context.Context) error
	Close() error
}

// Noop discards every outcome. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Outcome) error { return nil }
func (Noop) Ping(context.Context) error             { return nil }
func (Noop) Close() error                           { return nil }
