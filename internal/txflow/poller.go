// Package txflow submits custom transactions and waits for their on-chain
// confirmation by polling the transaction status until a hash appears or a
// deadline passes.
package txflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/logging"
	"github.com/cmatc13/chipdesk/pkg/metrics"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 10 * time.Second

	releaseTimeout = 2 * time.Second
)

// Gateway is the part of the transaction API the poller needs.
type Gateway interface {
	SubmitCustom(ctx context.Context, req lumx.TransactionRequest) (lumx.Handle, error)
	GetTransaction(ctx context.Context, id string) (lumx.Result, error)
}

// SubmissionError is returned when the initial submission is rejected.
type SubmissionError = lumx.SubmissionError

// TimeoutError means no hash was observed before the deadline. The
// transaction may still have completed or failed on chain.
type TimeoutError struct {
	TransactionID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s unresolved after %s; state unknown, it may still complete", e.TransactionID, e.Timeout)
}

// Unwrap lets callers match the category with errors.Is.
func (e *TimeoutError) Unwrap() error {
	return errors.ErrTimeout
}

// ErrShutdown is returned to loops aborted by Shutdown.
var ErrShutdown = errors.NewTransactionError(
	errors.TransactionErrAborted,
	"poller is shutting down",
	errors.ErrUnavailable,
)

// Options tune a single SubmitAndAwait call. Zero values use the poller defaults.
type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// Feature labels metrics and logs.
	Feature string
	// OnState receives every state transition, in order, from the loop goroutine.
	OnState func(State)
}

// Poller runs the submit-then-poll protocol. It is safe for concurrent use;
// every call owns its own loop.
type Poller struct {
	api     Gateway
	clock   clock.Clock
	lease   Lease
	logger  *logging.Logger
	metrics *metrics.Metrics

	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	scopes map[uint64]context.CancelFunc
	nextID uint64
	closed bool
}

// NewPoller creates a poller with defaults taken from cfg.
func NewPoller(api Gateway, cfg config.PollConfig) *Poller {
	p := &Poller{
		api:      api,
		clock:    clock.New(),
		lease:    NewMemoryLease(),
		logger:   logging.Nop(),
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		scopes:   make(map[uint64]context.CancelFunc),
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	return p
}

// WithClock replaces the clock driving the poll and timeout timers.
func (p *Poller) WithClock(c clock.Clock) *Poller {
	p.clock = c
	return p
}

// WithLease replaces the in-flight lease.
func (p *Poller) WithLease(l Lease) *Poller {
	p.lease = l
	return p
}

// WithLogger sets the logger.
func (p *Poller) WithLogger(l *logging.Logger) *Poller {
	p.logger = l
	return p
}

// WithMetrics records loop outcomes and ticks on m.
func (p *Poller) WithMetrics(m *metrics.Metrics) *Poller {
	p.metrics = m
	return p
}

// SubmitAndAwait submits req and polls until a transaction hash appears.
//
// It returns the hash, an error matching *SubmissionError when the submission
// is rejected, or an error matching *TimeoutError when the deadline passes
// first. Cancelling ctx stops both timers and returns ctx.Err().
func (p *Poller) SubmitAndAwait(ctx context.Context, req lumx.TransactionRequest, opts Options) (string, error) {
	opts = p.withDefaults(opts)
	if err := req.Validate(); err != nil {
		return "", err
	}

	scope, release, err := p.openScope(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	logger := p.logger.WithContext(ctx).WithField("feature", opts.Feature)
	start := p.clock.Now()

	state := State{Kind: KindIdle}
	apply := func(ev Event) {
		ev.At = p.clock.Now()
		next, err := Next(state, ev)
		if err != nil {
			logger.Error("Dropped state transition", "event", string(ev.Type), "error", err)
			return
		}
		state = next
		if opts.OnState != nil {
			opts.OnState(state)
		}
	}

	apply(Event{Type: EventSubmit})

	handle, err := p.api.SubmitCustom(scope, req)
	if err != nil {
		if scope.Err() != nil {
			apply(Event{Type: EventAborted, Reason: "aborted during submission"})
			p.recordOutcome(opts.Feature, "aborted", start)
			return "", p.abortErr(ctx)
		}
		apply(Event{Type: EventRejected, Reason: err.Error()})
		p.recordOutcome(opts.Feature, "rejected", start)
		logger.Warn("Transaction submission rejected", "error", err)
		return "", errors.TransactionWrap(err, errors.OpSubmit, errors.TransactionErrSubmission, "transaction submission failed")
	}

	id := handle.TransactionID
	logger = logger.WithField("transaction_id", id)

	if err := p.lease.Acquire(scope, id, opts.Timeout+opts.PollInterval); err != nil {
		apply(Event{Type: EventAborted, Reason: err.Error()})
		p.recordOutcome(opts.Feature, "aborted", start)
		logger.Error("Transaction already has a poll loop", "error", err)
		return "", err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := p.lease.Release(releaseCtx, id); err != nil {
			logger.Warn("Failed to release transaction lease", "error", err)
		}
	}()

	return p.poll(ctx, scope, id, opts, logger, start, apply)
}

type pollResult struct {
	result lumx.Result
	err    error
}

// poll owns the timers for one transaction. All resolution decisions are made
// here, so a late tick or a late read result has no effect.
func (p *Poller) poll(ctx, scope context.Context, id string, opts Options, logger *logging.Logger, start time.Time, apply func(Event)) (string, error) {
	ticker := p.clock.Ticker(opts.PollInterval)
	defer ticker.Stop()
	deadline := p.clock.Timer(opts.Timeout)
	defer deadline.Stop()

	if p.metrics != nil {
		p.metrics.PollLoopsInFlight.Inc()
		defer p.metrics.PollLoopsInFlight.Dec()
	}

	// Timers exist before Polling is reported.
	apply(Event{Type: EventAccepted, TransactionID: id})
	logger.Info("Transaction accepted, polling for confirmation",
		"interval", opts.PollInterval.String(), "timeout", opts.Timeout.String())

	results := make(chan pollResult)

	for {
		select {
		case <-scope.Done():
			apply(Event{Type: EventAborted, Reason: "wait abandoned"})
			p.recordOutcome(opts.Feature, "aborted", start)
			return "", p.abortErr(ctx)

		case <-deadline.C:
			apply(Event{Type: EventExpired})
			p.recordOutcome(opts.Feature, "timed_out", start)
			logger.Warn("Transaction unresolved before deadline")
			return "", errors.TransactionWrap(
				&TimeoutError{TransactionID: id, Timeout: opts.Timeout},
				errors.OpSubmitAndAwait, errors.TransactionErrTimeout, "no confirmation before deadline",
			)

		case <-ticker.C:
			go func() {
				res, err := p.api.GetTransaction(scope, id)
				select {
				case results <- pollResult{result: res, err: err}:
				case <-scope.Done():
				}
			}()

		case r := <-results:
			if r.err != nil {
				p.recordTick("error")
				logger.Warn("Transaction status read failed", "error",
					errors.TransactionWrap(r.err, errors.OpPoll, errors.TransactionErrPollRead, "status read failed"))
				continue
			}
			if !r.result.Confirmed() {
				p.recordTick("pending")
				continue
			}
			p.recordTick("confirmed")
			apply(Event{Type: EventConfirmed, Hash: r.result.TransactionHash})
			p.recordOutcome(opts.Feature, "confirmed", start)
			logger.Info("Transaction confirmed", "hash", r.result.TransactionHash)
			return r.result.TransactionHash, nil
		}
	}
}

// Shutdown aborts every in-flight loop and rejects new calls.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for _, cancel := range p.scopes {
		cancel()
	}
}

// InFlight returns the number of running SubmitAndAwait calls.
func (p *Poller) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scopes)
}

// Defaults returns the interval and timeout used for zero Options.
func (p *Poller) Defaults() (interval, timeout time.Duration) {
	return p.interval, p.timeout
}

func (p *Poller) openScope(ctx context.Context) (context.Context, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrShutdown
	}

	scope, cancel := context.WithCancel(ctx)
	p.nextID++
	key := p.nextID
	p.scopes[key] = cancel

	return scope, func() {
		cancel()
		p.mu.Lock()
		delete(p.scopes, key)
		p.mu.Unlock()
	}, nil
}

func (p *Poller) abortErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrShutdown
}

func (p *Poller) withDefaults(opts Options) Options {
	if opts.PollInterval <= 0 {
		opts.PollInterval = p.interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = p.timeout
	}
	if opts.Feature == "" {
		opts.Feature = "custom"
	}
	return opts
}

func (p *Poller) recordOutcome(feature, outcome string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordTransaction(feature, outcome, p.clock.Since(start))
	}
}

func (p *Poller) recordTick(result string) {
	if p.metrics != nil {
		p.metrics.RecordPollTick(result)
	}
}
