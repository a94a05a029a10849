package txflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/metrics"
)

const waitFor = time.Second

type readResponse struct {
	hash string
	err  error
	// slow reads block until their context is cancelled.
	slow bool
}

type fakeGateway struct {
	mu        sync.Mutex
	submitErr error
	txID      string
	responses []readResponse
	submits   int
	reads     int

	calls     chan int
	cancelled chan int
}

func newFakeGateway(responses ...readResponse) *fakeGateway {
	return &fakeGateway{
		txID:      "tx-1",
		responses: responses,
		calls:     make(chan int, 64),
		cancelled: make(chan int, 64),
	}
}

func (f *fakeGateway) SubmitCustom(ctx context.Context, req lumx.TransactionRequest) (lumx.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return lumx.Handle{}, f.submitErr
	}
	return lumx.Handle{TransactionID: f.txID}, nil
}

func (f *fakeGateway) GetTransaction(ctx context.Context, id string) (lumx.Result, error) {
	f.mu.Lock()
	f.reads++
	n := f.reads
	var resp readResponse
	if n <= len(f.responses) {
		resp = f.responses[n-1]
	}
	f.mu.Unlock()

	f.calls <- n

	if resp.slow {
		<-ctx.Done()
		f.cancelled <- n
	}
	if resp.err != nil {
		return lumx.Result{}, resp.err
	}
	return lumx.Result{TransactionHash: resp.hash}, nil
}

func (f *fakeGateway) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeGateway) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type outcome struct {
	hash string
	err  error
}

type harness struct {
	t      *testing.T
	clock  *clock.Mock
	gw     *fakeGateway
	poller *Poller
	lease  *MemoryLease
	states chan State
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	mock := clock.NewMock()
	lease := NewMemoryLease()
	poller := NewPoller(gw, config.PollConfig{Interval: 2 * time.Second, Timeout: 10 * time.Second}).
		WithClock(mock).
		WithLease(lease)
	return &harness{
		t:      t,
		clock:  mock,
		gw:     gw,
		poller: poller,
		lease:  lease,
		states: make(chan State, 16),
	}
}

func testRequest() lumx.TransactionRequest {
	return lumx.TransactionRequest{
		WalletID:        "w-1",
		ContractAddress: "0xcontract",
		Operations:      []lumx.Operation{{FunctionSignature: "setNotPermission(bool, uint256)", ArgumentsValues: []interface{}{true, 6}}},
	}
}

// start runs SubmitAndAwait in the background and blocks until polling begins.
func (h *harness) start(ctx context.Context) <-chan outcome {
	h.t.Helper()
	done := make(chan outcome, 1)
	go func() {
		hash, err := h.poller.SubmitAndAwait(ctx, testRequest(), Options{
			Feature: "permission",
			OnState: func(s State) { h.states <- s },
		})
		done <- outcome{hash: hash, err: err}
	}()

	h.expectState(KindSubmitting)
	h.expectState(KindPolling)
	return done
}

func (h *harness) expectState(kind Kind) State {
	h.t.Helper()
	select {
	case s := <-h.states:
		require.Equal(h.t, kind, s.Kind)
		return s
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for state %s", kind)
		return State{}
	}
}

// tick advances the clock by one poll interval and waits for read n.
func (h *harness) tick(n int) {
	h.t.Helper()
	h.clock.Add(2 * time.Second)
	select {
	case got := <-h.gw.calls:
		require.Equal(h.t, n, got)
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for read %d", n)
	}
}

func (h *harness) result(done <-chan outcome) outcome {
	h.t.Helper()
	select {
	case o := <-done:
		return o
	case <-time.After(waitFor):
		h.t.Fatal("SubmitAndAwait did not return")
		return outcome{}
	}
}

func (h *harness) assertNoMoreReads() {
	h.t.Helper()
	time.Sleep(20 * time.Millisecond)
	before := h.gw.readCount()
	for i := 0; i < 5; i++ {
		h.clock.Add(2 * time.Second)
	}
	assert.Never(h.t, func() bool { return h.gw.readCount() > before }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestHashObservedBeforeDeadline(t *testing.T) {
	gw := newFakeGateway(readResponse{}, readResponse{}, readResponse{}, readResponse{hash: "0xabc"})
	h := newHarness(t, gw)

	done := h.start(context.Background())
	for n := 1; n <= 4; n++ {
		h.tick(n)
	}

	o := h.result(done)
	require.NoError(t, o.err)
	assert.Equal(t, "0xabc", o.hash)

	s := h.expectState(KindSucceeded)
	assert.Equal(t, "tx-1", s.TransactionID)
	assert.Equal(t, "0xabc", s.Hash)
	assert.Equal(t, h.clock.Now(), s.UpdatedAt)

	// The deadline at t=10 must not fire once resolved.
	h.assertNoMoreReads()
	assert.Empty(t, h.states)
	assert.Equal(t, 0, h.lease.Held())
	assert.Equal(t, 0, h.poller.InFlight())
}

func TestNoHashBeforeDeadlineTimesOut(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)

	done := h.start(context.Background())
	for n := 1; n <= 4; n++ {
		h.tick(n)
	}
	h.clock.Add(2 * time.Second)

	o := h.result(done)
	require.Error(t, o.err)
	assert.Empty(t, o.hash)

	var timeoutErr *TimeoutError
	require.True(t, errors.As(o.err, &timeoutErr))
	assert.Equal(t, "tx-1", timeoutErr.TransactionID)
	assert.Equal(t, 10*time.Second, timeoutErr.Timeout)
	assert.True(t, errors.Is(o.err, errors.ErrTimeout))
	assert.True(t, errors.IsTransactionError(o.err, errors.TransactionErrTimeout))

	s := h.expectState(KindTimedOut)
	assert.Equal(t, "tx-1", s.TransactionID)

	h.assertNoMoreReads()
	assert.Equal(t, 0, h.lease.Held())
}

func TestFailingReadDoesNotStopPolling(t *testing.T) {
	readErr := &lumx.StatusError{Operation: errors.OpGetTransaction, StatusCode: 503}
	gw := newFakeGateway(readResponse{err: readErr}, readResponse{err: readErr}, readResponse{hash: "0xdef"})
	h := newHarness(t, gw)
	m := metrics.New(metrics.DefaultConfig())
	h.poller.WithMetrics(m)

	done := h.start(context.Background())
	for n := 1; n <= 3; n++ {
		h.tick(n)
	}

	o := h.result(done)
	require.NoError(t, o.err)
	assert.Equal(t, "0xdef", o.hash)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollTicks.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollTicks.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionCount.WithLabelValues("permission", "confirmed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PollLoopsInFlight))
}

func TestSubmissionErrorNeverPolls(t *testing.T) {
	gw := newFakeGateway()
	gw.submitErr = &lumx.SubmissionError{StatusCode: 500, Body: "boom"}
	h := newHarness(t, gw)

	hash, err := h.poller.SubmitAndAwait(context.Background(), testRequest(), Options{
		OnState: func(s State) { h.states <- s },
	})
	require.Error(t, err)
	assert.Empty(t, hash)

	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, 500, subErr.StatusCode)
	assert.True(t, errors.IsTransactionError(err, errors.TransactionErrSubmission))

	h.expectState(KindSubmitting)
	failed := h.expectState(KindFailed)
	assert.Contains(t, failed.Reason, "HTTP 500")

	h.clock.Add(30 * time.Second)
	assert.Equal(t, 0, gw.readCount())
	assert.Equal(t, 1, gw.submitCount())
}

func TestLateReadAfterDeadlineIsDiscarded(t *testing.T) {
	gw := newFakeGateway(readResponse{}, readResponse{}, readResponse{}, readResponse{hash: "0xlate", slow: true})
	h := newHarness(t, gw)

	done := h.start(context.Background())
	for n := 1; n <= 4; n++ {
		h.tick(n)
	}
	// The read started at t=8 is still in flight when the deadline passes.
	h.clock.Add(2 * time.Second)

	o := h.result(done)
	var timeoutErr *TimeoutError
	require.True(t, errors.As(o.err, &timeoutErr))
	h.expectState(KindTimedOut)

	select {
	case n := <-gw.cancelled:
		assert.Equal(t, 4, n)
	case <-time.After(waitFor):
		t.Fatal("in-flight read was not cancelled")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.states)
}

func TestCallerAbortStopsTimers(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	h.tick(1)
	cancel()

	o := h.result(done)
	assert.ErrorIs(t, o.err, context.Canceled)
	failed := h.expectState(KindFailed)
	assert.Equal(t, "tx-1", failed.TransactionID)

	h.assertNoMoreReads()
	assert.Equal(t, 0, h.lease.Held())
}

func TestShutdownAbortsInFlightLoops(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)

	done := h.start(context.Background())
	assert.Equal(t, 1, h.poller.InFlight())

	h.poller.Shutdown()

	o := h.result(done)
	assert.True(t, errors.IsTransactionError(o.err, errors.TransactionErrAborted))
	h.expectState(KindFailed)
	assert.Equal(t, 0, h.poller.InFlight())

	_, err := h.poller.SubmitAndAwait(context.Background(), testRequest(), Options{})
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Equal(t, 1, gw.submitCount())
}

func TestHeldHandleIsNotPolledTwice(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)
	require.NoError(t, h.lease.Acquire(context.Background(), "tx-1", time.Minute))

	_, err := h.poller.SubmitAndAwait(context.Background(), testRequest(), Options{
		OnState: func(s State) { h.states <- s },
	})
	assert.True(t, errors.IsTransactionError(err, errors.TransactionErrHandleInUse))
	assert.ErrorIs(t, err, errors.ErrConflict)

	h.expectState(KindSubmitting)
	h.expectState(KindFailed)

	h.clock.Add(10 * time.Second)
	assert.Equal(t, 0, gw.readCount())
	assert.Equal(t, 1, h.lease.Held())
}

func TestInvalidRequestIsNotSubmitted(t *testing.T) {
	gw := newFakeGateway()
	h := newHarness(t, gw)

	_, err := h.poller.SubmitAndAwait(context.Background(), lumx.TransactionRequest{}, Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Equal(t, 0, gw.submitCount())
}

func TestOptionsOverrideDefaults(t *testing.T) {
	p := NewPoller(newFakeGateway(), config.PollConfig{})
	interval, timeout := p.Defaults()
	assert.Equal(t, DefaultPollInterval, interval)
	assert.Equal(t, DefaultTimeout, timeout)

	opts := p.withDefaults(Options{Timeout: 30 * time.Second})
	assert.Equal(t, DefaultPollInterval, opts.PollInterval)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, "custom", opts.Feature)
}
