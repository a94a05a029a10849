package chip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/chipdesk/internal/events"
	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/internal/txflow"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/logging"
)

var testWallet = lumx.Wallet{ID: "w-1", Address: "0x5bb7dd6a6eb4a440d6C70e1165243190295e290B"}

type fakeWallets struct {
	created int
	lookups []string
}

func (f *fakeWallets) CreateWallet(ctx context.Context) (lumx.Wallet, error) {
	f.created++
	return testWallet, nil
}

func (f *fakeWallets) GetWallet(ctx context.Context, id string) (lumx.Wallet, error) {
	f.lookups = append(f.lookups, id)
	if id != testWallet.ID {
		return lumx.Wallet{}, lumx.ErrWalletNotFound
	}
	return testWallet, nil
}

// scriptedAwaiter replays the state sequence the poller would emit.
type scriptedAwaiter struct {
	mu       sync.Mutex
	requests []lumx.TransactionRequest
	hash     string
	err      error
	// block, when set, holds the call in Polling until closed.
	block chan struct{}
	// polling is signalled once the call reaches Polling.
	polling chan struct{}
}

func (a *scriptedAwaiter) SubmitAndAwait(ctx context.Context, req lumx.TransactionRequest, opts txflow.Options) (string, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	emit := func(kind txflow.Kind, hash string) {
		if opts.OnState != nil {
			opts.OnState(txflow.State{Kind: kind, TransactionID: "tx-1", Hash: hash})
		}
	}

	if opts.OnState != nil {
		opts.OnState(txflow.State{Kind: txflow.KindSubmitting})
	}

	var subErr *txflow.SubmissionError
	if errors.As(a.err, &subErr) {
		opts.OnState(txflow.State{Kind: txflow.KindFailed, Reason: a.err.Error()})
		return "", a.err
	}

	emit(txflow.KindPolling, "")
	if a.polling != nil {
		a.polling <- struct{}{}
	}
	if a.block != nil {
		<-a.block
	}

	if a.err != nil {
		var timeoutErr *txflow.TimeoutError
		if errors.As(a.err, &timeoutErr) {
			emit(txflow.KindTimedOut, "")
		}
		return "", a.err
	}
	emit(txflow.KindSucceeded, a.hash)
	return a.hash, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []events.Outcome
}

func (p *recordingPublisher) Publish(ctx context.Context, o events.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return nil
}
func (p *recordingPublisher) Ping(context.Context) error { return nil }
func (p *recordingPublisher) Close() error               { return nil }

var testLumx = config.LumxConfig{
	AuthToken:       "token",
	ContractAddress: "0xcontract",
	ExplorerURL:     "https://amoy.polygonscan.com",
}

func newTestDesk(t *testing.T, awaiter Awaiter) (*Desk, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	desk := NewDesk(&fakeWallets{}, awaiter, testLumx).
		WithPublisher(pub).
		WithLogger(logging.Nop()).
		WithClock(mock)
	return desk, pub
}

func connected(t *testing.T, desk *Desk) {
	t.Helper()
	_, err := desk.Connect(context.Background(), "")
	require.NoError(t, err)
}

func TestConnect(t *testing.T) {
	wallets := &fakeWallets{}
	desk := NewDesk(wallets, &scriptedAwaiter{}, testLumx)

	_, ok := desk.Wallet()
	assert.False(t, ok)

	w, err := desk.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, testWallet, w)
	assert.Equal(t, 1, wallets.created)

	w, err = desk.Connect(context.Background(), " w-1 ")
	require.NoError(t, err)
	assert.Equal(t, testWallet, w)
	assert.Equal(t, []string{"w-1"}, wallets.lookups)

	_, err = desk.Connect(context.Background(), "unknown")
	assert.True(t, errors.IsChipError(err, errors.ChipErrWalletNotFound))
	got, ok := desk.Wallet()
	assert.True(t, ok)
	assert.Equal(t, testWallet, got)
}

func TestCreateChipConfirmed(t *testing.T) {
	awaiter := &scriptedAwaiter{hash: "0xabc"}
	desk, pub := newTestDesk(t, awaiter)
	connected(t, desk)

	receipt, err := desk.CreateChip(context.Background(), CreateInput{Number: 7, DataBytes: Defaults.DataBytes, Address: Defaults.Address})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.OperationID)
	assert.Equal(t, FeatureCreate, receipt.Feature)
	assert.Equal(t, "tx-1", receipt.TransactionID)
	assert.Equal(t, "0xabc", receipt.Hash)
	assert.Equal(t, "https://amoy.polygonscan.com/tx/0xabc", receipt.ExplorerURL)
	assert.Equal(t, Selector(SignatureCreate), receipt.Selector)

	require.Len(t, awaiter.requests, 1)
	assert.Equal(t, "w-1", awaiter.requests[0].WalletID)
	assert.Equal(t, "0xcontract", awaiter.requests[0].ContractAddress)

	assert.Equal(t, []int64{7}, desk.CreatedChips())
	assert.Equal(t, txflow.KindSucceeded, desk.States()[FeatureCreate].Kind)

	require.Len(t, pub.outcomes, 1)
	assert.Equal(t, events.StatusConfirmed, pub.outcomes[0].Status)
	assert.Equal(t, receipt.OperationID, pub.outcomes[0].OperationID)
	assert.Equal(t, "create", pub.outcomes[0].Feature)
}

func TestBuyChipDefaultsToWalletAddress(t *testing.T) {
	awaiter := &scriptedAwaiter{hash: "0xbuy"}
	desk, _ := newTestDesk(t, awaiter)
	connected(t, desk)

	_, err := desk.BuyChip(context.Background(), BuyInput{ChipID: 6, DataBytes: "0x01"})
	require.NoError(t, err)

	op := awaiter.requests[0].Operations[0]
	assert.Equal(t, []interface{}{int64(6), []interface{}{"0x01", testWallet.Address}}, op.ArgumentsValues)
	assert.Equal(t, BuyPrice(), op.MessageValue)
}

func TestOperationsRequireWalletAndCredentials(t *testing.T) {
	desk, _ := newTestDesk(t, &scriptedAwaiter{})

	_, err := desk.CreateChip(context.Background(), CreateInput{DataBytes: "0x", Address: recipient})
	assert.ErrorIs(t, err, ErrNoWallet)
	_, err = desk.BuyChip(context.Background(), BuyInput{DataBytes: "0x"})
	assert.ErrorIs(t, err, ErrNoWallet)
	_, err = desk.TransferChip(context.Background(), TransferInput{Recipient: recipient, DataBytes: "0x"})
	assert.ErrorIs(t, err, ErrNoWallet)

	noCreds := NewDesk(&fakeWallets{}, &scriptedAwaiter{}, config.LumxConfig{AuthToken: "token"})
	connected(t, noCreds)
	_, err = noCreds.SetPermission(context.Background(), PermissionInput{ChipID: 6, Permission: true})
	assert.ErrorIs(t, err, config.ErrMissingCredentials)
}

func TestTransferRequiresConfirmedPermission(t *testing.T) {
	awaiter := &scriptedAwaiter{hash: "0x1"}
	desk, _ := newTestDesk(t, awaiter)
	connected(t, desk)

	in := TransferInput{ChipID: 6, Recipient: recipient, DataBytes: Defaults.DataBytes}
	_, err := desk.TransferChip(context.Background(), in)
	assert.True(t, errors.IsChipError(err, errors.ChipErrPermissionRequired))
	assert.Empty(t, awaiter.requests)

	_, err = desk.SetPermission(context.Background(), PermissionInput{ChipID: 6, Permission: true})
	require.NoError(t, err)
	assert.True(t, desk.PermissionGranted(6))
	assert.Equal(t, []int64{6}, desk.GrantedChips())

	_, err = desk.TransferChip(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, awaiter.requests, 2)

	_, err = desk.TransferChip(context.Background(), TransferInput{ChipID: 7, Recipient: recipient, DataBytes: "0x"})
	assert.True(t, errors.IsChipError(err, errors.ChipErrPermissionRequired))
	assert.ErrorIs(t, err, errors.ErrPrecondition)
}

func TestTimeoutIsPublishedAsUnresolved(t *testing.T) {
	timeoutErr := errors.TransactionWrap(&txflow.TimeoutError{TransactionID: "tx-1", Timeout: 10 * time.Second},
		errors.OpSubmitAndAwait, errors.TransactionErrTimeout, "no confirmation before deadline")
	desk, pub := newTestDesk(t, &scriptedAwaiter{err: timeoutErr})
	connected(t, desk)

	receipt, err := desk.CreateChip(context.Background(), CreateInput{Number: 9, DataBytes: "0x", Address: recipient})
	require.Error(t, err)
	assert.Equal(t, "tx-1", receipt.TransactionID)
	assert.Empty(t, receipt.Hash)
	assert.Empty(t, desk.CreatedChips())
	assert.Equal(t, txflow.KindTimedOut, desk.States()[FeatureCreate].Kind)

	require.Len(t, pub.outcomes, 1)
	assert.Equal(t, events.StatusTimedOut, pub.outcomes[0].Status)
}

func TestRejectedSubmissionIsPublished(t *testing.T) {
	subErr := errors.TransactionWrap(&txflow.SubmissionError{StatusCode: 400, Body: "bad"},
		errors.OpSubmit, errors.TransactionErrSubmission, "transaction submission failed")
	desk, pub := newTestDesk(t, &scriptedAwaiter{err: subErr})
	connected(t, desk)

	_, err := desk.SetPermission(context.Background(), PermissionInput{ChipID: 6, Permission: true})
	require.Error(t, err)
	assert.False(t, desk.PermissionGranted(6))
	assert.Equal(t, txflow.KindFailed, desk.States()[FeaturePermission].Kind)

	require.Len(t, pub.outcomes, 1)
	assert.Equal(t, events.StatusRejected, pub.outcomes[0].Status)
}

func TestBusyFeatureRejectsSecondSubmission(t *testing.T) {
	awaiter := &scriptedAwaiter{hash: "0xabc", block: make(chan struct{}), polling: make(chan struct{}, 1)}
	desk, _ := newTestDesk(t, awaiter)
	connected(t, desk)

	done := make(chan error, 1)
	go func() {
		_, err := desk.CreateChip(context.Background(), CreateInput{Number: 1, DataBytes: "0x", Address: recipient})
		done <- err
	}()
	<-awaiter.polling
	assert.Equal(t, txflow.KindPolling, desk.States()[FeatureCreate].Kind)

	_, err := desk.CreateChip(context.Background(), CreateInput{Number: 2, DataBytes: "0x", Address: recipient})
	assert.True(t, errors.IsTransactionError(err, errors.TransactionErrBusy))

	close(awaiter.block)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{1}, desk.CreatedChips())
}

func TestAwaiterFailureWithoutTerminalStateSettles(t *testing.T) {
	desk, pub := newTestDesk(t, &failingAwaiter{err: txflow.ErrShutdown})
	connected(t, desk)

	_, err := desk.CreateChip(context.Background(), CreateInput{DataBytes: "0x", Address: recipient})
	assert.ErrorIs(t, err, txflow.ErrShutdown)
	assert.Equal(t, txflow.KindFailed, desk.States()[FeatureCreate].Kind)
	assert.Empty(t, pub.outcomes)
}

type failingAwaiter struct {
	err error
}

func (f *failingAwaiter) SubmitAndAwait(context.Context, lumx.TransactionRequest, txflow.Options) (string, error) {
	return "", f.err
}
