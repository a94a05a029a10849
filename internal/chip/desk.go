package chip

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/cmatc13/chipdesk/internal/events"
	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/internal/txflow"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/logging"
)

var (
	// ErrNoWallet is returned by every chip operation until a wallet is connected.
	ErrNoWallet = errors.NewChipError(errors.ChipErrNoWallet, "connect a wallet first", errors.ErrPrecondition)

	// ErrPermissionRequired is returned by TransferChip before the chip's
	// permission call was confirmed.
	ErrPermissionRequired = errors.NewChipError(errors.ChipErrPermissionRequired, "set the chip permission before transferring it", errors.ErrPrecondition)

	// ErrBusy is returned when the feature already has a transaction in flight.
	ErrBusy = errors.NewTransactionError(errors.TransactionErrBusy, "a transaction for this feature is already in flight", errors.ErrConflict)
)

// WalletAPI creates and looks up custodial wallets.
type WalletAPI interface {
	CreateWallet(ctx context.Context) (lumx.Wallet, error)
	GetWallet(ctx context.Context, id string) (lumx.Wallet, error)
}

// Awaiter submits a transaction and waits for its hash.
type Awaiter interface {
	SubmitAndAwait(ctx context.Context, req lumx.TransactionRequest, opts txflow.Options) (string, error)
}

// Receipt describes a finished or unresolved chip operation. On a timeout
// the receipt carries the transaction id but no hash.
type Receipt struct {
	OperationID   string  `json:"operationId"`
	Feature       Feature `json:"feature"`
	TransactionID string  `json:"transactionId,omitempty"`
	Hash          string  `json:"hash,omitempty"`
	ExplorerURL   string  `json:"explorerUrl,omitempty"`
	Selector      string  `json:"selector"`
}

// Desk is one operator session: a connected wallet, the state of every
// feature, and what was confirmed so far.
type Desk struct {
	wallets   WalletAPI
	awaiter   Awaiter
	publisher events.Publisher
	cfg       config.LumxConfig
	logger    *logging.Logger
	clock     clock.Clock

	wallet atomic.Pointer[lumx.Wallet]

	mu      sync.Mutex
	states  map[Feature]txflow.State
	created []int64
	granted map[int64]bool
}

// NewDesk creates a desk that submits to cfg.ContractAddress.
func NewDesk(wallets WalletAPI, awaiter Awaiter, cfg config.LumxConfig) *Desk {
	d := &Desk{
		wallets:   wallets,
		awaiter:   awaiter,
		publisher: events.Noop{},
		cfg:       cfg,
		logger:    logging.Nop(),
		clock:     clock.New(),
		states:    make(map[Feature]txflow.State, len(Features)),
		granted:   make(map[int64]bool),
	}
	for _, f := range Features {
		d.states[f] = txflow.State{Kind: txflow.KindIdle}
	}
	return d
}

// WithPublisher sets where terminal outcomes are published.
func (d *Desk) WithPublisher(p events.Publisher) *Desk {
	d.publisher = p
	return d
}

// WithLogger sets the logger.
func (d *Desk) WithLogger(l *logging.Logger) *Desk {
	d.logger = l
	return d
}

// WithClock sets the clock used for timestamps.
func (d *Desk) WithClock(c clock.Clock) *Desk {
	d.clock = c
	return d
}

// Connect looks up wallet id, or creates a new wallet when id is empty. The
// result replaces the session wallet.
func (d *Desk) Connect(ctx context.Context, id string) (lumx.Wallet, error) {
	id = strings.TrimSpace(id)

	var (
		w   lumx.Wallet
		err error
	)
	if id != "" {
		w, err = d.wallets.GetWallet(ctx, id)
	} else {
		w, err = d.wallets.CreateWallet(ctx)
	}
	if err != nil {
		d.logger.WithContext(ctx).Warn("Wallet connection failed", "wallet_id", id, "error", err)
		return lumx.Wallet{}, fmt.Errorf("%s: %w", errors.OpConnectWallet, err)
	}

	d.wallet.Store(&w)
	d.logger.WithContext(ctx).Info("Wallet connected", "wallet_id", w.ID, "address", w.Address)
	return w, nil
}

// Wallet returns the connected wallet.
func (d *Desk) Wallet() (lumx.Wallet, bool) {
	w := d.wallet.Load()
	if w == nil {
		return lumx.Wallet{}, false
	}
	return *w, true
}

// CreateChip mints a chip. On confirmation its number joins CreatedChips.
func (d *Desk) CreateChip(ctx context.Context, in CreateInput) (Receipt, error) {
	op, err := BuildCreate(in)
	if err != nil {
		return Receipt{}, err
	}
	return d.run(ctx, FeatureCreate, op, func() {
		d.created = append(d.created, in.Number)
	})
}

// BuyChip buys a chip, paying BuyPrice. An empty address buys for the
// connected wallet.
func (d *Desk) BuyChip(ctx context.Context, in BuyInput) (Receipt, error) {
	w, ok := d.Wallet()
	if !ok {
		return Receipt{}, ErrNoWallet
	}
	if strings.TrimSpace(in.Address) == "" {
		in.Address = w.Address
	}

	op, err := BuildBuy(in)
	if err != nil {
		return Receipt{}, err
	}
	return d.run(ctx, FeatureBuy, op, nil)
}

// SetPermission sends the permission flag for a chip. Once confirmed the chip
// may be transferred, whichever value was sent.
func (d *Desk) SetPermission(ctx context.Context, in PermissionInput) (Receipt, error) {
	op, err := BuildPermission(in)
	if err != nil {
		return Receipt{}, err
	}
	return d.run(ctx, FeaturePermission, op, func() {
		d.granted[in.ChipID] = true
	})
}

// TransferChip transfers a chip whose permission was confirmed earlier.
func (d *Desk) TransferChip(ctx context.Context, in TransferInput) (Receipt, error) {
	op, err := BuildTransfer(in)
	if err != nil {
		return Receipt{}, err
	}
	if _, ok := d.Wallet(); !ok {
		return Receipt{}, ErrNoWallet
	}
	if !d.PermissionGranted(in.ChipID) {
		return Receipt{}, errors.WithField(ErrPermissionRequired, "chip_id", in.ChipID)
	}
	return d.run(ctx, FeatureTransfer, op, nil)
}

// CreatedChips returns the numbers of chips created in this session, in order.
func (d *Desk) CreatedChips() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.created...)
}

// PermissionGranted reports whether the chip's permission call was confirmed.
func (d *Desk) PermissionGranted(chipID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.granted[chipID]
}

// GrantedChips returns the chip ids that may be transferred, ascending.
func (d *Desk) GrantedChips() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]int64, 0, len(d.granted))
	for id := range d.granted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// States returns a snapshot of every feature's state.
func (d *Desk) States() map[Feature]txflow.State {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[Feature]txflow.State, len(d.states))
	for f, s := range d.states {
		out[f] = s
	}
	return out
}

// run submits op for feature and waits for the outcome. onConfirmed runs
// under the desk lock.
func (d *Desk) run(ctx context.Context, feature Feature, op lumx.Operation, onConfirmed func()) (Receipt, error) {
	if err := d.cfg.RequireCredentials(); err != nil {
		return Receipt{}, err
	}
	w, ok := d.Wallet()
	if !ok {
		return Receipt{}, ErrNoWallet
	}

	if err := d.reserve(feature); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		OperationID: uuid.NewString(),
		Feature:     feature,
		Selector:    Selector(op.FunctionSignature),
	}
	ctx = logging.ContextWithOperationID(ctx, receipt.OperationID)
	logger := d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"feature":  string(feature),
		"selector": receipt.Selector,
	})

	req := lumx.TransactionRequest{
		WalletID:        w.ID,
		ContractAddress: d.cfg.ContractAddress,
		Operations:      []lumx.Operation{op},
	}

	logger.Info("Submitting chip operation", "wallet_id", w.ID)
	hash, err := d.awaiter.SubmitAndAwait(ctx, req, txflow.Options{
		Feature: string(feature),
		OnState: func(s txflow.State) {
			d.setState(feature, s)
			if s.TransactionID != "" {
				receipt.TransactionID = s.TransactionID
			}
		},
	})
	d.settle(feature, err)

	if err != nil {
		if status, ok := outcomeStatus(err); ok {
			d.publish(ctx, logger, receipt, status, err.Error())
		}
		return receipt, err
	}

	d.mu.Lock()
	if onConfirmed != nil {
		onConfirmed()
	}
	d.mu.Unlock()

	receipt.Hash = hash
	receipt.ExplorerURL = ExplorerURL(d.cfg.ExplorerURL, hash)
	d.publish(ctx, logger, receipt, events.StatusConfirmed, "")
	return receipt, nil
}

// reserve moves feature to Submitting, refusing when it is busy.
func (d *Desk) reserve(feature Feature) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := txflow.Next(d.states[feature], txflow.Event{Type: txflow.EventSubmit, At: d.clock.Now()})
	if err != nil {
		return errors.WithField(ErrBusy, "feature", string(feature))
	}
	d.states[feature] = next
	return nil
}

func (d *Desk) setState(feature Feature, s txflow.State) {
	d.mu.Lock()
	d.states[feature] = s
	d.mu.Unlock()
}

// settle marks the feature failed if the awaiter returned without reaching a
// terminal state.
func (d *Desk) settle(feature Feature, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.states[feature]
	if !current.Kind.Busy() {
		return
	}
	reason := "aborted"
	if cause != nil {
		reason = cause.Error()
	}
	next, err := txflow.Next(current, txflow.Event{Type: txflow.EventAborted, Reason: reason, At: d.clock.Now()})
	if err == nil {
		d.states[feature] = next
	}
}

func (d *Desk) publish(ctx context.Context, logger *logging.Logger, r Receipt, status events.Status, reason string) {
	o := events.Outcome{
		OperationID:   r.OperationID,
		Feature:       string(r.Feature),
		TransactionID: r.TransactionID,
		Hash:          r.Hash,
		Status:        status,
		Selector:      r.Selector,
		Reason:        reason,
		Timestamp:     d.clock.Now().UTC(),
	}
	// The caller's result never depends on the event.
	if err := d.publisher.Publish(context.WithoutCancel(ctx), o); err != nil {
		logger.Error("Failed to publish outcome", "status", string(status), "error", err)
	}
}

// outcomeStatus classifies errors that end a transaction. Aborts and local
// failures are not published.
func outcomeStatus(err error) (events.Status, bool) {
	var timeoutErr *txflow.TimeoutError
	if errors.As(err, &timeoutErr) {
		return events.StatusTimedOut, true
	}
	if errors.IsTransactionError(err, errors.TransactionErrSubmission) {
		return events.StatusRejected, true
	}
	return "", false
}
