package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/allowance"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/types"
)

// Action is a state-changing contract call run by a Workflow
type Action interface {
	Name() string
	// Validate checks local preconditions and returns a *ValidationError naming the failing check
	Validate(ctx context.Context) error
	Call() chains.Call
	// Value is the native amount sent with the call, nil for none
	Value() *big.Int
	// Requirement is the token allowance the call needs, nil when it is not fee-gated.
	// It is evaluated on every run since required amounts can change.
	Requirement(ctx context.Context, sender common.Address) (*allowance.Requirement, error)
	// Affects lists the cache topics a confirmed call may have changed
	Affects(sender common.Address) []string
}

// SenderValidator is implemented by actions whose preconditions depend on the
// sending account, such as a sufficient token balance
type SenderValidator interface {
	ValidateSender(ctx context.Context, sender common.Address) error
}

// AccountSource reports the connected account; ok is false when disconnected
type AccountSource interface {
	Account() (account common.Address, ok bool)
}

// StaticAccount is an always-connected AccountSource
type StaticAccount common.Address

func (a StaticAccount) Account() (common.Address, bool) {
	return common.Address(a), common.Address(a) != (common.Address{})
}

type Options struct {
	Client        chains.ChainClient
	Gate          *allowance.Gate
	Accounts      AccountSource
	Bus           *cache.Bus
	Confirmations uint64
	Logger        *slog.Logger
}

// Workflow sequences validate, approve, simulate, send and wait for one action at a time
type Workflow struct {
	client        chains.ChainClient
	gate          *allowance.Gate
	accounts      AccountSource
	bus           *cache.Bus
	confirmations uint64
	logger        *slog.Logger

	mu      sync.Mutex
	snap    Snapshot
	running bool

	// unresolved broadcast kept for Recheck
	pending       *types.PendingTx
	pendingPhase  Phase
	pendingTopics []string

	obsMu     sync.Mutex
	observers map[uint64]func(Transition)
	nextObs   uint64
}

func New(opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := opts.Gate
	if gate == nil {
		gate = allowance.NewGate(opts.Client, nil, logger)
	}
	confirmations := opts.Confirmations
	if confirmations == 0 {
		confirmations = constants.DefaultConfirmations
	}
	return &Workflow{
		client:        opts.Client,
		gate:          gate,
		accounts:      opts.Accounts,
		bus:           opts.Bus,
		confirmations: confirmations,
		logger:        logger,
		observers:     make(map[uint64]func(Transition)),
	}
}

// Snapshot returns the current state
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Subscribe registers an observer of transitions; the returned function removes it
func (w *Workflow) Subscribe(fn func(Transition)) (unsubscribe func()) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()

	id := w.nextObs
	w.nextObs++
	w.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.obsMu.Lock()
			defer w.obsMu.Unlock()
			delete(w.observers, id)
		})
	}
}

func (w *Workflow) acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrBusy
	}
	w.running = true
	return nil
}

func (w *Workflow) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

// Submit runs action to a settled state. It fails with ErrBusy while another call
// is in progress and with ErrOutcomeUnknown while a previous outcome is unresolved.
// The returned error is the cause of a Failed, Rejected or Unknown outcome.
func (w *Workflow) Submit(ctx context.Context, action Action) (Snapshot, error) {
	if err := w.acquire(); err != nil {
		return w.Snapshot(), err
	}
	defer w.release()

	w.mu.Lock()
	if w.snap.State == Unknown {
		snap := w.snap
		w.mu.Unlock()
		return snap, ErrOutcomeUnknown
	}
	w.snap = Snapshot{Action: action.Name(), State: Idle, Phase: PhaseAction, UpdatedAt: time.Now()}
	w.mu.Unlock()

	err := w.run(ctx, action)
	return w.Snapshot(), err
}

// Start runs Submit in the background. Busy and unknown-outcome rejections are
// returned immediately; otherwise the final snapshot is delivered on the channel.
func (w *Workflow) Start(ctx context.Context, action Action) (<-chan Snapshot, error) {
	if err := w.acquire(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.snap.State == Unknown {
		w.mu.Unlock()
		w.release()
		return nil, ErrOutcomeUnknown
	}
	w.snap = Snapshot{Action: action.Name(), State: Idle, Phase: PhaseAction, UpdatedAt: time.Now()}
	w.mu.Unlock()

	done := make(chan Snapshot, 1)
	go func() {
		defer w.release()
		_ = w.run(ctx, action)
		done <- w.Snapshot()
	}()
	return done, nil
}

func (w *Workflow) run(ctx context.Context, action Action) error {
	w.step(PhaseAction, Validating, nil, common.Hash{})

	sender, ok := common.Address{}, false
	if w.accounts != nil {
		sender, ok = w.accounts.Account()
	}
	if !ok {
		return w.fail(PhaseAction, Failed, &ValidationError{Field: "wallet", Reason: "not connected"})
	}

	if err := action.Validate(ctx); err != nil {
		return w.fail(PhaseAction, Failed, err)
	}
	if v, ok := action.(SenderValidator); ok {
		if err := v.ValidateSender(ctx, sender); err != nil {
			return w.fail(PhaseAction, Failed, err)
		}
	}

	req, err := action.Requirement(ctx, sender)
	if err != nil {
		return w.fail(PhaseAction, Failed, err)
	}
	if req != nil {
		needs, err := w.gate.NeedsApproval(ctx, *req)
		if err != nil {
			return w.fail(PhaseAction, Failed, err)
		}
		if needs {
			w.step(PhaseAction, AwaitingApproval, nil, common.Hash{})
			if err := w.approve(ctx, sender, *req); err != nil {
				return err
			}
		}
	}

	call := action.Call()
	simulate := func(ctx context.Context) (*types.TxRequest, error) {
		return w.client.Simulate(ctx, call, sender, action.Value())
	}
	receipt, final, err := w.execute(ctx, PhaseAction, sender, call.String(), simulate, action.Affects(sender))
	if err != nil {
		return w.fail(PhaseAction, final, err)
	}

	w.mu.Lock()
	w.snap.Receipt = receipt
	w.mu.Unlock()
	w.step(PhaseAction, Confirmed, nil, receipt.Hash)
	w.invalidate(action.Affects(sender))
	return nil
}

// approve runs the approval sub-workflow. Its failure fails the whole run, except
// an unresolved broadcast which leaves the run Unknown.
func (w *Workflow) approve(ctx context.Context, sender common.Address, req allowance.Requirement) error {
	// the connected account owns the allowance it signs for
	req.Owner = sender
	simulate := func(ctx context.Context) (*types.TxRequest, error) {
		return w.gate.BuildApproval(ctx, req)
	}
	receipt, final, err := w.execute(ctx, PhaseApproval, sender, allowance.ApprovalCall(req).String(), simulate, []string{req.Topic()})
	if err != nil {
		w.step(PhaseApproval, final, err, common.Hash{})
		if final == Unknown {
			return w.fail(PhaseAction, Unknown, &ApprovalError{Err: err})
		}
		return w.fail(PhaseAction, Failed, &ApprovalError{Err: err})
	}

	w.mu.Lock()
	w.snap.ApprovalReceipt = receipt
	w.mu.Unlock()
	w.step(PhaseApproval, Confirmed, nil, receipt.Hash)
	w.invalidate([]string{req.Topic()})
	return nil
}

// execute simulates, sends and waits for one call labelled method. On error it
// returns the state the phase should settle in.
func (w *Workflow) execute(ctx context.Context, phase Phase, sender common.Address, method string, simulate func(context.Context) (*types.TxRequest, error), topics []string) (*types.TxReceipt, State, error) {
	w.step(phase, Simulating, nil, common.Hash{})
	req, err := simulate(ctx)
	if err != nil {
		return nil, Failed, err
	}

	w.step(phase, AwaitingSignature, nil, common.Hash{})
	pending, err := w.client.Send(ctx, req)
	if err != nil {
		if errors.Is(err, chains.ErrSignatureRejected) {
			return nil, Rejected, err
		}
		var ambiguous *chains.AmbiguousOutcomeError
		if errors.As(err, &ambiguous) {
			w.remember(phase, &types.PendingTx{Hash: ambiguous.Hash, From: sender, Method: method, SentAt: time.Now()}, topics)
			return nil, Unknown, err
		}
		return nil, Failed, err
	}

	w.remember(phase, pending, topics)
	w.step(phase, Submitted, nil, pending.Hash)

	receipt, err := w.client.WaitForReceipt(ctx, pending, w.confirmations)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// a receipt arriving after cancellation is not trusted
		return nil, Unknown, &chains.TimeoutError{Op: "wait for receipt", Hash: pending.Hash, Err: ctxErr}
	}
	if err != nil {
		return nil, Unknown, err
	}
	w.forget()

	if !receipt.Succeeded() {
		return receipt, Failed, &RevertedError{Hash: pending.Hash, Reason: receipt.Reason}
	}
	return receipt, Confirmed, nil
}

func (w *Workflow) remember(phase Phase, pending *types.PendingTx, topics []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = pending
	w.pendingPhase = phase
	w.pendingTopics = topics
	if phase == PhaseApproval {
		w.snap.ApprovalHash = pending.Hash
	} else {
		w.snap.TxHash = pending.Hash
	}
}

func (w *Workflow) forget() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = nil
	w.pendingTopics = nil
}

// Recheck polls the receipt of a transaction whose outcome is unknown and settles the
// workflow when it is found. A confirmed approval returns the workflow to Idle so the
// action can be submitted again.
func (w *Workflow) Recheck(ctx context.Context) (Snapshot, error) {
	if err := w.acquire(); err != nil {
		return w.Snapshot(), err
	}
	defer w.release()

	w.mu.Lock()
	pending, phase, topics := w.pending, w.pendingPhase, w.pendingTopics
	state := w.snap.State
	w.mu.Unlock()

	if state != Unknown || pending == nil {
		return w.Snapshot(), ErrNothingToRecheck
	}

	receipt, err := w.client.WaitForReceipt(ctx, pending, w.confirmations)
	if ctx.Err() != nil || err != nil {
		if err == nil {
			err = ctx.Err()
		}
		return w.Snapshot(), err
	}
	w.forget()

	if !receipt.Succeeded() {
		err := error(&RevertedError{Hash: pending.Hash, Reason: receipt.Reason})
		if phase == PhaseApproval {
			w.step(PhaseApproval, Failed, err, pending.Hash)
			err = &ApprovalError{Err: err}
		}
		return w.Snapshot(), w.fail(PhaseAction, Failed, err)
	}

	w.invalidate(topics)
	if phase == PhaseApproval {
		w.mu.Lock()
		w.snap.ApprovalReceipt = receipt
		w.snap.Err = nil
		w.mu.Unlock()
		w.step(PhaseApproval, Confirmed, nil, receipt.Hash)
		w.step(PhaseAction, Idle, nil, common.Hash{})
		return w.Snapshot(), nil
	}

	w.mu.Lock()
	w.snap.Receipt = receipt
	w.snap.Err = nil
	w.mu.Unlock()
	w.step(PhaseAction, Confirmed, nil, receipt.Hash)
	return w.Snapshot(), nil
}

// Dismiss acknowledges an unknown outcome without resolving it
func (w *Workflow) Dismiss() error {
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.release()

	w.mu.Lock()
	state := w.snap.State
	w.mu.Unlock()
	if state != Unknown {
		return ErrNothingToRecheck
	}

	w.forget()
	w.logger.Warn("unknown transaction outcome dismissed", "action", w.Snapshot().Action)
	w.step(PhaseAction, Idle, nil, common.Hash{})
	return nil
}

func (w *Workflow) invalidate(topics []string) {
	if len(topics) == 0 {
		return
	}
	if w.bus != nil {
		w.bus.Invalidate(topics...)
		return
	}
	for _, topic := range topics {
		w.gate.Store().Invalidate(topic)
	}
}

func (w *Workflow) fail(phase Phase, to State, err error) error {
	w.step(phase, to, err, common.Hash{})
	return err
}

// step moves the main state or, in the approval phase, the approval sub-state
func (w *Workflow) step(phase Phase, to State, err error, hash common.Hash) {
	now := time.Now()

	w.mu.Lock()
	var from State
	if phase == PhaseApproval {
		from = w.snap.ApprovalState
		w.snap.ApprovalState = to
	} else {
		from = w.snap.State
		w.snap.State = to
		w.snap.Err = err
	}
	w.snap.Phase = phase
	w.snap.UpdatedAt = now
	action := w.snap.Action
	w.mu.Unlock()

	t := Transition{Action: action, Phase: phase, From: from, To: to, Err: err, Hash: hash, At: now}

	attrs := []any{"action", action, "phase", string(phase), "from", from.String(), "state", to.String()}
	if hash != (common.Hash{}) {
		attrs = append(attrs, "tx", hash.Hex())
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	w.logger.Info("workflow transition", attrs...)

	w.obsMu.Lock()
	observers := make([]func(Transition), 0, len(w.observers))
	for _, fn := range w.observers {
		observers = append(observers, fn)
	}
	w.obsMu.Unlock()

	for _, fn := range observers {
		fn(t)
	}
}

func (s Snapshot) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", s.Action, s.State, s.Reason())
	}
	return fmt.Sprintf("%s: %s", s.Action, s.State)
}
