package channel

import (
	"context"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/x402-foundation/x402-channel/pkg/ledger"
	"github.com/x402-foundation/x402-channel/pkg/sig"
	"github.com/x402-foundation/x402-channel/pkg/store"
)

// Adjudicator is the single entry point of the channel protocol: every
// operation is a method on it. It owns the Channel Store and, through the
// embedded Bond Ledger, the facilitator bond accounting; it calls out to
// the injected AssetTransfer at well-defined commit points and emits
// events after every state-mutating operation commits.
//
// A single mutex serializes every operation: there is exactly one
// invocation in flight at a time, so no operation can ever observe
// another's partial write. This trades cross-channel concurrency for a
// much simpler correctness argument.
type Adjudicator struct {
	mu sync.Mutex

	config ProtocolConfig
	store  *Store
	ledger *ledger.Ledger
	asset  *safeTransfer
	clock  Clock

	chainID       *big.Int
	escrowAddress Account

	provenSets map[Account]*store.ProvenCallSet

	events EventSink
	hooks  *Hooks
	log    *zap.Logger
}

// Option configures optional Adjudicator dependencies.
type Option func(*Adjudicator)

// WithClock overrides the default SystemClock, primarily for tests that
// need deterministic deadline arithmetic.
func WithClock(c Clock) Option {
	return func(a *Adjudicator) { a.clock = c }
}

// WithEventSink registers the sink that receives every emitted Event.
func WithEventSink(sink EventSink) Option {
	return func(a *Adjudicator) { a.events = sink }
}

// WithHooks installs observer callbacks around every per-channel operation.
func WithHooks(h *Hooks) Option {
	return func(a *Adjudicator) { a.hooks = h }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adjudicator) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAdjudicator constructs an Adjudicator backed by store for channel
// state, bondLedger for facilitator bonds, and asset for the settlement
// token. chainID and escrowAddress parameterize the on-chain call-
// call-authorization domain used by SubmitProofs.
func NewAdjudicator(chanStore *Store, bondLedger *ledger.Ledger, asset AssetTransfer, config ProtocolConfig, chainID *big.Int, escrowAddress Account, opts ...Option) (*Adjudicator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if chanStore == nil {
		chanStore = NewStore()
	}

	a := &Adjudicator{
		config:        config,
		store:         chanStore,
		ledger:        bondLedger,
		asset:         newSafeTransfer(asset),
		clock:         SystemClock{},
		chainID:       chainID,
		escrowAddress: escrowAddress,
		provenSets:    make(map[Account]*store.ProvenCallSet),
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adjudicator) now() int64 { return a.clock.Now() }

func (a *Adjudicator) emit(e Event) {
	if a.events != nil {
		a.events.Emit(e)
	}
}

func (a *Adjudicator) callAuthorizationDomain() sig.Domain {
	return sig.CallAuthorizationDomain(a.chainID, string(a.escrowAddress))
}

// Deposit opens (or reopens) payer's channel. Preconditions: amount
// is at least MinDeposit; facilitator's bond meets MinFacilitatorBond;
// any existing channel for payer is Inactive or Settled.
func (a *Adjudicator) Deposit(ctx context.Context, payer, facilitator, receiver Account, network NetworkID, amount Amount) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("Deposit", payer)

	err := a.deposit(ctx, payer, facilitator, receiver, network, amount)
	a.hooks.after("Deposit", payer, err)
	return err
}

func (a *Adjudicator) deposit(ctx context.Context, payer, facilitator, receiver Account, network NetworkID, amount Amount) error {
	if amount == nil || amount.Cmp(a.config.MinDeposit) < 0 {
		a.log.Debug("deposit rejected: below minimum", zap.String("payer", string(payer)))
		return ErrInsufficientDeposit
	}
	if !a.ledger.Qualifies(string(facilitator), a.config.MinFacilitatorBond) {
		a.log.Debug("deposit rejected: facilitator under-bonded", zap.String("facilitator", string(facilitator)))
		return ErrInsufficientFacilitatorBond
	}

	ch := a.store.GetOrCreate(payer)
	if ch.Status != StatusInactive && ch.Status != StatusSettled {
		return ErrChannelNotInactive
	}

	if err := a.asset.pull(ctx, payer, amount); err != nil {
		return err
	}

	ch.Facilitator = facilitator
	ch.Receiver = receiver
	ch.Network = network
	ch.Generation++
	ch.Balance = new(big.Int).Set(amount)
	ch.ClaimedAmount = zeroAmount()
	ch.DisputedAmount = zeroAmount()
	ch.ProvenAmount = zeroAmount()
	ch.CheckpointRoot = ZeroDigest
	ch.CheckpointAmount = zeroAmount()
	ch.DisputeDeadline = 0
	ch.ProofDeadline = 0
	ch.Status = StatusActive
	a.store.Put(ch)
	a.provenSets[payer] = store.New(ch.Generation)

	a.log.Info("channel opened",
		zap.String("payer", string(payer)),
		zap.String("facilitator", string(facilitator)),
		zap.String("amount", amount.String()),
		zap.Uint64("generation", ch.Generation),
	)
	a.emit(newEvent(EventChannelOpened, ch, amount))
	return nil
}

// TopUp increases the balance of payer's Active channel.
func (a *Adjudicator) TopUp(ctx context.Context, payer Account, amount Amount) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("TopUp", payer)

	err := a.topUp(ctx, payer, amount)
	a.hooks.after("TopUp", payer, err)
	return err
}

func (a *Adjudicator) topUp(ctx context.Context, payer Account, amount Amount) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusActive {
		return ErrChannelNotActive
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if err := a.asset.pull(ctx, payer, amount); err != nil {
		return err
	}

	ch.Balance = addAmounts(ch.Balance, amount)
	a.store.Put(ch)

	a.log.Info("channel topped up",
		zap.String("payer", string(payer)),
		zap.String("amount", amount.String()),
	)
	a.emit(newEvent(EventChannelToppedUp, ch, amount))
	return nil
}

// DepositBond pulls amount from facilitator into bond custody. Bonds live
// independently of any channel, so this is valid in every channel state.
func (a *Adjudicator) DepositBond(ctx context.Context, facilitator Account, amount Amount) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := translateLedgerErr(a.ledger.DepositBond(ctx, string(facilitator), amount)); err != nil {
		return err
	}

	a.log.Info("bond deposited",
		zap.String("facilitator", string(facilitator)),
		zap.String("amount", amount.String()),
	)
	a.emit(Event{ID: uuid.NewString(), Kind: EventBondDeposited, Facilitator: facilitator, Amount: amount})
	return nil
}

// WithdrawBond releases amount of facilitator's bond back to it, unless
// the remainder would dip below the exposure locked by channels the
// facilitator still backs.
func (a *Adjudicator) WithdrawBond(ctx context.Context, facilitator Account, amount Amount) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := translateLedgerErr(a.ledger.WithdrawBond(ctx, string(facilitator), amount)); err != nil {
		return err
	}

	a.log.Info("bond withdrawn",
		zap.String("facilitator", string(facilitator)),
		zap.String("amount", amount.String()),
	)
	a.emit(Event{ID: uuid.NewString(), Kind: EventBondWithdrawn, Facilitator: facilitator, Amount: amount})
	return nil
}

// translateLedgerErr maps a *ledger.Error onto the matching *Error so
// callers only ever branch on channel.Code, not a second error type.
func translateLedgerErr(err error) error {
	if err == nil {
		return nil
	}
	if le, ok := err.(*ledger.Error); ok {
		return newError(Code(le.Code), "%s", le.Message)
	}
	return err
}
