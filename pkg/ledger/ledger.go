// Package ledger implements the facilitator bond ledger: a
// per-facilitator balance of the settlement asset, backing the slash that
// funds payer compensation on a confirmed overclaim.
package ledger

import (
	"context"
	"math/big"
	"sync"
)

// AssetTransfer is the subset of the root package's AssetTransfer the
// ledger needs, declared locally so this package has no dependency on
// the packages above it.
type AssetTransfer interface {
	Pull(ctx context.Context, from string, amount *big.Int) (bool, error)
	Push(ctx context.Context, to string, amount *big.Int) (bool, error)
}

// LockProvider answers how much of a facilitator's bond must stay locked
// because it backs an outstanding (not yet Settled) channel. The Bond
// Ledger consults this before honoring a withdrawal, so a facilitator
// cannot drain its bond while a channel it backs is still contestable.
type LockProvider interface {
	LockedBond(facilitator string) *big.Int
}

// Error kinds mirror channel.Code without importing the root package;
// callers that do import channel translate these through errors.Is-style
// matching on Code, set at construction time below.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

const (
	CodeInsufficientBond    = "insufficient_bond"
	CodeAssetTransferFailed = "asset_transfer_failed"
)

// Ledger tracks facilitator bonds: deposit, withdraw, and slash. It is
// safe for concurrent use; every operation is a single lock-held map
// mutation plus one asset transfer at a well-defined commit point.
type Ledger struct {
	mu    sync.Mutex
	bonds map[string]*big.Int
	asset AssetTransfer
	locks LockProvider
}

// New returns an empty Bond Ledger backed by asset. locks may be nil, in
// which case WithdrawBond never locks anything beyond the bond balance
// itself (used by tests that don't need the §9 protection).
func New(asset AssetTransfer, locks LockProvider) *Ledger {
	return &Ledger{
		bonds: make(map[string]*big.Int),
		asset: asset,
		locks: locks,
	}
}

// Balance returns the facilitator's current bonded amount (zero if none).
func (l *Ledger) Balance(facilitator string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(facilitator))
}

func (l *Ledger) balanceLocked(facilitator string) *big.Int {
	b, ok := l.bonds[facilitator]
	if !ok {
		b = new(big.Int)
		l.bonds[facilitator] = b
	}
	return b
}

// DepositBond pulls amount from facilitator into bond custody.
func (l *Ledger) DepositBond(ctx context.Context, facilitator string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.asset.Pull(ctx, facilitator, amount)
	if err != nil || !ok {
		return &Error{Code: CodeAssetTransferFailed, Message: "bond deposit transfer failed"}
	}

	b := l.balanceLocked(facilitator)
	b.Add(b, amount)
	return nil
}

// WithdrawBond releases amount back to facilitator if it does not bring the
// remaining bond below the amount locked by outstanding channels.
func (l *Ledger) WithdrawBond(ctx context.Context, facilitator string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balanceLocked(facilitator)
	remaining := new(big.Int).Sub(b, amount)
	if remaining.Sign() < 0 {
		return &Error{Code: CodeInsufficientBond, Message: "amount exceeds bond balance"}
	}
	if l.locks != nil {
		if locked := l.locks.LockedBond(facilitator); locked != nil && remaining.Cmp(locked) < 0 {
			return &Error{Code: CodeInsufficientBond, Message: "amount would release bond locked by an outstanding channel"}
		}
	}

	ok, err := l.asset.Push(ctx, facilitator, amount)
	if err != nil || !ok {
		return &Error{Code: CodeAssetTransferFailed, Message: "bond withdrawal transfer failed"}
	}

	b.Set(remaining)
	return nil
}

// Slash reduces facilitator's bond by min(amount, bond) and pays the
// effective slash to payer. Only the adjudicator's dispute finalization
// calls it, never arbitrary callers. Returns the effective amount
// slashed.
func (l *Ledger) Slash(ctx context.Context, facilitator, payer string, amount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balanceLocked(facilitator)
	effective := amount
	if b.Cmp(amount) < 0 {
		effective = new(big.Int).Set(b)
	}
	if effective.Sign() == 0 {
		return effective, nil
	}

	ok, err := l.asset.Push(ctx, payer, effective)
	if err != nil || !ok {
		return nil, &Error{Code: CodeAssetTransferFailed, Message: "slash transfer failed"}
	}

	b.Sub(b, effective)
	return effective, nil
}

// Qualifies reports whether facilitator's current bond is large enough
// for it to be chosen at channel open.
func (l *Ledger) Qualifies(facilitator string, minimum *big.Int) bool {
	return l.Balance(facilitator).Cmp(minimum) >= 0
}
