// Package asset provides in-repo reference implementations of
// channel.AssetTransfer for tests and demos — not part of the
// adjudication core, which only depends on the interface.
package asset

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	channel "github.com/x402-foundation/x402-channel"
)

// Ledger is a fungible in-memory token: Pull debits an account (failing
// if its balance is insufficient), Push credits one. The adjudicator
// itself never inspects balances directly; Ledger exists so tests can
// assert on them after a sequence of operations.
type Ledger struct {
	mu       sync.Mutex
	balances map[channel.Account]*big.Int

	// FailPull/FailPush make every transfer from/to a flagged account
	// report failure without mutating balances, until the flag is cleared,
	// for exercising the adjudicator's AssetTransferFailed paths.
	FailPull map[channel.Account]bool
	FailPush map[channel.Account]bool
}

// NewLedger returns an empty Ledger. Fund seeds initial balances, e.g.
// a payer's starting token holdings before a Deposit.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[channel.Account]*big.Int),
		FailPull: make(map[channel.Account]bool),
		FailPush: make(map[channel.Account]bool),
	}
}

// Fund credits account with amount, for test setup before any adjudicator
// call observes the balance.
func (l *Ledger) Fund(account channel.Account, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceLocked(account).Add(l.balanceLocked(account), amount)
}

// Balance returns account's current balance (zero if never funded or
// touched).
func (l *Ledger) Balance(account channel.Account) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(account))
}

func (l *Ledger) balanceLocked(account channel.Account) *big.Int {
	b, ok := l.balances[account]
	if !ok {
		b = new(big.Int)
		l.balances[account] = b
	}
	return b
}

// Pull implements channel.AssetTransfer.
func (l *Ledger) Pull(ctx context.Context, from channel.Account, amount channel.Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailPull[from] {
		return false, fmt.Errorf("asset: forced pull failure for %s", from)
	}

	b := l.balanceLocked(from)
	if b.Cmp(amount) < 0 {
		return false, nil
	}
	b.Sub(b, amount)
	return true, nil
}

// Push implements channel.AssetTransfer.
func (l *Ledger) Push(ctx context.Context, to channel.Account, amount channel.Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailPush[to] {
		return false, fmt.Errorf("asset: forced push failure for %s", to)
	}

	l.balanceLocked(to).Add(l.balanceLocked(to), amount)
	return true, nil
}
