package channel

import (
	"math/big"
	"sync"
)

// Store holds one Channel record per payer, addressable for the payer's
// entire lifetime across Settled/reopen cycles.
type Store struct {
	mu       sync.Mutex
	channels map[Account]*Channel
}

// NewStore returns an empty Channel Store.
func NewStore() *Store {
	return &Store{channels: make(map[Account]*Channel)}
}

// Get returns the channel for payer, and whether a record exists for it.
// Deposit creates the record before its asset pull, so a record can exist
// (StatusInactive) for a payer whose channel was never opened.
// The returned pointer is the live record; callers holding the
// Adjudicator's own serialization discipline may mutate it
// in place before a Put.
func (s *Store) Get(payer Account) (*Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[payer]
	return ch, ok
}

// Put inserts or replaces the record for ch.Payer.
func (s *Store) Put(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.Payer] = ch
}

// GetOrCreate returns the existing record for payer, or a freshly
// zeroed, StatusInactive record if none exists yet.
func (s *Store) GetOrCreate(payer Account) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[payer]
	if ok {
		return ch
	}
	ch = &Channel{
		Payer:            payer,
		Balance:          zeroAmount(),
		ClaimedAmount:    zeroAmount(),
		DisputedAmount:   zeroAmount(),
		ProvenAmount:     zeroAmount(),
		CheckpointAmount: zeroAmount(),
		Status:           StatusInactive,
	}
	s.channels[payer] = ch
	return ch
}

// lockedBondForChannel reports the bond a single channel locks against
// its facilitator: claimed_amount - proven_amount, clamped to zero, for
// any channel not yet Settled or Inactive. This is the facilitator's
// worst-case exposure if the channel resolves as an overclaim.
func lockedBondForChannel(ch *Channel) Amount {
	if ch == nil || ch.Status == StatusInactive || ch.Status == StatusSettled {
		return zeroAmount()
	}
	exposure := new(big.Int).Sub(ch.ClaimedAmount, ch.ProvenAmount)
	if exposure.Sign() < 0 {
		return zeroAmount()
	}
	return exposure
}

// All returns every channel currently tracked, in no particular order.
// Used by the Adjudicator to compute a facilitator's aggregate locked
// bond across all of its payers.
func (s *Store) All() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// LockedBond sums lockedBondForChannel across every channel facilitator
// currently backs, giving pkg/ledger.LockProvider's answer for a
// withdraw_bond call.
func (s *Store) LockedBond(facilitator Account) Amount {
	total := zeroAmount()
	for _, ch := range s.All() {
		if ch.Facilitator != facilitator {
			continue
		}
		total.Add(total, lockedBondForChannel(ch))
	}
	return total
}

// BondLockProvider adapts Store to pkg/ledger.LockProvider, whose method
// takes a plain string rather than the Account type this package prefers
// for readability at call sites.
type BondLockProvider struct {
	store *Store
}

// NewBondLockProvider wraps store so it can be passed as the locks
// argument to ledger.New, wiring the §9 withdrawal-floor decision into
// the Bond Ledger without the leaf ledger package importing this one.
func NewBondLockProvider(store *Store) *BondLockProvider {
	return &BondLockProvider{store: store}
}

func (p *BondLockProvider) LockedBond(facilitator string) *big.Int {
	return p.store.LockedBond(Account(facilitator))
}
