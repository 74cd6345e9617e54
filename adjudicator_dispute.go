package channel

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/x402-foundation/x402-channel/pkg/merkle"
	"github.com/x402-foundation/x402-channel/pkg/sig"
	"github.com/x402-foundation/x402-channel/pkg/store"
)

// Dispute is the payer's counter-claim during Closing: it withholds
// the dispute fee, baselines proven_amount at the last mutual checkpoint
// (zero unless the payer itself acknowledged an amount), and opens the
// proof window for the facilitator to prove its claim against the
// checkpoint root.
func (a *Adjudicator) Dispute(ctx context.Context, payer, caller Account, counterAmount Amount) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("Dispute", payer)

	err := a.dispute(payer, caller, counterAmount)
	a.hooks.after("Dispute", payer, err)
	return err
}

func (a *Adjudicator) dispute(payer, caller Account, counterAmount Amount) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusClosing {
		return ErrChannelNotClosing
	}
	if caller != payer {
		return ErrUnauthorized
	}
	if a.now() > ch.DisputeDeadline {
		return ErrDisputeWindowExpired
	}
	if counterAmount == nil || counterAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if ch.Balance.Cmp(a.config.DisputeFee) < 0 {
		return ErrInsufficientBalance
	}

	ch.Balance = mustSub(ch.Balance, a.config.DisputeFee)
	ch.DisputedAmount = new(big.Int).Set(counterAmount)
	ch.ProvenAmount = new(big.Int).Set(ch.CheckpointAmount)
	ch.ProofDeadline = a.now() + a.config.ProofWindow
	ch.Status = StatusDisputed
	a.store.Put(ch)

	a.log.Info("dispute raised by payer",
		zap.String("payer", string(payer)),
		zap.String("counter_amount", counterAmount.String()),
	)
	a.emit(newEvent(EventDisputeRaised, ch, counterAmount))
	return nil
}

// FacilitatorDispute is the facilitator's assertion that the payer
// underclaimed: it only applies when counterAmount exceeds the payer's
// own claimed_amount, and replaces the checkpoint root with the one the
// facilitator intends to prove proofs against.
func (a *Adjudicator) FacilitatorDispute(ctx context.Context, payer, caller Account, counterAmount Amount, merkleRoot Digest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("FacilitatorDispute", payer)

	err := a.facilitatorDispute(payer, caller, counterAmount, merkleRoot)
	a.hooks.after("FacilitatorDispute", payer, err)
	return err
}

func (a *Adjudicator) facilitatorDispute(payer, caller Account, counterAmount Amount, merkleRoot Digest) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusClosing {
		return ErrChannelNotClosing
	}
	if caller != ch.Facilitator {
		return ErrUnauthorized
	}
	if a.now() > ch.DisputeDeadline {
		return ErrDisputeWindowExpired
	}
	if counterAmount == nil || counterAmount.Cmp(ch.ClaimedAmount) <= 0 {
		return newError(CodeInvalidAmount, "facilitator dispute must assert an amount greater than the claimed amount")
	}

	ch.DisputedAmount = new(big.Int).Set(counterAmount)
	ch.CheckpointRoot = merkleRoot
	ch.ProofDeadline = a.now() + a.config.ProofWindow
	ch.Status = StatusDisputed
	a.store.Put(ch)

	a.log.Info("dispute raised by facilitator",
		zap.String("payer", string(payer)),
		zap.String("counter_amount", counterAmount.String()),
	)
	a.emit(newEvent(EventDisputeRaised, ch, counterAmount))
	return nil
}

// ProofEntry is one call receipt submitted during SubmitProofs: the
// Merkle leaf's fields, its sibling path against the checkpoint root, and
// the payer's typed-data signature over {call_id, cost, timestamp,
// escrow}.
type ProofEntry struct {
	CallID    CallID
	Cost      Amount
	Timestamp int64
	Signature []byte
	Proof     []Digest
}

// SubmitProofs lets the facilitator substantiate the proven amount with
// individually Merkle-verified and payer-signed call receipts. Entries
// already proven in this channel generation are skipped silently
// (idempotent); any entry that fails Merkle or signature verification
// aborts the entire batch with no partial mutation.
func (a *Adjudicator) SubmitProofs(ctx context.Context, payer, caller Account, entries []ProofEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("SubmitProofs", payer)

	err := a.submitProofs(payer, caller, entries)
	a.hooks.after("SubmitProofs", payer, err)
	return err
}

func (a *Adjudicator) submitProofs(payer, caller Account, entries []ProofEntry) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusDisputed {
		return ErrChannelNotDisputed
	}
	if caller != ch.Facilitator {
		return ErrUnauthorized
	}
	if a.now() > ch.ProofDeadline {
		return ErrProofWindowExpired
	}

	proven := a.provenSets[payer]
	if proven == nil || proven.Generation() != ch.Generation {
		proven = store.New(ch.Generation)
		a.provenSets[payer] = proven
	}

	domain := a.callAuthorizationDomain()
	accumulator := zeroAmount()
	newlyProven := make([][32]byte, 0, len(entries))
	inBatch := make(map[[32]byte]bool, len(entries))

	for _, entry := range entries {
		key := [32]byte(entry.CallID)
		// Already credited, in a prior batch or earlier in this one: skip
		// silently rather than failing, so retried batches are harmless.
		if proven.Contains(key) || inBatch[key] {
			continue
		}
		inBatch[key] = true

		leaf := sig.LeafHash(sig.Digest(entry.CallID), entry.Cost, entry.Timestamp)
		if !merkle.Verify(leaf, toMerkleDigests(entry.Proof), merkle.Digest(ch.CheckpointRoot)) {
			return ErrInvalidProof
		}

		digest, err := sig.HashCallAuthorization(domain, sig.Digest(entry.CallID), entry.Cost, big.NewInt(entry.Timestamp), string(a.escrowAddress))
		if err != nil {
			return newError(CodeInvalidSignature, "hash call authorization: %v", err)
		}
		if !sig.VerifySignedBy(digest, entry.Signature, string(payer)) {
			return ErrInvalidSignature
		}

		accumulator = addAmounts(accumulator, entry.Cost)
		newlyProven = append(newlyProven, key)
	}

	for _, key := range newlyProven {
		proven.CheckAndMark(key)
	}
	ch.ProvenAmount = addAmounts(ch.ProvenAmount, accumulator)
	a.store.Put(ch)

	a.log.Info("proofs submitted",
		zap.String("payer", string(payer)),
		zap.Int("entries", len(entries)),
		zap.Int("newly_proven", len(newlyProven)),
		zap.String("proven_amount", ch.ProvenAmount.String()),
	)
	a.emit(newEvent(EventProofSubmitted, ch, accumulator))
	return nil
}

func toMerkleDigests(proof []Digest) []merkle.Digest {
	out := make([]merkle.Digest, len(proof))
	for i, d := range proof {
		out[i] = merkle.Digest(d)
	}
	return out
}

// FinalizeDispute resolves a Disputed channel once the proof window has
// elapsed. Callable by anyone:
// resolution depends only on recorded state and the clock, not on caller
// identity.
func (a *Adjudicator) FinalizeDispute(ctx context.Context, payer Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("FinalizeDispute", payer)

	err := a.finalizeDispute(ctx, payer)
	a.hooks.after("FinalizeDispute", payer, err)
	return err
}

func (a *Adjudicator) finalizeDispute(ctx context.Context, payer Account) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusDisputed {
		return ErrChannelNotDisputed
	}
	if a.now() <= ch.ProofDeadline {
		return ErrProofWindowNotExpired
	}

	var settlement Amount
	if ch.DisputedAmount.Cmp(ch.ClaimedAmount) > 0 {
		settlement = a.resolveUnderclaim(ch)
	} else {
		var err error
		settlement, err = a.resolveOverclaim(ctx, ch)
		if err != nil {
			return err
		}
	}

	return a.settle(ctx, ch, settlement)
}

// resolveUnderclaim handles a facilitator-raised dispute: the facilitator asserted the payer
// underclaimed. If the proven amount confirms it, the payer is charged a
// penalty on top of settlement. The mutual checkpoint is a floor here:
// the payer's own acknowledged amount stands even if the facilitator
// proves nothing beyond it, without the facilitator having to re-prove
// calls the payer already conceded (which would double-count them).
func (a *Adjudicator) resolveUnderclaim(ch *Channel) Amount {
	proven := maxAmount(ch.ProvenAmount, ch.CheckpointAmount)
	settlement := minAmount(minAmount(proven, ch.DisputedAmount), ch.Balance)

	if settlement.Cmp(ch.ClaimedAmount) > 0 {
		underclaim := mustSub(settlement, ch.ClaimedAmount)
		penalty := divFloor(underclaim, a.config.UnderclaimPenaltyNumerator, a.config.UnderclaimPenaltyDenominator)
		if withPenalty := addAmounts(settlement, penalty); ch.Balance.Cmp(withPenalty) >= 0 {
			settlement = withPenalty
			a.log.Warn("payer penalized for underclaim",
				zap.String("payer", string(ch.Payer)),
				zap.String("underclaim", underclaim.String()),
				zap.String("penalty", penalty.String()),
			)
			a.emit(newEvent(EventPayerPenalized, ch, penalty))
		}
	}
	return settlement
}

// resolveOverclaim handles a payer-raised dispute: the payer disputed the facilitator's
// claim. If proven_amount falls short of what the facilitator claimed,
// the facilitator's bond is slashed to compensate the payer. The dispute
// fee is refunded whenever the settlement does not exceed the payer's
// counter-claim; since settlement is min(proven, disputed), that holds on
// every path through this branch.
func (a *Adjudicator) resolveOverclaim(ctx context.Context, ch *Channel) (Amount, error) {
	settlement := minAmount(ch.ProvenAmount, ch.DisputedAmount)

	if ch.ProvenAmount.Cmp(ch.ClaimedAmount) < 0 {
		overclaim := mustSub(ch.ClaimedAmount, ch.ProvenAmount)
		slashed, err := a.ledger.Slash(ctx, string(ch.Facilitator), string(ch.Payer), overclaim)
		if err != nil {
			return nil, translateLedgerErr(err)
		}
		if slashed.Sign() > 0 {
			a.log.Warn("facilitator bond slashed for overclaim",
				zap.String("facilitator", string(ch.Facilitator)),
				zap.String("payer", string(ch.Payer)),
				zap.String("slashed", slashed.String()),
			)
			a.emit(newEvent(EventBondSlashed, ch, slashed))
		}
	}

	if settlement.Cmp(ch.DisputedAmount) <= 0 {
		ch.Balance = addAmounts(ch.Balance, a.config.DisputeFee)
	}
	return settlement, nil
}

// settle is the shared final transition: disburse settlement to the
// receiver, refund the remainder to the payer, zero the balance, and move
// to Settled.
func (a *Adjudicator) settle(ctx context.Context, ch *Channel, settlement Amount) error {
	refund := mustSub(ch.Balance, settlement)

	if err := a.asset.push(ctx, ch.Receiver, settlement); err != nil {
		return err
	}
	if err := a.asset.push(ctx, ch.Payer, refund); err != nil {
		return err
	}

	ch.Balance = zeroAmount()
	ch.Status = StatusSettled
	a.store.Put(ch)

	a.log.Info("channel settled",
		zap.String("payer", string(ch.Payer)),
		zap.String("receiver", string(ch.Receiver)),
		zap.String("settlement", settlement.String()),
		zap.String("refund", refund.String()),
	)
	a.emit(newEvent(EventChannelSettled, ch, settlement))
	return nil
}

// mustSub assumes the caller has already established a≥b via a preceding
// balance check; it exists so the arithmetic at those call sites reads as
// a plain subtraction instead of an error-returning one that can never
// actually fail there.
func mustSub(a, b Amount) Amount {
	return new(big.Int).Sub(a, b)
}
