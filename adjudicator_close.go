package channel

import (
	"context"
	"math/big"

	"go.uber.org/zap"
)

// InitiateClose is the payer's proposal to close: it records the
// acknowledged amount and the off-chain checkpoint root it was computed
// against, then opens the dispute window.
func (a *Adjudicator) InitiateClose(ctx context.Context, payer Account, acknowledgedAmount Amount, checkpointRoot Digest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("InitiateClose", payer)

	err := a.initiateClose(payer, acknowledgedAmount, checkpointRoot)
	a.hooks.after("InitiateClose", payer, err)
	return err
}

func (a *Adjudicator) initiateClose(payer Account, acknowledgedAmount Amount, checkpointRoot Digest) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusActive {
		return ErrChannelNotActive
	}
	if acknowledgedAmount == nil || acknowledgedAmount.Cmp(ch.Balance) > 0 {
		return ErrInsufficientBalance
	}

	a.openClosing(ch, acknowledgedAmount, checkpointRoot)
	// The payer's own acknowledgment is the mutual checkpoint: it becomes
	// the floor proven_amount baselines from if a dispute follows.
	ch.CheckpointAmount = new(big.Int).Set(acknowledgedAmount)
	a.store.Put(ch)

	a.log.Info("close initiated by payer",
		zap.String("payer", string(payer)),
		zap.String("amount", acknowledgedAmount.String()),
	)
	a.emit(newEvent(EventCloseInitiated, ch, acknowledgedAmount))
	return nil
}

// ClaimSettlement is the facilitator's symmetric counterpart to
// InitiateClose: it proposes the same closing shape from the other side.
func (a *Adjudicator) ClaimSettlement(ctx context.Context, payer, caller Account, amount Amount, merkleRoot Digest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("ClaimSettlement", payer)

	err := a.claimSettlement(payer, caller, amount, merkleRoot)
	a.hooks.after("ClaimSettlement", payer, err)
	return err
}

func (a *Adjudicator) claimSettlement(payer, caller Account, amount Amount, merkleRoot Digest) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusActive {
		return ErrChannelNotActive
	}
	if caller != ch.Facilitator {
		return ErrUnauthorized
	}
	if amount == nil || amount.Cmp(ch.Balance) > 0 {
		return ErrInsufficientBalance
	}

	a.openClosing(ch, amount, merkleRoot)
	a.store.Put(ch)

	a.log.Info("close initiated by facilitator",
		zap.String("payer", string(payer)),
		zap.String("facilitator", string(caller)),
		zap.String("amount", amount.String()),
	)
	a.emit(newEvent(EventCloseInitiated, ch, amount))
	return nil
}

// openClosing applies the shared close-initiation effect: record the claim and the
// root it was computed against, open the dispute window, transition to
// Closing. checkpoint_amount is deliberately not touched here — a
// unilateral claim is not a mutual checkpoint, and advancing the floor on
// the facilitator's say-so would make an overclaim unslashable.
func (a *Adjudicator) openClosing(ch *Channel, claimedAmount Amount, checkpointRoot Digest) {
	ch.ClaimedAmount = new(big.Int).Set(claimedAmount)
	ch.CheckpointRoot = checkpointRoot
	ch.DisputeDeadline = a.now() + a.config.DisputeWindow
	ch.Status = StatusClosing
}

// FacilitatorConfirm settles immediately at the claimed amount, bypassing
// the dispute window. Only the facilitator may call this; the
// payer cannot self-confirm early, preserving the facilitator's right to
// contest during the full window.
func (a *Adjudicator) FacilitatorConfirm(ctx context.Context, payer, caller Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("FacilitatorConfirm", payer)

	err := a.facilitatorConfirm(ctx, payer, caller)
	a.hooks.after("FacilitatorConfirm", payer, err)
	return err
}

func (a *Adjudicator) facilitatorConfirm(ctx context.Context, payer, caller Account) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusClosing {
		return ErrChannelNotClosing
	}
	if caller != ch.Facilitator {
		return ErrUnauthorized
	}

	return a.settle(ctx, ch, ch.ClaimedAmount)
}

// ConfirmClose is the other path from Closing into Settled: once the
// dispute window has elapsed with no dispute raised, anyone may trigger
// settlement at the claimed amount. The payer cannot call this before the
// window expires; early settlement belongs only to FacilitatorConfirm,
// preserving the facilitator's right to contest.
func (a *Adjudicator) ConfirmClose(ctx context.Context, payer Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks.before("ConfirmClose", payer)

	err := a.confirmClose(ctx, payer)
	a.hooks.after("ConfirmClose", payer, err)
	return err
}

func (a *Adjudicator) confirmClose(ctx context.Context, payer Account) error {
	ch, ok := a.store.Get(payer)
	if !ok || ch.Status != StatusClosing {
		return ErrChannelNotClosing
	}
	if a.now() <= ch.DisputeDeadline {
		return ErrDisputeWindowNotExpired
	}

	return a.settle(ctx, ch, ch.ClaimedAmount)
}
