package channel

import "context"

// AssetTransfer is the only external resource the adjudicator touches.
// Implementations must indicate failure through the bool return in
// addition to a non-nil error: ERC-20 style assets may signal failure by
// returning false instead of reverting, so the safe wrapper checks both.
type AssetTransfer interface {
	// Pull moves amount of the asset from from into the adjudicator's
	// custody. Used by Deposit and TopUp; Dispute withholds its fee from the
	// channel balance without a transfer.
	Pull(ctx context.Context, from Account, amount Amount) (bool, error)

	// Push moves amount of the asset out of the adjudicator's custody to to.
	// Used by settlement disbursement; bond deposits, withdrawals and slashes
	// go through the Bond Ledger's own transfer instead.
	Push(ctx context.Context, to Account, amount Amount) (bool, error)
}

// safeTransfer wraps an AssetTransfer so every call site gets the same
// revert/false-return handling instead of repeating it at each operation.
type safeTransfer struct {
	inner AssetTransfer
}

func newSafeTransfer(inner AssetTransfer) *safeTransfer {
	return &safeTransfer{inner: inner}
}

func (s *safeTransfer) pull(ctx context.Context, from Account, amount Amount) error {
	if amount.Sign() == 0 {
		return nil
	}
	ok, err := s.inner.Pull(ctx, from, amount)
	if err != nil {
		return newError(CodeAssetTransferFailed, "pull from %s failed: %v", from, err)
	}
	if !ok {
		return newError(CodeAssetTransferFailed, "pull from %s returned false", from)
	}
	return nil
}

func (s *safeTransfer) push(ctx context.Context, to Account, amount Amount) error {
	if amount.Sign() == 0 {
		return nil
	}
	ok, err := s.inner.Push(ctx, to, amount)
	if err != nil {
		return newError(CodeAssetTransferFailed, "push to %s failed: %v", to, err)
	}
	if !ok {
		return newError(CodeAssetTransferFailed, "push to %s returned false", to)
	}
	return nil
}
