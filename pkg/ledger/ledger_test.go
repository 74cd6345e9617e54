package ledger

import (
	"context"
	"math/big"
	"testing"
)

type fakeAsset struct {
	balances map[string]*big.Int
	failPush bool
}

func newFakeAsset() *fakeAsset {
	return &fakeAsset{balances: make(map[string]*big.Int)}
}

func (f *fakeAsset) balance(account string) *big.Int {
	b, ok := f.balances[account]
	if !ok {
		return big.NewInt(0)
	}
	return b
}

func (f *fakeAsset) Pull(ctx context.Context, from string, amount *big.Int) (bool, error) {
	b := f.balance(from)
	if b.Cmp(amount) < 0 {
		return false, nil
	}
	f.balances[from] = new(big.Int).Sub(b, amount)
	return true, nil
}

func (f *fakeAsset) Push(ctx context.Context, to string, amount *big.Int) (bool, error) {
	if f.failPush {
		return false, nil
	}
	f.balances[to] = new(big.Int).Add(f.balance(to), amount)
	return true, nil
}

type fixedLocks struct{ locked *big.Int }

func (l fixedLocks) LockedBond(string) *big.Int { return l.locked }

func TestLedger_DepositThenWithdraw(t *testing.T) {
	asset := newFakeAsset()
	asset.balances["fac"] = big.NewInt(1000)
	l := New(asset, nil)

	if err := l.DepositBond(context.Background(), "fac", big.NewInt(600)); err != nil {
		t.Fatalf("DepositBond() error = %v", err)
	}
	if l.Balance("fac").Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("Balance = %v, want 600", l.Balance("fac"))
	}

	if err := l.WithdrawBond(context.Background(), "fac", big.NewInt(200)); err != nil {
		t.Fatalf("WithdrawBond() error = %v", err)
	}
	if l.Balance("fac").Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("Balance = %v, want 400", l.Balance("fac"))
	}
	if asset.balance("fac").Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("asset balance = %v, want 600", asset.balance("fac"))
	}
}

func TestLedger_DepositFailsWhenTransferFails(t *testing.T) {
	asset := newFakeAsset() // unfunded, Pull returns false
	l := New(asset, nil)

	err := l.DepositBond(context.Background(), "fac", big.NewInt(100))
	le, ok := err.(*Error)
	if !ok || le.Code != CodeAssetTransferFailed {
		t.Fatalf("DepositBond() error = %v, want %s", err, CodeAssetTransferFailed)
	}
	if l.Balance("fac").Sign() != 0 {
		t.Fatalf("Balance = %v, want 0 after failed deposit", l.Balance("fac"))
	}
}

func TestLedger_WithdrawRejectsOverdraw(t *testing.T) {
	asset := newFakeAsset()
	asset.balances["fac"] = big.NewInt(1000)
	l := New(asset, nil)
	if err := l.DepositBond(context.Background(), "fac", big.NewInt(500)); err != nil {
		t.Fatalf("DepositBond() error = %v", err)
	}

	err := l.WithdrawBond(context.Background(), "fac", big.NewInt(501))
	le, ok := err.(*Error)
	if !ok || le.Code != CodeInsufficientBond {
		t.Fatalf("WithdrawBond() error = %v, want %s", err, CodeInsufficientBond)
	}
}

func TestLedger_WithdrawRespectsLockedFloor(t *testing.T) {
	asset := newFakeAsset()
	asset.balances["fac"] = big.NewInt(1000)
	l := New(asset, fixedLocks{locked: big.NewInt(300)})
	if err := l.DepositBond(context.Background(), "fac", big.NewInt(500)); err != nil {
		t.Fatalf("DepositBond() error = %v", err)
	}

	// 500 - 300 = 200 is withdrawable; 201 would dip into the lock.
	err := l.WithdrawBond(context.Background(), "fac", big.NewInt(201))
	le, ok := err.(*Error)
	if !ok || le.Code != CodeInsufficientBond {
		t.Fatalf("WithdrawBond() error = %v, want %s", err, CodeInsufficientBond)
	}

	if err := l.WithdrawBond(context.Background(), "fac", big.NewInt(200)); err != nil {
		t.Fatalf("WithdrawBond() at the lock boundary error = %v", err)
	}
}

func TestLedger_SlashClampsToBond(t *testing.T) {
	asset := newFakeAsset()
	asset.balances["fac"] = big.NewInt(1000)
	l := New(asset, nil)
	if err := l.DepositBond(context.Background(), "fac", big.NewInt(300)); err != nil {
		t.Fatalf("DepositBond() error = %v", err)
	}

	effective, err := l.Slash(context.Background(), "fac", "payer", big.NewInt(500))
	if err != nil {
		t.Fatalf("Slash() error = %v", err)
	}
	if effective.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("effective slash = %v, want 300 (clamped to bond)", effective)
	}
	if l.Balance("fac").Sign() != 0 {
		t.Fatalf("Balance = %v, want 0 after full slash", l.Balance("fac"))
	}
	if asset.balance("payer").Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("payer compensation = %v, want 300", asset.balance("payer"))
	}
}

func TestLedger_SlashZeroBondIsNoOp(t *testing.T) {
	l := New(newFakeAsset(), nil)
	effective, err := l.Slash(context.Background(), "fac", "payer", big.NewInt(500))
	if err != nil {
		t.Fatalf("Slash() error = %v", err)
	}
	if effective.Sign() != 0 {
		t.Fatalf("effective slash = %v, want 0", effective)
	}
}

func TestLedger_Qualifies(t *testing.T) {
	asset := newFakeAsset()
	asset.balances["fac"] = big.NewInt(1000)
	l := New(asset, nil)
	if err := l.DepositBond(context.Background(), "fac", big.NewInt(100)); err != nil {
		t.Fatalf("DepositBond() error = %v", err)
	}

	if !l.Qualifies("fac", big.NewInt(100)) {
		t.Fatalf("Qualifies(100) = false, want true")
	}
	if l.Qualifies("fac", big.NewInt(101)) {
		t.Fatalf("Qualifies(101) = true, want false")
	}
}
