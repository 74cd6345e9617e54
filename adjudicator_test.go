package channel

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/x402-channel/pkg/ledger"
	"github.com/x402-foundation/x402-channel/pkg/merkle"
	"github.com/x402-foundation/x402-channel/pkg/sig"
)

// fakeAsset is a minimal in-memory AssetTransfer, local to this package's
// tests so adjudicator_test.go doesn't need to import the asset package
// and create a test-only dependency edge back into it.
type fakeAsset struct {
	balances map[Account]*big.Int
}

func newFakeAsset() *fakeAsset {
	return &fakeAsset{balances: make(map[Account]*big.Int)}
}

func (f *fakeAsset) fund(account Account, amount int64) {
	f.balances[account] = big.NewInt(amount)
}

func (f *fakeAsset) balance(account Account) *big.Int {
	b, ok := f.balances[account]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b)
}

func (f *fakeAsset) Pull(ctx context.Context, from Account, amount Amount) (bool, error) {
	b := f.balance(from)
	if b.Cmp(amount) < 0 {
		return false, nil
	}
	f.balances[from] = new(big.Int).Sub(b, amount)
	return true, nil
}

func (f *fakeAsset) Push(ctx context.Context, to Account, amount Amount) (bool, error) {
	f.balances[to] = new(big.Int).Add(f.balance(to), amount)
	return true, nil
}

// ledgerAssetAdapter adapts fakeAsset (keyed on the root package's Account
// type) to pkg/ledger.AssetTransfer, which is declared in terms of string
// and *big.Int so that package has no dependency on the root package.
type ledgerAssetAdapter struct {
	inner *fakeAsset
}

func (a ledgerAssetAdapter) Pull(ctx context.Context, from string, amount *big.Int) (bool, error) {
	return a.inner.Pull(ctx, Account(from), amount)
}

func (a ledgerAssetAdapter) Push(ctx context.Context, to string, amount *big.Int) (bool, error) {
	return a.inner.Push(ctx, Account(to), amount)
}

// fakeClock is a settable Clock for deterministic deadline arithmetic.
type fakeClock struct{ t int64 }

func (c *fakeClock) Now() int64      { return c.t }
func (c *fakeClock) advance(d int64) { c.t += d }

// receiptBatch is a test convenience: build a Merkle tree over a set of
// (cost, timestamp) receipts for a fixed payer key, and hand back both
// the root and ready-to-submit ProofEntry values signed with the payer's
// key over the call-authorization domain.
type receiptBatch struct {
	entries []ProofEntry
	root    Digest
}

func buildReceipts(t *testing.T, payerKey *ecdsaKey, domain sig.Domain, escrow Account, costs []int64, timestamp int64) receiptBatch {
	t.Helper()

	acc := merkle.New()
	callIDs := make([]CallID, len(costs))
	for i := range costs {
		var id CallID
		id[31] = byte(i + 1)
		callIDs[i] = id
		leaf := sig.LeafHash(sig.Digest(id), big.NewInt(costs[i]), timestamp)
		acc.Insert(leaf)
	}

	root := acc.Root()
	entries := make([]ProofEntry, len(costs))
	for i, cost := range costs {
		proof, err := acc.Proof(i)
		require.NoError(t, err)

		digest, err := sig.HashCallAuthorization(domain, sig.Digest(callIDs[i]), big.NewInt(cost), big.NewInt(timestamp), string(escrow))
		require.NoError(t, err)

		signature := payerKey.sign(t, digest)

		entries[i] = ProofEntry{
			CallID:    callIDs[i],
			Cost:      big.NewInt(cost),
			Timestamp: timestamp,
			Signature: signature,
			Proof:     fromMerkleDigests(proof),
		}
	}

	return receiptBatch{entries: entries, root: Digest(root)}
}

func fromMerkleDigests(proof []merkle.Digest) []Digest {
	out := make([]Digest, len(proof))
	for i, d := range proof {
		out[i] = Digest(d)
	}
	return out
}

// ecdsaKey wraps a generated secp256k1 key so tests can sign call
// authorizations as the payer, normalizing v the way Recover expects.
type ecdsaKey struct {
	address Account
	priv    *ecdsa.PrivateKey
}

func newPayerKey(t *testing.T) *ecdsaKey {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &ecdsaKey{
		address: Account(crypto.PubkeyToAddress(priv.PublicKey).Hex()),
		priv:    priv,
	}
}

func (k *ecdsaKey) sign(t *testing.T, digest Digest) []byte {
	t.Helper()
	raw, err := crypto.Sign(digest[:], k.priv)
	require.NoError(t, err)
	raw[64] += 27
	return raw
}

func newAdjudicatorForTest(t *testing.T, clock Clock) (*Adjudicator, *fakeAsset, *ledger.Ledger, Account, Account) {
	t.Helper()

	asset := newFakeAsset()
	store := NewStore()
	bondLedger := ledger.New(ledgerAssetAdapter{inner: asset}, NewBondLockProvider(store))

	facilitator := Account("facilitator-1")
	asset.fund(facilitator, 1_000_000_000)
	require.NoError(t, bondLedger.DepositBond(context.Background(), string(facilitator), big.NewInt(200_000_000)))

	config := DefaultProtocolConfig()
	escrow := Account("0x4020615294c913F045dc10f0a5cdEbd86c280001")
	adj, err := NewAdjudicator(store, bondLedger, asset, config, big.NewInt(8453), escrow, WithClock(clock))
	require.NoError(t, err)

	return adj, asset, bondLedger, facilitator, escrow
}
