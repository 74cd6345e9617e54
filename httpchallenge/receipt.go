package httpchallenge

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/x402-foundation/x402-channel/pkg/sig"
)

// ReceiptDigest computes the personal-sign digest the server signs over a
// receipt: keccak_packed(call_id, endpoint, cost, timestamp) wrapped in
// the EIP-191 envelope. The agent verifies this against the known server
// account before trusting the receipt; the call ID, cost and timestamp
// (without the endpoint) later form the Merkle leaf the facilitator
// proves during a dispute.
func ReceiptDigest(callID [32]byte, endpoint string, cost *big.Int, timestamp int64) sig.Digest {
	inner := sig.Keccak256Packed(
		sig.PackDigest(callID),
		sig.PackBytes([]byte(endpoint)),
		sig.PackUint256(cost),
		sig.PackUint64AsUint256(timestamp),
	)
	return sig.PersonalSignDigest(inner)
}

// VerifyReceipt checks that r's serverSignature recovers to serverAddress
// over r's own fields. It returns the parsed call ID and cost for the
// caller to accumulate into its off-chain log.
func VerifyReceipt(r *Receipt, serverAddress string) ([32]byte, *big.Int, error) {
	callID, err := parseCallID(r.CallID)
	if err != nil {
		return [32]byte{}, nil, err
	}

	cost, ok := new(big.Int).SetString(r.Cost, 10)
	if !ok || cost.Sign() < 0 {
		return [32]byte{}, nil, fmt.Errorf("httpchallenge: invalid receipt cost %q", r.Cost)
	}

	signature, err := parseHexSignature(r.ServerSignature)
	if err != nil {
		return [32]byte{}, nil, err
	}

	digest := ReceiptDigest(callID, r.Endpoint, cost, r.Timestamp)
	if !sig.VerifySignedBy(digest, signature, serverAddress) {
		return [32]byte{}, nil, fmt.Errorf("httpchallenge: receipt signature does not recover to server %s", serverAddress)
	}
	return callID, cost, nil
}

func parseCallID(s string) ([32]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("httpchallenge: invalid call ID %q", s)
	}
	var id [32]byte
	copy(id[:], raw)
	return id, nil
}

func parseHexSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 65 {
		return nil, fmt.Errorf("httpchallenge: signature must be 65 bytes")
	}
	return raw, nil
}
