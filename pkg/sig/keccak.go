// Package sig implements the channel scheme's hash and signature
// primitives: keccak-packed digests, ECDSA recovery with the low-s
// malleability rule, and EIP-712 domain-separated typed-data hashing for
// the channel-authorization and call-authorization domains.
package sig

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Digest is a keccak256 output.
type Digest = [32]byte

// PackAddress encodes an account address as 20 bytes, matching Solidity's
// packed encoding for the `address` type.
func PackAddress(addr string) []byte {
	return common.HexToAddress(addr).Bytes()
}

// PackUint256 encodes a non-negative integer as 32 bytes big-endian,
// matching Solidity's packed encoding for `uint256`.
func PackUint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

// PackUint64AsUint256 is a convenience wrapper for timestamps and other
// small integers that are still packed as a full 32-byte word.
func PackUint64AsUint256(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return common.LeftPadBytes(b, 32)
}

// PackDigest returns a fixed 32-byte digest verbatim, matching Solidity's
// packed encoding for `bytes32`.
func PackDigest(d Digest) []byte {
	out := make([]byte, 32)
	copy(out, d[:])
	return out
}

// PackBytes returns variable-length bytes/strings verbatim, without a
// length prefix, matching Solidity's packed (non-ABI) encoding for
// `bytes`/`string`.
func PackBytes(b []byte) []byte {
	return b
}

// Keccak256Packed hashes the concatenation of the given pre-packed
// field encodings. Callers build each field with the Pack* helpers above
// so that the fixed-width encoding (addresses 20 bytes, uint256 32 bytes
// big-endian, bytes32 verbatim, variable bytes/strings unprefixed) is
// bit-exact with the conventional Solidity "packed" encoding — required
// for interoperability with any off-chain peer reproducing the same leaf.
func Keccak256Packed(fields ...[]byte) Digest {
	var buf []byte
	for _, f := range fields {
		buf = append(buf, f...)
	}
	return Digest(crypto.Keccak256(buf))
}

// PersonalSignDigest wraps a 32-byte digest in the EIP-191 personal-sign
// envelope ("\x19Ethereum Signed Message:\n32" prefix) and hashes it. Used
// for the server's receipt signature, which wallets produce via
// personal_sign rather than typed-data signing.
func PersonalSignDigest(d Digest) Digest {
	return Digest(crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), d[:]))
}

// LeafHash computes the Merkle leaf for one call receipt:
// keccak(call_id || cost || timestamp), each field packed as a 32-byte
// word.
func LeafHash(callID Digest, cost *big.Int, timestamp int64) Digest {
	return Keccak256Packed(
		PackDigest(callID),
		PackUint256(cost),
		PackUint64AsUint256(timestamp),
	)
}
