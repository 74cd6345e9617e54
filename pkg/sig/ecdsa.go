package sig

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned by Recover for any malformed, malleable,
// or non-recoverable signature.
var ErrInvalidSignature = errors.New("sig: invalid signature")

// secp256k1HalfOrder is the lower bound for malleable s values: any s
// strictly greater than this is the "other" valid root of the same
// signature and must be rejected.
var secp256k1HalfOrder = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// Recover recovers the signing account from a 65-byte (r, s, v) signature
// over digest. It rejects high-s signatures before attempting recovery,
// and normalizes v < 27 to v+27.
func Recover(digest Digest, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, ErrInvalidSignature
	}

	s := new(big.Int).SetBytes(signature[32:64])
	v := signature[64]

	if s.Cmp(secp256k1HalfOrder) > 0 {
		return common.Address{}, ErrInvalidSignature
	}

	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return common.Address{}, ErrInvalidSignature
	}

	normalized := make([]byte, 65)
	copy(normalized, signature[:64])
	normalized[64] = v - 27

	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignedBy reports whether signature recovers to expected over digest.
func VerifySignedBy(digest Digest, signature []byte, expected string) bool {
	recovered, err := Recover(digest, signature)
	if err != nil {
		return false
	}
	return recovered == common.HexToAddress(expected)
}
