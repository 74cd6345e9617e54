package channel

import "math/big"

// All amounts are non-negative *big.Int values, so addition cannot overflow
// or wrap. The operations below give the adjudicator's arithmetic steps an
// explicit name instead of inline *big.Int mutation. They do not check
// signs: subtraction goes through mustSub, and each of its call sites is
// preceded by the comparison that keeps the result non-negative.

func addAmounts(a, b Amount) Amount {
	return new(big.Int).Add(a, b)
}

// minAmount returns the smaller of a and b.
func minAmount(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// maxAmount returns the larger of a and b.
func maxAmount(a, b Amount) Amount {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// divFloor returns floor(a * numerator / denominator) for non-negative a.
func divFloor(a Amount, numerator, denominator int64) Amount {
	n := new(big.Int).Mul(a, big.NewInt(numerator))
	return n.Div(n, big.NewInt(denominator))
}
