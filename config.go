package channel

import "math/big"

// ProtocolConfig holds the protocol constants as overridable fields, a
// struct with defaults plus a Validate method rather than package-level
// untyped constants. A deployment targeting a different network or decimal scale
// constructs a non-default ProtocolConfig; tests that want short windows do
// the same instead of sleeping out a 7-day deadline.
type ProtocolConfig struct {
	// MinDeposit is the minimum amount accepted by Deposit, in minor
	// units. Default 10_000_000 (10 * 10^6).
	MinDeposit Amount

	// DisputeWindow is how long after InitiateClose/ClaimSettlement a
	// counterparty may dispute, in seconds. Default 7 days.
	DisputeWindow int64

	// ProofWindow is how long after a dispute is raised the facilitator has
	// to submit proofs, in seconds. Default 5 days.
	ProofWindow int64

	// DisputeFee is withheld from the payer's balance when they dispute,
	// in minor units. Default 500_000 (0.5 * 10^6).
	DisputeFee Amount

	// MinFacilitatorBond is the minimum bond required for a facilitator to
	// be eligible at channel open. Default 100_000_000 (100 * 10^6).
	MinFacilitatorBond Amount

	// UnderclaimPenaltyNumerator/Denominator compute the penalty applied to
	// an underclaiming payer when a facilitator-raised dispute confirms
	// the underclaim. Default
	// 1/10.
	UnderclaimPenaltyNumerator   int64
	UnderclaimPenaltyDenominator int64
}

// DefaultProtocolConfig returns the production protocol constants.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		MinDeposit:                   big.NewInt(10_000_000),
		DisputeWindow:                7 * 24 * 60 * 60,
		ProofWindow:                  5 * 24 * 60 * 60,
		DisputeFee:                   big.NewInt(500_000),
		MinFacilitatorBond:           big.NewInt(100_000_000),
		UnderclaimPenaltyNumerator:   1,
		UnderclaimPenaltyDenominator: 10,
	}
}

// Validate checks that the config is internally consistent.
func (c ProtocolConfig) Validate() error {
	if c.MinDeposit == nil || c.MinDeposit.Sign() < 0 {
		return newError(CodeInvalidAmount, "MinDeposit must be non-negative")
	}
	if c.DisputeFee == nil || c.DisputeFee.Sign() < 0 {
		return newError(CodeInvalidAmount, "DisputeFee must be non-negative")
	}
	if c.MinFacilitatorBond == nil || c.MinFacilitatorBond.Sign() < 0 {
		return newError(CodeInvalidAmount, "MinFacilitatorBond must be non-negative")
	}
	if c.DisputeWindow <= 0 {
		return newError(CodeInvalidAmount, "DisputeWindow must be positive")
	}
	if c.ProofWindow <= 0 {
		return newError(CodeInvalidAmount, "ProofWindow must be positive")
	}
	if c.UnderclaimPenaltyDenominator <= 0 {
		return newError(CodeInvalidAmount, "UnderclaimPenaltyDenominator must be positive")
	}
	if c.UnderclaimPenaltyNumerator < 0 {
		return newError(CodeInvalidAmount, "UnderclaimPenaltyNumerator must be non-negative")
	}
	return nil
}
