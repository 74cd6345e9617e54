package sig

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is an EIP-712 domain separator's input parameters.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// Field is one field of an EIP-712 struct type.
type Field struct {
	Name string
	Type string
}

// HashTypedData computes keccak(0x19 0x01 || domainSeparator || structHash),
// the EIP-712 digest suitable for signing or recovery.
func HashTypedData(domain Domain, types map[string][]Field, primaryType string, message map[string]interface{}) (Digest, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		tf := make([]apitypes.Type, len(fields))
		for i, f := range fields {
			tf[i] = apitypes.Type{Name: f.Name, Type: f.Type}
		}
		typedData.Types[typeName] = tf
	}

	if _, ok := typedData.Types["EIP712Domain"]; !ok {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return Digest{}, fmt.Errorf("sig: hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return Digest{}, fmt.Errorf("sig: hash domain: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, domainSeparator...)
	raw = append(raw, structHash...)
	return Digest(crypto.Keccak256(raw)), nil
}

// ChannelAuthorizationDomain is the HTTP-boundary signing domain, used to
// authenticate a session's {agent, session_id, endpoint, nonce,
// timestamp} before the facilitator admits a receipt off-chain.
func ChannelAuthorizationDomain(chainID *big.Int, escrowAddress string) Domain {
	return Domain{Name: "x402 Channel", Version: "1", ChainID: chainID, VerifyingContract: escrowAddress}
}

var channelAuthorizationTypes = map[string][]Field{
	"ChannelAuthorization": {
		{Name: "agent", Type: "address"},
		{Name: "sessionId", Type: "string"},
		{Name: "endpoint", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "timestamp", Type: "uint256"},
	},
}

// HashChannelAuthorization hashes the HTTP-boundary authorization message.
func HashChannelAuthorization(domain Domain, agent string, sessionID, endpoint string, nonce, timestamp *big.Int) (Digest, error) {
	message := map[string]interface{}{
		"agent":     agent,
		"sessionId": sessionID,
		"endpoint":  endpoint,
		"nonce":     nonce,
		"timestamp": timestamp,
	}
	return HashTypedData(domain, channelAuthorizationTypes, "ChannelAuthorization", message)
}

// CallAuthorizationDomain is the on-chain dispute signing domain, used
// during proof submission to verify the payer's signature over each
// proven call.
func CallAuthorizationDomain(chainID *big.Int, escrowAddress string) Domain {
	return Domain{Name: "ChannelEscrow", Version: "1", ChainID: chainID, VerifyingContract: escrowAddress}
}

var callAuthorizationTypes = map[string][]Field{
	"CallAuthorization": {
		{Name: "callId", Type: "bytes32"},
		{Name: "cost", Type: "uint256"},
		{Name: "timestamp", Type: "uint256"},
		{Name: "escrow", Type: "address"},
	},
}

// HashCallAuthorization hashes one call receipt's on-chain dispute message:
// {call_id, cost, timestamp, escrow}.
func HashCallAuthorization(domain Domain, callID Digest, cost, timestamp *big.Int, escrow string) (Digest, error) {
	message := map[string]interface{}{
		"callId":    callID[:],
		"cost":      cost,
		"timestamp": timestamp,
		"escrow":    escrow,
	}
	return HashTypedData(domain, callAuthorizationTypes, "CallAuthorization", message)
}
