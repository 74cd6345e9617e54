package httpchallenge

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testChallenge() *Challenge {
	return &Challenge{
		X402Version: X402Version,
		Scheme:      SchemeChannel,
		ChainID:     8453,
		Network:     "eip155:8453",
		PayTo:       "0x1111111111111111111111111111111111111111",
		Asset:       "0x2222222222222222222222222222222222222222",
		MaxAmount:   "10000",
		Expiry:      1_700_000_600,
		Extra: ChallengeExtra{
			EscrowAddress:      "0x3333333333333333333333333333333333333333",
			MinDeposit:         "10000000",
			FacilitatorAddress: "0x4444444444444444444444444444444444444444",
			FacilitatorBond:    "100000000",
		},
	}
}

func testAuthorization() *Authorization {
	return &Authorization{
		X402Version:  X402Version,
		Scheme:       SchemeChannel,
		AgentAddress: "0x5555555555555555555555555555555555555555",
		Signature:    "0x" + strings.Repeat("ab", 65),
		Authorization: SessionAuthorization{
			Scheme:        SchemeChannel,
			EscrowAddress: "0x3333333333333333333333333333333333333333",
			SessionID:     "session-1",
			Nonce:         1,
			Timestamp:     1_700_000_000,
		},
	}
}

func TestChallenge_EncodeDecodeRoundTrip(t *testing.T) {
	encoded, err := testChallenge().EncodeToBase64String()
	require.NoError(t, err)

	decoded, err := DecodeChallenge(encoded)
	require.NoError(t, err)
	require.Equal(t, testChallenge(), decoded)
}

func TestDecodeChallenge_RejectsMalformedAddress(t *testing.T) {
	c := testChallenge()
	c.PayTo = "not-an-address"
	encoded, err := c.EncodeToBase64String()
	require.NoError(t, err)

	_, err = DecodeChallenge(encoded)
	require.ErrorContains(t, err, "invalid payload")
}

func TestDecodeAuthorization_RoundTripAndSchemeTag(t *testing.T) {
	encoded, err := testAuthorization().EncodeToBase64String()
	require.NoError(t, err)

	decoded, err := DecodeAuthorization(encoded)
	require.NoError(t, err)
	require.Equal(t, testAuthorization(), decoded)

	exact := testAuthorization()
	exact.Scheme = SchemeExact
	encoded, err = exact.EncodeToBase64String()
	require.NoError(t, err)

	_, err = DecodeAuthorization(encoded)
	require.ErrorContains(t, err, "unsupported payment scheme")
}

func TestDecodeAuthorization_RejectsBadBase64(t *testing.T) {
	_, err := DecodeAuthorization("%%%not-base64%%%")
	require.Error(t, err)
}

func TestDecodeReceipt_SchemaRejectsShortCallID(t *testing.T) {
	raw := `{"callId":"0x1234","endpoint":"/api","cost":"10000","timestamp":1700000000,"serverSignature":"0x` + strings.Repeat("ab", 65) + `"}`
	_, err := DecodeReceipt(base64.StdEncoding.EncodeToString([]byte(raw)))
	require.ErrorContains(t, err, "invalid payload")
}

func TestAuthorization_SameSession(t *testing.T) {
	a := testAuthorization()

	next := testAuthorization()
	next.Authorization.Nonce = 2
	next.Authorization.Timestamp = 1_700_000_100
	next.Signature = "0x" + strings.Repeat("cd", 65)
	require.True(t, a.SameSession(next), "nonce/timestamp/signature churn should not break session identity")

	swapped := testAuthorization()
	swapped.Authorization.EscrowAddress = "0x9999999999999999999999999999999999999999"
	require.False(t, a.SameSession(swapped), "a different escrow is a different session")
}
