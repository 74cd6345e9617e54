package httpchallenge

import (
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/x402-channel/pkg/sig"
)

func signedAuthorization(t *testing.T, key *ecdsa.PrivateKey, challenge *Challenge, endpoint string, nonce uint64) *Authorization {
	t.Helper()

	agent := crypto.PubkeyToAddress(key.PublicKey).Hex()
	timestamp := int64(1_700_000_000)

	domain := sig.ChannelAuthorizationDomain(big.NewInt(challenge.ChainID), challenge.Extra.EscrowAddress)
	digest, err := sig.HashChannelAuthorization(domain, agent, "session-1", endpoint, new(big.Int).SetUint64(nonce), big.NewInt(timestamp))
	require.NoError(t, err)

	raw, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	raw[64] += 27

	return &Authorization{
		X402Version:  X402Version,
		Scheme:       SchemeChannel,
		AgentAddress: agent,
		Signature:    "0x" + hex.EncodeToString(raw),
		Authorization: SessionAuthorization{
			Scheme:        SchemeChannel,
			EscrowAddress: challenge.Extra.EscrowAddress,
			SessionID:     "session-1",
			Nonce:         nonce,
			Timestamp:     timestamp,
		},
	}
}

func newTestRouter(t *testing.T, challenge *Challenge, serverKey *ecdsa.PrivateKey) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer := func(digest sig.Digest) ([]byte, error) {
		raw, err := crypto.Sign(digest[:], serverKey)
		if err != nil {
			return nil, err
		}
		raw[64] += 27
		return raw, nil
	}

	router := gin.New()
	router.Use(PaymentMiddleware(challenge,
		WithCost(big.NewInt(10_000)),
		WithReceiptSigner(signer),
		WithNow(func() int64 { return 1_700_000_000 }),
	))
	router.GET("/api/echo", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent": c.GetString(ContextKeyAgent)})
	})
	return router
}

func TestPaymentMiddleware_MissingHeaderGets402WithChallenge(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	router := newTestRouter(t, testChallenge(), serverKey)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/echo", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	issued, err := DecodeChallenge(rec.Header().Get(HeaderChallenge))
	require.NoError(t, err)
	require.Equal(t, testChallenge(), issued)
}

func TestPaymentMiddleware_ValidAuthorizationAdmitsAndIssuesReceipt(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	agentKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	challenge := testChallenge()
	router := newTestRouter(t, challenge, serverKey)

	auth := signedAuthorization(t, agentKey, challenge, "/api/echo", 1)
	encoded, err := auth.EncodeToBase64String()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/echo", nil)
	req.Header.Set(HeaderAuthorization, encoded)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), crypto.PubkeyToAddress(agentKey.PublicKey).Hex())

	receipt, err := DecodeReceipt(rec.Header().Get(HeaderReceipt))
	require.NoError(t, err)

	_, cost, err := VerifyReceipt(receipt, crypto.PubkeyToAddress(serverKey.PublicKey).Hex())
	require.NoError(t, err)
	require.Zero(t, cost.Cmp(big.NewInt(10_000)))
}

func TestPaymentMiddleware_NonceMustStrictlyIncrease(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	agentKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	challenge := testChallenge()
	router := newTestRouter(t, challenge, serverKey)

	send := func(nonce uint64) int {
		auth := signedAuthorization(t, agentKey, challenge, "/api/echo", nonce)
		encoded, err := auth.EncodeToBase64String()
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/echo", nil)
		req.Header.Set(HeaderAuthorization, encoded)
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send(1))
	require.Equal(t, http.StatusPaymentRequired, send(1), "replayed nonce must be rejected")
	require.Equal(t, http.StatusOK, send(2))
}

func TestPaymentMiddleware_SessionCannotSwapEscrow(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	agentKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	challenge := testChallenge()
	router := newTestRouter(t, challenge, serverKey)

	first := signedAuthorization(t, agentKey, challenge, "/api/echo", 1)
	encoded, err := first.EncodeToBase64String()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/echo", nil)
	req.Header.Set(HeaderAuthorization, encoded)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same session ID, different escrow: escrowAddress is not part of the
	// signed message, so the signature is still valid for the new payload,
	// but the session pin must reject the swap.
	second := signedAuthorization(t, agentKey, challenge, "/api/echo", 2)
	second.Authorization.EscrowAddress = "0x9999999999999999999999999999999999999999"
	encoded, err = second.EncodeToBase64String()
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/echo", nil)
	req.Header.Set(HeaderAuthorization, encoded)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestPaymentMiddleware_WrongSignerRejected(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	agentKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	challenge := testChallenge()
	router := newTestRouter(t, challenge, serverKey)

	auth := signedAuthorization(t, agentKey, challenge, "/api/echo", 1)
	// Claim a different agent address than the one that signed.
	auth.AgentAddress = "0x9999999999999999999999999999999999999999"
	encoded, err := auth.EncodeToBase64String()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/echo", nil)
	req.Header.Set(HeaderAuthorization, encoded)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}
