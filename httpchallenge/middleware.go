package httpchallenge

import (
	"encoding/hex"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/x402-foundation/x402-channel/pkg/sig"
)

// ContextKeyAgent is the gin context key under which the middleware
// stores the verified agent address for downstream handlers.
const ContextKeyAgent = "x402Agent"

// Signer produces a 65-byte recoverable signature over a digest. The
// server wires its own key management behind this; the middleware never
// sees private key material.
type Signer func(digest sig.Digest) ([]byte, error)

// MiddlewareOptions configures PaymentMiddleware.
type MiddlewareOptions struct {
	Cost          *big.Int
	ReceiptSigner Signer
	Logger        *zap.Logger
	Now           func() int64
}

// Options mutates MiddlewareOptions, the same functional-option shape the
// x402 gin middleware uses.
type Options func(*MiddlewareOptions)

// WithCost sets the per-call cost stamped onto issued receipts, in minor
// units. Zero-cost routes issue no receipt.
func WithCost(cost *big.Int) Options {
	return func(o *MiddlewareOptions) { o.Cost = cost }
}

// WithReceiptSigner enables receipt issuance on successful responses.
func WithReceiptSigner(s Signer) Options {
	return func(o *MiddlewareOptions) { o.ReceiptSigner = s }
}

// WithLogger sets the middleware's structured logger.
func WithLogger(l *zap.Logger) Options {
	return func(o *MiddlewareOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithNow overrides the clock used to stamp receipts, for tests.
func WithNow(now func() int64) Options {
	return func(o *MiddlewareOptions) { o.Now = now }
}

// sessionState pins a session to its opening authorization and tracks the
// last admitted nonce. Nonce monotonicity lives here, at admission, per
// the channel scheme's layering: the adjudicator never relies on it.
type sessionState struct {
	auth      *Authorization
	lastNonce uint64
}

// PaymentMiddleware gates routes behind the channel payment scheme: a
// request without a valid payment header receives 402 with the server's
// challenge; a request with one is admitted after scheme, session,
// nonce and typed-data signature checks, and receives a signed receipt
// with the response.
func PaymentMiddleware(challenge *Challenge, opts ...Options) gin.HandlerFunc {
	options := &MiddlewareOptions{
		Cost:   big.NewInt(0),
		Logger: zap.NewNop(),
		Now:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(options)
	}

	var (
		mu       sync.Mutex
		sessions = make(map[string]*sessionState)
	)

	domain := sig.ChannelAuthorizationDomain(big.NewInt(challenge.ChainID), challenge.Extra.EscrowAddress)

	reject := func(c *gin.Context, reason string) {
		encoded, err := challenge.EncodeToBase64String()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "x402Version": X402Version})
			return
		}
		c.Header(HeaderChallenge, encoded)
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":       reason,
			"accepts":     []*Challenge{challenge},
			"x402Version": X402Version,
		})
	}

	return func(c *gin.Context) {
		header := c.GetHeader(HeaderAuthorization)
		if header == "" {
			reject(c, "payment header is required")
			return
		}

		auth, err := DecodeAuthorization(header)
		if err != nil {
			options.Logger.Debug("payment header rejected", zap.Error(err))
			reject(c, err.Error())
			return
		}

		signature, err := parseHexSignature(auth.Signature)
		if err != nil {
			reject(c, err.Error())
			return
		}

		digest, err := sig.HashChannelAuthorization(
			domain,
			auth.AgentAddress,
			auth.Authorization.SessionID,
			c.Request.URL.Path,
			new(big.Int).SetUint64(auth.Authorization.Nonce),
			big.NewInt(auth.Authorization.Timestamp),
		)
		if err != nil {
			reject(c, err.Error())
			return
		}
		if !sig.VerifySignedBy(digest, signature, auth.AgentAddress) {
			options.Logger.Debug("authorization signature rejected",
				zap.String("agent", auth.AgentAddress),
				zap.String("session", auth.Authorization.SessionID),
			)
			reject(c, "authorization signature does not recover to agent")
			return
		}

		mu.Lock()
		state, seen := sessions[auth.Authorization.SessionID]
		switch {
		case !seen:
			sessions[auth.Authorization.SessionID] = &sessionState{auth: auth, lastNonce: auth.Authorization.Nonce}
		case !state.auth.SameSession(auth):
			mu.Unlock()
			reject(c, "authorization does not match the session's opening authorization")
			return
		case auth.Authorization.Nonce <= state.lastNonce:
			mu.Unlock()
			reject(c, "nonce is not strictly increasing for this session")
			return
		default:
			state.lastNonce = auth.Authorization.Nonce
		}
		mu.Unlock()

		c.Set(ContextKeyAgent, auth.AgentAddress)

		if options.ReceiptSigner == nil || options.Cost.Sign() == 0 {
			c.Next()
			return
		}

		// Buffer the handler's response so the receipt header can still be
		// attached after it runs: a receipt is only owed for a successful
		// call, and headers cannot be added once the body has been flushed.
		writer := &bufferingWriter{ResponseWriter: c.Writer, body: &strings.Builder{}, statusCode: http.StatusOK}
		c.Writer = writer

		c.Next()

		c.Writer = writer.ResponseWriter
		if writer.statusCode < http.StatusBadRequest {
			if receipt, err := issueReceipt(options, c.Request.URL.Path); err != nil {
				options.Logger.Warn("receipt issuance failed", zap.Error(err))
			} else if encoded, err := receipt.EncodeToBase64String(); err != nil {
				options.Logger.Warn("receipt encoding failed", zap.Error(err))
			} else {
				c.Header(HeaderReceipt, encoded)
			}
		}
		c.Writer.WriteHeader(writer.statusCode)
		c.Writer.Write([]byte(writer.body.String()))
	}
}

// bufferingWriter captures the handler's status and body so the
// middleware can attach trailing headers before anything is flushed.
type bufferingWriter struct {
	gin.ResponseWriter
	body       *strings.Builder
	statusCode int
	written    bool
}

func (w *bufferingWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferingWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return len(b), nil
}

func (w *bufferingWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func issueReceipt(options *MiddlewareOptions, endpoint string) (*Receipt, error) {
	// A call ID is the hash of a fresh UUID: unique per receipt with no
	// shared counter between server instances.
	callID := sig.Keccak256Packed(sig.PackBytes([]byte(uuid.NewString())))
	now := options.Now()

	digest := ReceiptDigest(callID, endpoint, options.Cost, now)
	signature, err := options.ReceiptSigner(digest)
	if err != nil {
		return nil, err
	}

	return &Receipt{
		CallID:          "0x" + hex.EncodeToString(callID[:]),
		Endpoint:        endpoint,
		Cost:            options.Cost.String(),
		Timestamp:       now,
		ServerSignature: "0x" + hex.EncodeToString(signature),
	}, nil
}
