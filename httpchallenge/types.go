// Package httpchallenge is the HTTP boundary of the channel scheme: the
// three headers a server, agent and facilitator exchange before anything
// reaches the adjudicator. It owns the wire shapes (challenge,
// authorization, receipt), their JSON-schema validation, and the
// signature checks that gate admission; the adjudication core never
// imports it.
package httpchallenge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
)

const X402Version = 1

// SchemeChannel and SchemeExact are the two variants of the payment
// authorization sum type. This package dispatches on the tag; only the
// channel variant ever reaches the adjudicator.
const (
	SchemeChannel = "channel"
	SchemeExact   = "exact"
)

// Header names. Each payload travels as a single base64-encoded JSON
// header, the same transport the x402 exact scheme uses for X-PAYMENT.
const (
	HeaderChallenge     = "X-PAYMENT-REQUIRED"
	HeaderAuthorization = "X-PAYMENT"
	HeaderReceipt       = "X-PAYMENT-RECEIPT"
)

// ChallengeExtra carries the channel-scheme-specific fields of a
// challenge: where to escrow, how much, and which bonded facilitator the
// server has chosen.
type ChallengeExtra struct {
	EscrowAddress      string `json:"escrowAddress"`
	MinDeposit         string `json:"minDeposit"`
	FacilitatorAddress string `json:"facilitatorAddress"`
	FacilitatorBond    string `json:"facilitatorBond"`
}

// Challenge is the "payment required" payload a server issues with a 402
// response.
type Challenge struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	ChainID     int64          `json:"chainId"`
	Network     string         `json:"network"`
	PayTo       string         `json:"payTo"`
	Asset       string         `json:"asset"`
	MaxAmount   string         `json:"maxAmount"`
	Expiry      int64          `json:"expiry"`
	Extra       ChallengeExtra `json:"extra"`
}

// SessionAuthorization is the inner portion of an Authorization. The
// agent's typed-data signature covers SessionID, Nonce and Timestamp
// (together with the agent address and the request endpoint, supplied by
// the transport); Scheme and EscrowAddress are not signed, and are pinned
// per session through SameSession instead.
type SessionAuthorization struct {
	Scheme        string `json:"scheme"`
	EscrowAddress string `json:"escrowAddress"`
	SessionID     string `json:"sessionId"`
	Nonce         uint64 `json:"nonce"`
	Timestamp     int64  `json:"timestamp"`
}

// Authorization is the agent's payment header. Scheme is the sum-type
// tag; DecodeAuthorization rejects anything but the channel variant
// before signature verification is attempted.
type Authorization struct {
	X402Version   int                  `json:"x402Version"`
	Scheme        string               `json:"scheme"`
	AgentAddress  string               `json:"agentAddress"`
	Signature     string               `json:"signature"`
	Authorization SessionAuthorization `json:"authorization"`
}

// Receipt is the server's signed acknowledgment of one paid call,
// returned to the agent and later usable by the facilitator as a Merkle
// leaf's source data.
type Receipt struct {
	CallID          string `json:"callId"`
	Endpoint        string `json:"endpoint"`
	Cost            string `json:"cost"`
	Timestamp       int64  `json:"timestamp"`
	ServerSignature string `json:"serverSignature"`
}

// EncodeToBase64String serializes c for the challenge header.
func (c *Challenge) EncodeToBase64String() (string, error) {
	return encodeBase64JSON(c)
}

// EncodeToBase64String serializes a for the payment header.
func (a *Authorization) EncodeToBase64String() (string, error) {
	return encodeBase64JSON(a)
}

// EncodeToBase64String serializes r for the receipt header.
func (r *Receipt) EncodeToBase64String() (string, error) {
	return encodeBase64JSON(r)
}

func encodeBase64JSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("httpchallenge: marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeChallenge decodes and schema-validates a challenge header value.
func DecodeChallenge(encoded string) (*Challenge, error) {
	var c Challenge
	if err := decodeBase64JSON(encoded, challengeSchema, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DecodeAuthorization decodes and schema-validates a payment header
// value, rejecting any scheme other than the channel variant: the exact
// variant is a different settlement path entirely and never reaches this
// adjudicator.
func DecodeAuthorization(encoded string) (*Authorization, error) {
	var a Authorization
	if err := decodeBase64JSON(encoded, authorizationSchema, &a); err != nil {
		return nil, err
	}
	if a.Scheme != SchemeChannel {
		return nil, fmt.Errorf("httpchallenge: unsupported payment scheme %q", a.Scheme)
	}
	return &a, nil
}

// DecodeReceipt decodes and schema-validates a receipt header value.
func DecodeReceipt(encoded string) (*Receipt, error) {
	var r Receipt
	if err := decodeBase64JSON(encoded, receiptSchema, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeBase64JSON(encoded, schema string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("httpchallenge: decode base64 header: %w", err)
	}
	if err := validateAgainstSchema(schema, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("httpchallenge: unmarshal payload: %w", err)
	}
	return nil
}

// SameSession reports whether two authorizations identify the same
// session: every field except the per-request nonce, timestamp and
// signature must match. A session resubmitting its authorization must
// present the one the channel was opened with — in particular the same
// escrowAddress, so an agent cannot silently repoint a session at a
// different escrow mid-stream.
func (a *Authorization) SameSession(other *Authorization) bool {
	if a == nil || other == nil {
		return a == other
	}
	na, nb := *a, *other
	na.Signature, nb.Signature = "", ""
	na.Authorization.Nonce, nb.Authorization.Nonce = 0, 0
	na.Authorization.Timestamp, nb.Authorization.Timestamp = 0, 0
	return reflect.DeepEqual(na, nb)
}
