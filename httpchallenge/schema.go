package httpchallenge

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Fixed schemas for the three header payloads. Validation runs before
// unmarshaling so a malformed payload is rejected with a field-level
// diagnostic instead of a zero-valued struct slipping through to the
// signature checks.

const challengeSchema = `{
	"type": "object",
	"required": ["x402Version", "scheme", "chainId", "network", "payTo", "asset", "maxAmount", "expiry", "extra"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"scheme": {"enum": ["channel", "exact"]},
		"chainId": {"type": "integer", "minimum": 1},
		"network": {"type": "string", "minLength": 1},
		"payTo": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"asset": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"maxAmount": {"type": "string", "pattern": "^[0-9]+$"},
		"expiry": {"type": "integer", "minimum": 0},
		"extra": {
			"type": "object",
			"required": ["escrowAddress", "minDeposit", "facilitatorAddress", "facilitatorBond"],
			"properties": {
				"escrowAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"minDeposit": {"type": "string", "pattern": "^[0-9]+$"},
				"facilitatorAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"facilitatorBond": {"type": "string", "pattern": "^[0-9]+$"}
			}
		}
	}
}`

const authorizationSchema = `{
	"type": "object",
	"required": ["x402Version", "scheme", "agentAddress", "signature", "authorization"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"scheme": {"enum": ["channel", "exact"]},
		"agentAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
		"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"},
		"authorization": {
			"type": "object",
			"required": ["scheme", "escrowAddress", "sessionId", "nonce", "timestamp"],
			"properties": {
				"scheme": {"enum": ["channel", "exact"]},
				"escrowAddress": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"sessionId": {"type": "string", "minLength": 1},
				"nonce": {"type": "integer", "minimum": 0},
				"timestamp": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

const receiptSchema = `{
	"type": "object",
	"required": ["callId", "endpoint", "cost", "timestamp", "serverSignature"],
	"properties": {
		"callId": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"},
		"endpoint": {"type": "string", "minLength": 1},
		"cost": {"type": "string", "pattern": "^[0-9]+$"},
		"timestamp": {"type": "integer", "minimum": 0},
		"serverSignature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"}
	}
}`

func validateAgainstSchema(schema string, document []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("httpchallenge: schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("httpchallenge: invalid payload: %s", strings.Join(errs, "; "))
}
