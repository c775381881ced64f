package validation

import (
	"fmt"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/auctionapi/parsing"
	"github.com/cloudx-io/fheauction/core"
)

// ReceiptValidationInput contains all inputs needed to validate an auction
// receipt
type ReceiptValidationInput struct {
	Request  *auctionapi.AuctionRequest  // what was sent to the evaluator
	Response *auctionapi.AuctionResponse // what came back, receipt included

	// ExpectedPublicKeyPEM pins the evaluator's receipt key in cose mode.
	// Empty accepts the key embedded in the receipt.
	ExpectedPublicKeyPEM string

	// KnownPCRs are the accepted evaluator images in nitro mode.
	KnownPCRs []PCRSet
}

// ValidateReceipt validates an auction receipt and verifies:
// - The receipt signature (COSE ES256 or Nitro attestation)
// - The round parameters match the response
// - Every submitted bid is bound by its hash
// - The request hash covers those bids under the receipt nonce
// - The result hash covers the returned ciphertexts
//
// Returns:
//   - ReceiptValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func ValidateReceipt(input *ReceiptValidationInput) (*ReceiptValidationResult, error) {
	if input == nil || input.Request == nil || input.Response == nil {
		return nil, fmt.Errorf("request and response are required")
	}
	receipt := input.Response.Receipt
	if receipt == nil {
		return nil, fmt.Errorf("response carries no receipt")
	}

	coseBytes, err := receipt.COSE.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	result := &ReceiptValidationResult{
		BaseValidationResult: BaseValidationResult{ValidationDetails: []string{}},
		Mode:                 receipt.Mode,
	}

	var payloadBytes []byte
	switch receipt.Mode {
	case auctionapi.ReceiptModeCOSE:
		payloadBytes = validateCOSEReceipt(receipt, coseBytes, input.ExpectedPublicKeyPEM, result)
		if payloadBytes == nil {
			if payloadBytes, err = parsing.ExtractCOSEPayload(coseBytes); err != nil {
				return nil, err
			}
		}
		result.PayloadValid = true
	case auctionapi.ReceiptModeNitro:
		if payloadBytes, err = validateNitroReceipt(receipt, coseBytes, input.KnownPCRs, result); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown receipt mode %q", receipt.Mode)
	}

	payload, err := auctionapi.UnmarshalReceiptPayload(payloadBytes)
	if err != nil {
		result.PayloadValid = false
		result.addDetail("Receipt payload malformed: %v", err)
		return result, nil
	}
	result.Payload = payload

	result.RoundValid = validateRound(input, payload, result)
	bidHashes, ok := validateBidHashes(input.Request, payload, result)
	result.BidHashesValid = ok
	result.RequestHashValid = validateRequestHash(input.Request, payload, bidHashes, result)
	result.ResultHashValid = validateResultHash(input.Response, payload, result)

	return result, nil
}

// validateCOSEReceipt verifies an ES256 receipt and returns its payload, or
// nil when the signature does not verify.
func validateCOSEReceipt(receipt *auctionapi.Receipt, coseBytes []byte, expectedPEM string, result *ReceiptValidationResult) []byte {
	if expectedPEM == "" {
		result.PublicKeyMatch = true
		result.addDetail("Receipt key not pinned, using the key embedded in the receipt")
	} else {
		result.PublicKeyMatch = samePublicKey(expectedPEM, receipt.PublicKeyPEM)
		if result.PublicKeyMatch {
			result.addDetail("Receipt key matches pinned key")
		} else {
			result.addDetail("Receipt key does not match pinned key")
		}
	}

	payload, err := VerifyReceiptSignature(coseBytes, receipt.PublicKeyPEM)
	if err != nil {
		result.SignatureValid = false
		result.addDetail("%v", err)
		return nil
	}
	result.SignatureValid = true
	result.addDetail("COSE signature verified")
	return payload
}

func samePublicKey(a, b string) bool {
	ka, err := ParsePublicKeyPEM(a)
	if err != nil {
		return false
	}
	kb, err := ParsePublicKeyPEM(b)
	if err != nil {
		return false
	}
	return ka.Equal(kb)
}

func validateRound(input *ReceiptValidationInput, payload *auctionapi.ReceiptPayload, result *ReceiptValidationResult) bool {
	req, resp := input.Request, input.Response
	ok := true
	if payload.RoundID != req.RoundID || payload.RoundID != resp.RoundID {
		result.addDetail("Round mismatch: receipt %s, request %s, response %s", payload.RoundID, req.RoundID, resp.RoundID)
		ok = false
	}
	if payload.Width != resp.Width || payload.NumBidders != resp.NumBidders || payload.Reserve != resp.Reserve {
		result.addDetail("Round parameters mismatch: receipt width=%d bidders=%d reserve=%d, response width=%d bidders=%d reserve=%d",
			payload.Width, payload.NumBidders, payload.Reserve, resp.Width, resp.NumBidders, resp.Reserve)
		ok = false
	}
	if req.Nonce != "" && req.Nonce != payload.RequestNonce {
		result.addDetail("Request nonce mismatch: sent %s, receipt has %s", req.Nonce, payload.RequestNonce)
		ok = false
	}
	if ok {
		result.addDetail("Round validation passed: %s (width %d, %d bidders, reserve %d)",
			payload.RoundID, payload.Width, payload.NumBidders, payload.Reserve)
	}
	return ok
}

func validateBidHashes(req *auctionapi.AuctionRequest, payload *auctionapi.ReceiptPayload, result *ReceiptValidationResult) ([]string, bool) {
	computed, err := parsing.ComputeBidHashes(req)
	if err != nil {
		result.addDetail("Cannot hash submitted bids: %v", err)
		return nil, false
	}
	if len(computed) != len(payload.BidHashes) {
		result.addDetail("Bid count mismatch: submitted %d, receipt has %d", len(computed), len(payload.BidHashes))
		return computed, false
	}

	ok := true
	for k, h := range computed {
		if h != payload.BidHashes[k] {
			result.addDetail("Bid %d hash mismatch: computed %s, receipt has %s", k, h, payload.BidHashes[k])
			ok = false
		}
	}
	if ok {
		result.addDetail("All %d bid hashes found in receipt", len(computed))
	}
	return computed, ok
}

func validateRequestHash(req *auctionapi.AuctionRequest, payload *auctionapi.ReceiptPayload, bidHashes []string, result *ReceiptValidationResult) bool {
	if bidHashes == nil {
		result.addDetail("Request hash not checked: bid hashes unavailable")
		return false
	}
	computed := core.ComputeRequestHash(req.RoundID, payload.Width, payload.NumBidders, payload.Reserve, payload.RequestNonce, bidHashes)
	if computed == payload.RequestHash {
		result.addDetail("Request hash validation passed: %s", computed)
		return true
	}
	result.addDetail("Request hash mismatch: computed %s, receipt has %s", computed, payload.RequestHash)
	return false
}

func validateResultHash(resp *auctionapi.AuctionResponse, payload *auctionapi.ReceiptPayload, result *ReceiptValidationResult) bool {
	identity, err := auctionapi.CiphertextBytes(resp.Identity)
	if err != nil {
		result.addDetail("Cannot decode identity ciphertexts: %v", err)
		return false
	}
	amount, err := auctionapi.CiphertextBytes(resp.Amount)
	if err != nil {
		result.addDetail("Cannot decode amount ciphertexts: %v", err)
		return false
	}

	computed := core.ComputeResultHash(payload.RoundID, identity, amount)
	if computed == payload.ResultHash {
		result.addDetail("Result hash validation passed: %s", computed)
		return true
	}
	result.addDetail("Result hash mismatch: computed %s, receipt has %s", computed, payload.ResultHash)
	return false
}
