package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/fheauction/auctionapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// getEnclaveAttester attempts to get the NSM attester, returns error if not available
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// ReceiptIssuer turns receipt payloads into signed receipts.
type ReceiptIssuer struct {
	mode       string
	keyManager *KeyManager
	attester   EnclaveAttester
}

// NewReceiptIssuer creates an issuer for mode. The cose mode needs keyManager,
// the nitro mode needs attester.
func NewReceiptIssuer(mode string, keyManager *KeyManager, attester EnclaveAttester) (*ReceiptIssuer, error) {
	switch mode {
	case auctionapi.ReceiptModeCOSE:
		if keyManager == nil {
			return nil, fmt.Errorf("cose receipts need a key manager")
		}
	case auctionapi.ReceiptModeNitro:
		if attester == nil {
			return nil, fmt.Errorf("nitro receipts need an enclave attester")
		}
	default:
		return nil, fmt.Errorf("unknown receipt mode %q", mode)
	}
	return &ReceiptIssuer{mode: mode, keyManager: keyManager, attester: attester}, nil
}

// Mode returns the receipt mode.
func (ri *ReceiptIssuer) Mode() string { return ri.mode }

// Issue signs payload.
func (ri *ReceiptIssuer) Issue(payload *auctionapi.ReceiptPayload) (*auctionapi.Receipt, error) {
	payloadBytes, err := auctionapi.MarshalReceiptPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt payload: %w", err)
	}

	if ri.mode == auctionapi.ReceiptModeNitro {
		return ri.attest(payloadBytes)
	}
	return ri.sign(payloadBytes)
}

func (ri *ReceiptIssuer) sign(payloadBytes []byte) (*auctionapi.Receipt, error) {
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payloadBytes
	if err := msg.Sign(rand.Reader, nil, ri.keyManager.Signer()); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	coseBytes, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}

	publicKeyPEM, err := ri.keyManager.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export receipt key: %w", err)
	}

	return &auctionapi.Receipt{
		Mode:         auctionapi.ReceiptModeCOSE,
		COSE:         auctionapi.ReceiptCOSE(coseBytes).EncodeBase64(),
		PublicKeyPEM: publicKeyPEM,
	}, nil
}

func (ri *ReceiptIssuer) attest(payloadBytes []byte) (*auctionapi.Receipt, error) {
	digest := sha256.Sum256(payloadBytes)

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := ri.attester.Attest(enclave.AttestationOptions{
		UserData: digest[:],
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM attestation failed: %v", err)
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}

	log.Printf("INFO: NSM receipt attestation generated: %d bytes", len(attestationCBOR))

	return &auctionapi.Receipt{
		Mode:    auctionapi.ReceiptModeNitro,
		COSE:    auctionapi.ReceiptCOSE(attestationCBOR).EncodeBase64(),
		Payload: base64.StdEncoding.EncodeToString(payloadBytes),
	}, nil
}

// generateSecureRandomBytes generates cryptographically secure random bytes
// Uses crypto/rand which automatically leverages the best available entropy:
// - In NSM enclave: crypto/rand uses NSM-enhanced kernel entropy pool
// - In development: crypto/rand uses standard kernel entropy pool
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32) // 256 bits of entropy
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
