package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/auctionapi/parsing"
)

// validateNitroReceipt checks the attestation document of a nitro receipt:
// PCRs against knownPCRs, the certificate chain at the document timestamp, the
// COSE signature, and that the attested user data is the digest of the
// payload carried next to it. It returns the payload bytes.
func validateNitroReceipt(receipt *auctionapi.Receipt, coseBytes []byte, knownPCRs []PCRSet, result *ReceiptValidationResult) ([]byte, error) {
	doc, err := parsing.ParseNitroAttestation(coseBytes)
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	checkReceiptPCRs(parsing.ExtractPCRs(doc.PCRs), knownPCRs, result)

	certB64 := base64.StdEncoding.EncodeToString(doc.Certificate)
	switch {
	case len(doc.Certificate) == 0:
		result.CertificateValid = false
		result.addDetail("Missing certificate")
	case len(doc.CABundle) == 0:
		result.CertificateValid = false
		result.addDetail("Missing CA bundle")
	default:
		if err := ValidateCertificateChain(certB64, parsing.EncodeCertificateBundle(doc.CABundle), doc.IssuedAt()); err != nil {
			result.CertificateValid = false
			result.addDetail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.addDetail("Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(coseBytes, certB64); err != nil {
		result.SignatureValid = false
		result.addDetail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.addDetail("COSE signature verified")
	}

	payloadBytes, err := base64.StdEncoding.DecodeString(receipt.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	digest := sha256.Sum256(payloadBytes)
	if bytes.Equal(digest[:], doc.UserData) {
		result.PayloadValid = true
		result.addDetail("Receipt payload matches attested digest")
	} else {
		result.PayloadValid = false
		result.addDetail("Receipt payload digest %x does not match attested user data %x", digest, doc.UserData)
	}
	return payloadBytes, nil
}
