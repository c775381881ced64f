package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/auctionapi/parsing"
	"github.com/cloudx-io/fheauction/core"
)

const testRoundID = "6f1c2b3a-4d5e-4f60-8a7b-9c0d1e2f3a4b"

func blobs(parts ...string) []auctionapi.CiphertextBase64 {
	out := make([]auctionapi.CiphertextBase64, len(parts))
	for i, p := range parts {
		out[i] = auctionapi.CiphertextBase64(base64.StdEncoding.EncodeToString([]byte(p)))
	}
	return out
}

// testExchange builds a request and an unsigned response. The ciphertexts are
// opaque bytes; receipts only hash them.
func testExchange() (*auctionapi.AuctionRequest, *auctionapi.AuctionResponse) {
	req := &auctionapi.AuctionRequest{
		Type:    auctionapi.TypeAuctionRequest,
		RoundID: testRoundID,
		Bids: []auctionapi.EncryptedBidBits{
			{BidderID: "a", Bits: blobs("a0", "a1", "a2")},
			{BidderID: "b", Bits: blobs("b0", "b1", "b2")},
		},
		Nonce: "nonce-1",
	}
	resp := &auctionapi.AuctionResponse{
		Type:       auctionapi.TypeAuctionResponse,
		Success:    true,
		RoundID:    testRoundID,
		Identity:   blobs("id0"),
		Amount:     blobs("m0", "m1", "m2"),
		NumBidders: 2,
		Width:      3,
		Reserve:    1,
	}
	return req, resp
}

func payloadFor(t *testing.T, req *auctionapi.AuctionRequest, resp *auctionapi.AuctionResponse) []byte {
	t.Helper()
	bidHashes, err := parsing.ComputeBidHashes(req)
	assert.NoError(t, err)
	identity, err := auctionapi.CiphertextBytes(resp.Identity)
	assert.NoError(t, err)
	amount, err := auctionapi.CiphertextBytes(resp.Amount)
	assert.NoError(t, err)

	payload, err := auctionapi.MarshalReceiptPayload(&auctionapi.ReceiptPayload{
		RoundID:      resp.RoundID,
		AuctionID:    "auction-7",
		RequestHash:  core.ComputeRequestHash(resp.RoundID, resp.Width, resp.NumBidders, resp.Reserve, req.Nonce, bidHashes),
		BidHashes:    bidHashes,
		ResultHash:   core.ComputeResultHash(resp.RoundID, identity, amount),
		Width:        resp.Width,
		NumBidders:   resp.NumBidders,
		Reserve:      resp.Reserve,
		Strategy:     "tree",
		RequestNonce: req.Nonce,
		Timestamp:    time.Now().UnixMilli(),
	})
	assert.NoError(t, err)
	return payload
}

func publicKeyPEM(t *testing.T, key *ecdsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	assert.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// signCOSEReceipt attaches an ES256 receipt over payload to resp.
func signCOSEReceipt(t *testing.T, resp *auctionapi.AuctionResponse, payload []byte) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	assert.NoError(t, err)

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	assert.NoError(t, msg.Sign(rand.Reader, nil, signer))
	coseBytes, err := msg.MarshalCBOR()
	assert.NoError(t, err)

	resp.Receipt = &auctionapi.Receipt{
		Mode:         auctionapi.ReceiptModeCOSE,
		COSE:         auctionapi.ReceiptCOSE(coseBytes).EncodeBase64(),
		PublicKeyPEM: publicKeyPEM(t, &key.PublicKey),
	}
	return key
}

func TestValidateReceipt_COSEValid(t *testing.T) {
	req, resp := testExchange()
	key := signCOSEReceipt(t, resp, payloadFor(t, req, resp))

	result, err := ValidateReceipt(&ReceiptValidationInput{
		Request:              req,
		Response:             resp,
		ExpectedPublicKeyPEM: publicKeyPEM(t, &key.PublicKey),
	})
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.True(t, result.PublicKeyMatch)
	check.True(t, result.PayloadValid)
	check.True(t, result.RoundValid)
	check.True(t, result.BidHashesValid)
	check.True(t, result.RequestHashValid)
	check.True(t, result.ResultHashValid)
	check.True(t, result.IsValid())
	assert.NotNil(t, result.Payload)
	check.Equal(t, "auction-7", result.Payload.AuctionID)
}

func TestValidateReceipt_COSEUnpinned(t *testing.T) {
	req, resp := testExchange()
	signCOSEReceipt(t, resp, payloadFor(t, req, resp))

	result, err := ValidateReceipt(&ReceiptValidationInput{Request: req, Response: resp})
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}

func TestValidateReceipt_Mismatches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *auctionapi.AuctionRequest, resp *auctionapi.AuctionResponse)
		failed func(r *ReceiptValidationResult) bool
	}{
		{
			name: "substituted bid",
			mutate: func(req *auctionapi.AuctionRequest, _ *auctionapi.AuctionResponse) {
				req.Bids[1].Bits = blobs("b0", "b1", "bX")
			},
			failed: func(r *ReceiptValidationResult) bool { return !r.BidHashesValid && !r.RequestHashValid },
		},
		{
			name: "dropped bid",
			mutate: func(req *auctionapi.AuctionRequest, _ *auctionapi.AuctionResponse) {
				req.Bids = req.Bids[:1]
			},
			failed: func(r *ReceiptValidationResult) bool { return !r.BidHashesValid },
		},
		{
			name: "swapped result",
			mutate: func(_ *auctionapi.AuctionRequest, resp *auctionapi.AuctionResponse) {
				resp.Amount = blobs("m0", "m1", "mX")
			},
			failed: func(r *ReceiptValidationResult) bool { return !r.ResultHashValid },
		},
		{
			name: "different round",
			mutate: func(req *auctionapi.AuctionRequest, _ *auctionapi.AuctionResponse) {
				req.RoundID = "00000000-0000-0000-0000-000000000000"
			},
			failed: func(r *ReceiptValidationResult) bool { return !r.RoundValid },
		},
		{
			name: "different reserve",
			mutate: func(_ *auctionapi.AuctionRequest, resp *auctionapi.AuctionResponse) {
				resp.Reserve = 0
			},
			failed: func(r *ReceiptValidationResult) bool { return !r.RoundValid },
		},
		{
			name: "different nonce",
			mutate: func(req *auctionapi.AuctionRequest, _ *auctionapi.AuctionResponse) {
				req.Nonce = "nonce-2"
			},
			failed: func(r *ReceiptValidationResult) bool { return !r.RoundValid },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, resp := testExchange()
			signCOSEReceipt(t, resp, payloadFor(t, req, resp))
			tt.mutate(req, resp)

			result, err := ValidateReceipt(&ReceiptValidationInput{Request: req, Response: resp})
			assert.NoError(t, err)
			check.True(t, result.SignatureValid)
			check.True(t, tt.failed(result))
			check.False(t, result.IsValid())
		})
	}
}

func TestValidateReceipt_COSEWrongKey(t *testing.T) {
	req, resp := testExchange()
	signCOSEReceipt(t, resp, payloadFor(t, req, resp))

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)

	t.Run("pinned key differs", func(t *testing.T) {
		result, err := ValidateReceipt(&ReceiptValidationInput{
			Request:              req,
			Response:             resp,
			ExpectedPublicKeyPEM: publicKeyPEM(t, &other.PublicKey),
		})
		assert.NoError(t, err)
		check.True(t, result.SignatureValid)
		check.False(t, result.PublicKeyMatch)
		check.False(t, result.IsValid())
	})

	t.Run("embedded key swapped", func(t *testing.T) {
		forged := *resp
		receipt := *resp.Receipt
		receipt.PublicKeyPEM = publicKeyPEM(t, &other.PublicKey)
		forged.Receipt = &receipt

		result, err := ValidateReceipt(&ReceiptValidationInput{Request: req, Response: &forged})
		assert.NoError(t, err)
		check.False(t, result.SignatureValid)
		check.False(t, result.IsValid())
		check.True(t, result.BidHashesValid)
	})
}

func TestValidateReceipt_InputErrors(t *testing.T) {
	req, resp := testExchange()

	_, err := ValidateReceipt(nil)
	check.Error(t, err)

	_, err = ValidateReceipt(&ReceiptValidationInput{Request: req, Response: resp})
	check.Error(t, err)

	resp.Receipt = &auctionapi.Receipt{Mode: "pgp", COSE: auctionapi.ReceiptCOSE([]byte{0x80}).EncodeBase64()}
	_, err = ValidateReceipt(&ReceiptValidationInput{Request: req, Response: resp})
	check.Error(t, err)

	resp.Receipt = &auctionapi.Receipt{Mode: auctionapi.ReceiptModeCOSE, COSE: "%%%"}
	_, err = ValidateReceipt(&ReceiptValidationInput{Request: req, Response: resp})
	check.Error(t, err)
}

// nitroFixture is a self-signed stand-in for the Nitro signing certificate.
type nitroFixture struct {
	key     *ecdsa.PrivateKey
	certDER []byte
}

func newNitroFixture(t *testing.T) nitroFixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	assert.NoError(t, err)
	return nitroFixture{key: key, certDER: der}
}

// attest builds an untagged ES384 COSE_Sign1 over an attestation document the
// way the Nitro Security Module does.
func (f nitroFixture) attest(t *testing.T, userData []byte, pcr0 []byte) []byte {
	t.Helper()
	doc, err := cbor.Marshal(map[string]any{
		"module_id":   "i-0123-enc0123",
		"digest":      "SHA384",
		"timestamp":   uint64(time.Now().UnixMilli()),
		"pcrs":        map[uint64][]byte{0: pcr0, 1: {0x01}, 2: {0x02}},
		"certificate": f.certDER,
		"cabundle":    [][]byte{f.certDER},
		"user_data":   userData,
		"nonce":       []byte("n"),
	})
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int]int{1: -35})
	assert.NoError(t, err)
	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, doc})
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, f.key)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, sigStructure)
	assert.NoError(t, err)

	out, err := cbor.Marshal([]any{protected, map[any]any{}, doc, signature})
	assert.NoError(t, err)
	return out
}

func TestValidateReceipt_Nitro(t *testing.T) {
	fixture := newNitroFixture(t)
	known := []PCRSet{{PCR0: "aa", PCR1: "01", PCR2: "02", CommitHash: "abc123"}}

	req, resp := testExchange()
	payload := payloadFor(t, req, resp)
	digest := sha256.Sum256(payload)
	resp.Receipt = &auctionapi.Receipt{
		Mode:    auctionapi.ReceiptModeNitro,
		COSE:    auctionapi.ReceiptCOSE(fixture.attest(t, digest[:], []byte{0xaa})).EncodeBase64(),
		Payload: base64.StdEncoding.EncodeToString(payload),
	}

	result, err := ValidateReceipt(&ReceiptValidationInput{Request: req, Response: resp, KnownPCRs: known})
	assert.NoError(t, err)
	check.Equal(t, auctionapi.ReceiptModeNitro, result.Mode)
	check.True(t, result.PCRsValid)
	check.True(t, result.SignatureValid)
	check.True(t, result.PayloadValid)
	check.True(t, result.BidHashesValid)
	check.True(t, result.RequestHashValid)
	check.True(t, result.ResultHashValid)
	// A self-signed certificate does not chain to the AWS root.
	check.False(t, result.CertificateValid)
	check.False(t, result.IsValid())

	t.Run("unknown image", func(t *testing.T) {
		result, err := ValidateReceipt(&ReceiptValidationInput{Request: req, Response: resp})
		assert.NoError(t, err)
		check.False(t, result.PCRsValid)
	})

	t.Run("payload swapped", func(t *testing.T) {
		forged := *resp
		receipt := *resp.Receipt
		other, err := auctionapi.MarshalReceiptPayload(&auctionapi.ReceiptPayload{RoundID: testRoundID})
		assert.NoError(t, err)
		receipt.Payload = base64.StdEncoding.EncodeToString(other)
		forged.Receipt = &receipt

		result, err := ValidateReceipt(&ReceiptValidationInput{Request: req, Response: &forged, KnownPCRs: known})
		assert.NoError(t, err)
		check.True(t, result.SignatureValid)
		check.False(t, result.PayloadValid)
		check.False(t, result.IsValid())
	})
}

func TestVerifyCOSESignature(t *testing.T) {
	fixture := newNitroFixture(t)
	coseBytes := fixture.attest(t, []byte("user"), []byte{0x01})
	certB64 := base64.StdEncoding.EncodeToString(fixture.certDER)

	check.NoError(t, VerifyCOSESignature(coseBytes, certB64))

	other := newNitroFixture(t)
	err := VerifyCOSESignature(coseBytes, base64.StdEncoding.EncodeToString(other.certDER))
	check.Error(t, err)

	check.Error(t, VerifyCOSESignature([]byte{0x01}, certB64))
	check.Error(t, VerifyCOSESignature(coseBytes, "not base64!"))
}

func TestValidateCertificateChain_RejectsUntrustedRoot(t *testing.T) {
	fixture := newNitroFixture(t)
	certB64 := base64.StdEncoding.EncodeToString(fixture.certDER)

	err := ValidateCertificateChain(certB64, []string{certB64}, time.Now())
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "certificate chain validation failed"))

	check.Error(t, ValidateCertificateChain("???", nil, time.Now()))
}

func TestParsePublicKeyPEM(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)

	parsed, err := ParsePublicKeyPEM(publicKeyPEM(t, &key.PublicKey))
	assert.NoError(t, err)
	check.True(t, parsed.Equal(&key.PublicKey))

	_, err = ParsePublicKeyPEM("not pem")
	check.Error(t, err)
}
