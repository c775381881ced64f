package main

import (
	"fmt"
	"sync"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// CreateMockEnclave creates a mock enclave handle that wraps the options in an
// untagged COSE_Sign1 array, like the Nitro Security Module does.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id":   "test-enclave-12345",
				"digest":      "SHA384",
				"timestamp":   uint64(1234567890),
				"pcrs":        map[uint64][]byte{0: {0x3b, 0x4c}, 1: {0x4b, 0x4d}, 2: {0x2b, 0xdd}},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03}, // Header
				map[string]any{},         // Metadata
				nestedBytes,              // Nested attestation document
				[]byte{0x04, 0x05, 0x06}, // Signature
			})
		},
	}
}

type testKeySet struct {
	sk      *fhe.SecretKey
	ek      *fhe.EvaluationKey
	keyBlob auctionapi.KeyBlob
}

var (
	keysOnce sync.Once
	keys     testKeySet
	keysErr  error
)

func testKeys(t *testing.T) testKeySet {
	t.Helper()
	keysOnce.Do(func() {
		params, err := fhe.NewParameters(fhe.DemoSmall)
		if err != nil {
			keysErr = err
			return
		}
		kg := fhe.NewKeyGenerator(params)
		sk := kg.GenSecretKey()
		ek := kg.GenEvaluationKey(sk)
		raw, err := ek.MarshalBinary()
		if err != nil {
			keysErr = err
			return
		}
		blob, err := auctionapi.EncodeKeyBlob(raw)
		if err != nil {
			keysErr = err
			return
		}
		keys = testKeySet{sk: sk, ek: ek, keyBlob: blob}
	})
	assert.NoError(t, keysErr)
	return keys
}

func encryptedBidBits(t *testing.T, values []uint64, width int) []auctionapi.EncryptedBidBits {
	t.Helper()
	enc := fhe.NewSecretKeyEncryptor(testKeys(t).sk)
	out := make([]auctionapi.EncryptedBidBits, len(values))
	for k, v := range values {
		bid, err := core.EncodeBid(enc, v, width)
		assert.NoError(t, err)
		blobs, err := auctionapi.EncodeCiphertexts(bid)
		assert.NoError(t, err)
		out[k] = auctionapi.EncryptedBidBits{BidderID: fmt.Sprintf("bidder-%d", k), Bits: blobs}
	}
	return out
}

func decodeResponse(t *testing.T, resp auctionapi.AuctionResponse) *core.Result {
	t.Helper()
	params := testKeys(t).sk.Parameters()
	identity, err := auctionapi.DecodeCiphertexts(params, resp.Identity)
	assert.NoError(t, err)
	amount, err := auctionapi.DecodeCiphertexts(params, resp.Amount)
	assert.NoError(t, err)

	res, err := core.DecodeResult(fhe.NewDecryptor(testKeys(t).sk), &core.EncryptedResult{
		Identity:   identity,
		Amount:     amount,
		NumBidders: resp.NumBidders,
		Width:      resp.Width,
		Reserve:    resp.Reserve,
	})
	assert.NoError(t, err)
	return res
}

func newCOSEIssuer(t *testing.T) *ReceiptIssuer {
	t.Helper()
	km, err := NewKeyManager()
	assert.NoError(t, err)
	issuer, err := NewReceiptIssuer(auctionapi.ReceiptModeCOSE, km, nil)
	assert.NoError(t, err)
	return issuer
}
