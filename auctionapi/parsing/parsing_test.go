package parsing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

var (
	keysOnce sync.Once
	testSK   *fhe.SecretKey
	keysErr  error
)

func testSecretKey(t *testing.T) *fhe.SecretKey {
	t.Helper()
	keysOnce.Do(func() {
		params, err := fhe.NewParameters(fhe.DemoSmall)
		if err != nil {
			keysErr = err
			return
		}
		testSK = fhe.NewKeyGenerator(params).GenSecretKey()
	})
	assert.NoError(t, keysErr)
	return testSK
}

func encryptBid(t *testing.T, value uint64, width int) core.EncryptedBid {
	t.Helper()
	bid, err := core.EncodeBid(fhe.NewSecretKeyEncryptor(testSecretKey(t)), value, width)
	assert.NoError(t, err)
	return bid
}

func decodeBid(t *testing.T, bid core.EncryptedBid) uint64 {
	t.Helper()
	v, err := core.DecodeBits(fhe.NewDecryptor(testSecretKey(t)), bid)
	assert.NoError(t, err)
	return v
}

func TestDemoWire_RoundTrip(t *testing.T) {
	params := testSecretKey(t).Parameters()
	bid := encryptBid(t, 0b1101, 4)

	wire := FormatDemoWireBid(params, "bidder-a", bid)
	check.Equal(t, "bidder-a", wire.BidderID)
	check.Equal(t, 4, wire.Count)
	check.Equal(t, 4, len(wire.Ciphertexts))
	check.Equal(t, params.N(), len(wire.Ciphertexts[0].Mask))

	parsed, err := ParseDemoWireBid(params, wire)
	assert.NoError(t, err)
	check.Equal(t, uint64(0b1101), decodeBid(t, parsed))
}

func TestDemoWire_RejectsSharedMask(t *testing.T) {
	params := testSecretKey(t).Parameters()
	wire := FormatDemoWireBid(params, "", encryptBid(t, 3, 2))

	wire.Ciphertexts[1].Mask = wire.Ciphertexts[0].Mask
	_, err := ParseDemoWireBid(params, wire)
	check.True(t, errors.Is(err, core.ErrSerialization))
}

func TestDemoWire_SharedMaskComparesParsedValues(t *testing.T) {
	params := testSecretKey(t).Parameters()
	wire := FormatDemoWireBid(params, "", encryptBid(t, 3, 2))

	respelled := make([]string, len(wire.Ciphertexts[0].Mask))
	for j, c := range wire.Ciphertexts[0].Mask {
		respelled[j] = "0" + c
	}
	wire.Ciphertexts[1].Mask = respelled
	_, err := ParseDemoWireBid(params, wire)
	check.True(t, errors.Is(err, core.ErrSerialization))
}

func TestDemoWire_RejectsMalformed(t *testing.T) {
	params := testSecretKey(t).Parameters()

	tests := []struct {
		name   string
		mutate func(*auctionapi.DemoWireBid)
	}{
		{"count mismatch", func(b *auctionapi.DemoWireBid) { b.Count = 3 }},
		{"non numeric body", func(b *auctionapi.DemoWireBid) { b.Ciphertexts[0].Body = "twelve" }},
		{"fractional mask", func(b *auctionapi.DemoWireBid) { b.Ciphertexts[0].Mask[0] = "1.5" }},
		{"negative mask", func(b *auctionapi.DemoWireBid) { b.Ciphertexts[0].Mask[0] = "-1" }},
		{"unreduced body", func(b *auctionapi.DemoWireBid) { b.Ciphertexts[1].Body = "999999999999" }},
		{"short mask", func(b *auctionapi.DemoWireBid) { b.Ciphertexts[1].Mask = b.Ciphertexts[1].Mask[:3] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := FormatDemoWireBid(params, "", encryptBid(t, 1, 2))
			tt.mutate(&wire)
			_, err := ParseDemoWireBid(params, wire)
			check.True(t, errors.Is(err, core.ErrSerialization))
		})
	}
}

func TestDecodeRequestBids(t *testing.T) {
	params := testSecretKey(t).Parameters()
	values := []uint64{2, 5}

	var bits []auctionapi.EncryptedBidBits
	var wire []auctionapi.DemoWireBid
	for _, v := range values {
		bid := encryptBid(t, v, 3)
		blobs, err := auctionapi.EncodeCiphertexts(bid)
		assert.NoError(t, err)
		bits = append(bits, auctionapi.EncryptedBidBits{Bits: blobs})
		wire = append(wire, FormatDemoWireBid(params, "", bid))
	}

	for _, req := range []*auctionapi.AuctionRequest{
		{RoundID: "r", Bids: bits},
		{RoundID: "r", DemoWireBids: wire},
	} {
		bids, err := DecodeRequestBids(params, req, 2, 3)
		assert.NoError(t, err)
		for k, v := range values {
			check.Equal(t, v, decodeBid(t, bids[k]))
		}

		hashes, err := ComputeBidHashes(req)
		assert.NoError(t, err)
		check.Equal(t, 2, len(hashes))
		check.NotEqual(t, hashes[0], hashes[1])
	}
}

func TestDecodeRequestBids_RejectsMaskSharedAcrossBids(t *testing.T) {
	params := testSecretKey(t).Parameters()
	first := FormatDemoWireBid(params, "a", encryptBid(t, 2, 3))
	second := FormatDemoWireBid(params, "b", encryptBid(t, 5, 3))

	req := &auctionapi.AuctionRequest{RoundID: "r", DemoWireBids: []auctionapi.DemoWireBid{first, second}}
	_, err := DecodeRequestBids(params, req, 2, 3)
	assert.NoError(t, err)

	second.Ciphertexts[2].Mask = append([]string(nil), first.Ciphertexts[0].Mask...)
	req = &auctionapi.AuctionRequest{RoundID: "r", DemoWireBids: []auctionapi.DemoWireBid{first, second}}
	_, err = DecodeRequestBids(params, req, 2, 3)
	check.True(t, errors.Is(err, core.ErrSerialization))
	check.True(t, strings.Contains(err.Error(), "ciphertext 2 of bid 1 reuses the mask of ciphertext 0 of bid 0"))
}

func TestDecodeRequestBids_Shape(t *testing.T) {
	params := testSecretKey(t).Parameters()
	blobs, err := auctionapi.EncodeCiphertexts(encryptBid(t, 1, 2))
	assert.NoError(t, err)
	one := auctionapi.EncryptedBidBits{Bits: blobs}
	wire := FormatDemoWireBid(params, "", encryptBid(t, 1, 2))

	tests := []struct {
		name string
		req  *auctionapi.AuctionRequest
	}{
		{"no bids", &auctionapi.AuctionRequest{}},
		{"both encodings", &auctionapi.AuctionRequest{Bids: []auctionapi.EncryptedBidBits{one, one}, DemoWireBids: []auctionapi.DemoWireBid{wire, wire}}},
		{"wrong bidder count", &auctionapi.AuctionRequest{Bids: []auctionapi.EncryptedBidBits{one}}},
		{"wrong width", &auctionapi.AuctionRequest{Bids: []auctionapi.EncryptedBidBits{one, {Bits: blobs[:1]}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequestBids(params, tt.req, 2, 2)
			check.True(t, errors.Is(err, core.ErrConfiguration))
		})
	}
}

func TestExtractCOSEPayload(t *testing.T) {
	payload := []byte("receipt-payload")

	// Untagged, as produced by the Nitro Security Module.
	untagged, err := cbor.Marshal([]any{[]byte{0xa0}, map[any]any{}, payload, []byte("sig")})
	assert.NoError(t, err)
	got, err := ExtractCOSEPayload(untagged)
	check.Nil(t, err)
	check.Equal(t, payload, got)

	// Tagged, as produced by go-cose.
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES256, priv)
	assert.NoError(t, err)
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	assert.NoError(t, msg.Sign(rand.Reader, nil, signer))
	tagged, err := msg.MarshalCBOR()
	assert.NoError(t, err)

	got, err = ExtractCOSEPayload(tagged)
	check.Nil(t, err)
	check.Equal(t, payload, got)

	bad, err := cbor.Marshal([]any{1, 2})
	assert.NoError(t, err)
	_, err = ExtractCOSEPayload(bad)
	check.Error(t, err)
}

func TestParseNitroAttestation(t *testing.T) {
	doc := NitroAttestationDocument{
		ModuleID:  "i-0123-enc0123",
		Digest:    "SHA384",
		Timestamp: 1700000000000,
		PCRs:      map[uint64][]byte{0: {0xaa}, 1: {0xbb}, 2: {0xcc}},
		UserData:  []byte("user-data"),
	}
	docBytes, err := cbor.Marshal(doc)
	assert.NoError(t, err)
	coseBytes, err := cbor.Marshal([]any{[]byte{}, map[any]any{}, docBytes, []byte{}})
	assert.NoError(t, err)

	got, err := ParseNitroAttestation(coseBytes)
	assert.NoError(t, err)
	check.Equal(t, "i-0123-enc0123", got.ModuleID)
	check.Equal(t, []byte("user-data"), got.UserData)
	check.Equal(t, int64(1700000000000), got.IssuedAt().UnixMilli())

	pcrs := ExtractPCRs(got.PCRs)
	check.Equal(t, "aa", pcrs.ImageFileHash)
	check.Equal(t, "bb", pcrs.KernelHash)
	check.Equal(t, "cc", pcrs.ApplicationHash)
	check.Equal(t, "", pcrs.SigningCertHash)
}
