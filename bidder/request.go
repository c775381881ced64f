package bidder

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/auctionapi/parsing"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// RoundParams are the public parameters of an auction round.
type RoundParams struct {
	AuctionID  string
	Width      int
	NumBidders int
	Reserve    uint64
	Strategy   string
}

// BuildRoundOpen builds the request that registers a round and its evaluation
// key with the evaluator.
func BuildRoundOpen(params RoundParams, key auctionapi.KeyBlob) (*auctionapi.RoundOpenRequest, error) {
	if err := core.ValidateWidth(params.Width); err != nil {
		return nil, err
	}
	if params.NumBidders < 2 {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("need at least 2 bidders, got %d", params.NumBidders)}
	}
	if !core.FitsWidth(params.Reserve, params.Width) {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("reserve %d does not fit in %d bits", params.Reserve, params.Width)}
	}
	if _, err := core.ParseStrategy(params.Strategy); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, &core.ConfigurationError{Reason: "missing evaluation key"}
	}
	return &auctionapi.RoundOpenRequest{
		Type:          auctionapi.TypeRoundOpen,
		AuctionID:     params.AuctionID,
		Width:         params.Width,
		NumBidders:    params.NumBidders,
		Reserve:       params.Reserve,
		Strategy:      params.Strategy,
		EvaluationKey: key,
	}, nil
}

// Bid is one plaintext bid in integer units.
type Bid struct {
	BidderID string
	Value    uint64
}

// RequestOptions control how BuildRequest encodes the bids.
type RequestOptions struct {
	// DemoWire encodes bids as decimal mask and body strings instead of CBOR.
	DemoWire bool
	// Nonce is bound into the receipt request hash. Empty generates one.
	Nonce string
}

// EncryptBid encrypts one bid as base64 ciphertexts.
func EncryptBid(enc core.BitEncryptor, bid Bid, width int) (auctionapi.EncryptedBidBits, error) {
	bits, err := core.EncodeBid(enc, bid.Value, width)
	if err != nil {
		return auctionapi.EncryptedBidBits{}, err
	}
	blobs, err := auctionapi.EncodeCiphertexts(bits)
	if err != nil {
		return auctionapi.EncryptedBidBits{}, err
	}
	return auctionapi.EncryptedBidBits{BidderID: bid.BidderID, Bits: blobs}, nil
}

// EncryptDemoWireBid encrypts one bid in the decimal demo format.
func EncryptDemoWireBid(enc core.BitEncryptor, params fhe.Parameters, bid Bid, width int) (auctionapi.DemoWireBid, error) {
	bits, err := core.EncodeBid(enc, bid.Value, width)
	if err != nil {
		return auctionapi.DemoWireBid{}, err
	}
	return parsing.FormatDemoWireBid(params, bid.BidderID, bits), nil
}

// BuildRequest encrypts bids in order into an auction request for roundID.
// The position of a bid is its bidder index.
func BuildRequest(enc core.BitEncryptor, params fhe.Parameters, roundID string, width int, bids []Bid, opts RequestOptions) (*auctionapi.AuctionRequest, error) {
	if len(bids) < 2 {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("need at least 2 bids, got %d", len(bids))}
	}

	nonce := opts.Nonce
	if nonce == "" {
		var err error
		if nonce, err = newNonce(); err != nil {
			return nil, err
		}
	}

	req := &auctionapi.AuctionRequest{
		Type:      auctionapi.TypeAuctionRequest,
		RoundID:   roundID,
		Nonce:     nonce,
		Timestamp: time.Now().UTC(),
	}
	for k, bid := range bids {
		if opts.DemoWire {
			wire, err := EncryptDemoWireBid(enc, params, bid, width)
			if err != nil {
				return nil, fmt.Errorf("bid %d: %w", k, err)
			}
			req.DemoWireBids = append(req.DemoWireBids, wire)
			continue
		}
		bits, err := EncryptBid(enc, bid, width)
		if err != nil {
			return nil, fmt.Errorf("bid %d: %w", k, err)
		}
		req.Bids = append(req.Bids, bits)
	}
	return req, nil
}

// DecodeResponse decrypts the winner and amount of a successful auction
// response.
func DecodeResponse(sk *fhe.SecretKey, resp *auctionapi.AuctionResponse) (*core.Result, error) {
	if !resp.Success {
		return nil, fmt.Errorf("auction round %s failed: %s", resp.RoundID, resp.Message)
	}

	params := sk.Parameters()
	identity, err := auctionapi.DecodeCiphertexts(params, resp.Identity)
	if err != nil {
		return nil, err
	}
	amount, err := auctionapi.DecodeCiphertexts(params, resp.Amount)
	if err != nil {
		return nil, err
	}

	return core.DecodeResult(fhe.NewDecryptor(sk), &core.EncryptedResult{
		Identity:   identity,
		Amount:     amount,
		NumBidders: resp.NumBidders,
		Width:      resp.Width,
		Reserve:    resp.Reserve,
	})
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
