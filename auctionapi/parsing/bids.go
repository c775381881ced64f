package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// DecodeRequestBids parses the bids of an auction request under params. The
// request must carry numBidders bids of width ciphertexts each, in exactly one
// of the two encodings. No mask vector may appear twice anywhere in a demo
// wire request.
func DecodeRequestBids(params fhe.Parameters, req *auctionapi.AuctionRequest, numBidders, width int) ([]core.EncryptedBid, error) {
	if err := checkRequestShape(req, numBidders, width); err != nil {
		return nil, err
	}

	bids := make([]core.EncryptedBid, numBidders)
	seen := make(maskSet, numBidders*width)
	for k := range bids {
		var err error
		if len(req.Bids) > 0 {
			bids[k], err = auctionapi.DecodeCiphertexts(params, req.Bids[k].Bits)
		} else {
			bids[k], err = parseDemoWireBid(params, req.DemoWireBids[k], k, seen)
		}
		if err != nil {
			return nil, fmt.Errorf("bid %d: %w", k, err)
		}
	}
	return bids, nil
}

// RequestBidBlobs returns, for every bid, the byte strings its hash is
// computed over: raw ciphertext bytes for base64 bids and the deterministic
// CBOR encoding of each decimal ciphertext for demo wire bids.
func RequestBidBlobs(req *auctionapi.AuctionRequest) ([][][]byte, error) {
	if len(req.Bids) > 0 {
		out := make([][][]byte, len(req.Bids))
		for k, bid := range req.Bids {
			raw, err := auctionapi.CiphertextBytes(bid.Bits)
			if err != nil {
				return nil, fmt.Errorf("bid %d: %w", k, err)
			}
			out[k] = raw
		}
		return out, nil
	}

	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoding options: %w", err)
	}
	out := make([][][]byte, len(req.DemoWireBids))
	for k, bid := range req.DemoWireBids {
		out[k] = make([][]byte, len(bid.Ciphertexts))
		for i, ct := range bid.Ciphertexts {
			if out[k][i], err = em.Marshal(ct); err != nil {
				return nil, core.NewSerializationError(fmt.Sprintf("bid %d ciphertext %d", k, i), err)
			}
		}
	}
	return out, nil
}

// ComputeBidHashes hashes every bid of req in bidder order.
func ComputeBidHashes(req *auctionapi.AuctionRequest) ([]string, error) {
	blobs, err := RequestBidBlobs(req)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(blobs))
	for k, b := range blobs {
		hashes[k] = core.ComputeBidHash(req.RoundID, k, b)
	}
	return hashes, nil
}

func checkRequestShape(req *auctionapi.AuctionRequest, numBidders, width int) error {
	hasBits, hasWire := len(req.Bids) > 0, len(req.DemoWireBids) > 0
	switch {
	case hasBits && hasWire:
		return &core.ConfigurationError{Reason: "request carries both base64 and demo wire bids"}
	case hasBits && len(req.Bids) != numBidders:
		return &core.ConfigurationError{Reason: fmt.Sprintf("round expects %d bids, got %d", numBidders, len(req.Bids))}
	case hasWire && len(req.DemoWireBids) != numBidders:
		return &core.ConfigurationError{Reason: fmt.Sprintf("round expects %d bids, got %d", numBidders, len(req.DemoWireBids))}
	case !hasBits && !hasWire:
		return &core.ConfigurationError{Reason: "request carries no bids"}
	}

	for k := 0; k < numBidders; k++ {
		n := 0
		if hasBits {
			n = len(req.Bids[k].Bits)
		} else {
			n = req.DemoWireBids[k].Count
		}
		if n != width {
			return &core.ConfigurationError{Reason: fmt.Sprintf("bid %d has %d ciphertexts, round width is %d", k, n, width)}
		}
	}
	return nil
}
