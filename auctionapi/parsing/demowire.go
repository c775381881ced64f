package parsing

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// FormatDemoWireBid renders an encrypted bid in the decimal demo format.
func FormatDemoWireBid(params fhe.Parameters, bidderID string, bid core.EncryptedBid) auctionapi.DemoWireBid {
	out := auctionapi.DemoWireBid{
		BidderID:    bidderID,
		Count:       len(bid),
		Ciphertexts: make([]auctionapi.DemoWireCiphertext, len(bid)),
	}
	for i, ct := range bid {
		mask, body := params.ExportLWE(ct)
		coeffs := make([]string, len(mask))
		for j, c := range mask {
			coeffs[j] = uintDecimal(c).String()
		}
		out.Ciphertexts[i] = auctionapi.DemoWireCiphertext{
			Mask: coeffs,
			Body: uintDecimal(body).String(),
		}
	}
	return out
}

// ParseDemoWireBid parses a decimal demo bid. Every ciphertext must carry its
// own mask; a bid whose ciphertexts reuse one mask vector is rejected.
func ParseDemoWireBid(params fhe.Parameters, bid auctionapi.DemoWireBid) (core.EncryptedBid, error) {
	return parseDemoWireBid(params, bid, 0, make(maskSet, len(bid.Ciphertexts)))
}

// maskLocation names the ciphertext a mask was first seen on.
type maskLocation struct {
	bid, ciphertext int
}

// maskSet tracks parsed mask vectors across every ciphertext of a request.
// Keys are the reduced coefficients, so two spellings of one value collide.
type maskSet map[string]maskLocation

func (s maskSet) add(mask []uint64, at maskLocation) error {
	key := make([]byte, 0, 8*len(mask))
	for _, c := range mask {
		key = binary.LittleEndian.AppendUint64(key, c)
	}
	if prev, ok := s[string(key)]; ok {
		return fmt.Errorf("ciphertext %d of bid %d reuses the mask of ciphertext %d of bid %d", at.ciphertext, at.bid, prev.ciphertext, prev.bid)
	}
	s[string(key)] = at
	return nil
}

func parseDemoWireBid(params fhe.Parameters, bid auctionapi.DemoWireBid, k int, seen maskSet) (core.EncryptedBid, error) {
	if bid.Count != len(bid.Ciphertexts) {
		return nil, core.NewSerializationError("demo wire bid", fmt.Errorf("count %d but %d ciphertexts", bid.Count, len(bid.Ciphertexts)))
	}

	out := make(core.EncryptedBid, len(bid.Ciphertexts))
	for i, wire := range bid.Ciphertexts {
		mask := make([]uint64, len(wire.Mask))
		for j, s := range wire.Mask {
			v, err := parseCoefficient(s, params.Q())
			if err != nil {
				return nil, core.NewSerializationError(fmt.Sprintf("ciphertext %d mask coefficient %d", i, j), err)
			}
			mask[j] = v
		}
		if err := seen.add(mask, maskLocation{bid: k, ciphertext: i}); err != nil {
			return nil, core.NewSerializationError("demo wire bid", err)
		}
		body, err := parseCoefficient(wire.Body, params.Q())
		if err != nil {
			return nil, core.NewSerializationError(fmt.Sprintf("ciphertext %d body", i), err)
		}

		ct, err := params.ImportLWE(mask, body)
		if err != nil {
			return nil, core.NewSerializationError(fmt.Sprintf("ciphertext %d", i), err)
		}
		out[i] = ct
	}
	return out, nil
}

// parseCoefficient parses a non-negative decimal integer below q.
func parseCoefficient(s string, q uint64) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() || d.Sign() < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", s)
	}
	if d.Cmp(uintDecimal(q)) >= 0 {
		return 0, fmt.Errorf("%s not reduced modulo %d", s, q)
	}
	return d.BigInt().Uint64(), nil
}

func uintDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
