package core

import (
	"fmt"

	"github.com/cloudx-io/fheauction/fhe"
)

// DecodeResult decrypts a tournament result. An identity that decodes to an
// index outside the round means the result was corrupted and is reported as a
// SerializationError.
func DecodeResult(dec BitDecryptor, res *EncryptedResult) (*Result, error) {
	if res == nil {
		return nil, NewSerializationError("decode result", fmt.Errorf("no result"))
	}
	if res.NumBidders < 2 {
		return nil, NewSerializationError("decode result", fmt.Errorf("result claims %d bidders", res.NumBidders))
	}
	if len(res.Amount) != res.Width || ValidateWidth(res.Width) != nil {
		return nil, NewSerializationError("decode result", fmt.Errorf("amount has %d bits, round width is %d", len(res.Amount), res.Width))
	}
	if want := IdentityWidth(res.NumBidders); len(res.Identity) != want {
		return nil, NewSerializationError("decode result", fmt.Errorf("identity has %d bits, want %d", len(res.Identity), want))
	}

	winner, err := DecodeBits(dec, res.Identity)
	if err != nil {
		return nil, err
	}
	if winner >= uint64(res.NumBidders) {
		return nil, NewSerializationError("decode result", fmt.Errorf("winner index %d outside [0, %d)", winner, res.NumBidders))
	}

	amount, err := DecodeBits(dec, res.Amount)
	if err != nil {
		return nil, err
	}

	return &Result{
		Winner: int(winner),
		Amount: amount,
		Sold:   MeetsReserve(amount, res.Reserve),
	}, nil
}

// DecodeBits decrypts a most-significant-bit-first sequence into an integer.
func DecodeBits(dec BitDecryptor, bits []*fhe.Ciphertext) (uint64, error) {
	if len(bits) > MaxWidth {
		return 0, NewSerializationError("decode bits", fmt.Errorf("%d bits exceed %d", len(bits), MaxWidth))
	}
	var v uint64
	for i, ct := range bits {
		if ct == nil {
			return 0, NewSerializationError("decode bits", fmt.Errorf("bit %d is missing", i))
		}
		v <<= 1
		if dec.Decrypt(ct) {
			v |= 1
		}
	}
	return v, nil
}
