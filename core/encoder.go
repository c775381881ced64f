package core

import (
	"math/bits"

	"github.com/cloudx-io/fheauction/fhe"
)

// MaxWidth is the widest supported bid.
const MaxWidth = 64

// ValidateWidth checks that width is a usable bid width.
func ValidateWidth(width int) error {
	if width < 1 || width > MaxWidth {
		return configErrorf("bid width %d outside [1, %d]", width, MaxWidth)
	}
	return nil
}

// FitsWidth reports whether value is representable in width bits.
func FitsWidth(value uint64, width int) bool {
	return width >= MaxWidth || value>>uint(width) == 0
}

// EncodeBid encrypts value as width ciphertexts, most significant bit first.
// Values that do not fit are rejected rather than truncated. Every call draws
// fresh randomness, so encoding the same value twice yields unrelated
// ciphertexts.
func EncodeBid(enc BitEncryptor, value uint64, width int) (EncryptedBid, error) {
	if err := ValidateWidth(width); err != nil {
		return nil, err
	}
	if !FitsWidth(value, width) {
		return nil, configErrorf("bid value %d does not fit in %d bits", value, width)
	}

	bid := make(EncryptedBid, width)
	for i := range bid {
		ct, err := enc.Encrypt(bitAt(value, width, i))
		if err != nil {
			return nil, &EvaluationError{Stage: "encode bid", Err: err}
		}
		bid[i] = ct
	}
	return bid, nil
}

// IdentityWidth is the number of ciphertexts in the winner identity of a round
// with numBidders bidders.
func IdentityWidth(numBidders int) int {
	if numBidders <= 2 {
		return 1
	}
	return bits.Len(uint(numBidders - 1))
}

// encodeConstant returns trivial encryptions of the width-bit big-endian
// representation of value. Used for public values only.
func encodeConstant(eval GateEvaluator, value uint64, width int) []*fhe.Ciphertext {
	out := make([]*fhe.Ciphertext, width)
	for i := range out {
		out[i] = eval.Constant(bitAt(value, width, i))
	}
	return out
}

// bitAt returns bit i of value counted from the most significant end of a
// width-bit word.
func bitAt(value uint64, width, i int) bool {
	return (value>>uint(width-1-i))&1 == 1
}
