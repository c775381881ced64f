package core

import (
	"github.com/cloudx-io/fheauction/fhe"
)

// EncryptedBid is a bid encrypted bit by bit, most significant bit first. All
// bids of one round share the same width.
type EncryptedBid []*fhe.Ciphertext

// EncryptedWinnerIdentity is the binary encoding of the winning bidder index,
// most significant bit first, IdentityWidth(numBidders) ciphertexts long.
type EncryptedWinnerIdentity []*fhe.Ciphertext

// EncryptedResult is the output of a tournament. It can only be read by the
// holder of the secret key.
type EncryptedResult struct {
	// Identity encodes the index of the winning bidder.
	Identity EncryptedWinnerIdentity

	// Amount is the winning bid, or zero when no bid met the reserve.
	Amount EncryptedBid

	NumBidders int
	Width      int

	// Reserve is the public reserve price applied before the reduction.
	Reserve uint64
}

// Result is a decoded tournament outcome.
type Result struct {
	Winner int    `json:"winner"`
	Amount uint64 `json:"amount"`

	// Sold reports whether the winning amount met the reserve. It is always
	// true when no reserve was set.
	Sold bool `json:"sold"`
}

// BitEncryptor encrypts single bits. fhe.Encryptor implements it with either
// the secret or the public key.
type BitEncryptor interface {
	Encrypt(bit bool) (*fhe.Ciphertext, error)
}

// BitDecryptor decrypts single bits. Only the secret key holder has one.
type BitDecryptor interface {
	Decrypt(ct *fhe.Ciphertext) bool
}

// GateEvaluator is the set of gates the auction circuit is built from. It is
// satisfied by *fhe.Evaluator and needs the evaluation key only.
type GateEvaluator interface {
	AND(a, b *fhe.Ciphertext) (*fhe.Ciphertext, error)
	OR(a, b *fhe.Ciphertext) (*fhe.Ciphertext, error)
	XNOR(a, b *fhe.Ciphertext) (*fhe.Ciphertext, error)
	NOT(a *fhe.Ciphertext) *fhe.Ciphertext
	Constant(bit bool) *fhe.Ciphertext
}
