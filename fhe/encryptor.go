package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Ciphertext encrypts one bit. Only the constant coefficient carries meaning.
type Ciphertext struct {
	ct *rlwe.Ciphertext
}

// CopyNew returns a deep copy of the ciphertext.
func (c *Ciphertext) CopyNew() *Ciphertext {
	return &Ciphertext{ct: c.ct.CopyNew()}
}

// Encryptor encrypts bits under either the secret or the public key. It is not
// safe for concurrent use.
type Encryptor struct {
	params Parameters
	enc    *rlwe.Encryptor
}

// NewSecretKeyEncryptor creates a symmetric-key encryptor.
func NewSecretKeyEncryptor(sk *SecretKey) *Encryptor {
	return &Encryptor{params: sk.params, enc: rlwe.NewEncryptor(sk.params.lwe, sk.lwe)}
}

// NewPublicKeyEncryptor creates a public-key encryptor.
func NewPublicKeyEncryptor(pk *PublicKey) *Encryptor {
	return &Encryptor{params: pk.params, enc: rlwe.NewEncryptor(pk.params.lwe, pk.pk)}
}

// Encrypt returns a fresh encryption of bit. Two calls with the same bit yield
// different ciphertexts.
func (e *Encryptor) Encrypt(bit bool) (*Ciphertext, error) {
	params := e.params.lwe

	pt := rlwe.NewPlaintext(params, params.MaxLevel())
	pt.Value.Coeffs[0][0] = e.params.encode(bit)
	if pt.IsNTT {
		params.RingQ().NTT(pt.Value, pt.Value)
	}

	ct := rlwe.NewCiphertext(params, 1, params.MaxLevel())
	if err := e.enc.Encrypt(pt, ct); err != nil {
		return nil, fmt.Errorf("failed to encrypt bit: %w", err)
	}
	return &Ciphertext{ct: ct}, nil
}

// Decryptor recovers bits with the secret key. It is not safe for concurrent
// use.
type Decryptor struct {
	params Parameters
	dec    *rlwe.Decryptor
}

// NewDecryptor creates a decryptor.
func NewDecryptor(sk *SecretKey) *Decryptor {
	return &Decryptor{params: sk.params, dec: rlwe.NewDecryptor(sk.params.lwe, sk.lwe)}
}

// Decrypt returns the bit carried by ct.
func (d *Decryptor) Decrypt(ct *Ciphertext) bool {
	pt := d.dec.DecryptNew(ct.ct)
	if pt.IsNTT {
		d.params.lwe.RingQ().INTT(pt.Value, pt.Value)
	}
	return pt.Value.Coeffs[0][0] < d.params.set.Q/2
}

// encode maps true to Q/8 and false to -Q/8.
func (p Parameters) encode(bit bool) uint64 {
	if bit {
		return p.eighth
	}
	return p.set.Q - p.eighth
}
