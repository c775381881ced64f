package fhe

import (
	"github.com/tuneinsight/lattigo/v6/core/rgsw/blindrot"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// SecretKey decrypts bits. It never leaves the decrypting party.
type SecretKey struct {
	params Parameters
	lwe    *rlwe.SecretKey
	br     *rlwe.SecretKey
}

// PublicKey lets bidders encrypt without holding the secret key.
type PublicKey struct {
	params Parameters
	pk     *rlwe.PublicKey
}

// EvaluationKey holds the blind-rotation key set and the key-switching key
// that maps accumulator outputs back under the bit secret. It allows gate
// evaluation and nothing else.
type EvaluationKey struct {
	params Parameters
	brk    blindrot.MemBlindRotationEvaluationKeySet
	ksk    *rlwe.EvaluationKey
}

// Parameters returns the parameters the key was generated under.
func (sk *SecretKey) Parameters() Parameters { return sk.params }

// Parameters returns the parameters the key was generated under.
func (pk *PublicKey) Parameters() Parameters { return pk.params }

// Parameters returns the parameters the key was generated under.
func (ek *EvaluationKey) Parameters() Parameters { return ek.params }

// KeyGenerator generates the key material for one parameter set.
type KeyGenerator struct {
	params Parameters
	kgLWE  *rlwe.KeyGenerator
	kgBR   *rlwe.KeyGenerator
}

// NewKeyGenerator creates a key generator.
func NewKeyGenerator(params Parameters) *KeyGenerator {
	return &KeyGenerator{
		params: params,
		kgLWE:  rlwe.NewKeyGenerator(params.lwe),
		kgBR:   rlwe.NewKeyGenerator(params.br),
	}
}

// GenSecretKey samples a fresh secret key pair: one secret for the bit ring and
// one for the accumulator ring.
func (kg *KeyGenerator) GenSecretKey() *SecretKey {
	return &SecretKey{
		params: kg.params,
		lwe:    kg.kgLWE.GenSecretKeyNew(),
		br:     kg.kgBR.GenSecretKeyNew(),
	}
}

// GenPublicKey derives a public encryption key from sk.
func (kg *KeyGenerator) GenPublicKey(sk *SecretKey) *PublicKey {
	return &PublicKey{params: kg.params, pk: kg.kgLWE.GenPublicKeyNew(sk.lwe)}
}

// GenEvaluationKey derives the blind-rotation keys (RGSW encryptions of the
// bit secret under the accumulator secret) and the key-switching key from the
// accumulator secret to the bit secret embedded as s(X^gap).
func (kg *KeyGenerator) GenEvaluationKey(sk *SecretKey) *EvaluationKey {
	p := kg.params
	brk := blindrot.GenEvaluationKeyNew(p.br, sk.br, p.lwe, sk.lwe, p.evk)
	ksk := kg.kgBR.GenEvaluationKeyNew(sk.br, p.embedSecret(sk.lwe), p.evk)
	return &EvaluationKey{params: p, brk: brk, ksk: ksk}
}

// GenKeys generates a complete key triple.
func (kg *KeyGenerator) GenKeys() (*SecretKey, *PublicKey, *EvaluationKey) {
	sk := kg.GenSecretKey()
	return sk, kg.GenPublicKey(sk), kg.GenEvaluationKey(sk)
}

// embedSecret lifts the ternary bit secret s(Y) into the accumulator ring as
// s(X^gap) over the accumulator modulus, so that a ciphertext decrypting under
// it keeps its message on the coefficients that are multiples of gap.
func (p Parameters) embedSecret(sk *rlwe.SecretKey) *rlwe.SecretKey {
	ringLWE := p.lwe.RingQ()
	ringBR := p.br.RingQ()

	coeffs := ringLWE.NewPoly()
	coeffs.Copy(sk.Value.Q)
	ringLWE.INTT(coeffs, coeffs)
	ringLWE.IMForm(coeffs, coeffs)

	q, qBR := p.set.Q, p.set.BlindRotationQ
	out := rlwe.NewSecretKey(p.br)
	lifted := out.Value.Q.Coeffs[0]
	gap := p.gap()
	for i, c := range coeffs.Coeffs[0] {
		if c > q/2 {
			lifted[i*gap] = qBR - (q - c)
		} else {
			lifted[i*gap] = c
		}
	}
	ringBR.NTT(out.Value.Q, out.Value.Q)
	ringBR.MForm(out.Value.Q, out.Value.Q)
	return out
}
