package fhe

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tuneinsight/lattigo/v6/core/rgsw"
	"github.com/tuneinsight/lattigo/v6/core/rgsw/blindrot"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Key blob kinds.
const (
	KindSecretKey     = "secret_key"
	KindPublicKey     = "public_key"
	KindEvaluationKey = "evaluation_key"
)

// ErrMalformed marks any blob or ciphertext that fails to decode.
var ErrMalformed = errors.New("malformed fhe encoding")

// keyEnvelope is the persisted form of every key: the parameter set it was
// generated under plus the library's binary encoding of the key material.
type keyEnvelope struct {
	Kind             string       `cbor:"kind"`
	Set              ParameterSet `cbor:"set"`
	Key              []byte       `cbor:"key,omitempty"`
	AccumulatorKey   []byte       `cbor:"accumulator_key,omitempty"`
	BlindRotation    [][]byte     `cbor:"blind_rotation,omitempty"`
	AutomorphismKeys [][]byte     `cbor:"automorphism_keys,omitempty"`
	KeySwitch        []byte       `cbor:"key_switch,omitempty"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func openEnvelope(data []byte, kind string) (keyEnvelope, Parameters, error) {
	var env keyEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return env, Parameters{}, malformed("decode %s envelope: %v", kind, err)
	}
	if env.Kind != kind {
		return env, Parameters{}, malformed("blob holds %q, want %q", env.Kind, kind)
	}
	params, err := NewParameters(env.Set)
	if err != nil {
		return env, Parameters{}, malformed("%s parameter set: %v", kind, err)
	}
	return env, params, nil
}

// MarshalBinary encodes both halves of the secret key.
func (sk *SecretKey) MarshalBinary() ([]byte, error) {
	raw, err := sk.lwe.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal secret key: %w", err)
	}
	acc, err := sk.br.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal accumulator secret: %w", err)
	}
	return cbor.Marshal(keyEnvelope{Kind: KindSecretKey, Set: sk.params.set, Key: raw, AccumulatorKey: acc})
}

// UnmarshalSecretKey decodes a blob produced by SecretKey.MarshalBinary.
func UnmarshalSecretKey(data []byte) (*SecretKey, error) {
	env, params, err := openEnvelope(data, KindSecretKey)
	if err != nil {
		return nil, err
	}
	sk := rlwe.NewSecretKey(params.lwe)
	if err := sk.UnmarshalBinary(env.Key); err != nil {
		return nil, malformed("secret key: %v", err)
	}
	acc := rlwe.NewSecretKey(params.br)
	if err := acc.UnmarshalBinary(env.AccumulatorKey); err != nil {
		return nil, malformed("accumulator secret: %v", err)
	}
	return &SecretKey{params: params, lwe: sk, br: acc}, nil
}

// MarshalBinary encodes the public key.
func (pk *PublicKey) MarshalBinary() ([]byte, error) {
	raw, err := pk.pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return cbor.Marshal(keyEnvelope{Kind: KindPublicKey, Set: pk.params.set, Key: raw})
}

// UnmarshalPublicKey decodes a blob produced by PublicKey.MarshalBinary.
func UnmarshalPublicKey(data []byte) (*PublicKey, error) {
	env, params, err := openEnvelope(data, KindPublicKey)
	if err != nil {
		return nil, err
	}
	pk := rlwe.NewPublicKey(params.lwe)
	if err := pk.UnmarshalBinary(env.Key); err != nil {
		return nil, malformed("public key: %v", err)
	}
	return &PublicKey{params: params, pk: pk}, nil
}

// MarshalBinary encodes the evaluation key.
func (ek *EvaluationKey) MarshalBinary() ([]byte, error) {
	env := keyEnvelope{Kind: KindEvaluationKey, Set: ek.params.set}
	for i, k := range ek.brk.BlindRotationKeys {
		raw, err := k.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal blind rotation key %d: %w", i, err)
		}
		env.BlindRotation = append(env.BlindRotation, raw)
	}
	for i, k := range ek.brk.AutomorphismKeys {
		raw, err := k.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal automorphism key %d: %w", i, err)
		}
		env.AutomorphismKeys = append(env.AutomorphismKeys, raw)
	}
	raw, err := ek.ksk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key switching key: %w", err)
	}
	env.KeySwitch = raw
	return cbor.Marshal(env)
}

// UnmarshalEvaluationKey decodes a blob produced by EvaluationKey.MarshalBinary.
func UnmarshalEvaluationKey(data []byte) (*EvaluationKey, error) {
	env, params, err := openEnvelope(data, KindEvaluationKey)
	if err != nil {
		return nil, err
	}
	if len(env.BlindRotation) != params.N() {
		return nil, malformed("evaluation key has %d blind rotation keys, want %d", len(env.BlindRotation), params.N())
	}
	if len(env.AutomorphismKeys) == 0 {
		return nil, malformed("evaluation key has no automorphism keys")
	}
	if len(env.KeySwitch) == 0 {
		return nil, malformed("evaluation key has no key switching key")
	}

	var brk blindrot.MemBlindRotationEvaluationKeySet
	for i, raw := range env.BlindRotation {
		k := new(rgsw.Ciphertext)
		if err := k.UnmarshalBinary(raw); err != nil {
			return nil, malformed("blind rotation key %d: %v", i, err)
		}
		brk.BlindRotationKeys = append(brk.BlindRotationKeys, k)
	}
	for i, raw := range env.AutomorphismKeys {
		k := new(rlwe.GaloisKey)
		if err := k.UnmarshalBinary(raw); err != nil {
			return nil, malformed("automorphism key %d: %v", i, err)
		}
		brk.AutomorphismKeys = append(brk.AutomorphismKeys, k)
	}
	ksk := new(rlwe.EvaluationKey)
	if err := ksk.UnmarshalBinary(env.KeySwitch); err != nil {
		return nil, malformed("key switching key: %v", err)
	}
	return &EvaluationKey{params: params, brk: brk, ksk: ksk}, nil
}

// MarshalBinary encodes the ciphertext with the library's binary format.
func (c *Ciphertext) MarshalBinary() ([]byte, error) {
	if c == nil || c.ct == nil {
		return nil, ErrNilCiphertext
	}
	return c.ct.MarshalBinary()
}

// UnmarshalCiphertext decodes a ciphertext and checks that its shape matches
// the parameters.
func (p Parameters) UnmarshalCiphertext(data []byte) (*Ciphertext, error) {
	ct := rlwe.NewCiphertext(p.lwe, 1, p.lwe.MaxLevel())
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, malformed("ciphertext: %v", err)
	}
	if len(ct.Value) != 2 {
		return nil, malformed("ciphertext degree %d, want 1", len(ct.Value)-1)
	}
	for k := range ct.Value {
		if len(ct.Value[k].Coeffs) != 1 || len(ct.Value[k].Coeffs[0]) != p.N() {
			return nil, malformed("ciphertext ring shape does not match parameter set %q", p.set.Name)
		}
		for _, c := range ct.Value[k].Coeffs[0] {
			if c >= p.set.Q {
				return nil, malformed("ciphertext coefficient %d not reduced modulo %d", c, p.set.Q)
			}
		}
	}
	if !ct.IsNTT {
		p.lwe.RingQ().NTT(ct.Value[0], ct.Value[0])
		p.lwe.RingQ().NTT(ct.Value[1], ct.Value[1])
		ct.IsNTT = true
	}
	return &Ciphertext{ct: ct}, nil
}
