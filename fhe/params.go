// Package fhe adapts the lattigo blind-rotation machinery into a boolean-gate
// scheme. Every bit is an RLWE ciphertext in a small ring whose constant
// coefficient carries the message. A binary gate is a linear combination of
// its inputs, one blind rotation into a larger ring against a per-gate test
// polynomial, and a key and modulus switch back into the small ring.
package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/utils"
)

// ParameterSet describes a scheme configuration. It is a plain value so it can
// be persisted next to keys and compared when a blob is loaded.
//
// LogN and Q size the ring that holds the bit ciphertexts. BlindRotationLogN
// and BlindRotationQ size the accumulator ring of the bootstrap and of the
// key-switching key that brings its output back.
type ParameterSet struct {
	Name                 string `cbor:"name" json:"name"`
	LogN                 int    `cbor:"log_n" json:"log_n"`
	Q                    uint64 `cbor:"q" json:"q"`
	BlindRotationLogN    int    `cbor:"br_log_n" json:"br_log_n"`
	BlindRotationQ       uint64 `cbor:"br_q" json:"br_q"`
	BaseTwoDecomposition int    `cbor:"base_two_decomposition" json:"base_two_decomposition"`
}

// DemoSmall is fast and NOT secure. It exists for tests and demonstrations.
var DemoSmall = ParameterSet{
	Name:                 "demo-small",
	LogN:                 8,
	Q:                    0x3001,
	BlindRotationLogN:    9,
	BlindRotationQ:       0x7fff801,
	BaseTwoDecomposition: 7,
}

// Secure pairs 512-coefficient bit ciphertexts over a 14-bit modulus with a
// 1024-degree blind-rotation ring over a 27-bit modulus.
var Secure = ParameterSet{
	Name:                 "secure",
	LogN:                 9,
	Q:                    0x3001,
	BlindRotationLogN:    10,
	BlindRotationQ:       0x7fff801,
	BaseTwoDecomposition: 7,
}

// ParameterSetByName returns one of the named parameter sets.
func ParameterSetByName(name string) (ParameterSet, error) {
	switch name {
	case DemoSmall.Name:
		return DemoSmall, nil
	case Secure.Name:
		return Secure, nil
	default:
		return ParameterSet{}, fmt.Errorf("unknown parameter set %q (want %q or %q)", name, DemoSmall.Name, Secure.Name)
	}
}

// Validate performs the range checks that do not require instantiating a ring.
func (s ParameterSet) Validate() error {
	if s.LogN < 4 || s.LogN > 15 {
		return fmt.Errorf("parameter set %q: log_n %d outside [4, 15]", s.Name, s.LogN)
	}
	if s.BlindRotationLogN <= s.LogN || s.BlindRotationLogN > 16 {
		return fmt.Errorf("parameter set %q: br_log_n %d must lie in (%d, 16]", s.Name, s.BlindRotationLogN, s.LogN)
	}
	if s.Q < 1<<12 || s.Q >= 1<<30 {
		return fmt.Errorf("parameter set %q: modulus %d outside [2^12, 2^30)", s.Name, s.Q)
	}
	if s.BlindRotationQ < s.Q || s.BlindRotationQ >= 1<<30 {
		return fmt.Errorf("parameter set %q: blind rotation modulus %d outside [%d, 2^30)", s.Name, s.BlindRotationQ, s.Q)
	}
	if s.Q%(2<<uint(s.LogN)) != 1 {
		return fmt.Errorf("parameter set %q: modulus %d is not 1 mod 2N", s.Name, s.Q)
	}
	if s.BlindRotationQ%(2<<uint(s.BlindRotationLogN)) != 1 {
		return fmt.Errorf("parameter set %q: blind rotation modulus %d is not 1 mod 2N", s.Name, s.BlindRotationQ)
	}
	if s.BaseTwoDecomposition < 1 || s.BaseTwoDecomposition > 30 {
		return fmt.Errorf("parameter set %q: base_two_decomposition %d outside [1, 30]", s.Name, s.BaseTwoDecomposition)
	}
	return nil
}

// Parameters is an instantiated ParameterSet.
type Parameters struct {
	set    ParameterSet
	lwe    rlwe.Parameters
	br     rlwe.Parameters
	evk    rlwe.EvaluationKeyParameters
	eighth uint64
}

// NewParameters instantiates a parameter set.
func NewParameters(set ParameterSet) (Parameters, error) {
	if err := set.Validate(); err != nil {
		return Parameters{}, err
	}

	lwe, err := rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    set.LogN,
		Q:       []uint64{set.Q},
		NTTFlag: true,
	})
	if err != nil {
		return Parameters{}, fmt.Errorf("failed to instantiate parameter set %q: %w", set.Name, err)
	}

	br, err := rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    set.BlindRotationLogN,
		Q:       []uint64{set.BlindRotationQ},
		NTTFlag: true,
	})
	if err != nil {
		return Parameters{}, fmt.Errorf("failed to instantiate blind rotation ring of %q: %w", set.Name, err)
	}

	return Parameters{
		set:    set,
		lwe:    lwe,
		br:     br,
		evk:    rlwe.EvaluationKeyParameters{BaseTwoDecomposition: utils.Pointy(set.BaseTwoDecomposition)},
		eighth: (set.Q + 4) / 8,
	}, nil
}

// Set returns the parameter set these parameters were built from.
func (p Parameters) Set() ParameterSet { return p.set }

// N returns the degree of the ring that holds bit ciphertexts.
func (p Parameters) N() int { return p.lwe.N() }

// Q returns the bit ciphertext modulus.
func (p Parameters) Q() uint64 { return p.set.Q }

// gap is the stride between the accumulator coefficients that survive the
// switch back into the bit ring.
func (p Parameters) gap() int { return p.br.N() / p.lwe.N() }
