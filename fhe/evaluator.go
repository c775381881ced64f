package fhe

import (
	"errors"
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rgsw/blindrot"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
)

// ErrNilCiphertext is returned when a gate receives a nil operand.
var ErrNilCiphertext = errors.New("nil ciphertext operand")

// gateTable holds one test polynomial per bootstrapped gate. A table is read
// by the blind rotation as a function of x = 4*phase/Q on [-1, 1]; outside
// that window the accumulator returns the negated value at x-2 or x+2, so each
// table below decides the whole torus.
//
// Inputs are a+b for the AND/OR family, which lands on x = 1, 0, -1 for two,
// one or zero true inputs, and 2(a+b) for the XOR family, which lands on
// x = 0 when exactly one input is true and on the wrapped point x = +-2
// otherwise.
type gateTable struct {
	identity ring.Poly
	and      ring.Poly
	nand     ring.Poly
	or       ring.Poly
	nor      ring.Poly
	xor      ring.Poly
	xnor     ring.Poly
}

func newGateTable(p Parameters) *gateTable {
	scale := rlwe.NewScale(float64(p.set.BlindRotationQ) / 8)
	ringQ := p.br.RingQ()
	lut := func(g func(x float64) bool) ring.Poly {
		return blindrot.InitTestPolynomial(func(x float64) float64 {
			if g(x) {
				return 1
			}
			return -1
		}, scale, ringQ, -1, 1)
	}
	return &gateTable{
		identity: lut(func(x float64) bool { return x > 0 }),
		and:      lut(func(x float64) bool { return x > 0.5 }),
		nand:     lut(func(x float64) bool { return x <= 0.5 }),
		or:       lut(func(x float64) bool { return x > -0.5 }),
		nor:      lut(func(x float64) bool { return x <= -0.5 }),
		xor:      lut(func(float64) bool { return true }),
		xnor:     lut(func(float64) bool { return false }),
	}
}

// Evaluator evaluates boolean gates with the evaluation key only. It owns
// scratch buffers, so an Evaluator must not be shared between goroutines; use
// ShallowCopy to obtain one per worker.
type Evaluator struct {
	params Parameters
	key    *EvaluationKey
	gates  *gateTable
	br     *blindrot.Evaluator
	ks     *rlwe.Evaluator
	ksBuf  *rlwe.Ciphertext
}

// NewEvaluator creates a gate evaluator bound to key.
func NewEvaluator(key *EvaluationKey) *Evaluator {
	return newEvaluator(key, newGateTable(key.params))
}

func newEvaluator(key *EvaluationKey, gates *gateTable) *Evaluator {
	p := key.params
	return &Evaluator{
		params: p,
		key:    key,
		gates:  gates,
		br:     blindrot.NewEvaluator(p.br, p.lwe),
		ks:     rlwe.NewEvaluator(p.br, nil),
		ksBuf:  rlwe.NewCiphertext(p.br, 1, p.br.MaxLevel()),
	}
}

// ShallowCopy returns an evaluator that shares the read-only evaluation key and
// gate tables but owns fresh scratch space.
func (e *Evaluator) ShallowCopy() *Evaluator {
	return newEvaluator(e.key, e.gates)
}

// Parameters returns the evaluator's parameters.
func (e *Evaluator) Parameters() Parameters { return e.params }

// Constant returns a trivial, noiseless encryption of bit. It hides nothing and
// is meant for public values such as bidder indices and accumulator seeds.
func (e *Evaluator) Constant(bit bool) *Ciphertext {
	params := e.params.lwe
	ct := rlwe.NewCiphertext(params, 1, params.MaxLevel())
	v := e.params.encode(bit)
	for _, coeffs := range ct.Value[0].Coeffs {
		for j := range coeffs {
			coeffs[j] = v
		}
	}
	return &Ciphertext{ct: ct}
}

// NOT negates a. It needs no bootstrap.
func (e *Evaluator) NOT(a *Ciphertext) *Ciphertext {
	q := e.params.set.Q
	out := a.ct.CopyNew()
	for k := range out.Value {
		for _, coeffs := range out.Value[k].Coeffs {
			for j, c := range coeffs {
				if c != 0 {
					coeffs[j] = q - c
				}
			}
		}
	}
	return &Ciphertext{ct: out}
}

// Refresh bootstraps a alone and returns a fresh encryption of the same bit.
func (e *Evaluator) Refresh(a *Ciphertext) (*Ciphertext, error) {
	if a == nil || a.ct == nil {
		return nil, fmt.Errorf("REFRESH: %w", ErrNilCiphertext)
	}
	return e.bootstrap("REFRESH", a.ct, &e.gates.identity)
}

// AND returns a AND b.
func (e *Evaluator) AND(a, b *Ciphertext) (*Ciphertext, error) {
	return e.gate("AND", a, b, 1, &e.gates.and)
}

// OR returns a OR b.
func (e *Evaluator) OR(a, b *Ciphertext) (*Ciphertext, error) {
	return e.gate("OR", a, b, 1, &e.gates.or)
}

// NAND returns NOT(a AND b).
func (e *Evaluator) NAND(a, b *Ciphertext) (*Ciphertext, error) {
	return e.gate("NAND", a, b, 1, &e.gates.nand)
}

// NOR returns NOT(a OR b).
func (e *Evaluator) NOR(a, b *Ciphertext) (*Ciphertext, error) {
	return e.gate("NOR", a, b, 1, &e.gates.nor)
}

// XOR returns a XOR b.
func (e *Evaluator) XOR(a, b *Ciphertext) (*Ciphertext, error) {
	return e.gate("XOR", a, b, 2, &e.gates.xor)
}

// XNOR returns NOT(a XOR b) in a single bootstrap.
func (e *Evaluator) XNOR(a, b *Ciphertext) (*Ciphertext, error) {
	return e.gate("XNOR", a, b, 2, &e.gates.xnor)
}

// gate computes scale*(a+b) in the bit ring and bootstraps it through lut.
func (e *Evaluator) gate(name string, a, b *Ciphertext, scale uint64, lut *ring.Poly) (*Ciphertext, error) {
	if a == nil || b == nil || a.ct == nil || b.ct == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNilCiphertext)
	}

	q := e.params.set.Q
	params := e.params.lwe
	acc := rlwe.NewCiphertext(params, 1, params.MaxLevel())
	for k := range acc.Value {
		for i, coeffs := range acc.Value[k].Coeffs {
			ca, cb := a.ct.Value[k].Coeffs[i], b.ct.Value[k].Coeffs[i]
			for j := range coeffs {
				coeffs[j] = (scale * ((ca[j] + cb[j]) % q)) % q
			}
		}
	}
	return e.bootstrap(name, acc, lut)
}

// bootstrap blind-rotates lut by the phase of ct and brings the accumulator
// back into the bit ring.
func (e *Evaluator) bootstrap(name string, ct *rlwe.Ciphertext, lut *ring.Poly) (*Ciphertext, error) {
	res, err := e.br.Evaluate(ct, map[int]*ring.Poly{0: lut}, e.key.brk)
	if err != nil {
		return nil, fmt.Errorf("%s: bootstrap failed: %w", name, err)
	}
	acc, ok := res[0]
	if !ok || acc == nil {
		return nil, fmt.Errorf("%s: bootstrap returned no ciphertext", name)
	}
	out, err := e.switchBack(acc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// switchBack re-encrypts an accumulator ciphertext under the embedded bit
// secret, keeps every gap-th coefficient and rescales to the bit modulus.
// The constant coefficient, which carries the bit, survives all three steps.
func (e *Evaluator) switchBack(acc *rlwe.Ciphertext) (*Ciphertext, error) {
	p := e.params
	if err := e.ks.ApplyEvaluationKey(acc, e.key.ksk, e.ksBuf); err != nil {
		return nil, fmt.Errorf("key switch failed: %w", err)
	}

	ringBR := p.br.RingQ()
	ringLWE := p.lwe.RingQ()
	q, qBR := p.set.Q, p.set.BlindRotationQ
	gap := p.gap()

	out := rlwe.NewCiphertext(p.lwe, 1, p.lwe.MaxLevel())
	for k := range out.Value {
		src := e.ksBuf.Value[k]
		if e.ksBuf.IsNTT {
			ringBR.INTT(src, src)
		}
		dst := out.Value[k].Coeffs[0]
		for i := range dst {
			dst[i] = switchModulus(src.Coeffs[0][i*gap], qBR, q)
		}
		ringLWE.NTT(out.Value[k], out.Value[k])
	}
	out.IsNTT = true
	return &Ciphertext{ct: out}, nil
}

// switchModulus maps c in [0, from) to round(c*to/from) mod to.
func switchModulus(c, from, to uint64) uint64 {
	v := (c*to + from/2) / from
	if v >= to {
		v -= to
	}
	return v
}
