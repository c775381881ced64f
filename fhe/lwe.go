package fhe

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// ExportLWE returns the coefficient-domain mask polynomial and the constant
// body coefficient of ct. Together they are the LWE sample that carries the
// bit; the remaining body coefficients are dropped.
func (p Parameters) ExportLWE(ct *Ciphertext) (mask []uint64, body uint64) {
	ringQ := p.lwe.RingQ()
	c0 := ringQ.NewPoly()
	c1 := ringQ.NewPoly()
	copy(c0.Coeffs[0], ct.ct.Value[0].Coeffs[0])
	copy(c1.Coeffs[0], ct.ct.Value[1].Coeffs[0])
	if ct.ct.IsNTT {
		ringQ.INTT(c0, c0)
		ringQ.INTT(c1, c1)
	}
	mask = make([]uint64, p.N())
	copy(mask, c1.Coeffs[0])
	return mask, c0.Coeffs[0][0]
}

// ImportLWE rebuilds a ciphertext from an exported mask and body.
func (p Parameters) ImportLWE(mask []uint64, body uint64) (*Ciphertext, error) {
	if len(mask) != p.N() {
		return nil, malformed("lwe mask has %d coefficients, want %d", len(mask), p.N())
	}
	if body >= p.set.Q {
		return nil, malformed("lwe body %d not reduced modulo %d", body, p.set.Q)
	}
	for _, c := range mask {
		if c >= p.set.Q {
			return nil, malformed("lwe mask coefficient %d not reduced modulo %d", c, p.set.Q)
		}
	}

	params := p.lwe
	ct := rlwe.NewCiphertext(params, 1, params.MaxLevel())
	ct.Value[0].Coeffs[0][0] = body
	copy(ct.Value[1].Coeffs[0], mask)
	if ct.IsNTT {
		params.RingQ().NTT(ct.Value[0], ct.Value[0])
		params.RingQ().NTT(ct.Value[1], ct.Value[1])
	}
	return &Ciphertext{ct: ct}, nil
}
