package fhe

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
)

type fixture struct {
	params Parameters
	sk     *SecretKey
	pk     *PublicKey
	ek     *EvaluationKey
}

var (
	fixtureOnce sync.Once
	shared      fixture
	fixtureErr  error
)

// testKeys generates one DemoSmall key triple per test binary.
func testKeys(t *testing.T) fixture {
	t.Helper()
	fixtureOnce.Do(func() {
		params, err := NewParameters(DemoSmall)
		if err != nil {
			fixtureErr = err
			return
		}
		sk, pk, ek := NewKeyGenerator(params).GenKeys()
		shared = fixture{params: params, sk: sk, pk: pk, ek: ek}
	})
	assert.NoError(t, fixtureErr)
	return shared
}

func encrypt(t *testing.T, enc *Encryptor, bit bool) *Ciphertext {
	t.Helper()
	ct, err := enc.Encrypt(bit)
	assert.NoError(t, err)
	return ct
}

func TestParameterSetByName(t *testing.T) {
	set, err := ParameterSetByName("demo-small")
	check.NoError(t, err)
	check.Equal(t, DemoSmall, set)

	set, err = ParameterSetByName("secure")
	check.NoError(t, err)
	check.Equal(t, Secure, set)

	_, err = ParameterSetByName("tiny")
	check.Error(t, err)
}

func TestParameterSetValidate(t *testing.T) {
	with := func(mod func(s *ParameterSet)) ParameterSet {
		s := DemoSmall
		s.Name = "x"
		mod(&s)
		return s
	}
	tests := []struct {
		name string
		set  ParameterSet
	}{
		{"log_n too small", with(func(s *ParameterSet) { s.LogN = 2 })},
		{"accumulator ring not larger", with(func(s *ParameterSet) { s.BlindRotationLogN = s.LogN })},
		{"modulus too small", with(func(s *ParameterSet) { s.Q = 97 })},
		{"modulus not NTT friendly", with(func(s *ParameterSet) { s.Q += 2 })},
		{"accumulator modulus below bit modulus", with(func(s *ParameterSet) { s.BlindRotationQ = s.Q - 1 })},
		{"accumulator modulus not NTT friendly", with(func(s *ParameterSet) { s.BlindRotationQ += 2 })},
		{"zero decomposition base", with(func(s *ParameterSet) { s.BaseTwoDecomposition = 0 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Error(t, tt.set.Validate())
			_, err := NewParameters(tt.set)
			check.Error(t, err)
		})
	}

	check.NoError(t, DemoSmall.Validate())
	check.NoError(t, Secure.Validate())
}

func TestEncryptDecrypt(t *testing.T) {
	f := testKeys(t)
	dec := NewDecryptor(f.sk)

	for _, enc := range []*Encryptor{NewSecretKeyEncryptor(f.sk), NewPublicKeyEncryptor(f.pk)} {
		for _, bit := range []bool{false, true} {
			check.Equal(t, bit, dec.Decrypt(encrypt(t, enc, bit)))
		}
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	f := testKeys(t)
	enc := NewSecretKeyEncryptor(f.sk)

	a, err := encrypt(t, enc, true).MarshalBinary()
	assert.NoError(t, err)
	b, err := encrypt(t, enc, true).MarshalBinary()
	assert.NoError(t, err)
	check.NotEqual(t, string(a), string(b))
}

// phase returns the centered constant coefficient of ct as a fraction of the
// ciphertext modulus.
func phase(params rlwe.Parameters, sk *rlwe.SecretKey, ct *rlwe.Ciphertext) float64 {
	pt := rlwe.NewDecryptor(params, sk).DecryptNew(ct)
	if pt.IsNTT {
		params.RingQ().INTT(pt.Value, pt.Value)
	}
	q := params.Q()[0]
	c := pt.Value.Coeffs[0][0]
	if c > q/2 {
		return -float64(q-c) / float64(q)
	}
	return float64(c) / float64(q)
}

func TestBootstrapIdentityPhase(t *testing.T) {
	f := testKeys(t)
	enc := NewSecretKeyEncryptor(f.sk)
	eval := NewEvaluator(f.ek)

	for _, bit := range []bool{false, true} {
		want := 0.125
		if !bit {
			want = -0.125
		}

		in := encrypt(t, enc, bit)
		check.True(t, math.Abs(phase(f.params.lwe, f.sk.lwe, in.ct)-want) < 0.03)

		// The accumulator already carries +-Q/8 under the accumulator secret.
		res, err := eval.br.Evaluate(in.ct, map[int]*ring.Poly{0: &eval.gates.identity}, f.ek.brk)
		assert.NoError(t, err)
		check.True(t, math.Abs(phase(f.params.br, f.sk.br, res[0])-want) < 0.03)

		// Switching back keeps the phase under the bit secret.
		out, err := eval.switchBack(res[0])
		assert.NoError(t, err)
		check.True(t, math.Abs(phase(f.params.lwe, f.sk.lwe, out.ct)-want) < 0.03)

		refreshed, err := eval.Refresh(in)
		assert.NoError(t, err)
		check.True(t, math.Abs(phase(f.params.lwe, f.sk.lwe, refreshed.ct)-want) < 0.03)
	}
}

func TestRefreshChain(t *testing.T) {
	f := testKeys(t)
	enc := NewPublicKeyEncryptor(f.pk)
	dec := NewDecryptor(f.sk)
	eval := NewEvaluator(f.ek)

	for _, bit := range []bool{false, true} {
		ct := encrypt(t, enc, bit)
		for i := 0; i < 4; i++ {
			var err error
			ct, err = eval.Refresh(ct)
			assert.NoError(t, err)
			check.Equal(t, bit, dec.Decrypt(ct))
		}
	}

	_, err := eval.Refresh(nil)
	check.True(t, errors.Is(err, ErrNilCiphertext))
}

func TestSwitchModulus(t *testing.T) {
	tests := []struct {
		c, from, to, want uint64
	}{
		{0, 100, 10, 0},
		{14, 100, 10, 1},
		{15, 100, 10, 2},
		{50, 100, 10, 5},
		{96, 100, 10, 0},
		{DemoSmall.BlindRotationQ / 8, DemoSmall.BlindRotationQ, DemoSmall.Q, (DemoSmall.Q + 4) / 8},
	}
	for _, tt := range tests {
		check.Equal(t, tt.want, switchModulus(tt.c, tt.from, tt.to))
	}
}

func TestGateTruthTables(t *testing.T) {
	f := testKeys(t)
	enc := NewSecretKeyEncryptor(f.sk)
	dec := NewDecryptor(f.sk)
	eval := NewEvaluator(f.ek)

	gates := []struct {
		name string
		fn   func(a, b *Ciphertext) (*Ciphertext, error)
		want func(a, b bool) bool
	}{
		{"AND", eval.AND, func(a, b bool) bool { return a && b }},
		{"OR", eval.OR, func(a, b bool) bool { return a || b }},
		{"NAND", eval.NAND, func(a, b bool) bool { return !(a && b) }},
		{"NOR", eval.NOR, func(a, b bool) bool { return !(a || b) }},
		{"XOR", eval.XOR, func(a, b bool) bool { return a != b }},
		{"XNOR", eval.XNOR, func(a, b bool) bool { return a == b }},
	}

	for _, g := range gates {
		t.Run(g.name, func(t *testing.T) {
			for _, a := range []bool{false, true} {
				for _, b := range []bool{false, true} {
					// Fresh inputs, and the same bits after one bootstrap.
					out, err := g.fn(encrypt(t, enc, a), encrypt(t, enc, b))
					assert.NoError(t, err)
					check.Equal(t, g.want(a, b), dec.Decrypt(out))

					ra, err := eval.Refresh(encrypt(t, enc, a))
					assert.NoError(t, err)
					out, err = g.fn(ra, eval.Constant(b))
					assert.NoError(t, err)
					check.Equal(t, g.want(a, b), dec.Decrypt(out))
				}
			}
		})
	}
}

func TestNOTAndConstant(t *testing.T) {
	f := testKeys(t)
	enc := NewSecretKeyEncryptor(f.sk)
	dec := NewDecryptor(f.sk)
	eval := NewEvaluator(f.ek)

	for _, bit := range []bool{false, true} {
		check.Equal(t, !bit, dec.Decrypt(eval.NOT(encrypt(t, enc, bit))))
		check.Equal(t, bit, dec.Decrypt(eval.Constant(bit)))
		check.Equal(t, !bit, dec.Decrypt(eval.NOT(eval.Constant(bit))))
	}
}

func TestGateChainStaysCorrect(t *testing.T) {
	f := testKeys(t)
	enc := NewPublicKeyEncryptor(f.pk)
	dec := NewDecryptor(f.sk)
	eval := NewEvaluator(f.ek).ShallowCopy()

	// Toggle through a long chain of bootstrapped XORs; every output feeds the
	// next gate.
	acc := encrypt(t, enc, false)
	one := eval.Constant(true)
	want := false
	for i := 0; i < 24; i++ {
		var err error
		acc, err = eval.XOR(acc, one)
		assert.NoError(t, err)
		want = !want
		check.Equal(t, want, dec.Decrypt(acc))
	}
}

func TestGateRejectsNil(t *testing.T) {
	f := testKeys(t)
	eval := NewEvaluator(f.ek)

	_, err := eval.AND(nil, eval.Constant(true))
	check.True(t, errors.Is(err, ErrNilCiphertext))
}

func TestKeyBlobRoundTrip(t *testing.T) {
	f := testKeys(t)
	enc := NewSecretKeyEncryptor(f.sk)

	skBlob, err := f.sk.MarshalBinary()
	assert.NoError(t, err)
	sk, err := UnmarshalSecretKey(skBlob)
	assert.NoError(t, err)
	check.Equal(t, DemoSmall, sk.Parameters().Set())

	pkBlob, err := f.pk.MarshalBinary()
	assert.NoError(t, err)
	pk, err := UnmarshalPublicKey(pkBlob)
	assert.NoError(t, err)

	ekBlob, err := f.ek.MarshalBinary()
	assert.NoError(t, err)
	ek, err := UnmarshalEvaluationKey(ekBlob)
	assert.NoError(t, err)

	// Keys restored from blobs interoperate with the originals.
	dec := NewDecryptor(sk)
	out, err := NewEvaluator(ek).AND(encrypt(t, enc, true), encrypt(t, NewPublicKeyEncryptor(pk), true))
	assert.NoError(t, err)
	check.True(t, dec.Decrypt(out))
}

func TestKeyBlobRejectsWrongKind(t *testing.T) {
	f := testKeys(t)

	pkBlob, err := f.pk.MarshalBinary()
	assert.NoError(t, err)

	_, err = UnmarshalSecretKey(pkBlob)
	check.True(t, errors.Is(err, ErrMalformed))

	_, err = UnmarshalEvaluationKey([]byte("not cbor"))
	check.True(t, errors.Is(err, ErrMalformed))
}

func TestCiphertextRoundTrip(t *testing.T) {
	f := testKeys(t)
	enc := NewSecretKeyEncryptor(f.sk)
	dec := NewDecryptor(f.sk)

	for _, bit := range []bool{false, true} {
		raw, err := encrypt(t, enc, bit).MarshalBinary()
		assert.NoError(t, err)
		ct, err := f.params.UnmarshalCiphertext(raw)
		assert.NoError(t, err)
		check.Equal(t, bit, dec.Decrypt(ct))
	}

	_, err := f.params.UnmarshalCiphertext([]byte{1, 2, 3})
	check.True(t, errors.Is(err, ErrMalformed))
}

func TestLWERoundTrip(t *testing.T) {
	f := testKeys(t)
	enc := NewSecretKeyEncryptor(f.sk)
	dec := NewDecryptor(f.sk)
	eval := NewEvaluator(f.ek)

	for _, bit := range []bool{false, true} {
		mask, body := f.params.ExportLWE(encrypt(t, enc, bit))
		check.Equal(t, f.params.N(), len(mask))

		ct, err := f.params.ImportLWE(mask, body)
		assert.NoError(t, err)
		check.Equal(t, bit, dec.Decrypt(ct))

		// An imported sample still bootstraps.
		out, err := eval.AND(ct, eval.Constant(true))
		assert.NoError(t, err)
		check.Equal(t, bit, dec.Decrypt(out))
	}

	_, err := f.params.ImportLWE([]uint64{1, 2}, 0)
	check.True(t, errors.Is(err, ErrMalformed))
	_, err = f.params.ImportLWE(make([]uint64, f.params.N()), f.params.Q())
	check.True(t, errors.Is(err, ErrMalformed))
}
