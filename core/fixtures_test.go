package core

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/fheauction/fhe"
)

type testKeySet struct {
	sk  *fhe.SecretKey
	ek  *fhe.EvaluationKey
	enc *fhe.Encryptor
	dec *fhe.Decryptor
}

var (
	keysOnce sync.Once
	keys     testKeySet
	keysErr  error
	keysMu   sync.Mutex
)

// testKeys generates one DemoSmall key set for the package. The returned
// encryptor and decryptor are guarded by keysMu through encryptBid and
// decodeResult.
func testKeys(t *testing.T) testKeySet {
	t.Helper()
	keysOnce.Do(func() {
		params, err := fhe.NewParameters(fhe.DemoSmall)
		if err != nil {
			keysErr = err
			return
		}
		kg := fhe.NewKeyGenerator(params)
		sk, pk, ek := kg.GenKeys()
		keys = testKeySet{
			sk:  sk,
			ek:  ek,
			enc: fhe.NewPublicKeyEncryptor(pk),
			dec: fhe.NewDecryptor(sk),
		}
	})
	assert.NoError(t, keysErr)
	return keys
}

func encryptBid(t *testing.T, value uint64, width int) EncryptedBid {
	t.Helper()
	k := testKeys(t)
	keysMu.Lock()
	defer keysMu.Unlock()
	bid, err := EncodeBid(k.enc, value, width)
	assert.NoError(t, err)
	return bid
}

func encryptBids(t *testing.T, values []uint64, width int) []EncryptedBid {
	t.Helper()
	bids := make([]EncryptedBid, len(values))
	for i, v := range values {
		bids[i] = encryptBid(t, v, width)
	}
	return bids
}

func decryptBit(t *testing.T, ct *fhe.Ciphertext) bool {
	t.Helper()
	k := testKeys(t)
	keysMu.Lock()
	defer keysMu.Unlock()
	return k.dec.Decrypt(ct)
}

func decodeResult(t *testing.T, res *EncryptedResult) *Result {
	t.Helper()
	k := testKeys(t)
	keysMu.Lock()
	defer keysMu.Unlock()
	out, err := DecodeResult(k.dec, res)
	assert.NoError(t, err)
	return out
}

// countingEvaluator counts bootstrapped gates.
type countingEvaluator struct {
	*fhe.Evaluator
	gates *atomic.Int64
}

func (c countingEvaluator) AND(a, b *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	c.gates.Add(1)
	return c.Evaluator.AND(a, b)
}

func (c countingEvaluator) OR(a, b *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	c.gates.Add(1)
	return c.Evaluator.OR(a, b)
}

func (c countingEvaluator) XNOR(a, b *fhe.Ciphertext) (*fhe.Ciphertext, error) {
	c.gates.Add(1)
	return c.Evaluator.XNOR(a, b)
}

func newEvaluator(t *testing.T) *fhe.Evaluator {
	t.Helper()
	return fhe.NewEvaluator(testKeys(t).ek)
}

// evaluatorFactory returns a factory for NewTournament and the shared gate
// counter of every evaluator it creates.
func evaluatorFactory(t *testing.T) (func() GateEvaluator, *atomic.Int64) {
	t.Helper()
	base := newEvaluator(t)
	gates := new(atomic.Int64)
	return func() GateEvaluator {
		return countingEvaluator{Evaluator: base.ShallowCopy(), gates: gates}
	}, gates
}
