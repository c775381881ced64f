package bidder

import (
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/fheauction/fhe"
)

type testKeySet struct {
	sk *fhe.SecretKey
	pk *fhe.PublicKey
	ek *fhe.EvaluationKey
}

var (
	keysOnce sync.Once
	keys     testKeySet
	keysErr  error
)

// testKeys generates one DemoSmall key triple per test binary.
func testKeys(t *testing.T) testKeySet {
	t.Helper()
	keysOnce.Do(func() {
		params, err := fhe.NewParameters(fhe.DemoSmall)
		if err != nil {
			keysErr = err
			return
		}
		sk, pk, ek := fhe.NewKeyGenerator(params).GenKeys()
		keys = testKeySet{sk: sk, pk: pk, ek: ek}
	})
	assert.NoError(t, keysErr)
	return keys
}
