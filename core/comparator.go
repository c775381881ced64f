package core

import (
	"fmt"

	"github.com/cloudx-io/fheauction/fhe"
)

// Comparator compares encrypted bids of equal width.
type Comparator struct {
	eval GateEvaluator
}

// NewComparator creates a comparator using eval for every gate.
func NewComparator(eval GateEvaluator) *Comparator {
	return &Comparator{eval: eval}
}

// GreaterThan returns an encryption of a > b. Equal bids compare false.
func (c *Comparator) GreaterThan(a, b EncryptedBid) (*fhe.Ciphertext, error) {
	gt, _, err := c.Compare(a, b)
	return gt, err
}

// Compare returns encryptions of a > b and a == b.
//
// The bids are scanned from the most significant bit down. Two accumulators
// track whether every higher bit matched and whether a has already won:
//
//	gtHere     = a[i] AND NOT b[i]
//	greater    = greater OR (stillEqual AND gtHere)
//	stillEqual = stillEqual AND XNOR(a[i], b[i])
//
// The gate sequence depends on the width only, never on the bid values.
func (c *Comparator) Compare(a, b EncryptedBid) (gt, eq *fhe.Ciphertext, err error) {
	if err := checkPair(a, b); err != nil {
		return nil, nil, err
	}

	stillEqual := c.eval.Constant(true)
	greater := c.eval.Constant(false)

	for i := range a {
		gtHere, err := c.eval.AND(a[i], c.eval.NOT(b[i]))
		if err != nil {
			return nil, nil, compareError(i, err)
		}
		decide, err := c.eval.AND(stillEqual, gtHere)
		if err != nil {
			return nil, nil, compareError(i, err)
		}
		if greater, err = c.eval.OR(greater, decide); err != nil {
			return nil, nil, compareError(i, err)
		}
		same, err := c.eval.XNOR(a[i], b[i])
		if err != nil {
			return nil, nil, compareError(i, err)
		}
		if stillEqual, err = c.eval.AND(stillEqual, same); err != nil {
			return nil, nil, compareError(i, err)
		}
	}

	return greater, stillEqual, nil
}

func compareError(bit int, err error) error {
	return &EvaluationError{Stage: fmt.Sprintf("compare bit %d", bit), Err: err}
}

func checkPair(a, b EncryptedBid) error {
	if len(a) == 0 || len(b) == 0 {
		return configErrorf("cannot compare empty bids")
	}
	if len(a) != len(b) {
		return configErrorf("bid width mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] == nil || b[i] == nil {
			return configErrorf("bid bit %d is missing", i)
		}
	}
	return nil
}
