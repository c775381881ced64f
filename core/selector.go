package core

import (
	"fmt"

	"github.com/cloudx-io/fheauction/fhe"
)

// Select returns x where sel decrypts to true and y otherwise, bit by bit:
//
//	out[i] = (sel AND x[i]) OR (NOT sel AND y[i])
//
// Both branches are always evaluated, so the gate trace reveals nothing about
// sel.
func Select(eval GateEvaluator, sel *fhe.Ciphertext, x, y []*fhe.Ciphertext) ([]*fhe.Ciphertext, error) {
	if sel == nil {
		return nil, configErrorf("select: missing selector")
	}
	if len(x) != len(y) {
		return nil, configErrorf("select: operand width mismatch: %d vs %d", len(x), len(y))
	}

	notSel := eval.NOT(sel)
	out := make([]*fhe.Ciphertext, len(x))
	for i := range x {
		takeX, err := eval.AND(sel, x[i])
		if err != nil {
			return nil, selectError(i, err)
		}
		takeY, err := eval.AND(notSel, y[i])
		if err != nil {
			return nil, selectError(i, err)
		}
		if out[i], err = eval.OR(takeX, takeY); err != nil {
			return nil, selectError(i, err)
		}
	}
	return out, nil
}

func selectError(bit int, err error) error {
	return &EvaluationError{Stage: fmt.Sprintf("select bit %d", bit), Err: err}
}
