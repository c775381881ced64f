package core

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultPricePrecision is the number of decimal places kept when a price is
// converted to integer bid units (0.0001 precision).
const DefaultPricePrecision int32 = 4

// PriceToUnits converts a decimal price such as "12.5" into integer bid units
// with precision decimal places. Negative prices, prices with more decimal
// places than precision and prices that do not fit in width bits are rejected.
func PriceToUnits(price string, precision int32, width int) (uint64, error) {
	if err := ValidateWidth(width); err != nil {
		return 0, err
	}
	if precision < 0 {
		return 0, configErrorf("negative price precision %d", precision)
	}

	d, err := decimal.NewFromString(price)
	if err != nil {
		return 0, configErrorf("invalid price %q: %v", price, err)
	}
	if d.Sign() < 0 {
		return 0, configErrorf("negative price %s", price)
	}

	units := d.Shift(precision)
	if !units.IsInteger() {
		return 0, configErrorf("price %s has more than %d decimal places", price, precision)
	}

	limit := new(big.Int).Lsh(big.NewInt(1), uint(width))
	n := units.BigInt()
	if n.Cmp(limit) >= 0 {
		return 0, configErrorf("price %s does not fit in %d bits at precision %d", price, width, precision)
	}
	return n.Uint64(), nil
}

// UnitsToPrice formats integer bid units back into a decimal price string.
func UnitsToPrice(units uint64, precision int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -precision).StringFixed(precision)
}

// MeetsReserve is the plaintext form of the reserve rule.
func MeetsReserve(value, reserve uint64) bool {
	return value >= reserve
}

// applyReserve obliviously replaces every bid below the reserve by zero:
//
//	below = GreaterThan(reserve, bid)
//	bid'  = Select(below, 0, bid)
//
// The reserve is public and trivially encrypted. Bids are processed
// concurrently on the tournament's worker pool. With no reserve the bids are
// returned unchanged.
func (t *Tournament) applyReserve(ctx context.Context, bids []EncryptedBid) ([]EncryptedBid, error) {
	if t.cfg.Reserve == 0 {
		return bids, nil
	}

	out := make([]EncryptedBid, len(bids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Workers)
	for k := range bids {
		g.Go(func() error {
			if err := checkContext(gctx); err != nil {
				return err
			}
			eval, err := t.acquire(gctx)
			if err != nil {
				return err
			}
			defer t.release(eval)

			bid, err := enforceReserve(eval, bids[k], t.cfg.Reserve)
			if err != nil {
				return err
			}
			out[k] = bid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func enforceReserve(eval GateEvaluator, bid EncryptedBid, reserve uint64) (EncryptedBid, error) {
	width := len(bid)
	below, err := NewComparator(eval).GreaterThan(encodeConstant(eval, reserve, width), bid)
	if err != nil {
		return nil, err
	}
	return Select(eval, below, encodeConstant(eval, 0, width), bid)
}
