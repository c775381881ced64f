package core

import (
	"sort"
)

// PlainRanking is the plaintext outcome of an auction, computed with the same
// rules as the encrypted circuit. It is used to check encrypted runs.
type PlainRanking struct {
	// Order lists bidder indices from best to worst.
	Order []int

	Winner int
	Amount uint64
	Sold   bool
}

// RankPlainBids ranks plaintext bids. Bids below reserve count as zero, and
// ties are broken in favour of the lower index, matching Tournament.Run.
func RankPlainBids(bids []uint64, reserve uint64) (*PlainRanking, error) {
	if len(bids) < 2 {
		return nil, configErrorf("a round needs at least 2 bidders, got %d", len(bids))
	}

	effective := make([]uint64, len(bids))
	order := make([]int, len(bids))
	for i, v := range bids {
		if MeetsReserve(v, reserve) {
			effective[i] = v
		}
		order[i] = i
	}

	sort.SliceStable(order, func(i, j int) bool {
		return effective[order[i]] > effective[order[j]]
	})

	winner := order[0]
	return &PlainRanking{
		Order:  order,
		Winner: winner,
		Amount: effective[winner],
		Sold:   MeetsReserve(effective[winner], reserve),
	}, nil
}
