package bidder

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/auctionapi/parsing"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// LocalConfig configures EvaluateLocal. Zero Width and NumBidders are taken
// from the request.
type LocalConfig struct {
	Width      int
	NumBidders int
	Reserve    uint64
	Strategy   core.Strategy
	Workers    int
}

// EvaluateLocal runs the auction circuit in process with only the evaluation
// key and returns the response an evaluator would have sent, without a
// receipt.
func EvaluateLocal(ctx context.Context, ek *fhe.EvaluationKey, req *auctionapi.AuctionRequest, cfg LocalConfig) (*auctionapi.AuctionResponse, error) {
	start := time.Now()
	numBidders, width := cfg.NumBidders, cfg.Width
	if numBidders == 0 {
		numBidders = max(len(req.Bids), len(req.DemoWireBids))
	}
	if width == 0 {
		switch {
		case len(req.Bids) > 0:
			width = len(req.Bids[0].Bits)
		case len(req.DemoWireBids) > 0:
			width = req.DemoWireBids[0].Count
		}
	}

	bids, err := parsing.DecodeRequestBids(ek.Parameters(), req, numBidders, width)
	if err != nil {
		return nil, err
	}

	tournament, err := core.NewTournament(core.TournamentConfig{
		Width:    width,
		Strategy: cfg.Strategy,
		Workers:  cfg.Workers,
		Reserve:  cfg.Reserve,
	}, func() core.GateEvaluator { return fhe.NewEvaluator(ek) })
	if err != nil {
		return nil, err
	}

	result, err := tournament.Run(ctx, bids)
	if err != nil {
		return nil, err
	}

	identity, err := auctionapi.EncodeCiphertexts(result.Identity)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	amount, err := auctionapi.EncodeCiphertexts(result.Amount)
	if err != nil {
		return nil, fmt.Errorf("encode amount: %w", err)
	}

	return &auctionapi.AuctionResponse{
		Type:           auctionapi.TypeAuctionResponse,
		Success:        true,
		Message:        "Auction evaluated locally",
		RoundID:        req.RoundID,
		Identity:       identity,
		Amount:         amount,
		NumBidders:     result.NumBidders,
		Width:          result.Width,
		Reserve:        result.Reserve,
		ProcessingTime: time.Since(start).Milliseconds(),
	}, nil
}
