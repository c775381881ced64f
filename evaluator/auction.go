package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/auctionapi/parsing"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// ProcessRoundOpen registers a round and returns its single-use token.
func ProcessRoundOpen(rounds *RoundRegistry, req auctionapi.RoundOpenRequest) auctionapi.RoundOpenResponse {
	startTime := time.Now()
	fail := func(format string, args ...any) auctionapi.RoundOpenResponse {
		msg := fmt.Sprintf(format, args...)
		log.Printf("ERROR: Round open for auction %s failed: %s", req.AuctionID, msg)
		return auctionapi.RoundOpenResponse{
			Type:           auctionapi.TypeRoundOpenResponse,
			Success:        false,
			Message:        msg,
			ProcessingTime: time.Since(startTime).Milliseconds(),
		}
	}

	strategy, err := core.ParseStrategy(req.Strategy)
	if err != nil {
		return fail("%v", err)
	}

	key, err := req.EvaluationKey.EvaluationKey()
	if err != nil {
		return fail("%v", err)
	}

	round, err := rounds.Register(Round{
		AuctionID:  req.AuctionID,
		Width:      req.Width,
		NumBidders: req.NumBidders,
		Reserve:    req.Reserve,
		Strategy:   strategy,
		Key:        key,
	})
	if err != nil {
		return fail("%v", err)
	}

	log.Printf("INFO: Opened round %s for auction %s: %d bidders, width %d, strategy %s, parameter set %s",
		round.ID, round.AuctionID, round.NumBidders, round.Width, round.Strategy, key.Parameters().Set().Name)

	return auctionapi.RoundOpenResponse{
		Type:           auctionapi.TypeRoundOpenResponse,
		Success:        true,
		Message:        "Round opened",
		RoundID:        round.ID,
		ExpiresAt:      rounds.ExpiresAt(round),
		ProcessingTime: time.Since(startTime).Milliseconds(),
	}
}

// ProcessAuction evaluates the auction circuit over the encrypted bids of an
// open round and returns the encrypted winner with a receipt. The round token
// is consumed whether or not evaluation succeeds.
func ProcessAuction(ctx context.Context, issuer *ReceiptIssuer, rounds *RoundRegistry, workers int, req auctionapi.AuctionRequest) auctionapi.AuctionResponse {
	startTime := time.Now()
	fail := func(err error) auctionapi.AuctionResponse {
		log.Printf("ERROR: Auction round %s failed: %v", req.RoundID, err)
		return auctionapi.AuctionResponse{
			Type:           auctionapi.TypeAuctionResponse,
			Success:        false,
			Message:        err.Error(),
			RoundID:        req.RoundID,
			ProcessingTime: time.Since(startTime).Milliseconds(),
		}
	}

	round, err := rounds.Take(req.RoundID)
	if err != nil {
		return fail(err)
	}
	params := round.Key.Parameters()

	log.Printf("INFO: Processing auction round %s with %d bids", round.ID, round.NumBidders)

	bids, err := parsing.DecodeRequestBids(params, &req, round.NumBidders, round.Width)
	if err != nil {
		return fail(err)
	}
	bidHashes, err := parsing.ComputeBidHashes(&req)
	if err != nil {
		return fail(err)
	}

	tournament, err := core.NewTournament(core.TournamentConfig{
		Width:    round.Width,
		Strategy: round.Strategy,
		Workers:  workers,
		Reserve:  round.Reserve,
	}, func() core.GateEvaluator { return fhe.NewEvaluator(round.Key) })
	if err != nil {
		return fail(err)
	}

	result, err := tournament.Run(ctx, bids)
	if err != nil {
		return fail(err)
	}

	identity, err := auctionapi.EncodeCiphertexts(result.Identity)
	if err != nil {
		return fail(err)
	}
	amount, err := auctionapi.EncodeCiphertexts(result.Amount)
	if err != nil {
		return fail(err)
	}

	receipt, err := issueReceipt(issuer, round, &req, bidHashes, identity, amount)
	if err != nil {
		return fail(err)
	}

	processingTime := time.Since(startTime).Milliseconds()
	log.Printf("INFO: Auction round %s complete: %d bidders, strategy %s, processing=%dms",
		round.ID, round.NumBidders, round.Strategy, processingTime)

	return auctionapi.AuctionResponse{
		Type:           auctionapi.TypeAuctionResponse,
		Success:        true,
		Message:        "Auction evaluated",
		RoundID:        round.ID,
		Identity:       identity,
		Amount:         amount,
		NumBidders:     result.NumBidders,
		Width:          result.Width,
		Reserve:        result.Reserve,
		Receipt:        receipt,
		ProcessingTime: processingTime,
	}
}

func issueReceipt(issuer *ReceiptIssuer, round *Round, req *auctionapi.AuctionRequest, bidHashes []string, identity, amount []auctionapi.CiphertextBase64) (*auctionapi.Receipt, error) {
	nonce := req.Nonce
	if nonce == "" {
		var err error
		if nonce, err = generateNonce(); err != nil {
			return nil, fmt.Errorf("failed to generate request nonce: %w", err)
		}
	}

	identityBytes, err := auctionapi.CiphertextBytes(identity)
	if err != nil {
		return nil, err
	}
	amountBytes, err := auctionapi.CiphertextBytes(amount)
	if err != nil {
		return nil, err
	}

	payload := &auctionapi.ReceiptPayload{
		RoundID:      round.ID,
		AuctionID:    round.AuctionID,
		RequestHash:  core.ComputeRequestHash(round.ID, round.Width, round.NumBidders, round.Reserve, nonce, bidHashes),
		BidHashes:    bidHashes,
		ResultHash:   core.ComputeResultHash(round.ID, identityBytes, amountBytes),
		Width:        round.Width,
		NumBidders:   round.NumBidders,
		Reserve:      round.Reserve,
		Strategy:     round.Strategy.String(),
		RequestNonce: nonce,
		Timestamp:    time.Now().UnixMilli(),
	}

	receipt, err := issuer.Issue(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to issue receipt: %w", err)
	}
	return receipt, nil
}
