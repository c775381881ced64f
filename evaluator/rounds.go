package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// ErrUnknownRound is returned for round tokens that were never issued, have
// already been used or have expired.
var ErrUnknownRound = errors.New("unknown, used or expired round")

// Round is an open auction round: the public parameters and the evaluation
// key its bids will be evaluated with.
type Round struct {
	ID         string
	AuctionID  string
	Width      int
	NumBidders int
	Reserve    uint64
	Strategy   core.Strategy
	Key        *fhe.EvaluationKey
	OpenedAt   time.Time
}

// RoundRegistry hands out single-use round tokens. A round can be taken
// exactly once; taking it removes it, so a round's bids are evaluated at most
// once.
type RoundRegistry struct {
	mu     sync.Mutex
	rounds map[string]*Round
	ttl    time.Duration
	now    func() time.Time
}

// NewRoundRegistry creates a registry whose rounds expire after ttl.
func NewRoundRegistry(ttl time.Duration) *RoundRegistry {
	return &RoundRegistry{
		rounds: make(map[string]*Round),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Register validates the round parameters, assigns a fresh UUID and stores the
// round.
func (r *RoundRegistry) Register(round Round) (*Round, error) {
	if err := core.ValidateWidth(round.Width); err != nil {
		return nil, err
	}
	if round.NumBidders < 2 {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("a round needs at least 2 bidders, got %d", round.NumBidders)}
	}
	if !core.FitsWidth(round.Reserve, round.Width) {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("reserve %d does not fit in %d bits", round.Reserve, round.Width)}
	}

	round.ID = uuid.NewString()
	round.OpenedAt = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds[round.ID] = &round
	return &round, nil
}

// Take removes and returns the round with the given id.
func (r *RoundRegistry) Take(id string) (*Round, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("round %q: %w", id, ErrUnknownRound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	round, ok := r.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", id, ErrUnknownRound)
	}
	delete(r.rounds, id)
	if r.expired(round) {
		return nil, fmt.Errorf("round %s: %w", id, ErrUnknownRound)
	}
	return round, nil
}

// ExpiresAt returns when round stops being accepted.
func (r *RoundRegistry) ExpiresAt(round *Round) time.Time {
	return round.OpenedAt.Add(r.ttl)
}

// Len returns the number of open rounds.
func (r *RoundRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rounds)
}

func (r *RoundRegistry) expired(round *Round) bool {
	return !r.now().Before(r.ExpiresAt(round))
}

// RemoveExpired drops every expired round and returns how many were dropped.
func (r *RoundRegistry) RemoveExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, round := range r.rounds {
		if r.expired(round) {
			delete(r.rounds, id)
			removed++
		}
	}
	return removed
}

// StartExpirationCleanup removes expired rounds every interval until ctx is
// done. Evaluation keys are large, so abandoned rounds must not accumulate.
func (r *RoundRegistry) StartExpirationCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.RemoveExpired(); n > 0 {
					log.Printf("INFO: Removed %d expired rounds (%d still open)", n, r.Len())
				}
			}
		}
	}()
}
