package core

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Strategy selects how the tournament reduces the bids. Both strategies
// evaluate exactly numBidders-1 comparisons and produce the same winner.
type Strategy int

const (
	// StrategyTree reduces the bids pairwise in ceil(log2 n) levels, evaluating
	// the duels of one level concurrently.
	StrategyTree Strategy = iota

	// StrategySequential folds the bids left to right on a single evaluator.
	StrategySequential
)

func (s Strategy) String() string {
	switch s {
	case StrategyTree:
		return "tree"
	case StrategySequential:
		return "sequential"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses "tree" or "sequential". The empty string selects the
// tree strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "tree":
		return StrategyTree, nil
	case "sequential":
		return StrategySequential, nil
	default:
		return 0, configErrorf("unknown tournament strategy %q", name)
	}
}

// TournamentConfig holds the public parameters of a round.
type TournamentConfig struct {
	// Width is the bit width shared by every bid of the round.
	Width int

	Strategy Strategy

	// Workers bounds the number of concurrent duels. Defaults to NumCPU.
	Workers int

	// Reserve is a public minimum price. Bids below it are replaced by zero
	// before the reduction. Zero disables the reserve stage.
	Reserve uint64
}

// Tournament selects the highest encrypted bid and the index of its bidder
// without learning either.
type Tournament struct {
	cfg  TournamentConfig
	pool chan GateEvaluator
}

// NewTournament validates cfg and creates a tournament. newEvaluator is called
// once per worker; each returned evaluator is used by one goroutine at a time.
func NewTournament(cfg TournamentConfig, newEvaluator func() GateEvaluator) (*Tournament, error) {
	if err := ValidateWidth(cfg.Width); err != nil {
		return nil, err
	}
	if cfg.Strategy != StrategyTree && cfg.Strategy != StrategySequential {
		return nil, configErrorf("unknown tournament strategy %d", int(cfg.Strategy))
	}
	if !FitsWidth(cfg.Reserve, cfg.Width) {
		return nil, configErrorf("reserve %d does not fit in %d bits", cfg.Reserve, cfg.Width)
	}
	if newEvaluator == nil {
		return nil, configErrorf("no evaluator factory")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	pool := make(chan GateEvaluator, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		pool <- newEvaluator()
	}
	return &Tournament{cfg: cfg, pool: pool}, nil
}

// Config returns the tournament configuration with defaults applied.
func (t *Tournament) Config() TournamentConfig { return t.cfg }

// contender is a bid travelling through the tournament together with the
// encrypted index of its owner.
type contender struct {
	amount   EncryptedBid
	identity EncryptedWinnerIdentity
}

// Run evaluates the auction circuit over bids. bids[k] belongs to bidder k.
// Among equal highest bids the lowest index wins.
//
// Preconditions are checked before any gate. Any gate failure or context
// cancellation aborts the round; no partial result is returned.
func (t *Tournament) Run(ctx context.Context, bids []EncryptedBid) (*EncryptedResult, error) {
	if err := t.checkBids(bids); err != nil {
		return nil, err
	}

	amounts, err := t.applyReserve(ctx, bids)
	if err != nil {
		return nil, err
	}

	n := len(bids)
	idWidth := IdentityWidth(n)
	eval, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	contenders := make([]contender, n)
	for k := range contenders {
		contenders[k] = contender{
			amount:   amounts[k],
			identity: encodeConstant(eval, uint64(k), idWidth),
		}
	}
	t.release(eval)

	var winner contender
	switch t.cfg.Strategy {
	case StrategySequential:
		winner, err = t.runSequential(ctx, contenders)
	default:
		winner, err = t.runTree(ctx, contenders)
	}
	if err != nil {
		return nil, err
	}

	return &EncryptedResult{
		Identity:   winner.identity,
		Amount:     winner.amount,
		NumBidders: n,
		Width:      t.cfg.Width,
		Reserve:    t.cfg.Reserve,
	}, nil
}

func (t *Tournament) checkBids(bids []EncryptedBid) error {
	if len(bids) < 2 {
		return configErrorf("a round needs at least 2 bidders, got %d", len(bids))
	}
	for k, bid := range bids {
		if len(bid) != t.cfg.Width {
			return configErrorf("bid %d has width %d, round width is %d", k, len(bid), t.cfg.Width)
		}
		for i, ct := range bid {
			if ct == nil {
				return configErrorf("bid %d bit %d is missing", k, i)
			}
		}
	}
	return nil
}

func (t *Tournament) runSequential(ctx context.Context, contenders []contender) (contender, error) {
	eval, err := t.acquire(ctx)
	if err != nil {
		return contender{}, err
	}
	defer t.release(eval)

	current := contenders[0]
	for k := 1; k < len(contenders); k++ {
		if current, err = t.duel(ctx, eval, current, contenders[k]); err != nil {
			return contender{}, err
		}
	}
	return current, nil
}

func (t *Tournament) runTree(ctx context.Context, contenders []contender) (contender, error) {
	level := contenders
	for len(level) > 1 {
		cur := level
		next := make([]contender, (len(cur)+1)/2)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(t.cfg.Workers)
		for i := 0; i+1 < len(cur); i += 2 {
			g.Go(func() error {
				eval, err := t.acquire(gctx)
				if err != nil {
					return err
				}
				defer t.release(eval)

				w, err := t.duel(gctx, eval, cur[i], cur[i+1])
				if err != nil {
					return err
				}
				next[i/2] = w
				return nil
			})
		}
		if len(cur)%2 == 1 {
			next[len(next)-1] = cur[len(cur)-1]
		}
		if err := g.Wait(); err != nil {
			return contender{}, err
		}
		level = next
	}
	return level[0], nil
}

// duel returns the challenger only when it is strictly greater than the
// incumbent, so the incumbent keeps ties.
func (t *Tournament) duel(ctx context.Context, eval GateEvaluator, incumbent, challenger contender) (contender, error) {
	if err := checkContext(ctx); err != nil {
		return contender{}, err
	}
	isGreater, err := NewComparator(eval).GreaterThan(challenger.amount, incumbent.amount)
	if err != nil {
		return contender{}, err
	}

	if err := checkContext(ctx); err != nil {
		return contender{}, err
	}
	amount, err := Select(eval, isGreater, challenger.amount, incumbent.amount)
	if err != nil {
		return contender{}, err
	}
	identity, err := Select(eval, isGreater, challenger.identity, incumbent.identity)
	if err != nil {
		return contender{}, err
	}
	return contender{amount: amount, identity: identity}, nil
}

func (t *Tournament) acquire(ctx context.Context) (GateEvaluator, error) {
	select {
	case eval := <-t.pool:
		return eval, nil
	case <-ctx.Done():
		return nil, &EvaluationError{Stage: "acquire evaluator", Err: ctx.Err()}
	}
}

func (t *Tournament) release(eval GateEvaluator) {
	t.pool <- eval
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &EvaluationError{Stage: "round cancelled", Err: err}
	}
	return nil
}
