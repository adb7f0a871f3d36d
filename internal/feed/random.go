package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"ratiowatch/internal/quote"
)

// RandomOptions parameterise the synthetic walk.
type RandomOptions struct {
	InstrumentA string
	InstrumentB string
	StartA      float64
	StartB      float64
	// Volatility is the per-step standard deviation of log returns.
	Volatility float64
	// SpreadBps is the quoted ask-bid spread in basis points of mid.
	SpreadBps float64
	Seed      int64
	Clock     func() time.Time
}

// RandomWalk produces two independent geometric random walks.
type RandomWalk struct {
	opts RandomOptions

	mu   sync.Mutex
	rng  *rand.Rand
	midA float64
	midB float64
}

// NewRandomWalk builds a deterministic walk for the given seed.
func NewRandomWalk(opts RandomOptions) *RandomWalk {
	if opts.StartA <= 0 {
		opts.StartA = 100
	}
	if opts.StartB <= 0 {
		opts.StartB = 100
	}
	if opts.Volatility < 0 {
		opts.Volatility = 0
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &RandomWalk{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		midA: opts.StartA,
		midB: opts.StartB,
	}
}

// FetchPair advances both walks one step.
func (w *RandomWalk) FetchPair(ctx context.Context) ([]quote.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.midA *= math.Exp(w.rng.NormFloat64() * w.opts.Volatility)
	w.midB *= math.Exp(w.rng.NormFloat64() * w.opts.Volatility)
	now := w.opts.Clock()

	return []quote.Snapshot{
		w.snapshot(w.opts.InstrumentA, w.midA, now),
		w.snapshot(w.opts.InstrumentB, w.midB, now),
	}, nil
}

func (w *RandomWalk) snapshot(instrument string, mid float64, ts time.Time) quote.Snapshot {
	half := mid * w.opts.SpreadBps / 20000
	return quote.Snapshot{
		Instrument: instrument,
		Ask:        mid + half,
		Bid:        mid - half,
		Timestamp:  ts,
	}
}

var _ PairSource = (*RandomWalk)(nil)
