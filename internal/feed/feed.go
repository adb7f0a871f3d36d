package feed

import (
	"context"

	"ratiowatch/internal/quote"
)

const (
	// KindRandom emits a seeded synthetic random walk.
	KindRandom = "random"
	// KindReplay streams recorded quotes from a CSV file.
	KindReplay = "replay"
)

// PairSource yields the current snapshot of instrument A (index 0) and
// instrument B (index 1).
type PairSource interface {
	FetchPair(ctx context.Context) ([]quote.Snapshot, error)
}

// Static always returns the same pair.
type Static struct {
	A quote.Snapshot
	B quote.Snapshot
}

// FetchPair implements PairSource.
func (s *Static) FetchPair(ctx context.Context) ([]quote.Snapshot, error) {
	return []quote.Snapshot{s.A, s.B}, nil
}

var _ PairSource = (*Static)(nil)
