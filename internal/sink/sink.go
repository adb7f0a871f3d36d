package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ratiowatch/internal/metrics"
	"ratiowatch/internal/ratio"
)

// Sink receives batches of analytical records and merges them into its view.
type Sink interface {
	Update(ctx context.Context, batch []ratio.Record) error
}

// Submit sends a single record as a one-element batch.
func Submit(ctx context.Context, s Sink, rec ratio.Record) error {
	return s.Update(ctx, []ratio.Record{rec})
}

// Multi fans a batch out to every sink.
type Multi []Sink

// Update forwards to all sinks and joins their errors.
func (m Multi) Update(ctx context.Context, batch []ratio.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Update(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ordered forwards records and flags any whose timestamp precedes the last
// one seen. Late records still reach the wrapped sink.
type Ordered struct {
	next   Sink
	logger zerolog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewOrdered wraps next with an ordering check.
func NewOrdered(next Sink, logger zerolog.Logger) *Ordered {
	return &Ordered{next: next, logger: logger.With().Str("component", "sink_order").Logger()}
}

// Update implements Sink.
func (o *Ordered) Update(ctx context.Context, batch []ratio.Record) error {
	o.mu.Lock()
	for _, rec := range batch {
		if !o.last.IsZero() && rec.Timestamp.Before(o.last) {
			metrics.OutOfOrder.Inc()
			o.logger.Warn().
				Time("timestamp", rec.Timestamp).
				Time("last", o.last).
				Msg("record submitted out of timestamp order")
			continue
		}
		o.last = rec.Timestamp
	}
	o.mu.Unlock()

	return o.next.Update(ctx, batch)
}

var (
	_ Sink = Multi(nil)
	_ Sink = (*Ordered)(nil)
)
