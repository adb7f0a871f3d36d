package ratio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ratiowatch/internal/quote"
)

const (
	// DefaultUpperBound is the ratio above which a pair is anomalous.
	DefaultUpperBound = 1.05
	// DefaultLowerBound is the ratio below which a pair is anomalous.
	DefaultLowerBound = 0.95
)

// ErrInvalidInput is returned when a quote pair cannot be reduced.
var ErrInvalidInput = errors.New("invalid quote pair")

// Breach directions reported by Record.Breach.
const (
	BreachNone  = "none"
	BreachAbove = "above"
	BreachBelow = "below"
	// BreachUndefined marks a NaN ratio (both mid-prices zero).
	BreachUndefined = "undefined"
)

// Bounds are the thresholds the ratio is compared against.
type Bounds struct {
	Upper float64 `mapstructure:"upper_bound"`
	Lower float64 `mapstructure:"lower_bound"`
}

// DefaultBounds returns the 5% band around parity.
func DefaultBounds() Bounds {
	return Bounds{Upper: DefaultUpperBound, Lower: DefaultLowerBound}
}

// Validate checks the bounds form a non-empty finite band.
func (b Bounds) Validate() error {
	if math.IsNaN(b.Upper) || math.IsInf(b.Upper, 0) || math.IsNaN(b.Lower) || math.IsInf(b.Lower, 0) {
		return fmt.Errorf("ratio bounds must be finite (lower=%v upper=%v)", b.Lower, b.Upper)
	}
	if b.Lower >= b.Upper {
		return fmt.Errorf("ratio lower bound %v must be below upper bound %v", b.Lower, b.Upper)
	}
	return nil
}

// Record is the analytical output of one reduction. It is a value; callers
// must not share the TriggerAlert pointer across records.
type Record struct {
	PriceA       float64
	PriceB       float64
	Ratio        float64
	Timestamp    time.Time
	UpperBound   float64
	LowerBound   float64
	TriggerAlert *float64
}

// Alerting reports whether the record carries an alert value.
func (r Record) Alerting() bool {
	return r.TriggerAlert != nil
}

// Breach classifies which side of the band the ratio crossed.
func (r Record) Breach() string {
	if r.TriggerAlert == nil {
		return BreachNone
	}
	if math.IsNaN(r.Ratio) {
		return BreachUndefined
	}
	if r.Ratio < r.LowerBound {
		return BreachBelow
	}
	return BreachAbove
}

// Reducer turns quote pairs into records using a fixed set of bounds.
type Reducer struct {
	bounds Bounds
}

// New builds a reducer for the given bounds.
func New(bounds Bounds) (*Reducer, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	return &Reducer{bounds: bounds}, nil
}

// Bounds returns the configured thresholds.
func (r *Reducer) Bounds() Bounds {
	return r.bounds
}

// Reduce derives a record from quotes[0] (instrument A) and quotes[1]
// (instrument B). A zero mid for B yields a non-finite ratio, not an error.
func (r *Reducer) Reduce(quotes []quote.Snapshot) (Record, error) {
	if len(quotes) != 2 {
		return Record{}, fmt.Errorf("%w: expected 2 snapshots, got %d", ErrInvalidInput, len(quotes))
	}
	a, b := quotes[0], quotes[1]
	if !a.HasPrices() {
		return Record{}, fmt.Errorf("%w: snapshot A (%s) missing ask or bid", ErrInvalidInput, a.Instrument)
	}
	if !b.HasPrices() {
		return Record{}, fmt.Errorf("%w: snapshot B (%s) missing ask or bid", ErrInvalidInput, b.Instrument)
	}

	priceA := a.Mid()
	priceB := b.Mid()
	ratio := priceA / priceB

	ts := a.Timestamp
	if b.Timestamp.After(ts) {
		ts = b.Timestamp
	}

	rec := Record{
		PriceA:     priceA,
		PriceB:     priceB,
		Ratio:      ratio,
		Timestamp:  ts,
		UpperBound: r.bounds.Upper,
		LowerBound: r.bounds.Lower,
	}
	if r.crosses(ratio) {
		alert := ratio
		rec.TriggerAlert = &alert
	}
	return rec, nil
}

// crosses treats NaN as outside the band; IEEE comparisons alone would not.
func (r *Reducer) crosses(v float64) bool {
	return math.IsNaN(v) || v > r.bounds.Upper || v < r.bounds.Lower
}

var defaultReducer = &Reducer{bounds: DefaultBounds()}

// Reduce applies the default bounds.
func Reduce(quotes []quote.Snapshot) (Record, error) {
	return defaultReducer.Reduce(quotes)
}
