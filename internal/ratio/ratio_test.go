package ratio

import (
	"errors"
	"math"
	"testing"
	"time"

	"ratiowatch/internal/quote"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func pair(aAsk, aBid, bAsk, bBid float64) []quote.Snapshot {
	return []quote.Snapshot{
		{Instrument: "A", Ask: aAsk, Bid: aBid, Timestamp: base},
		{Instrument: "B", Ask: bAsk, Bid: bBid, Timestamp: base.Add(time.Second)},
	}
}

func TestReduceBands(t *testing.T) {
	cases := []struct {
		name      string
		quotes    []quote.Snapshot
		priceA    float64
		priceB    float64
		ratio     float64
		wantAlert bool
		breach    string
	}{
		{"far above upper bound", pair(101, 99, 50, 50), 100, 50, 2.0, true, BreachAbove},
		{"parity", pair(100, 100, 100, 100), 100, 100, 1.0, false, BreachNone},
		{"inside band", pair(104, 102, 100, 100), 103, 100, 1.03, false, BreachNone},
		{"below lower bound", pair(90, 90, 100, 100), 90, 100, 0.9, true, BreachBelow},
		{"exactly on upper bound", pair(105, 105, 100, 100), 105, 100, 1.05, false, BreachNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Reduce(tc.quotes)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.PriceA != tc.priceA || rec.PriceB != tc.priceB {
				t.Fatalf("mid prices: got %v/%v want %v/%v", rec.PriceA, rec.PriceB, tc.priceA, tc.priceB)
			}
			if rec.Ratio != tc.priceA/tc.priceB {
				t.Fatalf("ratio %v is not price_a/price_b", rec.Ratio)
			}
			if math.Abs(rec.Ratio-tc.ratio) > 1e-12 {
				t.Fatalf("expected ratio %v, got %v", tc.ratio, rec.Ratio)
			}
			if rec.Alerting() != tc.wantAlert {
				t.Fatalf("alert present=%v, want %v", rec.Alerting(), tc.wantAlert)
			}
			if rec.TriggerAlert != nil && *rec.TriggerAlert != rec.Ratio {
				t.Fatalf("trigger alert %v should equal ratio %v", *rec.TriggerAlert, rec.Ratio)
			}
			if rec.Breach() != tc.breach {
				t.Fatalf("expected breach %s, got %s", tc.breach, rec.Breach())
			}
		})
	}
}

func TestReduceConstantsAndTimestamp(t *testing.T) {
	quotes := pair(1, 1, 1, 1)
	quotes[0].Timestamp = base.Add(5 * time.Minute)

	rec, err := Reduce(quotes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.UpperBound != 1.05 || rec.LowerBound != 0.95 {
		t.Fatalf("unexpected bounds %v/%v", rec.LowerBound, rec.UpperBound)
	}
	if rec.UpperBound+rec.LowerBound != 2 {
		t.Fatalf("default bounds should be symmetric around parity")
	}
	if !rec.Timestamp.Equal(quotes[0].Timestamp) {
		t.Fatalf("expected max timestamp %v, got %v", quotes[0].Timestamp, rec.Timestamp)
	}

	quotes[1].Timestamp = quotes[0].Timestamp
	rec, _ = Reduce(quotes)
	if !rec.Timestamp.Equal(quotes[0].Timestamp) || !rec.Timestamp.Equal(quotes[1].Timestamp) {
		t.Fatalf("tied timestamps should equal both inputs")
	}
}

func TestReduceZeroDenominator(t *testing.T) {
	rec, err := Reduce(pair(10, 10, 0, 0))
	if err != nil {
		t.Fatalf("division by zero must not be an error: %v", err)
	}
	if !math.IsInf(rec.Ratio, 1) {
		t.Fatalf("expected +Inf ratio, got %v", rec.Ratio)
	}
	if rec.TriggerAlert == nil || !math.IsInf(*rec.TriggerAlert, 1) {
		t.Fatalf("expected +Inf alert, got %v", rec.TriggerAlert)
	}

	rec, err = Reduce(pair(0, 0, 0, 0))
	if err != nil {
		t.Fatalf("0/0 must not be an error: %v", err)
	}
	if !math.IsNaN(rec.Ratio) {
		t.Fatalf("expected NaN ratio, got %v", rec.Ratio)
	}
	if rec.TriggerAlert == nil || !math.IsNaN(*rec.TriggerAlert) {
		t.Fatalf("NaN ratio should raise a NaN alert")
	}
	if rec.Breach() != BreachUndefined {
		t.Fatalf("expected undefined breach, got %s", rec.Breach())
	}
}

func TestReduceInvalidInput(t *testing.T) {
	one := pair(1, 1, 1, 1)[:1]
	three := append(pair(1, 1, 1, 1), quote.Snapshot{Ask: 1, Bid: 1})
	missing := pair(math.NaN(), 1, 1, 1)
	missingB := pair(1, 1, 1, math.NaN())

	for name, quotes := range map[string][]quote.Snapshot{
		"empty":     nil,
		"one":       one,
		"three":     three,
		"missing A": missing,
		"missing B": missingB,
	} {
		if _, err := Reduce(quotes); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestReduceIdempotent(t *testing.T) {
	quotes := pair(101.37, 99.11, 48.2, 51.9)
	first, err := Reduce(quotes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := Reduce(quotes)

	if math.Float64bits(first.Ratio) != math.Float64bits(second.Ratio) ||
		math.Float64bits(first.PriceA) != math.Float64bits(second.PriceA) ||
		math.Float64bits(first.PriceB) != math.Float64bits(second.PriceB) ||
		!first.Timestamp.Equal(second.Timestamp) {
		t.Fatalf("records differ: %+v vs %+v", first, second)
	}
	if (first.TriggerAlert == nil) != (second.TriggerAlert == nil) {
		t.Fatal("alert presence differs between calls")
	}
	if first.TriggerAlert == second.TriggerAlert {
		t.Fatal("records must not share the alert pointer")
	}
}

func TestCustomBounds(t *testing.T) {
	r, err := New(Bounds{Upper: 1.02, Lower: 0.98})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := r.Reduce(pair(104, 102, 100, 100))
	if !rec.Alerting() {
		t.Fatalf("1.03 should breach a 2%% band")
	}
	if rec.UpperBound != 1.02 || rec.LowerBound != 0.98 {
		t.Fatalf("record should carry configured bounds")
	}

	for _, b := range []Bounds{
		{Upper: 0.9, Lower: 1.1},
		{Upper: 1, Lower: 1},
		{Upper: math.Inf(1), Lower: 0.9},
		{Upper: 1.1, Lower: math.NaN()},
	} {
		if _, err := New(b); err == nil {
			t.Fatalf("bounds %+v should be rejected", b)
		}
	}
}
