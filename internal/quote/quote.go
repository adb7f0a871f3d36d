package quote

import (
	"math"
	"time"
)

// Snapshot is the top of book for one instrument at a point in time.
type Snapshot struct {
	Instrument string
	Ask        float64
	Bid        float64
	Timestamp  time.Time
}

// Mid returns the arithmetic mean of ask and bid.
func (s Snapshot) Mid() float64 {
	return (s.Ask + s.Bid) / 2
}

// HasPrices reports whether both sides of the book are populated.
// NaN marks a missing price.
func (s Snapshot) HasPrices() bool {
	return !math.IsNaN(s.Ask) && !math.IsNaN(s.Bid)
}
