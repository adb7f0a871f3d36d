package storage

import (
	"time"
)

// AlertRecord captures an emitted alert for de-duplication/auditing.
type AlertRecord struct {
	ID         int64
	Pair       string
	SampleTS   time.Time
	Ratio      float64
	UpperBound float64
	LowerBound float64
	Breach     string
	Channels   []string
	CreatedAt  time.Time
}

// PairKey identifies an instrument pair in shared tables.
func PairKey(instrumentA, instrumentB string) string {
	return instrumentA + "/" + instrumentB
}
