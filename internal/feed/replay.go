package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratiowatch/internal/quote"
)

// Replay turns a CSV of single-instrument quotes into pairs. Each row
// updates the latest snapshot of its instrument; once both instruments have
// been seen every further row yields a pair.
//
// Columns: timestamp (RFC3339), instrument, ask, bid. An empty price is kept
// as missing so the reducer can reject the pair. A header row is skipped.
type Replay struct {
	instrumentA string
	instrumentB string
	logger      zerolog.Logger

	mu     sync.Mutex
	closer io.Closer
	reader *csv.Reader
	line   int
	latest map[string]quote.Snapshot
}

// OpenReplay opens path for replay.
func OpenReplay(path, instrumentA, instrumentB string, logger zerolog.Logger) (*Replay, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	r := NewReplay(file, instrumentA, instrumentB, logger)
	r.closer = file
	return r, nil
}

// NewReplay reads quotes from src.
func NewReplay(src io.Reader, instrumentA, instrumentB string, logger zerolog.Logger) *Replay {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	return &Replay{
		instrumentA: instrumentA,
		instrumentB: instrumentB,
		logger:      logger.With().Str("component", "replay_feed").Logger(),
		reader:      reader,
		latest:      make(map[string]quote.Snapshot, 2),
	}
}

// FetchPair returns the next pair, or io.EOF once the file is exhausted.
func (r *Replay) FetchPair(ctx context.Context) ([]quote.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fields, err := r.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read replay row: %w", err)
		}
		r.line++

		if r.line == 1 && strings.EqualFold(strings.TrimSpace(fields[0]), "timestamp") {
			continue
		}

		snap, err := parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		if snap.Instrument != r.instrumentA && snap.Instrument != r.instrumentB {
			r.logger.Debug().Str("instrument", snap.Instrument).Int("line", r.line).Msg("skipping unknown instrument")
			continue
		}
		r.latest[snap.Instrument] = snap

		a, okA := r.latest[r.instrumentA]
		b, okB := r.latest[r.instrumentB]
		if okA && okB {
			return []quote.Snapshot{a, b}, nil
		}
	}
}

// Close releases the underlying file, if any.
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

func parseRow(fields []string) (quote.Snapshot, error) {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(fields[0]))
	if err != nil {
		return quote.Snapshot{}, fmt.Errorf("parse timestamp: %w", err)
	}
	instrument := strings.TrimSpace(fields[1])
	if instrument == "" {
		return quote.Snapshot{}, errors.New("instrument is empty")
	}
	ask, err := parsePrice(fields[2])
	if err != nil {
		return quote.Snapshot{}, fmt.Errorf("parse ask: %w", err)
	}
	bid, err := parsePrice(fields[3])
	if err != nil {
		return quote.Snapshot{}, fmt.Errorf("parse bid: %w", err)
	}
	return quote.Snapshot{Instrument: instrument, Ask: ask, Bid: bid, Timestamp: ts.UTC()}, nil
}

func parsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN(), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

var _ PairSource = (*Replay)(nil)
