package feed

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleCSV = `timestamp,instrument,ask,bid
2024-03-01T12:00:00Z,AAA,101,99
2024-03-01T12:00:01Z,ZZZ,1,1
2024-03-01T12:00:02Z,BBB,50,50
# comment rows are ignored
2024-03-01T12:00:03Z,AAA,104,102
2024-03-01T12:00:04Z,BBB,,100
`

func TestReplayPairsLatestQuotes(t *testing.T) {
	r := NewReplay(strings.NewReader(sampleCSV), "AAA", "BBB", zerolog.Nop())
	ctx := context.Background()

	first, err := r.FetchPair(ctx)
	if err != nil {
		t.Fatalf("first pair: %v", err)
	}
	if first[0].Instrument != "AAA" || first[1].Instrument != "BBB" {
		t.Fatalf("pair order wrong: %+v", first)
	}
	if first[0].Mid() != 100 || first[1].Mid() != 50 {
		t.Fatalf("unexpected mids %v/%v", first[0].Mid(), first[1].Mid())
	}
	if !first[1].Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 2, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", first[1].Timestamp)
	}

	second, err := r.FetchPair(ctx)
	if err != nil {
		t.Fatalf("second pair: %v", err)
	}
	if second[0].Mid() != 103 || second[1].Mid() != 50 {
		t.Fatalf("A should update while B carries over, got %v/%v", second[0].Mid(), second[1].Mid())
	}

	third, err := r.FetchPair(ctx)
	if err != nil {
		t.Fatalf("third pair: %v", err)
	}
	if !math.IsNaN(third[1].Ask) || third[1].HasPrices() {
		t.Fatalf("empty ask should be missing, got %v", third[1].Ask)
	}

	if _, err := r.FetchPair(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReplayRejectsBadRows(t *testing.T) {
	r := NewReplay(strings.NewReader("yesterday,AAA,1,1\n"), "AAA", "BBB", zerolog.Nop())
	if _, err := r.FetchPair(context.Background()); err == nil {
		t.Fatal("bad timestamp should fail")
	}

	r = NewReplay(strings.NewReader("2024-03-01T12:00:00Z,AAA,abc,1\n"), "AAA", "BBB", zerolog.Nop())
	if _, err := r.FetchPair(context.Background()); err == nil {
		t.Fatal("bad price should fail")
	}
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, err := OpenReplay(path, "AAA", "BBB", zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	defer r.Close()

	if _, err := r.FetchPair(context.Background()); err != nil {
		t.Fatalf("FetchPair: %v", err)
	}

	if _, err := OpenReplay(filepath.Join(t.TempDir(), "missing.csv"), "AAA", "BBB", zerolog.Nop()); err == nil {
		t.Fatal("missing file should fail")
	}
}
