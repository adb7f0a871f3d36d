package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ratiowatch/internal/app"
	"ratiowatch/internal/quote"
)

var (
	reduceAAsk string
	reduceABid string
	reduceBAsk string
	reduceBBid string
	reduceATS  string
	reduceBTS  string
)

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Reduce a single quote pair and print the record",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()

		a, err := snapshotFromFlags("a", reduceAAsk, reduceABid, reduceATS, now)
		if err != nil {
			return err
		}
		b, err := snapshotFromFlags("b", reduceBAsk, reduceBBid, reduceBTS, now)
		if err != nil {
			return err
		}

		_, err = getApp().Reduce(cmd.Context(), app.ReduceOptions{A: a, B: b})
		return err
	},
}

func snapshotFromFlags(side, ask, bid, ts string, now time.Time) (quote.Snapshot, error) {
	snap := quote.Snapshot{Timestamp: now}

	var err error
	if snap.Ask, err = parseFlagPrice(ask); err != nil {
		return snap, fmt.Errorf("invalid --%s-ask value: %w", side, err)
	}
	if snap.Bid, err = parseFlagPrice(bid); err != nil {
		return snap, fmt.Errorf("invalid --%s-bid value: %w", side, err)
	}

	if ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return snap, fmt.Errorf("invalid --%s-ts value: %w", side, err)
		}
		snap.Timestamp = parsed.UTC()
	}
	return snap, nil
}

// parseFlagPrice keeps an omitted price as missing so the reducer rejects it.
func parseFlagPrice(raw string) (float64, error) {
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

func init() {
	reduceCmd.Flags().StringVar(&reduceAAsk, "a-ask", "", "Ask price of instrument A")
	reduceCmd.Flags().StringVar(&reduceABid, "a-bid", "", "Bid price of instrument A")
	reduceCmd.Flags().StringVar(&reduceBAsk, "b-ask", "", "Ask price of instrument B")
	reduceCmd.Flags().StringVar(&reduceBBid, "b-bid", "", "Bid price of instrument B")
	reduceCmd.Flags().StringVar(&reduceATS, "a-ts", "", "Quote time of instrument A (RFC3339, defaults to now)")
	reduceCmd.Flags().StringVar(&reduceBTS, "b-ts", "", "Quote time of instrument B (RFC3339, defaults to now)")
}
