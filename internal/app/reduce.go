package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"ratiowatch/internal/alerting"
	"ratiowatch/internal/quote"
	"ratiowatch/internal/ratio"
)

// ReduceOptions describe a single quote pair given on the command line.
type ReduceOptions struct {
	A quote.Snapshot
	B quote.Snapshot
}

// Reduce derives one record from the given pair with the configured bounds
// and prints it.
func (a *App) Reduce(ctx context.Context, opts ReduceOptions) (ratio.Record, error) {
	reducer, err := ratio.New(a.Config.Ratio)
	if err != nil {
		return ratio.Record{}, err
	}

	if opts.A.Instrument == "" {
		opts.A.Instrument = a.Config.Instruments.A
	}
	if opts.B.Instrument == "" {
		opts.B.Instrument = a.Config.Instruments.B
	}

	rec, err := reducer.Reduce([]quote.Snapshot{opts.A, opts.B})
	if err != nil {
		return ratio.Record{}, err
	}

	alert := "absent"
	if rec.TriggerAlert != nil {
		alert = alerting.FormatValue(*rec.TriggerAlert, 6)
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "price_a\t%s\n", alerting.FormatValue(rec.PriceA, 6))
	fmt.Fprintf(writer, "price_b\t%s\n", alerting.FormatValue(rec.PriceB, 6))
	fmt.Fprintf(writer, "ratio\t%s\n", alerting.FormatValue(rec.Ratio, 6))
	fmt.Fprintf(writer, "timestamp\t%s\n", rec.Timestamp.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(writer, "upper_bound\t%s\n", alerting.FormatValue(rec.UpperBound, 6))
	fmt.Fprintf(writer, "lower_bound\t%s\n", alerting.FormatValue(rec.LowerBound, 6))
	fmt.Fprintf(writer, "trigger_alert\t%s\n", alert)
	return rec, writer.Flush()
}
