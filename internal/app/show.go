package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"ratiowatch/internal/alerting"
	"ratiowatch/internal/sink"
	"ratiowatch/internal/storage"
)

// Show prints the most recent aggregated groups.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	total, err := store.CountRecords(ctx)
	if err != nil {
		return err
	}
	rows, err := store.ListRecentView(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no records found")
		return nil
	}

	fmt.Fprintf(a.Out, "%s: %d records stored\n", a.pairKey(), total)
	if err := printView(a.Out, rows); err != nil {
		return err
	}

	if opts.Alerts <= 0 {
		return nil
	}
	alerts, err := store.ListRecentAlerts(ctx, opts.Alerts)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out)
	return printAlerts(a.Out, alerts)
}

func printAlerts(out io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts recorded")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sample (UTC)\tBreach\tRatio\tLower\tUpper\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.SampleTS.UTC().Format(time.RFC3339),
			alert.Breach,
			alerting.FormatValue(alert.Ratio, 4),
			alerting.FormatValue(alert.LowerBound, 4),
			alerting.FormatValue(alert.UpperBound, 4),
			strings.Join(alert.Channels, ","),
		)
	}
	return writer.Flush()
}

func printView(out io.Writer, rows []sink.ViewRow) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRecords\tRatio\tLower\tUpper\tAlert")

	for _, row := range rows {
		alert := "-"
		if row.TriggerAlert != nil {
			alert = alerting.FormatValue(*row.TriggerAlert, 4)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\n",
			row.Timestamp.UTC().Format(time.RFC3339),
			row.Records,
			alerting.FormatValue(row.Ratio, 4),
			alerting.FormatValue(row.LowerBound, 4),
			alerting.FormatValue(row.UpperBound, 4),
			alert,
		)
	}

	return writer.Flush()
}
