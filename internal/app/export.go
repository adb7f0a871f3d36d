package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ratiowatch/internal/alerting"
	"ratiowatch/internal/sink"
)

// Export renders the persisted aggregated view as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListViewBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting view")

	if opts.CSVPath != "" {
		if err := writeViewCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeViewPNG(opts.PNGPath, a.chartTitle(), downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) chartTitle() string {
	return fmt.Sprintf("%s / %s mid-price ratio", a.Config.Instruments.A, a.Config.Instruments.B)
}

func downsampleRows(rows []sink.ViewRow, max int) []sink.ViewRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]sink.ViewRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeViewCSV(path string, rows []sink.ViewRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		sink.FieldTimestamp, "records",
		sink.FieldRatio, sink.FieldLowerBound, sink.FieldUpperBound, sink.FieldTriggerAlert,
		sink.FieldPriceA, sink.FieldPriceB,
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		alert := ""
		if row.TriggerAlert != nil {
			alert = alerting.FormatValue(*row.TriggerAlert, 6)
		}
		record := []string{
			row.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.Itoa(row.Records),
			alerting.FormatValue(row.Ratio, 6),
			alerting.FormatValue(row.LowerBound, 6),
			alerting.FormatValue(row.UpperBound, 6),
			alert,
			alerting.FormatValue(row.PriceA, 6),
			alerting.FormatValue(row.PriceB, 6),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// writeViewPNG plots the visible columns. Non-finite points cannot be drawn
// and are left out of every series.
func writeViewPNG(path, title string, rows []sink.ViewRow) error {
	var ratios, lower, upper []float64
	var xs []time.Time
	var alertX []time.Time
	var alertY []float64

	for _, row := range rows {
		if finite(row.Ratio) {
			xs = append(xs, row.Timestamp)
			ratios = append(ratios, row.Ratio)
			lower = append(lower, row.LowerBound)
			upper = append(upper, row.UpperBound)
		}
		if row.TriggerAlert != nil && finite(*row.TriggerAlert) {
			alertX = append(alertX, row.Timestamp)
			alertY = append(alertY, *row.TriggerAlert)
		}
	}
	if len(xs) < 2 {
		return fmt.Errorf("need at least 2 finite points to plot, have %d", len(xs))
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	ratioFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Ratio",
			XValues: xs,
			YValues: ratios,
		},
		chart.TimeSeries{
			Name:    "Lower bound",
			Style:   chart.Style{StrokeDashArray: []float64{5, 5}},
			XValues: xs,
			YValues: lower,
		},
		chart.TimeSeries{
			Name:    "Upper bound",
			Style:   chart.Style{StrokeDashArray: []float64{5, 5}},
			XValues: xs,
			YValues: upper,
		},
	}
	if len(alertX) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Trigger alert",
			Style:   chart.Style{StrokeWidth: chart.Disabled, DotWidth: 4},
			XValues: alertX,
			YValues: alertY,
		})
	}

	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Ratio",
			ValueFormatter: ratioFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
