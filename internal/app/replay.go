package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"ratiowatch/internal/service"
)

// Replay streams every pair from a recorded quote file through the pipeline
// and optionally exports the resulting view.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.Path == "" {
		return errors.New("replay file is required")
	}

	logger := a.Logger.With().Str("run_id", uuid.NewString()).Str("file", opts.Path).Logger()

	p, err := a.buildPipeline(ctx, logger, opts.Persist || opts.Serve)
	if err != nil {
		return err
	}
	defer p.close()

	if opts.Serve {
		stopMetrics := a.serveMetrics(p)
		defer stopMetrics()
	}

	source, closeSource, err := a.newSource(opts.Path)
	if err != nil {
		return err
	}
	defer closeSource()

	deps := p.deps()
	deps.Source = source
	deps.Notifier = a.newNotifier()

	svc, err := service.New(a.Config, deps, logger)
	if err != nil {
		return err
	}

	stats, err := svc.Drain(ctx)
	logger.Info().
		Int("processed", stats.Processed).
		Int("skipped", stats.Skipped).
		Int("alerts", stats.Alerts).
		Int("groups", p.table.Len()).
		Msg("replay complete")
	if err != nil {
		return err
	}

	rows := downsampleRows(p.table.Rows(), a.Config.ResolveMaxPoints(0))
	if opts.CSVPath != "" {
		if err := writeViewCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeViewPNG(opts.PNGPath, a.chartTitle(), rows); err != nil {
			return err
		}
	}
	return nil
}
