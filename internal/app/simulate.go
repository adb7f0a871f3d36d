package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ratiowatch/internal/feed"
	"ratiowatch/internal/quote"
	"ratiowatch/internal/service"
	"ratiowatch/internal/sink"
)

// SimulateAlert pushes a synthetic pair with the given mids through the
// alert path.
func (a *App) SimulateAlert(ctx context.Context, midA, midB decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	table, err := sink.NewTable(sink.DefaultView())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	source := &feed.Static{
		A: staticSnapshot(a.Config.Instruments.A, midA, now),
		B: staticSnapshot(a.Config.Instruments.B, midB, now),
	}

	svc, err := service.New(a.Config, service.Deps{Source: source, Sink: table, Notifier: notifier}, a.Logger)
	if err != nil {
		return err
	}

	if err := svc.ProcessTick(ctx, now); err != nil {
		return err
	}
	row, ok := table.Row(now)
	if !ok || row.TriggerAlert == nil {
		a.Logger.Warn().Str("ratio", midA.Div(midB).StringFixed(6)).Msg("simulated ratio inside bounds; no alert sent")
	}
	return nil
}

func staticSnapshot(instrument string, mid decimal.Decimal, ts time.Time) quote.Snapshot {
	px := mid.InexactFloat64()
	return quote.Snapshot{Instrument: instrument, Ask: px, Bid: px, Timestamp: ts}
}
