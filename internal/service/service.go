package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"ratiowatch/internal/alerting"
	"ratiowatch/internal/config"
	"ratiowatch/internal/feed"
	"ratiowatch/internal/metrics"
	"ratiowatch/internal/quote"
	"ratiowatch/internal/ratio"
	"ratiowatch/internal/scheduler"
	"ratiowatch/internal/sink"
	"ratiowatch/internal/storage"
)

// Deps are the collaborators a Service drives. Only Source and Sink are
// required.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Source     feed.PairSource
	Sink       sink.Sink
	AlertStore storage.AlertStore
	Notifier   alerting.Notifier
	Locker     storage.AdvisoryLocker
}

// Service turns quote pairs into records, feeds the sink and raises alerts.
type Service struct {
	scheduler  *scheduler.Scheduler
	source     feed.PairSource
	reducer    *ratio.Reducer
	sink       sink.Sink
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	cooldown   *alerting.Cooldown
	logger     zerolog.Logger

	instrumentA string
	instrumentB string
	channels    []string
	alertsOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// DrainStats summarises a Drain run.
type DrainStats struct {
	Processed int
	Skipped   int
	Alerts    int
}

// New constructs the pipeline service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("quote pair source is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("sink is required")
	}
	reducer, err := ratio.New(cfg.Ratio)
	if err != nil {
		return nil, err
	}

	return &Service{
		scheduler:   deps.Scheduler,
		source:      deps.Source,
		reducer:     reducer,
		sink:        deps.Sink,
		alertStore:  deps.AlertStore,
		notifier:    deps.Notifier,
		cooldown:    alerting.NewCooldown(cfg.Alerting.Cooldown),
		logger:      logger.With().Str("component", "service").Logger(),
		instrumentA: cfg.Instruments.A,
		instrumentB: cfg.Instruments.B,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      deps.Locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}, nil
}

// Run samples the source on every scheduler tick.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick samples one pair and pushes the resulting record.
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	pair, err := s.source.FetchPair(ctx)
	if err != nil {
		return fmt.Errorf("fetch quote pair: %w", err)
	}
	_, err = s.Process(ctx, pair)
	return err
}

// Drain processes pairs until the source reports io.EOF. Pairs the reducer
// rejects are skipped; any other failure stops the drain.
func (s *Service) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats
	for {
		pair, err := s.source.FetchPair(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("fetch quote pair: %w", err)
		}

		rec, err := s.Process(ctx, pair)
		if errors.Is(err, ratio.ErrInvalidInput) {
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.Processed++
		if rec.Alerting() {
			stats.Alerts++
		}
	}
}

// Process reduces one pair, submits the record and dispatches any alert.
// Nothing reaches the sink when the reduction fails.
func (s *Service) Process(ctx context.Context, pair []quote.Snapshot) (ratio.Record, error) {
	rec, err := s.reducer.Reduce(pair)
	if err != nil {
		metrics.ReduceErrors.Inc()
		s.logger.Warn().Err(err).Msg("quote pair rejected")
		return ratio.Record{}, err
	}
	metrics.RecordsReduced.Inc()
	metrics.LastRatio.Set(rec.Ratio)

	if err := sink.Submit(ctx, s.sink, rec); err != nil {
		metrics.SinkErrors.Inc()
		return rec, fmt.Errorf("submit record: %w", err)
	}

	s.logger.Debug().Time("timestamp", rec.Timestamp).
		Float64("price_a", rec.PriceA).
		Float64("price_b", rec.PriceB).
		Str("ratio", alerting.FormatValue(rec.Ratio, 6)).
		Bool("alert", rec.Alerting()).
		Msg("record submitted")

	if rec.Alerting() {
		metrics.AlertsTriggered.WithLabelValues(rec.Breach()).Inc()
		s.dispatchAlert(ctx, rec)
	}
	return rec, nil
}

func (s *Service) dispatchAlert(ctx context.Context, rec ratio.Record) {
	if !s.alertsOn || s.notifier == nil {
		return
	}
	breach := rec.Breach()
	if !s.cooldown.Allow(breach, rec.Timestamp) {
		s.logger.Debug().Time("timestamp", rec.Timestamp).Str("breach", breach).Msg("alert suppressed by cooldown")
		return
	}

	if s.alertStore != nil {
		audit := storage.AlertRecord{
			SampleTS:   rec.Timestamp,
			Ratio:      rec.Ratio,
			UpperBound: rec.UpperBound,
			LowerBound: rec.LowerBound,
			Breach:     breach,
			Channels:   s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, audit); err != nil {
			s.logger.Error().Err(err).Time("timestamp", rec.Timestamp).Msg("failed to persist alert record")
		}
	}

	note := alerting.Notification{
		At:          rec.Timestamp,
		InstrumentA: s.instrumentA,
		InstrumentB: s.instrumentB,
		PriceA:      rec.PriceA,
		PriceB:      rec.PriceB,
		Ratio:       rec.Ratio,
		UpperBound:  rec.UpperBound,
		LowerBound:  rec.LowerBound,
		Breach:      breach,
		Channels:    s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("timestamp", rec.Timestamp).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
