package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ratiowatch/internal/alerting"
	"ratiowatch/internal/config"
	"ratiowatch/internal/feed"
	"ratiowatch/internal/metrics"
	"ratiowatch/internal/scheduler"
	"ratiowatch/internal/service"
	"ratiowatch/internal/sink"
	"ratiowatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) pairKey() string {
	return storage.PairKey(a.Config.Instruments.A, a.Config.Instruments.B)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	if a.Config.Alerting.Enabled {
		return alerting.NewLogNotifier(a.Logger)
	}
	return nil
}

func (a *App) newSource(path string) (feed.PairSource, func(), error) {
	kind := a.Config.Feed.Kind
	if path != "" {
		kind = feed.KindReplay
	} else {
		path = a.Config.Feed.Path
	}

	switch kind {
	case feed.KindReplay:
		replay, err := feed.OpenReplay(path, a.Config.Instruments.A, a.Config.Instruments.B, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return replay, func() { _ = replay.Close() }, nil
	default:
		walk := feed.NewRandomWalk(feed.RandomOptions{
			InstrumentA: a.Config.Instruments.A,
			InstrumentB: a.Config.Instruments.B,
			StartA:      a.Config.Feed.StartA,
			StartB:      a.Config.Feed.StartB,
			Volatility:  a.Config.Feed.Volatility,
			SpreadBps:   a.Config.Feed.SpreadBps,
			Seed:        a.Config.Feed.Seed,
		})
		return walk, func() {}, nil
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.pairKey())
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// pipeline is the sink side shared by run and replay.
type pipeline struct {
	table  *sink.Table
	stream *sink.Broadcaster
	store  *storage.Store
	sink   sink.Sink
	close  func()
}

func (a *App) buildPipeline(ctx context.Context, logger zerolog.Logger, persist bool) (*pipeline, error) {
	view := sink.DefaultView()
	p := &pipeline{close: func() {}}

	opts := []sink.TableOption{sink.WithRetention(a.Config.Sink.RetainGroups)}
	if a.Config.Sink.Stream {
		p.stream = sink.NewBroadcaster(view, logger)
		opts = append(opts, sink.WithListener(p.stream))
	}
	table, err := sink.NewTable(view, opts...)
	if err != nil {
		return nil, err
	}
	p.table = table

	targets := sink.Multi{table}
	if persist && a.Config.Sink.Postgres {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		p.store = store
		p.close = closeStore
		targets = append(targets, store)
	}
	p.sink = sink.NewOrdered(targets, logger)
	return p, nil
}

func (p *pipeline) deps() service.Deps {
	deps := service.Deps{Sink: p.sink}
	if p.store != nil {
		deps.AlertStore = p.store
		deps.Locker = p.store
	}
	return deps
}

func (a *App) serveMetrics(p *pipeline) func() {
	if !a.Config.Metrics.Enabled {
		return func() {}
	}
	extra := map[string]http.Handler{}
	if p.stream != nil {
		extra["/stream"] = p.stream
	}
	srv := metrics.Serve(a.Config.Metrics.Addr, extra)
	a.Logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("metrics and view stream listening")
	return func() {
		if p.stream != nil {
			p.stream.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Run executes the long-running sampling service.
func (a *App) Run(ctx context.Context) error {
	if a.Config.Feed.Kind == feed.KindReplay {
		return a.Replay(ctx, ReplayOptions{Path: a.Config.Feed.Path, Serve: true})
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := a.Logger.With().Str("run_id", uuid.NewString()).Logger()

	p, err := a.buildPipeline(ctx, logger, true)
	if err != nil {
		return err
	}
	defer p.close()
	if p.store == nil {
		logger.Warn().Msg("sink.postgres disabled; records kept in memory only")
	} else {
		a.pruneAlerts(ctx, p.store, logger)
	}

	stopMetrics := a.serveMetrics(p)
	defer stopMetrics()

	source, closeSource, err := a.newSource("")
	if err != nil {
		return err
	}
	defer closeSource()

	deps := p.deps()
	deps.Source = source
	deps.Notifier = a.newNotifier()
	deps.Scheduler = scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, logger)

	svc, err := service.New(a.Config, deps, logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("pair", a.pairKey()).
		Float64("upper_bound", a.Config.Ratio.Upper).
		Float64("lower_bound", a.Config.Ratio.Lower).
		Msg("starting ratio service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	logger.Info().Int("groups", p.table.Len()).Msg("ratio service stopped")
	return nil
}

func (a *App) pruneAlerts(ctx context.Context, store storage.AlertStore, logger zerolog.Logger) {
	if a.Config.Alerting.Retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-a.Config.Alerting.Retention)
	if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
		logger.Warn().Err(err).Time("cutoff", cutoff).Msg("failed to prune alert history")
	}
}

// ExportOptions hold parameters for exporting the aggregated view.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts int
}

// ReplayOptions configure a file replay.
type ReplayOptions struct {
	Path    string
	CSVPath string
	PNGPath string
	Persist bool
	Serve   bool
}
