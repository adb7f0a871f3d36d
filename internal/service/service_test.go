package service

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ratiowatch/internal/alerting"
	"ratiowatch/internal/config"
	"ratiowatch/internal/feed"
	"ratiowatch/internal/quote"
	"ratiowatch/internal/ratio"
	"ratiowatch/internal/sink"
	"ratiowatch/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Instruments: config.InstrumentsConfig{A: "AAA", B: "BBB"},
		Ratio:       ratio.DefaultBounds(),
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Cooldown: time.Minute,
			Channels: []string{"telegram"},
		},
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

type recordingAlertStore struct {
	alerts []storage.AlertRecord
}

func (r *recordingAlertStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	r.alerts = append(r.alerts, alert)
	return alert, nil
}

func (r *recordingAlertStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return r.alerts, nil
}

func (r *recordingAlertStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

type failingSink struct{}

func (failingSink) Update(ctx context.Context, batch []ratio.Record) error {
	return errors.New("sink down")
}

type sliceSource struct {
	pairs [][]quote.Snapshot
	err   error
}

func (s *sliceSource) FetchPair(ctx context.Context) ([]quote.Snapshot, error) {
	if len(s.pairs) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	p := s.pairs[0]
	s.pairs = s.pairs[1:]
	return p, nil
}

func snap(instrument string, mid float64, ts time.Time) quote.Snapshot {
	return quote.Snapshot{Instrument: instrument, Ask: mid, Bid: mid, Timestamp: ts}
}

func newTable(t *testing.T) *sink.Table {
	t.Helper()
	table, err := sink.NewTable(sink.DefaultView())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func TestProcessTickAlertFlow(t *testing.T) {
	table := newTable(t)
	notifier := &recordingNotifier{}
	audit := &recordingAlertStore{}
	source := &feed.Static{A: snap("AAA", 100, t0), B: snap("BBB", 50, t0.Add(time.Second))}

	svc, err := New(testConfig(), Deps{Source: source, Sink: table, Notifier: notifier, AlertStore: audit}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	row, ok := table.Row(t0.Add(time.Second))
	if !ok {
		t.Fatal("record should be grouped under the later timestamp")
	}
	if row.Ratio != 2 || row.TriggerAlert == nil || *row.TriggerAlert != 2 {
		t.Fatalf("unexpected row %+v", row)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Breach != ratio.BreachAbove || note.InstrumentA != "AAA" || note.InstrumentB != "BBB" {
		t.Fatalf("unexpected notification %+v", note)
	}
	if len(audit.alerts) != 1 || audit.alerts[0].Breach != ratio.BreachAbove {
		t.Fatalf("alert should be audited, got %+v", audit.alerts)
	}

	// Same breach inside the cooldown window is recorded but not re-sent.
	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("cooldown should suppress the repeat, got %d notes", len(notifier.notes))
	}
	row, _ = table.Row(t0.Add(time.Second))
	if row.Records != 2 {
		t.Fatalf("repeat record should still merge into the sink, got %d", row.Records)
	}
}

func TestProcessTickNoAlertInsideBand(t *testing.T) {
	table := newTable(t)
	notifier := &recordingNotifier{}
	source := &feed.Static{A: snap("AAA", 103, t0), B: snap("BBB", 100, t0)}

	svc, err := New(testConfig(), Deps{Source: source, Sink: table, Notifier: notifier}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.ProcessTick(context.Background(), t0); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	row, _ := table.Row(t0)
	if row.TriggerAlert != nil {
		t.Fatalf("1.03 is inside the band, got alert %v", *row.TriggerAlert)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("no notification expected")
	}
}

func TestProcessRejectsInvalidPair(t *testing.T) {
	table := newTable(t)
	svc, err := New(testConfig(), Deps{Source: &feed.Static{}, Sink: table}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bad := []quote.Snapshot{snap("AAA", 1, t0), {Instrument: "BBB", Ask: math.NaN(), Bid: 1, Timestamp: t0}}
	if _, err := svc.Process(context.Background(), bad); !errors.Is(err, ratio.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Process(context.Background(), bad[:1]); !errors.Is(err, ratio.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if table.Len() != 0 {
		t.Fatal("rejected pairs must not reach the sink")
	}
}

func TestProcessSurfacesSinkError(t *testing.T) {
	svc, err := New(testConfig(), Deps{Source: &feed.Static{}, Sink: failingSink{}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = svc.Process(context.Background(), []quote.Snapshot{snap("AAA", 1, t0), snap("BBB", 1, t0)})
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestDrainCountsAndSkips(t *testing.T) {
	table := newTable(t)
	source := &sliceSource{pairs: [][]quote.Snapshot{
		{snap("AAA", 100, t0), snap("BBB", 100, t0)},
		{snap("AAA", 100, t0.Add(time.Second)), {Instrument: "BBB", Ask: math.NaN(), Bid: 1}},
		{snap("AAA", 100, t0.Add(2*time.Second)), snap("BBB", 50, t0.Add(2*time.Second))},
		{snap("AAA", 100, t0.Add(3*time.Second)), snap("BBB", 0, t0.Add(3*time.Second))},
	}}

	cfg := testConfig()
	cfg.Alerting.Enabled = false
	svc, err := New(cfg, Deps{Source: source, Sink: table}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stats, err := svc.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Processed != 3 || stats.Skipped != 1 || stats.Alerts != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	row, ok := table.Row(t0.Add(3 * time.Second))
	if !ok || !math.IsInf(row.Ratio, 1) {
		t.Fatalf("zero denominator should flow through as +Inf, got %+v", row)
	}
}

func TestDrainStopsOnSourceError(t *testing.T) {
	svc, err := New(testConfig(), Deps{Source: &sliceSource{err: errors.New("corrupt row")}, Sink: newTable(t)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := svc.Drain(context.Background()); err == nil {
		t.Fatal("expected source error")
	}
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(testConfig(), Deps{Sink: newTable(t)}, zerolog.Nop()); err == nil {
		t.Fatal("missing source should fail")
	}
	if _, err := New(testConfig(), Deps{Source: &feed.Static{}}, zerolog.Nop()); err == nil {
		t.Fatal("missing sink should fail")
	}
	cfg := testConfig()
	cfg.Ratio = ratio.Bounds{Upper: 0.9, Lower: 1.1}
	if _, err := New(cfg, Deps{Source: &feed.Static{}, Sink: newTable(t)}, zerolog.Nop()); err == nil {
		t.Fatal("invalid bounds should fail")
	}
	if err := (&Service{}).Run(context.Background()); err == nil {
		t.Fatal("Run without scheduler should fail")
	}
}
