package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ratiowatch/internal/ratio"
)

// Listener is told about every group touched by an update.
type Listener interface {
	Publish(row ViewRow)
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithRetention keeps at most n groups, evicting the oldest timestamps.
func WithRetention(n int) TableOption {
	return func(t *Table) {
		if n > 0 {
			t.retain = n
		}
	}
}

// WithListener registers a listener for merged rows.
func WithListener(l Listener) TableOption {
	return func(t *Table) {
		if l != nil {
			t.listeners = append(t.listeners, l)
		}
	}
}

type group struct {
	ts       time.Time
	records  int
	sums     map[string]float64
	counts   map[string]int
	distinct map[string]map[any]struct{}
}

// Table is an in-memory pivot of records grouped by timestamp.
type Table struct {
	view      View
	retain    int
	listeners []Listener

	mu     sync.RWMutex
	groups map[int64]*group
	keys   []int64
}

// NewTable builds an empty table for the given view.
func NewTable(view View, opts ...TableOption) (*Table, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	t := &Table{view: view, groups: make(map[int64]*group)}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// View returns the table configuration.
func (t *Table) View() View {
	return t.view
}

// Update merges each record into the group for its timestamp. The batch is
// checked against the schema before anything is merged.
func (t *Table) Update(ctx context.Context, batch []ratio.Record) error {
	rows := make([]Row, 0, len(batch))
	for i, rec := range batch {
		row := ToRow(rec)
		if err := t.view.Conform(row); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		rows = append(rows, row)
	}

	t.mu.Lock()
	touched := make([]int64, 0, len(rows))
	for _, row := range rows {
		touched = append(touched, t.merge(row))
	}
	t.evict()
	merged := make([]ViewRow, 0, len(touched))
	for _, key := range touched {
		if g, ok := t.groups[key]; ok {
			merged = append(merged, t.project(g))
		}
	}
	t.mu.Unlock()

	for _, row := range merged {
		for _, l := range t.listeners {
			l.Publish(row)
		}
	}
	return nil
}

func (t *Table) merge(row Row) int64 {
	ts := row[t.view.GroupBy].(time.Time)
	key := ts.UnixNano()

	g, ok := t.groups[key]
	if !ok {
		g = &group{
			ts:       ts,
			sums:     make(map[string]float64),
			counts:   make(map[string]int),
			distinct: make(map[string]map[any]struct{}),
		}
		t.groups[key] = g
		idx := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= key })
		t.keys = append(t.keys, 0)
		copy(t.keys[idx+1:], t.keys[idx:])
		t.keys[idx] = key
	}
	g.records++

	for name, val := range row {
		if val == nil {
			continue
		}
		switch t.view.Aggregates[name] {
		case Mean:
			g.sums[name] += val.(float64)
			g.counts[name]++
		case DistinctCount:
			set, ok := g.distinct[name]
			if !ok {
				set = make(map[any]struct{})
				g.distinct[name] = set
			}
			if tv, ok := val.(time.Time); ok {
				set[tv.UnixNano()] = struct{}{}
			} else {
				set[val] = struct{}{}
			}
		}
	}
	return key
}

func (t *Table) evict() {
	if t.retain <= 0 || len(t.keys) <= t.retain {
		return
	}
	drop := len(t.keys) - t.retain
	for _, key := range t.keys[:drop] {
		delete(t.groups, key)
	}
	t.keys = append(t.keys[:0], t.keys[drop:]...)
}

func (t *Table) project(g *group) ViewRow {
	mean := func(name string) (float64, bool) {
		n := g.counts[name]
		if n == 0 {
			return 0, false
		}
		return g.sums[name] / float64(n), true
	}

	row := ViewRow{
		Timestamp: g.ts,
		Distinct:  len(g.distinct[t.view.GroupBy]),
		Records:   g.records,
	}
	row.PriceA, _ = mean(FieldPriceA)
	row.PriceB, _ = mean(FieldPriceB)
	row.Ratio, _ = mean(FieldRatio)
	row.UpperBound, _ = mean(FieldUpperBound)
	row.LowerBound, _ = mean(FieldLowerBound)
	if v, ok := mean(FieldTriggerAlert); ok {
		row.TriggerAlert = &v
	}
	return row
}

// Rows returns the aggregated view ordered by timestamp.
func (t *Table) Rows() []ViewRow {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make([]ViewRow, 0, len(t.keys))
	for _, key := range t.keys {
		rows = append(rows, t.project(t.groups[key]))
	}
	return rows
}

// Row returns the merged group for ts.
func (t *Table) Row(ts time.Time) (ViewRow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	g, ok := t.groups[ts.UnixNano()]
	if !ok {
		return ViewRow{}, false
	}
	return t.project(g), true
}

// Len returns the number of groups held.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

var _ Sink = (*Table)(nil)
