package sink

import (
	"context"
	"math"
	"testing"
	"time"

	"ratiowatch/internal/ratio"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(ts time.Time, ratioValue float64, alert bool) ratio.Record {
	rec := ratio.Record{
		PriceA:     ratioValue * 100,
		PriceB:     100,
		Ratio:      ratioValue,
		Timestamp:  ts,
		UpperBound: 1.05,
		LowerBound: 0.95,
	}
	if alert {
		v := ratioValue
		rec.TriggerAlert = &v
	}
	return rec
}

type captureListener struct {
	rows []ViewRow
}

func (c *captureListener) Publish(row ViewRow) {
	c.rows = append(c.rows, row)
}

func newTable(t *testing.T, opts ...TableOption) *Table {
	t.Helper()
	table, err := NewTable(DefaultView(), opts...)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func TestTableMergesSameTimestamp(t *testing.T) {
	table := newTable(t)
	ctx := context.Background()

	for _, rec := range []ratio.Record{
		record(t0, 1.00, false),
		record(t0, 1.10, true),
		record(t0.Add(time.Minute), 1.02, false),
	} {
		if err := Submit(ctx, table, rec); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	rows := table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rows))
	}

	first := rows[0]
	if first.Records != 2 || first.Distinct != 1 {
		t.Fatalf("expected 2 merged records with 1 distinct timestamp, got %+v", first)
	}
	if math.Abs(first.Ratio-1.05) > 1e-12 {
		t.Fatalf("expected mean ratio 1.05, got %v", first.Ratio)
	}
	if first.TriggerAlert == nil || math.Abs(*first.TriggerAlert-1.10) > 1e-12 {
		t.Fatalf("alert mean must ignore absent values, got %v", first.TriggerAlert)
	}
	if first.UpperBound != 1.05 || first.LowerBound != 0.95 {
		t.Fatalf("bounds should average to themselves, got %v/%v", first.LowerBound, first.UpperBound)
	}

	if rows[1].TriggerAlert != nil {
		t.Fatalf("group without alerts must keep trigger_alert empty, got %v", *rows[1].TriggerAlert)
	}
	if rows[1].Value(FieldTriggerAlert) != nil {
		t.Fatal("projected trigger_alert should be nil")
	}
}

func TestTableOrdersGroupsAndRetains(t *testing.T) {
	listener := &captureListener{}
	table := newTable(t, WithRetention(2), WithListener(listener))
	ctx := context.Background()

	batch := []ratio.Record{
		record(t0.Add(2*time.Minute), 1, false),
		record(t0, 1, false),
		record(t0.Add(time.Minute), 1, false),
	}
	if err := table.Update(ctx, batch); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if table.Len() != 2 {
		t.Fatalf("expected retention of 2 groups, got %d", table.Len())
	}
	rows := table.Rows()
	if !rows[0].Timestamp.Equal(t0.Add(time.Minute)) || !rows[1].Timestamp.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("unexpected group order: %v, %v", rows[0].Timestamp, rows[1].Timestamp)
	}
	if _, ok := table.Row(t0); ok {
		t.Fatal("oldest group should have been evicted")
	}
	if len(listener.rows) != 2 {
		t.Fatalf("listener should see surviving groups only, got %d", len(listener.rows))
	}
}

func TestTableToleratesNonFinite(t *testing.T) {
	table := newTable(t)
	rec := record(t0, math.Inf(1), true)
	rec.PriceB = 0

	if err := Submit(context.Background(), table, rec); err != nil {
		t.Fatalf("non-finite record should be accepted: %v", err)
	}
	row, ok := table.Row(t0)
	if !ok {
		t.Fatal("group missing")
	}
	if !math.IsInf(row.Ratio, 1) || row.TriggerAlert == nil || !math.IsInf(*row.TriggerAlert, 1) {
		t.Fatalf("expected +Inf to propagate, got %+v", row)
	}
}

func TestViewValidate(t *testing.T) {
	if err := DefaultView().Validate(); err != nil {
		t.Fatalf("default view invalid: %v", err)
	}

	bad := DefaultView()
	bad.GroupBy = FieldRatio
	if err := bad.Validate(); err == nil {
		t.Fatal("grouping by a float column should fail")
	}

	bad = DefaultView()
	bad.Columns = append(bad.Columns, "spread")
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown visible column should fail")
	}

	bad = DefaultView()
	bad.Aggregates[FieldTimestamp] = Mean
	if err := bad.Validate(); err == nil {
		t.Fatal("mean over datetime should fail")
	}
}

func TestViewConform(t *testing.T) {
	view := DefaultView()
	row := ToRow(record(t0, 1, false))
	if err := view.Conform(row); err != nil {
		t.Fatalf("record row should conform: %v", err)
	}
	if row[FieldTriggerAlert] != nil {
		t.Fatal("absent alert must map to nil, not zero")
	}

	delete(row, FieldPriceA)
	if err := view.Conform(row); err == nil {
		t.Fatal("missing field should fail")
	}

	row = ToRow(record(t0, 1, false))
	row[FieldTimestamp] = "2024-03-01"
	if err := view.Conform(row); err == nil {
		t.Fatal("string timestamp should fail")
	}

	if got := view.Columns; len(got) != 4 || got[0] != FieldRatio || got[3] != FieldTriggerAlert {
		t.Fatalf("unexpected visible columns %v", got)
	}
}
