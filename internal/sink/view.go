package sink

import (
	"fmt"
	"time"

	"ratiowatch/internal/ratio"
)

// FieldType is a column type understood by the table.
type FieldType string

const (
	Float    FieldType = "float"
	Datetime FieldType = "datetime"
)

// Aggregate is applied when rows sharing a group key are merged.
type Aggregate string

const (
	Mean          Aggregate = "avg"
	DistinctCount Aggregate = "distinct count"
)

// Column names of an analytical record.
const (
	FieldPriceA       = "price_a"
	FieldPriceB       = "price_b"
	FieldRatio        = "ratio"
	FieldTimestamp    = "timestamp"
	FieldUpperBound   = "upper_bound"
	FieldLowerBound   = "lower_bound"
	FieldTriggerAlert = "trigger_alert"
)

// View is the declarative table configuration applied once at setup.
type View struct {
	Schema     map[string]FieldType
	GroupBy    string
	Columns    []string
	Aggregates map[string]Aggregate
}

// DefaultView groups records by timestamp, averages every numeric column
// and plots the ratio against its bounds and alerts.
func DefaultView() View {
	return View{
		Schema: map[string]FieldType{
			FieldPriceA:       Float,
			FieldPriceB:       Float,
			FieldRatio:        Float,
			FieldTimestamp:    Datetime,
			FieldUpperBound:   Float,
			FieldLowerBound:   Float,
			FieldTriggerAlert: Float,
		},
		GroupBy: FieldTimestamp,
		Columns: []string{FieldRatio, FieldLowerBound, FieldUpperBound, FieldTriggerAlert},
		Aggregates: map[string]Aggregate{
			FieldPriceA:       Mean,
			FieldPriceB:       Mean,
			FieldRatio:        Mean,
			FieldTimestamp:    DistinctCount,
			FieldUpperBound:   Mean,
			FieldLowerBound:   Mean,
			FieldTriggerAlert: Mean,
		},
	}
}

// Validate checks the view references only schema fields and that every
// field has an aggregate compatible with its type.
func (v View) Validate() error {
	if len(v.Schema) == 0 {
		return fmt.Errorf("view schema is empty")
	}
	if v.Schema[v.GroupBy] != Datetime {
		return fmt.Errorf("group-by field %q must be a datetime column", v.GroupBy)
	}
	for _, col := range v.Columns {
		if _, ok := v.Schema[col]; !ok {
			return fmt.Errorf("visible column %q not in schema", col)
		}
	}
	for name, typ := range v.Schema {
		agg, ok := v.Aggregates[name]
		if !ok {
			return fmt.Errorf("field %q has no aggregate", name)
		}
		if agg == Mean && typ != Float {
			return fmt.Errorf("field %q: mean requires a float column", name)
		}
	}
	return nil
}

// Row is one record keyed by column name. A nil value means "no value".
type Row map[string]any

// ToRow maps a record onto the default column names.
func ToRow(rec ratio.Record) Row {
	row := Row{
		FieldPriceA:       rec.PriceA,
		FieldPriceB:       rec.PriceB,
		FieldRatio:        rec.Ratio,
		FieldTimestamp:    rec.Timestamp,
		FieldUpperBound:   rec.UpperBound,
		FieldLowerBound:   rec.LowerBound,
		FieldTriggerAlert: nil,
	}
	if rec.TriggerAlert != nil {
		row[FieldTriggerAlert] = *rec.TriggerAlert
	}
	return row
}

// Conform verifies the row carries exactly the schema's fields with the
// declared types. Nil is accepted for float columns only.
func (v View) Conform(row Row) error {
	if len(row) != len(v.Schema) {
		return fmt.Errorf("row has %d fields, schema declares %d", len(row), len(v.Schema))
	}
	for name, typ := range v.Schema {
		val, ok := row[name]
		if !ok {
			return fmt.Errorf("row missing field %q", name)
		}
		switch typ {
		case Float:
			if val == nil {
				continue
			}
			if _, ok := val.(float64); !ok {
				return fmt.Errorf("field %q: expected float, got %T", name, val)
			}
		case Datetime:
			if _, ok := val.(time.Time); !ok {
				return fmt.Errorf("field %q: expected datetime, got %T", name, val)
			}
		default:
			return fmt.Errorf("field %q: unknown type %q", name, typ)
		}
	}
	return nil
}

// ViewRow is one merged group of the aggregated view.
type ViewRow struct {
	Timestamp    time.Time
	Distinct     int
	Records      int
	PriceA       float64
	PriceB       float64
	Ratio        float64
	UpperBound   float64
	LowerBound   float64
	TriggerAlert *float64
}

// Value returns the aggregated value of a column, nil when absent.
func (r ViewRow) Value(column string) any {
	switch column {
	case FieldPriceA:
		return r.PriceA
	case FieldPriceB:
		return r.PriceB
	case FieldRatio:
		return r.Ratio
	case FieldTimestamp:
		return r.Distinct
	case FieldUpperBound:
		return r.UpperBound
	case FieldLowerBound:
		return r.LowerBound
	case FieldTriggerAlert:
		if r.TriggerAlert == nil {
			return nil
		}
		return *r.TriggerAlert
	}
	return nil
}
