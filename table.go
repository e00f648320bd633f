package hmibox

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Record is one row of loosely-typed data, as it arrives from a JSON body or
// the interactive caller.
type Record = map[string]any

// Table is the normalized tabular shape the analyzer works on: named columns
// over a fixed number of rows. Cells that were absent or non-numeric in the
// source records are NaN.
type Table struct {
	columns []string
	cols    map[string]*column
	rows    int
}

type column struct {
	values  []float64 // present numeric values, in row order
	present int       // number of rows with any value at all
	numeric bool      // false once a present value fails numeric conversion
}

// Columns returns the column names in table order: first appearance across
// the record sequence, keys within one record visited in sorted order.
func (t *Table) Columns() []string {
	return t.columns
}

// Rows returns the number of rows in the table.
func (t *Table) Rows() int {
	return t.rows
}

// NumericValues returns the present numeric values of a column in row order,
// and whether the column counts as numeric (every present value converted).
func (t *Table) NumericValues(name string) ([]float64, bool) {
	c, ok := t.cols[name]
	if !ok || !c.numeric || c.present == 0 {
		return nil, false
	}
	return c.values, true
}

// NewTable builds a table directly from named columns of float64 series, the
// shape the streaming pipeline produces. Series may have differing lengths;
// the row count is the longest one.
func NewTable(names []string, series [][]float64) *Table {
	t := &Table{cols: make(map[string]*column, len(names))}
	for i, name := range names {
		var values []float64
		if i < len(series) {
			values = series[i]
		}
		t.columns = append(t.columns, name)
		t.cols[name] = &column{values: values, present: len(values), numeric: true}
		if len(values) > t.rows {
			t.rows = len(values)
		}
	}
	return t
}

// Normalize converts the analyzer's accepted input shapes into a Table:
//
//   - a single Record becomes a one-row table;
//   - a slice of Records (or a []any of records, as produced by decoding a
//     JSON array) becomes a multi-row table over the union of keys, with
//     missing cells treated as absent.
//
// Anything else is a shape error.
func Normalize(data any) (*Table, error) {
	switch v := data.(type) {
	case Record:
		return tableFromRecords([]Record{v})
	case []Record:
		return tableFromRecords(v)
	case []any:
		records := make([]Record, 0, len(v))
		for i, elem := range v {
			record, ok := elem.(Record)
			if !ok {
				return nil, fmt.Errorf("cannot normalize input: element %d is %T, not a record", i, elem)
			}
			records = append(records, record)
		}
		return tableFromRecords(records)
	case nil:
		return nil, fmt.Errorf("cannot normalize nil input")
	default:
		return nil, fmt.Errorf("cannot normalize input of type %T into a table", data)
	}
}

func tableFromRecords(records []Record) (*Table, error) {
	t := &Table{cols: make(map[string]*column), rows: len(records)}

	for _, record := range records {
		keys := make([]string, 0, len(record))
		for k := range record {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if _, ok := t.cols[k]; !ok {
				t.columns = append(t.columns, k)
				t.cols[k] = &column{numeric: true}
			}
		}
	}

	for _, record := range records {
		for _, name := range t.columns {
			raw, ok := record[name]
			if !ok || raw == nil {
				continue
			}
			if f, isFloat := raw.(float64); isFloat && math.IsNaN(f) {
				// NaN is a missing cell, not a value.
				continue
			}
			c := t.cols[name]
			c.present++
			value, ok := toFloat(raw)
			if !ok {
				c.numeric = false
				continue
			}
			c.values = append(c.values, value)
		}
	}

	return t, nil
}

// toFloat converts the numeric types that survive JSON decoding and the ones
// callers hand over directly.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
