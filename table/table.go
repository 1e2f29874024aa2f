/*
 * Copyright 2025 The TSDP Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package table projects an assembled aggregate into the user-visible
// rectangular view: one ordered instant vector and one named column per
// source, absent-filled where a block did not sample a source.
package table

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cast"

	"github.com/tsdp/dataplane/assemble"
	"github.com/tsdp/dataplane/types"
)

// DataTable is the row-indexed, column-named view over one aggregate.
type DataTable struct {
	timestamps []time.Time
	names      []string
	valueTypes map[string]types.ValueType
	columns    map[string][]interface{}
	index      map[string]int
}

// FromAggregate builds the table: timestamps are the concatenation of
// each block's axis in aggregate order; every column is the concatenation
// of that source's vectors, with absent fill for blocks lacking it.
func FromAggregate(agg *assemble.Aggregate) *DataTable {
	t := &DataTable{
		valueTypes: make(map[string]types.ValueType),
		columns:    make(map[string][]interface{}),
		index:      make(map[string]int),
	}

	total := agg.RowCount()
	t.timestamps = make([]time.Time, 0, total)
	for _, name := range agg.SourceNames() {
		t.names = append(t.names, name)
		t.index[name] = len(t.names) - 1
		if vt, ok := agg.TypeOf(name); ok {
			t.valueTypes[name] = vt
		}
		t.columns[name] = make([]interface{}, 0, total)
	}

	for _, block := range agg.Blocks() {
		rows := block.Timestamps().Count()
		for i := 0; i < rows; i++ {
			t.timestamps = append(t.timestamps, block.Timestamps().At(i))
		}
		for _, name := range t.names {
			col := block.Column(name)
			if col == nil {
				t.columns[name] = append(t.columns[name], make([]interface{}, rows)...)
				continue
			}
			t.columns[name] = append(t.columns[name], col...)
		}
	}
	return t
}

// RowCount returns the number of rows M.
func (t *DataTable) RowCount() int { return len(t.timestamps) }

// ColumnCount returns the number of columns N.
func (t *DataTable) ColumnCount() int { return len(t.names) }

// Timestamps returns a snapshot of the row instants.
func (t *DataTable) Timestamps() []time.Time {
	out := make([]time.Time, len(t.timestamps))
	copy(out, t.timestamps)
	return out
}

// ColumnNames returns the column names in table order.
func (t *DataTable) ColumnNames() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// GetColumnByIndex returns the i-th column as a typed Column snapshot.
func (t *DataTable) GetColumnByIndex(i int) (*types.Column, error) {
	if i < 0 || i >= len(t.names) {
		return nil, fmt.Errorf("table: column index %d out of range [0,%d)", i, len(t.names))
	}
	return t.GetColumnByName(t.names[i])
}

// GetColumnByName returns the named column as a typed Column snapshot.
func (t *DataTable) GetColumnByName(name string) (*types.Column, error) {
	col, ok := t.columns[name]
	if !ok {
		return nil, fmt.Errorf("table: unknown column %q", name)
	}
	values := make([]interface{}, len(col))
	copy(values, col)
	return types.NewColumn(name, t.valueTypes[name], values), nil
}

// ValueAt returns the cell of a column at a row; nil is the absent
// sentinel.
func (t *DataTable) ValueAt(row int, name string) (interface{}, error) {
	col, ok := t.columns[name]
	if !ok {
		return nil, fmt.Errorf("table: unknown column %q", name)
	}
	if row < 0 || row >= len(col) {
		return nil, fmt.Errorf("table: row %d out of range [0,%d)", row, len(col))
	}
	return col[row], nil
}

// IsAbsent reports whether a cell carries the absent sentinel.
func (t *DataTable) IsAbsent(row int, name string) (bool, error) {
	v, err := t.ValueAt(row, name)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// Float64At coerces the cell to float64. Absent cells fail.
func (t *DataTable) Float64At(row int, name string) (float64, error) {
	v, err := t.ValueAt(row, name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("table: %q row %d is absent", name, row)
	}
	return cast.ToFloat64E(v)
}

// Int64At coerces the cell to int64. Absent cells fail.
func (t *DataTable) Int64At(row int, name string) (int64, error) {
	v, err := t.ValueAt(row, name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("table: %q row %d is absent", name, row)
	}
	return cast.ToInt64E(v)
}

// StringAt coerces the cell to its string form; absent cells render
// empty.
func (t *DataTable) StringAt(row int, name string) (string, error) {
	v, err := t.ValueAt(row, name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return cast.ToStringE(v)
}

// Filter evaluates a boolean expression per row and returns a table of
// the matching rows. The expression sees every column by name plus "ts"
// for the row instant; absent cells appear as nil.
func (t *DataTable) Filter(expression string) (*DataTable, error) {
	program, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("table: compile filter: %w", err)
	}

	out := &DataTable{
		names:      append([]string(nil), t.names...),
		valueTypes: t.valueTypes,
		columns:    make(map[string][]interface{}),
		index:      t.index,
	}
	for _, name := range t.names {
		out.columns[name] = nil
	}

	env := make(map[string]interface{}, len(t.names)+1)
	for row := 0; row < len(t.timestamps); row++ {
		env["ts"] = t.timestamps[row]
		for _, name := range t.names {
			env[name] = t.columns[name][row]
		}
		keep, err := runFilter(program, env)
		if err != nil {
			return nil, fmt.Errorf("table: filter row %d: %w", row, err)
		}
		if !keep {
			continue
		}
		out.timestamps = append(out.timestamps, t.timestamps[row])
		for _, name := range t.names {
			out.columns[name] = append(out.columns[name], t.columns[name][row])
		}
	}
	return out, nil
}

func runFilter(program *vm.Program, env map[string]interface{}) (bool, error) {
	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	keep, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", result)
	}
	return keep, nil
}

// String renders an aligned text table.
func (t *DataTable) String() string {
	headers := append([]string{"timestamp"}, t.names...)
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	rows := make([][]string, len(t.timestamps))
	for r := range t.timestamps {
		cells := make([]string, len(headers))
		cells[0] = t.timestamps[r].Format(time.RFC3339Nano)
		for c, name := range t.names {
			v := t.columns[name][r]
			if v == nil {
				cells[c+1] = "-"
			} else {
				cells[c+1] = cast.ToString(v)
			}
		}
		for i, cell := range cells {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
		rows[r] = cells
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
		}
		sb.WriteByte('\n')
	}
	writeRow(headers)
	for _, cells := range rows {
		writeRow(cells)
	}
	return sb.String()
}
