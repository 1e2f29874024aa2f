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

package types

import "fmt"

// ValueType identifies the homogeneous primitive type of a value column.
type ValueType int

const (
	ValueTypeBool ValueType = iota
	ValueTypeInt8
	ValueTypeInt16
	ValueTypeInt32
	ValueTypeInt64
	ValueTypeFloat32
	ValueTypeFloat64
	ValueTypeString
	ValueTypeBytes
	ValueTypeArray
)

// String returns the wire name of the value type.
func (t ValueType) String() string {
	switch t {
	case ValueTypeBool:
		return "bool"
	case ValueTypeInt8:
		return "int8"
	case ValueTypeInt16:
		return "int16"
	case ValueTypeInt32:
		return "int32"
	case ValueTypeInt64:
		return "int64"
	case ValueTypeFloat32:
		return "float32"
	case ValueTypeFloat64:
		return "float64"
	case ValueTypeString:
		return "string"
	case ValueTypeBytes:
		return "bytes"
	case ValueTypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// width returns the per-sample wire footprint estimate in bytes. Variable
// width kinds report a nominal size; EncodedSize measures those per cell.
func (t ValueType) width() int {
	switch t {
	case ValueTypeBool, ValueTypeInt8:
		return 1
	case ValueTypeInt16:
		return 2
	case ValueTypeInt32, ValueTypeFloat32:
		return 4
	case ValueTypeInt64, ValueTypeFloat64:
		return 8
	default:
		return 0
	}
}

// Column is a named, homogeneously typed value vector. A nil cell is the
// absent sentinel.
type Column struct {
	Name   string
	Type   ValueType
	Values []interface{}
}

// NewColumn builds a column over the given values. Values are not copied;
// the column takes ownership.
func NewColumn(name string, typ ValueType, values []interface{}) *Column {
	return &Column{Name: name, Type: typ, Values: values}
}

// Len returns the number of cells, absent cells included.
func (c *Column) Len() int { return len(c.Values) }

// IsAbsent reports whether the i-th cell carries the absent sentinel.
func (c *Column) IsAbsent(i int) bool { return c.Values[i] == nil }

// Slice returns a column over rows [lo, hi). The cell slice is copied so
// the result does not alias the parent.
func (c *Column) Slice(lo, hi int) *Column {
	cp := make([]interface{}, hi-lo)
	copy(cp, c.Values[lo:hi])
	return &Column{Name: c.Name, Type: c.Type, Values: cp}
}

// EncodedSize returns the structural wire size estimate for the column:
// name, type tag and every cell at its typed width. Variable-width cells
// are measured individually.
func (c *Column) EncodedSize() int {
	size := len(c.Name) + 2
	if w := c.Type.width(); w > 0 {
		return size + w*len(c.Values)
	}
	for _, v := range c.Values {
		switch x := v.(type) {
		case nil:
			size++
		case string:
			size += len(x) + 2
		case []byte:
			size += len(x) + 2
		case []interface{}:
			size += len(x)*8 + 2
		default:
			size += 8
		}
	}
	return size
}

// Validate checks the column against an expected row count.
func (c *Column) Validate(rows int) error {
	if c.Name == "" {
		return fmt.Errorf("column: empty name")
	}
	if len(c.Values) != rows {
		return fmt.Errorf("column %q: %d values for %d rows", c.Name, len(c.Values), rows)
	}
	return nil
}
