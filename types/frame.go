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

// IngestionFrame is a caller-submitted, time-stamped tabular payload.
// Ownership passes to the library on submission; the caller must not
// mutate the frame afterwards.
type IngestionFrame struct {
	// RequestID is the unique client-assigned identifier acknowledged by
	// the Ingestion Service.
	RequestID string
	// Timestamps is the single timestamp axis shared by all columns.
	Timestamps Timestamps
	// Columns in submission order. Every column has exactly
	// Timestamps.Count() rows.
	Columns []*Column
}

// NewIngestionFrame builds and validates a frame.
func NewIngestionFrame(requestID string, ts Timestamps, columns []*Column) (*IngestionFrame, error) {
	f := &IngestionFrame{RequestID: requestID, Timestamps: ts, Columns: columns}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the frame invariant: timestamp count equals row count
// in every column, and column names are unique.
func (f *IngestionFrame) Validate() error {
	if f.RequestID == "" {
		return fmt.Errorf("ingestion frame: empty request id")
	}
	if f.Timestamps == nil || f.Timestamps.Count() == 0 {
		return fmt.Errorf("ingestion frame %s: empty timestamp axis", f.RequestID)
	}
	if len(f.Columns) == 0 {
		return fmt.Errorf("ingestion frame %s: no columns", f.RequestID)
	}
	rows := f.Timestamps.Count()
	seen := make(map[string]struct{}, len(f.Columns))
	for _, col := range f.Columns {
		if err := col.Validate(rows); err != nil {
			return fmt.Errorf("ingestion frame %s: %w", f.RequestID, err)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("ingestion frame %s: duplicate column %q", f.RequestID, col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

// RowCount returns the number of rows, equal to the timestamp count.
func (f *IngestionFrame) RowCount() int { return f.Timestamps.Count() }

// EncodedSize returns the structural wire size estimate of the frame.
func (f *IngestionFrame) EncodedSize() int {
	size := len(f.RequestID) + f.Timestamps.EncodedSize()
	for _, col := range f.Columns {
		size += col.EncodedSize()
	}
	return size
}

// RowSlice returns a frame over rows [lo, hi), all columns retained.
// The caller assigns the piece its own request id.
func (f *IngestionFrame) RowSlice(requestID string, lo, hi int) *IngestionFrame {
	cols := make([]*Column, len(f.Columns))
	for i, col := range f.Columns {
		cols[i] = col.Slice(lo, hi)
	}
	return &IngestionFrame{
		RequestID:  requestID,
		Timestamps: f.Timestamps.Slice(lo, hi),
		Columns:    cols,
	}
}

// ColumnSlice returns a frame over columns [lo, hi), all rows retained.
func (f *IngestionFrame) ColumnSlice(requestID string, lo, hi int) *IngestionFrame {
	cols := make([]*Column, hi-lo)
	copy(cols, f.Columns[lo:hi])
	return &IngestionFrame{
		RequestID:  requestID,
		Timestamps: f.Timestamps,
		Columns:    cols,
	}
}
