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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplingClock_Basics(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock, err := NewSamplingClock(start, time.Second, 5)
	require.NoError(t, err)

	assert.Equal(t, 5, clock.Count())
	assert.True(t, clock.First().Equal(start))
	assert.True(t, clock.Last().Equal(start.Add(4*time.Second)))
	assert.True(t, clock.At(2).Equal(start.Add(2*time.Second)))

	_, err = NewSamplingClock(start, 0, 5)
	assert.Error(t, err)
	_, err = NewSamplingClock(start, time.Second, 0)
	assert.Error(t, err)
}

func TestTimestampList_RejectsUnordered(t *testing.T) {
	start := time.Unix(1700000000, 0)
	_, err := NewTimestampList([]time.Time{start, start})
	assert.Error(t, err)
	_, err = NewTimestampList([]time.Time{start.Add(time.Second), start})
	assert.Error(t, err)
	_, err = NewTimestampList(nil)
	assert.Error(t, err)
}

func TestTimestamps_DescriptorEquality(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock, err := NewSamplingClock(start, time.Second, 3)
	require.NoError(t, err)
	sameClock, err := NewSamplingClock(start, time.Second, 3)
	require.NoError(t, err)
	otherClock, err := NewSamplingClock(start, 2*time.Second, 3)
	require.NoError(t, err)

	// a list covering the exact same instants is still a different
	// descriptor
	list, err := NewTimestampList([]time.Time{start, start.Add(time.Second), start.Add(2 * time.Second)})
	require.NoError(t, err)
	sameList, err := NewTimestampList([]time.Time{start, start.Add(time.Second), start.Add(2 * time.Second)})
	require.NoError(t, err)

	assert.True(t, clock.Equal(sameClock))
	assert.False(t, clock.Equal(otherClock))
	assert.False(t, clock.Equal(list))
	assert.False(t, list.Equal(clock))
	assert.True(t, list.Equal(sameList))
}

func TestTimestamps_Slice(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock, err := NewSamplingClock(start, time.Second, 10)
	require.NoError(t, err)

	mid := clock.Slice(3, 7)
	assert.Equal(t, 4, mid.Count())
	assert.True(t, mid.First().Equal(start.Add(3*time.Second)))
	assert.True(t, mid.Last().Equal(start.Add(6*time.Second)))

	list, err := NewTimestampList([]time.Time{start, start.Add(time.Minute), start.Add(time.Hour)})
	require.NoError(t, err)
	tail := list.Slice(1, 3)
	assert.Equal(t, 2, tail.Count())
	assert.True(t, tail.First().Equal(start.Add(time.Minute)))
}

func TestOverlaps(t *testing.T) {
	start := time.Unix(1700000000, 0)
	mk := func(offset time.Duration, samples int) Timestamps {
		c, err := NewSamplingClock(start.Add(offset), time.Second, samples)
		require.NoError(t, err)
		return c
	}
	a := mk(0, 10)           // [0s, 9s]
	b := mk(5*time.Second, 10) // [5s, 14s]
	c := mk(20*time.Second, 5) // [20s, 24s]

	assert.True(t, Overlaps(a, b))
	assert.True(t, Overlaps(b, a))
	assert.False(t, Overlaps(a, c))
	// touching endpoints overlap
	d := mk(9*time.Second, 3)
	assert.True(t, Overlaps(a, d))
}

func TestIngestionFrame_Slicing(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock, err := NewSamplingClock(start, time.Second, 6)
	require.NoError(t, err)
	frame, err := NewIngestionFrame("f", clock, []*Column{
		NewColumn("a", ValueTypeFloat64, []interface{}{0.0, 1.0, 2.0, 3.0, 4.0, 5.0}),
		NewColumn("b", ValueTypeInt64, []interface{}{int64(0), int64(1), int64(2), int64(3), int64(4), int64(5)}),
	})
	require.NoError(t, err)

	rows := frame.RowSlice("f-rows", 2, 5)
	assert.Equal(t, "f-rows", rows.RequestID)
	assert.Equal(t, 3, rows.RowCount())
	assert.True(t, rows.Timestamps.First().Equal(start.Add(2*time.Second)))
	assert.Equal(t, 2.0, rows.Columns[0].Values[0])
	require.NoError(t, rows.Validate())

	cols := frame.ColumnSlice("f-cols", 1, 2)
	assert.Equal(t, 6, cols.RowCount())
	require.Len(t, cols.Columns, 1)
	assert.Equal(t, "b", cols.Columns[0].Name)
	require.NoError(t, cols.Validate())
}

func TestIngestionFrame_Validate(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock, err := NewSamplingClock(start, time.Second, 3)
	require.NoError(t, err)

	_, err = NewIngestionFrame("", clock, []*Column{NewColumn("a", ValueTypeFloat64, []interface{}{1.0, 2.0, 3.0})})
	assert.Error(t, err)

	_, err = NewIngestionFrame("f", clock, nil)
	assert.Error(t, err)

	_, err = NewIngestionFrame("f", clock, []*Column{NewColumn("a", ValueTypeFloat64, []interface{}{1.0})})
	assert.Error(t, err)
}

func TestRawBucket_Validate(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clock, err := NewSamplingClock(start, time.Second, 2)
	require.NoError(t, err)

	good := &RawBucket{Source: "s", Type: ValueTypeFloat64, Timestamps: clock, Values: []interface{}{1.0, 2.0}}
	assert.NoError(t, good.Validate("req"))

	tests := []struct {
		name   string
		bucket *RawBucket
	}{
		{"empty source", &RawBucket{Type: ValueTypeFloat64, Timestamps: clock, Values: []interface{}{1.0, 2.0}}},
		{"nil descriptor", &RawBucket{Source: "s", Type: ValueTypeFloat64, Values: []interface{}{1.0, 2.0}}},
		{"count mismatch", &RawBucket{Source: "s", Type: ValueTypeFloat64, Timestamps: clock, Values: []interface{}{1.0}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.bucket.Validate("req")
			require.Error(t, err)
			var merr *MalformedBucketError
			assert.ErrorAs(t, err, &merr)
			assert.Equal(t, "req", merr.RequestID)
		})
	}
}
