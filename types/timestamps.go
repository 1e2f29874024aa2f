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
	"fmt"
	"time"
)

// Timestamps is the common interface over the two timestamp descriptor
// variants carried by frames and buckets. Implementations are immutable
// once constructed.
type Timestamps interface {
	// Count returns the number of instants described.
	Count() int
	// At returns the i-th instant. Panics if i is out of range.
	At(i int) time.Time
	// First returns the earliest instant. Zero time if Count() == 0.
	First() time.Time
	// Last returns the latest instant. Zero time if Count() == 0.
	Last() time.Time
	// Equal reports descriptor equality: same variant, same fields.
	// A clock and a list are never equal, even if they enumerate the
	// same instants.
	Equal(other Timestamps) bool
	// Slice returns the descriptor restricted to instants [lo, hi).
	Slice(lo, hi int) Timestamps
	// EncodedSize returns the structural wire size estimate in bytes.
	EncodedSize() int
}

// SamplingClock describes a uniform timestamp axis: Samples instants
// starting at Start, each Period apart.
type SamplingClock struct {
	Start   time.Time
	Period  time.Duration
	Samples int
}

// NewSamplingClock builds a clock descriptor. Period and count must be
// positive.
func NewSamplingClock(start time.Time, period time.Duration, samples int) (*SamplingClock, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sampling clock: period must be positive, got %v", period)
	}
	if samples <= 0 {
		return nil, fmt.Errorf("sampling clock: sample count must be positive, got %d", samples)
	}
	return &SamplingClock{Start: start, Period: period, Samples: samples}, nil
}

func (c *SamplingClock) Count() int { return c.Samples }

func (c *SamplingClock) At(i int) time.Time {
	if i < 0 || i >= c.Samples {
		panic(fmt.Sprintf("sampling clock: index %d out of range [0,%d)", i, c.Samples))
	}
	return c.Start.Add(time.Duration(i) * c.Period)
}

func (c *SamplingClock) First() time.Time {
	if c.Samples == 0 {
		return time.Time{}
	}
	return c.Start
}

func (c *SamplingClock) Last() time.Time {
	if c.Samples == 0 {
		return time.Time{}
	}
	return c.Start.Add(time.Duration(c.Samples-1) * c.Period)
}

// Equal compares all three clock fields. Two clocks are equal iff start,
// period and sample count all match.
func (c *SamplingClock) Equal(other Timestamps) bool {
	o, ok := other.(*SamplingClock)
	if !ok {
		return false
	}
	return c.Start.Equal(o.Start) && c.Period == o.Period && c.Samples == o.Samples
}

func (c *SamplingClock) Slice(lo, hi int) Timestamps {
	if lo < 0 || hi > c.Samples || lo > hi {
		panic(fmt.Sprintf("sampling clock: slice [%d,%d) out of range [0,%d)", lo, hi, c.Samples))
	}
	return &SamplingClock{
		Start:   c.Start.Add(time.Duration(lo) * c.Period),
		Period:  c.Period,
		Samples: hi - lo,
	}
}

// EncodedSize is the fixed wire footprint of a clock descriptor: start
// instant, period and count, eight bytes each plus framing.
func (c *SamplingClock) EncodedSize() int { return 3*8 + 2 }

func (c *SamplingClock) String() string {
	return fmt.Sprintf("clock(start=%s period=%s count=%d)",
		c.Start.Format(time.RFC3339Nano), c.Period, c.Samples)
}

// TimestampList carries every instant explicitly, in ascending order.
type TimestampList struct {
	Times []time.Time
}

// NewTimestampList builds an explicit-list descriptor. The list must be
// non-empty and strictly ascending.
func NewTimestampList(times []time.Time) (*TimestampList, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("timestamp list: empty")
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("timestamp list: instants not strictly ascending at index %d", i)
		}
	}
	cp := make([]time.Time, len(times))
	copy(cp, times)
	return &TimestampList{Times: cp}, nil
}

func (l *TimestampList) Count() int { return len(l.Times) }

func (l *TimestampList) At(i int) time.Time { return l.Times[i] }

func (l *TimestampList) First() time.Time {
	if len(l.Times) == 0 {
		return time.Time{}
	}
	return l.Times[0]
}

func (l *TimestampList) Last() time.Time {
	if len(l.Times) == 0 {
		return time.Time{}
	}
	return l.Times[len(l.Times)-1]
}

// Equal compares length and every instant in order.
func (l *TimestampList) Equal(other Timestamps) bool {
	o, ok := other.(*TimestampList)
	if !ok {
		return false
	}
	if len(l.Times) != len(o.Times) {
		return false
	}
	for i := range l.Times {
		if !l.Times[i].Equal(o.Times[i]) {
			return false
		}
	}
	return true
}

func (l *TimestampList) Slice(lo, hi int) Timestamps {
	if lo < 0 || hi > len(l.Times) || lo > hi {
		panic(fmt.Sprintf("timestamp list: slice [%d,%d) out of range [0,%d)", lo, hi, len(l.Times)))
	}
	cp := make([]time.Time, hi-lo)
	copy(cp, l.Times[lo:hi])
	return &TimestampList{Times: cp}
}

func (l *TimestampList) EncodedSize() int { return len(l.Times)*8 + 2 }

func (l *TimestampList) String() string {
	return fmt.Sprintf("list(count=%d)", len(l.Times))
}

// Overlaps reports whether the closed time domains [a.First, a.Last] and
// [b.First, b.Last] intersect.
func Overlaps(a, b Timestamps) bool {
	if a.Count() == 0 || b.Count() == 0 {
		return false
	}
	return !a.Last().Before(b.First()) && !b.Last().Before(a.First())
}
