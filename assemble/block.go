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

// Package assemble coalesces correlated bucket sets into typed sampled
// blocks and assembles them into one ordered, disjoint aggregate.
//
// A sampled block is one tagged variant regardless of how it was built:
// clocked, explicit-list and super-domain blocks share the Block type,
// and super-domain construction is just another constructor.
package assemble

import (
	"fmt"
	"sort"
	"time"

	"github.com/tsdp/dataplane/correlate"
	"github.com/tsdp/dataplane/types"
)

// BlockKind tags the timestamp-axis variant of a block.
type BlockKind int

const (
	// Clocked blocks carry a uniform sampling clock.
	Clocked BlockKind = iota
	// ExplicitList blocks carry every instant explicitly.
	ExplicitList
	// SuperDomain blocks carry the sorted union of two fused blocks'
	// axes, with absent fill where a source was not sampled.
	SuperDomain
)

// String returns the kind name.
func (k BlockKind) String() string {
	switch k {
	case Clocked:
		return "clocked"
	case ExplicitList:
		return "explicit-list"
	case SuperDomain:
		return "super-domain"
	default:
		return "unknown"
	}
}

// Block is one contiguous tabular region of a query result: a timestamp
// axis, unique source names and one value vector per source. Nil cells
// are the absent sentinel.
type Block struct {
	id         uint64
	kind       BlockKind
	timestamps types.Timestamps
	sources    []string
	valueTypes map[string]types.ValueType
	columns    map[string][]interface{}
}

// Coalesce adopts a correlated set's descriptor and value columns,
// producing a clocked or explicit-list block. The id must be unique and
// deterministic within one assembly; the coalescer hands them out in
// arrival order.
func Coalesce(id uint64, set *correlate.CorrelatedSet) *Block {
	kind := Clocked
	if _, ok := set.Timestamps().(*types.TimestampList); ok {
		kind = ExplicitList
	}
	b := &Block{
		id:         id,
		kind:       kind,
		timestamps: set.Timestamps(),
		valueTypes: make(map[string]types.ValueType),
		columns:    make(map[string][]interface{}),
	}
	for _, bucket := range set.Buckets() {
		b.sources = append(b.sources, bucket.Source)
		b.valueTypes[bucket.Source] = bucket.Type
		b.columns[bucket.Source] = bucket.Values
	}
	return b
}

// CoalesceAll converts the sets of one fulfilled query in order.
func CoalesceAll(sets []*correlate.CorrelatedSet) []*Block {
	blocks := make([]*Block, len(sets))
	for i, set := range sets {
		blocks[i] = Coalesce(uint64(i+1), set)
	}
	return blocks
}

// ID returns the deterministic block id.
func (b *Block) ID() uint64 { return b.id }

// Kind returns the axis variant tag.
func (b *Block) Kind() BlockKind { return b.kind }

// Timestamps returns the block's timestamp axis.
func (b *Block) Timestamps() types.Timestamps { return b.timestamps }

// SourceNames returns the source names, unique within the block.
func (b *Block) SourceNames() []string {
	out := make([]string, len(b.sources))
	copy(out, b.sources)
	return out
}

// HasSource reports whether the block samples the named source.
func (b *Block) HasSource(name string) bool {
	_, ok := b.columns[name]
	return ok
}

// TypeOf returns the declared primitive type of a source.
func (b *Block) TypeOf(name string) (types.ValueType, bool) {
	t, ok := b.valueTypes[name]
	return t, ok
}

// Column returns the value vector of a source, nil when absent from the
// block. Length always equals Timestamps().Count().
func (b *Block) Column(name string) []interface{} { return b.columns[name] }

// Begin returns the start of the block's time domain.
func (b *Block) Begin() time.Time { return b.timestamps.First() }

// End returns the end of the block's time domain.
func (b *Block) End() time.Time { return b.timestamps.Last() }

// Overlaps reports whether the two blocks' closed time domains intersect.
func (b *Block) Overlaps(other *Block) bool {
	return types.Overlaps(b.timestamps, other.timestamps)
}

// RawAllocation estimates the memory held by the block's value vectors
// in bytes.
func (b *Block) RawAllocation() int {
	total := b.timestamps.EncodedSize()
	for _, name := range b.sources {
		col := types.Column{Name: name, Type: b.valueTypes[name], Values: b.columns[name]}
		total += col.EncodedSize()
	}
	return total
}

func (b *Block) String() string {
	return fmt.Sprintf("block(id=%d kind=%s sources=%d rows=%d [%s, %s])",
		b.id, b.kind, len(b.sources), b.timestamps.Count(),
		b.Begin().Format(time.RFC3339Nano), b.End().Format(time.RFC3339Nano))
}

// FuseSuperDomain fuses two blocks with overlapping time domains into one
// super-domain block: the axis is the sorted union of both axes and every
// source column is re-laid onto it, absent where not originally sampled.
// A source present in both inputs keeps a's samples where both define an
// instant. Fails when the inputs declare the same source with different
// types.
func FuseSuperDomain(id uint64, a, b *Block) (*Block, error) {
	for name, at := range a.valueTypes {
		if bt, ok := b.valueTypes[name]; ok && bt != at {
			return nil, &types.InconsistentSourceTypeError{Source: name, Want: at, Got: bt}
		}
	}

	union := unionInstants(a.timestamps, b.timestamps)
	axis := &types.TimestampList{Times: union}
	index := make(map[int64]int, len(union))
	for i, ts := range union {
		index[ts.UnixNano()] = i
	}

	fused := &Block{
		id:         id,
		kind:       SuperDomain,
		timestamps: axis,
		valueTypes: make(map[string]types.ValueType),
		columns:    make(map[string][]interface{}),
	}
	place := func(src *Block, name string) {
		col, ok := fused.columns[name]
		if !ok {
			col = make([]interface{}, len(union))
			fused.columns[name] = col
			fused.valueTypes[name] = src.valueTypes[name]
			fused.sources = append(fused.sources, name)
		}
		values := src.columns[name]
		for i := 0; i < src.timestamps.Count(); i++ {
			pos := index[src.timestamps.At(i).UnixNano()]
			if col[pos] == nil {
				col[pos] = values[i]
			}
		}
	}
	for _, name := range a.sources {
		place(a, name)
	}
	for _, name := range b.sources {
		place(b, name)
	}
	return fused, nil
}

// unionInstants merges two axes into one sorted, deduplicated instant
// list.
func unionInstants(a, b types.Timestamps) []time.Time {
	out := make([]time.Time, 0, a.Count()+b.Count())
	for i := 0; i < a.Count(); i++ {
		out = append(out, a.At(i))
	}
	for i := 0; i < b.Count(); i++ {
		out = append(out, b.At(i))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	dedup := out[:0]
	for i, ts := range out {
		if i == 0 || !ts.Equal(dedup[len(dedup)-1]) {
			dedup = append(dedup, ts)
		}
	}
	return dedup
}
