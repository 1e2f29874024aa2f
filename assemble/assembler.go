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

package assemble

import (
	"sort"
	"time"

	"github.com/tsdp/dataplane/logger"
	"github.com/tsdp/dataplane/types"
)

// Aggregate is the ordered, disjoint sequence of sampled blocks
// representing one fulfilled query.
type Aggregate struct {
	blocks     []*Block
	sources    []string
	valueTypes map[string]types.ValueType
}

// Blocks returns the blocks in start-instant order.
func (a *Aggregate) Blocks() []*Block {
	out := make([]*Block, len(a.blocks))
	copy(out, a.blocks)
	return out
}

// SourceNames returns the union of source names across all blocks, in
// first-appearance order.
func (a *Aggregate) SourceNames() []string {
	out := make([]string, len(a.sources))
	copy(out, a.sources)
	return out
}

// TypeOf returns the aggregate-wide declared type of a source.
func (a *Aggregate) TypeOf(name string) (types.ValueType, bool) {
	t, ok := a.valueTypes[name]
	return t, ok
}

// RowCount returns the total number of instants across all blocks.
func (a *Aggregate) RowCount() int {
	n := 0
	for _, b := range a.blocks {
		n += b.Timestamps().Count()
	}
	return n
}

// BlockContaining returns the block whose time domain covers the instant,
// nil when no block does.
func (a *Aggregate) BlockContaining(ts time.Time) *Block {
	for _, b := range a.blocks {
		if !ts.Before(b.Begin()) && !ts.After(b.End()) {
			return b
		}
	}
	return nil
}

// Assembler orders blocks, restores disjointness through super-domain
// fusion and verifies aggregate invariants.
type Assembler struct {
	log logger.Logger
}

// NewAssembler builds an Assembler.
func NewAssembler(logEnabled bool) *Assembler {
	log := logger.GetDefault()
	if !logEnabled {
		log = logger.NewDiscard()
	}
	return &Assembler{log: log}
}

// Assemble produces the aggregate for one query:
//
//  1. blocks are stable-sorted by start instant, ties broken by end
//     instant ascending, then by block id;
//  2. adjacent overlapping pairs are fused into super-domain blocks
//     until a fixpoint;
//  3. every source must declare one type across all blocks;
//  4. ordering and pairwise disjointness are verified.
func (a *Assembler) Assemble(blocks []*Block) (*Aggregate, error) {
	ordered := make([]*Block, len(blocks))
	copy(ordered, blocks)
	sortBlocks(ordered)

	// fuse to fixpoint; fused ids extend the input id space so repeated
	// fusion stays deterministic
	nextID := uint64(0)
	for _, b := range ordered {
		if b.id > nextID {
			nextID = b.id
		}
	}
	for {
		fusedAny := false
		for i := 0; i+1 < len(ordered); i++ {
			if !ordered[i].Overlaps(ordered[i+1]) {
				continue
			}
			nextID++
			fused, err := FuseSuperDomain(nextID, ordered[i], ordered[i+1])
			if err != nil {
				return nil, err
			}
			a.log.Debug("assembler: fused blocks %d and %d into super-domain %d",
				ordered[i].id, ordered[i+1].id, fused.id)
			ordered = append(ordered[:i], append([]*Block{fused}, ordered[i+2:]...)...)
			fusedAny = true
			break
		}
		if !fusedAny {
			break
		}
		sortBlocks(ordered)
	}

	agg := &Aggregate{blocks: ordered, valueTypes: make(map[string]types.ValueType)}
	for _, b := range ordered {
		for _, name := range b.sources {
			declared, seen := agg.valueTypes[name]
			if !seen {
				agg.valueTypes[name] = b.valueTypes[name]
				agg.sources = append(agg.sources, name)
				continue
			}
			if declared != b.valueTypes[name] {
				return nil, &types.InconsistentSourceTypeError{
					Source: name,
					Want:   declared,
					Got:    b.valueTypes[name],
				}
			}
		}
	}

	if err := verifyIntegrity(ordered); err != nil {
		return nil, err
	}
	return agg, nil
}

func sortBlocks(blocks []*Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		bi, bj := blocks[i], blocks[j]
		if !bi.Begin().Equal(bj.Begin()) {
			return bi.Begin().Before(bj.Begin())
		}
		if !bi.End().Equal(bj.End()) {
			return bi.End().Before(bj.End())
		}
		return bi.id < bj.id
	})
}

func verifyIntegrity(blocks []*Block) error {
	for i := 0; i+1 < len(blocks); i++ {
		cur, next := blocks[i], blocks[i+1]
		if next.Begin().Before(cur.Begin()) {
			return &types.AggregateIntegrityError{Reason: "block start instants out of order"}
		}
		if cur.Overlaps(next) {
			return &types.AggregateIntegrityError{Reason: "block time domains overlap after fusion"}
		}
	}
	return nil
}
