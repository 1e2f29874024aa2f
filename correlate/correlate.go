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

// Package correlate groups raw query buckets by timestamp descriptor
// identity. Buckets sharing one descriptor within one response stream
// land in the same correlated set; a source appears at most once per set.
package correlate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tsdp/dataplane/buffer"
	"github.com/tsdp/dataplane/logger"
	"github.com/tsdp/dataplane/types"
)

// CorrelatedSet is an unordered collection of buckets that share one
// timestamp descriptor. Source names are unique within the set.
type CorrelatedSet struct {
	timestamps types.Timestamps
	buckets    []*types.RawBucket
	sources    map[string]struct{}
}

func newCorrelatedSet(b *types.RawBucket) *CorrelatedSet {
	return &CorrelatedSet{
		timestamps: b.Timestamps,
		buckets:    []*types.RawBucket{b},
		sources:    map[string]struct{}{b.Source: {}},
	}
}

// Timestamps returns the shared descriptor.
func (s *CorrelatedSet) Timestamps() types.Timestamps { return s.timestamps }

// Buckets returns the member buckets in insertion order.
func (s *CorrelatedSet) Buckets() []*types.RawBucket { return s.buckets }

// Size returns the number of member buckets.
func (s *CorrelatedSet) Size() int { return len(s.buckets) }

// HasSource reports whether the set already holds the named source.
func (s *CorrelatedSet) HasSource(name string) bool {
	_, ok := s.sources[name]
	return ok
}

// Sources returns the member source names in insertion order.
func (s *CorrelatedSet) Sources() []string {
	out := make([]string, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b.Source)
	}
	return out
}

func (s *CorrelatedSet) admit(b *types.RawBucket) {
	s.buckets = append(s.buckets, b)
	s.sources[b.Source] = struct{}{}
}

// Config configures a Correlator.
type Config struct {
	// RequestID tags malformed-bucket failures.
	RequestID string
	// Concurrency supplies the initial MaxThreads and PivotSize knobs.
	Concurrency types.ConcurrencyConfig
	LogEnabled  bool
}

// Correlator consumes raw buckets and produces correlated sets. The two
// concurrency knobs are live-tunable between query executions.
type Correlator struct {
	requestID string
	log       logger.Logger

	maxThreads atomic.Int32
	pivotSize  atomic.Int32

	mu       sync.Mutex
	sets     []*CorrelatedSet
	failures []*types.MalformedBucketError
}

// New builds a Correlator.
func New(cfg Config) *Correlator {
	log := logger.GetDefault()
	if !cfg.LogEnabled {
		log = logger.NewDiscard()
	}
	c := &Correlator{requestID: cfg.RequestID, log: log}
	threads := int32(1)
	pivot := int32(0)
	if cfg.Concurrency.Enabled {
		threads = int32(cfg.Concurrency.MaxThreads)
		pivot = int32(cfg.Concurrency.PivotSize)
	}
	c.SetMaxThreads(int(threads))
	c.SetPivotSize(int(pivot))
	return c
}

// SetMaxThreads adjusts the worker bound. Values below one are clamped.
func (c *Correlator) SetMaxThreads(n int) {
	if n < 1 {
		n = 1
	}
	c.maxThreads.Store(int32(n))
}

// MaxThreads returns the current worker bound.
func (c *Correlator) MaxThreads() int { return int(c.maxThreads.Load()) }

// SetPivotSize adjusts the minimum batch cardinality for parallel
// processing; below it, processing is serial regardless of worker count.
func (c *Correlator) SetPivotSize(n int) {
	if n < 0 {
		n = 0
	}
	c.pivotSize.Store(int32(n))
}

// PivotSize returns the current pivot.
func (c *Correlator) PivotSize() int { return int(c.pivotSize.Load()) }

// Insert correlates one bucket. Malformed buckets are recorded and
// skipped; the returned error reports that single unit only.
func (c *Correlator) Insert(b *types.RawBucket) error {
	if err := b.Validate(c.requestID); err != nil {
		var malformed *types.MalformedBucketError
		if errors.As(err, &malformed) {
			c.mu.Lock()
			c.failures = append(c.failures, malformed)
			c.mu.Unlock()
			c.log.Warn("correlator: %v", malformed)
		}
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admitLocked(b)
	return nil
}

// admitLocked places one validated bucket into the first set with an
// equal descriptor not already holding its source, or opens a new set.
func (c *Correlator) admitLocked(b *types.RawBucket) {
	for _, set := range c.sets {
		if set.timestamps.Equal(b.Timestamps) && !set.HasSource(b.Source) {
			set.admit(b)
			return
		}
	}
	c.sets = append(c.sets, newCorrelatedSet(b))
}

// InsertAll correlates a batch. When the batch reaches the pivot size and
// more than one worker is allowed, validation runs on a worker pool;
// admission stays serial so set contents remain deterministic per batch
// order.
func (c *Correlator) InsertAll(ctx context.Context, batch []*types.RawBucket) {
	threads := int(c.maxThreads.Load())
	pivot := int(c.pivotSize.Load())
	if threads <= 1 || len(batch) < pivot {
		for _, b := range batch {
			_ = c.Insert(b)
		}
		return
	}

	valid := make([]bool, len(batch))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for i, b := range batch {
		i, b := i, b
		g.Go(func() error {
			if err := b.Validate(c.requestID); err != nil {
				var malformed *types.MalformedBucketError
				if errors.As(err, &malformed) {
					c.mu.Lock()
					c.failures = append(c.failures, malformed)
					c.mu.Unlock()
				}
				return nil
			}
			valid[i] = true
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, b := range batch {
		if valid[i] {
			c.admitLocked(b)
		}
	}
}

// Consume drains raw buckets from the buffer until it terminates or ctx
// is canceled.
func (c *Correlator) Consume(ctx context.Context, buf *buffer.Buffer[*types.RawBucket]) error {
	for {
		b, err := buf.Take(ctx)
		if err != nil {
			if errors.Is(err, buffer.ErrTerminated) {
				return nil
			}
			return err
		}
		_ = c.Insert(b)
	}
}

// Sets returns a snapshot of the correlated sets.
func (c *Correlator) Sets() []*CorrelatedSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*CorrelatedSet, len(c.sets))
	copy(out, c.sets)
	return out
}

// Failures returns a snapshot of the malformed-bucket failures.
func (c *Correlator) Failures() []*types.MalformedBucketError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.MalformedBucketError, len(c.failures))
	copy(out, c.failures)
	return out
}

// Reset clears sets and failures between query executions. The tuning
// knobs survive.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = nil
	c.failures = nil
}
