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

package buffer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// waiter is one blocked producer or consumer. Waiters are queued and
// woken in arrival order.
type waiter struct {
	ch chan struct{}
}

func newWaiter() *waiter { return &waiter{ch: make(chan struct{}, 1)} }

// Buffer is a typed FIFO with a supplying lifecycle. Capacity is either a
// message count or, when a size function is configured, the sum of
// per-message byte sizes. With back-pressure enabled, Offer blocks while
// admitting would exceed capacity; without it, Offer always admits and
// capacity only gates AwaitReady.
type Buffer[T any] struct {
	mu    sync.Mutex
	state State

	queue []T
	alloc int64

	capCount     int
	capBytes     int64
	sizeOf       func(T) int
	backpressure bool

	takers       []*waiter
	offerers     []*waiter
	readyWaiters []chan struct{}
	emptyWaiters []chan struct{}
}

// NewCountBound creates a buffer bounded by message count.
func NewCountBound[T any](capacity int, backpressure bool) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{state: Idle, capCount: capacity, backpressure: backpressure}
}

// NewAllocBound creates a buffer bounded by the summed byte size of
// queued messages, measured by sizeOf.
func NewAllocBound[T any](capacityBytes int64, sizeOf func(T) int, backpressure bool) *Buffer[T] {
	if capacityBytes < 1 {
		capacityBytes = 1
	}
	return &Buffer[T]{state: Idle, capBytes: capacityBytes, sizeOf: sizeOf, backpressure: backpressure}
}

// Activate moves the buffer from Idle to Supplying. Activating a buffer
// that already left Idle fails, except that an already Supplying buffer
// is a no-op.
func (b *Buffer[T]) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Idle:
		b.state = Supplying
		return nil
	case Supplying:
		return nil
	default:
		return ErrClosed
	}
}

// Offer admits one or more messages in order, as one contiguous group.
// It fails with ErrClosed when the buffer is not Supplying. With
// back-pressure on it blocks, in producer arrival order, until the whole
// group fits. A group too large to ever fit is admitted piecewise while
// the producer holds its place at the head of the offerer queue, so the
// group stays contiguous without the accounted load exceeding capacity;
// cancellation mid-group can leave a prefix admitted.
func (b *Buffer[T]) Offer(ctx context.Context, msgs ...T) error {
	if len(msgs) == 0 {
		return nil
	}
	var total int64
	if b.sizeOf != nil {
		for _, m := range msgs {
			total += int64(b.sizeOf(m))
		}
	}

	b.mu.Lock()
	if b.state != Supplying {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.backpressure {
		w := newWaiter()
		b.offerers = append(b.offerers, w)
		for {
			if b.state != Supplying {
				b.removeOfferer(w)
				b.kickOfferers()
				b.mu.Unlock()
				return ErrClosed
			}
			if b.offerers[0] == w {
				if b.groupOverflows(len(msgs), total) {
					return b.admitPiecewise(ctx, w, msgs)
				}
				if !b.wouldExceed(len(msgs), total) {
					b.removeOfferer(w)
					break
				}
			}
			b.mu.Unlock()
			select {
			case <-w.ch:
			case <-ctx.Done():
				b.mu.Lock()
				b.removeOfferer(w)
				b.kickOfferers()
				b.mu.Unlock()
				return ctx.Err()
			}
			b.mu.Lock()
		}
	}
	b.queue = append(b.queue, msgs...)
	b.alloc += total
	b.kickTakers()
	b.kickOfferers()
	b.mu.Unlock()
	return nil
}

// admitPiecewise feeds a larger-than-capacity group one message at a
// time as consumers free space. The caller holds the lock and sits at
// the head of the offerer queue, which it keeps until the whole group
// is in; the lock is released on return.
func (b *Buffer[T]) admitPiecewise(ctx context.Context, w *waiter, msgs []T) error {
	for _, m := range msgs {
		var sz int64
		if b.sizeOf != nil {
			sz = int64(b.sizeOf(m))
		}
		for {
			if b.state != Supplying {
				b.removeOfferer(w)
				b.kickOfferers()
				b.mu.Unlock()
				return ErrClosed
			}
			if !b.wouldExceed(1, sz) {
				break
			}
			b.mu.Unlock()
			select {
			case <-w.ch:
			case <-ctx.Done():
				b.mu.Lock()
				b.removeOfferer(w)
				b.kickOfferers()
				b.mu.Unlock()
				return ctx.Err()
			}
			b.mu.Lock()
		}
		b.queue = append(b.queue, m)
		b.alloc += sz
		b.kickTakers()
	}
	b.removeOfferer(w)
	b.kickOfferers()
	b.mu.Unlock()
	return nil
}

// Take removes and returns the head, blocking until a message is
// available or the buffer is Terminated with an empty queue. Consumers
// are served in arrival order.
func (b *Buffer[T]) Take(ctx context.Context) (T, error) {
	var zero T
	b.mu.Lock()
	w := newWaiter()
	b.takers = append(b.takers, w)
	for {
		if b.takers[0] == w && len(b.queue) > 0 {
			b.removeTaker(w)
			msg := b.pop()
			b.mu.Unlock()
			return msg, nil
		}
		if len(b.queue) == 0 && (b.state == Draining || b.state == Terminated) {
			b.terminateLocked()
			b.removeTaker(w)
			b.mu.Unlock()
			return zero, ErrTerminated
		}
		b.mu.Unlock()
		select {
		case <-w.ch:
		case <-ctx.Done():
			b.mu.Lock()
			b.removeTaker(w)
			b.kickTakers()
			b.mu.Unlock()
			return zero, ctx.Err()
		}
		b.mu.Lock()
	}
}

// Poll removes and returns the head without blocking.
func (b *Buffer[T]) Poll() (T, PollStatus) {
	var zero T
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) > 0 {
		return b.pop(), PollOK
	}
	if b.state == Draining || b.state == Terminated {
		b.terminateLocked()
		return zero, PollClosed
	}
	return zero, PollEmpty
}

// PollTimeout behaves like Take bounded by the given deadline.
func (b *Buffer[T]) PollTimeout(d time.Duration) (T, PollStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	msg, err := b.Take(ctx)
	switch {
	case err == nil:
		return msg, PollOK
	case errors.Is(err, ErrTerminated):
		return msg, PollClosed
	case errors.Is(err, context.DeadlineExceeded):
		return msg, PollEmpty
	default:
		return msg, PollCanceled
	}
}

// IsSupplying reports whether consumers can still expect messages:
// Supplying, or Draining with a non-empty queue. A consumer observing
// !IsSupplying followed by an empty poll must terminate its loop.
func (b *Buffer[T]) IsSupplying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Supplying || (b.state == Draining && len(b.queue) > 0)
}

// AwaitReady blocks until the accounted load drops below capacity or the
// buffer terminates.
func (b *Buffer[T]) AwaitReady(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.state == Terminated || b.belowCapacity() {
			b.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		b.readyWaiters = append(b.readyWaiters, ch)
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AwaitEmpty blocks until the queue is empty or the buffer terminates.
func (b *Buffer[T]) AwaitEmpty(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.state == Terminated || len(b.queue) == 0 {
			b.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		b.emptyWaiters = append(b.emptyWaiters, ch)
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown moves the buffer to Draining: producers are rejected while
// consumers drain the residue, after which the buffer terminates. An
// already empty buffer terminates immediately. Idempotent.
func (b *Buffer[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Idle, Supplying:
		b.state = Draining
		if len(b.queue) == 0 {
			b.terminateLocked()
			return
		}
		// reject producers, keep consumers moving
		b.wakeAllOfferers()
		b.kickTakers()
	case Draining, Terminated:
	}
}

// ShutdownNow terminates immediately and drops residual messages.
// Idempotent.
func (b *Buffer[T]) ShutdownNow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
	b.alloc = 0
	b.terminateLocked()
}

// IsShutdown reports whether the buffer reached its terminal state.
func (b *Buffer[T]) IsShutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Terminated
}

// State returns the current lifecycle state.
func (b *Buffer[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Len returns the number of queued messages.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Allocation returns the accounted byte size of queued messages. Zero
// for count-bounded buffers.
func (b *Buffer[T]) Allocation() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alloc
}

// pop removes the head and performs all wake-ups implied by the removal.
// Caller holds the lock and has checked len(queue) > 0.
func (b *Buffer[T]) pop() T {
	msg := b.queue[0]
	b.queue[0] = *new(T)
	b.queue = b.queue[1:]
	if b.sizeOf != nil {
		b.alloc -= int64(b.sizeOf(msg))
		if b.alloc < 0 {
			b.alloc = 0
		}
	}
	if b.belowCapacity() {
		b.wakeReadyWaiters()
	}
	if len(b.queue) == 0 {
		b.wakeEmptyWaiters()
		if b.state == Draining {
			b.terminateLocked()
		}
	}
	b.kickOfferers()
	b.kickTakers()
	return msg
}

// wouldExceed reports whether admitting n more messages of total size sz
// would exceed capacity. A single message larger than the whole byte
// capacity admits into an empty queue, otherwise its producer could
// never make progress.
func (b *Buffer[T]) wouldExceed(n int, sz int64) bool {
	if b.capBytes > 0 {
		if len(b.queue) == 0 && n == 1 && sz > b.capBytes {
			return false
		}
		return b.alloc+sz > b.capBytes
	}
	return len(b.queue)+n > b.capCount
}

// groupOverflows reports whether a group could not fit even into an
// empty buffer.
func (b *Buffer[T]) groupOverflows(n int, sz int64) bool {
	if b.capBytes > 0 {
		return sz > b.capBytes
	}
	return n > b.capCount
}

func (b *Buffer[T]) belowCapacity() bool {
	if b.capBytes > 0 {
		return b.alloc < b.capBytes
	}
	return len(b.queue) < b.capCount
}

func (b *Buffer[T]) kickTakers() {
	if len(b.takers) > 0 && len(b.queue) > 0 {
		b.signal(b.takers[0])
	}
}

func (b *Buffer[T]) kickOfferers() {
	if len(b.offerers) > 0 {
		b.signal(b.offerers[0])
	}
}

func (b *Buffer[T]) signal(w *waiter) {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (b *Buffer[T]) removeTaker(w *waiter) {
	for i, x := range b.takers {
		if x == w {
			b.takers = append(b.takers[:i], b.takers[i+1:]...)
			return
		}
	}
}

func (b *Buffer[T]) removeOfferer(w *waiter) {
	for i, x := range b.offerers {
		if x == w {
			b.offerers = append(b.offerers[:i], b.offerers[i+1:]...)
			return
		}
	}
}

func (b *Buffer[T]) wakeAllOfferers() {
	for _, w := range b.offerers {
		b.signal(w)
	}
}

func (b *Buffer[T]) wakeAllTakers() {
	for _, w := range b.takers {
		b.signal(w)
	}
}

func (b *Buffer[T]) wakeReadyWaiters() {
	for _, ch := range b.readyWaiters {
		close(ch)
	}
	b.readyWaiters = nil
}

func (b *Buffer[T]) wakeEmptyWaiters() {
	for _, ch := range b.emptyWaiters {
		close(ch)
	}
	b.emptyWaiters = nil
}

// terminateLocked is the single transition into Terminated. It releases
// every waiter class. Caller holds the lock.
func (b *Buffer[T]) terminateLocked() {
	if b.state == Terminated {
		return
	}
	b.state = Terminated
	b.wakeAllOfferers()
	b.wakeAllTakers()
	b.wakeReadyWaiters()
	b.wakeEmptyWaiters()
}
