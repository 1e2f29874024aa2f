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

// Package receiver implements the response side of a Query Service
// streaming RPC. A Receiver latches stream start and completion, buffers
// responses for indexed or blocking consumption and fans terminal and
// per-response events out on a typed event channel.
//
// In Bidirectional mode the receiver owns the forward stream handle: it
// sends the initial query, one cursor-next per admitted response (implicit
// flow control) and closes the handle in every terminal transition.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tsdp/dataplane/logger"
	"github.com/tsdp/dataplane/transport"
)

// StreamMode selects how the query stream is driven.
type StreamMode int

const (
	// Unidirectional uses the server-streaming query endpoint.
	Unidirectional StreamMode = iota
	// Bidirectional uses the cursor-driven bidi endpoint.
	Bidirectional
)

// String returns the mode name.
func (m StreamMode) String() string {
	if m == Bidirectional {
		return "bidirectional"
	}
	return "unidirectional"
}

// State is the receiver lifecycle state.
type State int32

const (
	Created State = iota
	Requested
	Streaming
	Completed
	Rejected
	Errored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Requested:
		return "Requested"
	case Streaming:
		return "Streaming"
	case Completed:
		return "Completed"
	case Rejected:
		return "Rejected"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// terminal reports whether the state is one of the three terminal states.
func (s State) terminal() bool {
	return s == Completed || s == Rejected || s == Errored
}

// EventKind enumerates the sealed receiver event variants.
type EventKind int

const (
	// EventStarted fires once, on the first admitted response.
	EventStarted EventKind = iota
	// EventResponse fires for every admitted response.
	EventResponse
	// EventRejected fires when the first response carries the reject
	// marker. No data is admitted afterwards.
	EventRejected
	// EventCompleted fires on normal stream completion.
	EventCompleted
	// EventError fires on a transport error.
	EventError
)

// Event is one receiver notification. Exactly one payload field matching
// Kind is set.
type Event struct {
	Kind     EventKind
	Response *transport.QueryResponse
	Reject   *transport.RejectDetail
	Err      error
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("receiver: already started")

// eventBufferSize bounds the fan-out channel so a slow subscriber cannot
// stall the receive loop.
const eventBufferSize = 256

// Config configures a Receiver at construction.
type Config struct {
	Client     transport.QueryServiceClient
	Request    *transport.QueryRequest
	Mode       StreamMode
	LogEnabled bool
}

// Receiver drives one query response stream.
type Receiver struct {
	client transport.QueryServiceClient
	req    *transport.QueryRequest
	mode   StreamMode
	log    logger.Logger

	mu        sync.Mutex
	state     State
	responses []*transport.QueryResponse
	head      int
	pageSize  int
	reject    *transport.RejectDetail
	err       error
	forward   transport.QueryCursorStream
	cancel    context.CancelFunc
	shutdown  bool

	startCh chan struct{}
	doneCh  chan struct{}
	permits chan struct{}

	evMu     sync.Mutex
	evClosed bool
	events   chan Event
}

// New builds a Receiver. The stream is not opened until Start.
func New(cfg Config) (*Receiver, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("receiver: nil client")
	}
	if cfg.Request == nil {
		return nil, fmt.Errorf("receiver: nil request")
	}
	log := logger.GetDefault()
	if !cfg.LogEnabled {
		log = logger.NewDiscard()
	}
	return &Receiver{
		client:  cfg.Client,
		req:     cfg.Request,
		mode:    cfg.Mode,
		log:     log,
		state:   Created,
		startCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		permits: make(chan struct{}, eventBufferSize),
		events:  make(chan Event, eventBufferSize),
	}, nil
}

// Start opens the stream and begins receiving. It fails with
// ErrAlreadyStarted on a second call. ctx bounds the whole stream life.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Created {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = Requested
	streamCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	switch r.mode {
	case Unidirectional:
		stream, err := r.client.Query(streamCtx, r.req)
		if err != nil {
			r.terminate(Errored, nil, transport.MapError(err))
			return transport.MapError(err)
		}
		go r.receiveLoop(stream)
	case Bidirectional:
		forward, err := r.client.QueryCursor(streamCtx)
		if err != nil {
			r.terminate(Errored, nil, transport.MapError(err))
			return transport.MapError(err)
		}
		r.mu.Lock()
		r.forward = forward
		r.mu.Unlock()
		if err := forward.Send(&transport.QueryStreamRequest{Query: r.req}); err != nil {
			mapped := transport.MapError(err)
			r.terminate(Errored, nil, mapped)
			return mapped
		}
		go r.receiveLoop(forward)
	}
	r.log.Debug("receiver: started request=%s mode=%s", r.req.RequestID, r.mode)
	return nil
}

// receiveLoop drains the backward stream until a terminal condition.
func (r *Receiver) receiveLoop(stream transport.QueryResponseStream) {
	first := true
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				r.terminate(Completed, nil, nil)
				return
			}
			r.mu.Lock()
			wasShutdown := r.shutdown
			r.mu.Unlock()
			if wasShutdown {
				r.terminate(Completed, nil, nil)
				return
			}
			r.terminate(Errored, nil, transport.MapError(err))
			return
		}

		if first && resp.IsReject() {
			r.log.Warn("receiver: request %s rejected: %s %s",
				r.req.RequestID, resp.Reject.Reason, resp.Reject.Message)
			r.terminate(Rejected, resp.Reject, nil)
			return
		}
		r.admit(resp, first)
		first = false
	}
}

// admit records one data response and performs the start transition and
// cursor pacing implied by it.
func (r *Receiver) admit(resp *transport.QueryResponse, first bool) {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.responses = append(r.responses, resp)
	var forward transport.QueryCursorStream
	if r.mode == Bidirectional {
		forward = r.forward
	}
	if first {
		r.state = Streaming
		r.pageSize = resp.EncodedSize()
		close(r.startCh)
	}
	r.mu.Unlock()

	select {
	case r.permits <- struct{}{}:
	default:
	}
	if first {
		r.emit(Event{Kind: EventStarted})
	}
	r.emit(Event{Kind: EventResponse, Response: resp})

	// one cursor-next per admitted response keeps exactly one cursor
	// outstanding
	if forward != nil {
		if err := forward.Send(&transport.QueryStreamRequest{Cursor: &transport.CursorOp{Kind: transport.CursorNext}}); err != nil {
			r.log.Warn("receiver: cursor-next failed: %v", err)
		}
	}
}

// terminate performs the single transition into a terminal state: the
// forward stream handle is closed first, then the latches release and
// subscribers are notified.
func (r *Receiver) terminate(state State, reject *transport.RejectDetail, err error) {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	started := r.state == Streaming
	r.state = state
	r.reject = reject
	r.err = err
	forward := r.forward
	r.forward = nil
	cancel := r.cancel
	r.mu.Unlock()

	// the forward handle is shut before the completion latch releases, so
	// a caller returning from AwaitCompleted observes a closed stream
	if forward != nil {
		if cerr := forward.CloseSend(); cerr != nil {
			r.log.Debug("receiver: forward close: %v", cerr)
		}
	}
	if cancel != nil && state != Completed {
		cancel()
	}
	if !started {
		close(r.startCh)
	}
	close(r.doneCh)

	switch state {
	case Completed:
		r.emit(Event{Kind: EventCompleted})
	case Rejected:
		r.emit(Event{Kind: EventRejected, Reject: reject})
	case Errored:
		r.emit(Event{Kind: EventError, Err: err})
	}
	r.closeEvents()
	r.log.Debug("receiver: request=%s terminal state=%s", r.req.RequestID, state)
}

func (r *Receiver) emit(ev Event) {
	r.evMu.Lock()
	defer r.evMu.Unlock()
	if r.evClosed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.log.Warn("receiver: event channel full, dropping %v", ev.Kind)
	}
}

func (r *Receiver) closeEvents() {
	r.evMu.Lock()
	defer r.evMu.Unlock()
	if !r.evClosed {
		r.evClosed = true
		close(r.events)
	}
}

// AwaitStart blocks until the first response arrives or the stream ends
// without one.
func (r *Receiver) AwaitStart(ctx context.Context) error {
	select {
	case <-r.startCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitCompleted blocks until the stream reaches a terminal state.
func (r *Receiver) AwaitCompleted(ctx context.Context) error {
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownNow aborts an active stream: in Bidirectional mode a
// cancellation message is sent on the forward stream first, then every
// latch is released. Returns false if the receiver was never started or
// already terminal.
func (r *Receiver) ShutdownNow() bool {
	r.mu.Lock()
	if r.state == Created || r.state.terminal() {
		r.mu.Unlock()
		return false
	}
	r.shutdown = true
	forward := r.forward
	cancel := r.cancel
	r.mu.Unlock()

	if forward != nil {
		if err := forward.Send(&transport.QueryStreamRequest{CancelReason: "client shutdown"}); err != nil {
			r.log.Debug("receiver: cancel message failed: %v", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	r.terminate(Completed, nil, nil)
	return true
}

// Events returns the subscription channel. It is closed after the
// terminal event.
func (r *Receiver) Events() <-chan Event { return r.events }

// State returns the current lifecycle state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ResponseCount returns the number of admitted responses.
func (r *Receiver) ResponseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

// Response returns the i-th admitted response, nil when out of range.
// This is the passive-buffer access mode.
func (r *Receiver) Response(i int) *transport.QueryResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.responses) {
		return nil
	}
	return r.responses[i]
}

// TakeResponse blocks for the next unconsumed response, the
// blocking-queue access mode. It returns nil once the stream is terminal
// and everything admitted has been consumed.
func (r *Receiver) TakeResponse(ctx context.Context) (*transport.QueryResponse, error) {
	for {
		r.mu.Lock()
		if r.head < len(r.responses) {
			resp := r.responses[r.head]
			r.head++
			r.mu.Unlock()
			return resp, nil
		}
		terminal := r.state.terminal()
		r.mu.Unlock()
		if terminal {
			return nil, nil
		}
		select {
		case <-r.permits:
		case <-r.doneCh:
			// re-check buffered tail before reporting exhaustion
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PageSize returns the serialized size of the first response, kept only
// as an initial pacing hint; consumers re-measure every message.
func (r *Receiver) PageSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageSize
}

// IsRequestRejected reports whether the server rejected the request.
func (r *Receiver) IsRequestRejected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Rejected
}

// RejectDetail returns the rejection detail, nil when not rejected.
func (r *Receiver) RejectDetail() *transport.RejectDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reject
}

// IsStreamCompleted reports whether the stream reached any terminal
// state.
func (r *Receiver) IsStreamCompleted() bool {
	return r.State().terminal()
}

// Err returns the stored transport error, nil unless state is Errored.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
