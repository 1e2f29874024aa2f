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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tsdp/dataplane/buffer"
	"github.com/tsdp/dataplane/logger"
	"github.com/tsdp/dataplane/metrics"
	"github.com/tsdp/dataplane/transport"
	"github.com/tsdp/dataplane/types"
)

// Transmitter lifecycle errors.
var (
	ErrNotOpen     = errors.New("transmitter: stream not open")
	ErrAlreadyOpen = errors.New("transmitter: stream already open")
	ErrShutdown    = errors.New("transmitter: shut down")
)

type txState int32

const (
	txCreated txState = iota
	txOpen
	txClosed
	txTerminated
)

// TransmitterConfig configures a Transmitter.
type TransmitterConfig struct {
	Client transport.IngestionServiceClient
	// Ingestion carries stream type, stream count, buffer sizing,
	// decomposition budget, worker pool and the back-pressure mirror.
	Ingestion types.IngestionConfig
	// Metrics is optional; nil disables pipeline metrics.
	Metrics *metrics.Pipeline
}

// Transmitter drains the request buffer over 1..K forward streams and
// collects acknowledgements and exceptions. Requests that decompose from
// one frame always ride the same stream.
type Transmitter struct {
	client  transport.IngestionServiceClient
	cfg     types.IngestionConfig
	log     logger.Logger
	metrics *metrics.Pipeline

	buf       *buffer.Buffer[*transport.IngestRequest]
	processor *FrameProcessor

	mu         sync.Mutex
	state      txState
	providerID string
	requestIDs map[string]struct{}
	responses  map[string]*transport.IngestResponse
	order      []string
	sendErrs   []error

	streams []*streamWorker
	cancel  context.CancelFunc

	transmissions atomic.Int64
	wg            sync.WaitGroup
	dispatcherWG  sync.WaitGroup
}

// streamWorker owns one forward stream: a send channel drained by a
// writer goroutine and, for bidirectional streams, a reader goroutine.
type streamWorker struct {
	index  int
	sendCh chan *transport.IngestRequest
	uni    transport.IngestUniStream
	bidi   transport.IngestBidiStream
}

// NewTransmitter builds a Transmitter over the given client.
func NewTransmitter(cfg TransmitterConfig) (*Transmitter, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("transmitter: nil client")
	}
	ing := cfg.Ingestion
	if ing.StreamCount < 1 {
		return nil, fmt.Errorf("transmitter: stream count must be >= 1, got %d", ing.StreamCount)
	}
	log := logger.GetDefault()
	if !ing.Logging.Enabled {
		log = logger.NewDiscard()
	}

	sizeOf := func(r *transport.IngestRequest) int { return r.EncodedSize() }
	var buf *buffer.Buffer[*transport.IngestRequest]
	if ing.Buffer.CapacityBytes > 0 {
		buf = buffer.NewAllocBound(ing.Buffer.CapacityBytes, sizeOf, ing.Buffer.Backpressure)
	} else {
		buf = buffer.NewCountBound[*transport.IngestRequest](ing.Buffer.Capacity, ing.Buffer.Backpressure)
	}

	workers := 0
	if ing.Concurrency.Enabled {
		workers = ing.Concurrency.MaxThreads
	}
	processor := NewFrameProcessor(ProcessorConfig{
		MaxFrameBytes: ing.MaxDecomposedBytes,
		Workers:       workers,
		LogEnabled:    ing.Logging.Enabled,
	}, buf)

	return &Transmitter{
		client:     cfg.Client,
		cfg:        ing,
		log:        log,
		metrics:    cfg.Metrics,
		buf:        buf,
		processor:  processor,
		requestIDs: make(map[string]struct{}),
		responses:  make(map[string]*transport.IngestResponse),
	}, nil
}

// OpenStream registers the provider with one unary round trip, opens the
// K forward streams and starts the pipeline. Returns the provider unique
// identifier stamped into every outgoing request.
func (t *Transmitter) OpenStream(ctx context.Context, reg *transport.RegisterProviderRequest) (string, error) {
	t.mu.Lock()
	switch t.state {
	case txOpen:
		t.mu.Unlock()
		return "", ErrAlreadyOpen
	case txClosed, txTerminated:
		t.mu.Unlock()
		return "", ErrShutdown
	}
	t.mu.Unlock()

	resp, err := t.client.RegisterProvider(ctx, reg)
	if err != nil {
		return "", fmt.Errorf("transmitter: provider registration: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	streams := make([]*streamWorker, t.cfg.StreamCount)
	for i := range streams {
		w := &streamWorker{index: i, sendCh: make(chan *transport.IngestRequest, 16)}
		switch t.cfg.StreamType {
		case types.StreamTypeUnidirectional:
			w.uni, err = t.client.IngestUni(streamCtx)
		default:
			w.bidi, err = t.client.IngestBidi(streamCtx)
		}
		if err != nil {
			cancel()
			return "", fmt.Errorf("transmitter: open stream %d: %w", i, transport.MapError(err))
		}
		streams[i] = w
	}

	t.mu.Lock()
	if t.state != txCreated {
		st := t.state
		t.mu.Unlock()
		cancel()
		if st == txOpen {
			return "", ErrAlreadyOpen
		}
		return "", ErrShutdown
	}
	t.state = txOpen
	t.providerID = resp.ProviderID
	t.streams = streams
	t.cancel = cancel
	t.mu.Unlock()

	t.processor.SetProviderID(resp.ProviderID)
	t.processor.Start()
	if err := t.buf.Activate(); err != nil {
		return "", err
	}

	for _, w := range streams {
		t.startStreamWorker(w)
	}
	t.dispatcherWG.Add(1)
	go t.dispatch(streamCtx)

	t.log.Info("transmitter: provider %q registered, %d %s stream(s) open",
		resp.ProviderID, t.cfg.StreamCount, t.cfg.StreamType)
	return resp.ProviderID, nil
}

// Ingest submits one frame. With back-pressure mirroring enabled the
// call blocks until the buffer is ready to accept more load.
func (t *Transmitter) Ingest(ctx context.Context, frame *types.IngestionFrame) error {
	t.mu.Lock()
	if t.state != txOpen {
		st := t.state
		t.mu.Unlock()
		if st == txCreated {
			return ErrNotOpen
		}
		return ErrShutdown
	}
	t.requestIDs[frame.RequestID] = struct{}{}
	t.mu.Unlock()

	if t.cfg.MirrorBackpressure {
		if err := t.buf.AwaitReady(ctx); err != nil {
			return err
		}
	}
	t.metrics.FrameSubmitted()
	return t.processor.Submit(ctx, frame)
}

// dispatch routes requests from the buffer to stream workers. All pieces
// of one frame hash to the same worker.
func (t *Transmitter) dispatch(ctx context.Context) {
	defer t.dispatcherWG.Done()
	defer func() {
		for _, w := range t.currentStreams() {
			close(w.sendCh)
		}
	}()
	for {
		req, err := t.buf.Take(ctx)
		if err != nil {
			return
		}
		streams := t.currentStreams()
		h := fnv.New32a()
		_, _ = h.Write([]byte(RootRequestID(req.ClientRequestID)))
		w := streams[int(h.Sum32())%len(streams)]
		select {
		case w.sendCh <- req:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transmitter) currentStreams() []*streamWorker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams
}

// startStreamWorker launches the writer (and, for bidi, reader) of one
// stream.
func (t *Transmitter) startStreamWorker(w *streamWorker) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for req := range w.sendCh {
			var err error
			if w.uni != nil {
				err = w.uni.Send(req)
			} else {
				err = w.bidi.Send(req)
			}
			if err != nil {
				t.recordSendError(fmt.Errorf("stream %d send %s: %w", w.index, req.ClientRequestID, err))
				continue
			}
			t.transmissions.Add(1)
			t.metrics.RequestTransmitted()
		}
		// forward half-close once the tail is written
		if w.uni != nil {
			summary, err := w.uni.CloseAndRecv()
			if err != nil {
				t.recordSendError(fmt.Errorf("stream %d summary: %w", w.index, transport.MapError(err)))
				return
			}
			for _, resp := range summary.Responses {
				t.recordResponse(resp)
			}
			return
		}
		if err := w.bidi.CloseSend(); err != nil {
			t.recordSendError(fmt.Errorf("stream %d close: %w", w.index, err))
		}
	}()

	if w.bidi != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			for {
				resp, err := w.bidi.Recv()
				if err != nil {
					if err != io.EOF {
						t.recordSendError(fmt.Errorf("stream %d recv: %w", w.index, transport.MapError(err)))
					}
					return
				}
				t.recordResponse(resp)
			}
		}()
	}
}

// recordResponse stores the terminal response for one request id. At
// most one terminal response is kept per id.
func (t *Transmitter) recordResponse(resp *transport.IngestResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.responses[resp.ClientRequestID]; dup {
		t.log.Warn("transmitter: duplicate response for %s dropped", resp.ClientRequestID)
		return
	}
	t.responses[resp.ClientRequestID] = resp
	t.order = append(t.order, resp.ClientRequestID)
	if resp.IsAck() {
		t.metrics.Acknowledged()
	} else {
		t.metrics.IngestionException()
	}
}

func (t *Transmitter) recordSendError(err error) {
	t.log.Error("transmitter: %v", err)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErrs = append(t.sendErrs, err)
}

// CloseStream drains the pipeline, half-closes the forward streams and
// blocks until every response arrived or ctx expires.
func (t *Transmitter) CloseStream(ctx context.Context) error {
	t.mu.Lock()
	if t.state != txOpen {
		st := t.state
		t.mu.Unlock()
		if st == txCreated {
			return ErrNotOpen
		}
		return nil
	}
	t.state = txClosed
	t.mu.Unlock()

	t.processor.Close()
	t.buf.Shutdown()
	if err := t.buf.AwaitEmpty(ctx); err != nil {
		return err
	}
	return t.awaitWorkers(ctx)
}

// CloseStreamNow half-closes immediately, discarding the unsent tail,
// and collects whatever responses arrive before ctx expires.
func (t *Transmitter) CloseStreamNow(ctx context.Context) error {
	t.mu.Lock()
	if t.state != txOpen {
		st := t.state
		t.mu.Unlock()
		if st == txCreated {
			return ErrNotOpen
		}
		return nil
	}
	t.state = txClosed
	t.mu.Unlock()

	t.processor.Close()
	dropped := t.buf.Len()
	t.buf.ShutdownNow()
	if dropped > 0 {
		t.log.Warn("transmitter: discarded %d unsent request(s)", dropped)
	}
	return t.awaitWorkers(ctx)
}

func (t *Transmitter) awaitWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.dispatcherWG.Wait()
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown is the terminal one-way transition. It drains like
// CloseStream when the stream is still open. Calling it twice is a
// no-op.
func (t *Transmitter) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.state == txTerminated {
		t.mu.Unlock()
		return nil
	}
	open := t.state == txOpen
	t.mu.Unlock()

	if open {
		if err := t.CloseStream(ctx); err != nil {
			return err
		}
	}
	t.terminate()
	return nil
}

// ShutdownNow cancels all outstanding RPCs and discards unsent requests.
func (t *Transmitter) ShutdownNow() {
	t.mu.Lock()
	if t.state == txTerminated {
		t.mu.Unlock()
		return
	}
	t.state = txClosed
	cancel := t.cancel
	t.mu.Unlock()

	t.processor.Close()
	t.buf.ShutdownNow()
	if cancel != nil {
		cancel()
	}
	t.terminate()
}

func (t *Transmitter) terminate() {
	t.mu.Lock()
	if t.state == txTerminated {
		t.mu.Unlock()
		return
	}
	t.state = txTerminated
	cancel := t.cancel
	t.mu.Unlock()
	t.buf.ShutdownNow()
	if cancel != nil {
		cancel()
	}
	t.log.Info("transmitter: terminated, %d request(s) transmitted", t.transmissions.Load())
}

// IsShutdown reports whether the transmitter reached its terminal state.
func (t *Transmitter) IsShutdown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == txTerminated
}

// AwaitTermination blocks until all stream workers finished or ctx
// expires.
func (t *Transmitter) AwaitTermination(ctx context.Context) error {
	return t.awaitWorkers(ctx)
}

// AwaitTerminationTimeout bounds AwaitTermination with a duration.
func (t *Transmitter) AwaitTerminationTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return t.AwaitTermination(ctx)
}

// QueueSize returns the number of requests waiting in the buffer.
func (t *Transmitter) QueueSize() int { return t.buf.Len() }

// QueueAllocation returns the accounted byte size waiting in the buffer.
func (t *Transmitter) QueueAllocation() int64 { return t.buf.Allocation() }

// TransmissionCount returns the number of requests sent so far.
func (t *Transmitter) TransmissionCount() int64 { return t.transmissions.Load() }

// ProviderID returns the registered provider unique identifier.
func (t *Transmitter) ProviderID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.providerID
}

// ClientRequestIDs returns the union of frame ids offered via Ingest.
func (t *Transmitter) ClientRequestIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.requestIDs))
	for id := range t.requestIDs {
		out = append(out, id)
	}
	return out
}

// IngestionResponses returns all received acknowledgements, exceptions
// included, in arrival order.
func (t *Transmitter) IngestionResponses() []*transport.IngestResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*transport.IngestResponse, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.responses[id])
	}
	return out
}

// ResponseFor returns the terminal response for one request id.
func (t *Transmitter) ResponseFor(id string) (*transport.IngestResponse, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	resp, ok := t.responses[id]
	return resp, ok
}

// IngestionExceptions returns the subset of responses carrying an
// exception.
func (t *Transmitter) IngestionExceptions() []*transport.IngestResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*transport.IngestResponse
	for _, id := range t.order {
		if !t.responses[id].IsAck() {
			out = append(out, t.responses[id])
		}
	}
	return out
}

// IsFrameAcknowledged reports whether every piece of a frame was acked:
// an undecomposed frame needs its single response, a decomposed one all
// n pieces.
func (t *Transmitter) IsFrameAcknowledged(frameID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if resp, ok := t.responses[frameID]; ok {
		return resp.IsAck()
	}
	// look for piece responses
	n := 0
	acked := 0
	for id, resp := range t.responses {
		if RootRequestID(id) != frameID || id == frameID {
			continue
		}
		if n == 0 {
			n = PieceCount(id)
		}
		if resp.IsAck() {
			acked++
		}
	}
	return n > 0 && acked == n
}

// FailedFrameDecompositions returns the decomposition failure ledger.
func (t *Transmitter) FailedFrameDecompositions() []*DecompositionError {
	return t.processor.FailedDecompositions()
}

// FailedFrameConversions returns the conversion failure ledger.
func (t *Transmitter) FailedFrameConversions() []*ConversionError {
	return t.processor.FailedConversions()
}

// SendErrors returns transport-level send failures observed so far.
func (t *Transmitter) SendErrors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]error, len(t.sendErrs))
	copy(out, t.sendErrs)
	return out
}

// NewFrameID generates a unique client request id for callers that do
// not assign their own.
func NewFrameID() string { return uuid.NewString() }
