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
	"strconv"
	"strings"
	"sync"

	"github.com/tsdp/dataplane/buffer"
	"github.com/tsdp/dataplane/logger"
	"github.com/tsdp/dataplane/transport"
	"github.com/tsdp/dataplane/types"
)

// DecompositionError reports a frame that could not be split to fit the
// configured maximum request size.
type DecompositionError struct {
	FrameID string
	Reason  string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition of frame %q failed: %s", e.FrameID, e.Reason)
}

// ConversionError reports a frame piece that could not be converted to a
// wire request.
type ConversionError struct {
	FrameID string
	Reason  string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of frame %q failed: %s", e.FrameID, e.Reason)
}

// ProcessorConfig configures a FrameProcessor.
type ProcessorConfig struct {
	// MaxFrameBytes caps the estimated serialized size of one request;
	// zero disables decomposition.
	MaxFrameBytes int
	// Workers sizes the conversion pool; values below two process
	// inline on the submitting goroutine.
	Workers    int
	LogEnabled bool
}

// FrameProcessor converts ingestion frames into wire requests, splitting
// frames that exceed the configured byte budget. All pieces of one frame
// are emitted into the buffer as one atomic group, preserving piece
// order; distinct frames interleave freely when workers run in parallel.
type FrameProcessor struct {
	cfg ProcessorConfig
	out *buffer.Buffer[*transport.IngestRequest]
	log logger.Logger

	mu             sync.Mutex
	providerID     string
	decompFailures []*DecompositionError
	convFailures   []*ConversionError

	frameCh chan *types.IngestionFrame
	wg      sync.WaitGroup
	started bool
}

// NewFrameProcessor builds a processor emitting into out.
func NewFrameProcessor(cfg ProcessorConfig, out *buffer.Buffer[*transport.IngestRequest]) *FrameProcessor {
	log := logger.GetDefault()
	if !cfg.LogEnabled {
		log = logger.NewDiscard()
	}
	return &FrameProcessor{cfg: cfg, out: out, log: log}
}

// SetProviderID stamps the registered provider id into every request
// converted afterwards. Must be called before the first Submit.
func (p *FrameProcessor) SetProviderID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providerID = id
}

// Start launches the worker pool. A processor with fewer than two
// workers needs no Start; Submit then processes inline.
func (p *FrameProcessor) Start() {
	if p.cfg.Workers < 2 {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ch := make(chan *types.IngestionFrame, p.cfg.Workers)
	p.frameCh = ch
	p.mu.Unlock()

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for frame := range ch {
				p.process(context.Background(), frame)
			}
		}()
	}
}

// Submit hands one frame to the processor. With a worker pool running,
// the frame is queued to whichever worker frees up first; each worker
// handles a whole frame, which keeps piece order per frame id.
func (p *FrameProcessor) Submit(ctx context.Context, frame *types.IngestionFrame) error {
	p.mu.Lock()
	started := p.started
	ch := p.frameCh
	p.mu.Unlock()
	if !started {
		return p.process(ctx, frame)
	}
	select {
	case ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued frames and stops the workers. Inline processors
// have nothing to flush.
func (p *FrameProcessor) Close() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	ch := p.frameCh
	p.frameCh = nil
	p.mu.Unlock()
	close(ch)
	p.wg.Wait()
}

// process decomposes, converts and emits one frame. Failures attach to
// the frame id and never halt the pipeline.
func (p *FrameProcessor) process(ctx context.Context, frame *types.IngestionFrame) error {
	pieces, err := p.decompose(frame)
	if err != nil {
		var derr *DecompositionError
		if errors.As(err, &derr) {
			p.mu.Lock()
			p.decompFailures = append(p.decompFailures, derr)
			p.mu.Unlock()
		}
		p.log.Warn("processor: %v", err)
		return err
	}

	requests := make([]*transport.IngestRequest, 0, len(pieces))
	for _, piece := range pieces {
		req, err := p.convert(piece)
		if err != nil {
			var cerr *ConversionError
			if errors.As(err, &cerr) {
				p.mu.Lock()
				p.convFailures = append(p.convFailures, cerr)
				p.mu.Unlock()
			}
			p.log.Warn("processor: %v", err)
			return err
		}
		requests = append(requests, req)
	}
	// one atomic group per frame keeps piece order through the FIFO
	return p.out.Offer(ctx, requests...)
}

// decompose splits the frame into the smallest number of equal row
// slices whose stamped pieces all fit MaxFrameBytes. A single row that
// still exceeds the budget is split by columns.
func (p *FrameProcessor) decompose(frame *types.IngestionFrame) ([]*types.IngestionFrame, error) {
	maxBytes := p.cfg.MaxFrameBytes
	est := frame.EncodedSize()
	if maxBytes <= 0 || est <= maxBytes {
		return []*types.IngestionFrame{frame}, nil
	}

	rows := frame.RowCount()
	prevPer := 0
	for rowPieces := (est + maxBytes - 1) / maxBytes; rowPieces <= rows; rowPieces++ {
		rowsPer := (rows + rowPieces - 1) / rowPieces
		if rowsPer == prevPer {
			continue
		}
		prevPer = rowsPer
		if pieces, ok := p.rowSlices(frame, rowsPer, maxBytes); ok {
			return pieces, nil
		}
	}

	// even single rows exceed the budget somewhere: slice per row and
	// split the oversized rows vertically
	allow := pieceAllowance(frame)
	var pieces []*types.IngestionFrame
	for r := 0; r < rows; r++ {
		part := frame.RowSlice(frame.RequestID, r, r+1)
		if part.EncodedSize()+allow <= maxBytes {
			pieces = append(pieces, part)
			continue
		}
		colPieces, err := p.splitColumns(frame.RequestID, part, maxBytes, allow)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, colPieces...)
	}
	n := len(pieces)
	for k, piece := range pieces {
		piece.RequestID = fmt.Sprintf("%s-%d/%d", frame.RequestID, k+1, n)
	}
	return pieces, nil
}

// rowSlices cuts the frame into rowsPer-row pieces with their ids
// already stamped, so the size check covers the piece suffix. ok is
// false when any piece exceeds maxBytes.
func (p *FrameProcessor) rowSlices(frame *types.IngestionFrame, rowsPer, maxBytes int) ([]*types.IngestionFrame, bool) {
	rows := frame.RowCount()
	n := (rows + rowsPer - 1) / rowsPer
	pieces := make([]*types.IngestionFrame, 0, n)
	for lo := 0; lo < rows; lo += rowsPer {
		hi := lo + rowsPer
		if hi > rows {
			hi = rows
		}
		id := fmt.Sprintf("%s-%d/%d", frame.RequestID, len(pieces)+1, n)
		part := frame.RowSlice(id, lo, hi)
		if part.EncodedSize() > maxBytes {
			return nil, false
		}
		pieces = append(pieces, part)
	}
	return pieces, true
}

// pieceAllowance bounds the length of any "-k/n" stamp this frame can
// produce.
func pieceAllowance(frame *types.IngestionFrame) int {
	bound := frame.RowCount() * len(frame.Columns)
	return 2 + 2*len(strconv.Itoa(bound))
}

// splitColumns splits one single-row slice vertically into the smallest
// number of column groups that fit the budget net of the stamp
// allowance.
func (p *FrameProcessor) splitColumns(frameID string, part *types.IngestionFrame, maxBytes, allow int) ([]*types.IngestionFrame, error) {
	cols := len(part.Columns)
	prevPer := 0
	for groups := (part.EncodedSize() + maxBytes - 1) / maxBytes; groups <= cols; groups++ {
		colsPer := (cols + groups - 1) / groups
		if colsPer == prevPer {
			continue
		}
		prevPer = colsPer
		if pieces, ok := columnSlices(part, colsPer, maxBytes-allow); ok {
			return pieces, nil
		}
	}
	return nil, &DecompositionError{
		FrameID: frameID,
		Reason:  fmt.Sprintf("single cell exceeds %d bytes", maxBytes),
	}
}

// columnSlices cuts a row slice into colsPer-column pieces; ok is false
// when any piece exceeds budget.
func columnSlices(part *types.IngestionFrame, colsPer, budget int) ([]*types.IngestionFrame, bool) {
	cols := len(part.Columns)
	pieces := make([]*types.IngestionFrame, 0, (cols+colsPer-1)/colsPer)
	for lo := 0; lo < cols; lo += colsPer {
		hi := lo + colsPer
		if hi > cols {
			hi = cols
		}
		piece := part.ColumnSlice(part.RequestID, lo, hi)
		if piece.EncodedSize() > budget {
			return nil, false
		}
		pieces = append(pieces, piece)
	}
	return pieces, true
}

// convert serializes one piece into its wire request. Conversion is pure:
// byte-identical input yields byte-identical output.
func (p *FrameProcessor) convert(piece *types.IngestionFrame) (*transport.IngestRequest, error) {
	if err := piece.Validate(); err != nil {
		return nil, &ConversionError{FrameID: piece.RequestID, Reason: err.Error()}
	}
	p.mu.Lock()
	providerID := p.providerID
	p.mu.Unlock()
	return &transport.IngestRequest{
		ProviderID:      providerID,
		ClientRequestID: piece.RequestID,
		Timestamps:      piece.Timestamps,
		Columns:         piece.Columns,
	}, nil
}

// FailedDecompositions returns a snapshot of decomposition failures.
func (p *FrameProcessor) FailedDecompositions() []*DecompositionError {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*DecompositionError, len(p.decompFailures))
	copy(out, p.decompFailures)
	return out
}

// FailedConversions returns a snapshot of conversion failures.
func (p *FrameProcessor) FailedConversions() []*ConversionError {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ConversionError, len(p.convFailures))
	copy(out, p.convFailures)
	return out
}

// RootRequestID strips a piece suffix "-k/n" back to the originating
// frame id. Unsuffixed ids return unchanged.
func RootRequestID(id string) string {
	dash := strings.LastIndex(id, "-")
	if dash < 0 {
		return id
	}
	k, n, ok := parsePieceSuffix(id[dash+1:])
	if !ok || k < 1 || k > n {
		return id
	}
	return id[:dash]
}

// PieceCount extracts n from a "-k/n" piece suffix; unsuffixed ids count
// as one piece.
func PieceCount(id string) int {
	dash := strings.LastIndex(id, "-")
	if dash < 0 {
		return 1
	}
	if k, n, ok := parsePieceSuffix(id[dash+1:]); ok && k >= 1 && k <= n {
		return n
	}
	return 1
}

func parsePieceSuffix(s string) (k, n int, ok bool) {
	slash := strings.IndexByte(s, '/')
	if slash < 1 || slash == len(s)-1 {
		return 0, 0, false
	}
	k, err := strconv.Atoi(s[:slash])
	if err != nil {
		return 0, 0, false
	}
	n, err = strconv.Atoi(s[slash+1:])
	if err != nil {
		return 0, 0, false
	}
	return k, n, true
}
