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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsdp/dataplane/buffer"
	"github.com/tsdp/dataplane/transport"
	"github.com/tsdp/dataplane/types"
)

func makeFrame(t *testing.T, id string, rows, cols int) *types.IngestionFrame {
	t.Helper()
	clock, err := types.NewSamplingClock(time.Unix(1700000000, 0), time.Second, rows)
	require.NoError(t, err)
	columns := make([]*types.Column, cols)
	for c := 0; c < cols; c++ {
		values := make([]interface{}, rows)
		for r := 0; r < rows; r++ {
			values[r] = float64(c*rows + r)
		}
		columns[c] = types.NewColumn(fmt.Sprintf("sensor-%d", c), types.ValueTypeFloat64, values)
	}
	frame, err := types.NewIngestionFrame(id, clock, columns)
	require.NoError(t, err)
	return frame
}

func drainRequests(t *testing.T, buf *buffer.Buffer[*transport.IngestRequest]) []*transport.IngestRequest {
	t.Helper()
	var out []*transport.IngestRequest
	for {
		req, status := buf.Poll()
		if status != buffer.PollOK {
			return out
		}
		out = append(out, req)
	}
}

func TestProcessor_SmallFramePassesThrough(t *testing.T) {
	buf := buffer.NewCountBound[*transport.IngestRequest](64, false)
	require.NoError(t, buf.Activate())
	p := NewFrameProcessor(ProcessorConfig{MaxFrameBytes: 1 << 20}, buf)
	p.SetProviderID("prov-1")

	frame := makeFrame(t, "frame-1", 4, 2)
	require.NoError(t, p.Submit(context.Background(), frame))

	reqs := drainRequests(t, buf)
	require.Len(t, reqs, 1)
	assert.Equal(t, "frame-1", reqs[0].ClientRequestID)
	assert.Equal(t, "prov-1", reqs[0].ProviderID)
	assert.Equal(t, 4, reqs[0].Timestamps.Count())
	assert.Len(t, reqs[0].Columns, 2)
}

func TestProcessor_DecomposesOversizedFrame(t *testing.T) {
	buf := buffer.NewCountBound[*transport.IngestRequest](256, false)
	require.NoError(t, buf.Activate())

	frame := makeFrame(t, "big", 40, 1)
	budget := frame.EncodedSize()/4 + 1
	p := NewFrameProcessor(ProcessorConfig{MaxFrameBytes: budget}, buf)
	require.NoError(t, p.Submit(context.Background(), frame))

	reqs := drainRequests(t, buf)
	require.GreaterOrEqual(t, len(reqs), 2)

	// pieces carry ordered "-k/n" ids and every piece, stamp included,
	// fits the budget
	n := len(reqs)
	for k, req := range reqs {
		assert.Equal(t, fmt.Sprintf("big-%d/%d", k+1, n), req.ClientRequestID)
		assert.Equal(t, "big", RootRequestID(req.ClientRequestID))
		assert.Equal(t, n, PieceCount(req.ClientRequestID))
		assert.LessOrEqual(t, req.EncodedSize(), budget, "piece %d over budget", k+1)
	}

	// concatenating the pieces restores the original frame
	var instants []time.Time
	var values []interface{}
	for _, req := range reqs {
		for i := 0; i < req.Timestamps.Count(); i++ {
			instants = append(instants, req.Timestamps.At(i))
		}
		values = append(values, req.Columns[0].Values...)
	}
	require.Len(t, instants, frame.RowCount())
	require.Len(t, values, frame.RowCount())
	for i := 0; i < frame.RowCount(); i++ {
		assert.True(t, instants[i].Equal(frame.Timestamps.At(i)))
		assert.Equal(t, frame.Columns[0].Values[i], values[i])
	}
}

func TestProcessor_SplitsWideSingleRowByColumns(t *testing.T) {
	buf := buffer.NewCountBound[*transport.IngestRequest](256, false)
	require.NoError(t, buf.Activate())

	frame := makeFrame(t, "wide", 1, 12)
	budget := frame.EncodedSize()/3 + 1
	p := NewFrameProcessor(ProcessorConfig{MaxFrameBytes: budget}, buf)
	require.NoError(t, p.Submit(context.Background(), frame))

	reqs := drainRequests(t, buf)
	require.GreaterOrEqual(t, len(reqs), 2)

	seen := map[string]bool{}
	for _, req := range reqs {
		assert.LessOrEqual(t, req.EncodedSize(), budget)
		for _, col := range req.Columns {
			assert.False(t, seen[col.Name], "column %s appears in two pieces", col.Name)
			seen[col.Name] = true
		}
	}
	assert.Len(t, seen, 12)
}

func TestProcessor_EveryPieceFitsAcrossBudgets(t *testing.T) {
	frame := makeFrame(t, "sweep", 64, 1)
	est := frame.EncodedSize()
	for _, divisor := range []int{2, 3, 5, 9} {
		budget := est/divisor + 1
		buf := buffer.NewCountBound[*transport.IngestRequest](1024, false)
		require.NoError(t, buf.Activate())
		p := NewFrameProcessor(ProcessorConfig{MaxFrameBytes: budget}, buf)
		require.NoError(t, p.Submit(context.Background(), makeFrame(t, "sweep", 64, 1)))

		reqs := drainRequests(t, buf)
		require.GreaterOrEqual(t, len(reqs), divisor, "budget est/%d", divisor)
		total := 0
		for _, req := range reqs {
			assert.LessOrEqual(t, req.EncodedSize(), budget, "budget est/%d", divisor)
			total += req.Timestamps.Count()
		}
		assert.Equal(t, 64, total, "budget est/%d", divisor)
	}
}

func TestProcessor_SingleCellOverBudgetFails(t *testing.T) {
	buf := buffer.NewCountBound[*transport.IngestRequest](8, false)
	require.NoError(t, buf.Activate())

	clock, err := types.NewSamplingClock(time.Unix(1700000000, 0), time.Second, 1)
	require.NoError(t, err)
	col := types.NewColumn("blob", types.ValueTypeBytes, []interface{}{make([]byte, 4096)})
	frame, err := types.NewIngestionFrame("huge", clock, []*types.Column{col})
	require.NoError(t, err)

	p := NewFrameProcessor(ProcessorConfig{MaxFrameBytes: 64}, buf)
	err = p.Submit(context.Background(), frame)
	require.Error(t, err)

	failures := p.FailedDecompositions()
	require.Len(t, failures, 1)
	assert.Equal(t, "huge", failures[0].FrameID)
	assert.Empty(t, drainRequests(t, buf))
}

func TestProcessor_ConversionFailureRecorded(t *testing.T) {
	buf := buffer.NewCountBound[*transport.IngestRequest](8, false)
	require.NoError(t, buf.Activate())
	p := NewFrameProcessor(ProcessorConfig{}, buf)

	clock, err := types.NewSamplingClock(time.Unix(1700000000, 0), time.Second, 3)
	require.NoError(t, err)
	// column shorter than the axis
	bad := &types.IngestionFrame{
		RequestID:  "short",
		Timestamps: clock,
		Columns:    []*types.Column{types.NewColumn("v", types.ValueTypeFloat64, []interface{}{1.0})},
	}
	require.Error(t, p.Submit(context.Background(), bad))

	failures := p.FailedConversions()
	require.Len(t, failures, 1)
	assert.Equal(t, "short", failures[0].FrameID)
}

func TestProcessor_WorkerPoolKeepsPieceOrderPerFrame(t *testing.T) {
	buf := buffer.NewCountBound[*transport.IngestRequest](4096, false)
	require.NoError(t, buf.Activate())

	probe := makeFrame(t, "probe", 30, 1)
	budget := probe.EncodedSize()/3 + 1
	p := NewFrameProcessor(ProcessorConfig{MaxFrameBytes: budget, Workers: 4}, buf)
	p.Start()

	const frames = 20
	for i := 0; i < frames; i++ {
		require.NoError(t, p.Submit(context.Background(), makeFrame(t, fmt.Sprintf("f%02d", i), 30, 1)))
	}
	p.Close()

	reqs := drainRequests(t, buf)
	require.NotEmpty(t, reqs)

	// pieces of one frame are contiguous and ascending; frames interleave
	// freely between groups
	lastPiece := map[string]int{}
	var current string
	for _, req := range reqs {
		root := RootRequestID(req.ClientRequestID)
		k, n, ok := parsePieceSuffix(req.ClientRequestID[len(root)+1:])
		require.True(t, ok)
		require.Greater(t, n, 1)
		if root != current {
			require.Equal(t, 1, k, "frame %s restarted mid-group", root)
			current = root
		} else {
			require.Equal(t, lastPiece[root]+1, k)
		}
		lastPiece[root] = k
	}
	assert.Len(t, lastPiece, frames)
}

func TestPieceSuffixParsing(t *testing.T) {
	tests := []struct {
		id    string
		root  string
		count int
	}{
		{"frame-1", "frame-1", 1},
		{"frame-1-2/5", "frame-1", 5},
		{"plain", "plain", 1},
		{"odd-0/3", "odd-0/3", 1},
		{"odd-4/3", "odd-4/3", 1},
		{"x-1/1", "x", 1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.root, RootRequestID(tc.id), tc.id)
		assert.Equal(t, tc.count, PieceCount(tc.id), tc.id)
	}
}
