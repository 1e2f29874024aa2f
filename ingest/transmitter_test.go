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
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsdp/dataplane/transport"
	"github.com/tsdp/dataplane/types"
)

// fakeIngestClient acks every request unless reject matches its id.
type fakeIngestClient struct {
	mu     sync.Mutex
	uni    []*fakeUniStream
	bidi   []*fakeBidiStream
	reject func(id string) *transport.IngestionException
	dupFor string
}

func (c *fakeIngestClient) RegisterProvider(_ context.Context, req *transport.RegisterProviderRequest) (*transport.RegisterProviderResponse, error) {
	return &transport.RegisterProviderResponse{ProviderID: "prov-" + req.ProviderName}, nil
}

func (c *fakeIngestClient) IngestUni(context.Context) (transport.IngestUniStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeUniStream{client: c}
	c.uni = append(c.uni, s)
	return s, nil
}

func (c *fakeIngestClient) IngestBidi(context.Context) (transport.IngestBidiStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeBidiStream{client: c, respCh: make(chan *transport.IngestResponse, 1024)}
	c.bidi = append(c.bidi, s)
	return s, nil
}

func (c *fakeIngestClient) respond(id string) *transport.IngestResponse {
	resp := &transport.IngestResponse{ClientRequestID: id}
	if c.reject != nil {
		resp.Exception = c.reject(id)
	}
	return resp
}

type fakeUniStream struct {
	client *fakeIngestClient
	mu     sync.Mutex
	sent   []*transport.IngestRequest
}

func (s *fakeUniStream) Send(req *transport.IngestRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *fakeUniStream) CloseAndRecv() (*transport.IngestSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := &transport.IngestSummary{}
	for _, req := range s.sent {
		summary.Responses = append(summary.Responses, s.client.respond(req.ClientRequestID))
	}
	return summary, nil
}

type fakeBidiStream struct {
	client *fakeIngestClient
	respCh chan *transport.IngestResponse
	mu     sync.Mutex
	sent   []*transport.IngestRequest
}

func (s *fakeBidiStream) Send(req *transport.IngestRequest) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	s.respCh <- s.client.respond(req.ClientRequestID)
	if req.ClientRequestID == s.client.dupFor {
		s.respCh <- s.client.respond(req.ClientRequestID)
	}
	return nil
}

func (s *fakeBidiStream) Recv() (*transport.IngestResponse, error) {
	resp, ok := <-s.respCh
	if !ok {
		return nil, io.EOF
	}
	return resp, nil
}

func (s *fakeBidiStream) CloseSend() error {
	close(s.respCh)
	return nil
}

func testIngestionConfig(streamType string, streams int) types.IngestionConfig {
	cfg := types.DefaultConfig().Ingestion
	cfg.StreamType = streamType
	cfg.StreamCount = streams
	cfg.Logging.Enabled = false
	cfg.Concurrency.Enabled = false
	return cfg
}

func openTransmitter(t *testing.T, client *fakeIngestClient, cfg types.IngestionConfig) *Transmitter {
	t.Helper()
	tx, err := NewTransmitter(TransmitterConfig{Client: client, Ingestion: cfg})
	require.NoError(t, err)
	id, err := tx.OpenStream(context.Background(), &transport.RegisterProviderRequest{ProviderName: "test"})
	require.NoError(t, err)
	require.Equal(t, "prov-test", id)
	return tx
}

func TestTransmitter_UnidirectionalSingleFrame(t *testing.T) {
	client := &fakeIngestClient{}
	tx := openTransmitter(t, client, testIngestionConfig(types.StreamTypeUnidirectional, 1))

	frame := makeFrame(t, "frame-1", 8, 2)
	require.NoError(t, tx.Ingest(context.Background(), frame))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.CloseStream(ctx))

	assert.Equal(t, int64(1), tx.TransmissionCount())
	assert.Equal(t, []string{"frame-1"}, tx.ClientRequestIDs())

	responses := tx.IngestionResponses()
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsAck())
	assert.True(t, tx.IsFrameAcknowledged("frame-1"))
	assert.Equal(t, "prov-test", client.uni[0].sent[0].ProviderID)

	require.NoError(t, tx.Shutdown(ctx))
	assert.True(t, tx.IsShutdown())
}

func TestTransmitter_BidirectionalDecomposedFrames(t *testing.T) {
	client := &fakeIngestClient{}
	cfg := testIngestionConfig(types.StreamTypeBidirectional, 1)
	probe := makeFrame(t, "probe", 30, 1)
	cfg.MaxDecomposedBytes = probe.EncodedSize()/3 + 1
	tx := openTransmitter(t, client, cfg)

	const frames = 3
	for i := 0; i < frames; i++ {
		require.NoError(t, tx.Ingest(context.Background(), makeFrame(t, fmt.Sprintf("f%d", i), 30, 1)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.CloseStream(ctx))

	assert.GreaterOrEqual(t, tx.TransmissionCount(), int64(frames*2))
	assert.Len(t, tx.ClientRequestIDs(), frames)
	assert.Len(t, tx.IngestionResponses(), int(tx.TransmissionCount()))
	for i := 0; i < frames; i++ {
		assert.True(t, tx.IsFrameAcknowledged(fmt.Sprintf("f%d", i)), "frame f%d", i)
	}
	assert.Empty(t, tx.SendErrors())
}

func TestTransmitter_PiecesShareOneStream(t *testing.T) {
	client := &fakeIngestClient{}
	cfg := testIngestionConfig(types.StreamTypeBidirectional, 4)
	probe := makeFrame(t, "probe", 40, 1)
	cfg.MaxDecomposedBytes = probe.EncodedSize()/4 + 1
	tx := openTransmitter(t, client, cfg)

	for i := 0; i < 8; i++ {
		require.NoError(t, tx.Ingest(context.Background(), makeFrame(t, fmt.Sprintf("frame-%d", i), 40, 1)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.CloseStream(ctx))

	// every piece of one frame must sit on a single stream
	home := map[string]int{}
	for idx, s := range client.bidi {
		s.mu.Lock()
		for _, req := range s.sent {
			root := RootRequestID(req.ClientRequestID)
			if prev, ok := home[root]; ok {
				assert.Equal(t, prev, idx, "frame %s split across streams", root)
			} else {
				home[root] = idx
			}
		}
		s.mu.Unlock()
	}
	assert.Len(t, home, 8)
}

func TestTransmitter_ExceptionsCollected(t *testing.T) {
	client := &fakeIngestClient{
		reject: func(id string) *transport.IngestionException {
			if id == "bad" {
				return &transport.IngestionException{Code: 13, Message: "schema mismatch"}
			}
			return nil
		},
	}
	tx := openTransmitter(t, client, testIngestionConfig(types.StreamTypeBidirectional, 1))

	require.NoError(t, tx.Ingest(context.Background(), makeFrame(t, "good", 4, 1)))
	require.NoError(t, tx.Ingest(context.Background(), makeFrame(t, "bad", 4, 1)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.CloseStream(ctx))

	exceptions := tx.IngestionExceptions()
	require.Len(t, exceptions, 1)
	assert.Equal(t, "bad", exceptions[0].ClientRequestID)
	assert.EqualValues(t, 13, exceptions[0].Exception.Code)
	assert.False(t, tx.IsFrameAcknowledged("bad"))
	assert.True(t, tx.IsFrameAcknowledged("good"))
}

func TestTransmitter_DuplicateResponseDropped(t *testing.T) {
	client := &fakeIngestClient{dupFor: "frame-1"}
	tx := openTransmitter(t, client, testIngestionConfig(types.StreamTypeBidirectional, 1))

	require.NoError(t, tx.Ingest(context.Background(), makeFrame(t, "frame-1", 4, 1)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.CloseStream(ctx))

	assert.Len(t, tx.IngestionResponses(), 1)
	resp, ok := tx.ResponseFor("frame-1")
	require.True(t, ok)
	assert.True(t, resp.IsAck())
}

func TestTransmitter_Lifecycle(t *testing.T) {
	client := &fakeIngestClient{}
	tx, err := NewTransmitter(TransmitterConfig{
		Client:    client,
		Ingestion: testIngestionConfig(types.StreamTypeUnidirectional, 1),
	})
	require.NoError(t, err)

	// not open yet
	err = tx.Ingest(context.Background(), makeFrame(t, "early", 2, 1))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, tx.CloseStream(context.Background()), ErrNotOpen)

	_, err = tx.OpenStream(context.Background(), &transport.RegisterProviderRequest{ProviderName: "test"})
	require.NoError(t, err)
	_, err = tx.OpenStream(context.Background(), &transport.RegisterProviderRequest{ProviderName: "test"})
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.Shutdown(ctx))
	require.NoError(t, tx.Shutdown(ctx))
	assert.True(t, tx.IsShutdown())

	err = tx.Ingest(context.Background(), makeFrame(t, "late", 2, 1))
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = tx.OpenStream(context.Background(), &transport.RegisterProviderRequest{ProviderName: "test"})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestTransmitter_ShutdownNowDiscards(t *testing.T) {
	client := &fakeIngestClient{}
	tx := openTransmitter(t, client, testIngestionConfig(types.StreamTypeBidirectional, 1))

	require.NoError(t, tx.Ingest(context.Background(), makeFrame(t, "frame-1", 4, 1)))
	tx.ShutdownNow()
	assert.True(t, tx.IsShutdown())
	assert.Equal(t, 0, tx.QueueSize())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, tx.AwaitTermination(ctx))
}

func TestTransmitter_QueueObservables(t *testing.T) {
	client := &fakeIngestClient{}
	cfg := testIngestionConfig(types.StreamTypeUnidirectional, 1)
	cfg.Buffer.CapacityBytes = 1 << 20
	tx := openTransmitter(t, client, cfg)

	require.NoError(t, tx.Ingest(context.Background(), makeFrame(t, "frame-1", 8, 2)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.CloseStream(ctx))

	// drained queue reports empty
	assert.Equal(t, 0, tx.QueueSize())
	assert.EqualValues(t, 0, tx.QueueAllocation())
	assert.Equal(t, "prov-test", tx.ProviderID())
}
