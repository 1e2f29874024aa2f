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

package dataplane

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsdp/dataplane/receiver"
	"github.com/tsdp/dataplane/transport"
	"github.com/tsdp/dataplane/types"
)

// fakePlatform serves canned query pages and acks every ingest request.
type fakePlatform struct {
	mu     sync.Mutex
	pages  [][]*types.RawBucket
	reject *transport.RejectDetail
	sent   []*transport.IngestRequest
}

func (p *fakePlatform) Query(_ context.Context, req *transport.QueryRequest) (transport.QueryResponseStream, error) {
	return &fakePageStream{platform: p, requestID: req.RequestID}, nil
}

func (p *fakePlatform) QueryCursor(context.Context) (transport.QueryCursorStream, error) {
	return &fakeCursor{platform: p}, nil
}

func (p *fakePlatform) RegisterProvider(_ context.Context, req *transport.RegisterProviderRequest) (*transport.RegisterProviderResponse, error) {
	return &transport.RegisterProviderResponse{ProviderID: "prov-" + req.ProviderName}, nil
}

func (p *fakePlatform) IngestUni(context.Context) (transport.IngestUniStream, error) {
	return &fakeAckStream{platform: p}, nil
}

func (p *fakePlatform) IngestBidi(context.Context) (transport.IngestBidiStream, error) {
	return nil, errors.ErrUnsupported
}

func (p *fakePlatform) nextPage(requestID string) (*transport.QueryResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject != nil {
		detail := p.reject
		p.reject = nil
		return &transport.QueryResponse{RequestID: requestID, Reject: detail}, nil
	}
	if len(p.pages) == 0 {
		return nil, io.EOF
	}
	page := p.pages[0]
	p.pages = p.pages[1:]
	return &transport.QueryResponse{
		RequestID: requestID,
		Data:      &transport.QueryData{Buckets: page},
	}, nil
}

type fakePageStream struct {
	platform  *fakePlatform
	requestID string
}

func (s *fakePageStream) Recv() (*transport.QueryResponse, error) {
	return s.platform.nextPage(s.requestID)
}

type fakeCursor struct {
	platform  *fakePlatform
	requestID string
}

func (s *fakeCursor) Send(req *transport.QueryStreamRequest) error {
	if req.Query != nil {
		s.requestID = req.Query.RequestID
	}
	return nil
}

func (s *fakeCursor) Recv() (*transport.QueryResponse, error) {
	return s.platform.nextPage(s.requestID)
}

func (s *fakeCursor) CloseSend() error { return nil }

type fakeAckStream struct {
	platform *fakePlatform
	sent     []*transport.IngestRequest
}

func (s *fakeAckStream) Send(req *transport.IngestRequest) error {
	s.sent = append(s.sent, req)
	s.platform.mu.Lock()
	s.platform.sent = append(s.platform.sent, req)
	s.platform.mu.Unlock()
	return nil
}

func (s *fakeAckStream) CloseAndRecv() (*transport.IngestSummary, error) {
	summary := &transport.IngestSummary{}
	for _, req := range s.sent {
		summary.Responses = append(summary.Responses, &transport.IngestResponse{ClientRequestID: req.ClientRequestID})
	}
	return summary, nil
}

func clockBucket(t *testing.T, source string, start time.Time, samples int) *types.RawBucket {
	t.Helper()
	clock, err := types.NewSamplingClock(start, time.Second, samples)
	require.NoError(t, err)
	values := make([]interface{}, samples)
	for i := range values {
		values[i] = float64(i)
	}
	return &types.RawBucket{Source: source, Type: types.ValueTypeFloat64, Timestamps: clock, Values: values}
}

func newTestClient(t *testing.T, platform *fakePlatform, opts ...Option) *Client {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.Query.Logging.Enabled = false
	cfg.Ingestion.Logging.Enabled = false
	cfg.Ingestion.StreamType = types.StreamTypeUnidirectional
	base := []Option{WithConfig(cfg), WithServiceClients(platform, platform)}
	client, err := New("", append(base, opts...)...)
	require.NoError(t, err)
	return client
}

func TestClient_QueryAssemblesTable(t *testing.T) {
	start := time.Unix(1700000000, 0)
	platform := &fakePlatform{pages: [][]*types.RawBucket{
		{clockBucket(t, "temp", start, 4), clockBucket(t, "pressure", start, 4)},
		{clockBucket(t, "temp", start.Add(10*time.Second), 4)},
	}}
	client := newTestClient(t, platform)

	res, err := client.Query(context.Background(), []string{"temp", "pressure"}, start, start.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, res.IsRejected())
	require.NotNil(t, res.Table)
	assert.NotEmpty(t, res.RequestID)

	// 4 shared rows plus 4 temp-only rows
	assert.Equal(t, 8, res.Table.RowCount())
	assert.ElementsMatch(t, []string{"temp", "pressure"}, res.Table.ColumnNames())
	assert.Len(t, res.Aggregate.Blocks(), 2)
	assert.Empty(t, res.Malformed)

	// pressure has no samples in the second block
	absent, err := res.Table.IsAbsent(7, "pressure")
	require.NoError(t, err)
	assert.True(t, absent)
}

func TestClient_QueryUnidirectionalMode(t *testing.T) {
	start := time.Unix(1700000000, 0)
	platform := &fakePlatform{pages: [][]*types.RawBucket{
		{clockBucket(t, "temp", start, 3)},
	}}
	client := newTestClient(t, platform, WithQueryStreamMode(receiver.Unidirectional))

	res, err := client.Query(context.Background(), []string{"temp"}, start, start.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, res.Table)
	assert.Equal(t, 3, res.Table.RowCount())
}

func TestClient_QueryRejectedIsResult(t *testing.T) {
	platform := &fakePlatform{
		reject: &transport.RejectDetail{Reason: transport.RejectReasonTooLarge, Message: "range too wide"},
	}
	client := newTestClient(t, platform)

	res, err := client.Query(context.Background(), []string{"temp"}, time.Unix(0, 0), time.Unix(3600, 0))
	require.NoError(t, err)
	require.True(t, res.IsRejected())
	assert.Equal(t, transport.RejectReasonTooLarge, res.Rejected.Reason)
	assert.Nil(t, res.Table)
}

func TestClient_QueryReportsMalformedBuckets(t *testing.T) {
	start := time.Unix(1700000000, 0)
	bad := &types.RawBucket{Source: "", Type: types.ValueTypeFloat64}
	platform := &fakePlatform{pages: [][]*types.RawBucket{
		{clockBucket(t, "temp", start, 2), bad},
	}}
	client := newTestClient(t, platform)

	res, err := client.Query(context.Background(), []string{"temp"}, start, start.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, res.Table)
	require.Len(t, res.Malformed, 1)
	assert.Equal(t, 2, res.Table.RowCount())
}

func TestClient_OpenProviderIngests(t *testing.T) {
	platform := &fakePlatform{}
	client := newTestClient(t, platform)

	tx, err := client.OpenProvider(context.Background(), "farm", map[string]string{"site": "a"})
	require.NoError(t, err)
	require.Equal(t, "prov-farm", tx.ProviderID())

	clock, err := types.NewSamplingClock(time.Unix(1700000000, 0), time.Second, 2)
	require.NoError(t, err)
	frame, err := types.NewIngestionFrame("frame-1", clock,
		[]*types.Column{types.NewColumn("temp", types.ValueTypeFloat64, []interface{}{1.0, 2.0})})
	require.NoError(t, err)
	require.NoError(t, tx.Ingest(context.Background(), frame))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tx.CloseStream(ctx))
	require.NoError(t, tx.Shutdown(ctx))

	platform.mu.Lock()
	defer platform.mu.Unlock()
	require.Len(t, platform.sent, 1)
	assert.Equal(t, "prov-farm", platform.sent[0].ProviderID)
	assert.True(t, tx.IsFrameAcknowledged("frame-1"))
}

func TestClient_ConfigValidation(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.Ingestion.StreamCount = 0
	_, err := New("", WithConfig(cfg), WithServiceClients(&fakePlatform{}, &fakePlatform{}))
	require.Error(t, err)
}
