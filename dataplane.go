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
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tsdp/dataplane/assemble"
	"github.com/tsdp/dataplane/buffer"
	"github.com/tsdp/dataplane/correlate"
	"github.com/tsdp/dataplane/ingest"
	"github.com/tsdp/dataplane/logger"
	"github.com/tsdp/dataplane/metrics"
	"github.com/tsdp/dataplane/receiver"
	"github.com/tsdp/dataplane/table"
	"github.com/tsdp/dataplane/transport"
	"github.com/tsdp/dataplane/types"
)

// Client is the entry point of the data plane. One Client multiplexes
// any number of queries and provider ingestion sessions over a single
// channel to the platform.
type Client struct {
	cfg     types.Config
	log     logger.Logger
	metrics *metrics.Pipeline

	conn      *transport.Conn
	query     transport.QueryServiceClient
	ingestion transport.IngestionServiceClient

	queryMode receiver.StreamMode
}

// New connects to the platform endpoint and returns a ready Client.
func New(endpoint string, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:       types.DefaultConfig(),
		log:       logger.GetDefault(),
		queryMode: receiver.Bidirectional,
	}
	channel := transport.DefaultChannelOptions()
	for _, opt := range opts {
		opt(c, &channel)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.query == nil || c.ingestion == nil {
		conn, err := transport.Dial(endpoint, channel)
		if err != nil {
			return nil, err
		}
		c.conn = conn
		c.query = conn.QueryClient()
		c.ingestion = conn.IngestionClient()
	}
	return c, nil
}

// Close releases the underlying channel. Sessions opened from this
// client stop working afterwards.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Config returns the effective configuration.
func (c *Client) Config() types.Config { return c.cfg }

// OpenProvider registers a data provider and opens its ingestion
// pipeline. The returned transmitter is ready to accept frames.
func (c *Client) OpenProvider(ctx context.Context, name string, attributes map[string]string) (*ingest.Transmitter, error) {
	tx, err := ingest.NewTransmitter(ingest.TransmitterConfig{
		Client:    c.ingestion,
		Ingestion: c.cfg.Ingestion,
		Metrics:   c.metrics,
	})
	if err != nil {
		return nil, err
	}
	if _, err := tx.OpenStream(ctx, &transport.RegisterProviderRequest{
		ProviderName: name,
		Attributes:   attributes,
	}); err != nil {
		return nil, err
	}
	return tx, nil
}

// QueryResult is the terminal outcome of one query. Rejection is a
// result, not an error: callers check Rejected before touching Table.
type QueryResult struct {
	RequestID string
	// Rejected is non-nil when the platform refused the request.
	Rejected *transport.RejectDetail
	// Table is the assembled result; nil when Rejected is set.
	Table *table.DataTable
	// Aggregate exposes the block-level view behind Table.
	Aggregate *assemble.Aggregate
	// Malformed lists buckets dropped during correlation.
	Malformed []*types.MalformedBucketError
}

// IsRejected reports whether the platform refused the request.
func (r *QueryResult) IsRejected() bool { return r.Rejected != nil }

// Query runs the full read pipeline for the given sources and time
// range: stream, correlate, coalesce, assemble, project. It blocks
// until the result is final or the configured query timeout expires.
func (c *Client) Query(ctx context.Context, sources []string, begin, end time.Time) (*QueryResult, error) {
	req := &transport.QueryRequest{
		RequestID: uuid.NewString(),
		Sources:   sources,
		Begin:     begin,
		End:       end,
	}
	return c.execute(ctx, req)
}

func (c *Client) execute(ctx context.Context, req *transport.QueryRequest) (*QueryResult, error) {
	if timeout, err := c.cfg.Query.Timeout.Duration(); err != nil {
		return nil, err
	} else if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	recv, err := receiver.New(receiver.Config{
		Client:     c.query,
		Request:    req,
		Mode:       c.queryMode,
		LogEnabled: c.cfg.Query.Logging.Enabled,
	})
	if err != nil {
		return nil, err
	}
	if err := recv.Start(ctx); err != nil {
		return nil, fmt.Errorf("query %s: %w", req.RequestID, err)
	}
	defer recv.ShutdownNow()

	sizeOf := func(b *types.RawBucket) int { return b.EncodedSize() }
	var buckets *buffer.Buffer[*types.RawBucket]
	if cb := c.cfg.Query.Buffer.CapacityBytes; cb > 0 {
		buckets = buffer.NewAllocBound(cb, sizeOf, c.cfg.Query.Buffer.Backpressure)
	} else {
		buckets = buffer.NewCountBound[*types.RawBucket](c.cfg.Query.Buffer.Capacity, c.cfg.Query.Buffer.Backpressure)
	}
	if err := buckets.Activate(); err != nil {
		return nil, err
	}

	corr := correlate.New(correlate.Config{
		RequestID:   req.RequestID,
		Concurrency: c.cfg.Query.Concurrency,
		LogEnabled:  c.cfg.Query.Logging.Enabled,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer buckets.Shutdown()
		for {
			resp, err := recv.TakeResponse(gctx)
			if err != nil {
				return err
			}
			if resp == nil {
				return nil
			}
			c.metrics.QueryResponse()
			if resp.Data == nil || len(resp.Data.Buckets) == 0 {
				continue
			}
			if err := buckets.Offer(gctx, resp.Data.Buckets...); err != nil {
				return err
			}
			c.metrics.SetQueueDepth(buckets.Len())
			c.metrics.SetQueueAllocation(buckets.Allocation())
		}
	})
	g.Go(func() error {
		return corr.Consume(gctx, buckets)
	})
	if err := g.Wait(); err != nil {
		buckets.ShutdownNow()
		return nil, fmt.Errorf("query %s: %w", req.RequestID, err)
	}

	if recv.IsRequestRejected() {
		return &QueryResult{RequestID: req.RequestID, Rejected: recv.RejectDetail()}, nil
	}
	if err := recv.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", req.RequestID, err)
	}

	for _, set := range corr.Sets() {
		for range set.Buckets() {
			c.metrics.BucketCorrelated()
		}
	}
	for range corr.Failures() {
		c.metrics.MalformedBucket()
	}

	blocks := assemble.CoalesceAll(corr.Sets())
	agg, err := assemble.NewAssembler(c.cfg.Query.Logging.Enabled).Assemble(blocks)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", req.RequestID, err)
	}
	c.metrics.BlocksAssembled(len(agg.Blocks()))

	return &QueryResult{
		RequestID: req.RequestID,
		Table:     table.FromAggregate(agg),
		Aggregate: agg,
		Malformed: corr.Failures(),
	}, nil
}
